package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSource consumes one source system's topic, named "<source>_txns"
// after the per-source topics used by the original consumers
// (original_source/Reconciliation-Engine/backend/app/consumers/real_kafka_consumer.py:
// core_txns, gateway_txns, mobile_txns).
type KafkaSource struct {
	name    string
	brokers []string
	groupID string
	logger  zerolog.Logger
}

// NewKafkaSource builds a Source for one transaction source system.
func NewKafkaSource(name string, brokers []string, groupID string, logger zerolog.Logger) *KafkaSource {
	return &KafkaSource{
		name:    name,
		brokers: brokers,
		groupID: groupID,
		logger:  logger.With().Str("source", name).Logger(),
	}
}

func (k *KafkaSource) Name() string { return k.name }

func (k *KafkaSource) topic() string { return k.name + "_txns" }

// Run connects and polls until ctx is canceled, reconnecting with
// exponential backoff (github.com/cenkalti/backoff/v4) on connection
// failure. Backoff governs only the reconnect loop — it never sits in the
// engine's compare-and-persist path.
func (k *KafkaSource) Run(ctx context.Context, handle func(payload []byte)) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry indefinitely until ctx is canceled

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := k.consume(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := bo.NextBackOff()
		k.logger.Warn().Err(err).Dur("retry_in", wait).Msg("kafka consumer disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (k *KafkaSource) consume(ctx context.Context, handle func(payload []byte)) error {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(k.brokers...),
		kgo.ConsumerGroup(k.groupID),
		kgo.ConsumeTopics(k.topic()),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return fmt.Errorf("create kafka client for %s: %w", k.topic(), err)
	}
	defer cl.Close()

	for {
		fetches := cl.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return fmt.Errorf("fetch error on %s: %w", k.topic(), errs[0].Err)
		}

		fetches.EachRecord(func(r *kgo.Record) {
			handle(r.Value)
		})
	}
}
