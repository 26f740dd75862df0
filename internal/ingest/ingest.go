// Package ingest adapts external transaction feeds into model.TransactionView
// values and hands them to the engine. Each Source owns one delivery
// mechanism (Kafka topic, static fixture, ...); the Ingester that drives
// it is mechanism-agnostic.
package ingest

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/reconlabs/txreconcile/internal/model"
)

// Submitter is the subset of the engine an Ingester needs: handing off a
// decoded view for grouping and reconciliation.
type Submitter interface {
	Submit(ctx context.Context, view model.TransactionView)
}

// Source abstracts one upstream transaction feed. Run blocks, delivering
// raw payloads to handle until ctx is canceled or an unrecoverable error
// occurs.
type Source interface {
	// Name identifies the source system (e.g. "core", "gateway", "mobile").
	Name() string
	Run(ctx context.Context, handle func(payload []byte)) error
}

// Ingester drives a single Source: decodes each payload with
// model.DecodeView and forwards well-formed views to the engine. Malformed
// payloads are logged and dropped — a single bad message must never stall
// the feed.
type Ingester struct {
	source       Source
	submitter    Submitter
	homeCurrency string
	logger       zerolog.Logger
}

// NewIngester wires a Source to the engine.
func NewIngester(source Source, submitter Submitter, homeCurrency string, logger zerolog.Logger) *Ingester {
	return &Ingester{
		source:       source,
		submitter:    submitter,
		homeCurrency: homeCurrency,
		logger:       logger.With().Str("component", "ingester").Str("source", source.Name()).Logger(),
	}
}

// Run blocks driving the underlying Source until ctx is canceled.
func (in *Ingester) Run(ctx context.Context) error {
	in.logger.Info().Msg("ingester starting")
	err := in.source.Run(ctx, func(payload []byte) {
		view, decodeErr := model.DecodeView(payload, in.homeCurrency)
		if decodeErr != nil {
			in.logger.Warn().Err(decodeErr).Bytes("payload", payload).Msg("dropping malformed payload")
			return
		}
		in.submitter.Submit(ctx, view)
	})
	if err != nil && ctx.Err() == nil {
		in.logger.Error().Err(err).Msg("ingester exited with error")
	}
	return err
}
