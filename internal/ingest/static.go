package ingest

import "context"

// StaticSource replays payloads pushed onto a channel: a deterministic
// feed that needs no broker.
type StaticSource struct {
	name    string
	payload chan []byte
}

// NewStaticSource creates a channel-backed Source for source system name.
// Feed payloads to the returned Source with Push; after Close, Run
// handles whatever is still buffered and then returns nil, without
// waiting for ctx to be canceled.
func NewStaticSource(name string) *StaticSource {
	return &StaticSource{name: name, payload: make(chan []byte, 64)}
}

func (s *StaticSource) Name() string { return s.name }

// Push enqueues a raw payload. Safe to call concurrently with Run.
func (s *StaticSource) Push(payload []byte) { s.payload <- payload }

// Close signals no more payloads will be pushed.
func (s *StaticSource) Close() { close(s.payload) }

func (s *StaticSource) Run(ctx context.Context, handle func(payload []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-s.payload:
			if !ok {
				return nil
			}
			handle(p)
		}
	}
}
