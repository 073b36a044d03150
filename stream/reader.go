package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/phasorstreams/errors"
)

// Subscriber is satisfied by *natsclient.Client.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// ReaderStats counts Reader activity.
type ReaderStats struct {
	Batches      int64 `json:"batches"`
	Measurements int64 `json:"measurements"`
	Invalid      int64 `json:"invalid"`
	// Gaps counts batches skipped according to per-source sequence numbers
	Gaps int64 `json:"gaps"`
}

// Reader decodes batches from every source under a subject prefix.
type Reader struct {
	prefix  string
	handler func(Batch)
	logger  *slog.Logger

	mu   sync.Mutex
	last map[string]uint64

	batches      atomic.Int64
	measurements atomic.Int64
	invalid      atomic.Int64
	gaps         atomic.Int64
}

// NewReader creates a Reader that passes each decoded batch to handler.
func NewReader(prefix string, handler func(Batch), logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		prefix:  normalizePrefix(prefix),
		handler: handler,
		logger:  logger.With("component", "stream-reader"),
		last:    make(map[string]uint64),
	}
}

// Subject is the wildcard subject the Reader consumes.
func (r *Reader) Subject() string {
	return WildcardSubject(r.prefix)
}

// Subscribe registers the Reader with sub.
func (r *Reader) Subscribe(ctx context.Context, sub Subscriber) error {
	if err := sub.Subscribe(ctx, r.Subject(), r.Handle); err != nil {
		return errors.WrapTransient(err, "Reader", "Subscribe", "subscribe "+r.Subject())
	}
	r.logger.Info("Subscribed to measurement stream", "subject", r.Subject())
	return nil
}

// Handle decodes one message. It is the subscription callback.
func (r *Reader) Handle(_ context.Context, data []byte) {
	b, err := Decode(data)
	if err != nil {
		r.invalid.Add(1)
		r.logger.Warn("Discarded invalid measurement batch", "error", err)
		return
	}

	r.mu.Lock()
	prev, seen := r.last[b.Source]
	if b.Sequence > prev {
		if seen && b.Sequence > prev+1 {
			r.gaps.Add(int64(b.Sequence - prev - 1))
		}
		r.last[b.Source] = b.Sequence
	} else if b.Sequence < prev && b.Sequence == 1 {
		// Source restarted.
		r.last[b.Source] = b.Sequence
	}
	r.mu.Unlock()

	r.batches.Add(1)
	r.measurements.Add(int64(len(b.Measurements)))
	if r.handler != nil {
		r.handler(b)
	}
}

// Stats returns a snapshot of the counters.
func (r *Reader) Stats() ReaderStats {
	return ReaderStats{
		Batches:      r.batches.Load(),
		Measurements: r.measurements.Load(),
		Invalid:      r.invalid.Load(),
		Gaps:         r.gaps.Load(),
	}
}
