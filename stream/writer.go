package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/measurement"
	"github.com/c360/phasorstreams/metric"
	"github.com/c360/phasorstreams/pkg/buffer"
)

// DefaultQueueSize is the number of batches a Writer holds before dropping the oldest.
const DefaultQueueSize = 1024

// Publisher is satisfied by *natsclient.Client.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// WriterDeps holds the Writer dependencies.
type WriterDeps struct {
	Publisher       Publisher
	SubjectPrefix   string
	QueueSize       int
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger
}

// WriterStats counts Writer activity.
type WriterStats struct {
	Queued    int64 `json:"queued"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
	Capacity  int   `json:"capacity"`
}

// Writer queues batches from frame handlers and publishes them in the background,
// so a slow NATS connection never stalls protocol parsing.
type Writer struct {
	publisher Publisher
	prefix    string
	queue     *buffer.Buffer[Batch]
	logger    *slog.Logger

	seqMu     sync.Mutex
	sequences map[string]uint64

	published atomic.Int64
	failed    atomic.Int64

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWriter creates a stopped Writer.
func NewWriter(deps WriterDeps) (*Writer, error) {
	if deps.Publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Writer", "NewWriter", "publisher check")
	}
	if deps.QueueSize <= 0 {
		deps.QueueSize = DefaultQueueSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		publisher: deps.Publisher,
		prefix:    normalizePrefix(deps.SubjectPrefix),
		logger:    logger.With("component", "stream-writer"),
		sequences: make(map[string]uint64),
	}
	w.queue = buffer.New[Batch](deps.QueueSize,
		buffer.WithOverflowPolicy[Batch](buffer.DropOldest),
		buffer.WithMetrics[Batch](deps.MetricsRegistry, "stream_writer"),
		buffer.WithDropCallback(func(b Batch) {
			w.logger.Debug("Measurement batch dropped", "source", b.Source, "sequence", b.Sequence)
		}))
	return w, nil
}

// Write queues the measurements of one frame from source. Empty input is ignored.
func (w *Writer) Write(source string, measurements []measurement.Measurement) error {
	if len(measurements) == 0 {
		return nil
	}
	w.seqMu.Lock()
	w.sequences[source]++
	seq := w.sequences[source]
	w.seqMu.Unlock()

	return w.queue.Write(Batch{Source: source, Sequence: seq, Measurements: measurements})
}

// Start launches the publishing loop.
func (w *Writer) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Writer", "Start", "state check")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx)
	return nil
}

// Stop halts the loop, publishes what is still queued and closes the queue.
// A stopped Writer rejects further writes.
func (w *Writer) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	w.cancel()
	<-w.done
	w.flush(context.Background())
	w.queue.Close()
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.queue.Ready():
			w.flush(ctx)
		}
	}
}

func (w *Writer) flush(ctx context.Context) {
	for {
		batches := w.queue.ReadBatch(64)
		if len(batches) == 0 {
			return
		}
		for _, b := range batches {
			w.publish(ctx, b)
		}
	}
}

func (w *Writer) publish(ctx context.Context, b Batch) {
	data, err := Encode(b)
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("Failed to encode measurement batch", "source", b.Source, "error", err)
		return
	}
	if err := w.publisher.Publish(ctx, Subject(w.prefix, b.Source), data); err != nil {
		if w.failed.Add(1) == 1 {
			w.logger.Warn("Failed to publish measurement batch", "source", b.Source, "error", err)
		}
		return
	}
	w.published.Add(1)
}

// Stats returns a snapshot of the counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Queued:    w.queue.Written(),
		Published: w.published.Load(),
		Dropped:   w.queue.Dropped(),
		Failed:    w.failed.Load(),
		Pending:   w.queue.Len(),
		Capacity:  w.queue.Capacity(),
	}
}
