package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// RecorderConfig controls the asynchronous event writer.
type RecorderConfig struct {
	// QueueSize bounds the events waiting to be written. Events recorded while
	// the queue is full are dropped.
	QueueSize int
	// BatchSize is the maximum number of events written at once.
	BatchSize int
	// FlushInterval is how long a partial batch may wait before being written.
	FlushInterval time.Duration
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		QueueSize:     1024,
		BatchSize:     64,
		FlushInterval: time.Second,
	}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithDropHook registers a function called for every dropped event.
func WithDropHook(fn func()) RecorderOption {
	return func(r *Recorder) { r.onDrop = fn }
}

// Recorder writes client events to a Repository in the background so the
// media server never blocks on the database.
type Recorder struct {
	repo    Repository
	cfg     RecorderConfig
	logger  *slog.Logger
	queue   chan *ClientEvent
	dropped atomic.Int64
	written atomic.Int64
	onDrop  func()
}

// NewRecorder creates a recorder. Call Run to start writing.
func NewRecorder(repo Repository, cfg RecorderConfig, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	def := DefaultRecorderConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	r := &Recorder{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan *ClientEvent, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record queues an event without blocking. It reports false if the event
// was dropped.
func (r *Recorder) Record(event ClientEvent) bool {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	select {
	case r.queue <- &event:
		return true
	default:
		r.dropped.Add(1)
		if r.onDrop != nil {
			r.onDrop()
		}
		return false
	}
}

// Dropped returns the number of events dropped because the queue was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Written returns the number of events stored.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Run writes queued events until ctx is cancelled, then flushes what is
// left in the queue.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*ClientEvent, 0, r.cfg.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.repo.CreateBatch(ctx, batch); err != nil {
			r.logger.Error("failed to write client events",
				slog.Int("count", len(batch)),
				slog.String("error", err.Error()))
		} else {
			r.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case ev := <-r.queue:
					batch = append(batch, ev)
					if len(batch) >= r.cfg.BatchSize {
						flush(drainCtx)
					}
				default:
					flush(drainCtx)
					return ctx.Err()
				}
			}
		case ev := <-r.queue:
			batch = append(batch, ev)
			if len(batch) >= r.cfg.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
