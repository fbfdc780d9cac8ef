package player

import (
	"fmt"
	"log/slog"
)

// Poster schedules a function on the session event loop.
type Poster func(fn func())

type queuedChunk struct {
	chunk     *Chunk
	onApplied func()
}

// TrackBuffer feeds completed chunks for one track into the sink, keeping at
// most one submission outstanding.
type TrackBuffer struct {
	track  Track
	codec  string
	sink   Sink
	handle TrackHandle
	post   Poster
	logger *slog.Logger

	attached    bool
	closed      bool
	outstanding bool
	seq         uint64
	queue       []queuedChunk

	// onError is called on the event loop when the sink rejects a submission.
	onError func(error)

	submitted int
	applied   int
}

// NewTrackBuffer creates an unattached track buffer.
func NewTrackBuffer(track Track, codec string, sink Sink, post Poster, logger *slog.Logger, onError func(error)) *TrackBuffer {
	return &TrackBuffer{
		track:   track,
		codec:   codec,
		sink:    sink,
		post:    post,
		logger:  logger.With(slog.String("track", track.String())),
		onError: onError,
	}
}

// Attach binds the buffer to its sink track and starts draining the queue.
func (b *TrackBuffer) Attach(h TrackHandle) {
	if b.closed {
		return
	}
	b.handle = h
	b.attached = true
	b.pump()
}

// Handle returns the sink track handle, if attached.
func (b *TrackBuffer) Handle() (TrackHandle, bool) {
	return b.handle, b.attached
}

// Enqueue queues a completed chunk. onApplied runs once the sink has
// incorporated it.
func (b *TrackBuffer) Enqueue(chunk *Chunk, onApplied func()) {
	if b.closed {
		return
	}
	b.queue = append(b.queue, queuedChunk{chunk: chunk, onApplied: onApplied})
	b.pump()
}

// Len returns the number of chunks waiting to be submitted.
func (b *TrackBuffer) Len() int {
	return len(b.queue)
}

// Outstanding reports whether a submission is in flight.
func (b *TrackBuffer) Outstanding() bool {
	return b.outstanding
}

func (b *TrackBuffer) pump() {
	if b.closed || !b.attached || b.outstanding || len(b.queue) == 0 {
		return
	}

	head := b.queue[0]
	b.queue[0] = queuedChunk{}
	b.queue = b.queue[1:]

	b.outstanding = true
	b.seq++
	seq := b.seq
	b.submitted++
	b.sink.Submit(b.handle, head.chunk.Data, func(err error) {
		b.post(func() { b.finish(seq, head, err) })
	})
}

func (b *TrackBuffer) finish(seq uint64, item queuedChunk, err error) {
	if b.closed || seq != b.seq {
		return
	}
	b.outstanding = false

	if err != nil {
		b.logger.Warn("sink rejected chunk",
			slog.Uint64("timestamp", item.chunk.Metadata.Timestamp),
			slog.String("error", err.Error()))
		b.onError(fmt.Errorf("%w: %s chunk at %d: %w", ErrSinkRejection, b.track, item.chunk.Metadata.Timestamp, err))
		return
	}

	b.applied++
	if item.onApplied != nil {
		item.onApplied()
	}
	b.pump()
}

// Close discards queued chunks. Completions of in-flight submissions are ignored.
func (b *TrackBuffer) Close() {
	b.closed = true
	b.queue = nil
	b.outstanding = false
}
