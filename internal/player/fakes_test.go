package player

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// queueLoop is a Poster that runs posted functions when drained.
type queueLoop struct {
	queue []func()
}

func (l *queueLoop) post(fn func()) {
	l.queue = append(l.queue, fn)
}

func (l *queueLoop) drain() {
	for len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue = l.queue[1:]
		fn()
	}
}

type fakeTrack struct {
	codec          string
	submits        [][]byte
	pending        []func(error)
	maxOutstanding int
	rng            TimeRange
	hasRange       bool
}

type fakeSink struct {
	unsupported map[string]bool
	openErr     error
	addTrackErr error
	ready       func()
	tracks      []*fakeTrack
	position    float64
	playing     bool
	seek        float64
	opened      bool
	closed      bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{unsupported: map[string]bool{}}
}

func (s *fakeSink) Supports(codec string) bool { return !s.unsupported[codec] }

func (s *fakeSink) Open(ready func()) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.opened = true
	s.ready = ready
	return nil
}

func (s *fakeSink) signalReady() {
	s.ready()
}

func (s *fakeSink) AddTrack(codec string) (TrackHandle, error) {
	if s.addTrackErr != nil {
		return 0, s.addTrackErr
	}
	s.tracks = append(s.tracks, &fakeTrack{codec: codec})
	return TrackHandle(len(s.tracks) - 1), nil
}

func (s *fakeSink) Submit(h TrackHandle, data []byte, done func(error)) {
	t := s.tracks[h]
	t.submits = append(t.submits, data)
	t.pending = append(t.pending, done)
	t.maxOutstanding = max(t.maxOutstanding, len(t.pending))
}

// complete finishes the oldest outstanding submission on a track.
func (s *fakeSink) complete(h TrackHandle, err error) {
	t := s.tracks[h]
	done := t.pending[0]
	t.pending = t.pending[1:]
	done(err)
}

func (s *fakeSink) BufferedRange(h TrackHandle) (TimeRange, bool) {
	t := s.tracks[h]
	return t.rng, t.hasRange
}

func (s *fakeSink) setRange(h TrackHandle, start, end float64) {
	s.tracks[h].rng = TimeRange{Start: start, End: end}
	s.tracks[h].hasRange = true
}

func (s *fakeSink) IsBusy(h TrackHandle) bool { return len(s.tracks[h].pending) > 0 }
func (s *fakeSink) Position() float64        { return s.position }
func (s *fakeSink) Playing() bool            { return s.playing }
func (s *fakeSink) Seek(seconds float64)     { s.seek = seconds; s.position = seconds }
func (s *fakeSink) Close()                   { s.closed = true }

// staticView is a BufferView with fixed values.
type staticView struct {
	video, audio       float64
	hasVideo, hasAudio bool
	position           float64
}

func (v staticView) BufferedEnd(track Track) (float64, bool) {
	if track == TrackVideo {
		return v.video, v.hasVideo
	}
	return v.audio, v.hasAudio
}

func (v staticView) Position() float64 { return v.position }

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	target := c.now.Add(d)
	for {
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		c.now = next.at
		next.fired = true
		next.f()
	}
	c.now = target
}

var errClosed = errors.New("use of closed connection")

type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	closed   chan struct{}
	once     sync.Once
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	<-c.closed
	return nil, errClosed
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// sent returns the decoded client messages of the given type.
func (c *fakeConn) sent(kind string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, data := range c.written {
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			continue
		}
		if obj["type"] == kind {
			out = append(out, obj)
		}
	}
	return out
}

type fakeDialer struct {
	err   error
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(context.Context) (Conn, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
