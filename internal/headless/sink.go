// Package headless provides a player.Sink that parses fMP4 segments and
// simulates playback without decoding or rendering anything.
package headless

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/tvstream/internal/player"
	"github.com/jmylchreest/tvstream/internal/segment"
)

// StallOvershoot is how far the playhead may run past the buffered end
// before playback stalls, mirroring an audio clock draining its last frames.
const StallOvershoot = 0.05

var (
	// ErrClosed is returned when the sink is used after Close.
	ErrClosed = errors.New("sink closed")
	// ErrNoInit is returned when media arrives before any init segment.
	ErrNoInit = errors.New("media segment before init segment")
)

// Config controls the simulated decoder.
type Config struct {
	// DecodeDelay is how long each submission keeps a track busy.
	DecodeDelay time.Duration
	// StartThreshold is the media, in seconds, that must be buffered ahead of
	// the playhead before playback starts or resumes.
	StartThreshold float64
}

// DefaultConfig returns the default sink configuration.
func DefaultConfig() Config {
	return Config{
		DecodeDelay:    5 * time.Millisecond,
		StartThreshold: 0,
	}
}

// Option configures a Sink.
type Option func(*Sink)

// WithNow overrides the wall clock used by the playback simulation.
func WithNow(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithAfterFunc overrides how decode completion is scheduled.
func WithAfterFunc(after func(time.Duration, func())) Option {
	return func(s *Sink) { s.after = after }
}

type track struct {
	codec    string
	video    bool
	info     segment.Track
	haveInit bool
	buffered player.TimeRange
	has      bool
	busy     bool
	bytes    int64
	segments int
}

// Sink is a player.Sink backed by an fMP4 parser and a simulated playhead.
type Sink struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	after  func(time.Duration, func())

	opened bool
	closed bool
	tracks []*track

	position float64
	anchor   time.Time
	playing  bool
	stalls   int
}

var _ player.Sink = (*Sink)(nil)

// New creates a headless sink.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Sink {
	s := &Sink{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		after: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Supports accepts MP4-wrapped video and audio.
func (s *Sink) Supports(codec string) bool {
	return strings.HasPrefix(codec, "video/mp4") || strings.HasPrefix(codec, "audio/mp4")
}

// Open allocates the sink and signals readiness asynchronously.
func (s *Sink) Open(ready func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.opened {
		return errors.New("sink already open")
	}
	s.opened = true
	go ready()
	return nil
}

// AddTrack allocates a buffer for one track.
func (s *Sink) AddTrack(codec string) (player.TrackHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return 0, ErrClosed
	case !s.opened:
		return 0, errors.New("sink not open")
	case !s.Supports(codec):
		return 0, fmt.Errorf("unsupported codec %q", codec)
	}
	s.tracks = append(s.tracks, &track{codec: codec, video: strings.HasPrefix(codec, "video/")})
	return player.TrackHandle(len(s.tracks) - 1), nil
}

// Submit parses data after the decode delay and reports the outcome.
func (s *Sink) Submit(h player.TrackHandle, data []byte, done func(error)) {
	s.mu.Lock()
	t, err := s.track(h)
	if err == nil && t.busy {
		err = fmt.Errorf("track %d busy", h)
	}
	if err != nil {
		s.mu.Unlock()
		done(err)
		return
	}
	t.busy = true
	s.mu.Unlock()

	s.after(s.cfg.DecodeDelay, func() {
		s.mu.Lock()
		var err error
		if s.closed {
			err = ErrClosed
		} else {
			err = s.apply(t, data)
			t.busy = false
		}
		s.mu.Unlock()
		done(err)
	})
}

func (s *Sink) track(h player.TrackHandle) (*track, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if int(h) < 0 || int(h) >= len(s.tracks) {
		return nil, fmt.Errorf("unknown track %d", h)
	}
	return s.tracks[h], nil
}

// apply must be called with mu held.
func (s *Sink) apply(t *track, data []byte) error {
	initData, media, err := segment.Split(data)
	if err != nil {
		return err
	}

	if len(initData) > 0 {
		info, err := segment.ParseInit(initData)
		if err != nil {
			return err
		}
		if info.Video != t.video {
			return fmt.Errorf("%w: init kind does not match track %s", segment.ErrMalformed, t.codec)
		}
		t.info = info
		t.haveInit = true
	}
	if len(media) == 0 {
		return nil
	}
	if !t.haveInit {
		return ErrNoInit
	}

	span, err := segment.ParseMedia(media, t.info.ID)
	if err != nil {
		return err
	}
	ts := float64(t.info.TimeScale)
	r := player.TimeRange{Start: float64(span.Start) / ts, End: float64(span.End) / ts}
	s.extend(t, r)
	t.bytes += int64(len(data))
	t.segments++
	return nil
}

// extend merges r into the track's buffered range. A discontiguous segment
// starts a new range.
func (s *Sink) extend(t *track, r player.TimeRange) {
	const gap = 0.001
	if t.has && r.Start <= t.buffered.End+gap && r.End >= t.buffered.Start-gap {
		t.buffered.Start = min(t.buffered.Start, r.Start)
		t.buffered.End = max(t.buffered.End, r.End)
		return
	}
	if t.has {
		s.logger.Debug("discontiguous segment",
			slog.String("codec", t.codec),
			slog.Float64("buffered_end", t.buffered.End),
			slog.Float64("segment_start", r.Start))
	}
	t.buffered = r
	t.has = true
}

// BufferedRange returns the buffered interval of a track.
func (s *Sink) BufferedRange(h player.TrackHandle) (player.TimeRange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.track(h)
	if err != nil || !t.has {
		return player.TimeRange{}, false
	}
	return t.buffered, true
}

// IsBusy reports whether a submission is still being decoded.
func (s *Sink) IsBusy(h player.TrackHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.track(h)
	return err == nil && t.busy
}

// Position returns the simulated playhead.
func (s *Sink) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.position
}

// Playing reports whether the playhead is moving.
func (s *Sink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.playing
}

// Seek moves the playhead.
func (s *Sink) Seek(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = seconds
	s.anchor = s.now()
	s.advance()
}

// Stalls returns how many times playback ran out of media.
func (s *Sink) Stalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stalls
}

// Close releases the sink. Pending submissions complete with ErrClosed.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.playing = false
}

// buffered returns the interval buffered on every track.
func (s *Sink) buffered() (player.TimeRange, bool) {
	if len(s.tracks) == 0 {
		return player.TimeRange{}, false
	}
	var r player.TimeRange
	for i, t := range s.tracks {
		if !t.has {
			return player.TimeRange{}, false
		}
		if i == 0 {
			r = t.buffered
			continue
		}
		r.Start = max(r.Start, t.buffered.Start)
		r.End = min(r.End, t.buffered.End)
	}
	return r, true
}

// advance moves the playhead to now and applies the stall and autoplay
// rules. Must be called with mu held.
func (s *Sink) advance() {
	now := s.now()
	if s.closed {
		return
	}
	r, ok := s.buffered()
	end := r.End

	if s.playing {
		s.position += now.Sub(s.anchor).Seconds()
		s.anchor = now
		if !ok || s.position >= end {
			if ok {
				s.position = min(s.position, end+StallOvershoot)
			}
			s.playing = false
			s.stalls++
			s.logger.Debug("playback stalled", slog.Float64("position", s.position))
		}
		return
	}

	if ok && s.position >= r.Start-0.001 && end-s.position > s.cfg.StartThreshold {
		s.playing = true
		s.anchor = now
	}
}
