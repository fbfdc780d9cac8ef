package player

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/jmylchreest/tvstream/internal/wire"
)

// SourceState represents the lifecycle state of an AVSource.
type SourceState int

const (
	// StateUninitialized means no sink has been allocated yet.
	StateUninitialized SourceState = iota
	// StateOpening means the sink is allocated but not ready for tracks.
	StateOpening
	// StateOpen means both tracks are attached and draining into the sink.
	StateOpen
	// StateClosed is terminal; a new AVSource is needed to continue.
	StateClosed
)

// String returns the string representation of the source state.
func (s SourceState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AckFunc is called once a chunk has been incorporated by the sink.
type AckFunc func(track Track, chunk *Chunk)

// AVSource binds one server-init descriptor to a sink and its two tracks.
type AVSource struct {
	init   wire.ServerInit
	initID int
	state  SourceState
	sink   Sink
	post   Poster
	logger *slog.Logger

	video      *TrackBuffer
	audio      *TrackBuffer
	videoReasm Reassembler
	audioReasm Reassembler

	nextVideoTS uint64
	nextAudioTS uint64

	videoQuality string
	videoBitrate float64 // kbps
	ssim         *float64
	chunks       [2]int

	onFailure func(error)
}

// NewAVSource creates an uninitialized source for init. onFailure is called
// on the event loop if the sink fails after Open returned.
func NewAVSource(init wire.ServerInit, sink Sink, post Poster, logger *slog.Logger, onFailure func(error)) *AVSource {
	s := &AVSource{
		init:        init,
		initID:      init.InitID,
		sink:        sink,
		post:        post,
		logger:      logger.With(slog.String("channel", init.Channel)),
		nextVideoTS: init.InitVideoTimestamp,
		nextAudioTS: init.InitAudioTimestamp,
		onFailure:   onFailure,
	}
	s.video = NewTrackBuffer(TrackVideo, init.VideoCodec, sink, post, s.logger, s.fail)
	s.audio = NewTrackBuffer(TrackAudio, init.AudioCodec, sink, post, s.logger, s.fail)
	return s
}

// Open allocates the sink and moves the source to OPENING.
func (s *AVSource) Open() error {
	if s.state != StateUninitialized {
		return fmt.Errorf("opening source in state %s", s.state)
	}
	for _, codec := range []string{s.init.VideoCodec, s.init.AudioCodec} {
		if !s.sink.Supports(codec) {
			s.Close()
			return fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
		}
	}

	s.state = StateOpening
	if err := s.sink.Open(func() { s.post(s.onReady) }); err != nil {
		s.Close()
		return fmt.Errorf("opening sink: %w", err)
	}
	return nil
}

func (s *AVSource) onReady() {
	if s.state != StateOpening {
		return
	}

	vh, err := s.sink.AddTrack(s.init.VideoCodec)
	if err != nil {
		s.fail(fmt.Errorf("adding video track: %w", err))
		return
	}
	ah, err := s.sink.AddTrack(s.init.AudioCodec)
	if err != nil {
		s.fail(fmt.Errorf("adding audio track: %w", err))
		return
	}

	s.sink.Seek(s.SeekStart())
	s.state = StateOpen
	s.logger.Debug("source open", slog.Float64("seek", s.SeekStart()))
	s.video.Attach(vh)
	s.audio.Attach(ah)
}

// SeekStart is the playback position matching the init timestamps.
func (s *AVSource) SeekStart() float64 {
	ts := max(s.init.InitVideoTimestamp, s.init.InitAudioTimestamp)
	return float64(ts) / float64(s.init.Timescale)
}

// HandleMedia feeds one fragment into the track's reassembler. Completed
// chunks are queued for the sink and ack is invoked when the sink has
// incorporated them.
func (s *AVSource) HandleMedia(track Track, md wire.Metadata, payload []byte, ack AckFunc) error {
	if s.state == StateClosed {
		return nil
	}
	if md.Channel != s.init.Channel {
		return fmt.Errorf("%w: got %q, playing %q", ErrChannelMismatch, md.Channel, s.init.Channel)
	}

	reasm, buf := &s.videoReasm, s.video
	if track == TrackAudio {
		reasm, buf = &s.audioReasm, s.audio
	}

	chunk, err := reasm.OnFragment(payload, md)
	if err != nil || chunk == nil {
		return err
	}

	duration := md.Duration
	if duration == 0 {
		duration = s.nominalDuration(track)
	}
	if track == TrackVideo {
		s.nextVideoTS = md.Timestamp + duration
		s.videoQuality = md.Label()
		s.ssim = md.SSIM
		if duration > 0 && s.init.Timescale > 0 {
			seconds := float64(duration) / float64(s.init.Timescale)
			s.videoBitrate = 0.001 * 8 * float64(md.TotalByteLength) / seconds
		}
	} else {
		s.nextAudioTS = md.Timestamp + duration
	}
	s.chunks[track]++

	buf.Enqueue(chunk, func() { ack(track, chunk) })
	return nil
}

func (s *AVSource) nominalDuration(track Track) uint64 {
	if track == TrackVideo {
		return s.init.VideoDuration
	}
	return s.init.AudioDuration
}

// CanResume reports whether this source can continue under a new init
// without reallocating the sink.
func (s *AVSource) CanResume(init wire.ServerInit) bool {
	return s.state == StateOpen &&
		init.CanResume &&
		init.Channel == s.init.Channel &&
		init.VideoCodec == s.init.VideoCodec &&
		init.AudioCodec == s.init.AudioCodec &&
		init.Timescale == s.init.Timescale &&
		init.InitVideoTimestamp == s.nextVideoTS &&
		init.InitAudioTimestamp == s.nextAudioTS
}

// Resume keeps the source under a new init-id. Partial chunks from the
// previous connection are discarded.
func (s *AVSource) Resume(initID int) {
	s.initID = initID
	s.videoReasm.Reset()
	s.audioReasm.Reset()
}

// Close moves the source to CLOSED, discarding all queued state.
func (s *AVSource) Close() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.video.Close()
	s.audio.Close()
	s.videoReasm.Reset()
	s.audioReasm.Reset()
	s.sink.Close()
}

func (s *AVSource) fail(err error) {
	if s.state == StateClosed {
		return
	}
	s.Close()
	if s.onFailure != nil {
		s.onFailure(err)
	}
}

// State returns the lifecycle state.
func (s *AVSource) State() SourceState { return s.state }

// Channel returns the channel this source plays.
func (s *AVSource) Channel() string { return s.init.Channel }

// InitID returns the init-id the source currently belongs to.
func (s *AVSource) InitID() int { return s.initID }

// NextTimestamps returns the next expected video and audio timestamps.
func (s *AVSource) NextTimestamps() (video, audio uint64) {
	return s.nextVideoTS, s.nextAudioTS
}

// Position returns the sink playback position in seconds.
func (s *AVSource) Position() float64 {
	return s.sink.Position()
}

// Playing reports whether the sink is consuming media.
func (s *AVSource) Playing() bool {
	return s.state == StateOpen && s.sink.Playing()
}

// BufferedEnd returns the end of the buffered range of a track.
func (s *AVSource) BufferedEnd(track Track) (float64, bool) {
	if s.state != StateOpen {
		return 0, false
	}
	buf := s.video
	if track == TrackAudio {
		buf = s.audio
	}
	h, ok := buf.Handle()
	if !ok {
		return 0, false
	}
	r, ok := s.sink.BufferedRange(h)
	if !ok {
		return 0, false
	}
	return r.End, true
}

// BufferLength returns how many seconds of a track are buffered ahead of the
// playback position, rounded to milliseconds.
func (s *AVSource) BufferLength(track Track) float64 {
	end, ok := s.BufferedEnd(track)
	if !ok {
		return 0
	}
	ahead := end - s.Position()
	if ahead < 0 {
		return 0
	}
	return math.Round(ahead*1000) / 1000
}

// VideoQuality returns the label, bitrate in kbps and ssim of the last
// completed video chunk.
func (s *AVSource) VideoQuality() (label string, kbps float64, ssim *float64) {
	return s.videoQuality, s.videoBitrate, s.ssim
}

// Chunks returns the number of completed chunks for a track.
func (s *AVSource) Chunks(track Track) int {
	return s.chunks[track]
}
