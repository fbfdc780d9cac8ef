package player

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/tvstream/internal/wire"
)

// Identity is the client description sent in client-init.
type Identity struct {
	SessionKey   string `masq:"secret"`
	UserName     string
	OS           string
	Browser      string
	ScreenWidth  int
	ScreenHeight int
}

// SendFunc sends a client message of the given kind. Messages are dropped
// while no connection is open.
type SendFunc func(kind string, fields any)

// SinkFactory allocates a new sink for each AV source.
type SinkFactory func() Sink

// Session is the logical viewing session: init handshake, resumption,
// acknowledgments and telemetry for the active AV source.
type Session struct {
	identity Identity
	newSink  SinkFactory
	send     SendFunc
	post     Poster
	notices  Notifier
	now      func() time.Time
	logger   *slog.Logger

	initID     int
	channel    string
	channelErr error
	fatal      bool
	fatalErr   error

	av      *AVSource
	monitor Monitor

	counters SessionCounters
}

// SessionCounters counts notable session events.
type SessionCounters struct {
	AcksSent           int
	InfosSent          int
	ProtocolViolations int
	ChannelMismatches  int
	SinkRejections     int
	Reinits            int
	Resumes            int
}

// NewSession creates a session. No AV source exists until a server-init arrives.
func NewSession(identity Identity, newSink SinkFactory, send SendFunc, post Poster, notices Notifier, now func() time.Time, logger *slog.Logger) *Session {
	return &Session{
		identity: identity,
		newSink:  newSink,
		send:     send,
		post:     post,
		notices:  notices,
		now:      now,
		logger:   logger,
	}
}

// InitID returns the current init-id.
func (s *Session) InitID() int { return s.initID }

// Channel returns the channel most recently requested.
func (s *Session) Channel() string { return s.channel }

// Fatal reports whether the session hit an unrecoverable error.
func (s *Session) Fatal() bool { return s.fatal }

// Err returns the fatal error, if any.
func (s *Session) Err() error { return s.fatalErr }

// Source returns the active AV source, or nil.
func (s *Session) Source() *AVSource { return s.av }

// ActiveChannel returns the channel of the live AV source, falling back to
// the requested channel.
func (s *Session) ActiveChannel() string {
	if s.av != nil && s.av.State() != StateClosed {
		return s.av.Channel()
	}
	return s.channel
}

// ClientInit starts a new init for channel and returns the client-init to
// send. The init-id is incremented so that messages for earlier inits are
// discarded. Resume timestamps are included when the live source plays the
// same channel.
func (s *Session) ClientInit(channel string) wire.ClientInit {
	s.initID++
	s.channel = channel

	ci := wire.ClientInit{
		InitID:       s.initID,
		SessionKey:   s.identity.SessionKey,
		UserName:     s.identity.UserName,
		Channel:      channel,
		OS:           s.identity.OS,
		Browser:      s.identity.Browser,
		ScreenWidth:  s.identity.ScreenWidth,
		ScreenHeight: s.identity.ScreenHeight,
	}
	if s.av != nil && s.av.State() != StateClosed && s.av.Channel() == channel {
		vts, ats := s.av.NextTimestamps()
		ci.NextVTS = &vts
		ci.NextATS = &ats
	}
	return ci
}

// ChannelErr returns the last recoverable server error for the current
// channel (wrapping ErrChannelUnavailable or ErrChannelReinitRequired). It is
// cleared by the next server-init or a channel switch.
func (s *Session) ChannelErr() error { return s.channelErr }

// suppressTelemetry reports whether the server declared the channel
// unavailable. A pending reinit still reports.
func (s *Session) suppressTelemetry() bool {
	return errors.Is(s.channelErr, ErrChannelUnavailable)
}

// SetChannel drops the current source and returns the client-init for channel.
func (s *Session) SetChannel(channel string) wire.ClientInit {
	s.closeSource()
	s.channelErr = nil
	s.notices.Clear(NoticeChannel)
	return s.ClientInit(channel)
}

// HandleMessage dispatches a server message whose init-id has been checked.
func (s *Session) HandleMessage(msg *wire.ServerMessage) {
	if s.fatal {
		return
	}
	md := msg.Metadata
	switch md.Type {
	case wire.TypeServerInit:
		s.handleInit(md.Init())
	case wire.TypeServerVideo:
		s.handleMedia(TrackVideo, md, msg.Payload)
	case wire.TypeServerAudio:
		s.handleMedia(TrackAudio, md, msg.Payload)
	case wire.TypeServerError:
		s.handleError(md)
	default:
		s.logger.Warn("unknown server message type", slog.String("type", md.Type))
	}
}

func (s *Session) handleInit(init wire.ServerInit) {
	s.channelErr = nil
	s.notices.Clear(NoticeChannel)

	if s.av != nil && s.av.CanResume(init) {
		s.av.Resume(init.InitID)
		s.counters.Resumes++
		s.logger.Info("resumed source", slog.String("channel", init.Channel), slog.Int("init_id", init.InitID))
		return
	}

	s.closeSource()
	s.av = NewAVSource(init, s.newSink(), s.post, s.logger, s.onSourceFailure)
	s.monitor.Activate(s.now())
	if err := s.av.Open(); err != nil {
		if errors.Is(err, ErrUnsupportedCodec) {
			s.fail(err)
			return
		}
		s.logger.Error("failed to open source", slog.String("error", err.Error()))
		s.requestReinit()
		return
	}
	s.logger.Info("new source",
		slog.String("channel", init.Channel),
		slog.String("video_codec", init.VideoCodec),
		slog.String("audio_codec", init.AudioCodec),
		slog.Int("init_id", init.InitID),
		slog.Bool("can_resume", init.CanResume))
}

func (s *Session) handleMedia(track Track, md wire.Metadata, payload []byte) {
	if s.av == nil {
		s.logger.Debug("media before server-init ignored", slog.String("track", track.String()))
		return
	}
	err := s.av.HandleMedia(track, md, payload, s.sendAck)
	switch {
	case err == nil:
	case errors.Is(err, ErrChannelMismatch):
		s.counters.ChannelMismatches++
		s.logger.Debug("ignoring media for stale channel", slog.String("error", err.Error()))
	case errors.Is(err, ErrProtocolViolation):
		s.counters.ProtocolViolations++
		s.logger.Warn("discarding chunk", slog.String("track", track.String()), slog.String("error", err.Error()))
	default:
		s.logger.Error("media handling failed", slog.String("error", err.Error()))
	}
}

func (s *Session) handleError(md wire.Metadata) {
	s.logger.Warn("server error", slog.String("error_type", md.ErrorType), slog.String("message", md.ErrorMessage))

	switch {
	case wire.IsFatalErrorType(md.ErrorType):
		s.fail(fmt.Errorf("%w: %s: %s", ErrFatalServer, md.ErrorType, md.ErrorMessage))
	case md.ErrorType == wire.ErrorTypeReinit:
		s.channelErr = fmt.Errorf("%w: %s", ErrChannelReinitRequired, md.ErrorMessage)
		s.notices.Show(Notice{ID: NoticeChannel, Message: md.ErrorMessage, Dismissible: true})
		s.requestReinit()
	default:
		s.channelErr = fmt.Errorf("%w: %s: %s", ErrChannelUnavailable, md.ErrorType, md.ErrorMessage)
		s.notices.Show(Notice{ID: NoticeChannel, Message: md.ErrorMessage, Dismissible: true})
	}
}

// onSourceFailure runs when the sink rejected data or failed to add tracks.
func (s *Session) onSourceFailure(err error) {
	s.counters.SinkRejections++
	s.logger.Warn("source closed", slog.String("error", err.Error()))
	s.requestReinit()
}

// requestReinit drops the source and asks for the same channel without resuming.
func (s *Session) requestReinit() {
	s.closeSource()
	s.counters.Reinits++
	s.send(wire.TypeClientInit, s.ClientInit(s.channel))
}

func (s *Session) fail(err error) {
	s.fatal = true
	s.fatalErr = err
	s.closeSource()
}

func (s *Session) closeSource() {
	if s.av != nil {
		s.av.Close()
		s.av = nil
	}
}

func (s *Session) sendAck(track Track, chunk *Chunk) {
	if s.suppressTelemetry() || s.av == nil {
		return
	}
	md := chunk.Metadata
	kind := wire.TypeClientVidAck
	if track == TrackAudio {
		kind = wire.TypeClientAudAck
	}

	ack := wire.ClientAck{
		InitID:          s.initID,
		Channel:         md.Channel,
		Quality:         md.Label(),
		Timestamp:       md.Timestamp,
		Duration:        md.Duration,
		ByteOffset:      md.ByteOffset,
		TotalByteLength: md.TotalByteLength,
		ByteLength:      md.ByteLength,
		VideoBufferLen:  s.av.BufferLength(TrackVideo),
		AudioBufferLen:  s.av.BufferLength(TrackAudio),
		CumRebufferTime: s.monitor.CumulativeStall().Milliseconds(),
	}
	if track == TrackVideo {
		ack.SSIM = md.SSIM
	}
	s.counters.AcksSent++
	s.send(kind, ack)
}

// SendInfo sends a client-info snapshot. Nothing is sent before the first
// server-init or while the channel is in error.
func (s *Session) SendInfo(event string) {
	if s.av == nil || s.suppressTelemetry() || s.fatal {
		return
	}
	info := wire.ClientInfo{
		InitID:          s.initID,
		Event:           event,
		VideoBufferLen:  s.av.BufferLength(TrackVideo),
		AudioBufferLen:  s.av.BufferLength(TrackAudio),
		CumRebufferTime: s.monitor.CumulativeStall().Milliseconds(),
		PlaybackState:   s.monitor.State().String(),
	}
	if delay, ok := s.monitor.StartupDelay(); ok {
		ms := delay.Milliseconds()
		info.StartupDelay = &ms
	}
	if event == wire.EventStartup {
		info.ScreenWidth = s.identity.ScreenWidth
		info.ScreenHeight = s.identity.ScreenHeight
	}
	s.counters.InfosSent++
	s.send(wire.TypeClientInfo, info)
}

// Tick runs the playback monitor and emits the resulting events.
func (s *Session) Tick() {
	if s.av == nil || s.av.State() != StateOpen {
		return
	}
	for _, event := range s.monitor.Tick(s.now(), s.av, s.av.Playing()) {
		s.logger.Debug("playback event", slog.String("event", event))
		s.SendInfo(event)
	}
}

// Close releases the active source.
func (s *Session) Close() {
	s.closeSource()
}

// Monitor exposes the playback monitor state.
func (s *Session) Monitor() *Monitor { return &s.monitor }

// Counters returns the session event counters.
func (s *Session) Counters() SessionCounters { return s.counters }
