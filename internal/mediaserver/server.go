package mediaserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jmylchreest/tvstream/internal/metrics"
	"github.com/jmylchreest/tvstream/internal/observability"
	"github.com/jmylchreest/tvstream/internal/segment"
	"github.com/jmylchreest/tvstream/internal/telemetry"
	"github.com/jmylchreest/tvstream/internal/wire"
)

var (
	// errDrop marks a client message the server refuses to process; the
	// client is sent server-error drop and disconnected.
	errDrop = errors.New("malformed client message")
	// errMaintenance ends a connection after server-error maintenance.
	errMaintenance = errors.New("server in maintenance")
)

// Config controls media delivery.
type Config struct {
	// FragmentSize is the maximum payload carried by one websocket message.
	FragmentSize int
	// MaxBuffer stops sending a track once the client reports this much
	// media buffered.
	MaxBuffer time.Duration
	// MaxInflight stops sending a track once this much media has been sent
	// but not acknowledged.
	MaxInflight time.Duration
	// ServeInterval is how often each client is considered for more media.
	ServeInterval time.Duration
	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration
	// ReadLimit bounds the size of a client message.
	ReadLimit int64
	// Maintenance rejects every client-init with server-error maintenance.
	Maintenance bool
}

// DefaultConfig returns the default delivery configuration.
func DefaultConfig() Config {
	return Config{
		FragmentSize:  256 * 1024,
		MaxBuffer:     15 * time.Second,
		MaxInflight:   5 * time.Second,
		ServeInterval: 100 * time.Millisecond,
		WriteTimeout:  10 * time.Second,
		ReadLimit:     64 * 1024,
	}
}

// EventRecorder receives client telemetry.
type EventRecorder interface {
	Record(event telemetry.ClientEvent) bool
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRecorder attaches a telemetry recorder.
func WithRecorder(r EventRecorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithNow overrides the clock used to compute live edges.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// ChannelInfo describes a channel for the HTTP API.
type ChannelInfo struct {
	Name          string   `json:"name"`
	VideoFormats  []string `json:"video_formats"`
	AudioFormats  []string `json:"audio_formats"`
	Timescale     uint32   `json:"timescale"`
	VideoDuration uint64   `json:"video_duration"`
	AudioDuration uint64   `json:"audio_duration"`
	Clients       int      `json:"clients"`
}

// Server streams synthetic channels to websocket clients.
type Server struct {
	cfg      Config
	channels map[string]*Channel
	names    []string
	selector Selector
	logger   *slog.Logger
	metrics  *metrics.Metrics
	recorder EventRecorder
	now      func() time.Time
	upgrader websocket.Upgrader

	maintenance atomic.Bool

	mu      sync.Mutex
	clients map[string]*session
	closed  bool
	wg      sync.WaitGroup
}

// New creates a media server for the given channels.
func New(cfg Config, channels []*Channel, selector Selector, logger *slog.Logger, opts ...Option) (*Server, error) {
	if len(channels) == 0 {
		return nil, errors.New("at least one channel is required")
	}
	if cfg.FragmentSize <= 0 {
		return nil, errors.New("fragment size must be positive")
	}
	if cfg.ServeInterval <= 0 {
		cfg.ServeInterval = DefaultConfig().ServeInterval
	}

	s := &Server{
		cfg:      cfg,
		channels: make(map[string]*Channel, len(channels)),
		selector: selector,
		logger:   logger,
		now:      time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 * 1024,
		},
		clients: make(map[string]*session),
	}
	for _, c := range channels {
		if _, dup := s.channels[c.Name()]; dup {
			return nil, fmt.Errorf("duplicate channel %q", c.Name())
		}
		s.channels[c.Name()] = c
		s.names = append(s.names, c.Name())
	}
	for _, opt := range opts {
		opt(s)
	}
	s.maintenance.Store(cfg.Maintenance)
	return s, nil
}

// SetMaintenance toggles maintenance mode for subsequent client-init messages.
func (s *Server) SetMaintenance(on bool) {
	s.maintenance.Store(on)
}

// Maintenance reports whether maintenance mode is on.
func (s *Server) Maintenance() bool {
	return s.maintenance.Load()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Channels describes the served channels, in configuration order.
func (s *Server) Channels() []ChannelInfo {
	s.mu.Lock()
	watching := make(map[string]int)
	for _, sess := range s.clients {
		if name := sess.channelName.Load(); name != nil {
			watching[*name]++
		}
	}
	s.mu.Unlock()

	out := make([]ChannelInfo, 0, len(s.names))
	for _, name := range s.names {
		c := s.channels[name]
		info := ChannelInfo{
			Name:          name,
			Timescale:     c.cfg.Timescale,
			VideoDuration: c.cfg.VideoDuration,
			AudioDuration: c.cfg.AudioDuration,
			Clients:       watching[name],
		}
		for _, f := range c.VideoFormats() {
			info.VideoFormats = append(info.VideoFormats, f.String())
		}
		for _, f := range c.AudioFormats() {
			info.AudioFormats = append(info.AudioFormats, f.String())
		}
		out = append(out, info)
	}
	return out
}

// ServeHTTP upgrades the request to a websocket and serves it until the
// client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}
	s.Serve(conn)
}

// Close disconnects every client and waits for their handlers to return.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for _, sess := range s.clients {
		sess.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

type inbound struct {
	data []byte
	text bool
}

// Serve runs the protocol on an established websocket connection.
func (s *Server) Serve(conn *websocket.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := uuid.NewString()
	sess := &session{
		id:     id,
		conn:   conn,
		cancel: cancel,
		logger: observability.WithSession(s.logger, id),
	}
	if !s.register(sess) {
		return
	}
	defer s.unregister(sess)

	if s.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.cfg.ReadLimit)
	}
	msgs := make(chan inbound)
	go readLoop(ctx, conn, msgs)

	sess.logger.Info("client connected", slog.String("remote_addr", conn.RemoteAddr().String()))

	ticker := time.NewTicker(s.cfg.ServeInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			sess.logger.Debug("client disconnected by server")
			return
		case msg, ok := <-msgs:
			if !ok {
				sess.logger.Info("client disconnected")
				return
			}
			err = s.handleMessage(sess, msg)
		case <-ticker.C:
			err = s.serveClient(sess)
		}
		if err != nil {
			s.closeWithError(sess, err)
			return
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, msgs chan<- inbound) {
	defer close(msgs)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case msgs <- inbound{data: data, text: kind == websocket.TextMessage}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) register(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[sess.id] = sess
	s.wg.Add(1)
	if s.metrics != nil {
		s.metrics.IncConnections()
		s.metrics.SetActiveClients(len(s.clients))
	}
	return true
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.clients, sess.id)
	if s.metrics != nil {
		s.metrics.SetActiveClients(len(s.clients))
	}
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) closeWithError(sess *session, err error) {
	switch {
	case errors.Is(err, errDrop):
		sess.logger.Warn("dropping client", slog.String("error", err.Error()))
		if werr := s.sendError(sess, wire.ErrorTypeDrop, err.Error(), 0); werr != nil {
			sess.logger.Debug("failed to send drop", slog.String("error", werr.Error()))
		}
	case errors.Is(err, errMaintenance):
		sess.logger.Info("client turned away for maintenance")
	default:
		sess.logger.Warn("closing client", slog.String("error", err.Error()))
	}
	deadline := time.Now().Add(time.Second)
	_ = sess.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (s *Server) handleMessage(sess *session, in inbound) error {
	if !in.text {
		return fmt.Errorf("%w: binary message", errDrop)
	}
	msg, err := wire.DecodeClientMessage(in.data)
	if err != nil {
		return fmt.Errorf("%w: %w", errDrop, err)
	}
	if s.metrics != nil {
		s.metrics.IncClientMessages(msg.Type)
	}

	switch msg.Type {
	case wire.TypeClientInit:
		var m wire.ClientInit
		if err := msg.Decode(&m); err != nil {
			return fmt.Errorf("%w: %w", errDrop, err)
		}
		return s.handleInit(sess, m)
	case wire.TypeClientInfo:
		var m wire.ClientInfo
		if err := msg.Decode(&m); err != nil {
			return fmt.Errorf("%w: %w", errDrop, err)
		}
		s.handleInfo(sess, m)
		return nil
	case wire.TypeClientVidAck, wire.TypeClientAudAck:
		var m wire.ClientAck
		if err := msg.Decode(&m); err != nil {
			return fmt.Errorf("%w: %w", errDrop, err)
		}
		s.handleAck(sess, msg.Type, m)
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", errDrop, msg.Type)
	}
}

func (s *Server) handleInit(sess *session, m wire.ClientInit) error {
	sess.logger.Info("client-init",
		slog.Int("init_id", m.InitID),
		slog.String("channel", m.Channel),
		slog.Bool("resume", m.NextVTS != nil && m.NextATS != nil))

	if s.maintenance.Load() {
		if err := s.sendError(sess, wire.ErrorTypeMaintenance, "server is down for maintenance", m.InitID); err != nil {
			return err
		}
		return errMaintenance
	}

	ch, ok := s.channels[m.Channel]
	if !ok {
		sess.reset(nil, m)
		return s.sendError(sess, wire.ErrorTypeUnavailable, fmt.Sprintf("channel %q is not available", m.Channel), m.InitID)
	}

	now := s.now()
	vts, ats := ch.InitTimestamps(now)
	canResume := m.NextVTS != nil && m.NextATS != nil && ch.CanResume(*m.NextVTS, *m.NextATS, now)
	if canResume {
		vts, ats = *m.NextVTS, *m.NextATS
	}
	sess.reset(ch, m)
	sess.start(vts, ats)

	s.record(sess, telemetry.ClientEvent{Kind: wire.TypeClientInit})

	cfg := ch.Config()
	return s.write(sess, wire.TypeServerInit, wire.ServerInit{
		Channel:            ch.Name(),
		VideoCodec:         segment.VideoMIME,
		AudioCodec:         segment.AudioMIME,
		Timescale:          cfg.Timescale,
		VideoDuration:      cfg.VideoDuration,
		AudioDuration:      cfg.AudioDuration,
		InitVideoTimestamp: vts,
		InitAudioTimestamp: ats,
		CanResume:          canResume,
		InitID:             m.InitID,
	}, nil)
}

func (s *Server) handleInfo(sess *session, m wire.ClientInfo) {
	if sess.channel == nil || m.InitID != sess.initID {
		sess.logger.Debug("ignoring stale client-info", slog.Int("init_id", m.InitID))
		return
	}
	sess.videoBuf = m.VideoBufferLen
	sess.audioBuf = m.AudioBufferLen
	if m.ScreenWidth > 0 && m.ScreenHeight > 0 {
		sess.screenWidth, sess.screenHeight = m.ScreenWidth, m.ScreenHeight
	}
	if s.metrics != nil {
		s.metrics.ObserveBuffer("video", m.VideoBufferLen)
		s.metrics.ObserveBuffer("audio", m.AudioBufferLen)
	}
	s.record(sess, telemetry.ClientEvent{
		Kind:        wire.TypeClientInfo,
		Event:       m.Event,
		CumRebuffer: m.CumRebufferTime,
	})
}

func (s *Server) handleAck(sess *session, kind string, m wire.ClientAck) {
	if sess.channel == nil || m.InitID != sess.initID {
		sess.logger.Debug("ignoring stale ack", slog.String("type", kind), slog.Int("init_id", m.InitID))
		return
	}
	end := m.Timestamp + m.Duration
	if kind == wire.TypeClientVidAck {
		sess.ackedVTS = max(sess.ackedVTS, end)
	} else {
		sess.ackedATS = max(sess.ackedATS, end)
	}
	sess.videoBuf = m.VideoBufferLen
	sess.audioBuf = m.AudioBufferLen

	s.record(sess, telemetry.ClientEvent{
		Kind:        kind,
		CumRebuffer: m.CumRebufferTime,
		Quality:     m.Quality,
		Timestamp:   m.Timestamp,
		SSIM:        m.SSIM,
		ByteLength:  m.ByteLength,
	})
}

// serveClient sends the next video and audio chunks if the client has room
// for them.
func (s *Server) serveClient(sess *session) error {
	ch := sess.channel
	if ch == nil {
		return nil
	}
	now := s.now()
	maxBuffer := s.cfg.MaxBuffer.Seconds()
	maxInflight := s.cfg.MaxInflight.Seconds()

	if sess.videoBuf < maxBuffer &&
		ch.Duration(sess.nextVTS-sess.ackedVTS) < maxInflight &&
		ch.VideoReady(sess.nextVTS, now) {
		if err := s.sendVideo(sess); err != nil {
			return err
		}
	}
	if sess.audioBuf < maxBuffer &&
		ch.Duration(sess.nextATS-sess.ackedATS) < maxInflight &&
		ch.AudioReady(sess.nextATS, now) {
		if err := s.sendAudio(sess); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) sendVideo(sess *session) error {
	ch := sess.channel
	format := s.selector.Video(ch.VideoFormats(), sess.view())
	data, err := ch.VideoSegment(format, sess.nextVTS)
	if err != nil {
		return fmt.Errorf("generating video %s at %d: %w", format, sess.nextVTS, err)
	}
	if sess.currVQ == nil || *sess.currVQ != format {
		data = append(append([]byte{}, ch.VideoInit(format)...), data...)
	}

	ssim := format.SSIM
	meta := wire.ServerMedia{
		Channel:   ch.Name(),
		Quality:   format.String(),
		Timestamp: sess.nextVTS,
		Duration:  ch.cfg.VideoDuration,
		SSIM:      &ssim,
		InitID:    sess.initID,
	}
	if err := s.sendChunk(sess, wire.TypeServerVideo, meta, data); err != nil {
		return err
	}
	sess.nextVTS += ch.cfg.VideoDuration
	sess.currVQ = &format
	return nil
}

func (s *Server) sendAudio(sess *session) error {
	ch := sess.channel
	format := s.selector.Audio(ch.AudioFormats(), sess.view())
	data, err := ch.AudioSegment(format, sess.nextATS)
	if err != nil {
		return fmt.Errorf("generating audio %s at %d: %w", format, sess.nextATS, err)
	}
	if sess.currAQ == nil || *sess.currAQ != format {
		data = append(append([]byte{}, ch.AudioInit(format)...), data...)
	}

	meta := wire.ServerMedia{
		Channel:   ch.Name(),
		Quality:   format.String(),
		Timestamp: sess.nextATS,
		Duration:  ch.cfg.AudioDuration,
		InitID:    sess.initID,
	}
	if err := s.sendChunk(sess, wire.TypeServerAudio, meta, data); err != nil {
		return err
	}
	sess.nextATS += ch.cfg.AudioDuration
	sess.currAQ = &format
	return nil
}

// sendChunk splits data into fragments of at most FragmentSize bytes, each
// carrying its offset and the chunk's total length.
func (s *Server) sendChunk(sess *session, kind string, meta wire.ServerMedia, data []byte) error {
	meta.TotalByteLength = len(data)
	for off := 0; off < len(data); off += s.cfg.FragmentSize {
		end := min(off+s.cfg.FragmentSize, len(data))
		meta.ByteOffset = off
		if err := s.write(sess, kind, meta, data[off:end]); err != nil {
			return err
		}
	}
	if s.metrics != nil {
		track := "video"
		if kind == wire.TypeServerAudio {
			track = "audio"
		}
		s.metrics.AddBytesSent(track, len(data))
	}
	sess.logger.Debug("chunk sent",
		slog.String("type", kind),
		slog.String("quality", meta.Quality),
		slog.Uint64("timestamp", meta.Timestamp),
		slog.Int("bytes", len(data)))
	return nil
}

func (s *Server) sendError(sess *session, errorType, message string, initID int) error {
	if s.metrics != nil {
		s.metrics.IncServerErrors(errorType)
	}
	return s.write(sess, wire.TypeServerError, wire.ServerError{
		ErrorType:    errorType,
		ErrorMessage: message,
		InitID:       initID,
	}, nil)
}

func (s *Server) write(sess *session, kind string, meta any, payload []byte) error {
	raw, err := wire.EncodeServerMessage(kind, meta, payload)
	if err != nil {
		return err
	}
	if s.cfg.WriteTimeout > 0 {
		_ = sess.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := sess.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		return fmt.Errorf("writing %s: %w", kind, err)
	}
	if s.metrics != nil {
		s.metrics.IncMessagesSent(kind)
	}
	return nil
}

// record fills in the session fields of ev and hands it to the recorder.
func (s *Server) record(sess *session, ev telemetry.ClientEvent) {
	if s.recorder == nil {
		return
	}
	ev.SessionID = sess.id
	ev.InitID = sess.initID
	ev.VideoBuffer = sess.videoBuf
	ev.AudioBuffer = sess.audioBuf
	if sess.channel != nil {
		ev.Channel = sess.channel.Name()
	}
	s.recorder.Record(ev)
}
