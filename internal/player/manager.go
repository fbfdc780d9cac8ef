package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/tvstream/internal/wire"
)

const eventQueueSize = 1024

var errWatchdog = errors.New("no message received within watchdog timeout")

// ManagerConfig holds connection lifecycle settings.
type ManagerConfig struct {
	Channel              string
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int // 0 = unlimited
	HealthyPeriod        time.Duration
	HeartbeatInterval    time.Duration
	MonitorInterval      time.Duration
	WatchdogTimeout      time.Duration
}

// DefaultManagerConfig returns the default connection settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBase:     time.Second,
		ReconnectMax:      15 * time.Second,
		HealthyPeriod:     10 * time.Second,
		HeartbeatInterval: 250 * time.Millisecond,
		MonitorInterval:   50 * time.Millisecond,
		WatchdogTimeout:   30 * time.Second,
	}
}

// Stats is a point-in-time snapshot of the client.
type Stats struct {
	Channel         string
	Connected       bool
	Fatal           bool
	SourceState     string
	PlaybackState   string
	VideoBuffer     float64
	AudioBuffer     float64
	CumulativeStall time.Duration
	StartupDelay    time.Duration
	Started         bool
	Rebuffers       int
	VideoQuality    string
	VideoBitrate    float64
	SSIM            float64
	VideoChunks     int
	AudioChunks     int
	Reconnects      int
	Malformed       int
	Stale           int
	LastBackoff     time.Duration
	Session         SessionCounters
	ChannelErr      error
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// Manager owns the transport lifecycle of a session: connect, reconnect with
// backoff, watchdog, heartbeat and playback monitor timers. All state is
// mutated on a single event-loop goroutine.
type Manager struct {
	cfg     ManagerConfig
	dialer  Dialer
	clock   Clock
	notices Notifier
	logger  *slog.Logger
	session *Session
	backoff *Backoff

	ctx    context.Context
	events chan func()
	done   chan struct{}
	spawn  func(func())

	conn       Conn
	connGen    uint64
	connecting bool
	requested  string
	attempts   int
	fatal      bool
	fatalErr   error

	reconnectTimer Timer
	heartbeatTimer Timer
	monitorTimer   Timer
	watchdogTimer  Timer
	healthyTimer   Timer
	lastMessage    time.Time

	reconnects  int
	malformed   int
	stale       int
	lastBackoff time.Duration
	stats       atomic.Pointer[Stats]
}

// NewManager creates a connection manager for one viewing session.
func NewManager(cfg ManagerConfig, dialer Dialer, newSink SinkFactory, identity Identity, notices Notifier, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		dialer:    dialer,
		clock:     realClock{},
		notices:   notices,
		logger:    logger,
		backoff:   NewBackoff(cfg.ReconnectBase, cfg.ReconnectMax),
		ctx:       context.Background(),
		events:    make(chan func(), eventQueueSize),
		done:      make(chan struct{}),
		spawn:     func(f func()) { go f() },
		requested: cfg.Channel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.session = NewSession(identity, newSink, m.send, m.post, notices, m.clock.Now, logger)
	m.stats.Store(&Stats{Channel: cfg.Channel})
	return m
}

// Run connects to the configured channel and processes events until ctx is
// canceled or the session turns fatal.
func (m *Manager) Run(ctx context.Context) error {
	m.ctx = ctx
	m.start()
	defer m.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-m.events:
			fn()
			if m.fatal {
				return m.fatalErr
			}
		}
	}
}

// SetChannel switches to another channel.
func (m *Manager) SetChannel(channel string) {
	m.post(func() { m.setChannel(channel) })
}

// Stats returns the most recent snapshot, refreshed on every heartbeat.
func (m *Manager) Stats() Stats {
	return *m.stats.Load()
}

func (m *Manager) post(fn func()) {
	select {
	case m.events <- fn:
	case <-m.done:
	}
}

func (m *Manager) start() {
	m.connect()
	m.scheduleHeartbeat()
	m.scheduleMonitor()
}

func (m *Manager) teardown() {
	m.stopTimers()
	m.closeConn()
	m.session.Close()
	m.publishStats()
	close(m.done)
}

func (m *Manager) stopTimers() {
	stopTimer(&m.reconnectTimer)
	stopTimer(&m.heartbeatTimer)
	stopTimer(&m.monitorTimer)
	stopTimer(&m.watchdogTimer)
	stopTimer(&m.healthyTimer)
}

// connect dials unless a connection is open or pending. The channel is chosen
// when the dial completes, so a switch made while dialing is honored.
func (m *Manager) connect() {
	if m.fatal || m.conn != nil || m.connecting {
		return
	}
	m.connecting = true
	m.connGen++
	gen := m.connGen
	m.logger.Debug("connecting", slog.String("channel", m.initChannel()), slog.Uint64("generation", gen))

	ctx := m.ctx
	m.spawn(func() {
		conn, err := m.dialer.Dial(ctx)
		m.post(func() { m.onDial(gen, conn, err) })
	})
}

// initChannel is the channel a fresh connection asks for: the live source's
// channel, else the last requested one.
func (m *Manager) initChannel() string {
	if ch := m.session.ActiveChannel(); ch != "" {
		return ch
	}
	return m.requested
}

func (m *Manager) onDial(gen uint64, conn Conn, err error) {
	if gen != m.connGen || m.fatal {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.connecting = false
	if err != nil {
		m.logger.Warn("connection failed", slog.String("error", err.Error()))
		m.scheduleReconnect()
		return
	}

	m.conn = conn
	m.lastMessage = m.clock.Now()
	m.armWatchdog(gen, m.cfg.WatchdogTimeout)
	m.healthyTimer = m.clock.AfterFunc(m.cfg.HealthyPeriod, func() {
		m.post(func() { m.onHealthy(gen) })
	})
	go m.readLoop(gen, conn)

	m.notices.Clear(NoticeConnect)
	m.send(wire.TypeClientInit, m.session.ClientInit(m.initChannel()))
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.post(func() { m.onClose(gen, err) })
			return
		}
		m.post(func() { m.onMessage(gen, data) })
	}
}

func (m *Manager) onMessage(gen uint64, data []byte) {
	if gen != m.connGen || m.conn == nil || m.fatal {
		return
	}
	m.lastMessage = m.clock.Now()

	msg, err := wire.DecodeServerMessage(data)
	if err != nil {
		m.malformed++
		m.logger.Warn("dropping message", slog.String("error", err.Error()))
		return
	}

	md := msg.Metadata
	if md.InitID != m.session.InitID() && (md.HasInitID || md.Type != wire.TypeServerError) {
		m.stale++
		m.logger.Debug("dropping stale message",
			slog.String("type", md.Type),
			slog.Int("init_id", md.InitID),
			slog.Int("current_init_id", m.session.InitID()))
		return
	}

	if md.Type == wire.TypeServerVideo || md.Type == wire.TypeServerAudio {
		m.backoff.Reset()
		m.attempts = 0
	}

	m.session.HandleMessage(msg)
	if m.session.Fatal() {
		m.enterFatal(m.session.Err())
	}
}

func (m *Manager) onClose(gen uint64, err error) {
	if gen != m.connGen || m.conn == nil {
		return
	}
	m.logger.Info("connection closed", slog.String("error", err.Error()))
	m.closeConn()
	if m.fatal {
		return
	}
	m.scheduleReconnect()
}

func (m *Manager) closeConn() {
	stopTimer(&m.watchdogTimer)
	stopTimer(&m.healthyTimer)
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) scheduleReconnect() {
	m.attempts++
	if m.cfg.MaxReconnectAttempts > 0 && m.attempts > m.cfg.MaxReconnectAttempts {
		m.enterFatal(fmt.Errorf("%w: gave up after %d attempts", ErrConnectionTimeout, m.cfg.MaxReconnectAttempts))
		return
	}

	delay := m.backoff.Next()
	m.lastBackoff = delay
	m.notices.Show(Notice{
		ID:          NoticeConnect,
		Message:     fmt.Sprintf("Connection lost. Reconnecting in %s.", delay),
		Dismissible: true,
	})

	stopTimer(&m.reconnectTimer)
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.post(m.reconnect)
	})
}

func (m *Manager) reconnect() {
	m.reconnectTimer = nil
	if m.fatal {
		return
	}
	m.reconnects++
	m.connect()
}

func (m *Manager) enterFatal(err error) {
	if m.fatal {
		return
	}
	m.fatal = true
	m.fatalErr = err
	m.logger.Error("session ended", slog.String("error", err.Error()))
	m.stopTimers()
	m.closeConn()
	m.session.Close()
	m.notices.Clear(NoticeConnect)
	m.notices.Show(Notice{
		ID:          NoticeFatal,
		Message:     fatalMessage(err),
		Dismissible: false,
	})
	m.publishStats()
}

func fatalMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedCodec):
		return "This player cannot decode the stream. Please try another device."
	case errors.Is(err, ErrConnectionTimeout):
		return "Unable to reach the server. Please reload to try again."
	default:
		return fmt.Sprintf("%s. Please reload to try again.", err)
	}
}

func (m *Manager) armWatchdog(gen uint64, after time.Duration) {
	stopTimer(&m.watchdogTimer)
	m.watchdogTimer = m.clock.AfterFunc(after, func() {
		m.post(func() { m.onWatchdog(gen) })
	})
}

func (m *Manager) onWatchdog(gen uint64) {
	if gen != m.connGen || m.conn == nil {
		return
	}
	m.watchdogTimer = nil
	idle := m.clock.Now().Sub(m.lastMessage)
	if idle < m.cfg.WatchdogTimeout {
		m.armWatchdog(gen, m.cfg.WatchdogTimeout-idle)
		return
	}
	m.logger.Warn("connection idle, forcing close", slog.Duration("idle", idle))
	m.onClose(gen, errWatchdog)
}

func (m *Manager) onHealthy(gen uint64) {
	if gen != m.connGen || m.conn == nil {
		return
	}
	m.healthyTimer = nil
	m.backoff.Reset()
	m.attempts = 0
}

func (m *Manager) scheduleHeartbeat() {
	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.post(func() {
			if m.fatal {
				return
			}
			m.session.SendInfo(wire.EventTimer)
			m.publishStats()
			m.scheduleHeartbeat()
		})
	})
}

func (m *Manager) scheduleMonitor() {
	m.monitorTimer = m.clock.AfterFunc(m.cfg.MonitorInterval, func() {
		m.post(func() {
			if m.fatal {
				return
			}
			m.session.Tick()
			m.scheduleMonitor()
		})
	})
}

func (m *Manager) setChannel(channel string) {
	m.requested = channel
	ci := m.session.SetChannel(channel)
	if m.conn != nil {
		m.send(wire.TypeClientInit, ci)
		return
	}
	if m.reconnectTimer == nil {
		m.connect()
	}
}

// send encodes and writes a client message. It is a no-op while disconnected.
func (m *Manager) send(kind string, fields any) {
	if m.conn == nil {
		m.logger.Debug("not connected, dropping message", slog.String("type", kind))
		return
	}
	data, err := wire.EncodeClientMessage(kind, fields)
	if err != nil {
		m.logger.Error("encoding client message", slog.String("type", kind), slog.String("error", err.Error()))
		return
	}
	if err := m.conn.WriteMessage(data); err != nil {
		m.logger.Warn("sending client message", slog.String("type", kind), slog.String("error", err.Error()))
	}
}

func (m *Manager) publishStats() {
	st := &Stats{
		Channel:     m.session.ActiveChannel(),
		Connected:   m.conn != nil,
		Fatal:       m.fatal,
		SourceState: StateUninitialized.String(),
		Reconnects:  m.reconnects,
		Malformed:   m.malformed,
		Stale:       m.stale,
		LastBackoff: m.lastBackoff,
		Session:     m.session.Counters(),
		ChannelErr:  m.session.ChannelErr(),
	}
	mon := m.session.Monitor()
	st.PlaybackState = mon.State().String()
	st.CumulativeStall = mon.CumulativeStall()
	st.StartupDelay, st.Started = mon.StartupDelay()
	st.Rebuffers = mon.Rebuffers()

	if av := m.session.Source(); av != nil {
		st.SourceState = av.State().String()
		st.VideoBuffer = av.BufferLength(TrackVideo)
		st.AudioBuffer = av.BufferLength(TrackAudio)
		var ssim *float64
		st.VideoQuality, st.VideoBitrate, ssim = av.VideoQuality()
		if ssim != nil {
			st.SSIM = *ssim
		}
		st.VideoChunks = av.Chunks(TrackVideo)
		st.AudioChunks = av.Chunks(TrackAudio)
	}
	m.stats.Store(st)
}
