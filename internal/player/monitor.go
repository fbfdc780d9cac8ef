package player

import (
	"time"

	"github.com/jmylchreest/tvstream/internal/wire"
)

// RebufferTolerance is the minimum media, in seconds, that must be buffered
// ahead of the playback position on both tracks for playback not to count as
// rebuffering.
const RebufferTolerance = 0.0

// BufferView is the read-only view of the sink the monitor classifies.
type BufferView interface {
	BufferedEnd(track Track) (float64, bool)
	Position() float64
}

// IsRebuffering reports whether playback is starved. A track with nothing
// buffered counts as starved.
func IsRebuffering(view BufferView) bool {
	videoEnd, ok := view.BufferedEnd(TrackVideo)
	if !ok {
		return true
	}
	audioEnd, ok := view.BufferedEnd(TrackAudio)
	if !ok {
		return true
	}
	return min(videoEnd, audioEnd)-view.Position() < RebufferTolerance
}

// PlaybackState is the coarse playback state reported in telemetry.
type PlaybackState int

const (
	// PlaybackStarting means no media has played since the channel was activated.
	PlaybackStarting PlaybackState = iota
	// PlaybackPlaying means media is buffered ahead of the playback position.
	PlaybackPlaying
	// PlaybackRebuffering means playback stalled after startup.
	PlaybackRebuffering
)

// String returns the string representation of the playback state.
func (s PlaybackState) String() string {
	switch s {
	case PlaybackStarting:
		return "startup"
	case PlaybackPlaying:
		return "playing"
	case PlaybackRebuffering:
		return "rebuffering"
	default:
		return "unknown"
	}
}

// Monitor classifies startup, rebuffer and resume events from periodic
// observations of the sink and accumulates stall time.
type Monitor struct {
	activatedAt   time.Time
	started       bool
	startupDelay  time.Duration
	rebuffering   bool
	rebufferStart time.Time
	lastRebuffer  time.Time
	stall         time.Duration
	canPlaySent   bool
	rebuffers     int
}

// Activate resets the playback state for a newly activated channel.
func (m *Monitor) Activate(now time.Time) {
	*m = Monitor{activatedAt: now}
}

// Tick observes the sink and returns the telemetry events to emit, in order.
func (m *Monitor) Tick(now time.Time, view BufferView, playing bool) []string {
	var events []string
	if playing && !m.canPlaySent {
		m.canPlaySent = true
		events = append(events, wire.EventCanPlay)
	}

	starved := IsRebuffering(view)

	if !m.started {
		if !starved {
			m.started = true
			m.startupDelay = now.Sub(m.activatedAt)
			m.stall += m.startupDelay
			events = append(events, wire.EventStartup)
		}
		return events
	}

	switch {
	case starved && !m.rebuffering:
		m.rebuffering = true
		m.rebuffers++
		m.rebufferStart = now
		m.lastRebuffer = now
		events = append(events, wire.EventRebuffer)
	case starved:
		m.stall += now.Sub(m.lastRebuffer)
		m.lastRebuffer = now
	case m.rebuffering:
		m.stall += now.Sub(m.lastRebuffer)
		m.rebuffering = false
		m.rebufferStart = time.Time{}
		m.lastRebuffer = time.Time{}
		events = append(events, wire.EventPlay)
	}
	return events
}

// State returns the current playback state.
func (m *Monitor) State() PlaybackState {
	switch {
	case !m.started:
		return PlaybackStarting
	case m.rebuffering:
		return PlaybackRebuffering
	default:
		return PlaybackPlaying
	}
}

// CumulativeStall returns the total stall time, including the startup delay.
func (m *Monitor) CumulativeStall() time.Duration {
	return m.stall
}

// StartupDelay returns the startup delay once playback has started.
func (m *Monitor) StartupDelay() (time.Duration, bool) {
	return m.startupDelay, m.started
}

// RebufferStart returns when the current rebuffer began, if rebuffering.
func (m *Monitor) RebufferStart() (time.Time, bool) {
	return m.rebufferStart, m.rebuffering
}

// Rebuffers returns how many rebuffer events occurred since activation.
func (m *Monitor) Rebuffers() int {
	return m.rebuffers
}
