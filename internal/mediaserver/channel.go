// Package mediaserver implements a demo live media server speaking the
// tvstream websocket protocol. Channels are synthetic: segments are
// generated on demand from the wall clock, so every client sees the same
// live edge without any media files on disk.
package mediaserver

import (
	"fmt"
	"time"

	"github.com/jmylchreest/tvstream/internal/segment"
)

// VideoFormat is one video rendition of a channel.
type VideoFormat struct {
	Width   int
	Height  int
	CRF     int
	Bitrate int // kbps
	SSIM    float64
}

// String returns the quality label, e.g. "1280x720-22".
func (f VideoFormat) String() string {
	return fmt.Sprintf("%dx%d-%d", f.Width, f.Height, f.CRF)
}

// AudioFormat is one audio rendition of a channel.
type AudioFormat struct {
	Bitrate int // kbps
}

// String returns the quality label, e.g. "128k".
func (f AudioFormat) String() string {
	return fmt.Sprintf("%dk", f.Bitrate)
}

// DefaultVideoFormats returns the renditions offered on every channel,
// ordered from lowest to highest quality.
func DefaultVideoFormats() []VideoFormat {
	return []VideoFormat{
		{Width: 426, Height: 240, CRF: 26, Bitrate: 300, SSIM: 0.912},
		{Width: 640, Height: 360, CRF: 24, Bitrate: 700, SSIM: 0.941},
		{Width: 1280, Height: 720, CRF: 22, Bitrate: 2000, SSIM: 0.968},
		{Width: 1920, Height: 1080, CRF: 20, Bitrate: 4500, SSIM: 0.981},
	}
}

// DefaultAudioFormats returns the audio renditions offered on every channel.
func DefaultAudioFormats() []AudioFormat {
	return []AudioFormat{{Bitrate: 64}, {Bitrate: 128}}
}

// ChannelConfig describes a synthetic channel.
type ChannelConfig struct {
	Name          string
	Timescale     uint32
	VideoDuration uint64
	AudioDuration uint64
	Window        time.Duration
	VideoFormats  []VideoFormat
	AudioFormats  []AudioFormat
}

// Channel is a synthetic live channel. It is immutable after construction
// and safe for concurrent use.
type Channel struct {
	cfg   ChannelConfig
	epoch time.Time
	vinit map[string][]byte
	ainit map[string][]byte
}

// NewChannel builds a channel whose live edge starts one window after now,
// so the full window is available immediately.
func NewChannel(cfg ChannelConfig, now time.Time) (*Channel, error) {
	if cfg.Timescale == 0 || cfg.VideoDuration == 0 || cfg.AudioDuration == 0 {
		return nil, fmt.Errorf("channel %s: timescale and durations must be positive", cfg.Name)
	}
	if len(cfg.VideoFormats) == 0 {
		cfg.VideoFormats = DefaultVideoFormats()
	}
	if len(cfg.AudioFormats) == 0 {
		cfg.AudioFormats = DefaultAudioFormats()
	}

	c := &Channel{
		cfg:   cfg,
		epoch: now.Add(-cfg.Window),
		vinit: make(map[string][]byte, len(cfg.VideoFormats)),
		ainit: make(map[string][]byte, len(cfg.AudioFormats)),
	}
	for _, f := range cfg.VideoFormats {
		data, err := segment.BuildInit(segment.TrackSpec{
			Kind:      segment.KindVideo,
			TimeScale: cfg.Timescale,
			Width:     f.Width,
			Height:    f.Height,
		})
		if err != nil {
			return nil, fmt.Errorf("channel %s: video init %s: %w", cfg.Name, f, err)
		}
		c.vinit[f.String()] = data
	}
	for _, f := range cfg.AudioFormats {
		data, err := segment.BuildInit(segment.TrackSpec{
			Kind:         segment.KindAudio,
			TimeScale:    cfg.Timescale,
			ChannelCount: 2,
		})
		if err != nil {
			return nil, fmt.Errorf("channel %s: audio init %s: %w", cfg.Name, f, err)
		}
		c.ainit[f.String()] = data
	}
	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.cfg.Name }

// Config returns the channel configuration.
func (c *Channel) Config() ChannelConfig { return c.cfg }

// VideoFormats returns the video renditions, lowest quality first.
func (c *Channel) VideoFormats() []VideoFormat { return c.cfg.VideoFormats }

// AudioFormats returns the audio renditions, lowest quality first.
func (c *Channel) AudioFormats() []AudioFormat { return c.cfg.AudioFormats }

// live returns the live edge in timescale ticks.
func (c *Channel) live(now time.Time) uint64 {
	elapsed := now.Sub(c.epoch).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed * float64(c.cfg.Timescale))
}

// VideoReady reports whether the video segment starting at ts is complete.
func (c *Channel) VideoReady(ts uint64, now time.Time) bool {
	return ts%c.cfg.VideoDuration == 0 && ts+c.cfg.VideoDuration <= c.live(now)
}

// AudioReady reports whether the audio segment starting at ts is complete.
func (c *Channel) AudioReady(ts uint64, now time.Time) bool {
	return ts%c.cfg.AudioDuration == 0 && ts+c.cfg.AudioDuration <= c.live(now)
}

// InitTimestamps returns where a new client starts: the most recent complete
// video segment and the audio segment that contains it.
func (c *Channel) InitTimestamps(now time.Time) (vts, ats uint64) {
	live := c.live(now)
	if n := live / c.cfg.VideoDuration; n > 0 {
		vts = (n - 1) * c.cfg.VideoDuration
	}
	ats = vts / c.cfg.AudioDuration * c.cfg.AudioDuration
	return vts, ats
}

// CanResume reports whether a client may continue from the given next
// timestamps: both must be segment-aligned and inside the retention window.
func (c *Channel) CanResume(vts, ats uint64, now time.Time) bool {
	if vts%c.cfg.VideoDuration != 0 || ats%c.cfg.AudioDuration != 0 {
		return false
	}
	live := c.live(now)
	window := uint64(c.cfg.Window.Seconds() * float64(c.cfg.Timescale))
	oldest := uint64(0)
	if live > window {
		oldest = live - window
	}
	inWindow := func(ts uint64) bool { return ts >= oldest && ts <= live }
	return inWindow(vts) && inWindow(ats)
}

// VideoInit returns the init segment of a video rendition.
func (c *Channel) VideoInit(f VideoFormat) []byte { return c.vinit[f.String()] }

// AudioInit returns the init segment of an audio rendition.
func (c *Channel) AudioInit(f AudioFormat) []byte { return c.ainit[f.String()] }

// VideoSegment generates the video media segment starting at ts.
func (c *Channel) VideoSegment(f VideoFormat, ts uint64) ([]byte, error) {
	return c.mediaSegment(ts, c.cfg.VideoDuration, f.Bitrate, 30)
}

// AudioSegment generates the audio media segment starting at ts.
func (c *Channel) AudioSegment(f AudioFormat, ts uint64) ([]byte, error) {
	return c.mediaSegment(ts, c.cfg.AudioDuration, f.Bitrate, 50)
}

// mediaSegment generates one segment of rate samples per second, each
// segment starting on a sync sample.
func (c *Channel) mediaSegment(ts, duration uint64, kbps, rate int) ([]byte, error) {
	seconds := float64(duration) / float64(c.cfg.Timescale)
	return segment.BuildMedia(segment.Media{
		Sequence: uint32(ts/duration) + 1,
		BaseTime: ts,
		Duration: duration,
		Samples:  max(int(seconds*float64(rate)), 1),
		Size:     int(float64(kbps) * 1000 / 8 * seconds),
		Keyframe: true,
	})
}

// Duration converts timescale ticks to seconds.
func (c *Channel) Duration(ticks uint64) float64 {
	return float64(ticks) / float64(c.cfg.Timescale)
}
