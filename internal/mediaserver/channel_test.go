package mediaserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvstream/internal/segment"
)

func testChannelConfig(name string) ChannelConfig {
	return ChannelConfig{
		Name:          name,
		Timescale:     90000,
		VideoDuration: 180180,
		AudioDuration: 432000,
		Window:        60 * time.Second,
	}
}

func TestNewChannel_Validation(t *testing.T) {
	cfg := testChannelConfig("demo")
	cfg.Timescale = 0
	_, err := NewChannel(cfg, time.Now())
	assert.Error(t, err)
}

func TestChannel_Timestamps(t *testing.T) {
	start := time.Unix(1700000000, 0)
	ch, err := NewChannel(testChannelConfig("demo"), start)
	require.NoError(t, err)

	// 60s of media exists at construction: 29 complete video segments.
	vts, ats := ch.InitTimestamps(start)
	assert.Equal(t, uint64(28*180180), vts)
	assert.Equal(t, vts/432000*432000, ats)
	assert.LessOrEqual(t, ats, vts)

	assert.True(t, ch.VideoReady(vts, start))
	assert.False(t, ch.VideoReady(vts+180180, start))
	assert.False(t, ch.VideoReady(vts+1, start), "unaligned")
	assert.True(t, ch.VideoReady(vts+180180, start.Add(2100*time.Millisecond)))

	assert.True(t, ch.AudioReady(ats, start))
}

func TestChannel_CanResume(t *testing.T) {
	start := time.Unix(1700000000, 0)
	ch, err := NewChannel(testChannelConfig("demo"), start)
	require.NoError(t, err)
	later := start.Add(30 * time.Second)

	tests := []struct {
		name string
		vts  uint64
		ats  uint64
		want bool
	}{
		{"aligned inside window", 20 * 180180, 8 * 432000, true},
		{"unaligned video", 20*180180 + 1, 8 * 432000, false},
		{"unaligned audio", 20 * 180180, 8*432000 + 5, false},
		{"fell out of window", 180180, 432000, false},
		{"ahead of live edge", 100 * 180180, 8 * 432000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ch.CanResume(tt.vts, tt.ats, later))
		})
	}
}

func TestChannel_Segments(t *testing.T) {
	ch, err := NewChannel(testChannelConfig("demo"), time.Now())
	require.NoError(t, err)

	f := ch.VideoFormats()[1]
	data, err := ch.VideoSegment(f, 180180*3)
	require.NoError(t, err)

	span, err := segment.ParseMedia(data, segment.TrackID)
	require.NoError(t, err)
	assert.Equal(t, segment.Span{Start: 180180 * 3, End: 180180 * 4}, span)
	assert.Greater(t, len(data), f.Bitrate*1000/8*2-1000, "payload sized from bitrate")

	track, err := segment.ParseInit(ch.VideoInit(f))
	require.NoError(t, err)
	assert.True(t, track.Video)

	track, err = segment.ParseInit(ch.AudioInit(ch.AudioFormats()[0]))
	require.NoError(t, err)
	assert.False(t, track.Video)
	assert.Equal(t, uint32(90000), track.TimeScale)
}

func TestFormatLabels(t *testing.T) {
	assert.Equal(t, "1280x720-22", VideoFormat{Width: 1280, Height: 720, CRF: 22}.String())
	assert.Equal(t, "128k", AudioFormat{Bitrate: 128}.String())
}

func TestSelectors(t *testing.T) {
	formats := DefaultVideoFormats()
	audio := DefaultAudioFormats()

	lowest, err := NewSelector("lowest")
	require.NoError(t, err)
	assert.Equal(t, formats[0], lowest.Video(formats, ClientView{}))
	assert.Equal(t, audio[0], lowest.Audio(audio, ClientView{}))

	highest, err := NewSelector("highest")
	require.NoError(t, err)
	assert.Equal(t, formats[3], highest.Video(formats, ClientView{}))
	assert.Equal(t, formats[2], highest.Video(formats, ClientView{ScreenWidth: 1280, ScreenHeight: 720}))
	assert.Equal(t, formats[2], highest.Video(formats, ClientView{ScreenWidth: 1000, ScreenHeight: 600}))
	assert.Equal(t, audio[1], highest.Audio(audio, ClientView{}))

	random, err := NewSelector("random")
	require.NoError(t, err)
	for range 20 {
		got := random.Video(formats, ClientView{ScreenWidth: 640, ScreenHeight: 360})
		assert.LessOrEqual(t, got.Height, 360)
	}

	_, err = NewSelector("bba")
	assert.Error(t, err)
}
