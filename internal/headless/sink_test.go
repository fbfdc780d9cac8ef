package headless

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvstream/internal/player"
	"github.com/jmylchreest/tvstream/internal/segment"
)

type harness struct {
	t       *testing.T
	sink    *Sink
	now     time.Time
	pending []func()
	video   player.TrackHandle
	audio   player.TrackHandle
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, now: time.Unix(1700000000, 0)}
	h.sink = New(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithNow(func() time.Time { return h.now }),
		WithAfterFunc(func(_ time.Duration, fn func()) { h.pending = append(h.pending, fn) }),
	)

	ready := make(chan struct{})
	require.NoError(t, h.sink.Open(func() { close(ready) }))
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("ready not signalled")
	}

	var err error
	h.video, err = h.sink.AddTrack(segment.VideoMIME)
	require.NoError(t, err)
	h.audio, err = h.sink.AddTrack(segment.AudioMIME)
	require.NoError(t, err)
	return h
}

// submit hands data to the sink, runs the decode and returns the result.
func (h *harness) submit(th player.TrackHandle, data []byte) error {
	h.t.Helper()
	var result error
	called := false
	h.sink.Submit(th, data, func(err error) {
		result = err
		called = true
	})
	h.flush()
	require.True(h.t, called, "done not called")
	return result
}

func (h *harness) flush() {
	pending := h.pending
	h.pending = nil
	for _, fn := range pending {
		fn()
	}
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func videoSegment(t *testing.T, withInit bool, start, dur uint64) []byte {
	t.Helper()
	return build(t, segment.TrackSpec{Kind: segment.KindVideo, TimeScale: 90000, Width: 640, Height: 360}, withInit, start, dur)
}

func audioSegment(t *testing.T, withInit bool, start, dur uint64) []byte {
	t.Helper()
	return build(t, segment.TrackSpec{Kind: segment.KindAudio, TimeScale: 48000}, withInit, start, dur)
}

func build(t *testing.T, spec segment.TrackSpec, withInit bool, start, dur uint64) []byte {
	t.Helper()
	media, err := segment.BuildMedia(segment.Media{Sequence: 1, BaseTime: start, Duration: dur, Samples: 4, Size: 400, Keyframe: true})
	require.NoError(t, err)
	if !withInit {
		return media
	}
	init, err := segment.BuildInit(spec)
	require.NoError(t, err)
	return append(init, media...)
}

func TestSink_Supports(t *testing.T) {
	s := New(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.True(t, s.Supports(segment.VideoMIME))
	assert.True(t, s.Supports(segment.AudioMIME))
	assert.False(t, s.Supports(`video/webm; codecs="vp9"`))
}

func TestSink_BufferedRange(t *testing.T) {
	h := newHarness(t)

	_, ok := h.sink.BufferedRange(h.video)
	assert.False(t, ok)

	require.NoError(t, h.submit(h.video, videoSegment(t, true, 180000, 180000)))
	r, ok := h.sink.BufferedRange(h.video)
	require.True(t, ok)
	assert.InDelta(t, 2.0, r.Start, 1e-9)
	assert.InDelta(t, 4.0, r.End, 1e-9)

	require.NoError(t, h.submit(h.video, videoSegment(t, false, 360000, 180000)))
	r, _ = h.sink.BufferedRange(h.video)
	assert.InDelta(t, 2.0, r.Start, 1e-9)
	assert.InDelta(t, 6.0, r.End, 1e-9)
}

func TestSink_DiscontiguousSegmentStartsNewRange(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.submit(h.video, videoSegment(t, true, 0, 90000)))
	require.NoError(t, h.submit(h.video, videoSegment(t, false, 900000, 90000)))

	r, ok := h.sink.BufferedRange(h.video)
	require.True(t, ok)
	assert.InDelta(t, 10.0, r.Start, 1e-9)
	assert.InDelta(t, 11.0, r.End, 1e-9)
}

func TestSink_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		track func(h *harness) player.TrackHandle
		data  func(t *testing.T) []byte
		want  error
	}{
		{
			name:  "media before init",
			track: func(h *harness) player.TrackHandle { return h.video },
			data:  func(t *testing.T) []byte { return videoSegment(t, false, 0, 90000) },
			want:  ErrNoInit,
		},
		{
			name:  "garbage",
			track: func(h *harness) player.TrackHandle { return h.video },
			data:  func(*testing.T) []byte { return []byte("this is not a segment at all") },
			want:  segment.ErrMalformed,
		},
		{
			name:  "audio init on video track",
			track: func(h *harness) player.TrackHandle { return h.video },
			data:  func(t *testing.T) []byte { return audioSegment(t, true, 0, 48000) },
			want:  segment.ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			err := h.submit(tt.track(h), tt.data(t))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSink_BusyWhileDecoding(t *testing.T) {
	h := newHarness(t)

	var first error
	done := false
	h.sink.Submit(h.video, videoSegment(t, true, 0, 90000), func(err error) { first, done = err, true })
	assert.True(t, h.sink.IsBusy(h.video))
	assert.False(t, h.sink.IsBusy(h.audio))

	var second error
	h.sink.Submit(h.video, videoSegment(t, false, 90000, 90000), func(err error) { second = err })
	assert.Error(t, second)

	h.flush()
	require.True(t, done)
	assert.NoError(t, first)
	assert.False(t, h.sink.IsBusy(h.video))
}

func TestSink_PlaybackStallsAndResumes(t *testing.T) {
	h := newHarness(t)
	h.sink.Seek(0)
	assert.False(t, h.sink.Playing(), "nothing buffered yet")

	require.NoError(t, h.submit(h.video, videoSegment(t, true, 0, 180000)))
	assert.False(t, h.sink.Playing(), "audio still missing")
	require.NoError(t, h.submit(h.audio, audioSegment(t, true, 0, 96000)))
	assert.True(t, h.sink.Playing())

	h.advance(time.Second)
	assert.InDelta(t, 1.0, h.sink.Position(), 1e-9)

	h.advance(3 * time.Second)
	assert.False(t, h.sink.Playing())
	assert.InDelta(t, 2.0+StallOvershoot, h.sink.Position(), 1e-9)
	assert.Equal(t, 1, h.sink.Stalls())

	h.advance(time.Second)
	assert.InDelta(t, 2.0+StallOvershoot, h.sink.Position(), 1e-9, "stalled playhead does not move")

	require.NoError(t, h.submit(h.video, videoSegment(t, false, 180000, 180000)))
	require.NoError(t, h.submit(h.audio, audioSegment(t, false, 96000, 96000)))
	assert.True(t, h.sink.Playing())

	h.advance(500 * time.Millisecond)
	assert.InDelta(t, 2.55, h.sink.Position(), 1e-9)
}

func TestSink_ClosedSubmissionFails(t *testing.T) {
	h := newHarness(t)

	var got error
	h.sink.Submit(h.video, videoSegment(t, true, 0, 90000), func(err error) { got = err })
	h.sink.Close()
	h.flush()
	assert.ErrorIs(t, got, ErrClosed)

	_, err := h.sink.AddTrack(segment.VideoMIME)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.sink.Open(func() {}), ErrClosed)
}
