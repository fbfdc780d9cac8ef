// Package segment builds and inspects the fragmented MP4 segments exchanged
// between the media server and the player. Video and audio travel in
// separate single-track streams, each starting with its own init segment.
package segment

import (
	"bytes"
	"errors"
	"fmt"

	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// TrackID is the track ID used in every generated segment.
const TrackID = 1

// MIME types advertised in server-init for the generated renditions.
const (
	VideoMIME = `video/mp4; codecs="vp09.00.10.08"`
	AudioMIME = `audio/mp4; codecs="opus"`
)

// ErrMalformed is returned for data that is not a well-formed fMP4 segment.
var ErrMalformed = errors.New("malformed segment")

// Kind distinguishes video and audio renditions.
type Kind int

const (
	// KindVideo is a VP9 video rendition.
	KindVideo Kind = iota
	// KindAudio is an Opus audio rendition.
	KindAudio
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// TrackSpec describes the single track of an init segment.
type TrackSpec struct {
	Kind         Kind
	TimeScale    uint32
	Width        int
	Height       int
	ChannelCount int
}

func (s TrackSpec) codec() mp4.Codec {
	if s.Kind == KindAudio {
		channels := s.ChannelCount
		if channels == 0 {
			channels = 2
		}
		return &mp4.CodecOpus{ChannelCount: channels}
	}
	return &mp4.CodecVP9{
		Width:             s.Width,
		Height:            s.Height,
		Profile:           0,
		BitDepth:          8,
		ChromaSubsampling: 1,
		ColorRange:        false,
	}
}

// BuildInit generates an ftyp+moov init segment for one track.
func BuildInit(spec TrackSpec) ([]byte, error) {
	if spec.TimeScale == 0 {
		return nil, errors.New("timescale must be positive")
	}
	init := fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        TrackID,
			TimeScale: spec.TimeScale,
			Codec:     spec.codec(),
		}},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("marshaling init: %w", err)
	}
	return buf.Bytes(), nil
}

// Media describes one moof+mdat media segment.
type Media struct {
	Sequence uint32
	BaseTime uint64
	Duration uint64
	Samples  int
	Size     int
	Keyframe bool
}

// BuildMedia generates a media segment whose samples evenly cover Duration
// ticks starting at BaseTime, carrying Size bytes of filler payload.
func BuildMedia(m Media) ([]byte, error) {
	if m.Samples <= 0 {
		m.Samples = 1
	}
	if m.Duration < uint64(m.Samples) {
		return nil, fmt.Errorf("duration %d too short for %d samples", m.Duration, m.Samples)
	}

	per := m.Duration / uint64(m.Samples)
	size := max(m.Size/m.Samples, 1)
	samples := make([]*fmp4.Sample, 0, m.Samples)
	for i := range m.Samples {
		dur := per
		if i == m.Samples-1 {
			dur = m.Duration - per*uint64(m.Samples-1)
		}
		payload := bytes.Repeat([]byte{byte(m.Sequence + uint32(i))}, size)
		samples = append(samples, &fmp4.Sample{
			Duration:        uint32(dur),
			IsNonSyncSample: i > 0 || !m.Keyframe,
			Payload:         payload,
		})
	}

	part := fmp4.Part{
		SequenceNumber: m.Sequence,
		Tracks: []*fmp4.PartTrack{{
			ID:       TrackID,
			BaseTime: m.BaseTime,
			Samples:  samples,
		}},
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("marshaling part: %w", err)
	}
	return buf.Bytes(), nil
}

var topLevelBoxes = map[gomp4.BoxType]bool{
	gomp4.BoxTypeFtyp(): true,
	gomp4.BoxTypeMoov(): true,
	gomp4.BoxTypeMoof(): true,
	gomp4.BoxTypeMdat(): true,
	gomp4.BoxTypeStyp(): true,
	gomp4.BoxTypeSidx(): true,
	gomp4.BoxTypeFree(): true,
	gomp4.BoxTypeEmsg(): true,
}

// Split separates an optional leading init segment from the media that
// follows it. Either part may be empty, but not both.
func Split(data []byte) (init, media []byte, err error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: empty", ErrMalformed)
	}

	mediaAt := -1
	_, err = gomp4.ReadBoxStructure(bytes.NewReader(data), func(h *gomp4.ReadHandle) (interface{}, error) {
		info := h.BoxInfo
		if !topLevelBoxes[info.Type] {
			return nil, fmt.Errorf("unexpected box %s at offset %d", info.Type, info.Offset)
		}
		if info.Offset+info.Size > uint64(len(data)) {
			return nil, fmt.Errorf("box %s truncated", info.Type)
		}
		if mediaAt < 0 && info.Type == gomp4.BoxTypeMoof() {
			mediaAt = int(info.Offset)
		}
		return nil, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if mediaAt < 0 {
		return data, nil, nil
	}
	return data[:mediaAt], data[mediaAt:], nil
}

// Track is the parsed description of an init segment's track.
type Track struct {
	ID        int
	TimeScale uint32
	Video     bool
}

// ParseInit decodes an init segment.
func ParseInit(data []byte) (Track, error) {
	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(data)); err != nil {
		return Track{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(init.Tracks) == 0 {
		return Track{}, fmt.Errorf("%w: init has no tracks", ErrMalformed)
	}
	t := init.Tracks[0]
	if t.TimeScale == 0 {
		return Track{}, fmt.Errorf("%w: zero timescale", ErrMalformed)
	}
	return Track{ID: t.ID, TimeScale: t.TimeScale, Video: t.Codec.IsVideo()}, nil
}

// Span is a media interval in timescale ticks.
type Span struct {
	Start uint64
	End   uint64
}

// ParseMedia decodes media segments and returns the interval they cover for
// the given track.
func ParseMedia(data []byte, trackID int) (Span, error) {
	var parts fmp4.Parts
	if err := parts.Unmarshal(data); err != nil {
		return Span{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var span Span
	found := false
	for _, part := range parts {
		for _, track := range part.Tracks {
			if track.ID != trackID {
				continue
			}
			end := track.BaseTime
			for _, s := range track.Samples {
				end += uint64(s.Duration)
			}
			if !found {
				span = Span{Start: track.BaseTime, End: end}
				found = true
				continue
			}
			span.Start = min(span.Start, track.BaseTime)
			span.End = max(span.End, end)
		}
	}
	if !found {
		return Span{}, fmt.Errorf("%w: no samples for track %d", ErrMalformed, trackID)
	}
	return span, nil
}
