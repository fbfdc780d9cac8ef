package player

// TrackHandle identifies a track allocated in a Sink.
type TrackHandle int

// TimeRange is a buffered interval in seconds.
type TimeRange struct {
	Start float64
	End   float64
}

// Sink is the decoding and rendering capability that buffered media is fed
// into. Methods are called from the session event loop only; completion
// callbacks may be invoked from any goroutine.
type Sink interface {
	// Supports reports whether the sink can decode the given codec string.
	Supports(codec string) bool
	// Open allocates the sink. ready is called once tracks may be added.
	Open(ready func()) error
	// AddTrack allocates a buffer for one track.
	AddTrack(codec string) (TrackHandle, error)
	// Submit hands data to a track. done is called exactly once, with a
	// non-nil error if the sink rejected the data.
	Submit(h TrackHandle, data []byte, done func(error))
	// BufferedRange returns the buffered interval of a track, if any.
	BufferedRange(h TrackHandle) (TimeRange, bool)
	// IsBusy reports whether a submission to the track is still being consumed.
	IsBusy(h TrackHandle) bool
	// Position returns the current playback position in seconds.
	Position() float64
	// Playing reports whether the sink is actively consuming media.
	Playing() bool
	// Seek moves the playback position.
	Seek(seconds float64)
	// Close releases the sink.
	Close()
}

// Track is one of the two media tracks of an AV source.
type Track int

const (
	// TrackVideo is the video track.
	TrackVideo Track = iota
	// TrackAudio is the audio track.
	TrackAudio
)

// String returns the string representation of the track.
func (t Track) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	default:
		return "unknown"
	}
}
