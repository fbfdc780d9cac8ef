// Package wire implements the streaming protocol framing.
//
// Server to client messages are binary: a big-endian uint16 length N, N bytes
// of UTF-8 JSON metadata, then the raw media payload. Client to server
// messages are JSON text objects carrying a "type" field.
package wire

// Server message types.
const (
	TypeServerInit  = "server-init"
	TypeServerVideo = "server-video"
	TypeServerAudio = "server-audio"
	TypeServerError = "server-error"
)

// Client message types.
const (
	TypeClientInit   = "client-init"
	TypeClientInfo   = "client-info"
	TypeClientVidAck = "client-vidack"
	TypeClientAudAck = "client-audack"
)

// Server error types carried in server-error messages.
const (
	ErrorTypeDrop        = "drop"
	ErrorTypeMaintenance = "maintenance"
	ErrorTypeChannel     = "channel"
	ErrorTypeUnavailable = "unavailable"
	ErrorTypeReinit      = "reinit"
)

// IsFatalErrorType reports whether a server-error type ends the session.
func IsFatalErrorType(errorType string) bool {
	return errorType == ErrorTypeDrop || errorType == ErrorTypeMaintenance
}

// Client-info event names.
const (
	EventStartup  = "startup"
	EventRebuffer = "rebuffer"
	EventPlay     = "play"
	EventTimer    = "timer"
	EventCanPlay  = "canplay"
)

// Metadata is the JSON header of a server message. It is the union of the
// fields used by every server message type; Type selects which are meaningful.
type Metadata struct {
	Type   string `json:"type"`
	InitID int    `json:"initId"`
	// HasInitID is false when the header carried no initId field.
	HasInitID bool `json:"-"`

	Channel string `json:"channel,omitempty"`

	// server-init
	VideoCodec         string `json:"videoCodec,omitempty"`
	AudioCodec         string `json:"audioCodec,omitempty"`
	Timescale          uint32 `json:"timescale,omitempty"`
	VideoDuration      uint64 `json:"videoDuration,omitempty"`
	AudioDuration      uint64 `json:"audioDuration,omitempty"`
	InitVideoTimestamp uint64 `json:"initVideoTimestamp"`
	InitAudioTimestamp uint64 `json:"initAudioTimestamp"`
	CanResume          bool   `json:"canResume"`

	// server-video, server-audio
	Quality         string   `json:"quality,omitempty"`
	Format          string   `json:"format,omitempty"`
	Timestamp       uint64   `json:"timestamp"`
	Duration        uint64   `json:"duration,omitempty"`
	ByteOffset      int      `json:"byteOffset"`
	TotalByteLength int      `json:"totalByteLength"`
	SSIM            *float64 `json:"ssim,omitempty"`

	// server-error
	ErrorType    string `json:"errorType,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	// ByteLength is the length of the payload that accompanied this header.
	ByteLength int `json:"-"`
}

// Label returns the quality label of a media chunk, falling back to the
// older "format" field.
func (m *Metadata) Label() string {
	if m.Quality != "" {
		return m.Quality
	}
	return m.Format
}

// ServerInit describes a new audio/video source.
type ServerInit struct {
	Channel            string `json:"channel"`
	VideoCodec         string `json:"videoCodec"`
	AudioCodec         string `json:"audioCodec"`
	Timescale          uint32 `json:"timescale"`
	VideoDuration      uint64 `json:"videoDuration"`
	AudioDuration      uint64 `json:"audioDuration"`
	InitVideoTimestamp uint64 `json:"initVideoTimestamp"`
	InitAudioTimestamp uint64 `json:"initAudioTimestamp"`
	CanResume          bool   `json:"canResume"`
	InitID             int    `json:"initId"`
}

// Init extracts the server-init descriptor from a header.
func (m *Metadata) Init() ServerInit {
	return ServerInit{
		Channel:            m.Channel,
		VideoCodec:         m.VideoCodec,
		AudioCodec:         m.AudioCodec,
		Timescale:          m.Timescale,
		VideoDuration:      m.VideoDuration,
		AudioDuration:      m.AudioDuration,
		InitVideoTimestamp: m.InitVideoTimestamp,
		InitAudioTimestamp: m.InitAudioTimestamp,
		CanResume:          m.CanResume,
		InitID:             m.InitID,
	}
}

// ServerMedia is the header of a server-video or server-audio fragment.
type ServerMedia struct {
	Channel         string   `json:"channel"`
	Quality         string   `json:"quality"`
	Timestamp       uint64   `json:"timestamp"`
	Duration        uint64   `json:"duration"`
	ByteOffset      int      `json:"byteOffset"`
	TotalByteLength int      `json:"totalByteLength"`
	SSIM            *float64 `json:"ssim,omitempty"`
	InitID          int      `json:"initId"`
}

// ServerError reports a server-side condition to the client.
type ServerError struct {
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
	InitID       int    `json:"initId,omitempty"`
}

// ClientInit starts or resumes a session on a channel.
type ClientInit struct {
	InitID       int     `json:"initId"`
	SessionKey   string  `json:"sessionKey" masq:"secret"`
	UserName     string  `json:"userName,omitempty"`
	Channel      string  `json:"channel"`
	OS           string  `json:"os"`
	Browser      string  `json:"browser"`
	ScreenWidth  int     `json:"screenWidth"`
	ScreenHeight int     `json:"screenHeight"`
	NextVTS      *uint64 `json:"nextVts,omitempty"`
	NextATS      *uint64 `json:"nextAts,omitempty"`
}

// ClientInfo is a playback telemetry snapshot.
type ClientInfo struct {
	InitID          int     `json:"initId"`
	Event           string  `json:"event"`
	VideoBufferLen  float64 `json:"videoBufferLen"`
	AudioBufferLen  float64 `json:"audioBufferLen"`
	CumRebufferTime int64   `json:"cumRebufferTime"` // milliseconds
	PlaybackState   string  `json:"playbackState,omitempty"`
	StartupDelay    *int64  `json:"startupDelay,omitempty"` // milliseconds
	ScreenWidth     int     `json:"screenWidth,omitempty"`
	ScreenHeight    int     `json:"screenHeight,omitempty"`
}

// ClientAck acknowledges a media chunk that the client has buffered.
type ClientAck struct {
	InitID          int      `json:"initId"`
	Channel         string   `json:"channel"`
	Quality         string   `json:"quality"`
	Timestamp       uint64   `json:"timestamp"`
	Duration        uint64   `json:"duration"`
	ByteOffset      int      `json:"byteOffset"`
	TotalByteLength int      `json:"totalByteLength"`
	ByteLength      int      `json:"byteLength"`
	SSIM            *float64 `json:"ssim,omitempty"`
	VideoBufferLen  float64  `json:"videoBufferLen"`
	AudioBufferLen  float64  `json:"audioBufferLen"`
	CumRebufferTime int64    `json:"cumRebufferTime"`
}
