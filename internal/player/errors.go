package player

import "errors"

var (
	// ErrProtocolViolation means fragment accounting for a chunk is inconsistent.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrChannelMismatch means a message belongs to a channel other than the active one.
	ErrChannelMismatch = errors.New("channel mismatch")
	// ErrSinkRejection means the sink refused a submitted range.
	ErrSinkRejection = errors.New("sink rejected submission")
	// ErrUnsupportedCodec means the sink cannot play the announced codecs.
	ErrUnsupportedCodec = errors.New("unsupported codec")
	// ErrChannelUnavailable is a recoverable server-declared channel problem.
	ErrChannelUnavailable = errors.New("channel unavailable")
	// ErrChannelReinitRequired asks the client to request the channel again.
	ErrChannelReinitRequired = errors.New("channel reinit required")
	// ErrFatalServer is an unrecoverable server-declared error.
	ErrFatalServer = errors.New("fatal server error")
	// ErrConnectionTimeout means reconnection attempts were exhausted.
	ErrConnectionTimeout = errors.New("connection timeout")
)
