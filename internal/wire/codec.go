package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// headerSize is the size of the metadata length prefix.
const headerSize = 2

// ErrMalformedMessage is returned when a message cannot be decoded.
var ErrMalformedMessage = errors.New("malformed message")

// ServerMessage is a decoded server to client message.
type ServerMessage struct {
	Metadata Metadata
	Payload  []byte
}

// DecodeServerMessage splits a binary server message into its JSON metadata
// and payload. The returned payload aliases raw.
func DecodeServerMessage(raw []byte) (*ServerMessage, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: %d byte message shorter than header", ErrMalformedMessage, len(raw))
	}
	n := int(binary.BigEndian.Uint16(raw))
	if headerSize+n > len(raw) {
		return nil, fmt.Errorf("%w: metadata length %d exceeds message length %d", ErrMalformedMessage, n, len(raw))
	}
	header := raw[headerSize : headerSize+n]

	msg := &ServerMessage{Payload: raw[headerSize+n:]}
	if err := json.Unmarshal(header, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	var probe struct {
		InitID *int `json:"initId"`
	}
	if err := json.Unmarshal(header, &probe); err == nil && probe.InitID != nil {
		msg.Metadata.HasInitID = true
	}
	if msg.Metadata.Type == "" {
		return nil, fmt.Errorf("%w: metadata has no type", ErrMalformedMessage)
	}
	msg.Metadata.ByteLength = len(msg.Payload)
	return msg, nil
}

// EncodeServerMessage frames metadata of the given kind and payload into a
// binary server message.
func EncodeServerMessage(kind string, meta any, payload []byte) ([]byte, error) {
	header, err := mergeType(kind, meta)
	if err != nil {
		return nil, err
	}
	if len(header) > math.MaxUint16 {
		return nil, fmt.Errorf("metadata is %d bytes, limit is %d", len(header), math.MaxUint16)
	}

	out := make([]byte, headerSize+len(header)+len(payload))
	binary.BigEndian.PutUint16(out, uint16(len(header)))
	copy(out[headerSize:], header)
	copy(out[headerSize+len(header):], payload)
	return out, nil
}

// EncodeClientMessage returns the JSON text of a client message: the fields
// of msg merged with a "type" field set to kind.
func EncodeClientMessage(kind string, fields any) ([]byte, error) {
	return mergeType(kind, fields)
}

// ClientMessage is a decoded client to server message. Raw holds the full
// JSON object for decoding into the type-specific struct.
type ClientMessage struct {
	Type string
	Raw  json.RawMessage
}

// DecodeClientMessage parses the type of a client message.
func DecodeClientMessage(raw []byte) (*ClientMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("%w: message has no type", ErrMalformedMessage)
	}
	return &ClientMessage{Type: envelope.Type, Raw: raw}, nil
}

// Decode unmarshals the message body into v.
func (m *ClientMessage) Decode(v any) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrMalformedMessage, m.Type, err)
	}
	return nil
}

func mergeType(kind string, fields any) ([]byte, error) {
	obj := map[string]json.RawMessage{}
	if fields != nil {
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", kind, err)
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("encoding %s: fields must be a JSON object: %w", kind, err)
		}
	}
	typ, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	obj["type"] = typ
	return json.Marshal(obj)
}
