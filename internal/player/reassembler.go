package player

import (
	"fmt"

	"github.com/jmylchreest/tvstream/internal/wire"
)

// Chunk is a complete media segment for one track.
type Chunk struct {
	Metadata wire.Metadata
	Data     []byte
}

// Reassembler accumulates the fragments of one logical chunk per track.
// Fragments must arrive in offset order.
type Reassembler struct {
	label     string
	total     int
	received  int
	fragments [][]byte
}

// OnFragment adds a fragment. It returns the chunk when the fragment completes
// it, or nil while the chunk is still pending. Inconsistent byte accounting
// discards the partial chunk and returns ErrProtocolViolation.
func (r *Reassembler) OnFragment(payload []byte, md wire.Metadata) (*Chunk, error) {
	// A new quality, or a fragment at offset zero, starts a new chunk. Any
	// partial chunk is abandoned; the server may abort mid-chunk.
	if md.Label() != r.label || md.ByteOffset == 0 {
		r.reset()
		r.label = md.Label()
		r.total = md.TotalByteLength
	}

	switch {
	case md.ByteOffset != r.received:
		r.reset()
		return nil, fmt.Errorf("%w: fragment at offset %d, expected %d", ErrProtocolViolation, md.ByteOffset, r.received)
	case md.TotalByteLength != r.total:
		r.reset()
		return nil, fmt.Errorf("%w: total length changed from %d to %d", ErrProtocolViolation, r.total, md.TotalByteLength)
	case md.ByteOffset+len(payload) > md.TotalByteLength:
		r.reset()
		return nil, fmt.Errorf("%w: fragment ends at %d past total %d", ErrProtocolViolation, md.ByteOffset+len(payload), md.TotalByteLength)
	}

	r.fragments = append(r.fragments, payload)
	r.received += len(payload)
	if r.received < r.total {
		return nil, nil
	}

	data := make([]byte, 0, r.total)
	for _, f := range r.fragments {
		data = append(data, f...)
	}
	md.ByteOffset = 0
	md.ByteLength = r.total
	r.reset()
	return &Chunk{Metadata: md, Data: data}, nil
}

// Pending reports whether a partial chunk is buffered.
func (r *Reassembler) Pending() bool {
	return r.received > 0
}

// Reset discards any partial chunk and the tracked quality label.
func (r *Reassembler) Reset() {
	r.reset()
	r.label = ""
}

func (r *Reassembler) reset() {
	r.fragments = nil
	r.received = 0
}
