package player

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvstream/internal/wire"
)

func fragmentMeta(quality string, offset, total int) wire.Metadata {
	return wire.Metadata{
		Type:            wire.TypeServerVideo,
		Channel:         "abc",
		Quality:         quality,
		Timestamp:       180180,
		Duration:        180180,
		ByteOffset:      offset,
		TotalByteLength: total,
	}
}

func fill(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestReassembler_TwoFragments(t *testing.T) {
	var r Reassembler

	chunk, err := r.OnFragment(fill(600, 'a'), fragmentMeta("720p", 0, 1000))
	require.NoError(t, err)
	assert.Nil(t, chunk)
	assert.True(t, r.Pending())

	chunk, err = r.OnFragment(fill(400, 'b'), fragmentMeta("720p", 600, 1000))
	require.NoError(t, err)
	require.NotNil(t, chunk)

	assert.Len(t, chunk.Data, 1000)
	assert.Equal(t, append(fill(600, 'a'), fill(400, 'b')...), chunk.Data)
	assert.Equal(t, 0, chunk.Metadata.ByteOffset)
	assert.Equal(t, 1000, chunk.Metadata.ByteLength)
	assert.False(t, r.Pending())
}

func TestReassembler_SingleFragment(t *testing.T) {
	var r Reassembler
	chunk, err := r.OnFragment(fill(10, 'x'), fragmentMeta("360p", 0, 10))
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Len(t, chunk.Data, 10)
}

func TestReassembler_QualityChangeDiscardsPartial(t *testing.T) {
	var r Reassembler

	_, err := r.OnFragment(fill(500, 'o'), fragmentMeta("1080p", 0, 1000))
	require.NoError(t, err)

	chunk, err := r.OnFragment(fill(300, 'n'), fragmentMeta("480p", 0, 300))
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.NotContains(t, string(chunk.Data), "o")
	assert.Equal(t, "480p", chunk.Metadata.Label())
}

func TestReassembler_RestartAtOffsetZero(t *testing.T) {
	var r Reassembler

	_, err := r.OnFragment(fill(500, 'o'), fragmentMeta("720p", 0, 1000))
	require.NoError(t, err)

	_, err = r.OnFragment(fill(200, 'n'), fragmentMeta("720p", 0, 400))
	require.NoError(t, err)
	chunk, err := r.OnFragment(fill(200, 'n'), fragmentMeta("720p", 200, 400))
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, fill(400, 'n'), chunk.Data)
}

func TestReassembler_ProtocolViolations(t *testing.T) {
	tests := []struct {
		name   string
		second wire.Metadata
		size   int
	}{
		{"gap", fragmentMeta("720p", 700, 1000), 300},
		{"overlap", fragmentMeta("720p", 500, 1000), 500},
		{"overrun", fragmentMeta("720p", 600, 1000), 500},
		{"total changed", fragmentMeta("720p", 600, 1200), 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Reassembler
			_, err := r.OnFragment(fill(600, 'a'), fragmentMeta("720p", 0, 1000))
			require.NoError(t, err)

			chunk, err := r.OnFragment(fill(tt.size, 'b'), tt.second)
			assert.ErrorIs(t, err, ErrProtocolViolation)
			assert.Nil(t, chunk)
			assert.False(t, r.Pending())

			// The next chunk is reassembled normally.
			chunk, err = r.OnFragment(fill(50, 'c'), fragmentMeta("720p", 0, 50))
			require.NoError(t, err)
			require.NotNil(t, chunk)
			assert.Equal(t, fill(50, 'c'), chunk.Data)
		})
	}
}

func TestReassembler_FirstFragmentMidChunk(t *testing.T) {
	var r Reassembler
	_, err := r.OnFragment(fill(100, 'a'), fragmentMeta("720p", 300, 400))
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestReassembler_RandomSplits(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var r Reassembler

	for i := 0; i < 200; i++ {
		total := 1 + rng.Intn(5000)
		data := make([]byte, total)
		rng.Read(data)

		var emitted []*Chunk
		for offset := 0; offset < total; {
			n := 1 + rng.Intn(total-offset)
			chunk, err := r.OnFragment(data[offset:offset+n], fragmentMeta("q", offset, total))
			require.NoError(t, err)
			if chunk != nil {
				emitted = append(emitted, chunk)
			}
			offset += n
		}

		require.Len(t, emitted, 1)
		assert.Equal(t, data, emitted[0].Data)
		assert.False(t, r.Pending())
	}
}
