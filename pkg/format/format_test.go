package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bytes(tt.in))
	}
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "0", Number(0))
	assert.Equal(t, "1,234,567", Number(1234567))
}

func TestBitrate(t *testing.T) {
	assert.Equal(t, "2.50 Mbit/s", Bitrate(2_500_000))
	assert.Equal(t, "300.0 kbit/s", Bitrate(300_000))
	assert.Equal(t, "12 bit/s", Bitrate(12))
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, "1.500s", Seconds(1500*time.Millisecond))
	assert.Equal(t, "1,200.000s", Seconds(20*time.Minute))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, "12.5%", Percentage(1, 8))
	assert.Equal(t, "0.0%", Percentage(1, 0))
}
