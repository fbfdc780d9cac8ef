package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_LinkerValuesWin(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = oldVersion, oldCommit, oldDate })

	Version, Commit, Date = "1.2.3", "0123456789abcdef", "2026-01-02"
	info := Get()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "01234567", info.ShortCommit())
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Contains(t, info.String(), "tvstream 1.2.3 (01234567, 2026-01-02)")
}

func TestInfo_String(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"no commit", Info{Version: "dev", GoVersion: "go1.25", Platform: "linux/amd64"}, "tvstream dev go1.25 linux/amd64"},
		{"dirty", Info{Version: "dev", Commit: "abc", Modified: true, GoVersion: "go1.25", Platform: "linux/arm64"}, "tvstream dev (abc-dirty) go1.25 linux/arm64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.String())
		})
	}
}

func TestUserAgent(t *testing.T) {
	oldVersion := Version
	t.Cleanup(func() { Version = oldVersion })

	Version = "0.4.0"
	assert.Equal(t, "tvstream/0.4.0", UserAgent())
}
