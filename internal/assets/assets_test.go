package assets

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticFS_HasIndex(t *testing.T) {
	data, err := fs.ReadFile(StaticFS(), "index.html")
	require.NoError(t, err)
	assert.Contains(t, string(data), "/api/v1/channels")
	assert.Contains(t, string(data), "server.static_dir")
}
