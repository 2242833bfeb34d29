package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floodwatch.log")

	logger, closeFn, err := New("info", path)
	require.NoError(t, err)
	logger.Info("zone entered")
	logger.Debug("dropped at info level")
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"zone entered"`)
	assert.NotContains(t, string(data), "dropped at info level")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New("loud", "")
	assert.Error(t, err)
}
