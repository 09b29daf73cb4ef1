package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-server/internal/pkg/config"
)

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "deploy.log")
	require.NoError(t, Init(&config.LogConfig{Level: "debug", Format: "json", Output: "file", FilePath: path}))

	ForRepo("repoA").Info("deploy started")
	GetWriter().Printf("SELECT %d", 1)
	require.NoError(t, Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"repo":"repoA"`)
	assert.Contains(t, string(content), `"msg":"deploy started"`)
	assert.Contains(t, string(content), "[gorm] SELECT 1")
	assert.Contains(t, string(content), "internal/pkg/logger/logger_test.go:")
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(&config.LogConfig{Level: "verbose", Format: "console", Output: "stdout"}))
	assert.False(t, Log.Core().Enabled(-1))
	assert.True(t, Log.Core().Enabled(0))
}
