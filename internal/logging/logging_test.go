package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thnyheim/misp2bro/internal/config"
)

func TestNewWritesRotatedFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "misp2bro.log")
	logger, closeLog, err := New(config.LogConfig{Level: "info", Format: "console", File: p, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	logger.Debug("not written")
	logger.Info("feed published", zap.Int("records", 3))
	closeLog()

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "feed published", entry["msg"])
	assert.Equal(t, float64(3), entry["records"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: "loud"})
	assert.ErrorContains(t, err, "log level")

	_, _, err = New(config.LogConfig{Level: "info", Format: "xml"})
	assert.ErrorContains(t, err, "unknown log format")
}

func TestNewWithoutFile(t *testing.T) {
	logger, closeLog, err := New(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	closeLog()
}
