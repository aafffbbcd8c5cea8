package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"vehirec/internal/config"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	appCfg := config.AppConfig{
		Name:        "vehirec-test",
		Environment: "test",
		Version:     "1.0.0",
	}

	t.Run("DefaultStdout", func(t *testing.T) {
		logger, closer, err := New(config.LoggingConfig{}, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Nil(t, closer)
	})

	t.Run("Stderr", func(t *testing.T) {
		cfg := config.LoggingConfig{Level: "debug", Output: "stderr"}
		logger, closer, err := New(cfg, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Nil(t, closer)
	})

	t.Run("File", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "vehirec.log")
		cfg := config.LoggingConfig{Level: "error", Output: "file", FilePath: logPath}
		logger, closer, err := New(cfg, appCfg)
		require.NoError(t, err)
		require.NotNil(t, closer)
		logger.Error().Msg("boom")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "boom")
	})

	t.Run("FileMissingPath", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "file"}, appCfg)
		assert.Error(t, err)
	})

	t.Run("UnknownOutput", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "syslog"}, appCfg)
		assert.Error(t, err)
	})
}

func TestNewWithWriter_Fields(t *testing.T) {
	var buf bytes.Buffer
	app := config.AppConfig{Name: "vehirec", Environment: "test", Version: "0.1.0"}
	logger := NewWithWriter(config.LoggingConfig{Level: "invalid"}, app, &buf)

	logger.Debug().Msg("hidden")
	child := Component(logger, "ranker")
	child.Info().Int("epoch", 3).Msg("trained")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "vehirec", entry["app"])
	assert.Equal(t, "ranker", entry["component"])
	assert.Equal(t, "trained", entry["message"])
	assert.EqualValues(t, 3, entry["epoch"])
}

func TestComponent_NilParent(t *testing.T) {
	l := Component(nil, "x")
	l.Info().Msg("dropped")
}
