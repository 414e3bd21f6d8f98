package observability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := NewLogger(LogConfig{Service: "orders", Level: "info", File: path, MaxSizeMB: 1}, nil)
	require.NoError(t, err)

	logger.Info("hello")
	logger.Debug("filtered")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"service.name":"orders"`)
	assert.NotContains(t, string(data), "filtered")
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "loud"}, nil)
	assert.Error(t, err)
}

func TestShutdown_JoinsErrors(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	err := Shutdown(context.Background(),
		func(context.Context) error { return first },
		nil,
		func(context.Context) error { return second },
	)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

func TestOtelConfig_Enabled(t *testing.T) {
	assert.False(t, OtelConfig{}.Enabled())
	assert.True(t, OtelConfig{Endpoint: "localhost:4318"}.Enabled())
}
