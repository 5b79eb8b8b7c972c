package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestLogBeforeInit tests that logging is safe before Init configures the
// globals
func TestLogBeforeInit(t *testing.T) {
	require.NotNil(t, Log)
	require.NotNil(t, Sugar)

	assert.NotPanics(t, func() {
		Debug("debug before init")
		Info("info before init", zap.String("key", "value"))
		Warn("warn before init")
		Error("error before init", zap.Error(nil))
		With(zap.String("component", "test")).Info("child logger")
		Sugar.Infow("sugared before init")
	})
}

// TestInit tests that Init replaces the no-op globals with a real logger
func TestInit(t *testing.T) {
	err := Init(&Config{Level: "debug", Format: "json", Service: "test"})
	require.NoError(t, err)

	assert.True(t, Log.Core().Enabled(zap.DebugLevel))
	assert.NotPanics(t, func() {
		Info("info after init")
	})
}
