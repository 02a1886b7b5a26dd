package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZapLogger_Levels(t *testing.T) {
	for _, level := range []string{"DEBUG", "info", "Warn", "ERROR", "FATAL", "bogus"} {
		logger, err := NewZapLogger(level)
		require.NoError(t, err, "level %s", level)
		require.NotNil(t, logger)
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, level)
	assert.Equal(t, "DEBUG", level.String())

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestConvertToZapFields(t *testing.T) {
	logger := NewNop()

	fields := logger.convertToZapFields([]interface{}{"key1", "value1", "key2", 42})
	assert.Len(t, fields, 2)
	assert.Equal(t, "key1", fields[0].Key)
	assert.Equal(t, "key2", fields[1].Key)

	// Odd trailing value is dropped rather than panicking.
	fields = logger.convertToZapFields([]interface{}{"key1", "value1", "dangling"})
	assert.Len(t, fields, 1)

	// Non-string keys are stringified.
	fields = logger.convertToZapFields([]interface{}{123, "value"})
	assert.Len(t, fields, 1)
	assert.Equal(t, "123", fields[0].Key)
}

func TestWithFieldChaining(t *testing.T) {
	logger := NewNop()

	child := logger.WithField("component", "engine")
	require.NotNil(t, child)
	grandchild := child.WithFields(map[string]interface{}{"symbol": "BTC/USDT", "side": "buy"})
	require.NotNil(t, grandchild)

	// Must not disturb the parent; all three log without panicking.
	logger.Info("parent")
	child.Info("child")
	grandchild.Debug("grandchild", "extra", true)
}

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	nop := NewNop()
	SetGlobalLogger(nop)
	assert.Equal(t, GetGlobalLogger(), nop)

	Debug("debug msg", "k", "v")
	Info("info msg")
	Warn("warn msg")
	Error("error msg")
}
