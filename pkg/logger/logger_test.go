package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(t *testing.T) (*Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return FromZap(zap.New(core)), logs
}

func TestKeyValueLogging(t *testing.T) {
	log, logs := observed(t)

	log.Info("order placed", "order_id", "o1", "total", 25.99)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "order placed", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "o1", fields["order_id"])
	assert.Equal(t, 25.99, fields["total"])
}

func TestWithAddsContext(t *testing.T) {
	log, logs := observed(t)

	log.With("component", "session").Warn("refresh failed", "attempt", int64(2))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "session", fields["component"])
	assert.Equal(t, int64(2), fields["attempt"])
}

func TestLevels(t *testing.T) {
	log, logs := observed(t)

	log.Debug("d")
	log.Info("i")
	log.Warn("w")
	log.Error("e")

	require.Equal(t, 4, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[3].Level)
}

func TestNopDiscards(t *testing.T) {
	log := NewNop()
	log.Info("nothing happens")
	assert.NoError(t, log.Sync())
}

func TestNewConstructs(t *testing.T) {
	log := New("test")
	require.NotNil(t, log)
	log.Debug("below default level, suppressed")
}
