package events_test

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/serroba/driftquota/internal/events"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := events.NewZapLogger(zap.New(core))

	logger.Info("info", watermill.LogFields{"topic": "t"})
	logger.Debug("debug", nil)
	logger.Trace("trace", nil)
	logger.Error("error", errors.New("boom"), watermill.LogFields{"n": 1})
	logger.With(watermill.LogFields{"consumer": "audit"}).Info("scoped", nil)

	entries := logs.AllUntimed()
	assert.Len(t, entries, 5)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "t", entries[0].ContextMap()["topic"])
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "boom", entries[3].ContextMap()["error"])
	assert.Equal(t, "audit", entries[4].ContextMap()["consumer"])
}
