package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zap.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zap.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("verbose"))
}

func TestUninitializedIsNoop(t *testing.T) {
	Use(nil)
	assert.NotPanics(t, func() {
		Debug("x %d", 1)
		Info("x")
		Warn("x")
		Error("x")
		Sync()
	})
}

func TestLeveledOutput(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	Use(zap.New(core))
	defer Use(nil)

	Info("dropped %s", "info")
	Warn("scenario %s skipped", "2021/05/21")
	Error("failed: %v", "boom")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "scenario 2021/05/21 skipped", entries[0].Message)
		assert.Equal(t, zap.WarnLevel, entries[0].Level)
		assert.Equal(t, "failed: boom", entries[1].Message)
	}
}

func TestInit(t *testing.T) {
	defer Use(nil)
	assert.NotPanics(t, func() {
		Init("debug", "json")
		Debug("json %s", "works")
		Init("info", "text")
		Info("text works")
	})
}
