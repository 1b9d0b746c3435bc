package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "warn", Format: "json"}, &buf)

	log.Info().Msg("hidden")
	log.Warn().Str("tenant", "t1").Msg("budget warned")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"tenant":"t1"`)
	assert.True(t, strings.HasPrefix(out, "{"))
}

func TestNewWithWriterConsoleAndBadLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "loud", Format: "Console"}, &buf)

	log.Debug().Msg("hidden")
	log.Info().Msg("cache sweep")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "cache sweep")
	assert.False(t, strings.HasPrefix(out, "{"))
}
