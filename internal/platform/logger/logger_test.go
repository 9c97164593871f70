package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, slog.LevelWarn)

	log.Info("dropped")
	log.Warn("storage blocked", "visitor", "v1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "storage blocked", entry["msg"])
	assert.Equal(t, "ilm", entry["service"])
	assert.Equal(t, "v1", entry["visitor"])
	assert.NotContains(t, buf.String(), "dropped")
}
