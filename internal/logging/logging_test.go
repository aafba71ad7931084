package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func TestMakeJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New().FromConfig(types.LogConfig{Level: "warn", Format: types.LogFormatJSON}).FromWriter(&buf).Make()
	require.NoError(t, err)
	defer l.Close()

	l.Logger.Info().Msg("hidden")
	l.Logger.Warn().Str("component", "mirror").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "mirror", line["component"])
	assert.Contains(t, line, "time")
}

func TestMakeConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := New().FromWriter(&buf).Make()
	require.NoError(t, err)
	l.Logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), "{")
}

func TestMakeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boardstore.log")
	l, err := New().FromConfig(types.LogConfig{Level: "debug", File: path, MaxSizeMB: 1}).Make()
	require.NoError(t, err)
	l.Logger.Debug().Msg("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"to file"`)
}

func TestMakeRejectsBadLevel(t *testing.T) {
	_, err := New().FromConfig(types.LogConfig{Level: "loud"}).Make()
	assert.Error(t, err)
}
