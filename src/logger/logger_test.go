package logger

import (
	"os"
	"path/filepath"
	"testing"

	"homelink/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	err := InitLogger(model.LogConfig{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestInitLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "homelink.log")
	require.NoError(t, InitLogger(model.LogConfig{Level: "debug", Format: "json", Output: "file", FilePath: path}))
	t.Cleanup(func() { _ = InitLogger(model.LogConfig{Level: "info", Output: "stderr"}) })

	Info().Str("session_id", "abc12345").Msg("turn finished")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"abc12345"`)
	assert.Contains(t, string(data), "turn finished")
}

func TestSessionLoggerTagsComponentAndSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	require.NoError(t, InitLogger(model.LogConfig{Level: "info", Output: "file", FilePath: path}))
	t.Cleanup(func() { _ = InitLogger(model.LogConfig{Level: "info", Output: "stderr"}) })

	sl := Session("conversation", "s0000001")
	sl.Info().Msg("Conversation started")
	cl := Component("listener")
	cl.Debug().Msg("below the level")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"component":"conversation"`)
	assert.Contains(t, out, `"session_id":"s0000001"`)
	assert.Contains(t, out, `"service":"homelink"`)
	assert.NotContains(t, out, "below the level")
}
