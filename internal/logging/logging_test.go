package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestNewWithWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("shown", "meal", "Oatmeal")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "Oatmeal", line["meal"])
}

func TestErrAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info")

	err := goerr.Wrap(errors.New("boom"), "failed to archive", goerr.V("session_id", "abc"))
	logger.Error("close day", ErrAttr(err))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	group, ok := line["error"].(map[string]any)
	require.True(t, ok, "goerr values are logged as a group")
	assert.Contains(t, group["message"], "boom")
	values, ok := group["values"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc", values["session_id"])
}

func TestErrAttrPlainError(t *testing.T) {
	attr := ErrAttr(errors.New("plain"))
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "plain", attr.Value.String())
}

func TestNewWithLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger, cleanup, err := New("info", path)
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, logger)
}
