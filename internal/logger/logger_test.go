package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Session", "hidden %d", 1)
	l.Warn("Session", "shown %d", 2)
	l.Error("", "bare")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] [Session] shown 2")
	assert.Contains(t, out, "[ERROR] bare")

	buf.Reset()
	l.SetLevel(SILENT)
	l.Error("Session", "nothing")
	assert.Empty(t, buf.String())
}

func TestLoggerColor(t *testing.T) {
	var buf bytes.Buffer
	New(DEBUG, &buf, true).Debug("Loop", "tick")
	assert.True(t, strings.Contains(buf.String(), levelColors[DEBUG]+"[DEBUG]"+resetColor))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{"debug": DEBUG, "INFO": INFO, "warning": WARN, "error": ERROR, "none": SILENT} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.log")
	w := OpenFile(FileOptions{Path: path})
	New(INFO, w, false).Info("Main", "started")
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO] [Main] started")
}
