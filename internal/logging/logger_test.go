// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	return entries
}

// =====================================================
// Output Format Tests
// =====================================================

func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)

	l.Info("sync pass finished", map[string]interface{}{"uploaded": 3})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "sync pass finished", entries[0]["message"])
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, float64(3), entries[0]["uploaded"])
	assert.NotEmpty(t, entries[0]["timestamp"])
}

func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)

	l.Error("upload failed", errors.New("connection reset"), map[string]interface{}{"seq": 7})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "connection reset", entries[0]["error"])
	assert.Equal(t, float64(7), entries[0]["seq"])
}

func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)

	l.ErrorWithCode("operation dead-lettered", "SYNC_FAILED", errors.New("rejected"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "SYNC_FAILED", entries[0]["code"])
}

func TestLogger_mergesContexts(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Debug("merged", map[string]interface{}{"a": 1}, map[string]interface{}{"b": 2}, nil)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(1), entries[0]["a"])
	assert.Equal(t, float64(2), entries[0]["b"])
}

// =====================================================
// Level Tests
// =====================================================

func TestLogger_levelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown", nil)

	assert.Len(t, decodeLines(t, &buf), 2)

	l.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, l.Level())
	l.Debug("now shown")
	assert.Len(t, decodeLines(t, &buf), 3)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestGet_returnsGlobal(t *testing.T) {
	assert.NotNil(t, Get())
	assert.Same(t, Get(), Get())
}
