package tools

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgumentHelpers(t *testing.T) {
	args := map[string]any{
		"name":    "Code.gs",
		"empty":   "",
		"flag":    true,
		"count":   float64(3),
		"wrong":   42.0,
		"nothing": nil,
	}

	v, err := RequiredString(args, "name")
	require.NoError(t, err)
	assert.Equal(t, "Code.gs", v)

	_, err = RequiredString(args, "empty")
	assert.ErrorContains(t, err, "empty")
	_, err = RequiredString(args, "missing")
	assert.Error(t, err)

	v, err = OptionalString(args, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)
	_, err = OptionalString(args, "wrong")
	assert.Error(t, err)

	p, err := OptionalStringPtr(args, "empty")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Empty(t, *p)
	p, err = OptionalStringPtr(args, "nothing")
	require.NoError(t, err)
	assert.Nil(t, p)

	b, err := OptionalBool(args, "flag", false)
	require.NoError(t, err)
	assert.True(t, b)
	b, err = OptionalBool(args, "missing", true)
	require.NoError(t, err)
	assert.True(t, b)
	_, err = OptionalBool(args, "name", false)
	assert.Error(t, err)

	n, err := OptionalNumber(args, "count", 0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, n)
	n, err = OptionalNumber(args, "missing", 50)
	require.NoError(t, err)
	assert.Equal(t, 50.0, n)
	_, err = OptionalNumber(args, "name", 0)
	assert.Error(t, err)
}

func TestJSONResult(t *testing.T) {
	result, err := JSONResult(map[string]int{"a": 1})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, text.Text)
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestToolErrorLogger_Disabled(t *testing.T) {
	l, err := NewToolErrorLogger(t.TempDir(), false, newTestLogger())
	require.NoError(t, err)
	assert.False(t, l.IsEnabled())
	assert.NotPanics(t, func() { l.LogToolError("script_patch", nil, errors.New("boom"), "stdio") })
	assert.NoError(t, l.Close())

	var nilLogger *ToolErrorLogger
	assert.False(t, nilLogger.IsEnabled())
	assert.NotPanics(t, func() { nilLogger.LogToolError("x", nil, errors.New("boom"), "stdio") })
}

func TestToolErrorLogger_WritesSanitisedEntries(t *testing.T) {
	dir := t.TempDir()
	l := &ToolErrorLogger{
		enabled:  true,
		logger:   newTestLogger(),
		filePath: filepath.Join(dir, "tool-errors.log"),
		now:      func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	require.NoError(t, l.reopenLocked())

	l.LogToolError("script_patch", map[string]any{
		"project_id":   "abc",
		"replace":      strings.Repeat("x", 500),
		"access_token": "secret",
	}, errors.New("anchor not found"), "stdio")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)

	var entry ToolErrorLogEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "script_patch", entry.ToolName)
	assert.Equal(t, "anchor not found", entry.Error)
	assert.Equal(t, "2026-03-01T12:00:00Z", entry.Timestamp)
	assert.NotContains(t, string(entry.Arguments), "secret")
	assert.Contains(t, string(entry.Arguments), "TRUNCATED 500 bytes")
}

func TestToolErrorLogger_RotateDropsExpiredEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool-errors.log")
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	old := ToolErrorLogEntry{Timestamp: now.AddDate(0, 0, -90).Format(time.RFC3339), ToolName: "old", Error: "e"}
	recent := ToolErrorLogEntry{Timestamp: now.AddDate(0, 0, -1).Format(time.RFC3339), ToolName: "recent", Error: "e"}
	oldLine, _ := json.Marshal(old)
	recentLine, _ := json.Marshal(recent)
	content := string(oldLine) + "\n" + "not json\n" + string(recentLine) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	l := &ToolErrorLogger{enabled: true, logger: newTestLogger(), filePath: path, now: func() time.Time { return now }}
	require.NoError(t, l.rotate())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"old"`)
	assert.Contains(t, string(data), `"recent"`)
	assert.Contains(t, string(data), "not json")
}
