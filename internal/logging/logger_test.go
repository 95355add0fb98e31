/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects global output to a buffer for the duration of a test.
func capture(t *testing.T, level Level, jsonMode bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Configure(Config{Level: level, Output: &buf, JSONMode: jsonMode})
	t.Cleanup(func() { Configure(DefaultConfig()) })
	return &buf
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{" Info ", INFO},
		{"WARN", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"unknown", INFO},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseLevel(tt.input), tt.input)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, INFO, cfg.Level)
	assert.False(t, cfg.JSONMode)
	assert.Equal(t, os.Stdout, cfg.Output)
}

func TestLoggerTextOutput(t *testing.T) {
	buf := capture(t, DEBUG, false)

	NewLogger("test").Info("test message", "b", 2, "a", "value")

	out := buf.String()
	assert.Contains(t, out, "test message")
	assert.Contains(t, out, "[test]")
	assert.Contains(t, out, "a=value b=2")
}

func TestLoggerLevelFiltering(t *testing.T) {
	buf := capture(t, WARN, false)

	logger := NewLogger("test")
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
	assert.False(t, logger.Enabled(INFO))
	assert.True(t, logger.Enabled(ERROR))
}

func TestLoggerJSONMode(t *testing.T) {
	buf := capture(t, INFO, true)

	NewLogger("test").Info("json test", "foo", "bar", "err", errors.New("boom"))

	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "json test", entry.Message)
	assert.Equal(t, "test", entry.Component)
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "bar", entry.Fields["foo"])
	assert.Equal(t, "boom", entry.Fields["err"])
}

func TestLoggerWith(t *testing.T) {
	buf := capture(t, INFO, true)

	base := NewLogger("session")
	child := base.With("connection_id", "c-1")
	child.Info("hello", "k", "v")
	base.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "c-1", first.Fields["connection_id"])
	assert.Equal(t, "v", first.Fields["k"])
	assert.Nil(t, second.Fields)
}

func TestLoggerOddArgs(t *testing.T) {
	buf := capture(t, INFO, true)

	NewLogger("test").Info("odd", "key", "value", "dangling")

	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dangling", entry.Fields["extra"])
}

func TestConnectionLogger(t *testing.T) {
	buf := capture(t, DEBUG, false)

	cl := NewConnectionLogger(NewLogger("server"))
	cl.LogNewConnection("id-1", "127.0.0.1:5000", "tcp", false)
	cl.LogAuthRejected("id-1", "127.0.0.1:5000", "mallory")
	cl.LogConnectionClosed("id-1", "127.0.0.1:5000", "eof", 2*time.Second)

	out := buf.String()
	assert.Contains(t, out, "connection_id=id-1")
	assert.Contains(t, out, "username=mallory")
	assert.Contains(t, out, "reason=eof")
	assert.NotContains(t, out, "password")
}

func TestOperationLoggerSkipsDebugWhenDisabled(t *testing.T) {
	buf := capture(t, INFO, false)

	ol := NewOperationLogger(NewLogger("session"))
	ol.LogOperation("id-1", "AddItem", "orders", time.Millisecond, 0)
	assert.Empty(t, buf.String())

	ol.LogDecodeFailure("id-1", 3, errors.New("truncated"))
	assert.Contains(t, buf.String(), "error=truncated")
}
