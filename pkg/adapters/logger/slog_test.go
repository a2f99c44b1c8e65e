// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-zkauth.
//
// go-zkauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-zkauth/pkg/correlation"
)

func newJSONLogger(level Level) (*SlogAdapter, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewSlogAdapter(&SlogConfig{Output: &buf, JSON: true, Level: level}), &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))
	return rec
}

func TestSlogAdapter_Levels(t *testing.T) {
	l, buf := newJSONLogger(LevelWarn)

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown", String("component", "session"))
	rec := lastRecord(t, buf)
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "session", rec["component"])
}

func TestSlogAdapter_WithDoesNotDuplicate(t *testing.T) {
	l, buf := newJSONLogger(LevelDebug)

	child := l.With(String("component", "lifecycle")).With(Int("attempt", 1))
	child.Info("refresh")

	line := bytes.TrimSpace(buf.Bytes())
	assert.Equal(t, 1, bytes.Count(line, []byte(`"component"`)))
	rec := lastRecord(t, buf)
	assert.Equal(t, "lifecycle", rec["component"])
	assert.Equal(t, float64(1), rec["attempt"])
}

func TestSlogAdapter_RedactsSecrets(t *testing.T) {
	l, buf := newJSONLogger(LevelDebug)

	l.Info("stored", String("access_credential", "eyJhbGciOi"), String("renewal_cookie", "c"),
		Email("email", "user@example.com"))
	rec := lastRecord(t, buf)

	assert.Equal(t, redactedValue, rec["access_credential"])
	assert.Equal(t, redactedValue, rec["renewal_cookie"])
	assert.Equal(t, "u***@example.com", rec["email"])
	assert.NotContains(t, buf.String(), "eyJhbGciOi")
}

func TestSlogAdapter_RedactsDirectSlogUse(t *testing.T) {
	l, buf := newJSONLogger(LevelDebug)

	l.Slog().Info("raw", "renewal_token", "abc", slog.Group("session", "seed", "00ff", "user", "u-1"))
	rec := lastRecord(t, buf)

	assert.Equal(t, redactedValue, rec["renewal_token"])
	session := rec["session"].(map[string]any)
	assert.Equal(t, redactedValue, session["seed"])
	assert.Equal(t, "u-1", session["user"])

	l.With(String("authorization", "Bearer x")).Info("child")
	assert.Equal(t, redactedValue, lastRecord(t, buf)["authorization"])
}

func TestSlogAdapter_Context(t *testing.T) {
	l, buf := newJSONLogger(LevelDebug)
	ctx := correlation.With(context.Background(), "corr-123")

	l.Log(ctx, LevelInfo, "request")
	assert.Equal(t, "corr-123", lastRecord(t, buf)["correlation_id"])

	FromContext(ctx, l).Warn("derived")
	assert.Equal(t, "corr-123", lastRecord(t, buf)["correlation_id"])

	FromContext(ctx, l).(*SlogAdapter).Log(ctx, LevelWarn, "both")
	assert.Equal(t, 1, strings.Count(lastLine(buf), "correlation_id"))

	l.Log(context.Background(), LevelError, "no id")
	_, ok := lastRecord(t, buf)["correlation_id"]
	assert.False(t, ok)
}

func TestNewSlogAdapter_Defaults(t *testing.T) {
	l := NewSlogAdapter(nil)
	assert.True(t, l.Slog().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, l.Slog().Enabled(context.Background(), slog.LevelDebug))
}

func lastLine(buf *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	return lines[len(lines)-1]
}
