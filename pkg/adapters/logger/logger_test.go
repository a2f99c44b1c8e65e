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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "LEVEL(9)", Level(9).String())
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug, "": LevelInfo, " INFO ": LevelInfo,
		"warning": LevelWarn, "warn": LevelWarn, "error": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	got, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, LevelInfo, got)
}

func TestLevel_YAML(t *testing.T) {
	var cfg struct {
		Level Level `yaml:"level"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("level: warn\n"), &cfg))
	assert.Equal(t, LevelWarn, cfg.Level)
	assert.Error(t, yaml.Unmarshal([]byte("level: shout\n"), &cfg))

	out, err := yaml.Marshal(struct {
		Level Level `yaml:"level"`
	}{LevelDebug})
	require.NoError(t, err)
	assert.Equal(t, "level: debug\n", string(out))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("key", []byte("public-key-bytes"))
	b := Fingerprint("key", []byte("public-key-bytes"))
	c := Fingerprint("key", []byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Value, c.Value)
	assert.Len(t, a.Value, 12)
	assert.Equal(t, "", Fingerprint("key", nil).Value)
}

func TestEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice@example.com", "a***@example.com"},
		{"b@example.org", "b***@example.org"},
		{"@example.com", "***"},
		{"not-an-email", "***"},
		{"", "***"},
	}
	for _, tt := range tests {
		assert.Equal(t, Field{Key: "email", Value: tt.want}, Email("email", tt.in), tt.in)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Debug("x")
	l.Info("x")
	l.Warn("x", Email("email", "alice@example.com"))
	l.Error("x")
	assert.Equal(t, l, l.With(String("k", "v")))
}
