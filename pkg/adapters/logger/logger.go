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

// Package logger is the structured logging facade used by every zkauth
// component. Fields whose keys name credentials or secrets are redacted
// by the slog adapter, and public key material is logged as a short
// fingerprint.
package logger

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Level is a log severity.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int8(l))
}

// ParseLevel parses a level name as written in configuration files. An
// empty name is LevelInfo.
func ParseLevel(s string) (Level, error) {
	var l Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}

// UnmarshalText lets a Level be decoded directly from YAML or env values.
func (l *Level) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "debug":
		*l = LevelDebug
	case "", "info":
		*l = LevelInfo
	case "warn", "warning":
		*l = LevelWarn
	case "error":
		*l = LevelError
	default:
		*l = LevelInfo
		return fmt.Errorf("logger: unknown level %q", text)
	}
	return nil
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(l.String())), nil
}

// Logger is implemented by SlogAdapter and NoOpLogger.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger that adds fields to every line.
	With(fields ...Field) Logger
}

// Field is a structured key/value pair.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

// Error returns the conventional "error" field.
func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Fingerprint creates a field holding a short, stable digest of public key
// material or an identifier, so log lines can be correlated without
// printing the value itself.
func Fingerprint(key string, value []byte) Field {
	if len(value) == 0 {
		return Field{Key: key, Value: ""}
	}
	sum := blake2b.Sum256(value)
	return Field{Key: key, Value: hex.EncodeToString(sum[:6])}
}

// Email masks the local part of an address, keeping its first character
// and the domain: "alice@example.com" becomes "a***@example.com".
func Email(key, email string) Field {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return Field{Key: key, Value: "***"}
	}
	return Field{Key: key, Value: local[:1] + "***@" + domain}
}
