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

// NoOpLogger discards everything.
type NoOpLogger struct{}

// Discard returns a Logger that drops every message.
func Discard() Logger {
	return NoOpLogger{}
}

func (NoOpLogger) Debug(string, ...Field) {}
func (NoOpLogger) Info(string, ...Field) {}
func (NoOpLogger) Warn(string, ...Field) {}
func (NoOpLogger) Error(string, ...Field) {}
func (n NoOpLogger) With(...Field) Logger { return n }
