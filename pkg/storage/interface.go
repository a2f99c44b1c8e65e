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

// Package storage defines the client-local key-value store that holds
// session records, preferences and custodied key material. Backends are
// provided for memory, the filesystem and SQLite.
package storage

import (
	"io/fs"
)

// Backend is a flat key-value store addressed by slash separated keys
// such as "session/auth". Values are opaque. A Backend is shared by the
// session store, the key providers and the cookie jar, so every
// implementation must be safe for concurrent use.
type Backend interface {
	// Get returns a copy of the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put replaces the value stored under key. opts may be nil.
	Put(key string, value []byte, opts *Options) error

	// Delete removes key, or returns ErrNotFound.
	Delete(key string) error

	// List returns the keys under prefix in lexical order. An empty
	// prefix lists everything.
	List(prefix string) ([]string, error)

	Exists(key string) (bool, error)

	// Close releases the backend. Calls after Close return ErrClosed.
	Close() error
}

// Options tunes a single Put.
type Options struct {
	// Mode is the file mode used by backends that write files. Zero
	// means OwnerOnlyMode.
	Mode fs.FileMode
}

// OwnerOnlyMode is the file mode of every persisted session record.
const OwnerOnlyMode fs.FileMode = 0600

// OwnerOnly returns Options restricting the value to its owner.
func OwnerOnly() *Options {
	return &Options{Mode: OwnerOnlyMode}
}

// FileMode returns the mode requested by opts.
func (o *Options) FileMode() fs.FileMode {
	if o == nil || o.Mode == 0 {
		return OwnerOnlyMode
	}
	return o.Mode
}
