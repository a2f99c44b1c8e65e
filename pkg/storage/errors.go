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

package storage

import (
	"errors"
	"fmt"
)

var (
	ErrClosed   = errors.New("storage: closed")
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidKey rejects keys that are empty or escape the backend
	// namespace.
	ErrInvalidKey = errors.New("storage: invalid key")

	// ErrInvalidData reports a value that could not be opened or decoded.
	ErrInvalidData = errors.New("storage: invalid data")
)

// KeyError annotates a backend failure with the operation and key.
type KeyError struct {
	Op  string
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

func keyError(op, key string, err error) error {
	return &KeyError{Op: op, Key: key, Err: err}
}

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
