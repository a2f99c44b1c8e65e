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
	"path"
	"strings"
)

// Key prefixes shared by the session store and the key providers.
const (
	SessionPrefix = "session/"
	PrefsPrefix   = "prefs/"
	ExportPrefix  = "export/"
)

// SessionKey returns the storage key of a session record group.
func SessionKey(group string) string {
	return SessionPrefix + group
}

// PrefKey returns the storage key of a named preference.
func PrefKey(name string) string {
	return PrefsPrefix + name
}

// ExportKey returns the key under which key is preserved by an export
// taken at the given unix time.
func ExportKey(stamp int64, key string) string {
	return fmt.Sprintf("%s%d/%s", ExportPrefix, stamp, key)
}

// ValidateKey rejects keys that are empty, absolute, contain NUL bytes or
// traverse outside the backend namespace.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("%w: key contains null byte", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: key cannot be an absolute path", ErrInvalidKey)
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") ||
		strings.Contains(cleaned, "/../") || strings.HasSuffix(cleaned, "/..") {
		return fmt.Errorf("%w: key contains path traversal attempt", ErrInvalidKey)
	}
	return nil
}

// CopyPrefix copies every key under prefix to dstPrefix + the remainder of
// the key. It returns the number of keys copied.
func CopyPrefix(backend Backend, prefix, dstPrefix string) (int, error) {
	keys, err := backend.List(prefix)
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, k := range keys {
		value, err := backend.Get(k)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return copied, err
		}
		if err := backend.Put(dstPrefix+strings.TrimPrefix(k, prefix), value, nil); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}

// DeletePrefix removes every key under prefix and returns the number of
// keys removed.
func DeletePrefix(backend Backend, prefix string) (int, error) {
	keys, err := backend.List(prefix)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, k := range keys {
		if err := backend.Delete(k); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
