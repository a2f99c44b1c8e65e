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
	"slices"
	"strings"
	"sync"
)

// MemoryBackend keeps values in process memory. It backs ephemeral
// client profiles and tests. Values are copied on the way in and out and
// zeroed when replaced, deleted or closed, since they are session keys
// and credentials.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemory returns an empty MemoryBackend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.values == nil {
		return nil, ErrClosed
	}
	v, ok := m.values[key]
	if !ok {
		return nil, keyError("get", key, ErrNotFound)
	}
	return slices.Clone(v), nil
}

// Put validates key and stores a private copy of value. opts is ignored.
func (m *MemoryBackend) Put(key string, value []byte, _ *Options) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		return ErrClosed
	}
	zero(m.values[key])
	m.values[key] = append(make([]byte, 0, len(value)), value...)
	return nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		return ErrClosed
	}
	v, ok := m.values[key]
	if !ok {
		return keyError("delete", key, ErrNotFound)
	}
	zero(v)
	delete(m.values, key)
	return nil
}

func (m *MemoryBackend) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.values == nil {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *MemoryBackend) Exists(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.values == nil {
		return false, ErrClosed
	}
	_, ok := m.values[key]
	return ok, nil
}

// Len returns the number of stored keys, or zero once closed.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Close zeroes every value. Closing twice is a no-op.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.values {
		zero(v)
	}
	m.values = nil
	return nil
}

func zero(b []byte) {
	clear(b)
}
