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

// Package file stores each key as one file beneath a root directory.
// All access goes through an os.Root, so neither a crafted key nor a
// planted symlink can reach outside the profile directory. Values may be
// sealed at rest to an age identity.
package file

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"filippo.io/age"

	"github.com/jeremyhahn/go-zkauth/pkg/storage"
)

const (
	dirMode    fs.FileMode = 0700
	tempSuffix             = ".tmp"
)

// Option configures a FileStorage.
type Option func(*FileStorage)

// WithIdentity seals every value to identity before it is written and
// opens it on read.
func WithIdentity(identity *age.X25519Identity) Option {
	return func(f *FileStorage) {
		f.identity = identity
	}
}

// FileStorage implements storage.Backend on a directory tree. Writes go
// to a temporary sibling and are renamed into place.
type FileStorage struct {
	mu       sync.RWMutex
	dir      string
	root     *os.Root
	identity *age.X25519Identity
}

// New opens dir, creating it owner-only if needed.
func New(dir string, opts ...Option) (*FileStorage, error) {
	if dir == "" {
		return nil, errors.New("file storage: root directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("file storage: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, dirMode); err != nil {
		return nil, fmt.Errorf("file storage: create %s: %w", abs, err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("file storage: open %s: %w", abs, err)
	}

	f := &FileStorage{dir: abs, root: root}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Dir returns the absolute root directory.
func (f *FileStorage) Dir() string {
	return f.dir
}

func (f *FileStorage) Get(key string) ([]byte, error) {
	name, err := fileName(key)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.root == nil {
		return nil, storage.ErrClosed
	}

	data, err := f.root.ReadFile(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, &storage.KeyError{Op: "get", Key: key, Err: storage.ErrNotFound}
	case err != nil:
		return nil, &storage.KeyError{Op: "get", Key: key, Err: err}
	case f.identity == nil:
		return data, nil
	}
	return f.open(key, data)
}

func (f *FileStorage) Put(key string, value []byte, opts *storage.Options) error {
	name, err := fileName(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.root == nil {
		return storage.ErrClosed
	}

	if f.identity != nil {
		if value, err = f.seal(value); err != nil {
			return &storage.KeyError{Op: "seal", Key: key, Err: err}
		}
	}
	if dir := path.Dir(name); dir != "." {
		if err := f.root.MkdirAll(dir, dirMode); err != nil {
			return &storage.KeyError{Op: "put", Key: key, Err: err}
		}
	}

	tmp := name + tempSuffix
	if err := f.root.WriteFile(tmp, value, opts.FileMode()); err != nil {
		return &storage.KeyError{Op: "put", Key: key, Err: err}
	}
	if err := f.root.Rename(tmp, name); err != nil {
		_ = f.root.Remove(tmp)
		return &storage.KeyError{Op: "put", Key: key, Err: err}
	}
	return nil
}

func (f *FileStorage) Delete(key string) error {
	name, err := fileName(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.root == nil {
		return storage.ErrClosed
	}

	err = f.root.Remove(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &storage.KeyError{Op: "delete", Key: key, Err: storage.ErrNotFound}
	case err != nil:
		return &storage.KeyError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// List walks the tree and returns the keys under prefix in lexical
// order. Leftover temporary files are skipped.
func (f *FileStorage) List(prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.root == nil {
		return nil, storage.ErrClosed
	}

	var keys []string
	err := fs.WalkDir(f.root.FS(), ".", func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir(), strings.HasSuffix(p, tempSuffix):
			return nil
		case strings.HasPrefix(p, prefix):
			keys = append(keys, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file storage: list %q: %w", prefix, err)
	}
	slices.Sort(keys)
	return keys, nil
}

func (f *FileStorage) Exists(key string) (bool, error) {
	name, err := fileName(key)
	if err != nil {
		return false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.root == nil {
		return false, storage.ErrClosed
	}

	_, err = f.root.Stat(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, &storage.KeyError{Op: "stat", Key: key, Err: err}
	}
	return true, nil
}

// Close releases the directory handle. Files are left in place.
func (f *FileStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.root == nil {
		return nil
	}
	err := f.root.Close()
	f.root = nil
	return err
}

// fileName maps a key to its slash separated name inside the root.
func fileName(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	if strings.HasSuffix(key, tempSuffix) {
		return "", fmt.Errorf("%w: reserved suffix %s", storage.ErrInvalidKey, tempSuffix)
	}
	return path.Clean(key), nil
}

func (f *FileStorage) seal(plain []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := age.Encrypt(&out, f.identity.Recipient())
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (f *FileStorage) open(key string, sealed []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(sealed), f.identity)
	if err == nil {
		var plain []byte
		if plain, err = io.ReadAll(r); err == nil {
			return plain, nil
		}
	}
	return nil, fmt.Errorf("%w: key %q: %v", storage.ErrInvalidData, key, err)
}
