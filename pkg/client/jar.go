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

package client

import (
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/jeremyhahn/go-zkauth/pkg/encoding/cbor"
	"github.com/jeremyhahn/go-zkauth/pkg/storage"
)

// JarKey is the storage key under which a persistent Jar keeps cookies.
// It lives under the session prefix so a sensitive clear removes it.
var JarKey = storage.SessionKey("cookies")

type cookieRecord struct {
	Name    string    `cbor:"name"`
	Value   string    `cbor:"value"`
	Path    string    `cbor:"path"`
	Expires time.Time `cbor:"expires"`
}

// Jar is a cookie jar that can be cleared and, given a backend, survives
// process restarts so the renewal credential outlives a CLI invocation.
type Jar struct {
	mu      sync.Mutex
	inner   *cookiejar.Jar
	backend storage.Backend
	origins map[string]map[string]cookieRecord
}

// NewJar returns a jar. backend may be nil for an in-memory jar.
func NewJar(backend storage.Backend) (*Jar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	j := &Jar{
		inner:   inner,
		backend: backend,
		origins: make(map[string]map[string]cookieRecord),
	}
	if backend != nil {
		if err := j.load(); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.inner.SetCookies(u, cookies)
	if j.backend == nil {
		return
	}

	origin := u.Scheme + "://" + u.Host
	recs := j.origins[origin]
	if recs == nil {
		recs = make(map[string]cookieRecord)
		j.origins[origin] = recs
	}
	now := time.Now()
	for _, c := range cookies {
		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || (!expires.IsZero() && expires.Before(now)) || c.Value == "" {
			delete(recs, c.Name)
			continue
		}
		recs[c.Name] = cookieRecord{Name: c.Name, Value: c.Value, Path: c.Path, Expires: expires.UTC()}
	}
	j.persistLocked()
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

// Clear removes every cookie.
func (j *Jar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	inner, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	j.inner = inner
	j.origins = make(map[string]map[string]cookieRecord)
	if j.backend == nil {
		return nil
	}
	if err := j.backend.Delete(JarKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func (j *Jar) load() error {
	data, err := j.backend.Get(JarKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var stored map[string][]cookieRecord
	if err := cbor.Unmarshal(data, &stored); err != nil {
		// An unreadable jar only costs a refresh; start empty.
		return nil
	}

	now := time.Now()
	for origin, recs := range stored {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		live := make(map[string]cookieRecord)
		cookies := make([]*http.Cookie, 0, len(recs))
		for _, r := range recs {
			if !r.Expires.IsZero() && r.Expires.Before(now) {
				continue
			}
			live[r.Name] = r
			cookies = append(cookies, &http.Cookie{Name: r.Name, Value: r.Value, Path: r.Path, Expires: r.Expires})
		}
		j.origins[origin] = live
		j.inner.SetCookies(u, cookies)
	}
	return nil
}

func (j *Jar) persistLocked() {
	stored := make(map[string][]cookieRecord, len(j.origins))
	for origin, recs := range j.origins {
		for _, r := range recs {
			stored[origin] = append(stored[origin], r)
		}
	}
	data, err := cbor.Marshal(stored)
	if err != nil {
		return
	}
	_ = j.backend.Put(JarKey, data, storage.OwnerOnly())
}
