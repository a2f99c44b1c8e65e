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

package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
)

const linkTokenSize = 32

// Link is a magic link handed to a Mailer.
type Link struct {
	Email     string
	URL       string
	Lang      string
	ExpiresAt time.Time
}

// Mailer delivers magic links.
type Mailer interface {
	SendLink(ctx context.Context, link Link) error
}

// LogMailer writes links to the log instead of sending them.
type LogMailer struct {
	logger logger.Logger
}

// NewLogMailer returns a Mailer for development.
func NewLogMailer(l logger.Logger) *LogMailer {
	return &LogMailer{logger: l}
}

func (m *LogMailer) SendLink(ctx context.Context, link Link) error {
	logger.FromContext(ctx, m.logger).Info("Magic link issued",
		logger.String("email", link.Email),
		logger.String("url", link.URL),
		logger.Time("expires_at", link.ExpiresAt))
	return nil
}

// pendingLink is an issued, not yet expired magic link. The original
// login envelope is kept so its signature can be checked again when the
// link is redeemed.
type pendingLink struct {
	request   protocol.LoginRequest
	original  *envelope.SignedEnvelope
	claimed   ed25519.PublicKey
	expiresAt time.Time
	used      bool
}

type linkStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock func() time.Time
	links map[string]*pendingLink
}

func newLinkStore(ttl time.Duration, clock func() time.Time) *linkStore {
	return &linkStore{
		ttl:   ttl,
		clock: clock,
		links: make(map[string]*pendingLink),
	}
}

// issue stores a new link and returns its token and expiry.
func (ls *linkStore) issue(req protocol.LoginRequest, original *envelope.SignedEnvelope, claimed ed25519.PublicKey) (string, time.Time, error) {
	raw := make([]byte, linkTokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, fmt.Errorf("server: failed to generate link token: %w", err)
	}
	token := base58.Encode(raw)

	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.purgeLocked()
	expires := ls.clock().Add(ls.ttl)
	ls.links[token] = &pendingLink{
		request:   req,
		original:  original,
		claimed:   claimed,
		expiresAt: expires,
	}
	return token, expires, nil
}

// redeem marks a link used and returns it. Unknown and expired tokens
// are link_expired; a second redemption is link_already_used.
func (ls *linkStore) redeem(token string) (*pendingLink, *Error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	link, ok := ls.links[token]
	if !ok || !ls.clock().Before(link.expiresAt) {
		return nil, errLinkExpired
	}
	if link.used {
		return nil, errLinkUsed
	}
	link.used = true
	return link, nil
}

// outstanding returns the number of unexpired, unused links.
func (ls *linkStore) outstanding() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.purgeLocked()
	n := 0
	for _, l := range ls.links {
		if !l.used {
			n++
		}
	}
	return n
}

// purgeLocked drops expired links. Used links stay until they expire so a
// replayed click is reported as already used.
func (ls *linkStore) purgeLocked() {
	now := ls.clock()
	for token, l := range ls.links {
		if !now.Before(l.expiresAt) {
			delete(ls.links, token)
		}
	}
}
