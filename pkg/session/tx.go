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

package session

import (
	"context"
	"crypto/ed25519"
	"errors"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/urlcipher"
)

// Tx is a staged view of the store handed to Update. Reads see staged
// values first. Nothing is applied until the callback returns nil.
type Tx struct {
	ctx context.Context
	s   *Store

	auth      *AuthData
	authDirty bool

	keypair   *keys.Keypair
	keysDirty bool

	peer      ed25519.PublicKey
	peerDirty bool

	tokens        *urlcipher.TokenSet
	tokensDirty   bool
	tokensCreated bool

	pending      string
	pendingDirty bool
}

// AuthData returns a copy of the staged authentication record, or nil.
func (tx *Tx) AuthData() *AuthData {
	if tx.authDirty {
		return tx.auth.clone()
	}
	return tx.s.auth.clone()
}

// SetAuthData stages a new user and credential.
func (tx *Tx) SetAuthData(user User, cred Credential) {
	tx.auth = newAuthData(user, cred)
	tx.authDirty = true
}

// UpdateAuth applies fn to a copy of the staged authentication record.
func (tx *Tx) UpdateAuth(fn func(*AuthData)) error {
	a := tx.AuthData()
	if a == nil {
		return ErrNotAuthenticated
	}
	fn(a)
	tx.auth = a
	tx.authDirty = true
	return nil
}

// ClearAuth stages removal of the authentication record. A token set is
// removed with it.
func (tx *Tx) ClearAuth() {
	tx.auth = nil
	tx.authDirty = true
}

// Keypair returns the staged keypair, loading the persisted one if needed.
func (tx *Tx) Keypair() (*keys.Keypair, error) {
	if tx.keysDirty {
		if tx.keypair == nil {
			return nil, ErrNoKeypair
		}
		return tx.keypair, nil
	}
	return tx.s.keypairLocked(tx.ctx)
}

// SetKeypair stages a keypair. On commit the replaced keypair is destroyed;
// on rollback the staged one is.
func (tx *Tx) SetKeypair(kp *keys.Keypair) {
	tx.keypair = kp
	tx.keysDirty = true
}

// PeerKey returns the staged server session key.
func (tx *Tx) PeerKey() ed25519.PublicKey {
	if tx.peerDirty {
		return clonePeer(tx.peer)
	}
	return clonePeer(tx.s.peer)
}

// SetPeerKey stages the server session key.
func (tx *Tx) SetPeerKey(key ed25519.PublicKey) {
	tx.peer = clonePeer(key)
	tx.peerDirty = true
}

// CryptoTokens returns a copy of the staged token set, or nil.
func (tx *Tx) CryptoTokens() *urlcipher.TokenSet {
	if tx.tokensDirty {
		return tx.tokens.Clone()
	}
	return tx.s.tokens.Clone()
}

// SetCryptoTokens stages a token set. It requires a staged or committed
// authenticated record.
func (tx *Tx) SetCryptoTokens(tokens *urlcipher.TokenSet) error {
	if tokens != nil {
		if !tokens.Valid() {
			return urlcipher.ErrInvalidTokens
		}
		if !tx.AuthData().Authenticated() {
			return ErrNotAuthenticated
		}
	}
	tx.discardCreatedTokens()
	tx.tokens = tokens.Clone()
	tx.tokensDirty = true
	return nil
}

// EnsureCryptoTokens stages a fresh token set if none exists.
func (tx *Tx) EnsureCryptoTokens() (bool, error) {
	if !tx.AuthData().Authenticated() {
		return false, ErrNotAuthenticated
	}
	if tx.tokensDirty && tx.tokens != nil {
		return false, nil
	}
	if !tx.tokensDirty && tx.s.tokens != nil {
		return false, nil
	}
	tokens, err := urlcipher.NewTokenSet()
	if err != nil {
		return false, err
	}
	tx.tokens = tokens
	tx.tokensDirty = true
	tx.tokensCreated = true
	return true, nil
}

// SetPendingEmail stages the email of an outstanding link request.
func (tx *Tx) SetPendingEmail(email string) {
	tx.pending = email
	tx.pendingDirty = true
}

func (tx *Tx) discardCreatedTokens() {
	if tx.tokensCreated {
		tx.tokens.Wipe()
		tx.tokensCreated = false
	}
}

func (tx *Tx) rollback() {
	tx.discardCreatedTokens()
	if tx.keysDirty && tx.keypair != nil && !keyRefEqual(tx.keypair.Ref(), tx.s.keyRef) {
		if err := tx.s.provider.Destroy(tx.ctx, tx.keypair.Ref()); err != nil {
			tx.s.logger.Warn("failed to destroy staged keypair", logger.Error(err))
		}
	}
}

func (tx *Tx) commit() error {
	s := tx.s

	auth := s.auth
	if tx.authDirty {
		auth = tx.auth
	}
	tokens := s.tokens
	if tx.tokensDirty {
		tokens = tx.tokens
	}
	if tokens != nil && !auth.Authenticated() {
		if tx.tokensDirty {
			tx.rollback()
			return ErrNotAuthenticated
		}
		tx.tokens = nil
		tx.tokensDirty = true
	}

	if tx.authDirty {
		s.auth = tx.auth
		if s.auth == nil {
			s.remove(groupAuth)
		} else {
			s.write(groupAuth, s.auth)
		}
	}

	if tx.keysDirty {
		tx.commitKeypair()
	}

	if tx.peerDirty {
		s.peer = tx.peer
		if len(s.peer) == 0 {
			s.peer = nil
			s.remove(groupPeer)
		} else {
			s.write(groupPeer, []byte(s.peer))
		}
	}

	if tx.tokensDirty {
		if s.tokens != nil {
			s.tokens.Wipe()
		}
		s.tokens = tx.tokens
		if s.tokens == nil {
			s.remove(groupTokens)
			s.ring.Clear()
			s.remove(groupSeeds)
		} else {
			s.write(groupTokens, s.tokens)
		}
	}

	if tx.pendingDirty {
		s.pending = tx.pending
		if s.pending == "" {
			s.remove(groupPending)
		} else {
			s.write(groupPending, s.pending)
		}
	}
	return nil
}

func (tx *Tx) commitKeypair() {
	s := tx.s
	old := s.keyRef

	if tx.keypair == nil {
		s.keyRef = keys.KeyRef{}
		s.keypair = nil
		s.remove(groupKeys)
	} else {
		s.keyRef = tx.keypair.Ref()
		s.keypair = tx.keypair
		s.write(groupKeys, s.keyRef)
	}

	if old.IsZero() || keyRefEqual(old, s.keyRef) {
		return
	}
	if err := s.provider.Destroy(tx.ctx, old); err != nil && !errors.Is(err, keys.ErrKeyDestroyed) {
		s.logger.Warn("failed to destroy replaced keypair", logger.Error(err))
	}
}
