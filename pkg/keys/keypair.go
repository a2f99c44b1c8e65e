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

package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/subtle"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/curve25519"
)

// Signer is the signing capability handed to callers. Whether the private
// key behind it is exposed or custodied is not observable through it.
//
// Sign follows crypto.Signer semantics for Ed25519: digest is the full
// message and opts must report a zero hash function.
type Signer interface {
	crypto.Signer

	// SigningPublicKey returns the Ed25519 public key.
	SigningPublicKey() ed25519.PublicKey
}

// KeyAgreement is the X25519 capability handed to callers.
type KeyAgreement interface {
	// PublicKey returns the X25519 public key.
	PublicKey() []byte

	// SharedKey computes the X25519 shared secret with a peer public key.
	SharedKey(peer []byte) ([]byte, error)
}

// KeyRef is the persistable description of a Keypair. For exposed keys it
// carries the seeds; for custodied keys only an opaque handle.
type KeyRef struct {
	Provider         string `cbor:"provider" json:"provider"`
	Handle           string `cbor:"handle" json:"handle"`
	SigningPublic    []byte `cbor:"signing_public" json:"signing_public"`
	EncryptionPublic []byte `cbor:"encryption_public" json:"encryption_public"`
	SigningSeed      []byte `cbor:"signing_seed,omitempty" json:"-"`
	EncryptionSeed   []byte `cbor:"encryption_seed,omitempty" json:"-"`
}

// IsZero reports whether the reference describes no key.
func (r KeyRef) IsZero() bool {
	return r.Handle == "" && len(r.SigningPublic) == 0
}

// Keypair couples a Signer and a KeyAgreement created by one Provider.
type Keypair struct {
	ref       KeyRef
	material  *material
	signer    *signer
	agreement *agreement
}

func newKeypair(ref KeyRef, m *material) *Keypair {
	return &Keypair{
		ref:       ref,
		material:  m,
		signer:    &signer{m: m, pub: ed25519.PublicKey(ref.SigningPublic)},
		agreement: &agreement{m: m, pub: ref.EncryptionPublic},
	}
}

// Ref returns the persistable reference for this keypair.
func (k *Keypair) Ref() KeyRef {
	return k.ref
}

// Signer returns the signing capability.
func (k *Keypair) Signer() Signer {
	return k.signer
}

// KeyAgreement returns the key agreement capability.
func (k *Keypair) KeyAgreement() KeyAgreement {
	return k.agreement
}

// SigningPublicKey returns the Ed25519 public key.
func (k *Keypair) SigningPublicKey() ed25519.PublicKey {
	return k.signer.pub
}

// EncryptionPublicKey returns the X25519 public key.
func (k *Keypair) EncryptionPublicKey() []byte {
	return k.agreement.pub
}

// Released reports whether the in-memory material has been released.
func (k *Keypair) Released() bool {
	return k.material.isReleased()
}

// material is the private half shared by a Keypair's signer and agreement.
type material struct {
	mu         sync.RWMutex
	signing    ed25519.PrivateKey
	encryption []byte
	released   bool
}

func newMaterial(seeds *Seeds) *material {
	enc := make([]byte, len(seeds.Encryption))
	copy(enc, seeds.Encryption)
	return &material{
		signing:    ed25519.NewKeyFromSeed(seeds.Signing),
		encryption: enc,
	}
}

func (m *material) sign(message []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return nil, ErrKeyDestroyed
	}
	return ed25519.Sign(m.signing, message), nil
}

func (m *material) shared(peer []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return nil, ErrKeyDestroyed
	}
	out, err := curve25519.X25519(m.encryption, peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return out, nil
}

func (m *material) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	zero(m.signing)
	zero(m.encryption)
	m.released = true
}

func (m *material) isReleased() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.released
}

type signer struct {
	m   *material
	pub ed25519.PublicKey
}

func (s *signer) Public() crypto.PublicKey {
	return s.pub
}

func (s *signer) SigningPublicKey() ed25519.PublicKey {
	return s.pub
}

// Sign signs the message. rand is ignored; Ed25519 is deterministic.
func (s *signer) Sign(_ io.Reader, message []byte, opts crypto.SignerOpts) ([]byte, error) {
	if opts != nil && opts.HashFunc() != crypto.Hash(0) {
		return nil, ErrInvalidSignerOpts
	}
	return s.m.sign(message)
}

type agreement struct {
	m   *material
	pub []byte
}

func (a *agreement) PublicKey() []byte {
	return a.pub
}

func (a *agreement) SharedKey(peer []byte) ([]byte, error) {
	if len(peer) != curve25519.PointSize {
		return nil, ErrInvalidPublicKey
	}
	return a.m.shared(peer)
}

// liveSet tracks the in-memory material handed out per handle so that a
// release reaches every signer created from it.
type liveSet struct {
	mu   sync.Mutex
	live map[string][]*material
}

func (l *liveSet) add(handle string, m *material) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live == nil {
		l.live = make(map[string][]*material)
	}
	l.live[handle] = append(l.live[handle], m)
}

func (l *liveSet) release(handle string) {
	l.mu.Lock()
	list := l.live[handle]
	delete(l.live, handle)
	l.mu.Unlock()

	for _, m := range list {
		m.release()
	}
}

func (l *liveSet) releaseAll() {
	l.mu.Lock()
	all := l.live
	l.live = nil
	l.mu.Unlock()

	for _, list := range all {
		for _, m := range list {
			m.release()
		}
	}
}

// verifyRef checks that seeds reproduce the public keys recorded in ref.
func verifyRef(ref KeyRef, seeds *Seeds) error {
	signPub, encPub, err := publicKeys(seeds)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(signPub, ref.SigningPublic) != 1 ||
		subtle.ConstantTimeCompare(encPub, ref.EncryptionPublic) != 1 {
		return ErrInvalidPublicKey
	}
	return nil
}
