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

// Package session is the client's single store of authentication state:
// the current keypair, the server's session key, the access credential,
// the URL-cipher token set, the pending login email and the prehash seed
// ring.
//
// All access goes through one mutex. Read-modify-write sequences use
// Update, which applies a staged transaction only if the store has not been
// cleared since the caller observed its generation. Every group is
// persisted as a deterministic CBOR record; a failed write never fails the
// caller but is reported through the WarningHandler.
package session

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/encoding/cbor"
	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/storage"
	"github.com/jeremyhahn/go-zkauth/pkg/urlcipher"
)

// DriftStrategy selects what Open does when persisted records do not
// match SchemaVersion.
type DriftStrategy int

const (
	// DriftExport copies every session record under export/<unix>/ before
	// recreating the store.
	DriftExport DriftStrategy = iota

	// DriftRecreate deletes the session records and custodied keys.
	DriftRecreate
)

// String returns the configuration name of the strategy.
func (d DriftStrategy) String() string {
	switch d {
	case DriftExport:
		return "export"
	case DriftRecreate:
		return "recreate"
	default:
		return "unknown"
	}
}

// ParseDriftStrategy parses "export" or "recreate". The empty string
// selects DriftExport.
func ParseDriftStrategy(s string) (DriftStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "export":
		return DriftExport, nil
	case "recreate":
		return DriftRecreate, nil
	default:
		return DriftExport, fmt.Errorf("session: unknown drift strategy %q", s)
	}
}

// WarningHandler receives non-fatal storage failures. It is called without
// the store lock held and must not block.
type WarningHandler func(err error)

// Config configures a Store.
type Config struct {
	Backend      storage.Backend
	Provider     keys.Provider
	Logger       logger.Logger
	OnWarning    WarningHandler
	Drift        DriftStrategy
	RingCapacity int
	Clock        func() time.Time
}

// Store is the session key store.
type Store struct {
	mu        sync.Mutex
	backend   storage.Backend
	provider  keys.Provider
	logger    logger.Logger
	onWarning WarningHandler
	drift     DriftStrategy
	clock     func() time.Time
	closed    bool

	generation uint64
	auth       *AuthData
	keyRef     keys.KeyRef
	keypair    *keys.Keypair
	peer       ed25519.PublicKey
	tokens     *urlcipher.TokenSet
	pending    string
	ring       *urlcipher.SeedRing

	warnings []error
}

// Open loads the store from cfg.Backend, resolving schema drift first.
// Records that cannot be decoded trigger a sensitive clear.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("session: key provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Store{
		backend:  cfg.Backend,
		provider: cfg.Provider,
		logger:   cfg.Logger.With(logger.String("component", "session")),
		drift:    cfg.Drift,
		clock:    cfg.Clock,
		ring:     urlcipher.NewSeedRing(cfg.RingCapacity),
	}
	s.onWarning = cfg.OnWarning
	if s.onWarning == nil {
		s.onWarning = func(err error) {
			s.logger.Warn("session storage warning", logger.Error(err))
		}
	}

	s.lock()
	defer s.unlock()

	if err := s.checkSchemaLocked(ctx); err != nil {
		return nil, err
	}
	if err := s.loadLocked(); err != nil {
		if !errors.Is(err, storage.ErrInvalidData) {
			return nil, err
		}
		s.logger.Warn("session records corrupt, clearing", logger.Error(err))
		s.clearSensitiveLocked(ctx)
	}
	return s, nil
}

// Provider returns the key provider the store loads keypairs through.
func (s *Store) Provider() keys.Provider {
	return s.provider
}

// Generation returns the current clear counter.
func (s *Store) Generation() uint64 {
	s.lock()
	defer s.unlock()
	return s.generation
}

// AuthData returns a copy of the authentication record, or nil.
func (s *Store) AuthData() *AuthData {
	s.lock()
	defer s.unlock()
	return s.auth.clone()
}

// SetAuthData replaces the user and credential together.
func (s *Store) SetAuthData(ctx context.Context, user User, cred Credential) error {
	return s.update(ctx, func(tx *Tx) error {
		tx.SetAuthData(user, cred)
		return nil
	})
}

// Keypair returns the current keypair, loading it through the provider if
// no in-memory instance is live. It returns ErrNoKeypair when none exists.
func (s *Store) Keypair(ctx context.Context) (*keys.Keypair, error) {
	s.lock()
	defer s.unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.keypairLocked(ctx)
}

// EnsureKeypair returns the current keypair or generates an ephemeral one.
// The boolean reports whether a keypair was generated.
func (s *Store) EnsureKeypair(ctx context.Context) (*keys.Keypair, bool, error) {
	var (
		kp      *keys.Keypair
		created bool
	)
	err := s.update(ctx, func(tx *Tx) error {
		current, err := tx.Keypair()
		if err == nil {
			kp = current
			return nil
		}
		if !errors.Is(err, ErrNoKeypair) && !errors.Is(err, keys.ErrKeyDestroyed) {
			return err
		}
		generated, err := keys.GenerateEphemeralKeypair(ctx, s.provider)
		if err != nil {
			return err
		}
		tx.SetKeypair(generated)
		kp, created = generated, true
		return nil
	})
	return kp, created, err
}

// SetKeypair replaces the current keypair. A replaced keypair is destroyed.
func (s *Store) SetKeypair(ctx context.Context, kp *keys.Keypair) error {
	return s.update(ctx, func(tx *Tx) error {
		tx.SetKeypair(kp)
		return nil
	})
}

// PeerKey returns the server's session-bound public key, or nil.
func (s *Store) PeerKey() ed25519.PublicKey {
	s.lock()
	defer s.unlock()
	return clonePeer(s.peer)
}

// SetPeerKey stores the server's session-bound public key.
func (s *Store) SetPeerKey(ctx context.Context, key ed25519.PublicKey) error {
	return s.update(ctx, func(tx *Tx) error {
		tx.SetPeerKey(key)
		return nil
	})
}

// CryptoTokens returns a copy of the URL-cipher token set, or nil.
func (s *Store) CryptoTokens() *urlcipher.TokenSet {
	s.lock()
	defer s.unlock()
	return s.tokens.Clone()
}

// SetCryptoTokens stores a token set. It fails with ErrNotAuthenticated
// when no access credential is present.
func (s *Store) SetCryptoTokens(ctx context.Context, tokens *urlcipher.TokenSet) error {
	return s.update(ctx, func(tx *Tx) error {
		return tx.SetCryptoTokens(tokens)
	})
}

// EnsureCryptoTokens generates a token set if none exists. It never
// replaces a live set and reports whether one was generated.
func (s *Store) EnsureCryptoTokens(ctx context.Context) (bool, error) {
	var created bool
	err := s.update(ctx, func(tx *Tx) error {
		var err error
		created, err = tx.EnsureCryptoTokens()
		return err
	})
	return created, err
}

// PendingEmail returns the email of an outstanding link request.
func (s *Store) PendingEmail() string {
	s.lock()
	defer s.unlock()
	return s.pending
}

// SetPendingEmail records the email of an outstanding link request.
func (s *Store) SetPendingEmail(ctx context.Context, email string) error {
	return s.update(ctx, func(tx *Tx) error {
		tx.SetPendingEmail(email)
		return nil
	})
}

// Preference returns a stored user preference.
func (s *Store) Preference(name string) (string, bool) {
	s.lock()
	defer s.unlock()
	data, err := s.backend.Get(storage.PrefKey(name))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// SetPreference stores a user preference. Preferences survive every clear.
func (s *Store) SetPreference(name, value string) {
	s.lock()
	defer s.unlock()
	if err := s.backend.Put(storage.PrefKey(name), []byte(value), nil); err != nil {
		s.warnings = append(s.warnings, fmt.Errorf("%w: %s: %v", ErrStorageWriteFailed, storage.PrefKey(name), err))
	}
}

// Seeds returns the prehash seed ring as a urlcipher.SeedStore. Seeds can
// only be added while a token set exists.
func (s *Store) Seeds() urlcipher.SeedStore {
	return seedStore{s: s}
}

// Update runs fn against a staged copy of the store and applies it
// atomically. If the store was cleared after the caller observed
// expectedGeneration, nothing is applied and ErrStaleGeneration is returned.
func (s *Store) Update(ctx context.Context, expectedGeneration uint64, fn func(*Tx) error) error {
	s.lock()
	defer s.unlock()
	if s.generation != expectedGeneration {
		return ErrStaleGeneration
	}
	return s.updateLocked(ctx, fn)
}

// ClearPreventive wipes the authentication state before a fresh login
// prompt. The persisted keypair and preferences are kept; in-memory signers
// are invalidated.
func (s *Store) ClearPreventive(ctx context.Context) {
	s.lock()
	defer s.unlock()
	s.clearPreventiveLocked()
	s.logger.Info("session cleared", logger.String("mode", "preventive"),
		logger.Uint64("generation", s.generation))
}

// ClearSensitive wipes everything except preferences, including the
// keypair and any custodied key material.
func (s *Store) ClearSensitive(ctx context.Context) {
	s.lock()
	defer s.unlock()
	s.clearSensitiveLocked(ctx)
	s.logger.Info("session cleared", logger.String("mode", "sensitive"),
		logger.Uint64("generation", s.generation))
}

// Status returns a summary of the store.
func (s *Store) Status() Status {
	s.lock()
	defer s.unlock()

	st := Status{
		Authenticated:   s.auth.Authenticated(),
		PendingEmail:    s.pending,
		HasKeypair:      !s.keyRef.IsZero(),
		Provider:        s.provider.Name(),
		HasPeerKey:      len(s.peer) > 0,
		HasCryptoTokens: s.tokens != nil,
		Seeds:           s.ring.Len(),
		Generation:      s.generation,
	}
	if s.auth != nil {
		st.UserID = s.auth.UserID
		st.Email = s.auth.Email
		st.AccessExpiresAt = s.auth.AccessExpiresAt
		st.RenewalIssuedAt = s.auth.RenewalIssuedAt
		st.RenewalExpiresAt = s.auth.RenewalExpiresAt
	}
	if !s.keyRef.IsZero() {
		st.SigningPublicKey = ed25519.PublicKey(clonePeer(s.keyRef.SigningPublic))
	}
	return st
}

// Close releases in-memory key material. The backend is owned by the
// caller and is not closed.
func (s *Store) Close() error {
	s.lock()
	defer s.unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.keyRef.IsZero() {
		s.provider.Release(s.keyRef)
	}
	s.keypair = nil
	if s.tokens != nil {
		s.tokens.Wipe()
		s.tokens = nil
	}
	s.ring.Clear()
	return nil
}

func (s *Store) lock() {
	s.mu.Lock()
}

// unlock releases the mutex and then delivers queued warnings.
func (s *Store) unlock() {
	pending := s.warnings
	s.warnings = nil
	s.mu.Unlock()
	for _, err := range pending {
		s.onWarning(err)
	}
}

func (s *Store) update(ctx context.Context, fn func(*Tx) error) error {
	s.lock()
	defer s.unlock()
	return s.updateLocked(ctx, fn)
}

func (s *Store) updateLocked(ctx context.Context, fn func(*Tx) error) error {
	if s.closed {
		return ErrClosed
	}
	tx := &Tx{ctx: ctx, s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return tx.commit()
}

func (s *Store) keypairLocked(ctx context.Context) (*keys.Keypair, error) {
	if s.keypair != nil && !s.keypair.Released() {
		return s.keypair, nil
	}
	if s.keyRef.IsZero() {
		return nil, ErrNoKeypair
	}
	kp, err := s.provider.Load(ctx, s.keyRef)
	if err != nil {
		return nil, fmt.Errorf("session: failed to load keypair: %w", err)
	}
	s.keypair = kp
	return kp, nil
}

func (s *Store) clearPreventiveLocked() {
	s.auth = nil
	s.remove(groupAuth)

	if s.tokens != nil {
		s.tokens.Wipe()
		s.tokens = nil
	}
	s.remove(groupTokens)

	s.peer = nil
	s.remove(groupPeer)

	s.pending = ""
	s.remove(groupPending)

	s.ring.Clear()
	s.remove(groupSeeds)

	if !s.keyRef.IsZero() {
		s.provider.Release(s.keyRef)
	}
	s.keypair = nil
	s.generation++
}

func (s *Store) clearSensitiveLocked(ctx context.Context) {
	s.clearPreventiveLocked()

	if !s.keyRef.IsZero() {
		if err := s.provider.Destroy(ctx, s.keyRef); err != nil {
			s.logger.Warn("failed to destroy keypair", logger.Error(err))
		}
		wipe(s.keyRef.SigningSeed)
		wipe(s.keyRef.EncryptionSeed)
		s.keyRef = keys.KeyRef{}
	}
	s.remove(groupKeys)

	if _, err := storage.DeletePrefix(s.backend, keys.CustodyPrefix); err != nil {
		s.warnings = append(s.warnings, fmt.Errorf("%w: %s: %v", ErrStorageWriteFailed, keys.CustodyPrefix, err))
	}
	if _, err := storage.DeletePrefix(s.backend, storage.SessionPrefix); err != nil {
		s.warnings = append(s.warnings, fmt.Errorf("%w: %s: %v", ErrStorageWriteFailed, storage.SessionPrefix, err))
	}
	s.write(groupSchema, schemaRecord{Version: SchemaVersion})
}

func (s *Store) checkSchemaLocked(ctx context.Context) error {
	existing, err := s.backend.List(storage.SessionPrefix)
	if err != nil {
		return fmt.Errorf("session: failed to list records: %w", err)
	}
	if len(existing) == 0 {
		s.write(groupSchema, schemaRecord{Version: SchemaVersion})
		return nil
	}

	var rec schemaRecord
	found, err := s.read(groupSchema, &rec)
	if err == nil && found && rec.Version == SchemaVersion {
		return nil
	}

	s.logger.Warn("session schema drift detected",
		logger.Bool("marker_found", found),
		logger.Int("version", rec.Version),
		logger.String("strategy", s.drift.String()))

	switch s.drift {
	case DriftRecreate:
		if _, err := storage.DeletePrefix(s.backend, keys.CustodyPrefix); err != nil {
			return fmt.Errorf("session: failed to delete custodied keys: %w", err)
		}
	default:
		stamp := s.clock().Unix()
		n, err := storage.CopyPrefix(s.backend, storage.SessionPrefix, storage.ExportKey(stamp, storage.SessionPrefix))
		if err != nil {
			return fmt.Errorf("session: failed to export records before recreate: %w", err)
		}
		s.logger.Info("session records exported", logger.Int("records", n), logger.Int64("stamp", stamp))
	}

	if _, err := storage.DeletePrefix(s.backend, storage.SessionPrefix); err != nil {
		return fmt.Errorf("session: failed to delete records: %w", err)
	}
	s.write(groupSchema, schemaRecord{Version: SchemaVersion})
	return nil
}

func (s *Store) loadLocked() error {
	var auth AuthData
	if found, err := s.read(groupAuth, &auth); err != nil {
		return err
	} else if found {
		s.auth = &auth
	}

	var ref keys.KeyRef
	if found, err := s.read(groupKeys, &ref); err != nil {
		return err
	} else if found {
		s.keyRef = ref
	}

	var peer []byte
	if found, err := s.read(groupPeer, &peer); err != nil {
		return err
	} else if found && len(peer) == ed25519.PublicKeySize {
		s.peer = peer
	}

	var tokens urlcipher.TokenSet
	if found, err := s.read(groupTokens, &tokens); err != nil {
		return err
	} else if found {
		if !tokens.Valid() {
			return fmt.Errorf("%w: %s: token sizes", storage.ErrInvalidData, groupTokens)
		}
		s.tokens = &tokens
	}

	var pending string
	if found, err := s.read(groupPending, &pending); err != nil {
		return err
	} else if found {
		s.pending = pending
	}

	var seeds seedsRecord
	if found, err := s.read(groupSeeds, &seeds); err != nil {
		return err
	} else if found {
		s.ring.Restore(seeds.Entries)
	}

	if s.tokens != nil && !s.auth.Authenticated() {
		return fmt.Errorf("%w: token set without authenticated session", storage.ErrInvalidData)
	}
	return nil
}

func (s *Store) read(group string, v any) (bool, error) {
	data, err := s.backend.Get(storage.SessionKey(group))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: failed to read %s: %w", group, err)
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", storage.ErrInvalidData, group, err)
	}
	return true, nil
}

func (s *Store) write(group string, v any) {
	key := storage.SessionKey(group)
	data, err := cbor.Marshal(v)
	if err == nil {
		err = s.backend.Put(key, data, storage.OwnerOnly())
	}
	if err != nil {
		s.warnings = append(s.warnings, fmt.Errorf("%w: %s: %v", ErrStorageWriteFailed, key, err))
	}
}

func (s *Store) remove(group string) {
	key := storage.SessionKey(group)
	if err := s.backend.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.warnings = append(s.warnings, fmt.Errorf("%w: %s: %v", ErrStorageWriteFailed, key, err))
	}
}

type seedStore struct {
	s *Store
}

func (a seedStore) PutSeed(seed []byte) (uint32, error) {
	s := a.s
	s.lock()
	defer s.unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.tokens == nil || !s.auth.Authenticated() {
		return 0, ErrNotAuthenticated
	}
	id, err := s.ring.PutSeed(seed)
	if err != nil {
		return 0, err
	}
	s.write(groupSeeds, seedsRecord{Entries: s.ring.Snapshot()})
	return id, nil
}

func (a seedStore) Seed(id uint32) ([]byte, bool) {
	s := a.s
	s.lock()
	defer s.unlock()
	return s.ring.Seed(id)
}

func clonePeer(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
