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

import "errors"

var (
	// ErrStorageWriteFailed is delivered to the WarningHandler when a
	// record could not be persisted. The in-memory state is still updated.
	ErrStorageWriteFailed = errors.New("session: storage write failed")

	// ErrStaleGeneration is returned by Update when the store was cleared
	// after the caller observed its generation.
	ErrStaleGeneration = errors.New("session: stale generation")

	// ErrNotAuthenticated is returned when an operation requires an
	// authenticated session.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrNoKeypair is returned when no keypair has been created yet.
	ErrNoKeypair = errors.New("session: no keypair")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: store closed")
)
