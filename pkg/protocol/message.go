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

package protocol

import (
	"errors"

	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
)

// UserMessageKind classifies how an error is presented to an end user.
type UserMessageKind int

const (
	// MessageNone means the error needs no user-visible message.
	MessageNone UserMessageKind = iota

	// MessageLoginPrompt means the user must request a new magic link.
	MessageLoginPrompt

	// MessageLinkExpired means the magic link should be requested again.
	MessageLinkExpired

	// MessageLinkUsed means the magic link was already consumed.
	MessageLinkUsed

	// MessageFailure is a generic failure without cryptographic detail.
	MessageFailure
)

// UserMessage maps err onto a presentation category and a short text that
// never reveals which cryptographic check failed.
func UserMessage(err error) (UserMessageKind, string) {
	switch {
	case err == nil, errors.Is(err, ErrAccessExpired):
		return MessageNone, ""
	case errors.Is(err, ErrLinkExpired):
		return MessageLinkExpired, "This sign-in link has expired. Request a new one."
	case errors.Is(err, ErrLinkAlreadyUsed):
		return MessageLinkUsed, "This sign-in link has already been used. Request a new one."
	case errors.Is(err, ErrLoginRequired),
		errors.Is(err, ErrDualExpired),
		errors.Is(err, ErrRenewalExpired),
		errors.Is(err, ErrUnauthorized):
		return MessageLoginPrompt, "Your session has ended. Sign in again to continue."
	case errors.Is(err, envelope.ErrSignatureInvalid),
		errors.Is(err, ErrSignatureMismatch):
		return MessageLoginPrompt, "We could not verify your session. Sign in again to continue."
	case errors.Is(err, ErrRateLimited):
		return MessageFailure, "Too many attempts. Wait a moment and try again."
	default:
		return MessageFailure, "Something went wrong. Please try again."
	}
}
