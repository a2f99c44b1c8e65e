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
	"fmt"
	"net/http"

	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
)

// Error codes carried in the "error" field of an error response.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeRateLimited       = "rate_limited"
	CodeLinkExpired       = "link_expired"
	CodeLinkAlreadyUsed   = "link_already_used"
	CodeSignatureMismatch = "signature_mismatch"
	CodeSignatureInvalid  = "signature_invalid"
	CodeAccessExpired     = "access_expired"
	CodeDualExpired       = "dual_expired"
	CodeRenewalExpired    = "renewal_expired"
	CodeUnauthorized      = "unauthorized"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal_error"
)

var (
	// ErrLinkExpired is returned when a magic link's time box has passed.
	ErrLinkExpired = errors.New("protocol: magic link expired")

	// ErrLinkAlreadyUsed is returned when a magic link was already redeemed.
	ErrLinkAlreadyUsed = errors.New("protocol: magic link already used")

	// ErrSignatureMismatch is returned when the server could not verify the
	// original login request against the claimed public key.
	ErrSignatureMismatch = errors.New("protocol: signature does not match claimed key")

	// ErrAccessExpired is returned when the access credential is no longer
	// accepted but the renewal credential may still be valid.
	ErrAccessExpired = errors.New("protocol: access credential expired")

	// ErrDualExpired is returned when both credentials are expired.
	ErrDualExpired = errors.New("protocol: access and renewal credentials expired")

	// ErrRenewalExpired is returned by a refresh whose renewal credential
	// is no longer accepted.
	ErrRenewalExpired = errors.New("protocol: renewal credential expired")

	// ErrLoginRequired is returned when the session cannot be recovered
	// without a new magic link.
	ErrLoginRequired = errors.New("protocol: login required")

	// ErrUnauthorized is returned for any other authentication failure.
	ErrUnauthorized = errors.New("protocol: unauthorized")

	// ErrRateLimited is returned when the server throttled the request.
	ErrRateLimited = errors.New("protocol: rate limited")

	// ErrInvalidRequest is returned when the server rejected the request
	// as malformed.
	ErrInvalidRequest = errors.New("protocol: invalid request")

	// ErrServer is returned for unexpected server failures.
	ErrServer = errors.New("protocol: server error")
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

var codeErrors = map[string]error{
	CodeInvalidRequest:    ErrInvalidRequest,
	CodeRateLimited:       ErrRateLimited,
	CodeLinkExpired:       ErrLinkExpired,
	CodeLinkAlreadyUsed:   ErrLinkAlreadyUsed,
	CodeSignatureMismatch: ErrSignatureMismatch,
	CodeSignatureInvalid:  envelope.ErrSignatureInvalid,
	CodeAccessExpired:     ErrAccessExpired,
	CodeDualExpired:       ErrDualExpired,
	CodeRenewalExpired:    ErrRenewalExpired,
	CodeUnauthorized:      ErrUnauthorized,
	CodeInternal:          ErrServer,
}

// ErrorForCode maps a wire error code to its sentinel. Unknown codes map
// to ErrServer for 5xx statuses and ErrInvalidRequest otherwise.
func ErrorForCode(code string, status int) error {
	if err, ok := codeErrors[code]; ok {
		return err
	}
	if status >= http.StatusInternalServerError {
		return ErrServer
	}
	return ErrInvalidRequest
}

// AsError converts an error response into a wrapped sentinel error.
func (e *ErrorResponse) AsError() error {
	base := ErrorForCode(e.Error, e.Code)
	if e.Message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, e.Message)
}
