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
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
	"github.com/jeremyhahn/go-zkauth/pkg/metrics"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
)

// Error is a protocol rejection returned by resource handlers.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// NewError returns a rejection with the given status and wire code.
func NewError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

var (
	errInvalidRequest    = NewError(http.StatusBadRequest, protocol.CodeInvalidRequest, "")
	errUnauthorized      = NewError(http.StatusUnauthorized, protocol.CodeUnauthorized, "")
	errAccessExpired     = NewError(http.StatusUnauthorized, protocol.CodeAccessExpired, "")
	errDualExpired       = NewError(http.StatusUnauthorized, protocol.CodeDualExpired, "")
	errRenewalExpired    = NewError(http.StatusUnauthorized, protocol.CodeRenewalExpired, "")
	errSignatureInvalid  = NewError(http.StatusUnauthorized, protocol.CodeSignatureInvalid, "")
	errSignatureMismatch = NewError(http.StatusUnauthorized, protocol.CodeSignatureMismatch, "")
	errLinkExpired       = NewError(http.StatusBadRequest, protocol.CodeLinkExpired, "")
	errLinkUsed          = NewError(http.StatusBadRequest, protocol.CodeLinkAlreadyUsed, "")
	errRateLimited       = NewError(http.StatusTooManyRequests, protocol.CodeRateLimited, "")
	errInternal          = NewError(http.StatusInternalServerError, protocol.CodeInternal, "")
)

// writeError writes a protocol error body.
func writeError(w http.ResponseWriter, e *Error) {
	metrics.RecordRejection(e.Code)
	writeJSON(w, protocol.ErrorResponse{
		Error:   e.Code,
		Message: e.Message,
		Code:    e.Status,
	}, e.Status)
}

// handleError writes err, mapping anything that is not an *Error to
// internal_error.
func handleError(w http.ResponseWriter, err error) {
	var e *Error
	if errors.As(err, &e) {
		writeError(w, e)
		return
	}
	writeError(w, errInternal)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

// writeEnvelope writes env as a 200 response.
func writeEnvelope(w http.ResponseWriter, env *envelope.SignedEnvelope) {
	writeJSON(w, env, http.StatusOK)
}

func withMessage(e *Error, message string) *Error {
	return NewError(e.Status, e.Code, message)
}
