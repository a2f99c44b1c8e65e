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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeremyhahn/go-zkauth/pkg/envelope"
)

func TestErrorForCode(t *testing.T) {
	tests := []struct {
		code   string
		status int
		want   error
	}{
		{CodeAccessExpired, http.StatusUnauthorized, ErrAccessExpired},
		{CodeDualExpired, http.StatusUnauthorized, ErrDualExpired},
		{CodeRenewalExpired, http.StatusUnauthorized, ErrRenewalExpired},
		{CodeLinkExpired, http.StatusGone, ErrLinkExpired},
		{CodeLinkAlreadyUsed, http.StatusConflict, ErrLinkAlreadyUsed},
		{CodeSignatureMismatch, http.StatusUnauthorized, ErrSignatureMismatch},
		{CodeSignatureInvalid, http.StatusUnauthorized, envelope.ErrSignatureInvalid},
		{"mystery", http.StatusBadGateway, ErrServer},
		{"mystery", http.StatusTeapot, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.ErrorIs(t, ErrorForCode(tt.code, tt.status), tt.want)
		})
	}
}

func TestErrorResponse_AsError(t *testing.T) {
	err := (&ErrorResponse{Error: CodeLinkExpired, Message: "too late", Code: 410}).AsError()
	assert.ErrorIs(t, err, ErrLinkExpired)
	assert.Contains(t, err.Error(), "too late")

	bare := (&ErrorResponse{Error: CodeDualExpired, Code: 401}).AsError()
	assert.Equal(t, ErrDualExpired, bare)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want UserMessageKind
	}{
		{nil, MessageNone},
		{ErrAccessExpired, MessageNone},
		{fmt.Errorf("wrapped: %w", ErrLinkExpired), MessageLinkExpired},
		{ErrLinkAlreadyUsed, MessageLinkUsed},
		{fmt.Errorf("%w: %w", ErrLoginRequired, ErrDualExpired), MessageLoginPrompt},
		{envelope.ErrSignatureInvalid, MessageLoginPrompt},
		{errors.New("boom"), MessageFailure},
	}

	for _, tt := range tests {
		kind, text := UserMessage(tt.err)
		assert.Equal(t, tt.want, kind, "err %v", tt.err)
		if kind != MessageNone {
			assert.NotEmpty(t, text)
			assert.NotContains(t, text, "signature")
		}
	}
}
