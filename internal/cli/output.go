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

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jeremyhahn/go-zkauth/pkg/keys"
	"github.com/jeremyhahn/go-zkauth/pkg/magiclink"
	"github.com/jeremyhahn/go-zkauth/pkg/protocol"
	"github.com/jeremyhahn/go-zkauth/pkg/session"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// print writes obj as JSON or runs text for the text format.
func (p *Printer) print(obj any, text func()) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(obj)
	case OutputFormatText:
		text()
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintLinkResult prints the acknowledgement of a link request
func (p *Printer) PrintLinkResult(email string, r *magiclink.LinkResult) error {
	return p.print(map[string]any{
		"email":         email,
		"status":        r.Status,
		"server_key":    keys.EncodeKey(r.ServerKey),
		"dev_only_link": r.DevOnlyLink,
	}, func() {
		fmt.Fprintf(p.writer, "Magic link %s for %s\n", r.Status, email)
		fmt.Fprintf(p.writer, "Server key: %s\n", keys.EncodeKey(r.ServerKey))
		if r.DevOnlyLink != "" {
			fmt.Fprintf(p.writer, "Link:       %s\n", r.DevOnlyLink)
		}
	})
}

// PrintValidation prints the user a redeemed link logged in
func (p *Printer) PrintValidation(r *magiclink.ValidationResult) error {
	return p.print(map[string]any{
		"user_id":        r.User.ID,
		"email":          r.User.Email,
		"next_path":      r.NextPath,
		"tokens_created": r.TokensCreated,
	}, func() {
		fmt.Fprintf(p.writer, "Logged in as %s (%s)\n", r.User.Email, r.User.ID)
		if r.NextPath != "" {
			fmt.Fprintf(p.writer, "Continue at: %s\n", r.NextPath)
		}
	})
}

// PrintStatus prints the local session state
func (p *Printer) PrintStatus(s session.Status) error {
	return p.print(map[string]any{
		"authenticated":      s.Authenticated,
		"user_id":            s.UserID,
		"email":              s.Email,
		"pending_email":      s.PendingEmail,
		"access_expires_at":  formatTime(s.AccessExpiresAt),
		"renewal_issued_at":  formatTime(s.RenewalIssuedAt),
		"renewal_expires_at": formatTime(s.RenewalExpiresAt),
		"provider":           s.Provider,
		"signing_key":        encodeKey(s.SigningPublicKey),
		"crypto_tokens":      s.HasCryptoTokens,
		"seeds":              s.Seeds,
		"generation":         s.Generation,
	}, func() {
		if !s.Authenticated {
			fmt.Fprintln(p.writer, "Not logged in")
			if s.PendingEmail != "" {
				fmt.Fprintf(p.writer, "Pending link for: %s\n", s.PendingEmail)
			}
			return
		}
		fmt.Fprintf(p.writer, "User:            %s (%s)\n", s.Email, s.UserID)
		fmt.Fprintf(p.writer, "Access expires:  %s\n", formatTime(s.AccessExpiresAt))
		fmt.Fprintf(p.writer, "Renewal expires: %s\n", formatTime(s.RenewalExpiresAt))
		fmt.Fprintf(p.writer, "Key provider:    %s\n", s.Provider)
		fmt.Fprintf(p.writer, "Signing key:     %s\n", encodeKey(s.SigningPublicKey))
		fmt.Fprintf(p.writer, "Cipher seeds:    %d\n", s.Seeds)
	})
}

// PrintSessionInfo prints the server's view of the session
func (p *Printer) PrintSessionInfo(info *protocol.SessionInfo) error {
	expires := formatTime(time.Unix(info.ExpiresAt, 0))
	return p.print(map[string]any{
		"user_id":    info.UserID,
		"email":      info.Email,
		"expires_at": expires,
	}, func() {
		fmt.Fprintf(p.writer, "User:    %s (%s)\n", info.Email, info.UserID)
		fmt.Fprintf(p.writer, "Expires: %s\n", expires)
	})
}

// PrintParams prints decrypted parameters in key order
func (p *Printer) PrintParams(params map[string]string) error {
	return p.print(params, func() {
		names := make([]string, 0, len(params))
		for k := range params {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(p.writer, "%s=%s\n", k, params[k])
		}
	})
}

// PrintValue prints a single named value
func (p *Printer) PrintValue(name, value string) error {
	return p.print(map[string]string{name: value}, func() {
		fmt.Fprintln(p.writer, value)
	})
}

// PrintMessage prints a status message
func (p *Printer) PrintMessage(msg string) error {
	return p.print(map[string]string{"status": "ok", "message": msg}, func() {
		fmt.Fprintln(p.writer, msg)
	})
}

// PrintVersion prints build information
func (p *Printer) PrintVersion(v VersionInfo) error {
	return p.print(v, func() {
		fmt.Fprintf(p.writer, "zkauth version %s\n", v.Version)
		fmt.Fprintf(p.writer, "Git commit: %s\n", v.Commit)
		fmt.Fprintf(p.writer, "Build date: %s\n", v.BuildDate)
		fmt.Fprintf(p.writer, "Go version: %s\n", v.GoVersion)
		fmt.Fprintf(p.writer, "OS/Arch: %s/%s\n", v.OS, v.Arch)
	})
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	return p.print(map[string]string{
		"status": "error",
		"error":  err.Error(),
	}, func() {
		fmt.Fprintf(p.writer, "Error: %v\n", err)
	})
}

func (p *Printer) printJSON(obj any) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(obj)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func encodeKey(k []byte) string {
	if len(k) == 0 {
		return ""
	}
	return keys.EncodeKey(k)
}
