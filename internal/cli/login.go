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
	"context"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-zkauth/pkg/magiclink"
	"github.com/jeremyhahn/go-zkauth/pkg/zkauth"
)

func newLoginCmd() *cobra.Command {
	var req magiclink.LinkRequest

	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Request a magic link",
		Long: `Request a magic link for email. The link arrives by mail, or in the
response when the server runs in development mode. Redeem it with
"zkauth validate".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Email = args[0]
			return withClient(cmd, func(ctx context.Context, p *profile) error {
				result, err := p.RequestLink(ctx, req)
				if err != nil {
					return err
				}
				printVerbose(cmd, "server key accepted for %s", req.Email)
				return printer(cmd).PrintLinkResult(req.Email, result)
			})
		},
	}

	cmd.Flags().StringVar(&req.UIHost, "ui-host", "", "host the magic link points at (required)")
	cmd.Flags().StringVar(&req.NextPath, "next", "", "path to continue to after login")
	cmd.Flags().StringVar(&req.EmailLang, "lang", "", "language of the login email")
	_ = cmd.MarkFlagRequired("ui-host")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <link|token>",
		Short: "Redeem a magic link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := zkauth.TokenFromLink(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, p *profile) error {
				result, err := p.ValidateLink(ctx, token)
				if err != nil {
					return err
				}
				return printer(cmd).PrintValidation(result)
			})
		},
	}
}
