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
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local session state",
		Long:  `Show the locally persisted session. No request is sent to the server.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(_ context.Context, p *profile) error {
				return printer(cmd).PrintStatus(p.Status())
			})
		},
	}
}

func newSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Fetch the session from the server with a signed request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, p *profile) error {
				info, err := p.Session(ctx)
				if err != nil {
					return err
				}
				return printer(cmd).PrintSessionInfo(info)
			})
		},
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access credential, rotating keys when due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, p *profile) error {
				before := p.Status().SigningPublicKey
				if err := p.Refresh(ctx); err != nil {
					return err
				}
				status := p.Status()
				if !before.Equal(status.SigningPublicKey) {
					printVerbose(cmd, "session keys rotated")
				}
				return printer(cmd).PrintStatus(status)
			})
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and wipe local key material",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, p *profile) error {
				if err := p.Logout(ctx); err != nil {
					return err
				}
				return printer(cmd).PrintMessage("logged out")
			})
		},
	}
}
