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
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-zkauth/pkg/keys"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the age identity that custodies session keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate <path>",
		Short: "Write a new age identity file",
		Long: `Write a new age identity to path. Pass it with --identity to keep
private keys sealed inside the profile instead of in process memory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := keys.GenerateIdentity()
			if err != nil {
				return err
			}
			if err := keys.WriteIdentity(args[0], identity); err != nil {
				return err
			}
			return printer(cmd).PrintValue("recipient", identity.Recipient().String())
		},
	})
	return cmd
}
