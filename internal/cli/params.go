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
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newParamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Encrypt and decrypt URL parameters with session tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt <key=value>...",
		Short: "Encrypt parameters into a single URL-safe value",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parsePairs(args)
			if err != nil {
				return err
			}
			return withClient(cmd, func(_ context.Context, p *profile) error {
				value, err := p.EncryptParams(params)
				if err != nil {
					return err
				}
				return printer(cmd).PrintValue("value", value)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "decrypt <value>",
		Short: "Decrypt a value produced by params encrypt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(_ context.Context, p *profile) error {
				params, err := p.DecryptParams(args[0])
				if err != nil {
					return err
				}
				return printer(cmd).PrintParams(params)
			})
		},
	})
	return cmd
}

func parsePairs(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", arg)
		}
		params[k] = v
	}
	return params, nil
}
