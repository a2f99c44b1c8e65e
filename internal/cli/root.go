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

// Package cli implements the zkauth command-line client. Each invocation
// opens the persisted profile, performs one operation and closes it, so
// a login survives across invocations the way it survives a restart.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type cfgKey struct{}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zkauth",
		Short: "zkauth - passwordless zero-knowledge login client",
		Long: `zkauth drives the passwordless login flow against a zkauth server.

A login requests a magic link, redeems it, and keeps the resulting
session in a local profile. Requests are signed with keys derived on
this machine; the server never holds them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey{}, cfg))
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default is $XDG_CONFIG_HOME/zkauth/zkauth.yaml)")
	flags.String("server", "", "base URL of the zkauth server")
	flags.String("profile", defaultProfileDir(), "directory holding the session profile")
	flags.String("store", StoreFile, "profile storage (file, sqlite, memory)")
	flags.String("identity", "", "age identity file; custodies keys in the profile")
	flags.String("pinned-server-key", "", "only accept this server signing key")
	flags.String("drift", "", "schema drift handling (export, recreate)")
	flags.String("ca-file", "", "CA certificate for the server")
	flags.Bool("insecure-skip-verify", false, "skip TLS certificate verification")
	flags.Duration("timeout", 0, "HTTP request timeout")
	flags.StringP("output", "o", string(OutputFormatText), "output format (text, json)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newLoginCmd(),
		newValidateCmd(),
		newStatusCmd(),
		newSessionCmd(),
		newRefreshCmd(),
		newLogoutCmd(),
		newParamsCmd(),
		newIdentityCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}

// getConfig returns the configuration resolved by the root command.
func getConfig(cmd *cobra.Command) *Config {
	if cfg, ok := cmd.Context().Value(cfgKey{}).(*Config); ok {
		return cfg
	}
	return &Config{OutputFormat: string(OutputFormatText)}
}

// printer returns a printer for the command's output stream.
func printer(cmd *cobra.Command) *Printer {
	return NewPrinter(getConfig(cmd).OutputFormat, cmd.OutOrStdout())
}

// withClient opens the profile, runs fn and closes the profile.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, p *profile) error) (err error) {
	ctx := cmd.Context()
	p, err := getConfig(cmd).openClient(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, p)
}

// HandleError prints err to stderr and exits with code 1.
func HandleError(err error) {
	_ = NewPrinter(string(OutputFormatText), os.Stderr).PrintError(err)
	os.Exit(1)
}

func printVerbose(cmd *cobra.Command, format string, args ...any) {
	if getConfig(cmd).LogLevel == "debug" {
		fmt.Fprintf(cmd.ErrOrStderr(), "[VERBOSE] "+format+"\n", args...)
	}
}
