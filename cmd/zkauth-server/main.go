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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-zkauth/internal/config"
	"github.com/jeremyhahn/go-zkauth/internal/server"
	"github.com/jeremyhahn/go-zkauth/pkg/adapters/logger"
	"github.com/jeremyhahn/go-zkauth/pkg/metrics"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/zkauth/config.yaml", "Path to configuration file")
	initMaster := flag.String("init-master-context", "", "Write a new master context to this path and exit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("zkauth server\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	if *initMaster != "" {
		if err := config.WriteMasterContext(*initMaster); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Master context written to %s\n", *initMaster)
		os.Exit(0)
	}

	if envConfig := os.Getenv("ZKAUTH_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}
	if _, err := os.Stat(*configPath); errors.Is(err, os.ErrNotExist) {
		*configPath = ""
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := cfg.Logger()
	log.Info("Starting zkauth server",
		logger.String("config", *configPath),
		logger.String("version", version))

	if err := run(cfg, log); err != nil {
		log.Error("Server failed", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Server stopped successfully")
}

func run(cfg *config.Config, log logger.Logger) error {
	master, err := cfg.LoadMasterContext()
	if err != nil {
		return err
	}
	tlsConfig, err := cfg.TLS.LoadTLSConfig()
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	srv, err := server.New(&server.Config{
		Addr:           cfg.Addr(),
		MasterContext:  master,
		AccessTTL:      cfg.Credentials.AccessTTL,
		RenewalTTL:     cfg.Credentials.RenewalTTL,
		LinkTTL:        cfg.Links.TTL,
		LinkScheme:     cfg.Links.Scheme,
		AllowedUIHosts: cfg.Links.AllowedUIHosts,
		DevMode:        cfg.Links.DevMode,
		RateLimit:      cfg.RateLimiter(),
		Audit:          cfg.Auditor(log),
		SecureCookies:  cfg.Server.SecureCookies,
		ClockSkew:      cfg.Server.ClockSkew,
		Version:        version,
		TLSConfig:      tlsConfig,
		Logger:         log,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
	})
	for i := range master {
		master[i] = 0
	}
	if err != nil {
		return err
	}
	if cfg.Links.DevMode {
		log.Warn("Development mode: magic links are returned in login responses")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return <-errCh
}
