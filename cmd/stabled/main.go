// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// stabled runs the stable-token engine behind the JSON-RPC API.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/luxfi/stable"
	"github.com/luxfi/stable/api"
	"github.com/luxfi/stable/config"
)

func main() {
	if err := command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func command() *cobra.Command {
	var (
		configFile     string
		allowedOrigins []string
	)

	cmd := &cobra.Command{
		Use:   "stabled",
		Short: "Runs the stable-token engine",
		RunE: func(*cobra.Command, []string) error {
			return run(configFile, allowedOrigins)
		},
	}
	cmd.Flags().StringVar(&configFile, "config-file", "", "path to the engine configuration")
	cmd.Flags().StringSliceVar(&allowedOrigins, "allowed-origins", []string{"*"}, "CORS allowed origins")
	return cmd
}

func run(configFile string, allowedOrigins []string) error {
	var configBytes []byte
	if configFile != "" {
		var err error
		configBytes, err = os.ReadFile(configFile)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	cfg, err := config.ParseConfig(configBytes)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	logger := log.NewLogger("stabled")

	engine, err := stable.New(cfg, memdb.New(), logger)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort))
	if err != nil {
		return err
	}
	server, err := api.NewServer(engine, logger, listener, allowedOrigins, api.DefaultHTTPConfig())
	if err != nil {
		return err
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.Dispatch()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		return err
	case sig := <-sigs:
		logger.Info("shutting down", "signal", sig.String())
		if err := server.Shutdown(); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		return engine.Close()
	}
}
