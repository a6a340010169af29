// Command spotdexd runs the spot exchange: SQLite-backed matching
// engine, ledger and HTTP API in one process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cosmossdk.io/log"
	"github.com/spf13/cobra"

	"github.com/openalpha/spot-dex/api"
	"github.com/openalpha/spot-dex/config"
	"github.com/openalpha/spot-dex/engine"
	"github.com/openalpha/spot-dex/gateway"
	"github.com/openalpha/spot-dex/ledger"
	"github.com/openalpha/spot-dex/metrics"
	"github.com/openalpha/spot-dex/storage"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "spotdexd",
		Short: "Spot exchange daemon",
		Long:  "spotdexd serves the spot exchange API over a SQLite-backed matching engine and ledger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func run(cfg *config.Config) error {
	filter, err := log.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger := log.NewLogger(os.Stderr, log.FilterOption(filter))

	store, err := storage.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	users := storage.NewUserStore()
	orders := storage.NewOrderStore()
	trades := storage.NewTradeLog()
	led := ledger.New(logger)
	clock := &gateway.AdmissionClock{}
	eng := engine.New(store, orders, trades, led, clock.Next, logger)
	m := metrics.New()
	gw := gateway.New(store, users, orders, trades, led, eng, m, clock, logger)

	server := api.NewServer(cfg.Server, gw, m, cfg.Metrics.Enabled, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
