// Command espd runs the ESP authoritative server: peer registry, room
// manager, replication engine, and reliability layer over one or more
// shards, configured via espd.yaml/flags/environment (internal/config)
// and wired the cobra-root-plus-RunE way
// _examples/firestige-Otus/cmd/root.go and cmd/start.go do.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/config"
	esplog "github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/log"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/server"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "espd",
		Short:   "ESP authoritative game-state server",
		Version: "0.1.0",
		RunE:    run,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (defaults to ./espd.yaml or /etc/esp/espd.yaml)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "espd: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return err
	}

	log, err := esplog.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("espd: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.WithField("listen", cfg.Listen).WithField("shards", cfg.Shards).Info("espd starting")
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("espd: %w", err)
	}
	log.Info("espd stopped")
	return nil
}
