// Command espc is a reference ESP client: it completes the INIT
// handshake and sends CREATE_ROOM for the --room name, then runs until
// interrupted or its configured duration elapses, logging every state
// change — a driver for exercising pkg/client.Session end to end,
// cobra-wired the way _examples/firestige-Otus/cmd does. Session does not
// handle CREATE_ACK and espc never sends JOIN_ROOM, so random cell claims
// start only if a JOIN_ACK reaches OnJoined.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/config"
	esplog "github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/log"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/client"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/wire"
)

var (
	configPath string
	roomName   string
	claimEvery time.Duration
)

func main() {
	root := &cobra.Command{
		Use:     "espc",
		Short:   "ESP reference client",
		Version: "0.1.0",
		RunE:    run,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (defaults to ./espc.yaml)")
	root.Flags().StringVar(&roomName, "room", "lobby", "name of the room to create")
	root.Flags().DurationVar(&claimEvery, "claim-every", 200*time.Millisecond, "interval between cell-claim attempts")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "espc: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}
	log, err := esplog.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	var sess *client.Session
	joined := make(chan struct{}, 1)

	cb := client.Callbacks{
		OnConnected: func(playerID uint32) {
			log.WithField("player_id", playerID).Info("connected")
			sess.CreateRoom(roomName)
		},
		OnJoined: func(roomID wire.RoomID, localID wire.LocalID, members []client.Member) {
			log.WithField("room_id", roomID).WithField("local_id", localID).WithField("members", len(members)).Info("joined room")
			select {
			case joined <- struct{}{}:
			default:
			}
		},
		OnLeft: func(members []client.Member) {
			log.Info("left room")
		},
		OnGridChange: func() {
			log.WithField("snapshot_id", sess.Reconciler.SnapshotID()).Debug("grid updated")
		},
	}

	sess, err = client.Dial(cfg.ServerAddr, cb, log)
	if err != nil {
		return fmt.Errorf("espc: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if cfg.Duration > 0 {
		var durationCancel context.CancelFunc
		ctx, durationCancel = context.WithTimeout(ctx, cfg.Duration)
		defer durationCancel()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	sess.Init()

	go claimLoop(ctx, sess, joined)

	if err := <-runErr; err != nil {
		return fmt.Errorf("espc: %w", err)
	}
	log.Info("espc stopped")
	return nil
}

// claimLoop waits for the first successful room join, then requests
// random cells at claimEvery until ctx is canceled — a minimal
// demonstration driver, not a real player's input source.
func claimLoop(ctx context.Context, sess *client.Session, joined <-chan struct{}) {
	select {
	case <-joined:
	case <-ctx.Done():
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(claimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.RequestCell(uint16(rng.Intn(wire.GridSize)))
		}
	}
}
