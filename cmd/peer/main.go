package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/callhub/internal/adapter/driven/media/pion"
	"github.com/Wyydra/callhub/internal/adapter/driving/signalclient"
	"github.com/Wyydra/callhub/internal/config"
	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/Wyydra/callhub/internal/core/service"
	"github.com/Wyydra/callhub/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "callhub-peer",
	Short: "Headless WebRTC peer for a callhub relay",
}

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and negotiate with everyone in it",
	Long: `Connects to the relay, joins the room and negotiates a WebRTC connection
with every other member, sending generated audio and logging the streams it
gets. A dropped relay connection is redialed with backoff and the room rejoined.

Examples:
  callhub-peer join lobby
  callhub-peer join lobby --server ws://relay.example:5270/videocallhub --protocol messagepack`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return join(cmd, args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (default ./callhub.*)")
	joinCmd.Flags().String("server", "", "hub URL, overrides peer.server_url")
	joinCmd.Flags().String("protocol", "", "json or messagepack, overrides peer.protocol")
	rootCmd.AddCommand(joinCmd)
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func join(cmd *cobra.Command, roomArg string) error {
	room, err := domain.ParseRoomID(roomArg)
	if err != nil {
		return err
	}

	v := config.New()
	if err := v.BindPFlag("peer.server_url", cmd.Flags().Lookup("server")); err != nil {
		return err
	}
	if err := v.BindPFlag("peer.protocol", cmd.Flags().Lookup("protocol")); err != nil {
		return err
	}
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}
	if _, err := logging.Setup(cfg.Log); err != nil {
		return err
	}

	factory, err := pion.NewFactory(pion.Config{
		ICEServers:    cfg.Peer.ICEServers,
		GatherTimeout: cfg.Peer.GatherTimeout,
		LoggerFactory: logging.NewPionFactory(zerolog.WarnLevel),
		SendAudio:     cfg.Peer.SendAudio,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := log.With().Str("room_id", room.String()).Logger()

	relay := signalclient.NewReconnector(cfg.Peer.ServerURL, signalclient.Options{
		Protocol:        cfg.Peer.Protocol,
		WriteWait:       cfg.WebSocket.WriteWait,
		PongWait:        cfg.WebSocket.PongWait,
		PingInterval:    cfg.WebSocket.PingInterval,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
	}, signalclient.ReconnectConfig{
		InitialDelay: cfg.Peer.ReconnectInitialDelay,
		MaxDelay:     cfg.Peer.ReconnectMaxDelay,
		MaxAttempts:  cfg.Peer.ReconnectMaxAttempts,
	})

	peers := service.NewPeerService(room, factory, relay,
		service.WithStreamObserver(func(remote domain.ConnectionID, stream *domain.MediaStream) {
			if stream == nil {
				l.Info().Str("remote_id", remote.String()).Msg("Remote stream gone")
				return
			}
			kinds := make([]string, 0, len(stream.Tracks))
			for _, t := range stream.Tracks {
				kinds = append(kinds, t.Kind)
			}
			l.Info().Str("remote_id", remote.String()).Str("stream_id", stream.ID).Strs("tracks", kinds).Msg("Remote stream")
		}),
	)
	defer peers.Close()

	l.Info().Str("server", cfg.Peer.ServerURL).Msg("Connecting to relay")
	err = relay.Run(ctx, func(ctx context.Context, c *signalclient.Client) error {
		// Links from a previous connection point at a stale identity.
		peers.Reset(c.ID())
		if err := c.JoinRoom(ctx, room); err != nil {
			return err
		}
		l.Info().Str("client_id", c.ID().String()).Msg("Joined room")

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-c.Incoming():
				if !ok {
					return nil
				}
				peers.HandleEvent(ctx, ev)
			}
		}
	})
	if err != nil {
		return err
	}
	l.Info().Msg("Leaving")
	return nil
}
