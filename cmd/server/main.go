package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/callhub/internal/adapter/driven/gateway/ws"
	repo "github.com/Wyydra/callhub/internal/adapter/driven/persistence/memory"
	handler "github.com/Wyydra/callhub/internal/adapter/driving/http"
	"github.com/Wyydra/callhub/internal/config"
	"github.com/Wyydra/callhub/internal/core/service"
	"github.com/Wyydra/callhub/internal/logging"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "callhub-server",
	Short: "Room-scoped WebRTC signaling relay",
	Long: `callhub-server accepts websocket connections on the hub path, groups them
into rooms and relays offers, answers and ICE candidates between them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a config file (default ./callhub.*)")
	rootCmd.Flags().String("listen", "", "listen address, overrides server.listen_addr")
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	v := config.New()
	if err := v.BindPFlag("server.listen_addr", cmd.Flags().Lookup("listen")); err != nil {
		return err
	}
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}

	l, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}

	rooms := repo.NewRoomRepository()
	hub := ws.NewHub()

	relay := service.NewRelayService(hub, rooms, service.WithRoomPurge(cfg.Server.PurgeRoomsOnDisconnect))
	h := handler.NewHandler(relay, hub, handler.Config{
		HubPath:        cfg.Server.HubPath,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Client: ws.Options{
			SendBuffer:      cfg.WebSocket.SendBuffer,
			WriteWait:       cfg.WebSocket.WriteWait,
			PongWait:        cfg.WebSocket.PongWait,
			PingInterval:    cfg.WebSocket.PingInterval,
			MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		},
		MessagesPerSecond: cfg.WebSocket.MessagesPerSecond,
		Burst:             cfg.WebSocket.Burst,
	})

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: h.NewRouter(),
	}

	serveErr := make(chan error, 1)
	go func() {
		l.Info().Str("addr", cfg.Server.ListenAddr).Str("hub_path", cfg.Server.HubPath).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		l.Error().Err(err).Msg("Failed to start server")
		return err
	case <-quit:
	}
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	if err := h.Wait(ctx); err != nil {
		l.Warn().Err(err).Msg("Gave up waiting for websocket sessions")
	}
	l.Info().Msg("Server exited")
	return nil
}
