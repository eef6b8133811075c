package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hollis-v/beamcast/internal/models"
)

var (
	serverURL   string
	streamID    string
	stunServers []string
)

var rootCmd = &cobra.Command{
	Use:   "beamcast",
	Short: "One-to-many live streaming over WebRTC",
	Long: `beamcast connects to a signaling relay and either broadcasts local
media to every viewer of a stream or watches one.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BEAMCAST_SERVER", "ws://localhost:8080/ws/signal"), "relay WebSocket URL")
	rootCmd.PersistentFlags().StringVar(&streamID, "stream", envOr("BEAMCAST_STREAM", models.DefaultStreamID), "stream id")
	rootCmd.PersistentFlags().StringSliceVar(&stunServers, "stun",
		strings.Split(envOr("STUN_SERVERS", "stun:stun.l.google.com:19302"), ","),
		"STUN servers for connectivity establishment")

	rootCmd.AddCommand(broadcastCmd)
	rootCmd.AddCommand(watchCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
