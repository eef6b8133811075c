package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/hollis-v/beamcast/internal/models"
	"github.com/hollis-v/beamcast/internal/peer"
	sigchannel "github.com/hollis-v/beamcast/internal/signal"
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Broadcast media to all viewers of a stream",
	RunE:  runBroadcast,
}

func runBroadcast(cmd *cobra.Command, args []string) error {
	ch := sigchannel.NewChannel(serverURL)
	if err := ch.Connect(); err != nil {
		return err
	}
	defer ch.Close()

	source, err := newTestSource()
	if err != nil {
		return fmt.Errorf("media source: %w", err)
	}

	factory := peer.NewPionFactory(stunServers, []webrtc.TrackLocal{source.Track()})
	coordinator := peer.NewBroadcaster(streamID, ch.Send, factory, source.Release)
	defer coordinator.Shutdown()

	// Re-issued automatically after every reconnect.
	ch.SetIntent(models.SignalMessage{
		Type:     models.SignalTypeStartStream,
		StreamID: streamID,
	})
	fmt.Printf("Broadcasting stream %q via %s\n", streamID, serverURL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	viewers := 0
	for {
		select {
		case msg, ok := <-ch.Incoming():
			if !ok {
				return fmt.Errorf("signaling channel lost")
			}
			switch msg.Type {
			case models.SignalTypeViewerCount:
				fmt.Printf("Viewers: %d\n", msg.Count)
				// Each newcomer gets its own transport and a fresh offer.
				for ; viewers < msg.Count; viewers++ {
					if err := coordinator.Announce(); err != nil {
						slog.Error("offer failed", "error", err)
					}
				}
				if msg.Count < viewers {
					viewers = msg.Count
					// From names the viewer that left.
					if msg.From != "" {
						coordinator.RemoveViewer(msg.From)
					}
				}

			case models.SignalTypeAnswer:
				if err := coordinator.HandleAnswer(msg.From, msg.Payload); err != nil {
					slog.Error("negotiation failed", "viewerId", msg.From, "error", err)
				}

			case models.SignalTypeCandidate:
				if err := coordinator.HandleCandidate(msg.From, msg.Payload); err != nil {
					slog.Warn("candidate rejected", "viewerId", msg.From, "error", err)
				}

			case models.SignalTypeError:
				return fmt.Errorf("relay: %s", msg.Error)
			}

		case <-quit:
			fmt.Println("Ending stream")
			ch.Send(models.SignalMessage{
				Type:     models.SignalTypeEndStream,
				StreamID: streamID,
			})
			return nil
		}
	}
}
