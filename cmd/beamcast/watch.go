package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hollis-v/beamcast/internal/models"
	"github.com/hollis-v/beamcast/internal/peer"
	sigchannel "github.com/hollis-v/beamcast/internal/signal"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a stream",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ch := sigchannel.NewChannel(serverURL)
	if err := ch.Connect(); err != nil {
		return err
	}
	defer ch.Close()

	factory := peer.NewPionFactory(stunServers, nil)
	coordinator := peer.NewViewer(streamID, ch.Send, factory)
	defer coordinator.Shutdown()

	ch.SetIntent(models.SignalMessage{
		Type:     models.SignalTypeJoinStream,
		StreamID: streamID,
	})
	fmt.Printf("Watching stream %q via %s\n", streamID, serverURL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case msg, ok := <-ch.Incoming():
			if !ok {
				return fmt.Errorf("signaling channel lost")
			}
			switch msg.Type {
			case models.SignalTypeStreamStatus:
				if msg.Active {
					fmt.Println("Stream is live, waiting for offer")
				} else {
					fmt.Println("Stream is not live yet")
				}

			case models.SignalTypeOffer:
				if err := coordinator.HandleOffer(msg.Payload); err != nil {
					// No retry: a fresh join gets a fresh offer.
					return fmt.Errorf("connection failed: %w", err)
				}

			case models.SignalTypeCandidate:
				if err := coordinator.HandleCandidate(msg.Payload); err != nil {
					slog.Warn("candidate rejected", "error", err)
				}

			case models.SignalTypeEndStream:
				fmt.Println("Stream ended by broadcaster")
				return nil

			case models.SignalTypeError:
				return fmt.Errorf("relay: %s", msg.Error)
			}

		case <-quit:
			ch.Send(models.SignalMessage{
				Type:     models.SignalTypeLeaveStream,
				StreamID: streamID,
			})
			return nil
		}
	}
}
