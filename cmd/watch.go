package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/smazurov/hdrnode/internal/events"
	"github.com/smazurov/hdrnode/internal/logging"
	natsint "github.com/smazurov/hdrnode/internal/nats"
)

// CreateWatchCmd creates the watch command.
func CreateWatchCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow capture and exposure telemetry from every node",
		Long:  `Subscribes to the camera subjects on NATS and prints each message as one JSON line.`,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			initCommandLogging(false)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			bus := events.New()
			ch := make(chan any, 64)
			unsubs := []func(){
				events.SubscribeToChannel[events.CaptureCompletedEvent](bus, ch),
				events.SubscribeToChannel[events.CaptureFailedEvent](bus, ch),
				events.SubscribeToChannel[events.ExposureUpdatedEvent](bus, ch),
			}
			defer func() {
				for _, unsub := range unsubs {
					unsub()
				}
			}()

			bridge := natsint.NewBridge(url, bus, logging.GetLogger("nats"))
			if err := bridge.Start(); err != nil {
				return fmt.Errorf("connect to NATS: %w", err)
			}
			defer bridge.Stop()

			return printEvents(ctx, c.OutOrStdout(), ch)
		},
	}

	cmd.Flags().StringVar(&url, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	return cmd
}

type eventLine struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// printEvents writes one JSON line per event until ctx is done.
func printEvents(ctx context.Context, w io.Writer, ch <-chan any) error {
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			if err := enc.Encode(eventLine{Event: events.Name(ev), Data: ev}); err != nil {
				return err
			}
		}
	}
}
