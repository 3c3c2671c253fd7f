package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/hdrnode/internal/logging"
	natsint "github.com/smazurov/hdrnode/internal/nats"
)

// CreateModesCmd creates the modes command.
func CreateModesCmd() *cobra.Command {
	var url, reason string
	var hdr, aec, autoShutter bool

	cmd := &cobra.Command{
		Use:   "modes <camera-id>",
		Short: "Request a mode change on a running node over NATS",
		Long: `Publishes a modes request to hdrnode.control.<camera-id>.modes. The node applies it at the ` +
			`start of its next cycle and announces the result as a modes-changed event.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			initCommandLogging(false)

			pub, err := natsint.NewControlPublisher(url, logging.GetLogger("nats"))
			if err != nil {
				return fmt.Errorf("connect to NATS: %w", err)
			}
			defer pub.Close()

			return pub.SetModes(natsint.ModesMessage{
				CameraID:    args[0],
				HDR:         hdr,
				AEC:         aec,
				AutoShutter: autoShutter,
				Reason:      reason,
			})
		},
	}

	cmd.Flags().StringVar(&url, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	cmd.Flags().BoolVar(&hdr, "hdr", true, "Capture bracketed bursts")
	cmd.Flags().BoolVar(&aec, "aec", true, "Retune the bracket from captured frames")
	cmd.Flags().BoolVar(&autoShutter, "auto-shutter", false, "Let the device control the shutter")
	cmd.Flags().StringVar(&reason, "reason", "", "Free-form reason recorded with the request")
	return cmd
}
