package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// DeviceInfo describes a capture device found on the host.
type DeviceInfo struct {
	Path      string
	Name      string
	ID        string
	Driver    string
	Streaming bool
}

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 capture devices",
		Long:  `Lists capture nodes with the stable ID accepted by --device. With --watch, keeps running and reports nodes as they are plugged or removed.`,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			devices, err := listDevices()
			if err != nil {
				return err
			}
			printDevices(c.OutOrStdout(), devices)
			if !watch {
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return watchDevices(ctx, c.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Report devices as they are added or removed")
	return cmd
}

func printDevices(w io.Writer, devices []DeviceInfo) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No capture devices found")
		return
	}
	for _, d := range devices {
		streaming := "no"
		if d.Streaming {
			streaming = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\tdriver=%s\tstreaming=%s\n\t--device %s\n",
			d.Path, d.Name, d.Driver, streaming, d.ID)
	}
}
