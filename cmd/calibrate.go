package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/smazurov/hdrnode/internal/logging"
	"github.com/smazurov/hdrnode/internal/shutter"
)

// CreateCalibrateCmd creates the calibrate command.
func CreateCalibrateCmd() *cobra.Command {
	var camFlags CameraFlags
	var out string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Sweep the shutter and record the code to time map",
		Long: `Steps the device through every shutter code, reads back the realized exposure time ` +
			`and writes the resulting map as TOML. The node loads this file at startup instead of sweeping again.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			initCommandLogging(logJSON)
			logger := logging.GetLogger("shutter")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			cam, err := camFlags.Open(logging.GetLogger("camera"))
			if err != nil {
				return err
			}
			defer cam.Close()

			m, err := shutter.Build(ctx, cam, logger)
			if err != nil {
				return fmt.Errorf("shutter sweep failed: %w", err)
			}

			minCode, maxCode := m.CodeRange()
			minAbs, maxAbs := m.Bounds()
			logger.Info("Shutter map built",
				"entries", m.Len(),
				"min_code", minCode,
				"max_code", maxCode,
				"min_abs", minAbs,
				"max_abs", maxAbs)

			if out == "-" {
				return shutter.Encode(c.OutOrStdout(), m, camFlags.Name())
			}
			if err := shutter.SaveFile(out, m, camFlags.Name()); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "Wrote %d entries to %s\n", m.Len(), out)
			return nil
		},
	}

	AddCameraFlags(cmd, &camFlags)
	cmd.Flags().StringVarP(&out, "out", "o", "shutter.toml", "Output file, - for stdout")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
	return cmd
}

// initCommandLogging sets up minimal logging for one-shot commands.
func initCommandLogging(logJSON bool) {
	cfg := logging.Config{Level: "info", Format: "text"}
	if logJSON {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}
