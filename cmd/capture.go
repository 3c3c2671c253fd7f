package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smazurov/hdrnode/internal/acquisition"
	"github.com/smazurov/hdrnode/internal/bracket"
	"github.com/smazurov/hdrnode/internal/camera"
	"github.com/smazurov/hdrnode/internal/logging"
	"github.com/smazurov/hdrnode/internal/shutter"
	"github.com/smazurov/hdrnode/internal/sink"
)

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	var camFlags CameraFlags
	var cameraID, calibration, shutters, outDir string
	var fits, metadata, logJSON bool

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture one HDR burst to disk",
		Long: `Programs the bracket banks, captures a single burst and writes each frame as a raw ` +
			`dump with a TOML sidecar, and optionally as FITS.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			initCommandLogging(logJSON)
			logger := logging.GetLogger("acquisition")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			codes, err := ParseShutterCodes(shutters)
			if err != nil {
				return err
			}
			b, err := acquisition.ExpandBracket(codes)
			if err != nil {
				return err
			}

			cam, err := camFlags.Open(logging.GetLogger("camera"))
			if err != nil {
				return err
			}
			ch := camera.NewChannel(cam)
			defer ch.Close()

			m, err := loadOrSweep(ctx, ch, calibration, logging.GetLogger("shutter"))
			if err != nil {
				return err
			}

			proto := bracket.NewProtocol(ch, logging.GetLogger("bracket"))
			var flags camera.MetadataFlags
			if metadata {
				flags = camera.MetaAll
				if err := proto.SetMetadataFlags(ctx, flags); err != nil {
					return fmt.Errorf("enable frame metadata: %w", err)
				}
			}

			minCode, maxCode := m.CodeRange()
			seq := acquisition.New(ch, proto, acquisition.Options{
				CameraID: cameraID,
				CodeMin:  minCode,
				CodeMax:  maxCode,
				Metadata: flags,
				Logger:   logger,
			})

			frames, err := seq.CaptureHDRFrame(ctx, len(codes), codes)
			if err != nil {
				return fmt.Errorf("capture failed: %w", err)
			}

			capture := sink.Capture{
				RunID:    uuid.NewString(),
				CameraID: cameraID,
				Kind:     acquisition.KindHDR,
				Frames:   frames,
				Bracket:  b,
				Time:     time.Now().UTC(),
			}
			capture.Under, _ = m.ToAbs(b[bracket.UnderBanks[0]])
			capture.Over, _ = m.ToAbs(b[bracket.OverBanks[0]])

			writers := []sink.Sink{}
			raw, err := sink.NewRawSink(outDir)
			if err != nil {
				return err
			}
			writers = append(writers, raw)
			if fits {
				f, err := sink.NewFITSSink(outDir)
				if err != nil {
					return err
				}
				writers = append(writers, f)
			}
			for _, w := range writers {
				if err := w.Write(ctx, capture); err != nil {
					return fmt.Errorf("%s sink: %w", w.Name(), err)
				}
			}

			fmt.Fprintf(c.OutOrStdout(), "Captured %d frames into %s (run %s)\n", len(frames), outDir, capture.RunID)
			return nil
		},
	}

	AddCameraFlags(cmd, &camFlags)
	cmd.Flags().StringVar(&cameraID, "camera-id", "cam0", "Camera identifier written to sidecars")
	cmd.Flags().StringVar(&calibration, "calibration", "", "Shutter map file (sweeps when empty or missing)")
	cmd.Flags().StringVarP(&shutters, "shutters", "s", "100,300", "Burst shutter codes: 1, 2 or 4 values")
	cmd.Flags().StringVarP(&outDir, "out", "o", "captures", "Output directory")
	cmd.Flags().BoolVar(&fits, "fits", false, "Also write FITS files")
	cmd.Flags().BoolVar(&metadata, "metadata", true, "Embed frame metadata in the image prefix")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
	return cmd
}

// ParseShutterCodes reads a comma-separated list of shutter codes.
func ParseShutterCodes(s string) ([]uint32, error) {
	var codes []uint32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("shutter code %q: %w", part, err)
		}
		codes = append(codes, uint32(v))
	}
	if len(codes) == 0 {
		return nil, errors.New("no shutter codes given")
	}
	return codes, nil
}

func loadOrSweep(ctx context.Context, ch *camera.Channel, path string, logger *slog.Logger) (*shutter.Map, error) {
	if path != "" {
		m, _, err := shutter.LoadFile(path)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		logger.Info("Calibration not found, sweeping", "path", path)
	}

	var m *shutter.Map
	err := ch.Do(ctx, func(h *camera.Handle) error {
		var err error
		m, err = shutter.Build(ctx, h, logger)
		return err
	})
	return m, err
}
