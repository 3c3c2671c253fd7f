package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/snksoft/crc"

	"github.com/smazurov/hdrnode/internal/camera"
)

var crcTable = crc.NewTable(crc.CRC32)

// Sidecar describes one raw frame file.
type Sidecar struct {
	RunID     string          `toml:"run_id"`
	CameraID  string          `toml:"camera_id"`
	Cycle     uint64          `toml:"cycle"`
	Index     int             `toml:"index"`
	Kind      string          `toml:"kind"`
	Width     int             `toml:"width"`
	Height    int             `toml:"height"`
	Format    string          `toml:"format"`
	Sequence  uint64          `toml:"sequence"`
	Timestamp time.Time       `toml:"timestamp"`
	Bracket   []uint32        `toml:"bracket"`
	Under     float64         `toml:"under"`
	Over      float64         `toml:"over"`
	CRC32     string          `toml:"crc32"`
	Metadata  camera.Metadata `toml:"metadata"`
}

// RawSink dumps every frame as raw bytes with a TOML sidecar:
// <dir>/hdr_<cycle>_<index>.raw and .toml.
type RawSink struct {
	dir string
}

// NewRawSink creates dir if needed.
func NewRawSink(dir string) (*RawSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw dump dir: %w", err)
	}
	return &RawSink{dir: dir}, nil
}

// RawName returns the base name shared by a frame's raw file and sidecar.
func RawName(cycle uint64, index int) string {
	return fmt.Sprintf("hdr_%06d_%d", cycle, index)
}

// Name implements Sink.
func (s *RawSink) Name() string { return "raw" }

// Write implements Sink.
func (s *RawSink) Write(ctx context.Context, c Capture) error {
	for i, f := range c.Frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		base := filepath.Join(s.dir, RawName(c.Cycle, i))
		if err := writeFileAtomic(base+".raw", f.Data); err != nil {
			return err
		}

		side := Sidecar{
			RunID:     c.RunID,
			CameraID:  c.CameraID,
			Cycle:     c.Cycle,
			Index:     i,
			Kind:      c.Kind,
			Width:     f.Width,
			Height:    f.Height,
			Format:    f.Format.String(),
			Sequence:  f.Sequence,
			Timestamp: f.Timestamp.UTC(),
			Bracket:   c.Bracket[:],
			Under:     c.Under,
			Over:      c.Over,
			CRC32:     fmt.Sprintf("%08x", crcTable.CalculateCRC(f.Data)),
			Metadata:  f.Metadata,
		}
		data, err := toml.Marshal(side)
		if err != nil {
			return fmt.Errorf("encode sidecar: %w", err)
		}
		if err := writeFileAtomic(base+".toml", data); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Sink.
func (s *RawSink) Close() error { return nil }

// ReadSidecar loads a sidecar written by RawSink.
func ReadSidecar(path string) (Sidecar, error) {
	var side Sidecar
	data, err := os.ReadFile(path)
	if err != nil {
		return side, err
	}
	if err := toml.Unmarshal(data, &side); err != nil {
		return side, fmt.Errorf("decode sidecar %s: %w", path, err)
	}
	return side, nil
}

// Checksum returns the sidecar checksum of data.
func Checksum(data []byte) string {
	return fmt.Sprintf("%08x", crcTable.CalculateCRC(data))
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
