package shutter

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Calibration is the on-disk form of a measured map.
type Calibration struct {
	Device   string    `toml:"device"`
	Measured time.Time `toml:"measured"`
	Entries  []Entry   `toml:"entry"`
}

// Encode writes m as TOML.
func Encode(w io.Writer, m *Map, device string) error {
	cal := Calibration{
		Device:   device,
		Measured: time.Now().UTC().Truncate(time.Second),
		Entries:  m.Entries(),
	}
	enc := toml.NewEncoder(w)
	if err := enc.Encode(cal); err != nil {
		return fmt.Errorf("encode shutter map: %w", err)
	}
	return nil
}

// Decode reads a map written by Encode.
func Decode(r io.Reader) (*Map, Calibration, error) {
	var cal Calibration
	if err := toml.NewDecoder(r).Decode(&cal); err != nil {
		return nil, cal, fmt.Errorf("decode shutter map: %w", err)
	}
	m, err := NewMap(cal.Entries)
	if err != nil {
		return nil, cal, err
	}
	return m, cal, nil
}

// SaveFile writes m to path.
func SaveFile(path string, m *Map, device string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Encode(f, m, device); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads a map from path.
func LoadFile(path string) (*Map, Calibration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Calibration{}, err
	}
	defer f.Close()
	return Decode(f)
}
