// Package bracket programs the on-camera HDR bracket: four shutter/gain
// banks that the device cycles through on successive frames of a burst,
// and the metadata flags that embed per-frame state in the image prefix.
//
// Every register write carries camera.RegisterMarker. Reads mask the value
// field, so a bracket read back after a write compares equal to the one
// written.
package bracket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smazurov/hdrnode/internal/camera"
)

// Bracket holds the shutter code for each bank, in bank order.
type Bracket [camera.NumBanks]uint32

// Gains holds the gain value for each bank, in bank order.
type Gains [camera.NumBanks]uint32

// Bank pairs used for the two exposure directions.
var (
	UnderBanks = []int{0, 1}
	OverBanks  = []int{2, 3}
)

// BankError reports a failed register access for one bank.
type BankError struct {
	Bank     int
	Register uint64
	Err      error
}

func (e *BankError) Error() string {
	return fmt.Sprintf("bank %d [0x%04X]: %v", e.Bank, e.Register, e.Err)
}

func (e *BankError) Unwrap() error {
	return e.Err
}

// Validate rejects values that do not fit the bank value field.
func (b Bracket) Validate() error {
	for i, v := range b {
		if v > camera.BankValueMask {
			return camera.ConfigurationError("validate bracket", "bank %d shutter %d exceeds 0x%X", i, v, camera.BankValueMask)
		}
	}
	return nil
}

// Protocol drives the bracket registers through the exclusive channel.
type Protocol struct {
	ch     *camera.Channel
	logger *slog.Logger
}

// NewProtocol creates a protocol bound to ch.
func NewProtocol(ch *camera.Channel, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{ch: ch, logger: logger}
}

// SetBracket writes all four shutter banks.
func (p *Protocol) SetBracket(ctx context.Context, b Bracket) error {
	return p.ch.Do(ctx, func(h *camera.Handle) error {
		return p.Write(h, b)
	})
}

// GetBracket reads all four shutter banks.
func (p *Protocol) GetBracket(ctx context.Context) (Bracket, error) {
	var b Bracket
	err := p.ch.Do(ctx, func(h *camera.Handle) error {
		var err error
		b, err = p.Read(h)
		return err
	})
	return b, err
}

// SetEnabled turns bracket cycling on or off. Disabling also zeroes the
// shutter banks.
func (p *Protocol) SetEnabled(ctx context.Context, on bool) error {
	return p.ch.Do(ctx, func(h *camera.Handle) error {
		return p.Enable(h, on)
	})
}

// Enabled reports whether bracket cycling is on.
func (p *Protocol) Enabled(ctx context.Context) (bool, error) {
	var on bool
	err := p.ch.Do(ctx, func(h *camera.Handle) error {
		v, err := h.ReadRegister(camera.RegHDRControl)
		if err != nil {
			return camera.RegisterError("read HDR control", camera.RegHDRControl, err)
		}
		on = v == camera.HDREnablePattern
		return nil
	})
	return on, err
}

// SetGains writes all four gain banks.
func (p *Protocol) SetGains(ctx context.Context, g Gains) error {
	for i, v := range g {
		if v > camera.BankValueMask {
			return camera.ConfigurationError("set gains", "bank %d gain %d exceeds 0x%X", i, v, camera.BankValueMask)
		}
	}
	return p.ch.Do(ctx, func(h *camera.Handle) error {
		var errs []error
		for i, v := range g {
			addr := camera.RegGainBank[i]
			if err := h.WriteRegister(addr, camera.BankValue(v)); err != nil {
				errs = append(errs, &BankError{Bank: i, Register: addr, Err: camera.RegisterError("write gain", addr, err)})
			}
		}
		return errors.Join(errs...)
	})
}

// SetMetadataFlags selects the fields embedded in the frame prefix. It
// fails when the device does not implement the metadata register.
func (p *Protocol) SetMetadataFlags(ctx context.Context, flags camera.MetadataFlags) error {
	return p.ch.Do(ctx, func(h *camera.Handle) error {
		return SetMetadata(h, flags)
	})
}

// MetadataFlags reads the enabled prefix fields.
func (p *Protocol) MetadataFlags(ctx context.Context) (camera.MetadataFlags, error) {
	var flags camera.MetadataFlags
	err := p.ch.Do(ctx, func(h *camera.Handle) error {
		var err error
		flags, err = ReadMetadata(h)
		return err
	})
	return flags, err
}

// Write programs every shutter bank within an existing exclusive section.
// Every bank is attempted; failures are joined.
func (p *Protocol) Write(h *camera.Handle, b Bracket) error {
	return p.WriteBanks(h, b, 0, 1, 2, 3)
}

// WriteBanks programs only the listed banks from b.
func (p *Protocol) WriteBanks(h *camera.Handle, b Bracket, banks ...int) error {
	if err := b.Validate(); err != nil {
		return err
	}
	for _, i := range banks {
		if i < 0 || i >= camera.NumBanks {
			return camera.ConfigurationError("write banks", "bank %d out of range", i)
		}
	}
	var errs []error
	for _, i := range banks {
		addr := camera.RegShutterBank[i]
		if err := h.WriteRegister(addr, camera.BankValue(b[i])); err != nil {
			errs = append(errs, &BankError{Bank: i, Register: addr, Err: camera.RegisterError("write shutter", addr, err)})
			continue
		}
		p.logger.Debug("Bank written", "bank", i, "shutter", b[i])
	}
	return errors.Join(errs...)
}

// Read reads every shutter bank within an existing exclusive section.
func (p *Protocol) Read(h *camera.Handle) (Bracket, error) {
	var (
		b    Bracket
		errs []error
	)
	for i, addr := range camera.RegShutterBank {
		v, err := h.ReadRegister(addr)
		if err != nil {
			errs = append(errs, &BankError{Bank: i, Register: addr, Err: camera.RegisterError("read shutter", addr, err)})
			continue
		}
		b[i] = v & camera.BankValueMask
	}
	return b, errors.Join(errs...)
}

// Enable writes the HDR control pattern within an existing exclusive
// section. Disabling also zeroes the shutter banks.
func (p *Protocol) Enable(h *camera.Handle, on bool) error {
	pattern := camera.HDRDisablePattern
	if on {
		pattern = camera.HDREnablePattern
	}
	if err := h.WriteRegister(camera.RegHDRControl, pattern); err != nil {
		return camera.RegisterError("write HDR control", camera.RegHDRControl, err)
	}
	if on {
		p.logger.Debug("Bracket enabled")
		return nil
	}
	p.logger.Debug("Bracket disabled")
	return p.Write(h, Bracket{})
}

// SetMetadata writes the metadata flag register within an existing
// exclusive section.
func SetMetadata(h *camera.Handle, flags camera.MetadataFlags) error {
	present, err := h.ReadRegister(camera.RegMetadataFlags)
	if err != nil {
		return camera.RegisterError("read metadata flags", camera.RegMetadataFlags, err)
	}
	if present&camera.MetadataPresent == 0 {
		return camera.RegisterError("set metadata flags", camera.RegMetadataFlags, errors.New("metadata embedding not implemented by device"))
	}
	value := camera.MetadataPresent | uint32(flags&camera.MetaAll)
	if err := h.WriteRegister(camera.RegMetadataFlags, value); err != nil {
		return camera.RegisterError("write metadata flags", camera.RegMetadataFlags, err)
	}
	return nil
}

// ReadMetadata returns the enabled prefix fields within an existing
// exclusive section.
func ReadMetadata(h *camera.Handle) (camera.MetadataFlags, error) {
	v, err := h.ReadRegister(camera.RegMetadataFlags)
	if err != nil {
		return 0, camera.RegisterError("read metadata flags", camera.RegMetadataFlags, err)
	}
	return camera.MetadataFlags(v) & camera.MetaAll, nil
}
