// Package led drives a board status LED from session health.
package led

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Pattern is what the status LED shows.
type Pattern string

// Status patterns.
const (
	// PatternIdle is shown until the first capture completes.
	PatternIdle Pattern = "idle"
	// PatternOK is shown while cycles complete.
	PatternOK Pattern = "ok"
	// PatternFault is shown after a failed cycle until the next success.
	PatternFault Pattern = "fault"
	// PatternOff turns the LED off on shutdown.
	PatternOff Pattern = "off"
)

// Controller sets the status LED.
type Controller interface {
	Set(p Pattern) error
	Name() string
}

const (
	defaultSysfsRoot    = "/sys/class/leds"
	deviceTreeModelPath = "/proc/device-tree/model"
)

// Board status LEDs by device tree model substring.
var boardLEDs = []struct {
	model string
	led   string
}{
	{"NanoPC-T6", "sys_led"},
	{"Orange Pi", "green_led"},
	{"Raspberry Pi", "ACT"},
	{"Jetson", "pwr"},
}

// New returns a controller for name. An empty name disables the LED; "auto"
// picks the status LED of a known board; anything else is a sysfs LED name.
func New(name string, logger *slog.Logger) Controller {
	if name == "auto" {
		model := detectBoard()
		name = ""
		for _, b := range boardLEDs {
			if strings.Contains(model, b.model) {
				name = b.led
				break
			}
		}
		logger.Info("Detected board for status LED", "board_model", model, "led", name)
	}
	if name == "" {
		return noop{logger: logger}
	}
	return NewSysfs(defaultSysfsRoot, name)
}

func detectBoard() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(data), "\x00")
}

// Sysfs drives an LED through /sys/class/leds/<name>.
type Sysfs struct {
	dir  string
	name string
}

// NewSysfs returns a controller for root/name.
func NewSysfs(root, name string) *Sysfs {
	return &Sysfs{dir: filepath.Join(root, name), name: name}
}

// Name implements Controller.
func (s *Sysfs) Name() string { return s.name }

// Set implements Controller. Blinking patterns use kernel LED triggers.
func (s *Sysfs) Set(p Pattern) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("LED %q: %w", s.name, err)
	}

	var trigger, brightness string
	switch p {
	case PatternIdle:
		trigger, brightness = "heartbeat", "1"
	case PatternOK:
		trigger, brightness = "none", "1"
	case PatternFault:
		trigger, brightness = "timer", "1"
	case PatternOff:
		trigger, brightness = "none", "0"
	default:
		return fmt.Errorf("unknown LED pattern %q", p)
	}

	if err := os.WriteFile(filepath.Join(s.dir, "trigger"), []byte(trigger), 0o644); err != nil {
		return fmt.Errorf("set LED trigger: %w", err)
	}
	// The trigger owns brightness while it runs
	if trigger != "none" {
		return nil
	}
	if err := os.WriteFile(filepath.Join(s.dir, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("set LED brightness: %w", err)
	}
	return nil
}

type noop struct {
	logger *slog.Logger
}

func (n noop) Name() string { return "" }

func (n noop) Set(p Pattern) error {
	n.logger.Debug("Status LED not configured", "pattern", p)
	return nil
}
