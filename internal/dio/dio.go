// Package dio watches the transceiver's DIO interrupt lines and forwards
// rising edges into the radio driver. Hosts without GPIO character devices
// run the driver in IRQ-polling mode instead.
package dio

import (
	"errors"
	"log/slog"
)

// EdgeFunc receives the chip DIO pin number of one rising edge.
// radio.Driver.PostDIO satisfies it.
type EdgeFunc func(pin int)

// Config maps chip DIO pins to GPIO line offsets. A negative offset leaves
// that pin unwatched.
type Config struct {
	Chip string
	DIO0 int
	DIO1 int
	DIO3 int
}

const defaultChip = "gpiochip0"

type Watcher interface {
	Close() error
}

// Watch requests the configured lines with rising-edge detection and calls
// fn from the event handler for each edge.
func Watch(logger *slog.Logger, cfg Config, fn EdgeFunc) (Watcher, error) {
	if cfg.DIO0 < 0 && cfg.DIO1 < 0 && cfg.DIO3 < 0 {
		return nil, errors.New("no dio lines configured")
	}
	if cfg.Chip == "" {
		cfg.Chip = defaultChip
	}

	return newWatcher(logger, cfg, fn)
}
