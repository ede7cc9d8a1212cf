//go:build linux

package dio

import (
	"fmt"
	"log/slog"

	"github.com/warthog618/gpiod"
)

type gpioWatcher struct {
	chip  *gpiod.Chip
	lines []*gpiod.Line
}

func newWatcher(logger *slog.Logger, cfg Config, fn EdgeFunc) (Watcher, error) {
	chip, err := gpiod.NewChip(cfg.Chip, gpiod.WithConsumer("sx127xd"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", cfg.Chip, err)
	}
	w := &gpioWatcher{chip: chip}

	pins := []struct {
		pin    int
		offset int
	}{
		{0, cfg.DIO0},
		{1, cfg.DIO1},
		{3, cfg.DIO3},
	}
	for _, p := range pins {
		if p.offset < 0 {
			continue
		}
		pin := p.pin
		line, err := chip.RequestLine(p.offset,
			gpiod.WithEventHandler(func(evt gpiod.LineEvent) {
				logger.Debug("dio edge", "pin", pin, "offset", evt.Offset)
				fn(pin)
			}),
			gpiod.WithRisingEdge)
		if err != nil {
			_ = w.Close()

			return nil, fmt.Errorf("request gpio line %d for dio%d: %w", p.offset, p.pin, err)
		}
		w.lines = append(w.lines, line)
	}

	return w, nil
}

func (w *gpioWatcher) Close() error {
	var firstErr error
	for _, l := range w.lines {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := w.chip.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
