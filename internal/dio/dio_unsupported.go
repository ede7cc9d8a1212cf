//go:build !linux

package dio

import (
	"fmt"
	"log/slog"
	"runtime"
)

func newWatcher(_ *slog.Logger, _ Config, _ EdgeFunc) (Watcher, error) {
	return nil, fmt.Errorf("gpio dio lines are not supported on %s", runtime.GOOS)
}
