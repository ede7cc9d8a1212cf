package hwport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOpen is returned for register traffic before a successful Open.
	ErrNotOpen = errors.New("port not open")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("port closed")
	// ErrNotDetected means the attached device did not answer like an SX127x.
	ErrNotDetected = errors.New("sx127x not detected")
	// ErrTimeout means a bus transaction did not complete in time.
	ErrTimeout = errors.New("bus timeout")
)

// Error wraps a failed port operation with the register address involved,
// when there is one.
type Error struct {
	Op   string
	Addr byte
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "open" || e.Op == "close" {
		return fmt.Sprintf("hwport %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("hwport %s reg 0x%02X: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op string, addr byte, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Op: op, Addr: addr, Err: err}
}
