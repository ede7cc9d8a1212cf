package hwport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Bridge protocol: every request and response is one frame. Requests start
// with an op byte; responses start with a status byte.
const (
	OpOpen  byte = 0x01
	OpClose byte = 0x02
	OpRead  byte = 0x03
	OpWrite byte = 0x04

	StatusOK         byte = 0x00
	StatusBadRequest byte = 0x01
	StatusFailed     byte = 0x02
	StatusNotOpen    byte = 0x03
)

const maxBridgeRead = 255

// Bridge implements Port by forwarding register operations over a Link to a
// remote register bridge (radiosim, or firmware in front of a real chip).
// One request is in flight at a time.
type Bridge struct {
	logger *slog.Logger
	link   Link

	mu     sync.Mutex
	open   bool
	closed bool
}

func NewBridge(logger *slog.Logger, link Link) *Bridge {
	return &Bridge{logger: logger, link: link}
}

func (b *Bridge) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return opError("open", 0, ErrClosed)
	}
	if b.open {
		return nil
	}

	if err := b.link.Connect(); err != nil {
		return opError("open", 0, err)
	}
	if _, err := b.roundTrip([]byte{OpOpen}); err != nil {
		_ = b.link.Close()

		return opError("open", 0, err)
	}
	b.open = true
	b.logger.Info("bridge open", "link", b.link.Name())

	return nil
}

func (b *Bridge) WriteRegister(addr byte, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usable(); err != nil {
		return opError("write", addr, err)
	}
	if len(data) == 0 {
		return opError("write", addr, errors.New("no data"))
	}

	req := make([]byte, 2+len(data))
	req[0] = OpWrite
	req[1] = addr
	copy(req[2:], data)
	if _, err := b.roundTrip(req); err != nil {
		return opError("write", addr, err)
	}

	return nil
}

func (b *Bridge) ReadRegister(addr byte, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usable(); err != nil {
		return nil, opError("read", addr, err)
	}
	if n <= 0 || n > maxBridgeRead {
		return nil, opError("read", addr, fmt.Errorf("invalid read length %d", n))
	}

	resp, err := b.roundTrip([]byte{OpRead, addr, byte(n)})
	if err != nil {
		return nil, opError("read", addr, err)
	}
	if len(resp) != n {
		return nil, opError("read", addr, fmt.Errorf("short read: got %d want %d", len(resp), n))
	}

	return resp, nil
}

func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var closeErr error
	if b.open {
		if _, err := b.roundTrip([]byte{OpClose}); err != nil {
			closeErr = err
		}
		b.open = false
	}
	if err := b.link.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	if closeErr != nil {
		return opError("close", 0, closeErr)
	}
	b.logger.Info("bridge closed", "link", b.link.Name())

	return nil
}

func (b *Bridge) usable() error {
	if b.closed {
		return ErrClosed
	}
	if !b.open {
		return ErrNotOpen
	}

	return nil
}

func (b *Bridge) roundTrip(req []byte) ([]byte, error) {
	if err := b.link.WriteFrame(req); err != nil {
		return nil, err
	}
	resp, err := b.link.ReadFrame()
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, errors.New("empty response")
	}

	switch resp[0] {
	case StatusOK:
		return resp[1:], nil
	case StatusBadRequest:
		return nil, errors.New("remote rejected request")
	case StatusNotOpen:
		return nil, ErrNotOpen
	case StatusFailed:
		return nil, errors.New("remote hardware failure")
	default:
		return nil, fmt.Errorf("unknown response status 0x%02X", resp[0])
	}
}
