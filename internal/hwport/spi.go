package hwport

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// High bit set on the address byte selects a write transaction.
const spiWriteBit = 0x80

const spiClock = 10 * physic.MegaHertz

// SPI drives the chip directly over a spidev device.
type SPI struct {
	device string

	mu     sync.Mutex
	port   spi.PortCloser
	conn   spi.Conn
	closed bool
}

// NewSPI takes a spireg device name, e.g. "/dev/spidev0.0" or "SPI0.0".
// An empty name selects the first available bus.
func NewSPI(device string) *SPI {
	return &SPI{device: device}
}

func (s *SPI) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return opError("open", 0, ErrClosed)
	}
	if s.conn != nil {
		return nil
	}

	if _, err := host.Init(); err != nil {
		return opError("open", 0, fmt.Errorf("init host: %w", err))
	}
	port, err := spireg.Open(s.device)
	if err != nil {
		return opError("open", 0, fmt.Errorf("open spi %q: %w", s.device, err))
	}
	conn, err := port.Connect(spiClock, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()

		return opError("open", 0, fmt.Errorf("configure spi: %w", err))
	}
	s.port = port
	s.conn = conn

	return nil
}

func (s *SPI) WriteRegister(addr byte, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return opError("write", addr, err)
	}

	buf := make([]byte, len(data)+1)
	buf[0] = addr | spiWriteBit
	copy(buf[1:], data)
	if err := s.conn.Tx(buf, nil); err != nil {
		return opError("write", addr, err)
	}

	return nil
}

func (s *SPI) ReadRegister(addr byte, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, opError("read", addr, err)
	}
	if n <= 0 {
		return nil, opError("read", addr, fmt.Errorf("invalid read length %d", n))
	}

	w := make([]byte, n+1)
	r := make([]byte, n+1)
	w[0] = addr &^ byte(spiWriteBit)
	if err := s.conn.Tx(w, r); err != nil {
		return nil, opError("read", addr, err)
	}

	return r[1:], nil
}

func (s *SPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn = nil
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return opError("close", 0, err)
	}

	return nil
}

func (s *SPI) usable() error {
	if s.closed {
		return ErrClosed
	}
	if s.conn == nil {
		return ErrNotOpen
	}

	return nil
}
