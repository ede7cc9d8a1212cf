package chipsim

import (
	"sync"

	"github.com/lorahop/sx127xd/internal/hwport"
)

// Port adapts a simulated chip to the hwport.Port interface. Useful for
// tests and for running the daemon with no hardware at all.
type Port struct {
	chip *Chip

	mu     sync.Mutex
	open   bool
	closed bool
}

var _ hwport.Port = (*Port)(nil)

func NewPort(chip *Chip) *Port {
	return &Port{chip: chip}
}

func (p *Port) Chip() *Chip {
	return p.chip
}

func (p *Port) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &hwport.Error{Op: "open", Err: hwport.ErrClosed}
	}
	p.open = true

	return nil
}

func (p *Port) WriteRegister(addr byte, data []byte) error {
	if err := p.usable(); err != nil {
		return &hwport.Error{Op: "write", Addr: addr, Err: err}
	}
	if err := p.chip.WriteRegister(addr, data); err != nil {
		return &hwport.Error{Op: "write", Addr: addr, Err: err}
	}

	return nil
}

func (p *Port) ReadRegister(addr byte, n int) ([]byte, error) {
	if err := p.usable(); err != nil {
		return nil, &hwport.Error{Op: "read", Addr: addr, Err: err}
	}
	out, err := p.chip.ReadRegister(addr, n)
	if err != nil {
		return nil, &hwport.Error{Op: "read", Addr: addr, Err: err}
	}

	return out, nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.open = false
	p.chip.Close()

	return nil
}

func (p *Port) usable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return hwport.ErrClosed
	}
	if !p.open {
		return hwport.ErrNotOpen
	}

	return nil
}
