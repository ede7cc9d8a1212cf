// Package chipsim is a behavioral stand-in for an SX127x chip: a register
// file with the side effects the driver relies on (FIFO pointers, IRQ
// flags, DIO edges, transmit completion after a simulated airtime, scripted
// receptions). It backs the in-process sim port and the radiosim binary.
package chipsim

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lorahop/sx127xd/internal/radio"
)

const (
	regCount = 0x80
	fifoSize = 256
)

const defaultAirtime = 25 * time.Millisecond

// Chip models one simulated transceiver. All methods are safe for
// concurrent use; DIO callbacks run outside the chip lock.
type Chip struct {
	logger *slog.Logger

	mu       sync.Mutex
	regs     [regCount]byte
	fifo     [fifoSize]byte
	version  byte
	airtime  time.Duration
	failures map[byte]int
	onDIO    func(pin int)
	timers   []*time.Timer
	closed   bool
}

func New(logger *slog.Logger) *Chip {
	c := &Chip{
		logger:   logger,
		version:  radio.ChipVersion,
		airtime:  defaultAirtime,
		failures: make(map[byte]int),
	}
	c.reset()

	return c
}

// reset seeds power-on register defaults.
func (c *Chip) reset() {
	c.regs = [regCount]byte{}
	c.regs[radio.RegOpMode] = radio.OpModeLowFreq | radio.DevModeStandby
	c.regs[radio.RegCarrierFreq] = 0x6C
	c.regs[radio.RegCarrierFreq+1] = 0x80
	c.regs[radio.RegPaConfig] = 0x4F
	c.regs[radio.RegOcp] = 0x2B
	c.regs[radio.RegLna] = 0x20
	c.regs[radio.RegFifoTxBase] = 0x80
	c.regs[radio.RegFifoRxBase] = 0x00
	c.regs[radio.RegModemConfig1] = 0x72
	c.regs[radio.RegModemConfig2] = 0x70
	c.regs[radio.RegPreambleMsb+1] = 0x08
	c.regs[radio.RegSyncWord] = 0x12
}

func (c *Chip) SetVersion(v byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = v
}

func (c *Chip) SetAirtime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.airtime = d
	}
}

// FailNextWrites makes the next n writes touching addr fail, simulating a
// flaky bus or a wedged chip.
func (c *Chip) FailNextWrites(addr byte, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[addr] = n
}

// OnDIO registers the callback invoked when a DIO pin rises.
func (c *Chip) OnDIO(fn func(pin int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDIO = fn
}

func (c *Chip) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
}

func (c *Chip) WriteRegister(addr byte, data []byte) error {
	c.mu.Lock()
	if int(addr)+len(data) > regCount && addr != radio.RegFifo {
		c.mu.Unlock()

		return fmt.Errorf("write past register file: 0x%02X+%d", addr, len(data))
	}
	if left, ok := c.failures[addr]; ok && left > 0 {
		c.failures[addr] = left - 1
		c.mu.Unlock()

		return fmt.Errorf("injected write failure at 0x%02X", addr)
	}

	var txStarted bool
	for i, b := range data {
		if addr == radio.RegFifo {
			ptr := c.regs[radio.RegFifoAddrPtr]
			c.fifo[ptr] = b
			c.regs[radio.RegFifoAddrPtr] = ptr + 1

			continue
		}
		reg := addr + byte(i)
		switch reg {
		case radio.RegOpMode:
			c.regs[reg] = b
			if b&radio.OpModeMask == radio.DevModeTx {
				txStarted = true
			}
		case radio.RegIrqFlags:
			// Write-1-to-clear.
			c.regs[reg] &^= b
		default:
			c.regs[reg] = b
		}
	}
	if txStarted {
		c.scheduleTxDoneLocked()
	}
	c.mu.Unlock()

	return nil
}

func (c *Chip) ReadRegister(addr byte, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 {
		return nil, fmt.Errorf("invalid read length %d", n)
	}
	if addr != radio.RegFifo && int(addr)+n > regCount {
		return nil, fmt.Errorf("read past register file: 0x%02X+%d", addr, n)
	}

	out := make([]byte, n)
	for i := range out {
		if addr == radio.RegFifo {
			ptr := c.regs[radio.RegFifoAddrPtr]
			out[i] = c.fifo[ptr]
			c.regs[radio.RegFifoAddrPtr] = ptr + 1

			continue
		}
		reg := addr + byte(i)
		if reg == radio.RegVersion {
			out[i] = c.version

			continue
		}
		out[i] = c.regs[reg]
	}

	return out, nil
}

// Peek returns a register value without FIFO pointer side effects.
func (c *Chip) Peek(addr byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.regs[addr]
}

// InjectRx delivers a frame off the air. It is dropped unless the chip is
// in a receive mode. crcOK=false raises the payload CRC error flag along
// with RxDone.
func (c *Chip) InjectRx(payload []byte, rssi int, snr float64, crcOK bool) bool {
	c.mu.Lock()
	mode := c.regs[radio.RegOpMode] & radio.OpModeMask
	if mode != radio.DevModeRxCont && mode != radio.DevModeRxOnce {
		c.mu.Unlock()
		c.logger.Debug("rx injection dropped: not receiving", "mode", mode)

		return false
	}
	if len(payload) == 0 || len(payload) > fifoSize {
		c.mu.Unlock()

		return false
	}

	base := c.regs[radio.RegFifoRxBase]
	for i, b := range payload {
		c.fifo[base+byte(i)] = b
	}
	c.regs[radio.RegFifoRxCurrent] = base
	c.regs[radio.RegRxNbBytes] = byte(len(payload))
	c.regs[radio.RegPktRssiValue] = clampByte(rssi + 157)
	c.regs[radio.RegPktSnrValue] = byte(int8(snr * 4))
	c.regs[radio.RegIrqFlags] |= radio.IrqRxDone | radio.IrqValidHeader
	if !crcOK {
		c.regs[radio.RegIrqFlags] |= radio.IrqPayloadCrcErr
	}
	if mode == radio.DevModeRxOnce {
		c.setDevModeLocked(radio.DevModeStandby)
	}
	fn := c.onDIO
	c.mu.Unlock()

	if fn != nil {
		fn(0)
	}

	return true
}

// scheduleTxDoneLocked arms a timer that completes the in-flight transmit:
// TxDone IRQ, automatic return to standby, DIO0 edge.
func (c *Chip) scheduleTxDoneLocked() {
	if c.closed {
		return
	}
	d := c.airtime
	t := time.AfterFunc(d, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()

			return
		}
		c.regs[radio.RegIrqFlags] |= radio.IrqTxDone
		c.setDevModeLocked(radio.DevModeStandby)
		fn := c.onDIO
		c.mu.Unlock()

		if fn != nil {
			fn(0)
		}
	})
	c.timers = append(c.timers, t)
}

func (c *Chip) setDevModeLocked(mode byte) {
	c.regs[radio.RegOpMode] = c.regs[radio.RegOpMode]&^radio.OpModeMask | mode
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}

	return byte(v)
}
