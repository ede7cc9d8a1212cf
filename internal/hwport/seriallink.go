package hwport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	defaultBridgeBaud       = 115200
	defaultSerialReadWindow = 200 * time.Millisecond
)

// Link is a connected byte channel carrying bridge frames.
type Link interface {
	Name() string
	Connect() error
	Close() error
	WriteFrame(payload []byte) error
	ReadFrame() ([]byte, error)
}

// SerialLink speaks bridge frames over a serial device, typically an MCU
// that forwards register operations to the chip.
type SerialLink struct {
	device string
	baud   int

	mu   sync.Mutex
	port serial.Port
}

func NewSerialLink(device string, baud int) *SerialLink {
	if baud <= 0 {
		baud = defaultBridgeBaud
	}

	return &SerialLink{device: device, baud: baud}
}

func (l *SerialLink) Name() string {
	return "serial"
}

func (l *SerialLink) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != nil {
		return nil
	}
	if l.device == "" {
		return errors.New("serial device is empty")
	}

	port, err := serial.Open(l.device, &serial.Mode{BaudRate: l.baud})
	if err != nil {
		return fmt.Errorf("open serial device %q: %w", l.device, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadWindow); err != nil {
		_ = port.Close()

		return fmt.Errorf("set serial read timeout: %w", err)
	}
	l.port = port

	return nil
}

func (l *SerialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil

	return err
}

func (l *SerialLink) WriteFrame(payload []byte) error {
	port, err := l.currentPort()
	if err != nil {
		return err
	}

	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}
	if err := writeFull(port, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

func (l *SerialLink) ReadFrame() ([]byte, error) {
	port, err := l.currentPort()
	if err != nil {
		return nil, err
	}

	return readFrame(func(buf []byte) error {
		return readFullSerial(port, buf)
	})
}

func (l *SerialLink) currentPort() (serial.Port, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil, errors.New("link is not connected")
	}

	return l.port, nil
}

// readFullSerial retries zero-byte reads caused by the serial read timeout
// window, bailing out once the overall request deadline passes.
func readFullSerial(port serial.Port, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	deadline := time.Now().Add(requestTimeout)
	read := 0
	for read < len(buf) {
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		n, err := port.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
	}

	return nil
}

func writeFull(w interface{ Write([]byte) (int, error) }, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		written += n
	}

	return nil
}
