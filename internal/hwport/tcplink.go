package hwport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultTCPPort is where radiosim listens by default.
	DefaultTCPPort = 4511

	dialTimeout    = 6 * time.Second
	requestTimeout = 2 * time.Second
)

// TCPLink speaks bridge frames over a TCP socket, usually to a radiosim
// instance or a network-attached register bridge.
type TCPLink struct {
	host string
	port int

	mu   sync.Mutex
	conn net.Conn
}

func NewTCPLink(host string, port int) *TCPLink {
	if port == 0 {
		port = DefaultTCPPort
	}

	return &TCPLink{host: host, port: port}
}

func (l *TCPLink) Name() string {
	return "tcp"
}

func (l *TCPLink) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}
	if l.host == "" {
		return errors.New("tcp host is empty")
	}

	target := net.JoinHostPort(l.host, strconv.Itoa(l.port))
	conn, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	l.conn = conn

	return nil
}

func (l *TCPLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil

	return err
}

func (l *TCPLink) WriteFrame(payload []byte) error {
	conn, err := l.currentConn()
	if err != nil {
		return err
	}

	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(requestTimeout))
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

func (l *TCPLink) ReadFrame() ([]byte, error) {
	conn, err := l.currentConn()
	if err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(requestTimeout))
	payload, err := readFrame(ioReadFullFunc(conn))
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrTimeout
		}

		return nil, err
	}

	return payload, nil
}

func (l *TCPLink) currentConn() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil, errors.New("link is not connected")
	}

	return l.conn, nil
}
