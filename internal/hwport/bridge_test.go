package hwport

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
)

// fakeLink records outgoing request payloads and serves scripted responses.
type fakeLink struct {
	requests  [][]byte
	responses [][]byte
	connects  int
	closes    int
}

func (l *fakeLink) Name() string { return "fake" }

func (l *fakeLink) Connect() error {
	l.connects++

	return nil
}

func (l *fakeLink) Close() error {
	l.closes++

	return nil
}

func (l *fakeLink) WriteFrame(payload []byte) error {
	l.requests = append(l.requests, append([]byte(nil), payload...))

	return nil
}

func (l *fakeLink) ReadFrame() ([]byte, error) {
	if len(l.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := l.responses[0]
	l.responses = l.responses[1:]

	return resp, nil
}

func (l *fakeLink) respond(status byte, data ...byte) {
	l.responses = append(l.responses, append([]byte{status}, data...))
}

func newTestBridge() (*Bridge, *fakeLink) {
	link := &fakeLink{}

	return NewBridge(slog.New(slog.NewTextHandler(io.Discard, nil)), link), link
}

func openTestBridge(t *testing.T) (*Bridge, *fakeLink) {
	t.Helper()

	b, link := newTestBridge()
	link.respond(StatusOK)
	if err := b.Open(); err != nil {
		t.Fatalf("open bridge: %v", err)
	}
	link.requests = nil

	return b, link
}

func TestBridgeOpenSendsHandshake(t *testing.T) {
	b, link := newTestBridge()
	link.respond(StatusOK)

	if err := b.Open(); err != nil {
		t.Fatalf("open bridge: %v", err)
	}
	if link.connects != 1 {
		t.Fatalf("expected one connect, got %d", link.connects)
	}
	if len(link.requests) != 1 || !bytes.Equal(link.requests[0], []byte{OpOpen}) {
		t.Fatalf("unexpected handshake requests: %x", link.requests)
	}
}

func TestBridgeOpenFailureClosesLink(t *testing.T) {
	b, link := newTestBridge()
	link.respond(StatusFailed)

	if err := b.Open(); err == nil {
		t.Fatalf("expected open error, got nil")
	}
	if link.closes != 1 {
		t.Fatalf("expected link close after failed handshake, got %d", link.closes)
	}
}

func TestBridgeWriteRegisterRequestBytes(t *testing.T) {
	b, link := openTestBridge(t)
	link.respond(StatusOK)

	if err := b.WriteRegister(0x09, []byte{0x8F}); err != nil {
		t.Fatalf("write register: %v", err)
	}
	want := []byte{OpWrite, 0x09, 0x8F}
	if len(link.requests) != 1 || !bytes.Equal(link.requests[0], want) {
		t.Fatalf("request mismatch: got %x want %x", link.requests, want)
	}
}

func TestBridgeReadRegisterRoundTrip(t *testing.T) {
	b, link := openTestBridge(t)
	link.respond(StatusOK, 0x12)

	got, err := b.ReadRegister(0x42, 1)
	if err != nil {
		t.Fatalf("read register: %v", err)
	}
	if !bytes.Equal(got, []byte{0x12}) {
		t.Fatalf("data mismatch: got %x want 12", got)
	}
	want := []byte{OpRead, 0x42, 0x01}
	if len(link.requests) != 1 || !bytes.Equal(link.requests[0], want) {
		t.Fatalf("request mismatch: got %x want %x", link.requests, want)
	}
}

func TestBridgeReadRegisterShortResponse(t *testing.T) {
	b, link := openTestBridge(t)
	link.respond(StatusOK, 0x01)

	if _, err := b.ReadRegister(0x00, 4); err == nil {
		t.Fatalf("expected short read error, got nil")
	}
}

func TestBridgeMapsNotOpenStatus(t *testing.T) {
	b, link := openTestBridge(t)
	link.respond(StatusNotOpen)

	err := b.WriteRegister(0x01, []byte{0x81})
	if !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestBridgeRejectsUseBeforeOpen(t *testing.T) {
	b, _ := newTestBridge()

	if err := b.WriteRegister(0x01, []byte{0x81}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if _, err := b.ReadRegister(0x01, 1); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestBridgeCloseOnceAndRejectAfter(t *testing.T) {
	b, link := openTestBridge(t)
	link.respond(StatusOK)

	if err := b.Close(); err != nil {
		t.Fatalf("close bridge: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if link.closes != 1 {
		t.Fatalf("expected exactly one link close, got %d", link.closes)
	}
	if err := b.WriteRegister(0x01, []byte{0x81}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}
