package mac

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtoID tags which link protocol produced a frame.
type ProtoID byte

const (
	ProtoCSMA ProtoID = iota + 1
	ProtoTDMA
	ProtoFlood
)

func (p ProtoID) String() string {
	switch p {
	case ProtoCSMA:
		return "csma"
	case ProtoTDMA:
		return "tdma"
	case ProtoFlood:
		return "flood"
	default:
		return fmt.Sprintf("proto(%d)", byte(p))
	}
}

// Broadcast addresses every node in range.
const Broadcast uint16 = 0xFFFF

const (
	frameVersion = 1
	headerLen    = 8
	// maxFrameBytes is the SX127x FIFO bound for one packet.
	maxFrameBytes = 255

	// MaxPayload is the largest user payload one frame carries.
	MaxPayload = maxFrameBytes - headerLen
)

var (
	ErrFrameTooShort   = errors.New("frame too short")
	ErrFrameVersion    = errors.New("unsupported frame version")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Frame is the over-the-air unit shared by all link protocols: a
// version/protocol byte, a hop budget, a source sequence number and the
// addressing pair. All multi-byte fields are big-endian.
type Frame struct {
	Proto   ProtoID
	TTL     byte
	Seq     uint16
	Src     uint16
	Dst     uint16
	Payload []byte
}

func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}

	buf := make([]byte, headerLen+len(f.Payload))
	buf[0] = frameVersion<<4 | byte(f.Proto)&0x0F
	buf[1] = f.TTL
	binary.BigEndian.PutUint16(buf[2:4], f.Seq)
	binary.BigEndian.PutUint16(buf[4:6], f.Src)
	binary.BigEndian.PutUint16(buf[6:8], f.Dst)
	copy(buf[headerLen:], f.Payload)

	return buf, nil
}

func Decode(raw []byte) (Frame, error) {
	if len(raw) < headerLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(raw))
	}
	if v := raw[0] >> 4; v != frameVersion {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameVersion, v)
	}

	f := Frame{
		Proto: ProtoID(raw[0] & 0x0F),
		TTL:   raw[1],
		Seq:   binary.BigEndian.Uint16(raw[2:4]),
		Src:   binary.BigEndian.Uint16(raw[4:6]),
		Dst:   binary.BigEndian.Uint16(raw[6:8]),
	}
	if len(raw) > headerLen {
		f.Payload = append([]byte(nil), raw[headerLen:]...)
	}

	return f, nil
}
