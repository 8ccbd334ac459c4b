package audio

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// FrameType identifies the wire-level frame variants exchanged with the
// telephony switch.
type FrameType byte

const (
	FrameHandshake FrameType = 0x00
	FrameSilence   FrameType = 0x01
	FrameAudio     FrameType = 0x10
	FrameHangup    FrameType = 0x11
)

const (
	headerLen = 3

	// MaxPayload is the largest payload a single frame can carry; the length
	// field is an unsigned 16-bit big-endian integer.
	MaxPayload = 0xFFFF
)

func (t FrameType) String() string {
	switch t {
	case FrameHandshake:
		return "handshake"
	case FrameSilence:
		return "silence"
	case FrameAudio:
		return "audio"
	case FrameHangup:
		return "hangup"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Frame is one decoded protocol frame.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Decoder accumulates raw bytes from the switch socket and yields complete
// frames in arrival order. Partial frames are held until their declared
// length has fully arrived; a yielded frame's bytes are removed from the
// buffer, so the buffer never grows without bound on a well-formed stream.
type Decoder struct {
	buf []byte
}

func NewDecoder() *Decoder { return &Decoder{} }

// Write appends raw bytes from the transport.
func (d *Decoder) Write(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next extracts the next complete frame, if one is buffered. The payload is
// copied out, so callers may retain it past subsequent Write calls.
func (d *Decoder) Next() (Frame, bool) {
	if len(d.buf) < headerLen {
		return Frame{}, false
	}
	length := int(binary.BigEndian.Uint16(d.buf[1:headerLen]))
	total := headerLen + length
	if len(d.buf) < total {
		return Frame{}, false
	}

	payload := make([]byte, length)
	copy(payload, d.buf[headerLen:total])
	frame := Frame{Type: FrameType(d.buf[0]), Payload: payload}

	n := copy(d.buf, d.buf[total:])
	d.buf = d.buf[:n]
	return frame, true
}

// Buffered reports how many bytes are held waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Encode serializes one frame as [type:1][length:2 big-endian][payload].
func Encode(t FrameType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("frame payload too large: %d bytes", len(payload))
	}
	out := make([]byte, headerLen+len(payload))
	out[0] = byte(t)
	binary.BigEndian.PutUint16(out[1:headerLen], uint16(len(payload)))
	copy(out[headerLen:], payload)
	return out, nil
}

// HandshakeID renders a handshake payload as a call identifier. A 16-byte
// payload is the canonical UUID form; anything else is rendered as plain hex
// rather than rejected, which keeps malformed peers observable instead of
// fatal.
func HandshakeID(payload []byte) string {
	if len(payload) == 16 {
		if id, err := uuid.FromBytes(payload); err == nil {
			return id.String()
		}
	}
	return hex.EncodeToString(payload)
}
