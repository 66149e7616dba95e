// Package protocol implements the supervisor's wire formats: the
// authenticated datagram frame shared by every packet family, and the four
// family codecs (MODBUS, RPLC, SCADA_MGMT, COORD_DATA).
//
// All decoders are pure: bytes in, typed packet or classified error out.
// Decode failures are never fatal to a session; callers drop the packet and
// log at debug level.
package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/chocotoneg/cc-mek-scada/errors"
)

// Protocol identifies one of the four packet families.
type Protocol uint8

const (
	// ProtoModbus carries MODBUS requests and replies to RTU devices
	ProtoModbus Protocol = 0
	// ProtoRPLC carries the reactor PLC link protocol
	ProtoRPLC Protocol = 1
	// ProtoMgmt carries SCADA session management packets
	ProtoMgmt Protocol = 2
	// ProtoCoord carries coordinator and pocket API traffic
	ProtoCoord Protocol = 3
)

// String returns the protocol family name
func (p Protocol) String() string {
	switch p {
	case ProtoModbus:
		return "modbus"
	case ProtoRPLC:
		return "rplc"
	case ProtoMgmt:
		return "scada_mgmt"
	case ProtoCoord:
		return "coord_data"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the four known families.
func (p Protocol) Valid() bool {
	return p <= ProtoCoord
}

const (
	frameMinLen = 4 + 1 + 1 + 8 + 2
	// macLen is the truncated HMAC-SHA256 length carried on the wire
	macLen = 16
	// flagAuthenticated marks a frame carrying a MAC
	flagAuthenticated = 0x01
	// maxPayload bounds a single datagram payload
	maxPayload = 60000
)

// Frame is one datagram on the wire: a per-session monotonic sequence
// number, the protocol tag, a millisecond timestamp for freshness, and the
// family payload.
type Frame struct {
	Seq       uint32
	Protocol  Protocol
	Timestamp int64 // unix milliseconds at encode time
	Payload   []byte
}

// Codec encodes and decodes frames. With a non-empty key every frame
// carries a truncated HMAC-SHA256 over (seq || protocol || payload ||
// timestamp) and inbound frames must authenticate. MaxSkew bounds the
// accepted timestamp drift; zero disables the freshness check.
type Codec struct {
	key     []byte
	maxSkew time.Duration
}

// NewCodec creates a frame codec. An empty key disables authentication.
func NewCodec(key []byte, maxSkew time.Duration) *Codec {
	var k []byte
	if len(key) > 0 {
		k = make([]byte, len(key))
		copy(k, key)
	}
	return &Codec{key: k, maxSkew: maxSkew}
}

// Authenticated reports whether the codec signs and verifies frames.
func (c *Codec) Authenticated() bool {
	return len(c.key) > 0
}

func (c *Codec) mac(f *Frame) []byte {
	mac := hmac.New(sha256.New, c.key)
	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], f.Seq)
	mac.Write(scratch[:4])
	mac.Write([]byte{byte(f.Protocol)})
	mac.Write(f.Payload)
	binary.BigEndian.PutUint64(scratch[:], uint64(f.Timestamp))
	mac.Write(scratch[:])
	return mac.Sum(nil)[:macLen]
}

// Encode serializes a frame, signing it when a key is configured.
func (c *Codec) Encode(f Frame) ([]byte, error) {
	if !f.Protocol.Valid() {
		return nil, errors.WrapInvalid(errors.ErrUnknownProtocol, "Codec", "Encode",
			fmt.Sprintf("protocol tag %d", f.Protocol))
	}
	if len(f.Payload) > maxPayload {
		return nil, errors.WrapInvalid(errors.ErrProtocolViolation, "Codec", "Encode",
			fmt.Sprintf("payload length %d", len(f.Payload)))
	}

	var flags byte
	if c.Authenticated() {
		flags |= flagAuthenticated
	}

	buf := make([]byte, 0, frameMinLen+len(f.Payload)+macLen)
	buf = binary.BigEndian.AppendUint32(buf, f.Seq)
	buf = append(buf, byte(f.Protocol), flags)
	buf = binary.BigEndian.AppendUint64(buf, uint64(f.Timestamp))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(f.Payload)))
	buf = append(buf, f.Payload...)
	if c.Authenticated() {
		buf = append(buf, c.mac(&f)...)
	}
	return buf, nil
}

// Decode parses and validates a frame. now is the supervisor's clock in
// unix milliseconds, used for the freshness check.
func (c *Codec) Decode(b []byte, now int64) (Frame, error) {
	var f Frame
	if len(b) < frameMinLen {
		return f, errors.WrapInvalid(errors.ErrDecode, "Codec", "Decode",
			fmt.Sprintf("frame length %d", len(b)))
	}

	f.Seq = binary.BigEndian.Uint32(b[0:4])
	f.Protocol = Protocol(b[4])
	flags := b[5]
	f.Timestamp = int64(binary.BigEndian.Uint64(b[6:14]))
	plen := int(binary.BigEndian.Uint16(b[14:16]))

	if !f.Protocol.Valid() {
		return Frame{}, errors.WrapInvalid(errors.ErrUnknownProtocol, "Codec", "Decode",
			fmt.Sprintf("protocol tag %d", b[4]))
	}
	rest := b[frameMinLen:]
	if len(rest) < plen {
		return Frame{}, errors.WrapInvalid(errors.ErrDecode, "Codec", "Decode",
			"truncated payload")
	}
	f.Payload = rest[:plen]
	trailer := rest[plen:]

	if c.Authenticated() {
		if flags&flagAuthenticated == 0 || len(trailer) < macLen {
			return Frame{}, errors.WrapInvalid(errors.ErrAuth, "Codec", "Decode",
				"missing MAC")
		}
		if !hmac.Equal(trailer[:macLen], c.mac(&f)) {
			return Frame{}, errors.WrapInvalid(errors.ErrAuth, "Codec", "Decode",
				"MAC verification")
		}
	}

	if c.maxSkew > 0 {
		skew := now - f.Timestamp
		if skew < 0 {
			skew = -skew
		}
		if skew > c.maxSkew.Milliseconds() {
			return Frame{}, errors.WrapInvalid(errors.ErrStale, "Codec", "Decode",
				fmt.Sprintf("timestamp skew %dms", skew))
		}
	}

	return f, nil
}

// replayWindow is how far a sequence number may regress before the frame
// is treated as a replay. Out-of-order delivery inside the window is
// tolerated.
const replayWindow = 16

// SeqTracker validates per-session inbound sequence numbers against the
// replay window.
type SeqTracker struct {
	last    uint32
	started bool
}

// Accept reports whether seq is acceptable and advances the high-water
// mark when it is.
func (t *SeqTracker) Accept(seq uint32) bool {
	if !t.started {
		t.started = true
		t.last = seq
		return true
	}
	// int32 wraparound-safe distance
	d := int32(seq - t.last)
	if d < -replayWindow {
		return false
	}
	if d > 0 {
		t.last = seq
	}
	return true
}

// Last returns the sequence high-water mark.
func (t *SeqTracker) Last() uint32 {
	return t.last
}
