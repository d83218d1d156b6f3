// Package protocol implements the wire format for the tracker UDP protocol:
// parsing, serializing, and the axis conventions that translate device-space
// quaternions and accelerations into server-space.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Kind identifies the packet tag carried as the first byte of every datagram.
type Kind byte

const (
	KindPingPong      Kind = 0x00
	KindHandshake     Kind = 0x01
	KindTrackerStatus Kind = 0x02
	KindTrackerData   Kind = 0x03
	KindBatteryLevel  Kind = 0x04
)

// TrackerDataEnd marks the terminator local-index for a TrackerData packet.
const TrackerDataEnd = 0xFF

// handshakeMagic is the ASCII payload a device sends to announce itself.
var handshakeMagic = [5]byte{'M', 'C', 'D', 'E', 'V'}

// HandshakeResponse is the fixed 6-byte stamp the server replies with.
var HandshakeResponse = [6]byte{0x01, 'M', 'C', 'S', 'V', 'R'}

// Status is the tracker-reported hardware status, distinct from the
// registry's richer status enum (which also has TimedOut, a server-only
// concept never sent over the wire).
type Status byte

const (
	StatusOk    Status = 0
	StatusError Status = 1
	StatusOff   Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusError:
		return "error"
	case StatusOff:
		return "off"
	default:
		return "unknown"
	}
}

// ParseError is returned for any malformed datagram. Per the spec's error
// taxonomy this is always non-fatal: the caller logs at trace and drops the
// single datagram.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "protocol: parse error: " + e.Reason }

func parseErrorf(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// TrackerEntry is one (local-index, orientation, acceleration) tuple inside
// a TrackerData packet, already axis-converted to server space.
type TrackerEntry struct {
	LocalIndex byte
	Quat       mgl64.Quat
	Accel      mgl64.Vec3
}

// Packet is the parsed form of any inbound datagram. Exactly one of the
// typed fields is populated, selected by Kind.
type Packet struct {
	Kind Kind
	Seq  uint32

	// Handshake
	Mac [6]byte

	// PingPong
	PingID byte

	// TrackerStatus
	StatusIndex byte
	Status      Status

	// TrackerData
	Entries []TrackerEntry

	// BatteryLevel
	Battery float32
}

// Parse decodes a single datagram. Handshake packets carry no sequence
// number; every other kind does. A malformed buffer always returns a
// *ParseError and never partially populates Packet.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < 1 {
		return nil, parseErrorf("empty datagram")
	}

	kind := Kind(buf[0])
	if kind == KindHandshake {
		return parseHandshake(buf[1:])
	}

	if len(buf) < 5 {
		return nil, parseErrorf("truncated header for kind %d", kind)
	}
	seq := binary.LittleEndian.Uint32(buf[1:5])
	body := buf[5:]

	switch kind {
	case KindPingPong:
		return parsePingPong(seq, body)
	case KindTrackerStatus:
		return parseTrackerStatus(seq, body)
	case KindTrackerData:
		return parseTrackerData(seq, body)
	case KindBatteryLevel:
		return parseBatteryLevel(seq, body)
	default:
		return nil, parseErrorf("unknown packet kind %#x", byte(kind))
	}
}

func parseHandshake(body []byte) (*Packet, error) {
	if len(body) < 11 {
		return nil, parseErrorf("truncated handshake")
	}
	var magic [5]byte
	copy(magic[:], body[:5])
	if magic != handshakeMagic {
		return nil, parseErrorf("bad handshake magic %q", magic)
	}
	p := &Packet{Kind: KindHandshake}
	copy(p.Mac[:], body[5:11])
	return p, nil
}

func parsePingPong(seq uint32, body []byte) (*Packet, error) {
	if len(body) < 1 {
		return nil, parseErrorf("truncated ping-pong")
	}
	return &Packet{Kind: KindPingPong, Seq: seq, PingID: body[0]}, nil
}

func parseTrackerStatus(seq uint32, body []byte) (*Packet, error) {
	if len(body) < 2 {
		return nil, parseErrorf("truncated tracker status")
	}
	status := Status(body[1])
	if status != StatusOk && status != StatusError && status != StatusOff {
		return nil, parseErrorf("invalid tracker status value %d", body[1])
	}
	return &Packet{Kind: KindTrackerStatus, Seq: seq, StatusIndex: body[0], Status: status}, nil
}

func parseTrackerData(seq uint32, body []byte) (*Packet, error) {
	p := &Packet{Kind: KindTrackerData, Seq: seq}
	for len(body) > 0 {
		idx := body[0]
		body = body[1:]
		if idx == TrackerDataEnd {
			return p, nil
		}
		if len(body) < 28 {
			return nil, parseErrorf("truncated tracker data entry for index %d", idx)
		}
		qx := float32frombits(body[0:4])
		qy := float32frombits(body[4:8])
		qz := float32frombits(body[8:12])
		qw := float32frombits(body[12:16])
		ax := float32frombits(body[16:20])
		ay := float32frombits(body[20:24])
		az := float32frombits(body[24:28])
		body = body[28:]

		p.Entries = append(p.Entries, TrackerEntry{
			LocalIndex: idx,
			Quat:       DeviceToServerQuat(qx, qy, qz, qw),
			Accel:      DeviceToServerAccel(ax, ay, az),
		})
	}
	return nil, parseErrorf("tracker data missing 0xFF terminator")
}

func parseBatteryLevel(seq uint32, body []byte) (*Packet, error) {
	if len(body) < 4 {
		return nil, parseErrorf("truncated battery level")
	}
	level := float32frombits(body[0:4])
	if level < 0 || level > 1 {
		return nil, parseErrorf("battery level %f out of range", level)
	}
	return &Packet{Kind: KindBatteryLevel, Seq: seq, Battery: level}, nil
}

// Serialize re-encodes a Packet to its wire form. It is the inverse of
// Parse for every kind, and is used by tests to verify the round-trip law
// and by the server to build outbound acks and pings.
func Serialize(p *Packet) ([]byte, error) {
	switch p.Kind {
	case KindHandshake:
		buf := make([]byte, 0, 12)
		buf = append(buf, byte(KindHandshake))
		buf = append(buf, handshakeMagic[:]...)
		buf = append(buf, p.Mac[:]...)
		return buf, nil
	case KindPingPong:
		return header(p.Kind, p.Seq, p.PingID), nil
	case KindTrackerStatus:
		return header(p.Kind, p.Seq, p.StatusIndex, byte(p.Status)), nil
	case KindTrackerData:
		buf := header(p.Kind, p.Seq)
		for _, e := range p.Entries {
			buf = append(buf, e.LocalIndex)
			qx, qy, qz, qw := ServerToDeviceQuat(e.Quat)
			ax, ay, az := ServerToDeviceAccel(e.Accel)
			buf = appendFloat32LE(buf, qx)
			buf = appendFloat32LE(buf, qy)
			buf = appendFloat32LE(buf, qz)
			buf = appendFloat32LE(buf, qw)
			buf = appendFloat32LE(buf, ax)
			buf = appendFloat32LE(buf, ay)
			buf = appendFloat32LE(buf, az)
		}
		buf = append(buf, TrackerDataEnd)
		return buf, nil
	case KindBatteryLevel:
		buf := header(p.Kind, p.Seq)
		buf = appendFloat32LE(buf, p.Battery)
		return buf, nil
	default:
		return nil, errors.New("protocol: serialize: unknown packet kind")
	}
}

func header(kind Kind, seq uint32, rest ...byte) []byte {
	buf := make([]byte, 5, 5+len(rest))
	buf[0] = byte(kind)
	binary.LittleEndian.PutUint32(buf[1:5], seq)
	return append(buf, rest...)
}
