// Package oscpub builds and sends the OSC datagrams consumed by VMC avatar
// engines and the VRChat OSC tracker protocol (§4.G, §4.H).
package oscpub

import (
	"encoding/binary"
	"math"
)

// bundleImmediate is the OSC "apply immediately" timetag: seconds=0,
// fraction=1, per the OSC 1.0 spec.
var bundleImmediate = [8]byte{0, 0, 0, 0, 0, 0, 0, 1}

// message builds a single OSC message: address, type tag string, arguments.
// Supported argument types are int32, float32 and string.
func message(address string, args ...any) []byte {
	buf := make([]byte, 0, 64)
	buf = appendOSCString(buf, address)

	typeTag := ","
	for _, arg := range args {
		switch arg.(type) {
		case int32:
			typeTag += "i"
		case float32:
			typeTag += "f"
		case string:
			typeTag += "s"
		}
	}
	buf = appendOSCString(buf, typeTag)

	for _, arg := range args {
		switch v := arg.(type) {
		case int32:
			buf = appendInt32(buf, v)
		case float32:
			buf = appendFloat32(buf, v)
		case string:
			buf = appendOSCString(buf, v)
		}
	}
	return buf
}

// bundle wraps a set of pre-built messages into a single OSC bundle datagram
// with an "immediately" timetag.
func bundle(messages [][]byte) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, "#bundle\x00"...)
	buf = append(buf, bundleImmediate[:]...)
	for _, m := range messages {
		buf = appendInt32(buf, int32(len(m)))
		buf = append(buf, m...)
	}
	return buf
}

func appendOSCString(buf []byte, s string) []byte {
	buf = append(buf, []byte(s)...)
	buf = append(buf, 0)
	padding := (4 - (len(s)+1)%4) % 4
	for i := 0; i < padding; i++ {
		buf = append(buf, 0)
	}
	return buf
}

func appendInt32(buf []byte, v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return append(buf, b...)
}

func appendFloat32(buf []byte, v float32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
	return append(buf, b...)
}
