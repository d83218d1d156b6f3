package protocol

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DeviceToServerQuat converts a device-space quaternion (x, y, z, w) into
// server space by flipping handedness/basis: (-x, y, z, -w). Kept as a
// single named function so the axis convention is never duplicated inline.
func DeviceToServerQuat(x, y, z, w float32) mgl64.Quat {
	return mgl64.Quat{
		W: float64(-w),
		V: mgl64.Vec3{float64(-x), float64(y), float64(z)},
	}
}

// ServerToDeviceQuat is the inverse of DeviceToServerQuat.
func ServerToDeviceQuat(q mgl64.Quat) (x, y, z, w float32) {
	return float32(-q.V[0]), float32(q.V[1]), float32(q.V[2]), float32(-q.W)
}

// DeviceToServerAccel converts a device-space acceleration (x, y, z) into
// the server's Y-up convention by swapping Y and Z: (x, z, y).
func DeviceToServerAccel(x, y, z float32) mgl64.Vec3 {
	return mgl64.Vec3{float64(x), float64(z), float64(y)}
}

// ServerToDeviceAccel is the inverse of DeviceToServerAccel.
func ServerToDeviceAccel(v mgl64.Vec3) (x, y, z float32) {
	return float32(v[0]), float32(v[2]), float32(v[1])
}

func float32frombits(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func appendFloat32LE(buf []byte, v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return append(buf, b...)
}
