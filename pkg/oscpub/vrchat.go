package oscpub

import (
	"fmt"
	"math"
	"net"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Calbabreaker/micap/pkg/registry"
	"github.com/Calbabreaker/micap/pkg/skeleton"
)

// VRChatPublisher sends per-bone position/rotation pairs to the VRChat OSC
// tracker protocol (§4.H).
type VRChatPublisher struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	port    int
	enabled bool
	bones   []registry.BoneLocation
}

// NewVRChatPublisher creates a publisher bound to 127.0.0.1:port.
func NewVRChatPublisher(port int, enabled bool, bones []registry.BoneLocation) (*VRChatPublisher, error) {
	p := &VRChatPublisher{bones: bones}
	if err := p.reconnect(port); err != nil {
		return nil, err
	}
	p.enabled = enabled
	return p, nil
}

// ApplyConfig reconnects on a send-port change and primes the route, mirroring
// the VMC publisher's apply-config behavior (§4.G/H).
func (p *VRChatPublisher) ApplyConfig(port int, enabled bool, bones []registry.BoneLocation) error {
	p.mu.Lock()
	changed := port != p.port
	p.mu.Unlock()

	if changed {
		if err := p.reconnect(port); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.enabled = enabled
	p.bones = bones
	p.mu.Unlock()
	return nil
}

func (p *VRChatPublisher) reconnect(port int) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("resolving VRChat address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("connecting to VRChat endpoint: %w", err)
	}

	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = conn
	p.port = port
	p.mu.Unlock()

	if _, err := conn.Write(nil); err != nil {
		return fmt.Errorf("priming VRChat route: %w", err)
	}
	return nil
}

// bonesByLocation maps the fixed bone locations the solver can report to the
// skeleton.ID that carries their resolved pose.
var bonesByLocation = map[registry.BoneLocation]skeleton.ID{
	registry.LocationHip:            skeleton.Hip,
	registry.LocationWaist:          skeleton.Waist,
	registry.LocationChest:          skeleton.Chest,
	registry.LocationUpperChest:     skeleton.UpperChest,
	registry.LocationNeck:           skeleton.Neck,
	registry.LocationHead:           skeleton.Head,
	registry.LocationLeftUpperLeg:   skeleton.LeftUpperLeg,
	registry.LocationLeftLowerLeg:   skeleton.LeftLowerLeg,
	registry.LocationLeftFoot:       skeleton.LeftFoot,
	registry.LocationRightUpperLeg:  skeleton.RightUpperLeg,
	registry.LocationRightLowerLeg:  skeleton.RightLowerLeg,
	registry.LocationRightFoot:      skeleton.RightFoot,
	registry.LocationLeftShoulder:   skeleton.LeftShoulder,
	registry.LocationLeftUpperArm:   skeleton.LeftUpperArm,
	registry.LocationLeftLowerArm:   skeleton.LeftLowerArm,
	registry.LocationLeftHand:       skeleton.LeftHand,
	registry.LocationRightShoulder:  skeleton.RightShoulder,
	registry.LocationRightUpperArm:  skeleton.RightUpperArm,
	registry.LocationRightLowerArm:  skeleton.RightLowerArm,
	registry.LocationRightHand:      skeleton.RightHand,
}

// Tick sends, for every configured bone-to-send, a position and a rotation
// message at the matching VRChat tracker index (§4.H).
func (p *VRChatPublisher) Tick(bones [skeleton.NumBones]skeleton.Bone) error {
	p.mu.Lock()
	conn, enabled, locations := p.conn, p.enabled, p.bones
	p.mu.Unlock()

	if !enabled || conn == nil {
		return nil
	}

	for i, loc := range locations {
		id, ok := bonesByLocation[loc]
		if !ok {
			continue
		}
		bone := bones[id]

		posAddr := fmt.Sprintf("/tracking/trackers/%d/position", i+1)
		rotAddr := fmt.Sprintf("/tracking/trackers/%d/rotation", i+1)

		posMsg := message(posAddr,
			float32(bone.WorldTailPos[0]), float32(bone.WorldTailPos[1]), float32(bone.WorldTailPos[2]))
		ex, ey, ez := worldOrientationToZXYEulerDegrees(bone.WorldOrientation)
		rotMsg := message(rotAddr, ex, ey, ez)

		if _, err := conn.Write(posMsg); err != nil {
			return fmt.Errorf("sending VRChat position: %w", err)
		}
		if _, err := conn.Write(rotMsg); err != nil {
			return fmt.Errorf("sending VRChat rotation: %w", err)
		}
	}
	return nil
}

// Close releases the underlying socket.
func (p *VRChatPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// worldOrientationToZXYEulerDegrees converts a world orientation to ZXY
// Euler angles in degrees, the basis VRChat's OSC tracker rotation expects.
// Kept as a single named function per the design note that axis conversions
// must never be inlined.
func worldOrientationToZXYEulerDegrees(q mgl64.Quat) (x, y, z float32) {
	w, qx, qy, qz := q.W, q.V[0], q.V[1], q.V[2]

	sinX := 2 * (w*qx - qy*qz)
	if sinX > 1 {
		sinX = 1
	} else if sinX < -1 {
		sinX = -1
	}
	pitch := math.Asin(sinX)

	yaw := math.Atan2(2*(w*qy+qx*qz), 1-2*(qx*qx+qy*qy))
	roll := math.Atan2(2*(w*qz+qx*qy), 1-2*(qx*qx+qz*qz))

	const rad2deg = 180 / math.Pi
	return float32(pitch * rad2deg), float32(yaw * rad2deg), float32(roll * rad2deg)
}
