package oscpub

import (
	"fmt"
	"net"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Calbabreaker/micap/pkg/skeleton"
)

// VMCPublisher sends one OSC bundle per tick to a VMC-compatible avatar
// engine (§4.G).
type VMCPublisher struct {
	mu       sync.Mutex
	conn     *net.UDPConn
	port     int
	enabled  bool
}

// NewVMCPublisher creates a publisher bound to 127.0.0.1:port.
func NewVMCPublisher(port int, enabled bool) (*VMCPublisher, error) {
	p := &VMCPublisher{}
	if err := p.reconnect(port); err != nil {
		return nil, err
	}
	p.enabled = enabled
	return p, nil
}

// ApplyConfig implements the §4.G "Apply-config" note: reconnects and primes
// the route with a zero-byte probe when the send port changed.
func (p *VMCPublisher) ApplyConfig(port int, enabled bool) error {
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
	p.mu.Unlock()
	return nil
}

func (p *VMCPublisher) reconnect(port int) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("resolving VMC address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("connecting to VMC endpoint: %w", err)
	}

	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = conn
	p.port = port
	p.mu.Unlock()

	if _, err := conn.Write(nil); err != nil {
		return fmt.Errorf("priming VMC route: %w", err)
	}
	return nil
}

// Tick builds and sends the per-tick bundle (§4.G) if enabled.
func (p *VMCPublisher) Tick(bones [skeleton.NumBones]skeleton.Bone) error {
	p.mu.Lock()
	conn, enabled := p.conn, p.enabled
	p.mu.Unlock()

	if !enabled || conn == nil {
		return nil
	}

	messages := [][]byte{message("/VMC/Ext/OK", int32(1))}
	for id := skeleton.ID(0); int(id) < len(bones); id++ {
		bone := bones[id]
		name, ok := bone.ID.AsUnityName()
		if !ok {
			continue
		}
		pos := parentTailOffset(bones, bone)
		x, y, z, w := flipHandedness(bone.LocalOrientation)
		messages = append(messages, message("/VMC/Ext/Bone/Pos",
			name,
			float32(pos[0]), float32(pos[1]), float32(pos[2]),
			x, y, z, w,
		))
	}

	if _, err := conn.Write(bundle(messages)); err != nil {
		return fmt.Errorf("sending VMC bundle: %w", err)
	}
	return nil
}

// Close releases the underlying socket.
func (p *VMCPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func parentTailOffset(bones [skeleton.NumBones]skeleton.Bone, bone skeleton.Bone) mgl64.Vec3 {
	return bones[bone.Parent].TailOffset
}

// flipHandedness converts a local orientation from the solver's basis to
// VMC's handedness: (x, y, -z, -w). Kept as a single named function per the
// design note that axis conversions must never be inlined.
func flipHandedness(q mgl64.Quat) (x, y, z, w float32) {
	return float32(q.V[0]), float32(q.V[1]), float32(-q.V[2]), float32(-q.W)
}
