package udptrack

import (
	"math"
	"net"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Calbabreaker/micap/pkg/protocol"
	"github.com/Calbabreaker/micap/pkg/registry"
)

func testAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345}
}

func TestMacString(t *testing.T) {
	mac := [6]byte{0x42, 0x42, 0, 0, 0, 0}
	if got, want := MacString(mac), "42:42:00:00:00:00"; got != want {
		t.Fatalf("MacString = %q, want %q", got, want)
	}
}

func TestCheckSequenceStrictlyIncreasing(t *testing.T) {
	reg := registry.New()
	s := NewSession(reg, [6]byte{}, testAddr(t), time.Now())

	if !s.CheckSequence(1) {
		t.Fatal("seq=1 should be accepted from fresh session")
	}
	if s.CheckSequence(1) {
		t.Fatal("duplicate seq should be rejected")
	}
	if !s.CheckSequence(2) {
		t.Fatal("strictly greater seq should be accepted")
	}
	if s.CheckSequence(2) {
		t.Fatal("stale seq should be rejected")
	}
}

func TestCheckSequenceWrapBoundary(t *testing.T) {
	reg := registry.New()
	s := NewSession(reg, [6]byte{}, testAddr(t), time.Now())
	s.lastPacketNumber = math.MaxUint32

	if s.CheckSequence(0) {
		t.Fatal("seq=0 after wraparound must be rejected (pinned boundary behavior)")
	}
}

func TestOnHandshakeReconnectResetsSequence(t *testing.T) {
	reg := registry.New()
	addr := testAddr(t)
	s := NewSession(reg, [6]byte{}, addr, time.Now())
	s.lastPacketNumber = 5

	s.OnHandshake(addr, time.Now())
	if s.lastPacketNumber != 0 {
		t.Fatalf("lastPacketNumber = %d, want 0 after reconnect", s.lastPacketNumber)
	}
}

func TestOnTrackerStatusCreatesTracker(t *testing.T) {
	reg := registry.New()
	mac := [6]byte{0x42, 0x42, 0, 0, 0, 0}
	s := NewSession(reg, mac, testAddr(t), time.Now())

	tr := s.OnTrackerStatus(3, protocol.StatusOk)
	if tr.ID != "42:42:00:00:00:00/3" {
		t.Fatalf("id = %s, want 42:42:00:00:00:00/3", tr.ID)
	}
	if tr.Info().Status != registry.StatusOk {
		t.Fatalf("status = %v, want Ok", tr.Info().Status)
	}
	if reg.Get(tr.ID) != tr {
		t.Fatal("tracker should be registered")
	}

	again := s.OnTrackerStatus(3, protocol.StatusError)
	if again != tr {
		t.Fatal("second status for same index should reuse tracker")
	}
	if tr.Info().Status != registry.StatusError {
		t.Fatal("status should update in place")
	}
}

func TestOnTrackerDataAxisAlreadyConverted(t *testing.T) {
	reg := registry.New()
	mac := [6]byte{0x42, 0x42, 0, 0, 0, 0}
	s := NewSession(reg, mac, testAddr(t), time.Now())
	s.OnTrackerStatus(3, protocol.StatusOk)

	q := protocol.DeviceToServerQuat(1, 2, 3, 4)
	accel := protocol.DeviceToServerAccel(1, 2, 3)
	s.OnTrackerData(3, q, accel, time.Now())

	tr := reg.Get(TrackerID(mac, 3))
	if tr.Data().Orientation != q {
		t.Fatalf("orientation = %+v, want %+v", tr.Data().Orientation, q)
	}
}

func TestOnTrackerDataUnknownIndexIgnored(t *testing.T) {
	reg := registry.New()
	s := NewSession(reg, [6]byte{}, testAddr(t), time.Now())
	// Should not panic even though no tracker exists at index 5.
	s.OnTrackerData(5, mgl64.QuatIdent(), mgl64.Vec3{}, time.Now())
}

func TestPingPongLatency(t *testing.T) {
	reg := registry.New()
	s := NewSession(reg, [6]byte{}, testAddr(t), time.Now())
	s.OnTrackerStatus(0, protocol.StatusOk)

	start := time.Now()
	id, should := s.IssuePing(start)
	if !should || id != 1 {
		t.Fatalf("IssuePing = (%d, %v), want (1, true)", id, should)
	}

	// A second ping must not be issued while one is outstanding.
	if _, should := s.IssuePing(start); should {
		t.Fatal("IssuePing should not fire while a ping is in flight")
	}

	pongTime := start.Add(500 * time.Millisecond)
	s.OnPong(id, pongTime)

	tr := reg.Get(TrackerID([6]byte{}, 0))
	latency := tr.Info().LatencyMs
	if latency == nil {
		t.Fatal("expected latency to be set")
	}
	if *latency < 245 || *latency > 255 {
		t.Fatalf("latency = %f, want ~250", *latency)
	}

	// Ping state cleared: a new ping can now be issued.
	if _, should := s.IssuePing(pongTime); !should {
		t.Fatal("IssuePing should fire again after pong clears in-flight state")
	}
}

func TestPingIDWrapsAcrossU8Boundary(t *testing.T) {
	reg := registry.New()
	s := NewSession(reg, [6]byte{}, testAddr(t), time.Now())

	now := time.Now()
	s.currentPingID = 255
	id, should := s.IssuePing(now)
	if !should {
		t.Fatal("expected ping to be issued")
	}
	if id != 0 {
		t.Fatalf("ping id = %d, want 0 after wrap", id)
	}
}

func TestTimeoutPropagation(t *testing.T) {
	reg := registry.New()
	s := NewSession(reg, [6]byte{}, testAddr(t), time.Now())
	s.OnTrackerStatus(0, protocol.StatusOk)

	now := time.Now()
	s.Touch(now)
	if s.IsTimedOut(now) {
		t.Fatal("fresh session should not be timed out")
	}

	later := now.Add(2100 * time.Millisecond)
	if !s.IsTimedOut(later) {
		t.Fatal("session silent for 2.1s should be timed out")
	}
	s.PropagateTimeout(later)

	tr := reg.Get(TrackerID([6]byte{}, 0))
	if tr.Info().Status != registry.StatusTimedOut {
		t.Fatalf("status = %v, want TimedOut", tr.Info().Status)
	}

	// Recovery: a later propagate call with the clock back in range flips
	// TimedOut trackers back to Ok.
	s.Touch(later)
	s.PropagateTimeout(later)
	if tr.Info().Status != registry.StatusOk {
		t.Fatalf("status = %v, want Ok after recovery", tr.Info().Status)
	}
}

func TestTimeoutDoesNotTouchOtherStatuses(t *testing.T) {
	reg := registry.New()
	s := NewSession(reg, [6]byte{}, testAddr(t), time.Now())
	s.OnTrackerStatus(0, protocol.StatusError)

	later := time.Now().Add(3 * time.Second)
	s.PropagateTimeout(later)

	tr := reg.Get(TrackerID([6]byte{}, 0))
	if tr.Info().Status != registry.StatusError {
		t.Fatalf("status = %v, want Error to remain untouched by timeout logic", tr.Info().Status)
	}
}

func TestAllTrackersRemoved(t *testing.T) {
	reg := registry.New()
	s := NewSession(reg, [6]byte{}, testAddr(t), time.Now())

	if s.AllTrackersRemoved() {
		t.Fatal("empty session should not report all-removed")
	}

	tr := s.OnTrackerStatus(0, protocol.StatusOk)
	if s.AllTrackersRemoved() {
		t.Fatal("session with a live tracker should not report all-removed")
	}

	tr.MarkToBeRemoved()
	if !s.AllTrackersRemoved() {
		t.Fatal("session with only removed trackers should report all-removed")
	}
}

func TestNoGapsBelowMaxUsedIndex(t *testing.T) {
	reg := registry.New()
	s := NewSession(reg, [6]byte{}, testAddr(t), time.Now())

	s.OnTrackerStatus(2, protocol.StatusOk)
	if len(s.trackers) != 3 {
		t.Fatalf("trackers len = %d, want 3 (indices 0,1,2)", len(s.trackers))
	}
	if s.trackers[0] != nil || s.trackers[1] != nil {
		t.Fatal("unseen indices below max should be nil, not missing")
	}
}
