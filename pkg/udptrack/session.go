// Package udptrack implements the UDP tracker protocol engine: per-device
// session state (§4.B) and the server that owns the socket and dispatches
// datagrams to sessions (§4.C).
package udptrack

import (
	"fmt"
	"net"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Calbabreaker/micap/pkg/protocol"
	"github.com/Calbabreaker/micap/pkg/registry"
)

// timeoutThreshold is the silence duration after which a session is
// considered timed out (§5).
const timeoutThreshold = 2 * time.Second

// MacString renders a 6-byte mac as colon-separated lowercase hex, the
// canonical form used in tracker ids and log lines.
func MacString(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// TrackerID builds the stable `<mac>/<local-index>` identifier.
func TrackerID(mac [6]byte, localIndex byte) string {
	return fmt.Sprintf("%s/%d", MacString(mac), localIndex)
}

// Session is the per-network-peer state machine described in §4.B.
type Session struct {
	registry *registry.Registry

	Mac     [6]byte
	Address *net.UDPAddr

	lastPacketNumber uint32
	lastPacketTime   time.Time

	// trackers is indexed by local-index; nil entries are slots never seen.
	trackers []*registry.Tracker

	currentPingID   byte
	pingStartTime   *time.Time
}

// NewSession constructs a session freshly handshaken from addr.
func NewSession(reg *registry.Registry, mac [6]byte, addr *net.UDPAddr, now time.Time) *Session {
	return &Session{
		registry:       reg,
		Mac:            mac,
		Address:        addr,
		lastPacketTime: now,
	}
}

// CheckSequence implements §4.B check_sequence. Handshake packets bypass
// this entirely. A seq of 0 is only accepted when no packet has been
// observed yet (last == 0, the session's initial value); after the counter
// has advanced — including after it wraps past u32::MAX back to 0 — a
// literal seq of 0 is rejected like any other non-increasing value. This
// matches the pinned wrap-around boundary behavior in the spec rather than
// a naive "seq==0 always accepted" reading.
func (s *Session) CheckSequence(seq uint32) bool {
	if seq == 0 && s.lastPacketNumber == 0 {
		return true
	}
	if seq <= s.lastPacketNumber {
		return false
	}
	s.lastPacketNumber = seq
	return true
}

// Touch records that a packet (of any kind) was observed from this session
// just now, resetting the liveness timer.
func (s *Session) Touch(now time.Time) {
	s.lastPacketTime = now
}

// OnHandshake implements §4.B on_handshake: a reconnect from the same
// address resets sequence tracking; a migration from a different address
// adopts the new address and also resets sequence tracking. The caller (the
// server) is responsible for updating its address→session map on migration.
func (s *Session) OnHandshake(newAddr *net.UDPAddr, now time.Time) {
	s.Address = newAddr
	s.lastPacketNumber = 0
	s.lastPacketTime = now
}

// OnTrackerStatus implements §4.B on_tracker_status: creates the tracker on
// first sight of a local index, then always updates status and address.
func (s *Session) OnTrackerStatus(localIndex byte, status protocol.Status) *registry.Tracker {
	t := s.trackerAt(localIndex)
	if t == nil {
		id := TrackerID(s.Mac, localIndex)
		t = s.registry.Add(id)
		t.ResetData()
		s.setTrackerAt(localIndex, t)
	}
	t.SetStatus(registryStatus(status))
	t.SetAddress(s.Address.String())
	return t
}

// OnTrackerData implements §4.B on_tracker_data: routes a pre-converted
// sample to the owned tracker at local-index, if any.
func (s *Session) OnTrackerData(localIndex byte, quat mgl64.Quat, accel mgl64.Vec3, now time.Time) {
	t := s.trackerAt(localIndex)
	if t == nil {
		return
	}
	t.ApplyData(quat, accel, now)
}

// OnBattery implements §4.B on_battery: broadcasts to every owned tracker.
func (s *Session) OnBattery(level float64) {
	for _, t := range s.trackers {
		if t != nil {
			t.SetBattery(level)
		}
	}
}

// IssuePing implements §4.B issue_ping: only emits a new ping id when none
// is in flight. Returns the ping id to send and true if a ping should be
// sent; the caller (upkeep) performs the actual socket write.
func (s *Session) IssuePing(now time.Time) (id byte, shouldSend bool) {
	if s.pingStartTime != nil {
		return 0, false
	}
	s.currentPingID++
	t := now
	s.pingStartTime = &t
	return s.currentPingID, true
}

// OnPong implements §4.B on_pong: on a matching id, sets latency on every
// owned tracker and clears the in-flight ping.
func (s *Session) OnPong(id byte, now time.Time) {
	if s.pingStartTime == nil || id != s.currentPingID {
		return
	}
	elapsed := now.Sub(*s.pingStartTime)
	latencyMs := float64(elapsed.Milliseconds()) / 2
	for _, t := range s.trackers {
		if t != nil {
			t.SetLatency(latencyMs)
		}
	}
	s.pingStartTime = nil
}

// IsTimedOut implements §4.B is_timed_out.
func (s *Session) IsTimedOut(now time.Time) bool {
	return now.Sub(s.lastPacketTime) > timeoutThreshold
}

// PropagateTimeout implements §4.B propagate_timeout: Ok→TimedOut or
// TimedOut→Ok depending on the current liveness state; every other status
// value is left untouched.
func (s *Session) PropagateTimeout(now time.Time) {
	timedOut := s.IsTimedOut(now)
	for _, t := range s.trackers {
		if t == nil {
			continue
		}
		switch t.Info().Status {
		case registry.StatusOk:
			if timedOut {
				t.SetStatus(registry.StatusTimedOut)
			}
		case registry.StatusTimedOut:
			if !timedOut {
				t.SetStatus(registry.StatusOk)
			}
		}
	}
}

// AllTrackersRemoved implements §4.B all_trackers_removed.
func (s *Session) AllTrackersRemoved() bool {
	any := false
	for _, t := range s.trackers {
		if t == nil {
			continue
		}
		any = true
		if !t.ToBeRemoved() {
			return false
		}
	}
	return any
}

func (s *Session) trackerAt(localIndex byte) *registry.Tracker {
	if int(localIndex) >= len(s.trackers) {
		return nil
	}
	return s.trackers[localIndex]
}

// setTrackerAt grows the slice as needed, leaving nil gaps for indices never
// seen, per the §3 invariant.
func (s *Session) setTrackerAt(localIndex byte, t *registry.Tracker) {
	for len(s.trackers) <= int(localIndex) {
		s.trackers = append(s.trackers, nil)
	}
	s.trackers[localIndex] = t
}

func registryStatus(s protocol.Status) registry.Status {
	switch s {
	case protocol.StatusOk:
		return registry.StatusOk
	case protocol.StatusError:
		return registry.StatusError
	case protocol.StatusOff:
		return registry.StatusOff
	default:
		return registry.StatusError
	}
}
