// Package registry is the shared, process-wide store of tracker identity,
// status, latest sample, and derived kinematic state. It owns tracker
// lifetime; every other subsystem (device sessions, the skeleton solver,
// the WebSocket) holds a *Tracker handle, never a copy.
package registry

import (
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Status is the tracker's public-facing operational state.
type Status int

const (
	StatusOk Status = iota
	StatusError
	StatusOff
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusError:
		return "error"
	case StatusOff:
		return "off"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// BoneLocation names a slot in the skeleton a tracker can be assigned to.
// Defined here (rather than in pkg/skeleton) because tracker-config and the
// fallback tables both need it, and registry has no dependency on skeleton.
type BoneLocation string

const (
	LocationNone        BoneLocation = ""
	LocationHip         BoneLocation = "hip"
	LocationWaist       BoneLocation = "waist"
	LocationChest       BoneLocation = "chest"
	LocationUpperChest  BoneLocation = "upper_chest"
	LocationNeck        BoneLocation = "neck"
	LocationHead        BoneLocation = "head"
	LocationLeftUpperLeg  BoneLocation = "left_upper_leg"
	LocationLeftLowerLeg  BoneLocation = "left_lower_leg"
	LocationLeftFoot      BoneLocation = "left_foot"
	LocationRightUpperLeg BoneLocation = "right_upper_leg"
	LocationRightLowerLeg BoneLocation = "right_lower_leg"
	LocationRightFoot     BoneLocation = "right_foot"
	LocationLeftShoulder  BoneLocation = "left_shoulder"
	LocationLeftUpperArm  BoneLocation = "left_upper_arm"
	LocationLeftLowerArm  BoneLocation = "left_lower_arm"
	LocationLeftHand      BoneLocation = "left_hand"
	LocationRightShoulder BoneLocation = "right_shoulder"
	LocationRightUpperArm BoneLocation = "right_upper_arm"
	LocationRightLowerArm BoneLocation = "right_lower_arm"
	LocationRightHand     BoneLocation = "right_hand"
)

// Info is the public-facing sub-record: status, latency, battery, address,
// and the removal flag.
type Info struct {
	Status       Status
	LatencyMs    *float64
	Battery      float64
	Address      string
	ToBeRemoved  bool
}

// Data is the current/derived sample sub-record. Velocity and position are
// integrated from raw accelerometer data without gravity compensation; the
// server does not trust them for pose and exposes them as-is (see §9 Open
// Questions — this drift is preserved, not corrected).
type Data struct {
	Orientation mgl64.Quat
	Accel       mgl64.Vec3
	Velocity    mgl64.Vec3
	Position    mgl64.Vec3
}

// internalState holds bookkeeping never exposed directly to publishers.
type internalState struct {
	lastDataTime time.Time
	wasUpdated   bool
	mountOffset  mgl64.Quat
	resetOffset  mgl64.Quat
}

// Tracker is a single wireless inertial sensor's full record. All mutator
// methods are safe for concurrent use; callers must not retain a pointer
// into a Tracker's fields across a suspension point (see pkg/registry
// doc.go-equivalent note in Registry).
type Tracker struct {
	mu sync.Mutex

	ID       string
	Location BoneLocation
	Name     string

	info     Info
	data     Data
	internal internalState
}

// NewTracker constructs a tracker in its zero-data state: identity
// orientation, zero motion, no mount/reset offset applied yet.
func NewTracker(id string) *Tracker {
	return &Tracker{
		ID: id,
		internal: internalState{
			mountOffset: mgl64.QuatIdent(),
			resetOffset: mgl64.QuatIdent(),
		},
	}
}

// Info returns a copy of the public info sub-record.
func (t *Tracker) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// Data returns a copy of the current data sub-record.
func (t *Tracker) Data() Data {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

// SetMountOffset sets the canonical rotation that transforms the tracker's
// local frame into its assigned bone's expected frame.
func (t *Tracker) SetMountOffset(q mgl64.Quat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.internal.mountOffset = q
}

// ResetOrientation captures mounted⁻¹ as the new reset offset so that the
// next sample exposes identity orientation. Calling this twice in a row
// with no intervening data yields identity both times (§8 round-trip law).
func (t *Tracker) ResetOrientation() {
	t.mu.Lock()
	defer t.mu.Unlock()
	mounted := t.lastMountedLocked()
	t.internal.resetOffset = mounted.Inverse()
	t.data.Orientation = t.internal.resetOffset.Mul(mounted)
}

// lastMountedLocked reconstructs the mounted orientation (pre-reset) from
// the currently exposed orientation and reset offset. Must hold t.mu.
func (t *Tracker) lastMountedLocked() mgl64.Quat {
	return t.internal.resetOffset.Inverse().Mul(t.data.Orientation)
}

// SetStatus sets the public status. Any mutator of info marks was_updated.
func (t *Tracker) SetStatus(status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.Status = status
	t.internal.wasUpdated = true
}

// SetAddress records the tracker's owning session address.
func (t *Tracker) SetAddress(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.Address = addr
	t.internal.wasUpdated = true
}

// SetBattery sets the battery level (0..1), as broadcast by the owning
// device session to every tracker it owns.
func (t *Tracker) SetBattery(level float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.Battery = level
	t.internal.wasUpdated = true
}

// SetLatency records a measured round-trip-derived latency in milliseconds.
func (t *Tracker) SetLatency(ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.LatencyMs = &ms
	t.internal.wasUpdated = true
}

// ResetData zeroes the data sub-record; called when a tracker is (re)created
// by a TrackerStatus packet referencing a previously-unknown local index.
func (t *Tracker) ResetData() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = Data{Orientation: mgl64.QuatIdent()}
	t.internal.lastDataTime = time.Time{}
}

// ApplyData applies a new raw (device-converted) orientation and
// acceleration sample: mount offset, reset offset, and velocity/position
// integration, per §4.B on_tracker_data.
func (t *Tracker) ApplyData(rawQuat mgl64.Quat, accel mgl64.Vec3, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mounted := rawQuat.Mul(t.internal.mountOffset)
	exposed := t.internal.resetOffset.Mul(mounted).Normalize()
	t.data.Orientation = exposed
	t.data.Accel = accel

	var dt float64
	if !t.internal.lastDataTime.IsZero() {
		dt = now.Sub(t.internal.lastDataTime).Seconds()
	}
	t.data.Velocity = t.data.Velocity.Add(accel.Mul(dt))
	t.data.Position = t.data.Position.Add(t.data.Velocity.Mul(dt))

	t.internal.lastDataTime = now
	t.internal.wasUpdated = true
}

// WasUpdated reports whether any mutator has run since the last ClearUpdated.
func (t *Tracker) WasUpdated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.internal.wasUpdated
}

// ClearUpdated clears the was_updated flag; called once per tick by the main
// loop after the WebSocket has read it.
func (t *Tracker) ClearUpdated() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.internal.wasUpdated = false
}

// MarkToBeRemoved flags the tracker for removal at the next end-of-tick
// cleanup pass.
func (t *Tracker) MarkToBeRemoved() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.ToBeRemoved = true
}

// ToBeRemoved reports the removal flag.
func (t *Tracker) ToBeRemoved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.ToBeRemoved
}
