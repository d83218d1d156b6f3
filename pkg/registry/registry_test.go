package registry

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

func TestAddIsIdempotent(t *testing.T) {
	r := New()
	a := r.Add("mac/0")
	b := r.Add("mac/0")
	if a != b {
		t.Fatal("Add should return the same handle for an existing id")
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestIterInsertionOrder(t *testing.T) {
	r := New()
	r.Add("mac/1")
	r.Add("mac/0")
	r.Add("mac/2")

	got := r.Iter()
	want := []string{"mac/1", "mac/0", "mac/2"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("iter[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestRemove(t *testing.T) {
	r := New()
	r.Add("mac/0")
	r.Remove("mac/0")
	if r.Get("mac/0") != nil {
		t.Fatal("expected tracker to be gone after Remove")
	}
	if r.Len() != 0 {
		t.Fatalf("len = %d, want 0", r.Len())
	}
}

func TestApplyDataIntegratesVelocityAndPosition(t *testing.T) {
	tr := NewTracker("mac/0")
	start := time.Unix(0, 0)
	tr.ApplyData(mgl64.QuatIdent(), mgl64.Vec3{1, 0, 0}, start)
	if tr.Data().Velocity != (mgl64.Vec3{0, 0, 0}) {
		t.Fatalf("first sample should not integrate (no dt): velocity = %v", tr.Data().Velocity)
	}

	next := start.Add(time.Second)
	tr.ApplyData(mgl64.QuatIdent(), mgl64.Vec3{1, 0, 0}, next)
	d := tr.Data()
	if d.Velocity[0] != 1 {
		t.Fatalf("velocity.x = %f, want 1", d.Velocity[0])
	}
	if d.Position[0] != 1 {
		t.Fatalf("position.x = %f, want 1", d.Position[0])
	}
}

func TestApplyDataNormalizesStoredOrientation(t *testing.T) {
	tr := NewTracker("mac/0")
	raw := mgl64.Quat{W: 4, V: mgl64.Vec3{1, 2, 3}}
	tr.ApplyData(raw, mgl64.Vec3{}, time.Unix(0, 0))

	got := tr.Data().Orientation
	length := got.W*got.W + got.V[0]*got.V[0] + got.V[1]*got.V[1] + got.V[2]*got.V[2]
	if absf(length-1) > 1e-9 {
		t.Fatalf("stored orientation is not unit length: |q|^2 = %f", length)
	}

	want := raw.Normalize()
	if absf(got.W-want.W) > 1e-9 || absf(got.V[0]-want.V[0]) > 1e-9 ||
		absf(got.V[1]-want.V[1]) > 1e-9 || absf(got.V[2]-want.V[2]) > 1e-9 {
		t.Fatalf("orientation = %+v, want normalized raw quat %+v", got, want)
	}
}

func TestResetOrientationTwiceYieldsIdentity(t *testing.T) {
	tr := NewTracker("mac/0")
	tr.SetMountOffset(mgl64.QuatRotate(1.2, mgl64.Vec3{0, 1, 0}))
	tr.ApplyData(mgl64.QuatRotate(0.3, mgl64.Vec3{1, 0, 0}), mgl64.Vec3{}, time.Unix(0, 0))

	tr.ResetOrientation()
	if !approxIdentity(tr.Data().Orientation) {
		t.Fatalf("after first reset, orientation = %+v, want identity", tr.Data().Orientation)
	}

	tr.ResetOrientation()
	if !approxIdentity(tr.Data().Orientation) {
		t.Fatalf("after second reset, orientation = %+v, want identity", tr.Data().Orientation)
	}
}

func approxIdentity(q mgl64.Quat) bool {
	const eps = 1e-9
	ident := mgl64.QuatIdent()
	return absf(q.W-ident.W) < eps &&
		absf(q.V[0]-ident.V[0]) < eps &&
		absf(q.V[1]-ident.V[1]) < eps &&
		absf(q.V[2]-ident.V[2]) < eps
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestWasUpdatedLifecycle(t *testing.T) {
	tr := NewTracker("mac/0")
	if tr.WasUpdated() {
		t.Fatal("new tracker should not be marked updated")
	}
	tr.SetBattery(0.5)
	if !tr.WasUpdated() {
		t.Fatal("SetBattery should mark was_updated")
	}
	tr.ClearUpdated()
	if tr.WasUpdated() {
		t.Fatal("ClearUpdated should clear was_updated")
	}
}

func TestToBeRemoved(t *testing.T) {
	tr := NewTracker("mac/0")
	if tr.ToBeRemoved() {
		t.Fatal("new tracker should not be marked for removal")
	}
	tr.MarkToBeRemoved()
	if !tr.ToBeRemoved() {
		t.Fatal("MarkToBeRemoved should set the flag")
	}
}
