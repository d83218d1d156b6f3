package oscpub

import (
	"bytes"
	"testing"
	"time"

	"github.com/Calbabreaker/micap/pkg/registry"
	"github.com/Calbabreaker/micap/pkg/skeleton"
)

func TestVRChatTickSendsPositionAndRotationPerBone(t *testing.T) {
	rx, port := listenLoopback(t)

	bones := []registry.BoneLocation{registry.LocationHip, registry.LocationHead}
	pub, err := NewVRChatPublisher(port, true, bones)
	if err != nil {
		t.Fatalf("NewVRChatPublisher: %v", err)
	}
	defer pub.Close()

	rx.SetReadDeadline(time.Now().Add(time.Second))
	probe := make([]byte, 4)
	rx.Read(probe) // drain priming probe

	solver := skeleton.New(skeleton.DefaultConfig())
	solver.AssignTrackers(nil)
	solver.Solve()

	if err := pub.Tick(solver.Bones()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var got [][]byte
	for i := 0; i < 4; i++ {
		rx.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 256)
		n, err := rx.Read(buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		got = append(got, buf[:n])
	}

	if !bytes.Contains(got[0], []byte("/tracking/trackers/1/position")) {
		t.Fatalf("first message = %v, want tracker 1 position", got[0])
	}
	if !bytes.Contains(got[1], []byte("/tracking/trackers/1/rotation")) {
		t.Fatalf("second message = %v, want tracker 1 rotation", got[1])
	}
	if !bytes.Contains(got[2], []byte("/tracking/trackers/2/position")) {
		t.Fatalf("third message = %v, want tracker 2 position", got[2])
	}
}

func TestVRChatTickSkipsUnmappedLocations(t *testing.T) {
	rx, port := listenLoopback(t)

	pub, err := NewVRChatPublisher(port, true, []registry.BoneLocation{registry.LocationNone})
	if err != nil {
		t.Fatalf("NewVRChatPublisher: %v", err)
	}
	defer pub.Close()

	rx.SetReadDeadline(time.Now().Add(time.Second))
	probe := make([]byte, 4)
	rx.Read(probe)

	solver := skeleton.New(skeleton.DefaultConfig())
	solver.AssignTrackers(nil)
	solver.Solve()

	if err := pub.Tick(solver.Bones()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	rx.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 16)
	if _, err := rx.Read(buf); err == nil {
		t.Fatal("expected no messages for an unmapped location")
	}
}
