package oscpub

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/Calbabreaker/micap/pkg/skeleton"
)

func listenLoopback(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func TestVMCTickSendsOKThenTwentyBonePosMessages(t *testing.T) {
	rx, port := listenLoopback(t)

	pub, err := NewVMCPublisher(port, true)
	if err != nil {
		t.Fatalf("NewVMCPublisher: %v", err)
	}
	defer pub.Close()

	// Drain the zero-byte priming probe sent on connect.
	rx.SetReadDeadline(time.Now().Add(time.Second))
	probe := make([]byte, 4)
	if _, err := rx.Read(probe); err != nil {
		t.Fatalf("reading probe: %v", err)
	}

	solver := skeleton.New(skeleton.DefaultConfig())
	solver.AssignTrackers(nil)
	solver.Solve()

	if err := pub.Tick(solver.Bones()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	rx.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	n, err := rx.Read(buf)
	if err != nil {
		t.Fatalf("reading bundle: %v", err)
	}
	datagram := buf[:n]

	if !bytes.HasPrefix(datagram, []byte("#bundle\x00")) {
		t.Fatal("expected an OSC bundle datagram")
	}
	if !bytes.Contains(datagram, []byte("/VMC/Ext/OK")) {
		t.Fatal("missing /VMC/Ext/OK message")
	}

	count := bytes.Count(datagram, []byte("/VMC/Ext/Bone/Pos"))
	if count != 20 {
		t.Fatalf("bone pos message count = %d, want 20 (22 bones minus the two hip hinges)", count)
	}
}

func TestVMCTickNoOpWhenDisabled(t *testing.T) {
	rx, port := listenLoopback(t)

	pub, err := NewVMCPublisher(port, false)
	if err != nil {
		t.Fatalf("NewVMCPublisher: %v", err)
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

	rx.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 16)
	if _, err := rx.Read(buf); err == nil {
		t.Fatal("expected no datagram while disabled")
	}
}
