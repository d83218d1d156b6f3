package oscpub

import (
	"bytes"
	"testing"
)

func TestAppendOSCStringPadsToFourBytes(t *testing.T) {
	cases := map[string]int{
		"":     4, // 1 byte (terminator) padded to 4
		"ab":   4, // 3 bytes padded to 4
		"abc":  4, // 4 bytes with terminator, already aligned: no padding
		"abcd": 8, // 5 bytes padded to 8
	}
	for s, want := range cases {
		got := len(appendOSCString(nil, s))
		if got != want {
			t.Errorf("appendOSCString(%q) len = %d, want %d", s, got, want)
		}
		if got%4 != 0 {
			t.Errorf("appendOSCString(%q) len = %d, not 4-byte aligned", s, got)
		}
	}
}

func TestMessageIncludesTypeTagsInOrder(t *testing.T) {
	msg := message("/foo", int32(1), float32(2.5), "bar")
	if !bytes.Contains(msg, []byte(",ifs")) {
		t.Fatalf("message missing expected type tag string ,ifs: %v", msg)
	}
}

func TestBundleHasMagicAndMessageSizes(t *testing.T) {
	m1 := message("/a", int32(1))
	m2 := message("/b", int32(2))
	b := bundle([][]byte{m1, m2})

	if !bytes.HasPrefix(b, []byte("#bundle\x00")) {
		t.Fatal("bundle missing #bundle magic prefix")
	}

	// Skip magic (8) + timetag (8); next 4 bytes are the big-endian size of m1.
	offset := 16
	size := int(b[offset])<<24 | int(b[offset+1])<<16 | int(b[offset+2])<<8 | int(b[offset+3])
	if size != len(m1) {
		t.Fatalf("encoded message size = %d, want %d", size, len(m1))
	}
}
