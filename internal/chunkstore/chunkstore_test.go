package chunkstore

import (
	"testing"

	"swarmnode/internal/identity"
)

func TestPutGetRoundTrip(t *testing.T) {
	m := NewMemory()
	var addr identity.OverlayAddress
	addr[0] = 0x42

	if _, ok, _ := m.Get(addr); ok {
		t.Fatalf("expected miss before Put")
	}
	if err := m.Put(addr, []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, ok, err := m.Get(addr)
	if err != nil || !ok {
		t.Fatalf("Get after Put: data=%v ok=%v err=%v", data, ok, err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want %q", data, "hello")
	}
	if m.Count() != 1 {
		t.Fatalf("expected count 1, got %d", m.Count())
	}
}

func TestGetReturnsCopyNotAlias(t *testing.T) {
	m := NewMemory()
	var addr identity.OverlayAddress
	addr[0] = 0x7
	if err := m.Put(addr, []byte("abc")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, _, _ := m.Get(addr)
	data[0] = 'z'
	data2, _, _ := m.Get(addr)
	if string(data2) != "abc" {
		t.Fatalf("mutating returned slice leaked into store: %q", data2)
	}
}
