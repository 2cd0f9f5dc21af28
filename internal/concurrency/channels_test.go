package concurrency

import (
	"sort"
	"testing"

	"quill/internal/object"
)

func TestChannelManagerCreateIsIdempotent(t *testing.T) {
	m := NewChannelManager()
	a := m.Create("results")
	b := m.Create("results")
	if a != b {
		t.Error("Create returned a different channel for an existing name")
	}
	if got := m.Get("results"); got != a {
		t.Error("Get returned a different channel than Create")
	}
}

func TestChannelManagerGetMissing(t *testing.T) {
	m := NewChannelManager()
	if m.Get("nope") != nil {
		t.Error("Get on unknown name != nil")
	}
}

func TestChannelManagerCloseAll(t *testing.T) {
	m := NewChannelManager()
	a := m.Create("a")
	b := m.Create("b")
	a.Send(object.TRUE)

	m.CloseAll()
	if !a.IsClosed() || !b.IsClosed() {
		t.Error("CloseAll left a channel open")
	}
	// Buffered values still drain after close.
	if v, ok := a.Receive(); !ok || v != object.TRUE {
		t.Errorf("Receive() after CloseAll = (%v, %v), want (TRUE, true)", v, ok)
	}
}

func TestChannelManagerRemove(t *testing.T) {
	m := NewChannelManager()
	m.Create("tmp")
	m.Remove("tmp")
	if m.Get("tmp") != nil {
		t.Error("channel still reachable after Remove")
	}
}

func TestChannelManagerNames(t *testing.T) {
	m := NewChannelManager()
	m.Create("x")
	m.Create("y")
	names := m.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "x" || names[1] != "y" {
		t.Errorf("Names() = %v, want [x y]", names)
	}
}
