package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeConn records sends and simulates readiness/failure.
type fakeConn struct {
	mu      sync.Mutex
	got     [][]byte
	ready   bool
	sendErr error
}

func newFakeConn() *fakeConn { return &fakeConn{ready: true} }

func (c *fakeConn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.got = append(c.got, data)
	return nil
}

func (c *fakeConn) Ready() bool { return c.ready }

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestBroadcast_ExcludesOriginator(t *testing.T) {
	h := New(nil)
	a, b, other := newFakeConn(), newFakeConn(), newFakeConn()
	h.Register("u1", a)
	h.Register("u1", b)
	h.Register("u2", other)

	h.Broadcast("u1", []byte(`{"type":"sync_incremental"}`), a)

	if a.received() != 0 {
		t.Error("originator received its own broadcast")
	}
	if b.received() != 1 {
		t.Errorf("sibling received %d messages, want 1", b.received())
	}
	if other.received() != 0 {
		t.Error("broadcast leaked across users")
	}
}

func TestBroadcast_SkipsNotReady(t *testing.T) {
	h := New(nil)
	ready, stale := newFakeConn(), newFakeConn()
	stale.ready = false
	h.Register("u1", ready)
	h.Register("u1", stale)

	h.Broadcast("u1", []byte("x"), nil)

	if ready.received() != 1 {
		t.Errorf("ready conn received %d messages, want 1", ready.received())
	}
	if stale.received() != 0 {
		t.Error("not-ready conn received a broadcast")
	}
	// Not-ready conns stay registered; only failed sends are dropped.
	if h.Count("u1") != 2 {
		t.Errorf("Count = %d, want 2", h.Count("u1"))
	}
}

func TestBroadcast_DropsFailedConn(t *testing.T) {
	h := New(nil)
	good, bad := newFakeConn(), newFakeConn()
	bad.sendErr = errors.New("broken pipe")
	h.Register("u1", good)
	h.Register("u1", bad)

	h.Broadcast("u1", []byte("x"), nil)

	if h.Count("u1") != 1 {
		t.Errorf("Count after failed send = %d, want 1", h.Count("u1"))
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	h := New(nil)
	c := newFakeConn()
	h.Register("u1", c)
	h.Unregister("u1", c)
	h.Unregister("u1", c)
	h.Unregister("u2", c)

	if h.Count("u1") != 0 {
		t.Errorf("Count = %d, want 0", h.Count("u1"))
	}
}

func TestClose_RejectsNewRegistrations(t *testing.T) {
	h := New(nil)
	h.Register("u1", newFakeConn())
	h.Close()

	if h.TotalCount() != 0 {
		t.Errorf("TotalCount after Close = %d, want 0", h.TotalCount())
	}

	h.Register("u1", newFakeConn())
	if h.Count("u1") != 0 {
		t.Error("Register after Close added a connection")
	}
}
