package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wsfanout/internal/clock"
	"wsfanout/internal/message"
)

func newTestSession(id string) *Session {
	conn := newFakeConn()
	clk := clock.NewFake(time.Unix(0, 0))
	return New(message.ClientID(id), conn, ModeQueue, testConfig(), clk, zerolog.Nop(), nil)
}

func TestRegistryInsertRemoveSnapshot(t *testing.T) {
	r := NewRegistry()
	a := newTestSession("a")
	b := newTestSession("b")

	r.Insert(a)
	r.Insert(b)
	if r.Len() != 2 {
		t.Fatalf("want len 2, got %d", r.Len())
	}

	r.Remove(a.ID())
	if r.Len() != 1 {
		t.Fatalf("want len 1 after remove, got %d", r.Len())
	}

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ID() != b.ID() {
		t.Fatalf("want snapshot containing only b, got %v", snap)
	}
}

func TestRegistryRemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Remove("does-not-exist")
	if r.Len() != 0 {
		t.Fatalf("want len 0, got %d", r.Len())
	}
}
