package idle

import (
	"testing"
	"time"
)

func TestSweepEvictsAfterTimeout(t *testing.T) {
	start := time.UnixMilli(0)
	timeout := 30000 * time.Millisecond

	m := NewMonitor()
	m.MarkActive(7, start)

	if evicted := m.Sweep(start.Add(29999*time.Millisecond), timeout); len(evicted) != 0 {
		t.Fatalf("expected no eviction at 29999ms, got %v", evicted)
	}
	if !m.IsActive(7) {
		t.Fatal("expected client 7 to still be active at 29999ms")
	}

	evicted := m.Sweep(start.Add(30001*time.Millisecond), timeout)
	if len(evicted) != 1 || evicted[0] != 7 {
		t.Fatalf("expected client 7 to be evicted, got %v", evicted)
	}
	if m.IsActive(7) {
		t.Fatal("expected client 7 to be inactive at 30001ms")
	}
}

func TestSweepBoundaryIsInclusive(t *testing.T) {
	start := time.UnixMilli(0)
	m := NewMonitor()
	m.MarkActive(1, start)
	m.Sweep(start.Add(DefaultTimeout), DefaultTimeout)
	if !m.IsActive(1) {
		t.Fatal("an entry exactly at the timeout must be kept")
	}
}

func TestMarkActiveRefreshesAndMarkInactiveRemoves(t *testing.T) {
	start := time.UnixMilli(0)
	m := NewMonitor()
	m.MarkActive(1, start)
	m.MarkActive(2, start)
	m.MarkActive(1, start.Add(20*time.Second))
	m.MarkInactive(2)
	m.MarkInactive(99)

	m.Sweep(start.Add(40*time.Second), DefaultTimeout)

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one active client, got %v", snap)
	}
	if !snap[1].Equal(start.Add(20 * time.Second)) {
		t.Fatalf("unexpected last activity %v", snap[1])
	}
}
