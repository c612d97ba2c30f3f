package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceRunsDueTimersInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var got []string
	c.AfterFunc(20*time.Millisecond, func() { got = append(got, "b") })
	c.AfterFunc(10*time.Millisecond, func() {
		got = append(got, "a")
		c.AfterFunc(5*time.Millisecond, func() { got = append(got, "a2") })
	})
	c.AfterFunc(50*time.Millisecond, func() { got = append(got, "late") })

	c.Advance(30 * time.Millisecond)

	want := []string{"a", "a2", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if !c.Now().Equal(time.Unix(0, 0).Add(30 * time.Millisecond)) {
		t.Fatalf("unexpected now %v", c.Now())
	}
	if c.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", c.Pending())
	}
}

func TestGroupStopCancelsTimers(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	g := NewGroup(c)
	fired := 0
	g.AfterFunc(10*time.Millisecond, func() { fired++ })
	g.Every(5*time.Millisecond, func() { fired++ })

	c.Advance(7 * time.Millisecond)
	if fired != 1 {
		t.Fatalf("expected the repeating timer to fire once, got %d", fired)
	}

	g.Stop()
	g.Stop()
	g.AfterFunc(time.Millisecond, func() { fired++ })
	c.Advance(time.Second)

	if fired != 1 {
		t.Fatalf("expected no callbacks after Stop, got %d", fired)
	}
	if g.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", g.Pending())
	}
}

func TestGroupEveryRepeats(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	g := NewGroup(c)
	ticks := 0
	g.Every(10*time.Millisecond, func() { ticks++ })

	c.Advance(35 * time.Millisecond)

	if ticks != 3 {
		t.Fatalf("expected 3 ticks, got %d", ticks)
	}
}
