package crdt

import "testing"

func TestTextInsertAndDelete(t *testing.T) {
	doc := New(1)
	text := doc.Text()

	text.Insert(0, "hello")
	text.Insert(5, " world")
	text.Insert(0, ">")
	text.Delete(1, 1)

	if got := text.String(); got != ">ello world" {
		t.Fatalf("unexpected text %q", got)
	}
	if text.Len() != 11 {
		t.Fatalf("unexpected length %d", text.Len())
	}

	text.Insert(100, "!")
	text.Delete(-5, 1)
	if got := text.String(); got != "ello world!" {
		t.Fatalf("unexpected text after clamped edits %q", got)
	}
}

func TestConcurrentTextInsertsConverge(t *testing.T) {
	base := New(1)
	base.Text().Insert(0, "ac")
	a := New(2)
	b := New(3)
	a.Apply(base.State(), "net")
	b.Apply(base.State(), "net")

	aUpdates := capture(a)
	bUpdates := capture(b)
	a.Text().Insert(1, "X")
	b.Text().Insert(1, "Y")
	b.Text().Delete(0, 1)

	for _, u := range *bUpdates {
		a.Apply(u, "net")
	}
	for _, u := range *aUpdates {
		b.Apply(u, "net")
	}

	if a.Text().String() != b.Text().String() {
		t.Fatalf("replicas diverged: %q vs %q", a.Text().String(), b.Text().String())
	}
	if got := a.Text().String(); got != "YXc" {
		t.Fatalf("unexpected merged text %q", got)
	}
}

func TestTextOutOfOrderDelivery(t *testing.T) {
	src := New(1)
	updates := capture(src)
	src.Text().Insert(0, "a")
	src.Text().Insert(1, "b")
	src.Text().Insert(2, "c")
	src.Text().Delete(1, 1)

	replica := New(2)
	for i := len(*updates) - 1; i >= 0; i-- {
		replica.Apply((*updates)[i], "net")
	}

	if got := replica.Text().String(); got != "ac" {
		t.Fatalf("unexpected text after reordered delivery %q", got)
	}
	if len(replica.State().Text) != 3 {
		t.Fatalf("expected tombstone to be kept, got %d items", len(replica.State().Text))
	}
}
