package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a := NewID("stream")
	b := NewID("stream")
	if !strings.HasPrefix(a, "stream_") || len(a) != len("stream_")+24 {
		t.Fatalf("unexpected id %q", a)
	}
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if len(NewID("")) != 24 {
		t.Fatalf("unexpected unprefixed id %q", NewID(""))
	}
}

func TestNewClientID(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewClientID()
		if id == 0 || id > 1<<32-1 {
			t.Fatalf("client id out of range: %d", id)
		}
	}
}
