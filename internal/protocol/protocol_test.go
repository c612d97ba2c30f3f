package protocol

import (
	"errors"
	"testing"
)

func TestDecodeKeepsPayloadsRaw(t *testing.T) {
	data, err := Encode(Sync([][]byte{[]byte(`{"maps":{}}`), []byte(`{"text":[]}`)}))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Type != TypeSync || len(msg.Updates) != 2 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if string(msg.Updates[1]) != `{"text":[]}` {
		t.Fatalf("payload was rewritten: %s", msg.Updates[1])
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"shout"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}
