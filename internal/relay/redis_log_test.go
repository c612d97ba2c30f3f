package relay

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestLog(t *testing.T) (*RedisLog, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	l, err := NewRedisLog("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis log: %v", err)
	}
	return l, s
}

func TestNewRedisLog(t *testing.T) {
	l, _ := setupTestLog(t)
	defer l.Close()

	if err := l.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if _, err := NewRedisLog("not a url"); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestAppendAndRange(t *testing.T) {
	l, s := setupTestLog(t)
	defer l.Close()
	ctx := context.Background()

	for _, u := range []string{`{"a":1}`, `{"b":2}`} {
		if _, err := l.Append(ctx, "room-1", []byte(u)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	updates, err := l.Range(ctx, "room-1")
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(updates) != 2 || string(updates[0]) != `{"a":1}` {
		t.Errorf("unexpected updates %q", updates)
	}
	if !s.Exists("room:room-1:updates") {
		t.Error("expected the log under the room key")
	}
	if n, _ := l.Len(ctx, "other"); n != 0 {
		t.Errorf("expected empty log for unknown room, got %d", n)
	}
}

func TestCompactReplacesLog(t *testing.T) {
	l, _ := setupTestLog(t)
	defer l.Close()
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		if _, err := l.Append(ctx, "room-1", []byte(u)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	merged, err := l.Compact(ctx, "room-1", func(updates [][]byte) ([]byte, error) {
		return bytes.Join(updates, nil), nil
	})
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if string(merged) != "abc" {
		t.Errorf("unexpected merged value %q", merged)
	}
	updates, err := l.Range(ctx, "room-1")
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(updates) != 1 || string(updates[0]) != "abc" {
		t.Errorf("expected a single merged entry, got %q", updates)
	}

	merged, err = l.Compact(ctx, "empty", func([][]byte) ([]byte, error) {
		t.Error("merge must not run for an empty log")
		return nil, nil
	})
	if err != nil || merged != nil {
		t.Errorf("expected nil result for empty log, got %q, %v", merged, err)
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	l, _ := setupTestLog(t)
	defer l.Close()
	ctx := context.Background()

	sub, err := l.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := l.Publish(ctx, "room-1", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case msg := <-sub.Channel():
		if msg.Payload != "hello" {
			t.Errorf("unexpected payload %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
