package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/engagepush/backend/internal/kv"
)

func TestAdmit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	store := kv.NewMemory()
	store.SetClock(clock)
	f := New(store, WithClock(clock))
	ctx := context.Background()

	msg := Message{Title: "Streak", Body: "Keep going"}

	if ok, err := f.Admit(ctx, msg); err != nil || !ok {
		t.Fatalf("first Admit() = %v, %v", ok, err)
	}

	now = now.Add(time.Second)
	if ok, _ := f.Admit(ctx, msg); ok {
		t.Error("duplicate within window admitted")
	}

	now = now.Add(2 * time.Second)
	if ok, _ := f.Admit(ctx, msg); !ok {
		t.Error("message after window dropped")
	}
}

func TestKey(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := New(kv.NewMemory(), WithClock(func() time.Time { return now }))

	a := f.Key(Message{Title: "T", Body: "B"})
	b := f.Key(Message{Title: "T", Body: "B"})
	if a != b {
		t.Errorf("same content produced different keys %q %q", a, b)
	}
	if f.Key(Message{Title: "TB", Body: ""}) == a {
		t.Error("title/body boundary not part of the key")
	}
	if f.Key(Message{ID: "m1", Title: "T", Body: "B"}) != "id:m1" {
		t.Error("transport id not preferred")
	}

	now = now.Add(DefaultBucketSize)
	if f.Key(Message{Title: "T", Body: "B"}) == a {
		t.Error("key did not change across buckets")
	}
}

func TestAdmit_DistinctIDs(t *testing.T) {
	f := New(kv.NewMemory())
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if ok, _ := f.Admit(ctx, Message{ID: id, Title: "same"}); !ok {
			t.Errorf("message %s dropped", id)
		}
	}
}

func TestAdmit_AcrossBucketBoundary(t *testing.T) {
	// 100ms before a bucket boundary.
	now := time.Unix(1_700_000_000, 0).Add(DefaultBucketSize - 100*time.Millisecond)
	clock := func() time.Time { return now }
	store := kv.NewMemory()
	store.SetClock(clock)
	f := New(store, WithClock(clock))
	ctx := context.Background()

	msg := Message{Title: "Streak", Body: "Keep going"}
	if ok, err := f.Admit(ctx, msg); err != nil || !ok {
		t.Fatalf("first Admit() = %v, %v", ok, err)
	}

	now = now.Add(200 * time.Millisecond)
	if ok, _ := f.Admit(ctx, msg); ok {
		t.Error("duplicate straddling the bucket boundary admitted")
	}

	now = now.Add(3 * time.Second)
	if ok, _ := f.Admit(ctx, msg); !ok {
		t.Error("message after window dropped")
	}
}
