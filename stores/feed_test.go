package stores

import (
	"context"
	"testing"
	"time"
)

func TestMemoryFeedFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := NewMemoryFeed()
	defer f.Close()

	a, err := f.Subscribe(ctx, "meetings")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b, _ := f.Subscribe(ctx, "meetings")
	other, _ := f.Subscribe(ctx, "users")

	if err := f.Publish(ctx, Change{Collection: "meetings", ID: "m1", Op: OpSet}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for name, ch := range map[string]<-chan Change{"a": a, "b": b} {
		select {
		case c := <-ch:
			if c.ID != "m1" || c.Op != OpSet {
				t.Fatalf("%s: unexpected change %+v", name, c)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no change delivered", name)
		}
	}
	select {
	case c := <-other:
		t.Fatalf("users subscriber got %+v", c)
	default:
	}
}

func TestMemoryFeedUnsubscribeOnCancel(t *testing.T) {
	f := NewMemoryFeed()
	defer f.Close()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := f.Subscribe(ctx, "meetings")
	if f.Subscribers("meetings") != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}
	if n := f.Subscribers("meetings"); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}

func TestMemoryFeedClose(t *testing.T) {
	f := NewMemoryFeed()
	ch, _ := f.Subscribe(context.Background(), "meetings")
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	late, _ := f.Subscribe(context.Background(), "meetings")
	if _, ok := <-late; ok {
		t.Fatalf("subscribe after close should return a closed channel")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
