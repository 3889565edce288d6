package pty

import (
	"testing"
	"time"
)

func TestBroadcasterFeedWithNoSubscribersIsOk(t *testing.T) {
	b := NewBroadcaster(1024, 8)
	b.Feed([]byte("hello"))
	if got := string(b.ScrollbackContents()); got != "hello" {
		t.Fatalf("ScrollbackContents = %q, want %q", got, "hello")
	}
}

func TestBroadcasterDeliversToMultipleSubscribers(t *testing.T) {
	b := NewBroadcaster(1024, 8)
	r1 := b.Subscribe()
	r2 := b.Subscribe()

	b.Feed([]byte("hi"))

	for _, r := range []*Receiver{r1, r2} {
		select {
		case c := <-r.C():
			if string(c.Data) != "hi" {
				t.Fatalf("got %q, want %q", c.Data, "hi")
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for chunk")
		}
	}
}

func TestBroadcasterReceiverCount(t *testing.T) {
	b := NewBroadcaster(1024, 8)
	if b.ReceiverCount() != 0 {
		t.Fatalf("expected 0 receivers initially")
	}
	b.Subscribe()
	b.Subscribe()
	if b.ReceiverCount() != 2 {
		t.Fatalf("ReceiverCount = %d, want 2", b.ReceiverCount())
	}
}

func TestBroadcasterLaggingSubscriberDoesNotBlockFeed(t *testing.T) {
	b := NewBroadcaster(1024, 1)
	r := b.Subscribe()

	// Fill the subscriber's buffer, then feed past it. Feed must return
	// promptly regardless of whether r ever drains.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Feed([]byte("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Feed blocked on a lagging subscriber")
	}

	// The subscriber should still be able to drain something without the
	// producer having stalled.
	select {
	case <-r.C():
	case <-time.After(time.Second):
		t.Fatalf("lagging subscriber never received anything")
	}
}

func TestBroadcasterCloseEndsSubscribers(t *testing.T) {
	b := NewBroadcaster(1024, 8)
	r := b.Subscribe()
	b.Close()

	_, ok := r.Recv()
	if ok {
		t.Fatalf("expected Recv to report closed channel")
	}
}
