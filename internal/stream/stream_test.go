package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	s := New[string](4)
	ctx, cancel := context.WithCancel(context.Background())
	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)

	s.Publish("approved")
	for _, ch := range []<-chan string{a, b} {
		select {
		case got := <-ch:
			if got != "approved" {
				t.Fatalf("got %q", got)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for s.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscribers not released after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := <-a; ok {
		t.Fatal("channel should be closed")
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	s := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)
	s.Publish(1)
	s.Publish(2) // dropped, buffer is full
	if got := <-ch; got != 1 {
		t.Fatalf("got %d", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected event %d", got)
	default:
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	s := New[int](2)
	ch := s.Subscribe(context.Background())

	s.Close()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription still open after Close")
	}
	if n := s.Subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}

	late := s.Subscribe(context.Background())
	if _, ok := <-late; ok {
		t.Fatal("subscribing to a closed stream should yield a closed channel")
	}
	s.Publish(1)
	s.Close()
}
