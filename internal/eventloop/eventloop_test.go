package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"swarmnode/internal/identity"
)

func TestPerPeerOrderingPreserved(t *testing.T) {
	var mu sync.Mutex
	var seenA, seenB []string

	handle := func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Peer {
		case peerA:
			seenA = append(seenA, ev.Name)
		case peerB:
			seenB = append(seenB, ev.Name)
		}
	}

	loop := New(handle, 16)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	for i := 0; i < 5; i++ {
		if err := loop.SubmitCommand(Event{Peer: peerA, Name: name(i)}); err != nil {
			t.Fatalf("submit a: %v", err)
		}
		if err := loop.SubmitCommand(Event{Peer: peerB, Name: name(i)}); err != nil {
			t.Fatalf("submit b: %v", err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"0", "1", "2", "3", "4"}
	if !equal(seenA, want) {
		t.Fatalf("peer A order = %v, want %v", seenA, want)
	}
	if !equal(seenB, want) {
		t.Fatalf("peer B order = %v, want %v", seenB, want)
	}
}

func TestSubmitAutoStampsCorrelationID(t *testing.T) {
	seen := make(chan Event, 2)
	loop := New(func(_ context.Context, ev Event) { seen <- ev }, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	if err := loop.SubmitCommand(Event{Peer: peerA, Name: "x"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := loop.SubmitCommand(Event{Peer: peerA, Name: "y", CorrelationID: "explicit"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	first := <-seen
	second := <-seen
	if first.CorrelationID == "" {
		t.Fatalf("expected an auto-generated correlation id")
	}
	if second.CorrelationID != "explicit" {
		t.Fatalf("expected caller-supplied correlation id to survive, got %q", second.CorrelationID)
	}
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	loop := New(func(context.Context, Event) {}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	cancel()
	time.Sleep(10 * time.Millisecond)

	if err := loop.SubmitCommand(Event{Peer: peerA}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSpawnedTasksCancelledOnShutdown(t *testing.T) {
	loop := New(func(context.Context, Event) {}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	cancelled := make(chan struct{})
	loop.Spawn(ctx, func(taskCtx context.Context) {
		<-taskCtx.Done()
		close(cancelled)
	})

	time.Sleep(10 * time.Millisecond)
	if got := loop.PendingTasks(); got != 1 {
		t.Fatalf("expected 1 pending task, got %d", got)
	}

	cancel()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("spawned task was not cancelled on shutdown")
	}
}

var peerA, peerB = func() (identity.OverlayAddress, identity.OverlayAddress) {
	var a, b identity.OverlayAddress
	a[0] = 0xAA
	b[0] = 0xBB
	return a, b
}()

func name(i int) string {
	return string(rune('0' + i))
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
