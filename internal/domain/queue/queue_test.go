package queue

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestQueueFIFOOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := New(8)
	ctx := context.Background()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		if err := q.Push(ctx, Item{Dest: "agent", Apply: func(context.Context) error {
			order = append(order, i)
			return nil
		}}); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		item, ok := q.Pop(ctx)
		if !ok {
			t.Fatalf("Pop %d: expected item, got none", i)
		}
		if err := item.Apply(ctx); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}

	for i, v := range order {
		if v != i {
			t.Errorf("order[%d] = %d, want %d", i, v, i)
		}
	}
	q.Close()
}

func TestQueueCloseUnblocksPop(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := New(0)
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, ok := q.Pop(context.Background())
		if ok {
			t.Error("expected Pop to return ok=false after close")
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

func TestQueuePushAfterCloseErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := New(1)
	q.Close()

	if err := q.Push(context.Background(), Item{}); err == nil {
		t.Error("expected error pushing to a closed queue")
	}
}

func TestQueueDrainDiscardsBuffered(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := New(4)
	ctx := context.Background()
	ran := false
	for i := 0; i < 3; i++ {
		_ = q.Push(ctx, Item{Apply: func(context.Context) error { ran = true; return nil }})
	}

	n := q.Drain()
	if n != 3 {
		t.Errorf("expected 3 drained items, got %d", n)
	}
	if ran {
		t.Error("drained items must not run Apply")
	}
	q.Close()
}
