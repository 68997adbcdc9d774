package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/coregx/relay/protocol"
)

func msg(t *testing.T, body string) protocol.Message {
	t.Helper()
	m, err := protocol.NewMessage(protocol.ServerInteraction, []byte(body))
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return m
}

// TestBuffered_FIFOOrder checks invariant 2: FIFO order and capacity.
func TestBuffered_FIFOOrder(t *testing.T) {
	b := New(Buffered, 3)

	for _, s := range []string{"a", "b", "c"} {
		if err := b.Add(msg(t, s), 0); err != nil {
			t.Fatalf("Add(%q): %v", s, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := b.Pop(time.Second)
		if !ok {
			t.Fatalf("Pop() ok=false, want true")
		}
		if string(got.Content()) != want {
			t.Errorf("Pop() = %q, want %q", got.Content(), want)
		}
	}
}

// TestBuffered_CapacityBlocksThenTimesOut checks that Add blocks when
// full and reports ErrFull once its timeout elapses.
func TestBuffered_CapacityBlocksThenTimesOut(t *testing.T) {
	b := New(Buffered, 1)

	if err := b.Add(msg(t, "first"), 0); err != nil {
		t.Fatalf("Add(first): %v", err)
	}

	err := b.Add(msg(t, "second"), 20*time.Millisecond)
	if err != ErrFull {
		t.Fatalf("Add() error = %v, want ErrFull", err)
	}
}

// TestBuffered_AddUnblocksOnPop checks that a blocked Add proceeds once a
// concurrent Pop frees capacity.
func TestBuffered_AddUnblocksOnPop(t *testing.T) {
	b := New(Buffered, 1)
	if err := b.Add(msg(t, "first"), 0); err != nil {
		t.Fatalf("Add(first): %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.Add(msg(t, "second"), time.Second); err != nil {
			t.Errorf("Add(second): %v", err)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	if _, ok := b.Pop(time.Second); !ok {
		t.Fatal("Pop() ok=false, want true")
	}

	wg.Wait()
	got, ok := b.Pop(time.Second)
	if !ok || string(got.Content()) != "second" {
		t.Fatalf("Pop() = %v, %v, want \"second\", true", got, ok)
	}
}

// TestPop_TimeoutReturnsNone checks that Pop on an empty buffer returns
// ok=false after its timeout.
func TestPop_TimeoutReturnsNone(t *testing.T) {
	b := New(Buffered, 4)
	_, ok := b.Pop(20 * time.Millisecond)
	if ok {
		t.Fatal("Pop() ok=true on empty buffer, want false")
	}
}

// TestCoalescing_OverwritesAndReturnsLatest checks invariant 3.
func TestCoalescing_OverwritesAndReturnsLatest(t *testing.T) {
	b := New(Coalescing, 0)

	if err := b.Add(msg(t, "F1"), 0); err != nil {
		t.Fatalf("Add(F1): %v", err)
	}
	if err := b.Add(msg(t, "F2"), 0); err != nil {
		t.Fatalf("Add(F2): %v", err)
	}
	if err := b.Add(msg(t, "F3"), 0); err != nil {
		t.Fatalf("Add(F3): %v", err)
	}

	got, ok := b.Pop(time.Second)
	if !ok {
		t.Fatal("Pop() ok=false, want true")
	}
	if string(got.Content()) != "F3" {
		t.Errorf("Pop() = %q, want %q (F1, F2 should be superseded)", got.Content(), "F3")
	}

	if _, ok := b.Pop(20 * time.Millisecond); ok {
		t.Error("second Pop() ok=true, want false (slot consumed)")
	}
}

// TestCoalescing_AddNeverBlocks checks that Add never blocks in
// Coalescing mode even under concurrent overwrite pressure.
func TestCoalescing_AddNeverBlocks(t *testing.T) {
	b := New(Coalescing, 0)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			_ = b.Add(msg(t, "x"), 0)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Add() blocked in coalescing mode")
	}
}

// TestSwitchMode_DropsPendingOnMismatch checks that switching modes (or
// capacity) drops whatever was pending.
func TestSwitchMode_DropsPendingOnMismatch(t *testing.T) {
	b := New(Buffered, 4)
	if err := b.Add(msg(t, "a"), 0); err != nil {
		t.Fatalf("Add: %v", err)
	}

	b.SwitchMode(Coalescing, 0)

	if !b.Empty() {
		t.Fatal("Empty() = false after mode switch, want true (pending item dropped)")
	}
}

// TestSwitchMode_NoOpOnExactMatch checks that switching to the same mode
// and capacity is a no-op that preserves pending items.
func TestSwitchMode_NoOpOnExactMatch(t *testing.T) {
	b := New(Buffered, 4)
	if err := b.Add(msg(t, "a"), 0); err != nil {
		t.Fatalf("Add: %v", err)
	}

	b.SwitchMode(Buffered, 4)

	if b.Empty() {
		t.Fatal("Empty() = true after same-mode switch, want false (item preserved)")
	}
}
