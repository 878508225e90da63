package batcher

import (
	"github.com/rs/zerolog"
	"sync"
	"testing"
	"time"
)

func TestFlushBySize(t *testing.T) {
	flushed := make(chan []int, 4)
	b := New[int](zerolog.Nop(), func(items []int) error {
		batch := make([]int, len(items))
		copy(batch, items)
		flushed <- batch
		return nil
	}, 3, time.Hour)
	defer b.Stop()

	for i := 0; i < 3; i++ {
		b.Add(i)
	}

	select {
	case batch := <-flushed:
		if len(batch) != 3 {
			t.Fatalf("expected a batch of 3, got %d", len(batch))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("size-triggered flush never happened")
	}
}

func TestFlushByAge(t *testing.T) {
	flushed := make(chan []string, 4)
	b := New[string](zerolog.Nop(), func(items []string) error {
		batch := make([]string, len(items))
		copy(batch, items)
		flushed <- batch
		return nil
	}, 100, 20*time.Millisecond)
	defer b.Stop()

	b.Add("only one")

	select {
	case batch := <-flushed:
		if len(batch) != 1 || batch[0] != "only one" {
			t.Fatalf("wrong batch: %v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("age-triggered flush never happened")
	}
}

func TestStopDrainsPending(t *testing.T) {
	var mu sync.Mutex
	total := 0
	done := make(chan struct{}, 1)
	b := New[int](zerolog.Nop(), func(items []int) error {
		mu.Lock()
		total += len(items)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}, 100, time.Hour)

	b.Add(1)
	b.Add(2)
	b.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not flush pending items")
	}
	mu.Lock()
	defer mu.Unlock()
	if total != 2 {
		t.Fatalf("expected 2 items flushed on stop, got %d", total)
	}
}
