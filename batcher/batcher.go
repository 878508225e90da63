package batcher

import (
	"github.com/rs/zerolog"
	"sync"
	"time"
)

// Batcher coalesces individual items into bulk flushes, by size or by age,
// whichever comes first. Used for write paths where per-item round trips are
// too expensive, embedding cache inserts being the main one.
type Batcher[T any] struct {
	lg       zerolog.Logger
	flush    func([]T) error
	items    chan T
	quit     chan struct{}
	quitOnce sync.Once
	maxBatch int
	maxDelay time.Duration
}

func New[T any](lg zerolog.Logger, flush func([]T) error, maxBatch int, maxDelay time.Duration) *Batcher[T] {
	b := &Batcher[T]{
		lg:       lg,
		flush:    flush,
		items:    make(chan T, maxBatch*4),
		quit:     make(chan struct{}),
		maxBatch: maxBatch,
		maxDelay: maxDelay,
	}
	go b.run()
	return b
}

// Add never blocks longer than the flush in progress; items submitted after
// Stop are dropped.
func (b *Batcher[T]) Add(item T) {
	select {
	case b.items <- item:
	case <-b.quit:
	}
}

// Stop flushes whatever is pending and shuts the background goroutine down.
func (b *Batcher[T]) Stop() {
	b.quitOnce.Do(func() {
		close(b.quit)
	})
}

func (b *Batcher[T]) run() {
	pending := make([]T, 0, b.maxBatch)
	timer := time.NewTimer(b.maxDelay)
	defer timer.Stop()

	doFlush := func() {
		if len(pending) == 0 {
			return
		}
		if err := b.flush(pending); err != nil {
			b.lg.Error().Err(err).Int("batch", len(pending)).Msg("batch flush failed")
		}
		pending = make([]T, 0, b.maxBatch)
	}

	for {
		select {
		case <-b.quit:
			// drain what was queued before the stop
			for {
				select {
				case item := <-b.items:
					pending = append(pending, item)
				default:
					doFlush()
					return
				}
			}
		case item := <-b.items:
			pending = append(pending, item)
			if len(pending) >= b.maxBatch {
				doFlush()
				timer.Reset(b.maxDelay)
			}
		case <-timer.C:
			doFlush()
			timer.Reset(b.maxDelay)
		}
	}
}
