package events

import (
	zlog "github.com/rs/zerolog/log"
	"sync"
)

// Every event name is bound to exactly one payload type via its Feed field
// on the Bus. Delivery is synchronous, in subscription order, with no replay.

type TaskCompleted struct {
	JobId   string
	TaskId  string
	Kind    int
	DocId   string
	Elapsed int64 // microseconds
}

type TaskFailed struct {
	JobId  string
	TaskId string
	Kind   int
	DocId  string
	Error  string
}

type JobProgress struct {
	JobId     string
	Name      string
	Completed int
	Total     int
}

type JobCompleted struct {
	JobId   string
	Name    string
	DocId   string
	Payload interface{}
	Failed  bool
}

type WorkerDevice struct {
	WorkerId    string
	Accelerated bool
}

type ComputeStatus struct {
	ModelWorkers    int
	GeneralWorkers  int
	ModelWorkersUp  int
	Devices         []WorkerDevice
	QueuedModel     int
	QueuedGeneral   int
	ActiveJobs      int
}

type LayoutReady struct {
	DocId string
	Pages []string
}

type SummaryStarted struct {
	DocId string
	JobId string
}

type SummaryCompleted struct {
	DocId   string
	JobId   string
	Summary string
}

type SummaryFailed struct {
	DocId string
	JobId string
	Error string
}

type ChunkAppended struct {
	DocId string
	Seq   int
	Text  string
}

type TokenUsage struct {
	Process string
	Prompt  int
	Emitted int
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

type Feed[T any] struct {
	mu     sync.Mutex
	nextId int
	subs   []subscriber[T]
}

// Subscribe registers fn and returns an unsubscribe function. A subscriber
// attached after an event fired will not see it.
func (f *Feed[T]) Subscribe(fn func(T)) func() {
	f.mu.Lock()
	f.nextId++
	id := f.nextId
	f.subs = append(f.subs, subscriber[T]{id: id, fn: fn})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		for idx, sub := range f.subs {
			if sub.id == id {
				f.subs = append(f.subs[:idx], f.subs[idx+1:]...)
				break
			}
		}
		f.mu.Unlock()
	}
}

// Publish delivers ev to every subscriber in registration order. A panicking
// subscriber is logged and must not stop delivery to the rest.
func (f *Feed[T]) Publish(ev T) {
	f.mu.Lock()
	subs := make([]subscriber[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					zlog.Error().Interface("panic", r).Msg("event subscriber panicked")
				}
			}()
			sub.fn(ev)
		}()
	}
}

type Bus struct {
	TaskCompleted    Feed[TaskCompleted]
	TaskFailed       Feed[TaskFailed]
	JobProgress      Feed[JobProgress]
	JobCompleted     Feed[JobCompleted]
	ComputeStatus    Feed[ComputeStatus]
	LayoutReady      Feed[LayoutReady]
	SummaryStarted   Feed[SummaryStarted]
	SummaryCompleted Feed[SummaryCompleted]
	SummaryFailed    Feed[SummaryFailed]
	ChunkAppended    Feed[ChunkAppended]
	TokenUsage       Feed[TokenUsage]
}

func NewBus() *Bus {
	return &Bus{}
}
