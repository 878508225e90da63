package events

import (
	"testing"
)

func TestSubscribersRunInRegistrationOrder(t *testing.T) {
	bus := NewBus()

	order := make([]int, 0, 3)
	bus.JobProgress.Subscribe(func(ev JobProgress) {
		order = append(order, 1)
	})
	bus.JobProgress.Subscribe(func(ev JobProgress) {
		order = append(order, 2)
	})
	bus.JobProgress.Subscribe(func(ev JobProgress) {
		order = append(order, 3)
	})

	bus.JobProgress.Publish(JobProgress{JobId: "j-1", Completed: 1, Total: 2})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected delivery order 1,2,3, got %v", order)
	}
}

func TestPanickingSubscriberDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()

	got := false
	bus.TaskFailed.Subscribe(func(ev TaskFailed) {
		panic("boom")
	})
	bus.TaskFailed.Subscribe(func(ev TaskFailed) {
		got = true
	})

	bus.TaskFailed.Publish(TaskFailed{JobId: "j-1", TaskId: "t-1", Error: "err"})

	if !got {
		t.Error("second subscriber did not run after first panicked")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	calls := 0
	unsubscribe := bus.TaskCompleted.Subscribe(func(ev TaskCompleted) {
		calls++
	})

	bus.TaskCompleted.Publish(TaskCompleted{TaskId: "t-1"})
	unsubscribe()
	bus.TaskCompleted.Publish(TaskCompleted{TaskId: "t-2"})

	if calls != 1 {
		t.Errorf("expected exactly one delivery, got %d", calls)
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	bus := NewBus()

	bus.SummaryCompleted.Publish(SummaryCompleted{DocId: "doc-1"})

	seen := 0
	bus.SummaryCompleted.Subscribe(func(ev SummaryCompleted) {
		seen++
	})

	if seen != 0 {
		t.Errorf("late subscriber saw %d replayed events", seen)
	}
}
