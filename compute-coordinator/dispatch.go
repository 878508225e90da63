package compute_coordinator

import (
	"github.com/embereye/docpilot/metrics"
	"sort"
	"time"
)

func (c *Coordinator) enqueue(task *Task) {
	task.receivedAt = time.Now()
	pool := route(task.Kind)
	c.queues[pool] = append(c.queues[pool], task)
	c.sortQueue(pool)
}

// stable sort: priority order first, insertion order among equals
func (c *Coordinator) sortQueue(pool PoolKind) {
	queue := c.queues[pool]
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Priority < queue[j].Priority
	})
}

// dispatch matches idle eligible workers against queue heads. Idempotent and
// cheap when nothing can move; called after every state change that could
// unblock work.
func (c *Coordinator) dispatch() {
	c.dispatchModel()
	c.dispatchGeneral()
}

// Model pool: one walk over the priority-sorted queue. A task whose document
// is pinned may only run on its pinned worker; if that worker is busy the
// task is skipped without blocking the scan. Unpinned tasks take any idle
// initialized worker not already claimed in this pass.
func (c *Coordinator) dispatchModel() {
	pool := c.pools[PK_Model]
	queue := c.queues[PK_Model]
	if len(queue) == 0 {
		return
	}

	claimed := make(map[string]bool)
	leftover := make([]*Task, 0, len(queue))

	for _, task := range queue {
		var target *workerHandle

		if workerId, pinned := c.pins[task.DocId]; pinned {
			handle := pool.byId(workerId)
			if handle != nil && handle.isIdle && handle.isInitialized && !claimed[handle.id] {
				target = handle
			}
		} else {
			for _, handle := range pool.workers {
				if handle.isIdle && handle.isInitialized && !claimed[handle.id] {
					target = handle
					break
				}
			}
			if target != nil && isStreaming(task.Kind) {
				// first streaming dispatch binds the document to this worker
				c.pins[task.DocId] = target.id
			}
		}

		if target == nil {
			leftover = append(leftover, task)
			continue
		}

		claimed[target.id] = true
		c.assign(target, task)
	}

	c.queues[PK_Model] = leftover
}

// General pool: one idle worker stays reserved for interactive requests.
// An Interactive task already queued bypasses the reservation, and the
// dispatcher recurses to drain all interactive work before the standard path,
// which never consumes the last idle worker.
func (c *Coordinator) dispatchGeneral() {
	pool := c.pools[PK_General]
	queue := c.queues[PK_General]
	if len(queue) == 0 {
		return
	}

	idle := pool.idleWorkers()
	if len(idle) == 0 {
		return
	}

	if queue[0].Priority == PRIO_Interactive {
		task := queue[0]
		c.queues[PK_General] = queue[1:]
		c.assign(idle[0], task)
		c.dispatchGeneral()
		return
	}

	for len(c.queues[PK_General]) > 0 {
		idle = pool.idleWorkers()
		if len(idle) <= 1 {
			return
		}
		task := c.queues[PK_General][0]
		if task.Priority == PRIO_Interactive {
			c.dispatchGeneral()
			return
		}
		c.queues[PK_General] = c.queues[PK_General][1:]
		c.assign(idle[0], task)
	}
}

func (c *Coordinator) assign(handle *workerHandle, task *Task) {
	handle.isIdle = false
	handle.currentTask = task
	handle.worker.Send(&WorkerRequest{Kind: RQ_StartTask, Task: task})

	metrics.Tick("coordinator.tasks-dispatched", 1)
	if c.logEnabled {
		c.lg.Info().
			Str("worker", handle.id).
			Str("task", task.Id).
			Str("kind", taskKindName(task.Kind)).
			Msg("task dispatched")
	}
}

// handleElevate promotes a still-queued layout task for docId to interactive
// priority and immediately re-dispatches. Used when the UI brings a document
// into view.
func (c *Coordinator) handleElevate(docId string) {
	elevated := false
	for _, task := range c.queues[PK_General] {
		if task.Kind == TK_RenderLayout && task.DocId == docId {
			task.Priority = PRIO_Interactive
			elevated = true
			break
		}
	}

	if !elevated {
		return
	}

	c.sortQueue(PK_General)
	c.dispatch()
}
