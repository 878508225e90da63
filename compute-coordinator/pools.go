package compute_coordinator

import (
	"github.com/embereye/docpilot/events"
	"sync/atomic"
	"time"
)

type workerPool struct {
	kind    PoolKind
	workers []*workerHandle

	// Model pool only: ids awaiting their turn in the sequential init
	// protocol, and the id currently loading.
	initQueue    []string
	initializing string
}

func (p *workerPool) byId(workerId string) *workerHandle {
	for _, handle := range p.workers {
		if handle.id == workerId {
			return handle
		}
	}
	return nil
}

func (p *workerPool) idleWorkers() []*workerHandle {
	idle := make([]*workerHandle, 0, len(p.workers))
	for _, handle := range p.workers {
		if handle.isIdle && handle.isInitialized {
			idle = append(idle, handle)
		}
	}
	return idle
}

func (p *workerPool) removeFromInitQueue(workerId string) {
	for idx, queued := range p.initQueue {
		if queued == workerId {
			p.initQueue = append(p.initQueue[:idx], p.initQueue[idx+1:]...)
			return
		}
	}
}

// handleWorkerReady runs when a worker's process has started. General workers
// are born idle and initialized; Model workers enter the sequential init queue.
func (c *Coordinator) handleWorkerReady(workerId string) {
	handle, pool := c.findWorker(workerId)
	if handle == nil {
		c.lg.Warn().Str("worker", workerId).Msg("ready from unknown worker")
		return
	}

	if pool.kind == PK_General {
		handle.isIdle = true
		handle.isInitialized = true
		c.dispatch()
		return
	}

	pool.initQueue = append(pool.initQueue, workerId)
	c.maybeStartInit()
}

// maybeStartInit starts loading the next queued Model worker. Only one worker
// may be in its loading phase at a time.
func (c *Coordinator) maybeStartInit() {
	pool := c.pools[PK_Model]
	if pool.initializing != "" || len(pool.initQueue) == 0 {
		return
	}

	workerId := pool.initQueue[0]
	pool.initQueue = pool.initQueue[1:]
	handle := pool.byId(workerId)
	if handle == nil {
		// purged by a resize before its turn came up
		c.maybeStartInit()
		return
	}

	pool.initializing = workerId
	handle.worker.Send(&WorkerRequest{Kind: RQ_Initialize})
	c.lg.Info().Str("worker", workerId).Msg("worker initialization started")

	// watchdog: a worker that never reports initialized would stall the whole
	// init queue without this
	time.AfterFunc(c.settings.InitTimeout, func() {
		c.inbox <- &WorkerResponse{Kind: rspInitTimeout, WorkerId: workerId}
	})
}

func (c *Coordinator) handleWorkerInitialized(workerId string) {
	handle, pool := c.findWorker(workerId)
	if handle == nil {
		return
	}

	handle.isInitialized = true
	handle.isIdle = true
	if pool.initializing == workerId {
		pool.initializing = ""
	}

	c.lg.Info().Str("worker", workerId).Msg("worker initialized")
	c.maybeStartInit()
	c.emitComputeStatus()
	c.dispatch()
}

func (c *Coordinator) handleInitTimeout(workerId string) {
	handle, pool := c.findWorker(workerId)
	if handle == nil || handle.isInitialized {
		return
	}

	c.lg.Error().Str("worker", workerId).
		Dur("timeout", c.settings.InitTimeout).
		Msg("worker initialization timed out, removing worker")

	c.removeWorker(pool, handle)
	c.maybeStartInit()
	c.emitComputeStatus()
}

// handleSetWorkerCount resizes the Model pool. Shrinking removes the most
// recently added workers first; workers still waiting in the init queue are
// purged without ever receiving work.
func (c *Coordinator) handleSetWorkerCount(n int) {
	if n < 0 {
		n = 0
	}
	pool := c.pools[PK_Model]
	current := len(pool.workers)

	if n > current {
		for i := current; i < n; i++ {
			c.spawnWorker(PK_Model)
		}
	} else if n < current {
		removed := make([]*workerHandle, len(pool.workers[n:]))
		copy(removed, pool.workers[n:])
		for _, handle := range removed {
			c.removeWorker(pool, handle)
		}
		c.maybeStartInit()
	}

	c.emitComputeStatus()
	c.dispatch()
}

func (c *Coordinator) removeWorker(pool *workerPool, handle *workerHandle) {
	for idx, h := range pool.workers {
		if h == handle {
			pool.workers = append(pool.workers[:idx], pool.workers[idx+1:]...)
			break
		}
	}
	pool.removeFromInitQueue(handle.id)
	if pool.initializing == handle.id {
		pool.initializing = ""
	}

	handle.worker.Terminate()

	// release pins held by the removed worker; the affected documents'
	// streaming ingestion is failed rather than silently reassigned
	for docId, workerId := range c.pins {
		if workerId == handle.id {
			delete(c.pins, docId)
			c.failStreamingDoc(docId, handle.id)
		}
	}

	// an in-flight task on a terminated worker is not requeued, it is failed
	// so its job keeps making progress
	if handle.currentTask != nil {
		task := handle.currentTask
		handle.currentTask = nil
		c.handleTaskFailed(&WorkerResponse{
			Kind:     RSP_TaskFailed,
			WorkerId: handle.id,
			Task:     task,
			Error:    "worker terminated while task was in flight",
		})
	}

	c.lg.Info().Str("worker", handle.id).Msg("worker terminated")
}

// failStreamingDoc errors out every queued streaming task for docId, so its
// ingestion job completes on the error path and the caller learns about it.
func (c *Coordinator) failStreamingDoc(docId, workerId string) {
	queue := c.queues[PK_Model]
	remaining := make([]*Task, 0, len(queue))
	for _, task := range queue {
		if task.DocId == docId && isStreaming(task.Kind) {
			c.handleTaskFailed(&WorkerResponse{
				Kind:     RSP_TaskFailed,
				WorkerId: workerId,
				Task:     task,
				Error:    "pinned worker removed mid-stream",
			})
			continue
		}
		remaining = append(remaining, task)
	}
	c.queues[PK_Model] = remaining
}

func (c *Coordinator) findWorker(workerId string) (*workerHandle, *workerPool) {
	for _, pool := range c.pools {
		if handle := pool.byId(workerId); handle != nil {
			return handle, pool
		}
	}
	return nil, nil
}

func (c *Coordinator) handleSetLogging(enabled bool) {
	c.logEnabled = enabled
	for _, pool := range c.pools {
		for _, handle := range pool.workers {
			handle.worker.Send(&WorkerRequest{Kind: RQ_SetLogging, LoggingEnabled: enabled})
		}
	}
}

func (c *Coordinator) emitComputeStatus() {
	modelPool := c.pools[PK_Model]
	generalPool := c.pools[PK_General]

	modelUp := 0
	devices := make([]events.WorkerDevice, 0, len(modelPool.workers))
	for _, handle := range modelPool.workers {
		if handle.isInitialized {
			modelUp++
		}
		devices = append(devices, events.WorkerDevice{
			WorkerId:    handle.id,
			Accelerated: handle.accelerated,
		})
	}

	c.bus.ComputeStatus.Publish(events.ComputeStatus{
		ModelWorkers:   len(modelPool.workers),
		GeneralWorkers: len(generalPool.workers),
		ModelWorkersUp: modelUp,
		Devices:        devices,
		QueuedModel:    len(c.queues[PK_Model]),
		QueuedGeneral:  len(c.queues[PK_General]),
		ActiveJobs:     int(atomic.LoadInt64(&c.activeJobs)),
	})
}
