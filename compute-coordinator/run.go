package compute_coordinator

import (
	"os"
	"time"
)

// Run is the control goroutine. It processes one inbound message at a time to
// completion; that serialization is what lets the queues, the job registry and
// the pin table live without locks.
func (c *Coordinator) Run() {
	go func() {
		if c.settings.TermUI {
			c.ui()
			os.Exit(0)
		} else if c.settings.TopInterval > 0 {
			for {
				c.PrintTop()
				time.Sleep(c.settings.TopInterval)
			}
		}
	}()

	for {
		select {
		case cmd := <-c.commands:
			c.handleCommand(cmd)
		case msg := <-c.inbox:
			c.handleWorkerMessage(msg)
		}
	}
}

func (c *Coordinator) handleCommand(cmd *command) {
	switch cmd.kind {
	case cmdAddJob:
		c.handleAddJob(cmd.job, cmd.tasks)
	case cmdAddTasks:
		c.handleAddTasks(cmd.jobId, cmd.tasks)
	case cmdElevate:
		c.handleElevate(cmd.docId)
	case cmdSetWorkerCount:
		c.handleSetWorkerCount(cmd.count)
	case cmdSetLogging:
		c.handleSetLogging(cmd.logEnabled)
	case cmdSnapshot:
		cmd.snapshot <- c.buildTopString()
	}
}

func (c *Coordinator) handleWorkerMessage(msg *WorkerResponse) {
	switch msg.Kind {
	case RSP_Ready:
		c.handleWorkerReady(msg.WorkerId)
	case RSP_Initialized:
		c.handleWorkerInitialized(msg.WorkerId)
	case RSP_DeviceStatus:
		if handle, _ := c.findWorker(msg.WorkerId); handle != nil {
			handle.accelerated = msg.Accelerated
			c.emitComputeStatus()
		}
	case RSP_TaskCompleted:
		c.handleTaskCompleted(msg)
	case RSP_TaskFailed:
		c.handleTaskFailed(msg)
	case RSP_NeedSearch:
		c.handleNeedSearch(msg)
	case rspInitTimeout:
		c.handleInitTimeout(msg.WorkerId)
	}
}
