package compute_coordinator

import (
	"fmt"
	"github.com/embereye/docpilot/events"
	"github.com/embereye/docpilot/metrics"
	"github.com/embereye/docpilot/retrieval"
	"sync/atomic"
	"time"
)

func (c *Coordinator) handleAddJob(job *Job, tasks []*Task) {
	c.jobs[job.Id] = job
	if !job.Temporary {
		atomic.AddInt64(&c.activeJobs, 1)
	}

	if job.Kind == JK_Summary {
		c.bus.SummaryStarted.Publish(events.SummaryStarted{DocId: job.DocId, JobId: job.Id})
	}

	c.injectTasks(job, tasks)
	metrics.Tick("coordinator.jobs-added", 1)
	c.dispatch()
}

func (c *Coordinator) handleAddTasks(jobId string, tasks []*Task) {
	job, ok := c.jobs[jobId]
	if !ok {
		c.lg.Warn().Str("job", jobId).Msg("tasks for unknown job dropped")
		return
	}
	c.injectTasks(job, tasks)
	c.dispatch()
}

func (c *Coordinator) injectTasks(job *Job, tasks []*Task) {
	for _, task := range tasks {
		task.JobId = job.Id
		if task.DocId == "" {
			task.DocId = job.DocId
		}
		job.pending[task.Id] = struct{}{}
		job.TotalTasks++
		c.enqueue(task)
	}
}

func (c *Coordinator) handleTaskCompleted(msg *WorkerResponse) {
	handle, _ := c.findWorker(msg.WorkerId)
	if handle != nil {
		handle.isIdle = true
		handle.currentTask = nil
	}

	task := msg.Task
	job, ok := c.jobs[task.JobId]
	if !ok {
		c.lg.Warn().Str("job", task.JobId).Str("task", task.Id).
			Msg("completion for unknown job")
		c.dispatch()
		return
	}
	if _, isPending := job.pending[task.Id]; !isPending {
		// already resolved, e.g. failed when its worker was removed mid-flight
		c.lg.Warn().Str("job", task.JobId).Str("task", task.Id).
			Msg("completion for already resolved task dropped")
		c.dispatch()
		return
	}

	metrics.Tick("coordinator.tasks-completed", 1)
	c.bus.TaskCompleted.Publish(events.TaskCompleted{
		JobId:   task.JobId,
		TaskId:  task.Id,
		Kind:    int(task.Kind),
		DocId:   task.DocId,
		Elapsed: time.Since(task.receivedAt).Microseconds(),
	})

	// kind-specific post-processing runs before generic bookkeeping: it may
	// grow the job's pending set with follow-up tasks
	c.applyResult(job, task, msg.Result)
	c.finishTask(job, task.Id)
	c.dispatch()
}

func (c *Coordinator) handleTaskFailed(msg *WorkerResponse) {
	handle, _ := c.findWorker(msg.WorkerId)
	if handle != nil && handle.currentTask == msg.Task {
		handle.isIdle = true
		handle.currentTask = nil
	}

	task := msg.Task
	job, ok := c.jobs[task.JobId]
	if !ok {
		c.dispatch()
		return
	}
	if _, isPending := job.pending[task.Id]; !isPending {
		c.lg.Warn().Str("job", task.JobId).Str("task", task.Id).
			Msg("failure for already resolved task dropped")
		c.dispatch()
		return
	}

	metrics.Tick("coordinator.tasks-failed", 1)
	c.bus.TaskFailed.Publish(events.TaskFailed{
		JobId:  task.JobId,
		TaskId: task.Id,
		Kind:   int(task.Kind),
		DocId:  task.DocId,
		Error:  msg.Error,
	})

	// an errored task still counts as resolved, so the job cannot hang
	job.failed = true
	job.payload.Errors = append(job.payload.Errors,
		fmt.Sprintf("%s: %s", taskKindName(task.Kind), msg.Error))

	if job.Kind == JK_Summary {
		c.bus.SummaryFailed.Publish(events.SummaryFailed{
			DocId: job.DocId,
			JobId: job.Id,
			Error: msg.Error,
		})
	}

	c.finishTask(job, task.Id)
	c.dispatch()
}

// applyResult merges a task result into its job and synthesizes follow-up
// tasks for the multi-step pipelines.
func (c *Coordinator) applyResult(job *Job, task *Task, result *TaskResult) {
	if result == nil {
		return
	}

	switch task.Kind {
	case TK_SplitChunks:
		job.payload.Chunks = result.Chunks
		followUps := make([]*Task, 0, len(result.Chunks)+1)
		for _, chunk := range result.Chunks {
			followUps = append(followUps, NewTask(TK_EmbedChunk, task.Priority, task.DocId, chunk))
		}
		followUps = append(followUps, NewTask(TK_IndexEntities, task.Priority, task.DocId, task.Text))
		c.injectTasks(job, followUps)

	case TK_EmbedChunk:
		err := c.index.AddChunkEmbedding(&retrieval.ChunkEmbedding{
			DocId:   task.DocId,
			ChunkId: task.Id,
			Text:    task.Text,
			VecF64:  result.Vector,
		})
		if err != nil {
			c.lg.Error().Err(err).Str("doc", task.DocId).Msg("error adding chunk embedding to index")
			job.payload.Errors = append(job.payload.Errors, err.Error())
		} else {
			job.payload.Embedded++
		}

	case TK_GenerateQuery:
		job.payload.Query = result.Text
		c.injectTasks(job, []*Task{
			NewTask(TK_EmbedQuery, task.Priority, task.DocId, result.Text),
		})

	case TK_EmbedQuery:
		job.payload.Vector = result.Vector
		if job.Kind == JK_Summary {
			hits, err := c.index.Search(result.Vector, c.settings.EvidenceK)
			if err != nil {
				c.lg.Error().Err(err).Str("doc", task.DocId).Msg("evidence search failed")
				job.payload.Errors = append(job.payload.Errors, err.Error())
			}
			evidence := make([]string, 0, len(hits))
			for _, hit := range hits {
				evidence = append(evidence, hit.Text)
			}
			job.payload.Evidence = evidence

			summarize := NewTask(TK_Summarize, task.Priority, task.DocId, job.payload.Query)
			summarize.Passages = evidence
			c.injectTasks(job, []*Task{summarize})
		}

	case TK_Summarize:
		job.payload.Summary = result.Text
		c.bus.SummaryCompleted.Publish(events.SummaryCompleted{
			DocId:   job.DocId,
			JobId:   job.Id,
			Summary: result.Text,
		})

	case TK_RenderLayout:
		job.payload.Title = result.Title
		job.payload.Pages = result.Pages
		c.bus.LayoutReady.Publish(events.LayoutReady{DocId: task.DocId, Pages: result.Pages})

	case TK_DetectLanguage:
		job.payload.Language = result.Language

	case TK_IndexEntities:
		job.payload.Entities = result.Entities

	case TK_Rerank:
		job.payload.Evidence = result.Chunks

	case TK_StreamIngest:
		c.bus.ChunkAppended.Publish(events.ChunkAppended{
			DocId: task.DocId,
			Seq:   task.Seq,
			Text:  task.Text,
		})
		if len(result.Vector) > 0 {
			err := c.index.AddChunkEmbedding(&retrieval.ChunkEmbedding{
				DocId:   task.DocId,
				ChunkId: task.Id,
				Text:    task.Text,
				VecF64:  result.Vector,
			})
			if err != nil {
				c.lg.Error().Err(err).Str("doc", task.DocId).Msg("error adding streamed chunk to index")
			}
		}
		if task.Final {
			// the stream is explicitly complete, the pin can go
			delete(c.pins, task.DocId)
		}
	}
}

// finishTask is the generic bookkeeping applied to every resolved task,
// success or error.
func (c *Coordinator) finishTask(job *Job, taskId string) {
	job.CompletedTasks++
	delete(job.pending, taskId)

	c.bus.JobProgress.Publish(events.JobProgress{
		JobId:     job.Id,
		Name:      job.Name,
		Completed: job.CompletedTasks,
		Total:     job.TotalTasks,
	})

	if len(job.pending) > 0 {
		return
	}

	c.bus.JobCompleted.Publish(events.JobCompleted{
		JobId:   job.Id,
		Name:    job.Name,
		DocId:   job.DocId,
		Payload: job.payload,
		Failed:  job.failed,
	})

	delete(c.jobs, job.Id)
	if !job.Temporary {
		atomic.AddInt64(&c.activeJobs, -1)
	}
	metrics.Tick("coordinator.jobs-completed", 1)

	if job.onComplete != nil {
		job.onComplete(job.payload)
	}
}

// handleNeedSearch serves a general worker that needs an embedding plus
// similarity lookup it cannot perform itself: the query is embedded through a
// temporary adhoc job and the hits go back over the callback channel.
func (c *Coordinator) handleNeedSearch(msg *WorkerResponse) {
	search := msg.Search
	job := &Job{
		Id:        msg.WorkerId + "-search-" + fmt.Sprintf("%d", time.Now().UnixNano()),
		Name:      "_temp: need-search",
		Kind:      JK_Adhoc,
		Temporary: true,
		pending:   make(map[string]struct{}),
	}
	job.onComplete = func(payload JobPayload) {
		if len(payload.Vector) == 0 {
			search.Reply <- nil
			return
		}
		hits, err := c.index.Search(payload.Vector, search.K)
		if err != nil {
			c.lg.Error().Err(err).Msg("need-search lookup failed")
		}
		search.Reply <- hits
	}

	c.jobs[job.Id] = job
	c.injectTasks(job, []*Task{
		NewTask(TK_EmbedQuery, PRIO_Interactive, "", search.Query),
	})
	c.dispatch()
}
