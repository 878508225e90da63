package compute_coordinator

import (
	"github.com/embereye/docpilot/events"
	"github.com/embereye/docpilot/retrieval"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"strings"
	"testing"
	"time"
)

type fakeWorker struct {
	id         string
	pool       PoolKind
	requests   []*WorkerRequest
	terminated bool
}

func (w *fakeWorker) Id() string              { return w.id }
func (w *fakeWorker) Send(req *WorkerRequest) { w.requests = append(w.requests, req) }
func (w *fakeWorker) Terminate()              { w.terminated = true }

func (w *fakeWorker) startedTasks() []*Task {
	tasks := make([]*Task, 0, len(w.requests))
	for _, req := range w.requests {
		if req.Kind == RQ_StartTask {
			tasks = append(tasks, req.Task)
		}
	}
	return tasks
}

func (w *fakeWorker) lastStarted() *Task {
	tasks := w.startedTasks()
	if len(tasks) == 0 {
		return nil
	}
	return tasks[len(tasks)-1]
}

type fakeIndex struct {
	added   []*retrieval.ChunkEmbedding
	hits    []retrieval.SearchHit
	lastK   int
	queries [][]float64
}

func (f *fakeIndex) EnsureCollection(params *retrieval.CollectionParameters) error { return nil }
func (f *fakeIndex) AddChunkEmbedding(chunk *retrieval.ChunkEmbedding) error {
	f.added = append(f.added, chunk)
	return nil
}
func (f *fakeIndex) Search(vector []float64, k int) ([]retrieval.SearchHit, error) {
	f.queries = append(f.queries, vector)
	f.lastK = k
	return f.hits, nil
}

type harness struct {
	c       *Coordinator
	index   *fakeIndex
	workers map[string]*fakeWorker
	order   []string
}

// newHarness builds a coordinator whose workers are scripted fakes; tests
// drive its handlers directly, on the test goroutine, so every scenario is
// deterministic without Run() being involved.
func newHarness(modelWorkers, generalWorkers int) *harness {
	h := &harness{
		index:   &fakeIndex{},
		workers: make(map[string]*fakeWorker),
	}
	launcher := func(pool PoolKind, id string, inbox chan<- *WorkerResponse) Worker {
		w := &fakeWorker{id: id, pool: pool}
		h.workers[id] = w
		h.order = append(h.order, id)
		return w
	}
	h.c = NewCoordinator(zerolog.Nop(), events.NewBus(), h.index, launcher, &Settings{
		ModelWorkers:   modelWorkers,
		GeneralWorkers: generalWorkers,
		InitTimeout:    time.Hour,
	})
	return h
}

// bootAll walks every worker through the startup protocol: general workers
// report ready, model workers go ready and then through the sequential init.
func (h *harness) bootAll() {
	for _, id := range h.order {
		h.c.handleWorkerReady(id)
	}
	pool := h.c.pools[PK_Model]
	for pool.initializing != "" {
		h.c.handleWorkerInitialized(pool.initializing)
	}
}

func (h *harness) addJob(name string, kind JobKind, docId string, temporary bool, tasks []*Task) *Job {
	job := &Job{
		Id:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		DocId:     docId,
		Temporary: temporary,
		pending:   make(map[string]struct{}),
	}
	h.c.handleAddJob(job, tasks)
	return job
}

func (h *harness) complete(workerId string, task *Task, result *TaskResult) {
	h.c.handleTaskCompleted(&WorkerResponse{
		Kind:     RSP_TaskCompleted,
		WorkerId: workerId,
		Task:     task,
		Result:   result,
	})
}

func (h *harness) fail(workerId string, task *Task, errText string) {
	h.c.handleTaskFailed(&WorkerResponse{
		Kind:     RSP_TaskFailed,
		WorkerId: workerId,
		Task:     task,
		Error:    errText,
	})
}

func (h *harness) startedCount() int {
	total := 0
	for _, w := range h.workers {
		total += len(w.startedTasks())
	}
	return total
}

func TestIngestionChainingCompletesOnce(t *testing.T) {
	h := newHarness(2, 2)
	h.bootAll()

	var completions []events.JobCompleted
	h.c.Bus().JobCompleted.Subscribe(func(ev events.JobCompleted) {
		completions = append(completions, ev)
	})

	split := NewTask(TK_SplitChunks, PRIO_Primary, "doc-1", "full document body")
	job := h.addJob("Ingestion: doc-1", JK_Ingestion, "doc-1", false, []*Task{split})

	if h.c.ActiveJobs() != 1 {
		t.Fatalf("expected 1 active job, got %d", h.c.ActiveJobs())
	}

	modelWorker := h.workers[h.order[2]]
	if got := modelWorker.lastStarted(); got == nil || got.Id != split.Id {
		t.Fatalf("split task was not dispatched to the first model worker")
	}

	h.complete(modelWorker.id, split, &TaskResult{Chunks: []string{"c0", "c1", "c2"}})

	// the split fans out into three embeddings plus one entity pass
	if job.TotalTasks != 5 {
		t.Fatalf("expected 5 total tasks after fan-out, got %d", job.TotalTasks)
	}
	if len(completions) != 0 {
		t.Fatalf("job completed while follow-up tasks were pending")
	}

	for h.startedCount() < 5 {
		drained := false
		for _, w := range h.workers {
			task := w.lastStarted()
			if task == nil {
				continue
			}
			handle, _ := h.c.findWorker(w.id)
			if handle.currentTask == nil {
				continue
			}
			drained = true
			switch task.Kind {
			case TK_EmbedChunk:
				h.complete(w.id, task, &TaskResult{Vector: []float64{0.1, 0.2}})
			case TK_IndexEntities:
				h.complete(w.id, task, &TaskResult{Entities: []string{"acme"}})
			}
		}
		if !drained {
			t.Fatalf("dispatch stalled with %d of 5 tasks started", h.startedCount())
		}
	}

	// resolve whatever is still in flight
	for _, w := range h.workers {
		handle, _ := h.c.findWorker(w.id)
		if handle.currentTask != nil {
			task := handle.currentTask
			switch task.Kind {
			case TK_EmbedChunk:
				h.complete(w.id, task, &TaskResult{Vector: []float64{0.1, 0.2}})
			case TK_IndexEntities:
				h.complete(w.id, task, &TaskResult{Entities: []string{"acme"}})
			}
		}
	}

	if len(completions) != 1 {
		t.Fatalf("expected exactly one job completion, got %d", len(completions))
	}
	if completions[0].Failed {
		t.Fatalf("clean run reported as failed")
	}
	payload := completions[0].Payload.(JobPayload)
	if payload.Embedded != 3 {
		t.Errorf("expected 3 embedded chunks in payload, got %d", payload.Embedded)
	}
	if len(h.index.added) != 3 {
		t.Errorf("expected 3 chunks in the index, got %d", len(h.index.added))
	}
	if h.c.ActiveJobs() != 0 {
		t.Errorf("active job counter not decremented, got %d", h.c.ActiveJobs())
	}
}

func TestStreamingPinExclusivity(t *testing.T) {
	h := newHarness(2, 2)
	h.bootAll()

	first := NewTask(TK_StreamIngest, PRIO_Primary, "doc-s", "chunk 0")
	second := NewTask(TK_StreamIngest, PRIO_Primary, "doc-s", "chunk 1")
	h.addJob("Ingestion: doc-s", JK_Ingestion, "doc-s", false, []*Task{first, second})

	pinnedId, pinned := h.c.pins["doc-s"]
	if !pinned {
		t.Fatalf("first streaming dispatch did not create a pin")
	}
	pinnedWorker := h.workers[pinnedId]
	if got := pinnedWorker.lastStarted(); got == nil || got.Id != first.Id {
		t.Fatalf("first chunk not running on the pinned worker")
	}

	// the second chunk must wait for the pinned worker even though another
	// model worker sits idle
	if len(h.c.queues[PK_Model]) != 1 {
		t.Fatalf("second chunk should be queued, queue has %d tasks", len(h.c.queues[PK_Model]))
	}
	for id, w := range h.workers {
		if id != pinnedId && len(w.startedTasks()) != 0 {
			t.Fatalf("chunk for a pinned document ran on worker %s", id)
		}
	}

	h.complete(pinnedId, first, &TaskResult{Vector: []float64{0.5}})

	if got := pinnedWorker.lastStarted(); got == nil || got.Id != second.Id {
		t.Fatalf("second chunk did not follow the pin to worker %s", pinnedId)
	}
}

func TestStreamFinalReleasesPin(t *testing.T) {
	h := newHarness(1, 2)
	h.bootAll()

	final := NewTask(TK_StreamIngest, PRIO_Primary, "doc-f", "last chunk")
	final.Final = true
	h.addJob("Ingestion: doc-f", JK_Ingestion, "doc-f", false, []*Task{final})

	if _, pinned := h.c.pins["doc-f"]; !pinned {
		t.Fatalf("streaming dispatch did not pin the document")
	}

	modelId := h.order[2]
	h.complete(modelId, final, &TaskResult{Vector: []float64{0.9}})

	if _, pinned := h.c.pins["doc-f"]; pinned {
		t.Fatalf("pin survived the final chunk")
	}
}

func TestGeneralPoolReservation(t *testing.T) {
	h := newHarness(0, 2)
	h.bootAll()

	tasks := []*Task{
		NewTask(TK_DetectLanguage, PRIO_Background, "doc-a", "text a"),
		NewTask(TK_DetectLanguage, PRIO_Background, "doc-b", "text b"),
		NewTask(TK_DetectLanguage, PRIO_Background, "doc-c", "text c"),
	}
	h.addJob("batch", JK_Adhoc, "", false, tasks)

	// two idle workers, but the last one is reserved for interactive work
	if h.startedCount() != 1 {
		t.Fatalf("expected 1 background task dispatched, got %d", h.startedCount())
	}

	interactive := NewTask(TK_RenderLayout, PRIO_Interactive, "doc-v", "viewed doc")
	h.addJob("Layout: doc-v", JK_Layout, "doc-v", false, []*Task{interactive})

	if h.startedCount() != 2 {
		t.Fatalf("interactive task was not dispatched to the reserved worker")
	}
	dispatched := false
	for _, w := range h.workers {
		if got := w.lastStarted(); got != nil && got.Id == interactive.Id {
			dispatched = true
		}
	}
	if !dispatched {
		t.Fatalf("interactive task not found on any worker")
	}
}

func TestElevatePromotesQueuedLayout(t *testing.T) {
	h := newHarness(0, 2)
	h.bootAll()

	background := []*Task{
		NewTask(TK_DetectLanguage, PRIO_Background, "doc-a", "a"),
		NewTask(TK_DetectLanguage, PRIO_Background, "doc-b", "b"),
		NewTask(TK_DetectLanguage, PRIO_Background, "doc-c", "c"),
	}
	layout := NewTask(TK_RenderLayout, PRIO_Background, "doc-v", "viewed")
	h.addJob("batch", JK_Adhoc, "", false, append(background, layout))

	if h.startedCount() != 1 {
		t.Fatalf("expected only 1 task running before elevation, got %d", h.startedCount())
	}

	h.c.handleElevate("doc-v")

	if layout.Priority != PRIO_Interactive {
		t.Fatalf("layout priority not mutated in place")
	}
	elevated := false
	for _, w := range h.workers {
		if got := w.lastStarted(); got != nil && got.Id == layout.Id {
			elevated = true
		}
	}
	if !elevated {
		t.Fatalf("elevated layout task was not dispatched ahead of queued work")
	}
	// the remaining background tasks are still behind the reservation
	if len(h.c.queues[PK_General]) != 2 {
		t.Errorf("expected 2 background tasks still queued, got %d", len(h.c.queues[PK_General]))
	}
}

func TestElevateUnknownDocIsNoop(t *testing.T) {
	h := newHarness(0, 2)
	h.bootAll()

	task := NewTask(TK_DetectLanguage, PRIO_Background, "doc-a", "a")
	h.addJob("batch", JK_Adhoc, "", false, []*Task{task})
	before := h.startedCount()

	h.c.handleElevate("doc-missing")

	if h.startedCount() != before {
		t.Fatalf("no-op elevation changed dispatch state")
	}
}

func TestResizeDownRemovesMostRecent(t *testing.T) {
	h := newHarness(4, 2)
	h.bootAll()

	h.c.handleSetWorkerCount(2)

	pool := h.c.pools[PK_Model]
	if len(pool.workers) != 2 {
		t.Fatalf("expected 2 model workers after shrink, got %d", len(pool.workers))
	}
	// spawn order: general-1, general-2, model-3..model-6
	for _, id := range []string{h.order[4], h.order[5]} {
		if !h.workers[id].terminated {
			t.Errorf("most recent worker %s was not terminated", id)
		}
	}
	for _, id := range []string{h.order[2], h.order[3]} {
		if h.workers[id].terminated {
			t.Errorf("older worker %s was terminated", id)
		}
	}
}

func TestResizeDownPurgesInitQueue(t *testing.T) {
	h := newHarness(3, 2)
	for _, id := range h.order {
		h.c.handleWorkerReady(id)
	}
	pool := h.c.pools[PK_Model]
	if pool.initializing == "" || len(pool.initQueue) != 2 {
		t.Fatalf("unexpected init state: initializing=%q queue=%d", pool.initializing, len(pool.initQueue))
	}

	h.c.handleSetWorkerCount(1)

	if len(pool.initQueue) != 0 {
		t.Fatalf("init queue not purged on shrink, %d entries left", len(pool.initQueue))
	}
	if len(pool.workers) != 1 || pool.workers[0].id != h.order[2] {
		t.Fatalf("shrink did not keep the oldest model worker")
	}
}

func TestInitTimeoutAdvancesQueue(t *testing.T) {
	h := newHarness(2, 2)
	for _, id := range h.order {
		h.c.handleWorkerReady(id)
	}
	pool := h.c.pools[PK_Model]
	stalled := pool.initializing

	h.c.handleInitTimeout(stalled)

	if !h.workers[stalled].terminated {
		t.Fatalf("timed-out worker was not terminated")
	}
	if pool.initializing == "" || pool.initializing == stalled {
		t.Fatalf("init queue did not advance past the stalled worker")
	}
	next := h.workers[pool.initializing]
	gotInit := false
	for _, req := range next.requests {
		if req.Kind == RQ_Initialize {
			gotInit = true
		}
	}
	if !gotInit {
		t.Fatalf("next worker never received its initialize request")
	}
}

func TestWorkerRemovalFailsStreamingJob(t *testing.T) {
	h := newHarness(1, 2)
	h.bootAll()

	var failures []events.TaskFailed
	h.c.Bus().TaskFailed.Subscribe(func(ev events.TaskFailed) {
		failures = append(failures, ev)
	})
	var completions []events.JobCompleted
	h.c.Bus().JobCompleted.Subscribe(func(ev events.JobCompleted) {
		completions = append(completions, ev)
	})

	inFlight := NewTask(TK_StreamIngest, PRIO_Primary, "doc-s", "chunk 0")
	queued := NewTask(TK_StreamIngest, PRIO_Primary, "doc-s", "chunk 1")
	h.addJob("Ingestion: doc-s", JK_Ingestion, "doc-s", false, []*Task{inFlight, queued})

	h.c.handleSetWorkerCount(0)

	if _, pinned := h.c.pins["doc-s"]; pinned {
		t.Fatalf("pin survived worker removal")
	}
	if len(failures) != 2 {
		t.Fatalf("expected both stream chunks failed, got %d failures", len(failures))
	}
	if len(completions) != 1 || !completions[0].Failed {
		t.Fatalf("streaming job did not complete on the error path")
	}
	if h.c.ActiveJobs() != 0 {
		t.Errorf("active job counter not decremented after forced failure")
	}
	if len(h.c.queues[PK_Model]) != 0 {
		t.Errorf("failed streaming tasks left in the queue")
	}
}

func TestBelatedCompletionAfterRemovalIsIgnored(t *testing.T) {
	h := newHarness(1, 2)
	h.bootAll()

	var completions []events.JobCompleted
	h.c.Bus().JobCompleted.Subscribe(func(ev events.JobCompleted) {
		completions = append(completions, ev)
	})

	split := NewTask(TK_SplitChunks, PRIO_Primary, "doc-1", "full body")
	detect := NewTask(TK_DetectLanguage, PRIO_Primary, "doc-1", "full body")
	job := h.addJob("Ingestion: doc-1", JK_Ingestion, "doc-1", false, []*Task{split, detect})

	modelId := h.order[2]
	// shrinking the pool synthesizes a failure for the in-flight split
	h.c.handleSetWorkerCount(0)
	if job.CompletedTasks != 1 {
		t.Fatalf("synthesized failure did not resolve the split, completed=%d", job.CompletedTasks)
	}

	// the removed worker had actually finished; its response arrives late and
	// must not resolve the split a second time or fan out follow-up work
	h.complete(modelId, split, &TaskResult{Chunks: []string{"c0", "c1", "c2"}})

	if job.TotalTasks != 2 {
		t.Fatalf("stale completion fanned out follow-up tasks, total=%d", job.TotalTasks)
	}
	if job.CompletedTasks != 1 {
		t.Fatalf("stale completion double-counted, completed=%d", job.CompletedTasks)
	}
	if len(h.c.queues[PK_Model]) != 0 {
		t.Fatalf("stale completion queued model work")
	}
	if len(completions) != 0 {
		t.Fatalf("job completed while the language task was pending")
	}

	h.complete(h.order[0], detect, &TaskResult{Language: "en"})
	if len(completions) != 1 || !completions[0].Failed {
		t.Fatalf("expected exactly one failed completion, got %+v", completions)
	}
	if job.CompletedTasks != 2 {
		t.Errorf("expected 2 resolved tasks, got %d", job.CompletedTasks)
	}
}

func TestTaskFailureStillCompletesJob(t *testing.T) {
	h := newHarness(0, 3)
	h.bootAll()

	var failures []events.TaskFailed
	h.c.Bus().TaskFailed.Subscribe(func(ev events.TaskFailed) {
		failures = append(failures, ev)
	})
	var completions []events.JobCompleted
	h.c.Bus().JobCompleted.Subscribe(func(ev events.JobCompleted) {
		completions = append(completions, ev)
	})

	good := NewTask(TK_DetectLanguage, PRIO_Primary, "doc-1", "body")
	bad := NewTask(TK_IndexEntities, PRIO_Primary, "doc-1", "body")
	h.addJob("Ingestion: doc-1", JK_Ingestion, "doc-1", false, []*Task{good, bad})

	byTask := make(map[string]string)
	for id, w := range h.workers {
		if task := w.lastStarted(); task != nil {
			byTask[task.Id] = id
		}
	}

	h.complete(byTask[good.Id], good, &TaskResult{Language: "en"})
	h.fail(byTask[bad.Id], bad, "model backend unreachable")

	if len(failures) != 1 || failures[0].Error != "model backend unreachable" {
		t.Fatalf("task failure event missing or wrong: %+v", failures)
	}
	if len(completions) != 1 {
		t.Fatalf("job with a failed task must still complete, got %d completions", len(completions))
	}
	if !completions[0].Failed {
		t.Fatalf("completion not flagged as failed")
	}
	payload := completions[0].Payload.(JobPayload)
	if payload.Language != "en" {
		t.Errorf("successful task result lost, language=%q", payload.Language)
	}
	if len(payload.Errors) != 1 {
		t.Errorf("expected 1 recorded error, got %d", len(payload.Errors))
	}
	if h.c.ActiveJobs() != 0 {
		t.Errorf("active job counter stuck at %d", h.c.ActiveJobs())
	}
}

func TestSummaryPipelineChaining(t *testing.T) {
	h := newHarness(1, 2)
	h.bootAll()
	h.index.hits = []retrieval.SearchHit{
		{ChunkId: "c1", DocId: "doc-q", Text: "passage one", Score: 0.9},
		{ChunkId: "c2", DocId: "doc-q", Text: "passage two", Score: 0.7},
	}

	var started []events.SummaryStarted
	h.c.Bus().SummaryStarted.Subscribe(func(ev events.SummaryStarted) {
		started = append(started, ev)
	})
	var summaries []events.SummaryCompleted
	h.c.Bus().SummaryCompleted.Subscribe(func(ev events.SummaryCompleted) {
		summaries = append(summaries, ev)
	})
	var completions []events.JobCompleted
	h.c.Bus().JobCompleted.Subscribe(func(ev events.JobCompleted) {
		completions = append(completions, ev)
	})

	generate := NewTask(TK_GenerateQuery, PRIO_Primary, "doc-q", "document body")
	h.addJob("Summary: doc-q", JK_Summary, "doc-q", false, []*Task{generate})

	if len(started) != 1 || started[0].DocId != "doc-q" {
		t.Fatalf("summary-started event not published on job registration")
	}

	generalWorker := h.workers[h.order[0]]
	if got := generalWorker.lastStarted(); got == nil || got.Kind != TK_GenerateQuery {
		t.Fatalf("generate-query not dispatched to the general pool")
	}
	h.complete(generalWorker.id, generate, &TaskResult{Text: "what is the doc about"})

	modelWorker := h.workers[h.order[2]]
	embed := modelWorker.lastStarted()
	if embed == nil || embed.Kind != TK_EmbedQuery {
		t.Fatalf("embed-query not chained onto the model pool")
	}
	if embed.Text != "what is the doc about" {
		t.Fatalf("embed-query did not carry the generated query text")
	}
	h.complete(modelWorker.id, embed, &TaskResult{Vector: []float64{0.1, 0.2, 0.3}})

	if h.index.lastK != 8 {
		t.Fatalf("evidence search used k=%d, expected the default of 8", h.index.lastK)
	}

	summarize := generalWorker.lastStarted()
	if summarize == nil || summarize.Kind != TK_Summarize {
		t.Fatalf("summarize not chained after evidence retrieval")
	}
	if len(summarize.Passages) != 2 || summarize.Passages[0] != "passage one" {
		t.Fatalf("evidence passages not attached to the summarize task: %v", summarize.Passages)
	}
	h.complete(generalWorker.id, summarize, &TaskResult{Text: "a fine summary"})

	if len(summaries) != 1 || summaries[0].Summary != "a fine summary" {
		t.Fatalf("summary-completed event missing or wrong")
	}
	if len(completions) != 1 {
		t.Fatalf("summary job did not complete")
	}
	payload := completions[0].Payload.(JobPayload)
	if payload.Query != "what is the doc about" || payload.Summary != "a fine summary" {
		t.Errorf("payload missing pipeline results: %+v", payload)
	}
}

func TestSummaryFailurePublishesEvent(t *testing.T) {
	h := newHarness(0, 2)
	h.bootAll()

	var failed []events.SummaryFailed
	h.c.Bus().SummaryFailed.Subscribe(func(ev events.SummaryFailed) {
		failed = append(failed, ev)
	})

	generate := NewTask(TK_GenerateQuery, PRIO_Primary, "doc-q", "body")
	h.addJob("Summary: doc-q", JK_Summary, "doc-q", false, []*Task{generate})

	generalWorker := h.workers[h.order[0]]
	h.fail(generalWorker.id, generate, "completion backend down")

	if len(failed) != 1 || failed[0].Error != "completion backend down" {
		t.Fatalf("summary-failed event missing or wrong: %+v", failed)
	}
}

func TestTemporaryJobSkipsActiveCounter(t *testing.T) {
	h := newHarness(1, 2)
	h.bootAll()

	embed := NewTask(TK_EmbedQuery, PRIO_Interactive, "", "adhoc query")
	h.addJob("_temp: search", JK_Adhoc, "", true, []*Task{embed})

	if h.c.ActiveJobs() != 0 {
		t.Fatalf("temporary job counted as active")
	}

	modelWorker := h.workers[h.order[2]]
	h.complete(modelWorker.id, embed, &TaskResult{Vector: []float64{1}})

	if h.c.ActiveJobs() != 0 {
		t.Fatalf("active counter drifted to %d after temporary job", h.c.ActiveJobs())
	}
}

func TestNeedSearchRepliesWithHits(t *testing.T) {
	h := newHarness(1, 2)
	h.bootAll()
	h.index.hits = []retrieval.SearchHit{{ChunkId: "c1", DocId: "doc-x", Text: "hit", Score: 0.8}}

	reply := make(chan []retrieval.SearchHit, 1)
	h.c.handleNeedSearch(&WorkerResponse{
		Kind:     RSP_NeedSearch,
		WorkerId: h.order[0],
		Search:   &SearchCallback{Query: "find me", K: 5, Reply: reply},
	})

	modelWorker := h.workers[h.order[2]]
	embed := modelWorker.lastStarted()
	if embed == nil || embed.Kind != TK_EmbedQuery {
		t.Fatalf("need-search did not inject an embedding task")
	}
	h.complete(modelWorker.id, embed, &TaskResult{Vector: []float64{0.4}})

	select {
	case hits := <-reply:
		if len(hits) != 1 || hits[0].Text != "hit" {
			t.Fatalf("wrong hits delivered: %+v", hits)
		}
	default:
		t.Fatalf("reply channel is empty after the embedding completed")
	}
	if h.index.lastK != 5 {
		t.Errorf("search used k=%d instead of the requested 5", h.index.lastK)
	}
}

func TestDispatchIsIdempotent(t *testing.T) {
	h := newHarness(1, 2)
	h.bootAll()

	before := h.startedCount()
	h.c.dispatch()
	h.c.dispatch()
	if h.startedCount() != before {
		t.Fatalf("dispatch over empty queues started work")
	}

	// fill the model worker, then queue more: repeated dispatch must not
	// double-assign
	first := NewTask(TK_EmbedQuery, PRIO_Primary, "doc-1", "q1")
	second := NewTask(TK_EmbedQuery, PRIO_Primary, "doc-2", "q2")
	h.addJob("batch", JK_Adhoc, "", false, []*Task{first, second})

	started := h.startedCount()
	h.c.dispatch()
	h.c.dispatch()
	if h.startedCount() != started {
		t.Fatalf("re-dispatch with no idle workers started extra work")
	}
	if len(h.c.queues[PK_Model]) != 1 {
		t.Fatalf("expected 1 task still queued, got %d", len(h.c.queues[PK_Model]))
	}
}

func TestAppendTasksGrowsPendingSet(t *testing.T) {
	h := newHarness(1, 2)
	h.bootAll()

	var completions []events.JobCompleted
	h.c.Bus().JobCompleted.Subscribe(func(ev events.JobCompleted) {
		completions = append(completions, ev)
	})

	first := NewTask(TK_StreamIngest, PRIO_Primary, "doc-s", "chunk 0")
	job := h.addJob("Ingestion: doc-s", JK_Ingestion, "doc-s", false, []*Task{first})

	modelId := h.order[2]
	second := NewTask(TK_StreamIngest, PRIO_Primary, "doc-s", "chunk 1")
	second.Seq = 1
	second.Final = true
	h.c.handleAddTasks(job.Id, []*Task{second})

	h.complete(modelId, first, &TaskResult{Vector: []float64{0.1}})
	if len(completions) != 0 {
		t.Fatalf("job completed before its appended final chunk")
	}

	h.complete(modelId, second, &TaskResult{Vector: []float64{0.2}})
	if len(completions) != 1 {
		t.Fatalf("job did not complete after the final chunk")
	}
	if job.TotalTasks != 2 {
		t.Errorf("expected total of 2 tasks, got %d", job.TotalTasks)
	}
}

func TestAppendTasksToUnknownJobIsDropped(t *testing.T) {
	h := newHarness(1, 2)
	h.bootAll()

	h.c.handleAddTasks("no-such-job", []*Task{
		NewTask(TK_EmbedQuery, PRIO_Primary, "doc-x", "query"),
	})

	if len(h.c.queues[PK_Model]) != 0 || h.startedCount() != 0 {
		t.Fatalf("tasks for an unknown job were accepted")
	}
}

func TestSnapshotServedByControlLoop(t *testing.T) {
	h := newHarness(1, 2)
	go h.c.Run()

	// the uninitialized model worker cannot take the task, so it stays queued
	task := NewTask(TK_EmbedQuery, PRIO_Primary, "doc-1", "query")
	h.c.AddJob("Ingestion: doc-1", JK_Ingestion, "doc-1", false, []*Task{task})

	// commands are FIFO: the snapshot is built after the job lands
	info := h.c.sampleTop()
	if len(info.workerLines) != 4 {
		t.Fatalf("expected header plus 3 workers in the snapshot, got %d lines", len(info.workerLines))
	}
	if !strings.Contains(info.topLines, "model=1") {
		t.Fatalf("snapshot missed the queued model task: %q", info.topLines)
	}
}

func TestCallerAssignedJobId(t *testing.T) {
	h := newHarness(0, 2)
	h.bootAll()

	var completions []events.JobCompleted
	h.c.Bus().JobCompleted.Subscribe(func(ev events.JobCompleted) {
		completions = append(completions, ev)
	})

	task := NewTask(TK_DetectLanguage, PRIO_Primary, "doc-1", "body")
	id := h.c.AddJobWithId("job-fixed", "Adhoc: doc-1", JK_Adhoc, "doc-1", false, []*Task{task})
	if id != "job-fixed" {
		t.Fatalf("AddJobWithId returned %q", id)
	}
	h.c.handleCommand(<-h.c.commands)

	if _, ok := h.c.jobs["job-fixed"]; !ok {
		t.Fatalf("job not registered under the caller's id")
	}
	h.complete(h.order[0], task, &TaskResult{Language: "en"})
	if len(completions) != 1 || completions[0].JobId != "job-fixed" {
		t.Fatalf("completion not delivered under the caller's id: %+v", completions)
	}
}

func TestPriorityOrderingIsStable(t *testing.T) {
	h := newHarness(0, 2)
	h.bootAll()

	// saturate both workers so everything else stays queued
	busy1 := NewTask(TK_DetectLanguage, PRIO_Interactive, "doc-0", "x")
	busy2 := NewTask(TK_DetectLanguage, PRIO_Interactive, "doc-00", "x")
	h.addJob("warmup", JK_Adhoc, "", false, []*Task{busy1, busy2})

	bgA := NewTask(TK_DetectLanguage, PRIO_Background, "doc-a", "a")
	primB := NewTask(TK_Summarize, PRIO_Primary, "doc-b", "b")
	bgC := NewTask(TK_DetectLanguage, PRIO_Background, "doc-c", "c")
	primD := NewTask(TK_Summarize, PRIO_Primary, "doc-d", "d")
	h.addJob("batch", JK_Adhoc, "", false, []*Task{bgA, primB, bgC, primD})

	queue := h.c.queues[PK_General]
	want := []string{primB.Id, primD.Id, bgA.Id, bgC.Id}
	if len(queue) != len(want) {
		t.Fatalf("expected %d queued tasks, got %d", len(want), len(queue))
	}
	for idx, id := range want {
		if queue[idx].Id != id {
			t.Fatalf("queue[%d] = %s, want %s (priority sort must keep insertion order)", idx, queue[idx].Id, id)
		}
	}
}
