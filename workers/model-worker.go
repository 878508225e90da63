package workers

import (
	"fmt"
	"github.com/embereye/docpilot/batcher"
	coordinator "github.com/embereye/docpilot/compute-coordinator"
	"github.com/embereye/docpilot/engines"
	"github.com/embereye/docpilot/metrics"
	"github.com/embereye/docpilot/settings"
	"github.com/embereye/docpilot/storage"
	"github.com/embereye/docpilot/textproc"
	"github.com/rs/zerolog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// modelWorker wraps one remote inference backend. It is slow to come up: the
// coordinator sends Initialize and the worker probes the backend before
// reporting initialized. Streaming ingestion keeps per-document parser state
// here, which is why streaming documents are pinned to one worker.
type modelWorker struct {
	id       string
	inbox    chan<- *coordinator.WorkerResponse
	requests chan *coordinator.WorkerRequest
	quit     chan struct{}
	quitOnce sync.Once

	lg          zerolog.Logger
	engine      *engines.RemoteEngine
	store       *storage.Storage
	cacheWrites *batcher.Batcher[cacheEntry]
	streams     map[string]*strings.Builder
	verbose     bool
}

type cacheEntry struct {
	model  string
	text   string
	vector []float64
}

func newModelWorker(id string, inbox chan<- *coordinator.WorkerResponse, deps *Deps, backend settings.ComputeConfigurationSection) *modelWorker {
	w := &modelWorker{
		id:       id,
		inbox:    inbox,
		requests: make(chan *coordinator.WorkerRequest, 64),
		quit:     make(chan struct{}),
		lg:       deps.Lg.With().Str("worker", id).Logger(),
		engine:   engineFromConfig(backend),
		store:    deps.Store,
		streams:  make(map[string]*strings.Builder),
	}
	if w.store != nil {
		w.cacheWrites = batcher.New[cacheEntry](w.lg, w.flushCacheEntries, 32, 250*time.Millisecond)
	}
	go w.run()
	return w
}

func (w *modelWorker) flushCacheEntries(entries []cacheEntry) error {
	for _, entry := range entries {
		if err := w.store.SaveCachedEmbedding(entry.model, entry.text, entry.vector); err != nil {
			return err
		}
	}
	metrics.Tick("worker.embeddings-cached", int64(len(entries)))
	return nil
}

func (w *modelWorker) Id() string { return w.id }

func (w *modelWorker) Send(req *coordinator.WorkerRequest) {
	select {
	case w.requests <- req:
	case <-w.quit:
	}
}

func (w *modelWorker) Terminate() {
	w.quitOnce.Do(func() {
		close(w.quit)
		if w.cacheWrites != nil {
			w.cacheWrites.Stop()
		}
	})
}

func (w *modelWorker) run() {
	w.inbox <- &coordinator.WorkerResponse{Kind: coordinator.RSP_Ready, WorkerId: w.id}

	for {
		select {
		case <-w.quit:
			return
		case req := <-w.requests:
			switch req.Kind {
			case coordinator.RQ_Initialize:
				w.initialize()
			case coordinator.RQ_StartTask:
				w.execute(req.Task)
			case coordinator.RQ_SetLogging:
				w.verbose = req.LoggingEnabled
			}
		}
	}
}

func (w *modelWorker) initialize() {
	done := make(chan struct{}, 1)
	engines.StartRemoteEngine(w.engine, done)
	<-done

	w.inbox <- &coordinator.WorkerResponse{
		Kind:        coordinator.RSP_DeviceStatus,
		WorkerId:    w.id,
		Accelerated: w.engine.Accelerated,
	}

	if w.engine.EmbeddingsFailed {
		// no initialized message: the coordinator's watchdog will reap us
		w.lg.Error().Str("url", w.engine.EndpointUrl).Msg("backend failed embeddings probe")
		return
	}

	w.inbox <- &coordinator.WorkerResponse{Kind: coordinator.RSP_Initialized, WorkerId: w.id}
}

func (w *modelWorker) execute(task *coordinator.Task) {
	var result *coordinator.TaskResult
	var err error

	switch task.Kind {
	case coordinator.TK_SplitChunks:
		result = &coordinator.TaskResult{Chunks: textproc.SplitChunks(task.Text)}

	case coordinator.TK_EmbedChunk, coordinator.TK_EmbedQuery:
		result, err = w.embed(task.Text)

	case coordinator.TK_Rerank:
		result, err = w.rerank(task.Text, task.Passages)

	case coordinator.TK_StreamIngest:
		result, err = w.streamIngest(task)

	default:
		err = fmt.Errorf("task kind %d not handled by model worker", task.Kind)
	}

	if err != nil {
		w.inbox <- &coordinator.WorkerResponse{
			Kind:     coordinator.RSP_TaskFailed,
			WorkerId: w.id,
			Task:     task,
			Error:    err.Error(),
		}
		return
	}

	w.inbox <- &coordinator.WorkerResponse{
		Kind:     coordinator.RSP_TaskCompleted,
		WorkerId: w.id,
		Task:     task,
		Result:   result,
	}
}

func (w *modelWorker) embed(text string) (*coordinator.TaskResult, error) {
	if w.store != nil && w.engine.EmbeddingsModel != "" {
		cached, err := w.store.GetCachedEmbedding(w.engine.EmbeddingsModel, text)
		if err != nil {
			w.lg.Error().Err(err).Msg("embeddings cache lookup failed")
		}
		if len(cached) > 0 {
			metrics.Tick("worker.embeddings-cache-hits", 1)
			return &coordinator.TaskResult{Vector: cached, Model: w.engine.EmbeddingsModel}, nil
		}
	}

	vectors, model, err := engines.RunEmbeddingsRequest(w.engine, []string{text})
	if err != nil {
		return nil, err
	}
	metrics.Tick("worker.embeddings", 1)

	if w.cacheWrites != nil {
		w.cacheWrites.Add(cacheEntry{model: model, text: text, vector: vectors[0]})
	}

	return &coordinator.TaskResult{Vector: vectors[0], Model: model}, nil
}

// rerank embeds the query and all passages in one batch and reorders the
// passages by cosine similarity to the query.
func (w *modelWorker) rerank(query string, passages []string) (*coordinator.TaskResult, error) {
	if len(passages) == 0 {
		return &coordinator.TaskResult{}, nil
	}

	inputs := append([]string{query}, passages...)
	vectors, _, err := engines.RunEmbeddingsRequest(w.engine, inputs)
	if err != nil {
		return nil, err
	}

	type scored struct {
		text  string
		score float64
	}
	ranked := make([]scored, len(passages))
	for idx, passage := range passages {
		ranked[idx] = scored{text: passage, score: cosine(vectors[0], vectors[idx+1])}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	reordered := make([]string, len(ranked))
	for idx, entry := range ranked {
		reordered[idx] = entry.text
	}
	metrics.Tick("worker.reranks", 1)

	return &coordinator.TaskResult{Chunks: reordered}, nil
}

func (w *modelWorker) streamIngest(task *coordinator.Task) (*coordinator.TaskResult, error) {
	stream, ok := w.streams[task.DocId]
	if !ok {
		stream = &strings.Builder{}
		w.streams[task.DocId] = stream
	}
	stream.WriteString(task.Text)

	result := &coordinator.TaskResult{}
	if strings.TrimSpace(task.Text) != "" {
		embedded, err := w.embed(task.Text)
		if err != nil {
			return nil, err
		}
		result.Vector = embedded.Vector
		result.Model = embedded.Model
	}

	if task.Final {
		delete(w.streams, task.DocId)
	}
	metrics.Tick("worker.streamed-chunks", 1)

	return result, nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	dot, normA, normB := 0.0, 0.0, 0.0
	for idx := range a {
		dot += a[idx] * b[idx]
		normA += a[idx] * a[idx]
		normB += b[idx] * b[idx]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
