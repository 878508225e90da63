package server

import (
	coordinator "github.com/embereye/docpilot/compute-coordinator"
	"github.com/embereye/docpilot/events"
	"github.com/embereye/docpilot/retrieval"
	"github.com/rs/zerolog"
	"testing"
	"time"
)

// echoWorker acknowledges the init protocol and completes every task with a
// fixed embedding, which is enough to drive the search round trip end to end.
type echoWorker struct {
	id    string
	inbox chan<- *coordinator.WorkerResponse
}

func (w *echoWorker) Id() string { return w.id }

func (w *echoWorker) Send(req *coordinator.WorkerRequest) {
	switch req.Kind {
	case coordinator.RQ_Initialize:
		w.inbox <- &coordinator.WorkerResponse{Kind: coordinator.RSP_Initialized, WorkerId: w.id}
	case coordinator.RQ_StartTask:
		w.inbox <- &coordinator.WorkerResponse{
			Kind:     coordinator.RSP_TaskCompleted,
			WorkerId: w.id,
			Task:     req.Task,
			Result:   &coordinator.TaskResult{Vector: []float64{0.1, 0.2, 0.3}},
		}
	}
}

func (w *echoWorker) Terminate() {}

type stubIndex struct {
	hits []retrieval.SearchHit
}

func (s *stubIndex) EnsureCollection(params *retrieval.CollectionParameters) error { return nil }
func (s *stubIndex) AddChunkEmbedding(chunk *retrieval.ChunkEmbedding) error      { return nil }
func (s *stubIndex) Search(vector []float64, k int) ([]retrieval.SearchHit, error) {
	return s.hits, nil
}

func TestSearchCorrelatesCompletion(t *testing.T) {
	bus := events.NewBus()
	index := &stubIndex{hits: []retrieval.SearchHit{
		{ChunkId: "c1", DocId: "doc-1", Text: "relevant passage", Score: 0.9},
	}}

	launcher := func(pool coordinator.PoolKind, id string, inbox chan<- *coordinator.WorkerResponse) coordinator.Worker {
		inbox <- &coordinator.WorkerResponse{Kind: coordinator.RSP_Ready, WorkerId: id}
		return &echoWorker{id: id, inbox: inbox}
	}

	c := coordinator.NewCoordinator(zerolog.Nop(), bus, index, launcher, &coordinator.Settings{
		ModelWorkers:   1,
		GeneralWorkers: 2,
		InitTimeout:    time.Hour,
	})
	go c.Run()

	ctx := &Context{Log: zerolog.Nop(), Index: index, Bus: bus, Coordinator: c}

	results, err := ctx.Search(&SearchRequest{Query: "what is the revenue", K: 3})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].DocId != "doc-1" || results[0].Text != "relevant passage" {
		t.Fatalf("wrong results: %+v", results)
	}
}
