package server

import (
	"fmt"
	coordinator "github.com/embereye/docpilot/compute-coordinator"
	"github.com/embereye/docpilot/events"
	"github.com/embereye/docpilot/retrieval"
	"github.com/google/uuid"
	"time"
)

type IngestDocumentRequest struct {
	DocId string `json:"doc-id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type StreamChunkRequest struct {
	DocId string `json:"doc-id"`
	JobId string `json:"job-id"`
	Seq   int    `json:"seq"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type GetSummaryRequest struct {
	DocId string `json:"doc-id"`
}

type GetLayoutRequest struct {
	DocId       string `json:"doc-id"`
	Interactive bool   `json:"interactive"`
}

type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type SearchResult struct {
	DocId string  `json:"doc-id"`
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

type SetWorkerCountRequest struct {
	Count int `json:"count"`
}

type ClientRequest struct {
	CorrelationId  string                 `json:"correlation-id"`
	IngestDocument *IngestDocumentRequest `json:"ingest-document"`
	StreamChunk    *StreamChunkRequest    `json:"stream-chunk"`
	GetSummary     *GetSummaryRequest     `json:"get-summary"`
	GetLayout      *GetLayoutRequest      `json:"get-layout"`
	Search         *SearchRequest         `json:"search"`
	SetWorkerCount *SetWorkerCountRequest `json:"set-worker-count"`
}

type ServerResponse struct {
	CorrelationId string         `json:"correlation-id"`
	JobId         string         `json:"job-id,omitempty"`
	SearchResults []SearchResult `json:"search-results,omitempty"`
	ActiveJobs    int            `json:"active-jobs"`
	Error         string         `json:"error,omitempty"`
}

// IngestDocument persists the raw body and submits the ingestion pipeline:
// one chunk-split task that fans out into per-chunk embeddings plus entity
// indexing, and a language-detection task.
func (ctx *Context) IngestDocument(req *IngestDocumentRequest) (string, error) {
	if req.DocId == "" || req.Body == "" {
		return "", fmt.Errorf("doc-id and body are required")
	}

	if ctx.Storage != nil {
		if err := ctx.Storage.SaveDocument(req.DocId, req.Title, "und", req.Body); err != nil {
			ctx.Log.Error().Err(err).Str("doc", req.DocId).Msg("error persisting document")
		}
	}

	jobId := ctx.Coordinator.AddJob(
		fmt.Sprintf("Ingestion: %s", req.DocId),
		coordinator.JK_Ingestion,
		req.DocId,
		false,
		[]*coordinator.Task{
			coordinator.NewTask(coordinator.TK_SplitChunks, coordinator.PRIO_Primary, req.DocId, req.Body),
			coordinator.NewTask(coordinator.TK_DetectLanguage, coordinator.PRIO_Primary, req.DocId, req.Body),
		})

	return jobId, nil
}

// StreamChunk grows a streaming-ingestion job incrementally. The first chunk
// creates the job; later chunks are appended to it with AddTasksToJob so the
// pending set keeps growing until the final chunk arrives.
func (ctx *Context) StreamChunk(req *StreamChunkRequest) (string, error) {
	if req.DocId == "" {
		return "", fmt.Errorf("doc-id is required")
	}

	task := coordinator.NewTask(coordinator.TK_StreamIngest, coordinator.PRIO_Primary, req.DocId, req.Text)
	task.Seq = req.Seq
	task.Final = req.Final

	if req.JobId == "" {
		return ctx.Coordinator.AddJob(
			fmt.Sprintf("Ingestion: %s", req.DocId),
			coordinator.JK_Ingestion,
			req.DocId,
			false,
			[]*coordinator.Task{task}), nil
	}

	ctx.Coordinator.AddTasksToJob(req.JobId, []*coordinator.Task{task})
	return req.JobId, nil
}

// RequestSummary starts the three-step summary pipeline. Only the generate-
// query task is submitted here; retrieval and summarization are chained in by
// the coordinator as each step completes.
func (ctx *Context) RequestSummary(req *GetSummaryRequest) (string, error) {
	body := ""
	if ctx.Storage != nil {
		_, docBody, err := ctx.Storage.GetDocument(req.DocId)
		if err != nil {
			return "", err
		}
		body = docBody
	}
	if body == "" {
		return "", fmt.Errorf("document %s not found", req.DocId)
	}

	jobId := ctx.Coordinator.AddJob(
		fmt.Sprintf("Summary: %s", req.DocId),
		coordinator.JK_Summary,
		req.DocId,
		false,
		[]*coordinator.Task{
			coordinator.NewTask(coordinator.TK_GenerateQuery, coordinator.PRIO_Primary, req.DocId, body),
		})

	return jobId, nil
}

// RequestLayout submits a background layout job; when the document is already
// in view the task goes in at interactive priority, otherwise Elevate can
// promote it later.
func (ctx *Context) RequestLayout(req *GetLayoutRequest) (string, error) {
	body := ""
	if ctx.Storage != nil {
		_, docBody, err := ctx.Storage.GetDocument(req.DocId)
		if err != nil {
			return "", err
		}
		body = docBody
	}
	if body == "" {
		return "", fmt.Errorf("document %s not found", req.DocId)
	}

	priority := coordinator.PRIO_Background
	if req.Interactive {
		priority = coordinator.PRIO_Interactive
	}

	jobId := ctx.Coordinator.AddJob(
		fmt.Sprintf("Layout: %s", req.DocId),
		coordinator.JK_Layout,
		req.DocId,
		false,
		[]*coordinator.Task{
			coordinator.NewTask(coordinator.TK_RenderLayout, priority, req.DocId, body),
		})

	if req.Interactive {
		ctx.Coordinator.Elevate(req.DocId)
	}

	return jobId, nil
}

// Search embeds the query through a temporary adhoc job and runs a similarity
// lookup. The coordinator has no request/response primitive, so this builds
// the correlation the way any caller has to: subscribe, submit, await the
// matching job-complete event, unsubscribe.
func (ctx *Context) Search(req *SearchRequest) ([]SearchResult, error) {
	if req.K == 0 {
		req.K = 10
	}

	// the id is chosen here so the subscription is live and filtering on it
	// before the job can possibly complete
	jobId := uuid.NewString()
	completed := make(chan events.JobCompleted, 1)
	unsubscribe := ctx.Bus.JobCompleted.Subscribe(func(ev events.JobCompleted) {
		if ev.JobId == jobId {
			select {
			case completed <- ev:
			default:
			}
		}
	})
	defer unsubscribe()

	ctx.Coordinator.AddJobWithId(
		jobId,
		"_temp: search",
		coordinator.JK_Adhoc,
		"",
		true,
		[]*coordinator.Task{
			coordinator.NewTask(coordinator.TK_EmbedQuery, coordinator.PRIO_Interactive, "", req.Query),
		})

	select {
	case ev := <-completed:
		payload, ok := ev.Payload.(coordinator.JobPayload)
		if !ok || len(payload.Vector) == 0 {
			return nil, fmt.Errorf("query embedding failed")
		}
		hits, err := ctx.Index.Search(payload.Vector, req.K)
		if err != nil {
			return nil, err
		}
		return toSearchResults(hits), nil
	case <-time.After(120 * time.Second):
		return nil, fmt.Errorf("search timed out")
	}
}

func toSearchResults(hits []retrieval.SearchHit) []SearchResult {
	results := make([]SearchResult, len(hits))
	for idx, hit := range hits {
		results[idx] = SearchResult{
			DocId: hit.DocId,
			Text:  hit.Text,
			Score: hit.Score,
		}
	}
	return results
}
