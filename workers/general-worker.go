package workers

import (
	"fmt"
	coordinator "github.com/embereye/docpilot/compute-coordinator"
	"github.com/embereye/docpilot/engines"
	"github.com/embereye/docpilot/events"
	"github.com/embereye/docpilot/metrics"
	"github.com/embereye/docpilot/pipelines"
	"github.com/embereye/docpilot/retrieval"
	"github.com/embereye/docpilot/settings"
	"github.com/embereye/docpilot/textproc"
	"github.com/rs/zerolog"
	"strings"
	"sync"
)

const queryPromptHeadTokens = 2048

// generalWorker does the lightweight CPU-bound work plus the LLM-backed glue
// steps. It is ready the moment its goroutine starts; there is no loading
// phase.
type generalWorker struct {
	id       string
	inbox    chan<- *coordinator.WorkerResponse
	requests chan *coordinator.WorkerRequest
	quit     chan struct{}
	quitOnce sync.Once

	lg      zerolog.Logger
	bus     *events.Bus
	engine  *engines.RemoteEngine
	summary settings.SummaryConfigurationSection
	verbose bool
}

func newGeneralWorker(id string, inbox chan<- *coordinator.WorkerResponse, deps *Deps) *generalWorker {
	engine := &engines.RemoteEngine{}
	if len(deps.Compute) > 0 {
		engine = engineFromConfig(deps.Compute[0])
	}
	if deps.Summary.Model != "" {
		engine.Models = []string{deps.Summary.Model}
	}

	w := &generalWorker{
		id:       id,
		inbox:    inbox,
		requests: make(chan *coordinator.WorkerRequest, 64),
		quit:     make(chan struct{}),
		lg:       deps.Lg.With().Str("worker", id).Logger(),
		bus:      deps.Bus,
		engine:   engine,
		summary:  deps.Summary,
	}
	go w.run()
	return w
}

func (w *generalWorker) Id() string { return w.id }

func (w *generalWorker) Send(req *coordinator.WorkerRequest) {
	select {
	case w.requests <- req:
	case <-w.quit:
	}
}

func (w *generalWorker) Terminate() {
	w.quitOnce.Do(func() {
		close(w.quit)
	})
}

func (w *generalWorker) run() {
	w.inbox <- &coordinator.WorkerResponse{Kind: coordinator.RSP_Ready, WorkerId: w.id}

	for {
		select {
		case <-w.quit:
			return
		case req := <-w.requests:
			switch req.Kind {
			case coordinator.RQ_StartTask:
				w.execute(req.Task)
			case coordinator.RQ_SetLogging:
				w.verbose = req.LoggingEnabled
			case coordinator.RQ_Initialize:
				// general workers are born initialized; answer anyway so a
				// confused coordinator cannot stall on us
				w.inbox <- &coordinator.WorkerResponse{Kind: coordinator.RSP_Initialized, WorkerId: w.id}
			}
		}
	}
}

func (w *generalWorker) execute(task *coordinator.Task) {
	var result *coordinator.TaskResult
	var err error

	switch task.Kind {
	case coordinator.TK_RenderLayout:
		var layout *textproc.Layout
		layout, err = textproc.RenderLayout(task.DocId, task.Text)
		if err == nil {
			result = &coordinator.TaskResult{Title: layout.Title, Pages: layout.Pages}
		}

	case coordinator.TK_DetectLanguage:
		result = &coordinator.TaskResult{Language: textproc.DetectLanguage(task.Text)}

	case coordinator.TK_GenerateQuery:
		result, err = w.generateQuery(task)

	case coordinator.TK_Summarize:
		result, err = w.summarize(task)

	case coordinator.TK_IndexEntities:
		result, err = w.indexEntities(task)

	default:
		err = fmt.Errorf("task kind %d not handled by general worker", task.Kind)
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

func (w *generalWorker) generateQuery(task *coordinator.Task) (*coordinator.TaskResult, error) {
	head := task.Text
	if len(head) > queryPromptHeadTokens*4 {
		head = head[:queryPromptHeadTokens*4]
	}

	prompt, err := pipelines.RenderQueryPrompt(task.DocId, head)
	if err != nil {
		return nil, err
	}

	response, err := w.complete(prompt)
	if err != nil {
		return nil, err
	}

	query, err := pipelines.ParseQueryResponse(response)
	if err != nil {
		return nil, err
	}

	return &coordinator.TaskResult{Text: query}, nil
}

func (w *generalWorker) summarize(task *coordinator.Task) (*coordinator.TaskResult, error) {
	evidence := task.Passages
	if len(evidence) == 0 {
		// the coordinator owns the retrieval engine; ask it to embed the
		// query and search on our behalf
		evidence = w.needSearch(task.Text, w.summary.EvidenceK)
	}
	if len(evidence) == 0 {
		return nil, fmt.Errorf("no evidence passages available for doc %s", task.DocId)
	}

	language := textproc.DetectLanguage(strings.Join(evidence, "\n"))
	prompt, err := pipelines.RenderSummaryPrompt(task.DocId, language, evidence)
	if err != nil {
		return nil, err
	}

	response, err := w.complete(prompt)
	if err != nil {
		return nil, err
	}

	summary, err := pipelines.ParseSummaryResponse(response)
	if err != nil {
		return nil, err
	}
	metrics.Tick("worker.summaries", 1)

	return &coordinator.TaskResult{Text: summary}, nil
}

func (w *generalWorker) indexEntities(task *coordinator.Task) (*coordinator.TaskResult, error) {
	text := task.Text
	if len(text) > 8192 {
		text = text[:8192]
	}

	prompt, err := pipelines.RenderEntitiesPrompt(text)
	if err != nil {
		return nil, err
	}

	response, err := w.complete(prompt)
	if err != nil {
		return nil, err
	}

	entities, err := pipelines.ParseEntitiesResponse(response)
	if err != nil {
		return nil, err
	}

	return &coordinator.TaskResult{Entities: entities}, nil
}

func (w *generalWorker) needSearch(query string, k int) []string {
	if k == 0 {
		k = 8
	}
	reply := make(chan []retrieval.SearchHit, 1)
	w.inbox <- &coordinator.WorkerResponse{
		Kind:     coordinator.RSP_NeedSearch,
		WorkerId: w.id,
		Search: &coordinator.SearchCallback{
			Query: query,
			K:     k,
			Reply: reply,
		},
	}

	hits := <-reply
	evidence := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Text != "" {
			evidence = append(evidence, hit.Text)
		}
	}
	return evidence
}

func (w *generalWorker) complete(prompt string) (string, error) {
	message, err := engines.RunCompletionRequest(w.engine, &engines.GenerationSettings{
		RawPrompt:   prompt,
		Temperature: w.summary.Temperature,
		StopTokens:  []string{"###"},
		StatisticsCallback: func(info *engines.StatisticsInfo) {
			metrics.Tick("worker.prompt-tokens", int64(info.PromptTokens))
			metrics.Tick("worker.generated-tokens", int64(info.TokensGenerated))
			w.bus.TokenUsage.Publish(events.TokenUsage{
				Process: w.id,
				Prompt:  info.PromptTokens,
				Emitted: info.TokensGenerated,
			})
		},
	})
	if err != nil {
		return "", err
	}
	return message.Content, nil
}
