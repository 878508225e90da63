package compute_coordinator

import (
	"github.com/embereye/docpilot/retrieval"
	"github.com/google/uuid"
	"time"
)

type TaskKind int

const (
	// general pool
	TK_RenderLayout TaskKind = iota
	TK_DetectLanguage
	TK_GenerateQuery
	TK_Summarize
	TK_IndexEntities
	// model pool
	TK_SplitChunks
	TK_EmbedChunk
	TK_EmbedQuery
	TK_Rerank
	TK_StreamIngest
)

func taskKindName(kind TaskKind) string {
	switch kind {
	case TK_RenderLayout:
		return "render-layout"
	case TK_DetectLanguage:
		return "detect-language"
	case TK_GenerateQuery:
		return "generate-query"
	case TK_Summarize:
		return "summarize"
	case TK_IndexEntities:
		return "index-entities"
	case TK_SplitChunks:
		return "split-chunks"
	case TK_EmbedChunk:
		return "embed-chunk"
	case TK_EmbedQuery:
		return "embed-query"
	case TK_Rerank:
		return "rerank"
	case TK_StreamIngest:
		return "stream-ingest"
	default:
		return "unknown"
	}
}

type TaskPriority int

const (
	PRIO_Interactive TaskPriority = iota
	PRIO_Primary
	PRIO_Background
)

type PoolKind int

const (
	PK_General PoolKind = iota
	PK_Model
)

// Task is immutable once dispatched, except Priority which Elevate mutates
// in place while the task is still queued.
type Task struct {
	Id       string
	JobId    string
	Kind     TaskKind
	Priority TaskPriority
	DocId    string

	Text     string
	Passages []string
	Seq      int
	Final    bool

	receivedAt time.Time
}

func NewTask(kind TaskKind, priority TaskPriority, docId, text string) *Task {
	return &Task{
		Id:       uuid.NewString(),
		Kind:     kind,
		Priority: priority,
		DocId:    docId,
		Text:     text,
	}
}

type TaskResult struct {
	Text     string
	Chunks   []string
	Vector   []float64
	Model    string
	Language string
	Entities []string
	Title    string
	Pages    []string
}

type JobKind int

const (
	JK_Ingestion JobKind = iota
	JK_Summary
	JK_Layout
	JK_Adhoc
)

type JobPayload struct {
	Title    string
	Language string
	Pages    []string
	Chunks   []string
	Embedded int
	Entities []string
	Query    string
	Evidence []string
	Summary  string
	Vector   []float64
	Errors   []string
}

type Job struct {
	Id             string
	Name           string
	Kind           JobKind
	DocId          string
	Temporary      bool
	CompletedTasks int
	TotalTasks     int

	pending map[string]struct{}
	payload JobPayload
	failed  bool

	// adhoc jobs embedded in a synchronous flow get their result delivered here
	onComplete func(payload JobPayload)
}

// worker protocol, request direction

type RequestKind int

const (
	RQ_StartTask RequestKind = iota
	RQ_Initialize
	RQ_SetLogging
)

type WorkerRequest struct {
	Kind           RequestKind
	Task           *Task
	LoggingEnabled bool
}

// worker protocol, response direction

type ResponseKind int

const (
	RSP_Ready ResponseKind = iota
	RSP_Initialized
	RSP_TaskCompleted
	RSP_TaskFailed
	RSP_DeviceStatus
	RSP_NeedSearch
	rspInitTimeout // synthesized by the coordinator's init watchdog
)

type SearchCallback struct {
	Query string
	K     int
	Reply chan []retrieval.SearchHit
}

type WorkerResponse struct {
	Kind        ResponseKind
	WorkerId    string
	Task        *Task
	Result      *TaskResult
	Error       string
	Accelerated bool
	Search      *SearchCallback
}

// Worker is one isolated worker process. Send must never block the
// coordinator; implementations buffer their request channel.
type Worker interface {
	Id() string
	Send(req *WorkerRequest)
	Terminate()
}

type Launcher func(pool PoolKind, id string, inbox chan<- *WorkerResponse) Worker

type workerHandle struct {
	id            string
	worker        Worker
	isIdle        bool
	isInitialized bool
	accelerated   bool
	currentTask   *Task
}
