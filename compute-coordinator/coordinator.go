package compute_coordinator

import (
	"fmt"
	"github.com/embereye/docpilot/events"
	"github.com/embereye/docpilot/retrieval"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"sync/atomic"
	"time"
)

type Settings struct {
	ModelWorkers   int
	GeneralWorkers int // 0 - derive from hardware concurrency
	InitTimeout    time.Duration
	EvidenceK      int
	TopInterval    time.Duration
	TermUI         bool
	LogChan        chan []byte
}

// Coordinator owns both worker pools, the per-pool priority queues, the job
// registry and the pin table. All of that state is mutated only by the control
// goroutine running Run(); the public API talks to it over channels.
type Coordinator struct {
	lg       zerolog.Logger
	bus      *events.Bus
	index    retrieval.Index
	launch   Launcher
	settings *Settings

	inbox    chan *WorkerResponse
	commands chan *command

	queues     map[PoolKind][]*Task
	jobs       map[string]*Job
	pins       map[string]string // docId -> workerId
	pools      map[PoolKind]*workerPool
	workerSeq  int
	logEnabled bool

	activeJobs int64 // also read outside the control goroutine
}

type commandKind int

const (
	cmdAddJob commandKind = iota
	cmdAddTasks
	cmdElevate
	cmdSetWorkerCount
	cmdSetLogging
	cmdSnapshot
)

type command struct {
	kind       commandKind
	job        *Job
	jobId      string
	tasks      []*Task
	docId      string
	count      int
	logEnabled bool
	snapshot   chan *topInfo
}

func NewCoordinator(lg zerolog.Logger, bus *events.Bus, index retrieval.Index, launch Launcher, settings *Settings) *Coordinator {
	if settings.EvidenceK == 0 {
		settings.EvidenceK = 8
	}
	if settings.InitTimeout == 0 {
		settings.InitTimeout = 120 * time.Second
	}
	if settings.GeneralWorkers == 0 {
		settings.GeneralWorkers = defaultGeneralWorkers(settings.ModelWorkers)
	}

	c := &Coordinator{
		lg:       lg.With().Str("sys", "coordinator").Logger(),
		bus:      bus,
		index:    index,
		launch:   launch,
		settings: settings,
		inbox:    make(chan *WorkerResponse, 16384),
		commands: make(chan *command, 1024),
		queues: map[PoolKind][]*Task{
			PK_General: {},
			PK_Model:   {},
		},
		jobs: make(map[string]*Job),
		pins: make(map[string]string),
		pools: map[PoolKind]*workerPool{
			PK_General: {kind: PK_General},
			PK_Model:   {kind: PK_Model},
		},
	}

	for i := 0; i < settings.GeneralWorkers; i++ {
		c.spawnWorker(PK_General)
	}
	for i := 0; i < settings.ModelWorkers; i++ {
		c.spawnWorker(PK_Model)
	}

	return c
}

// the General pool is sized once, from hardware concurrency minus the Model
// pool's share
func defaultGeneralWorkers(modelWorkers int) int {
	counts, err := cpu.Counts(true)
	if err != nil || counts <= 0 {
		counts = 4
	}
	n := counts - modelWorkers
	if n < 2 {
		n = 2
	}
	return n
}

// AddJob registers a named group of tasks and attempts to dispatch it.
// Returns the job id immediately; completion is reported over the event bus.
func (c *Coordinator) AddJob(name string, kind JobKind, docId string, temporary bool, tasks []*Task) string {
	return c.AddJobWithId(uuid.NewString(), name, kind, docId, temporary, tasks)
}

// AddJobWithId registers a job under a caller-chosen id, so the caller can
// subscribe for the job's completion before the job is submitted.
func (c *Coordinator) AddJobWithId(id, name string, kind JobKind, docId string, temporary bool, tasks []*Task) string {
	job := &Job{
		Id:        id,
		Name:      name,
		Kind:      kind,
		DocId:     docId,
		Temporary: temporary,
		pending:   make(map[string]struct{}),
	}
	c.commands <- &command{kind: cmdAddJob, job: job, tasks: tasks}
	return id
}

// AddTasksToJob appends tasks to an in-flight job; the job's pending set
// grows accordingly. Unknown job ids are logged and dropped.
func (c *Coordinator) AddTasksToJob(jobId string, tasks []*Task) {
	c.commands <- &command{kind: cmdAddTasks, jobId: jobId, tasks: tasks}
}

// Elevate promotes a queued layout task for docId to interactive priority.
func (c *Coordinator) Elevate(docId string) {
	c.commands <- &command{kind: cmdElevate, docId: docId}
}

// SetWorkerCount resizes the Model pool.
func (c *Coordinator) SetWorkerCount(n int) {
	c.commands <- &command{kind: cmdSetWorkerCount, count: n}
}

// SetLogging is broadcast to every worker in both pools.
func (c *Coordinator) SetLogging(enabled bool) {
	c.commands <- &command{kind: cmdSetLogging, logEnabled: enabled}
}

// ActiveJobs counts in-flight jobs, temporary jobs excluded.
func (c *Coordinator) ActiveJobs() int {
	return int(atomic.LoadInt64(&c.activeJobs))
}

func (c *Coordinator) Bus() *events.Bus {
	return c.bus
}

func (c *Coordinator) spawnWorker(kind PoolKind) *workerHandle {
	c.workerSeq++
	prefix := "general"
	if kind == PK_Model {
		prefix = "model"
	}
	id := fmt.Sprintf("%s-%d", prefix, c.workerSeq)

	handle := &workerHandle{
		id:     id,
		worker: c.launch(kind, id, c.inbox),
	}
	c.pools[kind].workers = append(c.pools[kind].workers, handle)

	c.lg.Info().Str("worker", id).Msg("worker spawned")
	return handle
}
