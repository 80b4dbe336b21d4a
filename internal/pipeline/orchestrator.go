package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgallion1/docgraph/internal/pathstore"
)

// OrchestratorConfig sizes the job queue and worker pool.
type OrchestratorConfig struct {
	Workers   int
	QueueSize int
	Jobs      JobStoreConfig
}

// Orchestrator runs submitted jobs on a fixed pool of workers.
type Orchestrator struct {
	jobs      *JobStore
	queue     chan *Job
	cfg       OrchestratorConfig
	x         *Extraction
	publisher *pathstore.Publisher
	log       *slog.Logger

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. pub may be nil to disable publishing.
func NewOrchestrator(cfg OrchestratorConfig, x *Extraction, pub *pathstore.Publisher, log *slog.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	return &Orchestrator{
		jobs:      NewJobStore(cfg.Jobs.Size, cfg.Jobs.TTL),
		queue:     make(chan *Job, cfg.QueueSize),
		cfg:       cfg,
		x:         x,
		publisher: pub,
		log:       log,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.Workers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.x, o.publisher, o.log)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}
}

// Stop cancels running jobs and waits for the workers to exit. Checkpoints
// let interrupted documents resume when resubmitted.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		job.SetStatus(StatusFailed, "shutdown")
		return fmt.Errorf("orchestrator is stopped")
	}
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.QueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Publisher returns the graph publisher, or nil when publishing is disabled.
func (o *Orchestrator) Publisher() *pathstore.Publisher {
	return o.publisher
}
