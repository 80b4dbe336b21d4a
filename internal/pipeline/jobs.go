package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// JobStatus represents the state of an extraction job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusParsing    JobStatus = "parsing"
	StatusChunking   JobStatus = "chunking"
	StatusExtracting JobStatus = "extracting"
	StatusMerging    JobStatus = "merging"
	StatusPublishing JobStatus = "publishing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusPartial    JobStatus = "partial"
	StatusDupSkipped JobStatus = "duplicate_skipped"
)

// JobOptions are the per-document extraction settings chosen at submit time.
type JobOptions struct {
	Domain       string `json:"domain"`
	Level        string `json:"level"`
	FailFast     bool   `json:"fail_fast"`
	ForceRestart bool   `json:"force_restart"`
	Publish      bool   `json:"publish"`
}

// Job tracks the state of a single document extraction.
type Job struct {
	mu sync.Mutex

	ID       string     `json:"job_id"`
	Filename string     `json:"filename"`
	Title    string     `json:"title"`
	Options  JobOptions `json:"options"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	result   *Result
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalChunks     int      `json:"total_chunks"`
	ChunksProcessed int      `json:"chunks_processed"`
	ChunksFailed    int      `json:"chunks_failed"`
	Entities        int      `json:"entities"`
	Relationships   int      `json:"relationships"`
	Errors          []string `json:"errors"`
}

// NewJob returns a queued job with a fresh id.
func NewJob(filename, title string, data []byte, opts JobOptions) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Filename:  filename,
		Title:     title,
		Options:   opts,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
		fileData:  data,
	}
}

// JobStoreConfig bounds the job registry.
type JobStoreConfig struct {
	Size int
	TTL  time.Duration
}

// JobStore is a thread-safe in-memory job registry. Jobs expire ttl after
// they were stored, and the oldest are evicted past size.
type JobStore struct {
	jobs *expirable.LRU[string, *Job]
}

func NewJobStore(size int, ttl time.Duration) *JobStore {
	return &JobStore{jobs: expirable.NewLRU[string, *Job](size, nil, ttl)}
}

func (s *JobStore) Put(job *Job) {
	s.jobs.Add(job.ID, job)
}

func (s *JobStore) Get(id string) *Job {
	job, _ := s.jobs.Get(id)
	return job
}

func (s *JobStore) Len() int {
	return s.jobs.Len()
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// Observe applies a pipeline event to the job's status and progress.
func (j *Job) Observe(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.UpdatedAt = time.Now()
	j.Progress.TotalChunks = ev.TotalChunks
	if ev.Entry != nil {
		j.Progress.ChunksProcessed++
		if ev.Entry.Failed() {
			j.Progress.ChunksFailed++
			j.errors = append(j.errors, fmt.Sprintf("%s: %s", ev.Entry.ChunkID, ev.Entry.Error))
			j.Progress.Errors = j.errors
		}
		return
	}
	// Resumed chunks count as processed.
	if ev.Completed > j.Progress.ChunksProcessed {
		j.Progress.ChunksProcessed = ev.Completed
	}
	switch ev.State {
	case StateChunking:
		j.Status, j.Phase = StatusChunking, "chunking"
	case StateExtracting:
		j.Status, j.Phase = StatusExtracting, "extracting"
	case StateMerging:
		j.Status, j.Phase = StatusMerging, "merging"
	}
}

// setParsed records what parsing learned about the document. An explicit
// title from the submitter wins.
func (j *Job) setParsed(title, hash string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Title == "" {
		j.Title = title
	}
	j.ContentHash = hash
	j.UpdatedAt = time.Now()
}

func (j *Job) contentHash() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ContentHash
}

// SetResult stores the merged graph and its counts.
func (j *Job) SetResult(res *Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	j.Progress.Entities = res.Stats.Entities
	j.Progress.Relationships = res.Stats.Relationships
	j.UpdatedAt = time.Now()
}

// Result returns the merged graph, or nil before the job completes.
func (j *Job) Result() *Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string     `json:"job_id"`
	Status    JobStatus  `json:"status"`
	Phase     string     `json:"phase"`
	Filename  string     `json:"filename"`
	Title     string     `json:"title"`
	Options   JobOptions `json:"options"`
	Progress  Progress   `json:"progress"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	p := j.Progress
	p.Errors = errs
	return JobSnapshot{
		ID:        j.ID,
		Status:    j.Status,
		Phase:     j.Phase,
		Filename:  j.Filename,
		Title:     j.Title,
		Options:   j.Options,
		Progress:  p,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
