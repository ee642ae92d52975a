package schedule

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"
)

// jobTimeout is the maximum time allowed for a single job run.
const jobTimeout = 5 * time.Minute

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) error

// JobState represents the current state of a registered job.
type JobState int

const (
	JobIdle JobState = iota
	JobRunning
	JobError
)

// JobStatus holds the run state for a single job.
type JobStatus struct {
	Name    string
	State   JobState
	LastRun time.Time
	Error   error
}

// jobEntry holds a registered job, its interval, and its trigger
// channel.
type jobEntry struct {
	name     string
	interval time.Duration
	fn       JobFunc
	trigger  chan struct{}
}

// Runner orchestrates the background loops: each registered job runs on
// its own interval, can be triggered early by name, and finishes its
// in-flight run before Stop returns. Job runs are serialized: the loops
// share the ledger and the pending digest, so one tick executes at a
// time no matter which timer fired.
type Runner struct {
	logger   *zap.Logger
	jobs     []jobEntry
	statuses map[string]*JobStatus
	stopCh   chan struct{}
	wg       gosync.WaitGroup
	mu       gosync.Mutex
	runMu    gosync.Mutex
	running  bool
}

// New creates an empty runner.
func New(logger *zap.Logger) *Runner {
	return &Runner{
		logger:   logger,
		statuses: make(map[string]*JobStatus),
		stopCh:   make(chan struct{}),
	}
}

// Register adds a job to the runner. Intervals at or below zero default
// to five minutes.
func (r *Runner) Register(name string, interval time.Duration, fn JobFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if interval <= 0 {
		interval = 5 * time.Minute
	}

	r.jobs = append(r.jobs, jobEntry{
		name:     name,
		interval: interval,
		fn:       fn,
		trigger:  make(chan struct{}, 1),
	})
	r.statuses[name] = &JobStatus{Name: name, State: JobIdle}
}

// Start launches one goroutine per registered job. Each job runs once
// immediately, then on its interval.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	jobs := make([]jobEntry, len(r.jobs))
	copy(jobs, r.jobs)
	r.mu.Unlock()

	for _, job := range jobs {
		r.wg.Add(1)
		go r.runJob(job)
	}
}

// Stop halts all job loops and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
}

// Trigger requests an immediate run of the named job. Unknown names are
// ignored.
func (r *Runner) Trigger(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, job := range r.jobs {
		if job.name != name {
			continue
		}
		select {
		case job.trigger <- struct{}{}:
		default:
			// A trigger is already queued.
		}
		return
	}
}

// Statuses returns a snapshot of every job's run state.
func (r *Runner) Statuses() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]JobStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		statuses = append(statuses, *s)
	}
	return statuses
}

// runJob is the loop for a single job.
func (r *Runner) runJob(job jobEntry) {
	defer r.wg.Done()

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	r.runOnce(job)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runOnce(job)
		case <-job.trigger:
			r.runOnce(job)
		}
	}
}

// runOnce executes one job run under the job timeout. runMu serializes
// runs across jobs; overlapping ticks would race on the pending digest.
func (r *Runner) runOnce(job jobEntry) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.setStatus(job.name, JobRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := job.fn(ctx); err != nil {
		r.setStatus(job.name, JobError, err)
		r.logger.Error("scheduled job failed",
			zap.String("job", job.name),
			zap.Error(err))
		return
	}

	r.setStatus(job.name, JobIdle, nil)
}

// setStatus updates the status record for a job.
func (r *Runner) setStatus(name string, state JobState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.statuses[name]
	if !ok {
		return
	}

	status.State = state
	status.Error = err
	if state == JobIdle && err == nil {
		status.LastRun = time.Now()
	}
}
