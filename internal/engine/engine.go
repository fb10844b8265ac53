// Package engine runs batch geocoding jobs: intake, quota checks, the
// per-row waterfall loop, progressive persistence, and completion.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/support934/smartgecode-saas/internal/auth"
	"github.com/support934/smartgecode-saas/internal/export"
	"github.com/support934/smartgecode-saas/internal/intake"
	"github.com/support934/smartgecode-saas/internal/metrics"
	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/internal/notify"
	"github.com/support934/smartgecode-saas/internal/quota"
	"github.com/support934/smartgecode-saas/internal/resilience"
	"github.com/support934/smartgecode-saas/internal/store"
	"github.com/support934/smartgecode-saas/internal/waterfall"
	"github.com/support934/smartgecode-saas/pkg/geocode"
)

// Config tunes the engine.
type Config struct {
	// MaxConcurrentJobs bounds how many jobs run their row loop at once.
	MaxConcurrentJobs int

	// RowDelay is the pause after every processed row.
	RowDelay time.Duration

	// PreviewRows is how many result rows PollStatus returns.
	PreviewRows int

	// NotifyTimeout bounds each completion notification.
	NotifyTimeout time.Duration

	// Retry governs job store writes.
	Retry resilience.RetryConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 4,
		RowDelay:          time.Second,
		PreviewRows:       50,
		NotifyTimeout:     10 * time.Second,
		Retry:             resilience.DefaultRetryConfig(),
	}
}

// Deps are the engine's collaborators. Notifier, Metrics and Clock are
// optional.
type Deps struct {
	Store    store.JobStore
	Client   geocode.Client
	Guard    *quota.Guard
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Clock    clockwork.Clock
}

// task is one running (or slot-waiting) job.
type task struct {
	cancel context.CancelCauseFunc
	owner  string
}

// Engine owns every background job in the process.
type Engine struct {
	cfg      Config
	store    store.JobStore
	client   geocode.Client
	resolver *waterfall.Resolver
	guard    *quota.Guard
	notifier notify.Notifier
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	slots    *semaphore.Weighted

	base context.Context
	stop context.CancelCauseFunc

	mu      sync.Mutex
	running map[string]*task
	closed  bool
	wg      sync.WaitGroup
}

// New creates an Engine.
func New(cfg Config, deps Deps) *Engine {
	def := DefaultConfig()
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if cfg.RowDelay < 0 {
		cfg.RowDelay = 0
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = def.PreviewRows
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	base, stop := context.WithCancelCause(context.Background())
	return &Engine{
		cfg:      cfg,
		store:    deps.Store,
		client:   deps.Client,
		resolver: waterfall.NewResolver(deps.Client),
		guard:    deps.Guard,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		base:     base,
		stop:     stop,
		running:  make(map[string]*task),
	}
}

// Upload is a submitted file.
type Upload struct {
	Filename   string
	Data       []byte
	OwnerEmail string
}

// Submission is returned as soon as a job is accepted.
type Submission struct {
	JobID     string `json:"jobId"`
	TotalRows int    `json:"totalRows"`
}

// SubmitBatch validates the upload, checks quota for the whole batch,
// creates the job, and starts it in the background. It returns before any
// row is processed.
func (e *Engine) SubmitBatch(ctx context.Context, up Upload, ac auth.Context) (*Submission, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}

	batch, err := intake.ParseFile(up.Filename, up.Data)
	if err != nil {
		return nil, err
	}

	key := ac.QuotaKey()
	ok, err := e.guard.Check(ctx, key, batch.TotalRows)
	if err != nil {
		e.metrics.QuotaCheckFailed("submit")
		return nil, eris.Wrap(err, "engine: quota check")
	}
	if !ok {
		e.metrics.QuotaDenial("submit")
		used, limit := e.guard.Usage(ctx, key)
		return nil, &QuotaExceededError{Used: used, Limit: limit, Requested: batch.TotalRows}
	}

	var job *model.Job
	err = resilience.Do(ctx, e.cfg.Retry, func(ctx context.Context) error {
		var cerr error
		job, cerr = e.store.CreateJob(ctx, model.NewJob{
			UserID:     ac.UserID,
			OwnerEmail: up.OwnerEmail,
			Columns:    batch.Columns,
			Records:    batch.Records,
		})
		return cerr
	})
	if err != nil {
		return nil, eris.Wrap(err, "engine: create job")
	}

	e.metrics.JobSubmitted()
	zap.L().Info("engine: job submitted",
		zap.String("job_id", job.ID),
		zap.Int64("user_id", ac.UserID),
		zap.Int("total_rows", job.TotalRows),
	)

	e.start(job, key, nil)
	return &Submission{JobID: job.ID, TotalRows: job.TotalRows}, nil
}

// ResumePending restarts every job left in processing by a previous
// process. Each continues after its last persisted row.
func (e *Engine) ResumePending(ctx context.Context) (int, error) {
	jobs, err := e.store.ListResumable(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "engine: list resumable jobs")
	}

	for i := range jobs {
		job := &jobs[i]
		rows, err := export.DecodeCSV(job.Results)
		if err != nil {
			zap.L().Warn("engine: unreadable partial results, restarting job from the first row",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
			rows = nil
		}
		if len(rows) > len(job.Records) {
			rows = rows[:len(job.Records)]
		}
		zap.L().Info("engine: resuming job",
			zap.String("job_id", job.ID),
			zap.Int("processed_rows", len(rows)),
			zap.Int("total_rows", job.TotalRows),
		)
		e.start(job, quota.UserKey(job.UserID), rows)
	}
	return len(jobs), nil
}

// start registers the job and launches its goroutine.
func (e *Engine) start(job *model.Job, key quota.Key, done []model.ResultRow) {
	ctx, cancel := context.WithCancelCause(e.base)

	e.mu.Lock()
	e.running[job.ID] = &task{cancel: cancel, owner: job.OwnerEmail}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.running, job.ID)
			e.mu.Unlock()
			cancel(nil)
		}()
		e.run(ctx, job, key, done)
	}()
}

// Cancel stops a running job owned by ownerEmail. The job is finalized as
// failed with reason "cancelled" and keeps the rows produced so far.
func (e *Engine) Cancel(ctx context.Context, jobID, ownerEmail string) error {
	job, err := e.store.GetJob(ctx, jobID, ownerEmail)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrNotRunning
	}

	e.mu.Lock()
	t, ok := e.running[jobID]
	e.mu.Unlock()
	if !ok || t.owner != ownerEmail {
		return ErrNotRunning
	}

	t.cancel(errCancelled)
	zap.L().Info("engine: job cancel requested", zap.String("job_id", jobID))
	return nil
}

// Running returns how many jobs are active or waiting for a slot.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Wait blocks until every started job and pending notification is done.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown stops accepting work and interrupts running jobs without
// finalizing them, so they stay processing and resume on the next start.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stop(errShutdown)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "engine: shutdown")
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
