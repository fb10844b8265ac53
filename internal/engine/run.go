package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/export"
	"github.com/support934/smartgecode-saas/internal/intake"
	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/internal/notify"
	"github.com/support934/smartgecode-saas/internal/quota"
	"github.com/support934/smartgecode-saas/internal/resilience"
)

// Finish reasons recorded in metrics and notifications.
const (
	reasonDone      = "done"
	reasonLimitHit  = "limit_hit"
	reasonCancelled = "cancelled"
	reasonInvalid   = "invalid"
)

// run drives one job to a terminal state, or until shutdown. done holds
// rows already persisted by an earlier process.
func (e *Engine) run(ctx context.Context, job *model.Job, key quota.Key, done []model.ResultRow) {
	log := zap.L().With(zap.String("job_id", job.ID))

	if err := e.slots.Acquire(ctx, 1); err != nil {
		e.interrupted(ctx, job, len(done), encodeAll(done), log)
		return
	}
	defer e.slots.Release(1)

	e.metrics.JobStarted()
	defer e.metrics.JobStopped()

	if err := intake.RequireColumns(job.Columns); err != nil {
		e.fail(job, len(done), err.Error(), log)
		return
	}
	if len(job.Records) != job.TotalRows {
		e.fail(job, len(done), fmt.Sprintf("job has %d records but expects %d rows", len(job.Records), job.TotalRows), log)
		return
	}

	var buf strings.Builder
	buf.WriteString(encodeAll(done))

	for i := len(done); i < job.TotalRows; i++ {
		if ctx.Err() != nil {
			e.interrupted(ctx, job, i, buf.String(), log)
			return
		}

		if !e.rowAllowed(ctx, key, i, log) {
			e.metrics.QuotaDenial("row")
			buf.WriteString(export.EncodeRow(model.LimitHitRow()))
			e.complete(job, i+1, buf.String(), reasonLimitHit, log)
			return
		}

		rec := job.Records[i]
		res := e.resolver.Resolve(ctx, rec)
		if ctx.Err() != nil {
			// A row cut short by cancellation is not recorded.
			e.interrupted(ctx, job, i, buf.String(), log)
			return
		}

		row := res.Row(rec)
		buf.WriteString(export.EncodeRow(row))
		e.metrics.ObserveRow(string(row.Status), string(row.MatchType))

		if res.Result.Matched() {
			if err := e.guard.Increment(ctx, key, 1); err != nil {
				log.Error("engine: record lookup usage", zap.Int("row", i), zap.Error(err))
			}
		}

		e.persist(ctx, job.ID, "update progress", func(ctx context.Context) error {
			return e.store.UpdateProgress(ctx, job.ID, i+1, buf.String())
		})

		if i+1 < job.TotalRows && !e.sleep(ctx) {
			e.interrupted(ctx, job, i+1, buf.String(), log)
			return
		}
	}

	e.complete(job, job.TotalRows, buf.String(), reasonDone, log)
}

// rowAllowed reports whether the next row fits the quota. The whole batch
// was checked at submission, so a failed usage read lets the row through
// and only a confirmed overage stops the job.
func (e *Engine) rowAllowed(ctx context.Context, key quota.Key, row int, log *zap.Logger) bool {
	ok, err := e.guard.Check(ctx, key, 1)
	if err != nil {
		e.metrics.QuotaCheckFailed("row")
		log.Error("engine: quota check", zap.Int("row", row), zap.Error(err))
		return true
	}
	return ok
}

// sleep waits out the row delay. It returns false if ctx ended first.
func (e *Engine) sleep(ctx context.Context) bool {
	if e.cfg.RowDelay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-e.clock.After(e.cfg.RowDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

// complete finalizes a job as complete and sends the notification.
func (e *Engine) complete(job *model.Job, processed int, results, reason string, log *zap.Logger) {
	e.persist(context.Background(), job.ID, "finalize", func(ctx context.Context) error {
		return e.store.Finalize(ctx, job.ID, model.JobStatusComplete, processed, results, "")
	})
	e.metrics.JobFinished(string(model.JobStatusComplete), reason)
	log.Info("engine: job complete",
		zap.String("reason", reason),
		zap.Int("processed_rows", processed),
		zap.Int("total_rows", job.TotalRows),
	)

	e.notify(notify.Event{
		JobID:         job.ID,
		UserID:        job.UserID,
		OwnerEmail:    job.OwnerEmail,
		Status:        string(model.JobStatusComplete),
		Reason:        reason,
		TotalRows:     job.TotalRows,
		ProcessedRows: processed,
		CompletedAt:   e.clock.Now().UTC(),
	})
}

// fail finalizes a job that cannot run. The reason replaces the results so
// a download shows why.
func (e *Engine) fail(job *model.Job, processed int, reason string, log *zap.Logger) {
	e.persist(context.Background(), job.ID, "finalize failed", func(ctx context.Context) error {
		return e.store.Finalize(ctx, job.ID, model.JobStatusFailed, processed, reason, reason)
	})
	e.metrics.JobFinished(string(model.JobStatusFailed), reasonInvalid)
	log.Warn("engine: job failed", zap.String("reason", reason))
}

// interrupted handles a job whose context ended. An explicit cancel
// finalizes it as failed; shutdown leaves it processing for resume.
func (e *Engine) interrupted(ctx context.Context, job *model.Job, processed int, results string, log *zap.Logger) {
	if !errors.Is(context.Cause(ctx), errCancelled) {
		log.Info("engine: job interrupted, will resume", zap.Int("processed_rows", processed))
		return
	}

	e.persist(context.Background(), job.ID, "finalize cancelled", func(ctx context.Context) error {
		return e.store.Finalize(ctx, job.ID, model.JobStatusFailed, processed, results, reasonCancelled)
	})
	e.metrics.JobFinished(string(model.JobStatusFailed), reasonCancelled)
	log.Info("engine: job cancelled", zap.Int("processed_rows", processed))
}

// persist retries transient store failures and otherwise logs and counts
// them. A lost progress write never stops the job.
func (e *Engine) persist(ctx context.Context, jobID, op string, fn func(context.Context) error) {
	cfg := e.cfg.Retry
	cfg.OnRetry = resilience.RetryLogger("engine: "+op, zap.String("job_id", jobID))
	err := resilience.Do(context.WithoutCancel(ctx), cfg, fn)
	if err != nil {
		e.metrics.PersistFailed()
		zap.L().Error("engine: "+op, zap.String("job_id", jobID), zap.Error(err))
	}
}

// notify delivers the event in the background.
func (e *Engine) notify(ev notify.Event) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.NotifyTimeout)
		defer cancel()
		if err := e.notifier.JobCompleted(ctx, ev); err != nil {
			e.metrics.NotifyFailed()
			zap.L().Warn("engine: completion notification failed",
				zap.String("job_id", ev.JobID),
				zap.Error(err),
			)
		}
	}()
}

func encodeAll(rows []model.ResultRow) string {
	return export.EncodeCSV(rows)
}
