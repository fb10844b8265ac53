package engine

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/auth"
	"github.com/support934/smartgecode-saas/internal/export"
	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/pkg/geocode"
)

// Status is a snapshot of a job for polling.
type Status struct {
	JobID         string            `json:"jobId"`
	Status        model.JobStatus   `json:"status"`
	TotalRows     int               `json:"totalRows"`
	ProcessedRows int               `json:"processedRows"`
	Preview       []model.ResultRow `json:"preview"`
	Error         string            `json:"error,omitempty"`
}

// PollStatus returns progress and the first rows of output.
func (e *Engine) PollStatus(ctx context.Context, jobID, ownerEmail string) (*Status, error) {
	job, err := e.store.GetJob(ctx, jobID, ownerEmail)
	if err != nil {
		return nil, err
	}

	st := &Status{
		JobID:         job.ID,
		Status:        job.Status,
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		Preview:       []model.ResultRow{},
		Error:         job.Error,
	}

	rows, err := export.DecodeCSV(job.Results)
	if err != nil {
		// Failed jobs carry a reason instead of CSV.
		zap.L().Debug("engine: results not decodable for preview", zap.String("job_id", job.ID), zap.Error(err))
		return st, nil
	}
	if len(rows) > e.cfg.PreviewRows {
		rows = rows[:e.cfg.PreviewRows]
	}
	if rows != nil {
		st.Preview = rows
	}
	return st, nil
}

// Download formats.
const (
	FormatCSV     = "csv"
	FormatGeoJSON = "geojson"
)

// Download is a results file ready to send.
type Download struct {
	Filename    string
	ContentType string
	Body        []byte
}

// DownloadResults returns the job's results as CSV, or the successful rows
// as GeoJSON.
func (e *Engine) DownloadResults(ctx context.Context, jobID, ownerEmail, format string) (*Download, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatGeoJSON {
		return nil, invalid("unsupported download format: " + format)
	}

	job, err := e.store.GetJob(ctx, jobID, ownerEmail)
	if err != nil {
		return nil, err
	}

	if format == FormatCSV {
		body := job.Results
		if body == "" {
			body = export.Header
		}
		return &Download{
			Filename:    "geocoded-" + job.ID + ".csv",
			ContentType: "text/csv",
			Body:        []byte(body),
		}, nil
	}

	rows, err := export.DecodeCSV(job.Results)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: decode results for %s", job.ID)
	}
	body, err := export.EncodeGeoJSON(rows)
	if err != nil {
		return nil, err
	}
	return &Download{
		Filename:    "geocoded-" + job.ID + ".geojson",
		ContentType: "application/geo+json",
		Body:        body,
	}, nil
}

// ListJobs returns the owner's jobs, newest first.
func (e *Engine) ListJobs(ctx context.Context, ownerEmail string) ([]model.JobSummary, error) {
	return e.store.ListJobs(ctx, ownerEmail)
}

// SingleLookup geocodes one free-text address for the caller. Only a
// successful lookup is counted against quota.
func (e *Engine) SingleLookup(ctx context.Context, address string, ac auth.Context) (geocode.Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return geocode.Result{}, invalid("Missing required param: address. Use ?address=your_query.")
	}

	key := ac.QuotaKey()
	ok, err := e.guard.Check(ctx, key, 1)
	if err != nil {
		e.metrics.QuotaCheckFailed("single")
		return geocode.Result{}, eris.Wrap(err, "engine: quota check")
	}
	if !ok {
		e.metrics.QuotaDenial("single")
		used, limit := e.guard.Usage(ctx, key)
		return geocode.Result{}, &QuotaExceededError{Used: used, Limit: limit, Requested: 1}
	}

	res := e.client.Lookup(ctx, geocode.BuildQuery(address, "", "", ""))
	if res.Matched() {
		if err := e.guard.Increment(ctx, key, 1); err != nil {
			zap.L().Error("engine: record single lookup usage", zap.Int64("user_id", ac.UserID), zap.Error(err))
		}
	}
	return res, nil
}

// UsageReport is the caller's quota standing this month.
type UsageReport struct {
	Month     string `json:"month"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// Usage reports the caller's lookups this month.
func (e *Engine) Usage(ctx context.Context, ac auth.Context) UsageReport {
	used, limit := e.guard.Usage(ctx, ac.QuotaKey())
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return UsageReport{Month: e.guard.Month(), Used: used, Limit: limit, Remaining: remaining}
}
