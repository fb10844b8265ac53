package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/internal/quota"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is meant for
// single-node deployments, the CLI, and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps the usage upsert and progress writes serialized.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	email               TEXT NOT NULL UNIQUE,
	subscription_status TEXT NOT NULL DEFAULT 'free',
	token_hash          TEXT UNIQUE,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	user_id        INTEGER NOT NULL DEFAULT 0,
	owner_email    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'processing',
	total_rows     INTEGER NOT NULL,
	processed_rows INTEGER NOT NULL DEFAULT 0,
	results        TEXT NOT NULL DEFAULT '',
	columns        TEXT NOT NULL DEFAULT '[]',
	records        TEXT NOT NULL DEFAULT '[]',
	error          TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs(owner_email, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS user_lookups (
	user_key     TEXT NOT NULL,
	month        TEXT NOT NULL,
	lookup_count INTEGER NOT NULL DEFAULT 0,
	tier         TEXT NOT NULL DEFAULT 'free',
	PRIMARY KEY (user_key, month)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database file is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// CreateUser inserts a user with an optional API token. Accounts are owned
// by the account service; this exists for local setups and tests.
func (s *SQLiteStore) CreateUser(ctx context.Context, email, subscription, token string) (int64, error) {
	var hash any
	if token != "" {
		hash = HashToken(token)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, subscription_status, token_hash) VALUES (?, ?, ?)`,
		email, subscription, hash,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert user %s", email)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: last insert id")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, in model.NewJob) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	columnsJSON, err := json.Marshal(in.Columns)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal columns")
	}
	recordsJSON, err := json.Marshal(in.Records)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal records")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, owner_email, status, total_rows, processed_rows, results, columns, records, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, '', ?, ?, ?, ?)`,
		id, in.UserID, in.OwnerEmail, string(model.JobStatusProcessing), len(in.Records),
		string(columnsJSON), string(recordsJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.Job{
		ID:         id,
		UserID:     in.UserID,
		OwnerEmail: in.OwnerEmail,
		Status:     model.JobStatusProcessing,
		TotalRows:  len(in.Records),
		Columns:    in.Columns,
		Records:    in.Records,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, jobID string, processed int, results string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET processed_rows = ?, results = ?, updated_at = ? WHERE id = ? AND status = 'processing'`,
		processed, results, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update progress %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) Finalize(ctx context.Context, jobID string, status model.JobStatus, processed int, results, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, processed_rows = ?, results = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), processed, results, reason, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID, ownerEmail string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, owner_email, status, total_rows, processed_rows, results, columns, error, created_at, updated_at
		 FROM jobs WHERE id = ? AND owner_email = ?`,
		jobID, ownerEmail,
	)

	var (
		j           model.Job
		status      string
		columnsJSON string
	)
	err := row.Scan(&j.ID, &j.UserID, &j.OwnerEmail, &status, &j.TotalRows, &j.ProcessedRows, &j.Results,
		&columnsJSON, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	j.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(columnsJSON), &j.Columns); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal columns")
	}
	return &j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, ownerEmail string) ([]model.JobSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, total_rows, processed_rows, created_at FROM jobs
		 WHERE owner_email = ? ORDER BY created_at DESC, rowid DESC`,
		ownerEmail,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.JobSummary{}
	for rows.Next() {
		var (
			js     model.JobSummary
			status string
		)
		if err := rows.Scan(&js.ID, &status, &js.TotalRows, &js.ProcessedRows, &js.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job summary")
		}
		js.Status = model.JobStatus(status)
		out = append(out, js)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) ListResumable(ctx context.Context) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, owner_email, total_rows, processed_rows, results, columns, records, created_at, updated_at
		 FROM jobs WHERE status = 'processing' ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list resumable")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Job
	for rows.Next() {
		var (
			j                        model.Job
			columnsJSON, recordsJSON string
		)
		if err := rows.Scan(&j.ID, &j.UserID, &j.OwnerEmail, &j.TotalRows, &j.ProcessedRows, &j.Results,
			&columnsJSON, &recordsJSON, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resumable job")
		}
		j.Status = model.JobStatusProcessing
		if err := json.Unmarshal([]byte(columnsJSON), &j.Columns); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal columns for %s", j.ID)
		}
		if err := json.Unmarshal([]byte(recordsJSON), &j.Records); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal records for %s", j.ID)
		}
		out = append(out, j)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list resumable iterate")
}

func (s *SQLiteStore) UserByToken(ctx context.Context, token string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE token_hash = ?`, HashToken(token)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, eris.Wrap(ErrNotFound, "sqlite: user by token")
	}
	return id, eris.Wrap(err, "sqlite: user by token")
}

func (s *SQLiteStore) SubscriptionTier(ctx context.Context, userID int64) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT subscription_status FROM users WHERE id = ?`, userID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "sqlite: subscription tier %d", userID)
	}
	return status, eris.Wrapf(err, "sqlite: subscription tier %d", userID)
}

func (s *SQLiteStore) GetUsage(ctx context.Context, key, month string) (quota.Usage, bool, error) {
	var (
		u    quota.Usage
		tier string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT lookup_count, tier FROM user_lookups WHERE user_key = ? AND month = ?`,
		key, month,
	).Scan(&u.Count, &tier)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.Usage{}, false, nil
	}
	if err != nil {
		return quota.Usage{}, false, eris.Wrapf(err, "sqlite: get usage %s", key)
	}
	u.Tier = quota.NormalizeTier(tier)
	return u, true, nil
}

func (s *SQLiteStore) AddUsage(ctx context.Context, key, month string, delta int, tier quota.Tier) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO user_lookups (user_key, month, lookup_count, tier) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_key, month) DO UPDATE SET lookup_count = lookup_count + excluded.lookup_count
		 RETURNING lookup_count`,
		key, month, delta, string(tier),
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: add usage %s", key)
	}
	return count, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}
