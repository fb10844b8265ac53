package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/support934/smartgecode-saas/internal/db"
	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/internal/quota"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool. It only
// connects; the schema may not exist until Migrate runs.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := poolConfig(connString, poolCfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// poolConfig parses connString and applies pool tuning. New connections
// run no statements, so a fresh database can be opened and migrated.
func poolConfig(connString string, poolCfg *PoolConfig) (*pgxpool.Config, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	return pgxCfg, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id                  BIGSERIAL PRIMARY KEY,
	email               TEXT NOT NULL UNIQUE,
	subscription_status TEXT NOT NULL DEFAULT 'free',
	token_hash          TEXT UNIQUE,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	user_id        BIGINT NOT NULL DEFAULT 0,
	owner_email    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'processing',
	total_rows     INTEGER NOT NULL,
	processed_rows INTEGER NOT NULL DEFAULT 0,
	results        TEXT NOT NULL DEFAULT '',
	columns        JSONB NOT NULL DEFAULT '[]',
	records        JSONB NOT NULL DEFAULT '[]',
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_owner_created ON jobs(owner_email, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS user_lookups (
	user_key     TEXT NOT NULL,
	month        TEXT NOT NULL,
	lookup_count INTEGER NOT NULL DEFAULT 0,
	tier         TEXT NOT NULL DEFAULT 'free',
	PRIMARY KEY (user_key, month)
);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: migrate begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: migrate commit")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, in model.NewJob) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	columnsJSON, err := json.Marshal(in.Columns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal columns")
	}
	recordsJSON, err := json.Marshal(in.Records)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal records")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, owner_email, status, total_rows, processed_rows, results, columns, records, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, '', $6, $7, $8, $9)`,
		id, in.UserID, in.OwnerEmail, string(model.JobStatusProcessing), len(in.Records), columnsJSON, recordsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
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

func (s *PostgresStore) UpdateProgress(ctx context.Context, jobID string, processed int, results string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET processed_rows = $1, results = $2, updated_at = $3 WHERE id = $4 AND status = 'processing'`,
		processed, results, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update progress %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update progress %s", jobID)
	}
	return nil
}

func (s *PostgresStore) Finalize(ctx context.Context, jobID string, status model.JobStatus, processed int, results, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, processed_rows = $2, results = $3, error = $4, updated_at = $5 WHERE id = $6`,
		string(status), processed, results, reason, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: finalize job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID, ownerEmail string) (*model.Job, error) {
	var (
		j           model.Job
		status      string
		columnsJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, owner_email, status, total_rows, processed_rows, results, columns, error, created_at, updated_at FROM jobs WHERE id = $1 AND owner_email = $2`,
		jobID, ownerEmail,
	).Scan(&j.ID, &j.UserID, &j.OwnerEmail, &status, &j.TotalRows, &j.ProcessedRows, &j.Results, &columnsJSON, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get job %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	j.Status = model.JobStatus(status)
	if err := json.Unmarshal(columnsJSON, &j.Columns); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal columns")
	}
	return &j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, ownerEmail string) ([]model.JobSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, total_rows, processed_rows, created_at FROM jobs WHERE owner_email = $1 ORDER BY created_at DESC, id`,
		ownerEmail,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	out := []model.JobSummary{}
	for rows.Next() {
		var (
			js     model.JobSummary
			status string
		)
		if err := rows.Scan(&js.ID, &status, &js.TotalRows, &js.ProcessedRows, &js.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job summary")
		}
		js.Status = model.JobStatus(status)
		out = append(out, js)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) ListResumable(ctx context.Context) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, owner_email, total_rows, processed_rows, results, columns, records, created_at, updated_at
		 FROM jobs WHERE status = 'processing' ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list resumable")
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		var (
			j                        model.Job
			columnsJSON, recordsJSON []byte
		)
		if err := rows.Scan(&j.ID, &j.UserID, &j.OwnerEmail, &j.TotalRows, &j.ProcessedRows, &j.Results,
			&columnsJSON, &recordsJSON, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resumable job")
		}
		j.Status = model.JobStatusProcessing
		if err := json.Unmarshal(columnsJSON, &j.Columns); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal columns for %s", j.ID)
		}
		if err := json.Unmarshal(recordsJSON, &j.Records); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal records for %s", j.ID)
		}
		out = append(out, j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list resumable iterate")
}

func (s *PostgresStore) UserByToken(ctx context.Context, token string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM users WHERE token_hash = $1`, HashToken(token)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, eris.Wrap(ErrNotFound, "postgres: user by token")
		}
		return 0, eris.Wrap(err, "postgres: user by token")
	}
	return id, nil
}

func (s *PostgresStore) SubscriptionTier(ctx context.Context, userID int64) (string, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT subscription_status FROM users WHERE id = $1`, userID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", eris.Wrapf(ErrNotFound, "postgres: subscription tier %d", userID)
		}
		return "", eris.Wrapf(err, "postgres: subscription tier %d", userID)
	}
	return status, nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, key, month string) (quota.Usage, bool, error) {
	var (
		u    quota.Usage
		tier string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT lookup_count, tier FROM user_lookups WHERE user_key = $1 AND month = $2`,
		key, month,
	).Scan(&u.Count, &tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return quota.Usage{}, false, nil
		}
		return quota.Usage{}, false, eris.Wrapf(err, "postgres: get usage %s", key)
	}
	u.Tier = quota.NormalizeTier(tier)
	return u, true, nil
}

func (s *PostgresStore) AddUsage(ctx context.Context, key, month string, delta int, tier quota.Tier) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_lookups (user_key, month, lookup_count, tier) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_key, month) DO UPDATE SET lookup_count = user_lookups.lookup_count + EXCLUDED.lookup_count
		 RETURNING lookup_count`,
		key, month, delta, string(tier),
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: add usage %s", key)
	}
	return count, nil
}
