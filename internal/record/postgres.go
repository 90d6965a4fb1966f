package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trainforge/internal/apperrors"
)

const schema = `
create table if not exists "training_jobs" (
	"job_id"        varchar(128) primary key,
	"status"        varchar(16) not null,
	"current_epoch" integer not null default 0,
	"total_epochs"  integer not null default 0,
	"metrics"       jsonb not null default '{}',
	"weights_path"  text not null default '',
	"error"         text not null default '',
	"completed_at"  timestamp with time zone,
	"updated_at"    timestamp with time zone not null default now()
)`

// PostgresStore persists job records in postgres.
//
// Every write acquires a fresh pooled connection and releases it before
// returning, so no connection is ever held across an orchestration
// suspension point.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// SaveProgress upserts a record; the update arm refuses to touch rows that
// already hold a terminal status.
func (s *PostgresStore) SaveProgress(ctx context.Context, rec JobRecord) error {
	metrics, err := marshalMetrics(rec.Metrics)
	if err != nil {
		return err
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return apperrors.Internal("record.acquire", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		insert into "training_jobs"
			("job_id", "status", "current_epoch", "total_epochs", "metrics", "weights_path", "error", "completed_at", "updated_at")
		values ($1, $2, $3, $4, $5, $6, $7, $8, now())
		on conflict ("job_id") do update set
			"status" = excluded."status",
			"current_epoch" = excluded."current_epoch",
			"total_epochs" = excluded."total_epochs",
			"metrics" = excluded."metrics",
			"updated_at" = now()
		where "training_jobs"."status" not in ('completed', 'failed', 'cancelled')`,
		rec.JobID, rec.Status, rec.CurrentEpoch, rec.TotalEpochs,
		metrics, rec.WeightsPath, rec.Error, rec.CompletedAt,
	)
	if err != nil {
		return apperrors.Internal("record.saveProgress", err)
	}
	return nil
}

// SaveTerminal commits the final record for a job.
func (s *PostgresStore) SaveTerminal(ctx context.Context, rec JobRecord) error {
	metrics, err := marshalMetrics(rec.Metrics)
	if err != nil {
		return err
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return apperrors.Internal("record.acquire", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		insert into "training_jobs"
			("job_id", "status", "current_epoch", "total_epochs", "metrics", "weights_path", "error", "completed_at", "updated_at")
		values ($1, $2, $3, $4, $5, $6, $7, $8, now())
		on conflict ("job_id") do update set
			"status" = excluded."status",
			"current_epoch" = excluded."current_epoch",
			"total_epochs" = excluded."total_epochs",
			"metrics" = excluded."metrics",
			"weights_path" = excluded."weights_path",
			"error" = excluded."error",
			"completed_at" = excluded."completed_at",
			"updated_at" = now()`,
		rec.JobID, rec.Status, rec.CurrentEpoch, rec.TotalEpochs,
		metrics, rec.WeightsPath, rec.Error, rec.CompletedAt,
	)
	if err != nil {
		return apperrors.Internal("record.saveTerminal", err)
	}
	return nil
}

// Get loads a record by job id.
func (s *PostgresStore) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, apperrors.Internal("record.acquire", err)
	}
	defer conn.Release()

	var (
		rec         JobRecord
		metrics     []byte
		completedAt *time.Time
	)
	err = conn.QueryRow(ctx, `
		select "job_id", "status", "current_epoch", "total_epochs", "metrics", "weights_path", "error", "completed_at"
		from "training_jobs" where "job_id" = $1`,
		jobID,
	).Scan(
		&rec.JobID, &rec.Status, &rec.CurrentEpoch, &rec.TotalEpochs,
		&metrics, &rec.WeightsPath, &rec.Error, &completedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("job record", jobID)
	}
	if err != nil {
		return nil, apperrors.Internal("record.get", err)
	}

	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &rec.Metrics); err != nil {
			return nil, apperrors.Internal("record.get", err)
		}
	}
	rec.CompletedAt = completedAt
	return &rec, nil
}

// Ping verifies database connectivity for readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func marshalMetrics(m map[string]float64) ([]byte, error) {
	if m == nil {
		m = map[string]float64{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, apperrors.Internal("record.marshalMetrics", err)
	}
	return b, nil
}

var _ Store = (*PostgresStore)(nil)
