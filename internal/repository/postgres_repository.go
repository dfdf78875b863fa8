package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordSchema = `
CREATE TABLE IF NOT EXISTS marking_records (
	id           TEXT PRIMARY KEY,
	student_name TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	payload      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS marking_records_student_idx
	ON marking_records (student_name, created_at DESC);
`

// PostgresRecordRepository stores records in a marking_records table
type PostgresRecordRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRecordRepository connects to dsn and creates the table if needed
func NewPostgresRecordRepository(ctx context.Context, dsn string) (*PostgresRecordRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	if _, err := pool.Exec(ctx, recordSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresRecordRepository{pool: pool}, nil
}

func (r *PostgresRecordRepository) Save(ctx context.Context, record *MarkingRecord) error {
	if err := record.validate(); err != nil {
		return err
	}
	data, err := record.payload()
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO marking_records (id, student_name, created_at, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET student_name = EXCLUDED.student_name,
		    created_at = EXCLUDED.created_at,
		    payload = EXCLUDED.payload`,
		record.ID, record.StudentName, record.CreatedAt.UTC(), string(data))
	return err
}

func (r *PostgresRecordRepository) Get(ctx context.Context, id string) (*MarkingRecord, error) {
	var (
		rec     MarkingRecord
		payload []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, student_name, created_at, payload
		FROM marking_records WHERE id = $1`, id).
		Scan(&rec.ID, &rec.StudentName, &rec.CreatedAt, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.Result, err = decodePayload(payload); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *PostgresRecordRepository) History(ctx context.Context, studentName string, limit int) ([]*MarkingRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, student_name, created_at, payload
		FROM marking_records
		WHERE student_name = $1
		ORDER BY created_at DESC
		LIMIT $2`, studentName, historyLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MarkingRecord
	for rows.Next() {
		var (
			id, name string
			created  time.Time
			payload  []byte
		)
		if err := rows.Scan(&id, &name, &created, &payload); err != nil {
			return nil, err
		}
		result, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, &MarkingRecord{ID: id, StudentName: name, CreatedAt: created, Result: result})
	}
	return out, rows.Err()
}

func (r *PostgresRecordRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}
