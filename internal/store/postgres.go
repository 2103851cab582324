package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitchroom/pitchroom/internal/pitch"
)

// PostgresStore persists pitch records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pitches (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			persona TEXT NOT NULL,
			filename TEXT NOT NULL,
			media_type TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			object_key TEXT NOT NULL DEFAULT '',
			pages INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			polls INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pitches_user_created ON pitches (user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const recordColumns = `id, user_id, persona, filename, media_type, size_bytes, object_key, pages, status, polls, error, created_at, updated_at`

func scanRecord(row pgx.Row) (PitchRecord, error) {
	var r PitchRecord
	var status string
	err := row.Scan(&r.ID, &r.UserID, &r.Persona, &r.Filename, &r.MediaType, &r.Size, &r.ObjectKey, &r.Pages, &status, &r.Polls, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PitchRecord{}, ErrNotFound
	}
	if err != nil {
		return PitchRecord{}, err
	}
	r.Status = pitch.Status(status)
	return r, nil
}

func (s *PostgresStore) Create(ctx context.Context, record PitchRecord) (PitchRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.UpdatedAt = record.CreatedAt
	if record.Status == "" {
		record.Status = pitch.StatusUploaded
	}
	record.Polls = 0

	_, err := s.pool.Exec(ctx,
		`INSERT INTO pitches (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.ID,
		record.UserID,
		record.Persona,
		record.Filename,
		record.MediaType,
		record.Size,
		record.ObjectKey,
		record.Pages,
		string(record.Status),
		record.Polls,
		record.Error,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return PitchRecord{}, fmt.Errorf("create pitch: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (PitchRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM pitches WHERE id=$1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return PitchRecord{}, fmt.Errorf("get pitch: %w", err)
	}
	return rec, err
}

// RecordPoll increments the counter and derives the status in one statement.
// SET expressions see the pre-update row, so polls is the previous count.
func (s *PostgresStore) RecordPoll(ctx context.Context, id string, readyAfter int) (PitchRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`UPDATE pitches SET
			status = CASE
				WHEN status = 'error' THEN 'error'
				WHEN polls >= $2 THEN 'ready'
				ELSE 'processing'
			END,
			polls = polls + 1,
			updated_at = now()
		 WHERE id=$1
		 RETURNING `+recordColumns,
		id,
		normalizeReadyAfter(readyAfter),
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return PitchRecord{}, fmt.Errorf("record poll: %w", err)
	}
	return rec, err
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pitches SET status='error', error=$2, updated_at=now() WHERE id=$1`,
		id,
		reason,
	)
	if err != nil {
		return fmt.Errorf("mark pitch failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
