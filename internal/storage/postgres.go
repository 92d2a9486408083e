package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perpsight/perpsight/internal/learning"
	"github.com/perpsight/perpsight/internal/signal"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	db PgxQuerier
}

// PgxQuerier is the subset of pgxpool.Pool the store needs; tests substitute
// a mock.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStore wraps a pool. Returns nil for a nil pool so Postgres
// stays optional.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		return nil
	}
	return &PostgresStore{db: pool}
}

// NewPostgresStoreWithQuerier is the test constructor.
func NewPostgresStoreWithQuerier(db PgxQuerier) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the three tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS feedback_journal (
	ref_id          TEXT PRIMARY KEY,
	rating          SMALLINT NOT NULL,
	pattern_names   TEXT[] NOT NULL DEFAULT '{}',
	response_time_s DOUBLE PRECISION,
	received_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_received_at ON feedback_journal (received_at);

CREATE TABLE IF NOT EXISTS pattern_weights (
	pattern_name   TEXT PRIMARY KEY,
	base_weight    DOUBLE PRECISION NOT NULL,
	current_weight DOUBLE PRECISION NOT NULL,
	min_confidence DOUBLE PRECISION NOT NULL,
	history        JSONB NOT NULL DEFAULT '[]',
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS signal_quality (
	signal_id    TEXT PRIMARY KEY,
	payload      JSONB NOT NULL,
	final_rating SMALLINT,
	rated_at     TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_signal_quality_created_at ON signal_quality (created_at);
`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendFeedback(ctx context.Context, record learning.FeedbackRecord) error {
	const query = `
		INSERT INTO feedback_journal (ref_id, rating, pattern_names, response_time_s, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ref_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query,
		record.RefID, record.Rating, record.PatternNames, record.ResponseTimeS, record.ReceivedAt,
	); err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) FeedbackByRef(ctx context.Context, refID string) (*learning.FeedbackRecord, error) {
	const query = `
		SELECT ref_id, rating, pattern_names, COALESCE(response_time_s, 0), received_at
		FROM feedback_journal WHERE ref_id = $1
	`
	var record learning.FeedbackRecord
	err := s.db.QueryRow(ctx, query, refID).Scan(
		&record.RefID, &record.Rating, &record.PatternNames, &record.ResponseTimeS, &record.ReceivedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feedback: %w", err)
	}
	return &record, nil
}

func (s *PostgresStore) FeedbackSince(ctx context.Context, since time.Time) ([]learning.FeedbackRecord, error) {
	const query = `
		SELECT ref_id, rating, pattern_names, COALESCE(response_time_s, 0), received_at
		FROM feedback_journal
		WHERE received_at >= $1
		ORDER BY received_at ASC
	`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []learning.FeedbackRecord
	for rows.Next() {
		var record learning.FeedbackRecord
		if err := rows.Scan(
			&record.RefID, &record.Rating, &record.PatternNames, &record.ResponseTimeS, &record.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertPattern(ctx context.Context, weight learning.PatternWeight) error {
	history, err := json.Marshal(weight.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	const query = `
		INSERT INTO pattern_weights (pattern_name, base_weight, current_weight, min_confidence, history, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pattern_name) DO UPDATE SET
			current_weight = EXCLUDED.current_weight,
			min_confidence = EXCLUDED.min_confidence,
			history        = EXCLUDED.history,
			updated_at     = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, query,
		weight.Name, weight.BaseWeight, weight.CurrentWeight, weight.MinConfidence, history, weight.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

func (s *PostgresStore) Pattern(ctx context.Context, name string) (*learning.PatternWeight, error) {
	const query = `
		SELECT pattern_name, base_weight, current_weight, min_confidence, history, updated_at
		FROM pattern_weights WHERE pattern_name = $1
	`
	var weight learning.PatternWeight
	var history []byte
	err := s.db.QueryRow(ctx, query, name).Scan(
		&weight.Name, &weight.BaseWeight, &weight.CurrentWeight, &weight.MinConfidence, &history, &weight.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	if err := json.Unmarshal(history, &weight.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return &weight, nil
}

func (s *PostgresStore) Patterns(ctx context.Context) ([]learning.PatternWeight, error) {
	const query = `
		SELECT pattern_name, base_weight, current_weight, min_confidence, history, updated_at
		FROM pattern_weights ORDER BY pattern_name
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []learning.PatternWeight
	for rows.Next() {
		var weight learning.PatternWeight
		var history []byte
		if err := rows.Scan(
			&weight.Name, &weight.BaseWeight, &weight.CurrentWeight, &weight.MinConfidence, &history, &weight.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		if err := json.Unmarshal(history, &weight.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
		out = append(out, weight)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertSignal(ctx context.Context, sig *signal.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	const query = `
		INSERT INTO signal_quality (signal_id, payload)
		VALUES ($1, $2)
		ON CONFLICT (signal_id) DO UPDATE SET payload = EXCLUDED.payload
	`
	if _, err := s.db.Exec(ctx, query, sig.SignalID, payload); err != nil {
		return fmt.Errorf("upsert signal: %w", err)
	}
	return nil
}

func (s *PostgresStore) RateSignal(ctx context.Context, signalID string, rating int) error {
	const query = `
		UPDATE signal_quality SET final_rating = $2, rated_at = now()
		WHERE signal_id = $1
	`
	tag, err := s.db.Exec(ctx, query, signalID, rating)
	if err != nil {
		return fmt.Errorf("rate signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RecentSignals(ctx context.Context, limit int) ([]SignalQuality, error) {
	if limit <= 0 {
		limit = memorySignalCap
	}
	const query = `
		SELECT signal_id, payload, final_rating, rated_at, created_at
		FROM signal_quality ORDER BY created_at DESC LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []SignalQuality
	for rows.Next() {
		var sq SignalQuality
		var payload []byte
		if err := rows.Scan(&sq.SignalID, &payload, &sq.FinalRating, &sq.RatedAt, &sq.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		if err := json.Unmarshal(payload, &sq.Signal); err != nil {
			return nil, fmt.Errorf("unmarshal signal: %w", err)
		}
		out = append(out, sq)
	}
	return out, rows.Err()
}
