// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proexhq/letterforge/internal/letters"
)

// SubmissionStoreConfig controls the Postgres connection pool.
type SubmissionStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// SubmissionStore persists submissions and ratings in Postgres.
type SubmissionStore struct {
	pool dbPool
}

// NewSubmissionStore creates a Postgres-backed SubmissionStore using the provided config.
func NewSubmissionStore(ctx context.Context, cfg SubmissionStoreConfig) (*SubmissionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SubmissionStore{pool: pool}, nil
}

// NewSubmissionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSubmissionStoreWithPool(pool dbPool) (*SubmissionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SubmissionStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *SubmissionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateSubmission inserts a new submission row.
func (s *SubmissionStore) CreateSubmission(ctx context.Context, sub letters.Submission) error {
	if sub.ID == "" {
		return fmt.Errorf("submission id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO submissions (
	id,
	owner_email,
	access_token,
	status,
	num_testimonials,
	error_text,
	submitted_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID,
		sub.OwnerEmail,
		sub.AccessToken,
		string(sub.Status),
		sub.NumTestimonials,
		sub.ErrorText,
		sub.Submitted,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// UpdateSubmissionStatus transitions a submission's lifecycle state. The
// started timestamp is stamped on the first extracting transition and the
// finished timestamp on any terminal transition.
func (s *SubmissionStore) UpdateSubmissionStatus(
	ctx context.Context,
	id string,
	status letters.SubmissionStatus,
	errText string,
) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE submissions SET
	status = $2,
	error_text = $3,
	started_at = CASE WHEN $2 = 'extracting' THEN COALESCE(started_at, now()) ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE finished_at END
WHERE id = $1`,
		id, string(status), errText,
	)
	if err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return letters.ErrNotFound
	}
	return nil
}

// SaveProcessedData stores generation output as JSONB.
func (s *SubmissionStore) SaveProcessedData(ctx context.Context, id string, data letters.ProcessedData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal processed data: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET processed_data = $2 WHERE id = $1`,
		id, payload,
	)
	if err != nil {
		return fmt.Errorf("save processed data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return letters.ErrNotFound
	}
	return nil
}

const submissionColumns = `
	id,
	owner_email,
	access_token,
	status,
	num_testimonials,
	error_text,
	processed_data,
	submitted_at,
	started_at,
	finished_at`

// GetSubmission fetches one submission by ID.
func (s *SubmissionStore) GetSubmission(ctx context.Context, id string) (letters.Submission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+submissionColumns+` FROM submissions WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return letters.Submission{}, letters.ErrNotFound
		}
		return letters.Submission{}, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// ListSubmissions returns submissions newest first, optionally filtered by owner.
func (s *SubmissionStore) ListSubmissions(ctx context.Context, ownerEmail string) ([]letters.Submission, error) {
	query := `SELECT` + submissionColumns + ` FROM submissions`
	args := []any{}
	if ownerEmail != "" {
		query += ` WHERE owner_email = $1`
		args = append(args, ownerEmail)
	}
	query += ` ORDER BY submitted_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	out := make([]letters.Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list submissions rows: %w", err)
	}
	return out, nil
}

// SaveRating inserts one letter rating.
func (s *SubmissionStore) SaveRating(ctx context.Context, rating letters.LetterRating) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO letter_ratings (
	id,
	submission_id,
	letter_index,
	template_id,
	rating,
	comment,
	created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rating.ID,
		rating.SubmissionID,
		rating.LetterIndex,
		rating.TemplateID,
		rating.Rating,
		rating.Comment,
		rating.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

// ListRatings returns ratings for a submission in creation order.
func (s *SubmissionStore) ListRatings(ctx context.Context, submissionID string) ([]letters.LetterRating, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, submission_id, letter_index, template_id, rating, comment, created_at
FROM letter_ratings
WHERE submission_id = $1
ORDER BY created_at`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	out := make([]letters.LetterRating, 0)
	for rows.Next() {
		var r letters.LetterRating
		if err := rows.Scan(
			&r.ID,
			&r.SubmissionID,
			&r.LetterIndex,
			&r.TemplateID,
			&r.Rating,
			&r.Comment,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ratings rows: %w", err)
	}
	return out, nil
}

// TemplateAnalytics aggregates letter counts and ratings per template.
func (s *SubmissionStore) TemplateAnalytics(ctx context.Context) ([]letters.TemplateStats, error) {
	rows, err := s.pool.Query(ctx, `
WITH letter_counts AS (
	SELECT elem->>'template_id' AS template_id, COUNT(*) AS letters
	FROM submissions s
	CROSS JOIN LATERAL jsonb_array_elements(s.processed_data->'letters') AS elem
	WHERE s.processed_data IS NOT NULL
	GROUP BY 1
), rating_stats AS (
	SELECT template_id, COUNT(*) AS ratings, AVG(rating)::float8 AS avg_rating
	FROM letter_ratings
	GROUP BY 1
)
SELECT
	COALESCE(l.template_id, r.template_id) AS template_id,
	COALESCE(l.letters, 0) AS letters,
	COALESCE(r.ratings, 0) AS ratings,
	COALESCE(r.avg_rating, 0) AS avg_rating
FROM letter_counts l
FULL OUTER JOIN rating_stats r USING (template_id)
ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("template analytics: %w", err)
	}
	defer rows.Close()

	out := make([]letters.TemplateStats, 0)
	for rows.Next() {
		var stats letters.TemplateStats
		if err := rows.Scan(&stats.TemplateID, &stats.Letters, &stats.Ratings, &stats.AvgRating); err != nil {
			return nil, fmt.Errorf("scan template stats: %w", err)
		}
		stats.TemplateName = letters.TemplateName(stats.TemplateID)
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("template analytics rows: %w", err)
	}
	return out, nil
}

func scanSubmission(row pgx.Row) (letters.Submission, error) {
	var (
		sub       letters.Submission
		status    string
		processed []byte
	)
	if err := row.Scan(
		&sub.ID,
		&sub.OwnerEmail,
		&sub.AccessToken,
		&status,
		&sub.NumTestimonials,
		&sub.ErrorText,
		&processed,
		&sub.Submitted,
		&sub.Started,
		&sub.Finished,
	); err != nil {
		return letters.Submission{}, err
	}
	sub.Status = letters.SubmissionStatus(status)
	if len(processed) > 0 {
		var data letters.ProcessedData
		if err := json.Unmarshal(processed, &data); err != nil {
			return letters.Submission{}, fmt.Errorf("unmarshal processed data: %w", err)
		}
		sub.ProcessedData = &data
	}
	return sub, nil
}
