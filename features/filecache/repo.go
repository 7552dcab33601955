package filecache

import (
	"context"
	"database/sql"
	"errors"
)

type Repository interface {
	Upsert(ctx context.Context, e *Entry) error
	Get(ctx context.Context, fileID string) (*Entry, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Upsert writes e keyed by file_id. A failed entry keeps any previous
// content key so a stale rendition stays addressable.
func (r *PostgresRepo) Upsert(ctx context.Context, e *Entry) error {
	query := `INSERT INTO file_content_cache
		(file_id, uid, job_id, content_key, content_type, word_count, token_count, truncated, parse_status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (file_id) DO UPDATE SET
			uid = EXCLUDED.uid,
			job_id = COALESCE(EXCLUDED.job_id, file_content_cache.job_id),
			content_key = COALESCE(EXCLUDED.content_key, file_content_cache.content_key),
			content_type = COALESCE(EXCLUDED.content_type, file_content_cache.content_type),
			word_count = EXCLUDED.word_count,
			token_count = EXCLUDED.token_count,
			truncated = EXCLUDED.truncated,
			parse_status = EXCLUDED.parse_status,
			error = EXCLUDED.error,
			updated_at = NOW()
		RETURNING created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		e.FileID, e.UID, nullString(e.JobID), nullString(e.ContentKey), nullString(e.ContentType),
		e.WordCount, e.TokenCount, e.Truncated, e.ParseStatus, nullString(e.Error),
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, fileID string) (*Entry, error) {
	e := &Entry{}
	query := `SELECT file_id, uid, COALESCE(job_id, ''), COALESCE(content_key, ''), COALESCE(content_type, ''),
		word_count, token_count, truncated, parse_status, COALESCE(error, ''), created_at, updated_at
		FROM file_content_cache WHERE file_id = $1`
	err := r.db.QueryRowContext(ctx, query, fileID).Scan(&e.FileID, &e.UID, &e.JobID, &e.ContentKey, &e.ContentType,
		&e.WordCount, &e.TokenCount, &e.Truncated, &e.ParseStatus, &e.Error, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}
