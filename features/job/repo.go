package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Repository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, res Result) (bool, error)
	Fail(ctx context.Context, id, reason string) (bool, error)
	PromoteStorage(ctx context.Context, id, permanentKey string) error
	ListByUser(ctx context.Context, uid string, filter ListFilter) ([]Job, int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const jobColumns = `id, type, uid, status, COALESCE(storage_key, ''), storage_type, COALESCE(mime_type, ''), COALESCE(name, ''),
	COALESCE(file_id, ''), COALESCE(result_id, ''), COALESCE(result_version, 0), COALESCE(error, ''), metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner, extra ...any) (*Job, error) {
	j := &Job{}
	var metadata []byte
	dest := []any{&j.ID, &j.Type, &j.UID, &j.Status, &j.StorageKey, &j.StorageType, &j.MimeType, &j.Name,
		&j.FileID, &j.ResultID, &j.ResultVersion, &j.Error, &metadata, &j.CreatedAt, &j.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		j.Metadata = json.RawMessage(metadata)
	}
	return j, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

func (r *PostgresRepo) Create(ctx context.Context, job *Job) error {
	query := `INSERT INTO offload_jobs (id, type, uid, status, storage_type, file_id, result_id, result_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`
	var resultVersion any
	if job.ResultVersion != 0 {
		resultVersion = job.ResultVersion
	}
	return r.db.QueryRowContext(ctx, query,
		job.ID, job.Type, job.UID, job.Status, job.StorageType,
		nullString(job.FileID), nullString(job.ResultID), resultVersion,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM offload_jobs WHERE id = $1`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (r *PostgresRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	query := `UPDATE offload_jobs SET status = 'processing', updated_at = NOW() WHERE id = $1 AND status = 'pending'`
	return r.execApplied(ctx, query, id)
}

// Complete applies the success transition unless the job is already terminal.
func (r *PostgresRepo) Complete(ctx context.Context, id string, res Result) (bool, error) {
	query := `UPDATE offload_jobs
		SET status = 'success', storage_key = $2, name = $3, mime_type = $4, metadata = $5, error = NULL, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('success', 'failed')`
	return r.execApplied(ctx, query, id, res.StorageKey, nullString(res.Name), nullString(res.MimeType), nullJSON(res.Metadata))
}

// Fail applies the failed transition unless the job is already terminal.
func (r *PostgresRepo) Fail(ctx context.Context, id, reason string) (bool, error) {
	query := `UPDATE offload_jobs SET status = 'failed', error = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('success', 'failed')`
	return r.execApplied(ctx, query, id, reason)
}

func (r *PostgresRepo) PromoteStorage(ctx context.Context, id, permanentKey string) error {
	query := `UPDATE offload_jobs SET storage_key = $2, storage_type = 'permanent', updated_at = NOW()
		WHERE id = $1 AND storage_type = 'temporary'`
	applied, err := r.execApplied(ctx, query, id, permanentKey)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("promote storage for job %s: no temporary job row updated", id)
	}
	return nil
}

func (r *PostgresRepo) ListByUser(ctx context.Context, uid string, filter ListFilter) ([]Job, int, error) {
	filter = filter.normalized()

	conds := []string{"uid = $1"}
	args := []any{uid}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)

	query := fmt.Sprintf(`SELECT %s, COUNT(*) OVER() FROM offload_jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []Job
	total := 0
	for rows.Next() {
		j, err := scanJob(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, total, rows.Err()
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM offload_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Status]int{}
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

func (r *PostgresRepo) execApplied(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
