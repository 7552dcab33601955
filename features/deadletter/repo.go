package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

type Repository interface {
	Save(ctx context.Context, msg *Message) error
	List(ctx context.Context) ([]Message, error)
	Get(ctx context.Context, id string) (*Message, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Prune(ctx context.Context, keep int) (int64, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, msg *Message) error {
	body := msg.Body
	if !json.Valid(body) {
		// Non-JSON bodies are kept verbatim as a JSON string.
		quoted, err := json.Marshal(string(body))
		if err != nil {
			return err
		}
		body = quoted
	}
	query := `INSERT INTO failed_messages (job_id, topic, body, error, attempts) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, msg.JobID, msg.Topic, string(body), msg.Error, msg.Attempts).Scan(&msg.ID, &msg.CreatedAt)
}

func (r *PostgresRepo) List(ctx context.Context) ([]Message, error) {
	query := `SELECT id, COALESCE(job_id, ''), topic, body, COALESCE(error, ''), attempts, created_at FROM failed_messages ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var body []byte
		if err := rows.Scan(&m.ID, &m.JobID, &m.Topic, &body, &m.Error, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Body = json.RawMessage(body)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Message, error) {
	m := &Message{}
	var body []byte
	query := `SELECT id, COALESCE(job_id, ''), topic, body, COALESCE(error, ''), attempts, created_at FROM failed_messages WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.JobID, &m.Topic, &body, &m.Error, &m.Attempts, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Body = json.RawMessage(body)
	return m, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM failed_messages WHERE id = $1`, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_messages`).Scan(&count)
	return count, err
}

// Prune deletes everything but the newest keep rows.
func (r *PostgresRepo) Prune(ctx context.Context, keep int) (int64, error) {
	query := `DELETE FROM failed_messages WHERE id NOT IN (
		SELECT id FROM failed_messages ORDER BY created_at DESC, id DESC LIMIT $1)`
	res, err := r.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
