package pending

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore is the managed-mode pending store backed by Postgres.
type PGStore struct {
	db *sql.DB
}

// NewPGStore connects to Postgres and migrates the schema.
func NewPGStore(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PGStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("pending store opened", "driver", "postgres")
	return s, nil
}

func (s *PGStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pending_messages (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			recipient TEXT NOT NULL,
			number TEXT NOT NULL,
			kind TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			media_url TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			enqueued_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_key
			ON pending_messages(instance_id, number, enqueued_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) Enqueue(ctx context.Context, msg Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_messages
			(id, instance_id, recipient, number, kind, body, media_url, reason, enqueued_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.InstanceID, msg.To, msg.Number, string(msg.Kind),
		msg.Body, msg.MediaURL, msg.Reason, msg.EnqueuedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("enqueue pending message: %w", err)
	}
	return nil
}

func (s *PGStore) Drain(ctx context.Context, instanceID, number string) ([]Message, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin drain: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, instance_id, recipient, number, kind, body, media_url, reason, enqueued_at
		 FROM pending_messages
		 WHERE instance_id = $1 AND number = $2
		 ORDER BY enqueued_at ASC, id ASC
		 FOR UPDATE`,
		instanceID, number,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_messages WHERE instance_id = $1 AND number = $2`,
		instanceID, number,
	); err != nil {
		return nil, fmt.Errorf("delete drained: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain: %w", err)
	}
	return msgs, nil
}

func (s *PGStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id, COUNT(*) FROM pending_messages GROUP BY instance_id`)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{ByInstance: make(map[string]int)}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return Stats{}, err
		}
		stats.ByInstance[id] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

func (s *PGStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_messages WHERE enqueued_at < $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("evict pending: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PGStore) Close() error { return s.db.Close() }
