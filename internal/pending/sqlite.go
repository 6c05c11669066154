package pending

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/wagate/internal/core"
)

// SQLiteStore is the default (standalone mode) pending store, a single
// sqlite database file in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("pending store opened", "driver", "sqlite", "path", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
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
			enqueued_at INTEGER NOT NULL
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

func (s *SQLiteStore) Enqueue(ctx context.Context, msg Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_messages
			(id, instance_id, recipient, number, kind, body, media_url, reason, enqueued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.InstanceID, msg.To, msg.Number, string(msg.Kind),
		msg.Body, msg.MediaURL, msg.Reason, msg.EnqueuedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("enqueue pending message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Drain(ctx context.Context, instanceID, number string) ([]Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin drain: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, instance_id, recipient, number, kind, body, media_url, reason, enqueued_at
		 FROM pending_messages
		 WHERE instance_id = ? AND number = ?
		 ORDER BY enqueued_at ASC, id ASC`,
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
		`DELETE FROM pending_messages WHERE instance_id = ? AND number = ?`,
		instanceID, number,
	); err != nil {
		return nil, fmt.Errorf("delete drained: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
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

func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_messages WHERE enqueued_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("evict pending: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// scanMessages is shared by the sqlite and postgres stores.
func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var msgs []Message
	for rows.Next() {
		var m Message
		var kind string
		var enqueuedMS int64
		if err := rows.Scan(&m.ID, &m.InstanceID, &m.To, &m.Number, &kind,
			&m.Body, &m.MediaURL, &m.Reason, &enqueuedMS); err != nil {
			return nil, fmt.Errorf("scan pending message: %w", err)
		}
		m.Kind = core.MessageKind(kind)
		m.EnqueuedAt = time.UnixMilli(enqueuedMS)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
