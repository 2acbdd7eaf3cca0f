package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the dead letter table. EnsureSchema runs it on startup.
const Schema = `
CREATE SCHEMA IF NOT EXISTS capirelay;
CREATE TABLE IF NOT EXISTS capirelay.dead_letters (
	id          BIGSERIAL PRIMARY KEY,
	batch_id    TEXT NOT NULL,
	dataset_id  TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL,
	http_status INT,
	last_error  TEXT,
	event_count INT NOT NULL,
	payload     JSONB NOT NULL,
	dropped_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const insertDeadLetter = `
INSERT INTO capirelay.dead_letters(batch_id, dataset_id, reason, http_status, last_error, event_count, payload)
VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, ''), $6, $7)`

// Execer is satisfied by *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink stores each dead letter as one row.
type PostgresSink struct {
	db Execer
}

func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create dead letter schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, dl DeadLetter) error {
	payload, err := json.Marshal(dl.Events)
	if err != nil {
		return fmt.Errorf("marshal dead letter events: %w", err)
	}
	_, err = s.db.Exec(ctx, insertDeadLetter,
		dl.BatchID, dl.DatasetID, dl.Reason, dl.HTTPStatus, dl.LastError, len(dl.Events), payload)
	if err != nil {
		return fmt.Errorf("insert dead letter %s: %w", dl.BatchID, err)
	}
	return nil
}
