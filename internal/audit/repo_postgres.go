package audit

import (
	"context"
	"database/sql"
	"errors"
)

// Schema creates the audit_events table. Rows are INSERT-only.
var Schema = []string{
	`
CREATE TABLE IF NOT EXISTS audit_events (
  id             UUID PRIMARY KEY,
  type           TEXT NOT NULL,
  actor_identity TEXT NOT NULL DEFAULT '',
  actor_role     TEXT NOT NULL DEFAULT '',
  ip_address     TEXT NOT NULL DEFAULT '',
  subject        TEXT NOT NULL DEFAULT '',
  message        TEXT NOT NULL DEFAULT '',
  created_at     TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS audit_events_created_idx ON audit_events (created_at DESC)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) (*PostgresRepo, error) {
	if db == nil {
		return nil, errors.New("audit: db is nil")
	}
	return &PostgresRepo{db: db}, nil
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_identity, actor_role, ip_address, subject, message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.db.ExecContext(ctx, q, e.ID, string(e.Type), e.ActorIdentity, e.ActorRole, e.IPAddress, e.Subject, e.Message, e.CreatedAt)
	return err
}
