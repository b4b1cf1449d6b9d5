package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callrelay/pkg/utils"
)

// Schema creates the call_history table. Rows are INSERT-only.
var Schema = []string{
	`
CREATE TABLE IF NOT EXISTS call_history (
  id                    UUID PRIMARY KEY,
  call_id               TEXT NOT NULL,
  owner_identity        TEXT NOT NULL,
  counterparty_identity TEXT NOT NULL,
  direction             TEXT NOT NULL CHECK (direction IN ('outgoing','incoming')),
  outcome               TEXT NOT NULL CHECK (outcome IN ('answered','missed','rejected')),
  started_at            TIMESTAMPTZ NOT NULL,
  duration_seconds      INT NOT NULL DEFAULT 0 CHECK (duration_seconds >= 0),
  created_at            TIMESTAMPTZ NOT NULL,
  UNIQUE (call_id, owner_identity)
)`,
	`CREATE INDEX IF NOT EXISTS call_history_owner_created_idx ON call_history (owner_identity, created_at DESC)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) (*PostgresRepo, error) {
	if db == nil {
		return nil, errors.New("history: db is nil")
	}
	return &PostgresRepo{db: db}, nil
}

// Append inserts all records in one transaction. A duplicate (call_id, owner) is
// ignored so a retried write cannot double-record a participant.
func (r *PostgresRepo) Append(ctx context.Context, recs []Record) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, rec := range recs {
			if err := insertRecord(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec Record) error {
	const q = `
INSERT INTO call_history (
  id, call_id, owner_identity, counterparty_identity, direction, outcome, started_at, duration_seconds, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (call_id, owner_identity) DO NOTHING
`
	_, err := tx.ExecContext(ctx, q,
		rec.ID,
		rec.CallID,
		rec.OwnerIdentity,
		rec.CounterpartyIdentity,
		rec.Direction,
		rec.Outcome,
		rec.StartedAt,
		rec.DurationSeconds,
		rec.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListRecent(ctx context.Context, owner string, limit int) ([]Record, error) {
	const q = `
SELECT id, call_id, owner_identity, counterparty_identity, direction, outcome, started_at, duration_seconds, created_at
FROM call_history
WHERE owner_identity = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, owner, limit)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (r *PostgresRepo) ListRange(ctx context.Context, owner string, from, to time.Time) ([]Record, error) {
	const q = `
SELECT id, call_id, owner_identity, counterparty_identity, direction, outcome, started_at, duration_seconds, created_at
FROM call_history
WHERE owner_identity = $1 AND started_at >= $2 AND started_at < $3
ORDER BY started_at
`
	rows, err := r.db.QueryContext(ctx, q, owner, from, to)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID,
			&rec.CallID,
			&rec.OwnerIdentity,
			&rec.CounterpartyIdentity,
			&rec.Direction,
			&rec.Outcome,
			&rec.StartedAt,
			&rec.DurationSeconds,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
