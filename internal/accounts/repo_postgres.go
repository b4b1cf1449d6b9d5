package accounts

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the users table.
var Schema = []string{
	`
CREATE TABLE IF NOT EXISTS users (
  id            UUID PRIMARY KEY,
  name          TEXT NOT NULL,
  mobile        TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  verified      BOOLEAN NOT NULL DEFAULT FALSE,
  created_at    TIMESTAMPTZ NOT NULL
)`,
}

const pgUniqueViolation = "23505"

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) (*PostgresRepo, error) {
	if db == nil {
		return nil, errors.New("accounts: db is nil")
	}
	return &PostgresRepo{db: db}, nil
}

func (r *PostgresRepo) Create(ctx context.Context, u User) error {
	const q = `
INSERT INTO users (id, name, mobile, password_hash, verified, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := r.db.ExecContext(ctx, q, u.ID, u.Name, u.Mobile, u.PasswordHash, u.Verified, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrMobileTaken
		}
		return err
	}
	return nil
}

func (r *PostgresRepo) GetByMobile(ctx context.Context, mobile string) (User, error) {
	const q = `
SELECT id, name, mobile, password_hash, verified, created_at
FROM users
WHERE mobile = $1
`
	var u User
	if err := r.db.QueryRowContext(ctx, q, mobile).Scan(
		&u.ID,
		&u.Name,
		&u.Mobile,
		&u.PasswordHash,
		&u.Verified,
		&u.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (r *PostgresRepo) MarkVerified(ctx context.Context, mobile string) error {
	const q = `UPDATE users SET verified = TRUE WHERE mobile = $1`
	res, err := r.db.ExecContext(ctx, q, mobile)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Exists(ctx context.Context, mobile string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE mobile = $1)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, q, mobile).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
