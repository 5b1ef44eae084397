// Package postgres provides the Postgres-backed request store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Schema creates the tables the store reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_users (
	id           TEXT PRIMARY KEY,
	username     TEXT NOT NULL DEFAULT '',
	token        TEXT NOT NULL DEFAULT '',
	token_secret TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS audit_requests (
	id           TEXT NOT NULL,
	user_id      TEXT NOT NULL REFERENCES audit_users (id),
	handle       TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	reply_ref    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	completed_at TIMESTAMPTZ,
	PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS audit_requests_pending_idx
	ON audit_requests (user_id, submitted_at) WHERE status = '';
`

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store implements the task source, credential source, result sink and
// request submitter on Postgres.
type Store struct {
	pool querier
	now  func() time.Time
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
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
	return NewWithPool(pool)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const listPendingQuery = `
SELECT u.id, u.username, u.token, u.token_secret,
       r.id, r.handle, r.submitted_at, r.reply_ref
FROM audit_requests r
JOIN audit_users u ON u.id = r.user_id
WHERE r.status = ''
ORDER BY u.id, r.submitted_at, r.id`

// ListPendingRequests returns each user with pending requests, requests
// ordered by submission time.
func (s *Store) ListPendingRequests(ctx context.Context) ([]crawler.UserRequests, error) {
	rows, err := s.pool.Query(ctx, listPendingQuery)
	if err != nil {
		return nil, fmt.Errorf("query pending requests: %w", err)
	}
	defer rows.Close()

	var out []crawler.UserRequests
	for rows.Next() {
		var (
			userID, username, token, secret string
			req                             crawler.Request
		)
		if err := rows.Scan(&userID, &username, &token, &secret,
			&req.ID, &req.Handle, &req.SubmittedAt, &req.ReplyRef); err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].UserID != userID {
			ur := crawler.UserRequests{UserID: userID, Username: username}
			if token != "" && secret != "" {
				ur.Credentials = []crawler.Credential{{Token: token, Secret: secret, Label: userID}}
			}
			out = append(out, ur)
		}
		last := &out[len(out)-1]
		last.Requests = append(last.Requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending requests: %w", err)
	}
	return out, nil
}

// ListCredentials returns every complete user credential.
func (s *Store) ListCredentials(ctx context.Context) ([]crawler.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, token, token_secret FROM audit_users WHERE token <> '' AND token_secret <> '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var out []crawler.Credential
	for rows.Next() {
		var c crawler.Credential
		if err := rows.Scan(&c.Label, &c.Token, &c.Secret); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

// MarkRequestStatus writes a terminal status once. The update only matches a
// pending row, so a second write reports crawler.ErrAlreadyTerminal.
func (s *Store) MarkRequestStatus(ctx context.Context, ref crawler.RequestRef, status crawler.RequestStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE audit_requests
SET status = $1, completed_at = $2
WHERE user_id = $3 AND id = $4 AND status = ''`,
		string(status), s.now(), ref.UserID, ref.RequestID)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM audit_requests WHERE user_id = $1 AND id = $2`,
		ref.UserID, ref.RequestID).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("request %s/%s: %w", ref.UserID, ref.RequestID, crawler.ErrRequestNotFound)
	case err != nil:
		return fmt.Errorf("read request status: %w", err)
	default:
		return fmt.Errorf("request %s/%s is %s: %w", ref.UserID, ref.RequestID, current, crawler.ErrAlreadyTerminal)
	}
}

// SubmitRequest upserts the user and inserts a pending request in one transaction.
func (s *Store) SubmitRequest(ctx context.Context, userID, username string, req crawler.Request) (err error) {
	if userID == "" || req.ID == "" {
		return fmt.Errorf("user id and request id are required")
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = s.now()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin submit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
INSERT INTO audit_users (id, username) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET username = COALESCE(NULLIF(EXCLUDED.username, ''), audit_users.username)`,
		userID, username); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	if _, err = tx.Exec(ctx, `
INSERT INTO audit_requests (id, user_id, handle, submitted_at, reply_ref, status)
VALUES ($1, $2, $3, $4, $5, '')`,
		req.ID, userID, req.Handle, req.SubmittedAt, req.ReplyRef); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit submit: %w", err)
	}
	return nil
}
