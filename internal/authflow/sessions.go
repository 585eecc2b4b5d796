package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rowanlm/mcphub/internal/domain"
)

// SessionSchema for in-flight authorization attempts. The unique state column
// is what ties a provider callback back to its session.
const SessionSchema = `
CREATE TABLE IF NOT EXISTS auth_sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	server_id     TEXT NOT NULL,
	state         TEXT NOT NULL UNIQUE,
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
)`

// DB is the database surface the session store needs. Satisfied by
// pgxpool.Pool and by pgxmock in tests.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SessionStore persists authorization sessions.
type SessionStore struct {
	db DB
}

func NewSessionStore(db DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.AuthSession) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO auth_sessions (id, user_id, server_id, state, status, error, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.UserID, sess.ServerID, sess.State,
		sess.Status, sess.Error, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create auth session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*domain.AuthSession, error) {
	return s.getBy(ctx, "id", id)
}

// GetByState resolves a provider callback to its session.
func (s *SessionStore) GetByState(ctx context.Context, state string) (*domain.AuthSession, error) {
	return s.getBy(ctx, "state", state)
}

func (s *SessionStore) getBy(ctx context.Context, column, value string) (*domain.AuthSession, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, server_id, state, status, error, created_at, expires_at, completed_at
		FROM auth_sessions
		WHERE %s = $1`, column)

	sess := &domain.AuthSession{}
	err := s.db.QueryRow(ctx, query, value).Scan(
		&sess.ID, &sess.UserID, &sess.ServerID, &sess.State,
		&sess.Status, &sess.Error, &sess.CreatedAt, &sess.ExpiresAt, &sess.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get auth session: %w", err)
	}
	return sess, nil
}

// Update persists a status transition.
func (s *SessionStore) Update(ctx context.Context, sess *domain.AuthSession) error {
	result, err := s.db.Exec(ctx, `
		UPDATE auth_sessions
		SET status = $2, error = $3, completed_at = $4
		WHERE id = $1`,
		sess.ID, sess.Status, sess.Error, sess.CompletedAt)
	if err != nil {
		return fmt.Errorf("update auth session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkExpired transitions every pending session past its deadline.
func (s *SessionStore) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.Exec(ctx, `
		UPDATE auth_sessions
		SET status = $1
		WHERE status = $2 AND expires_at < $3`,
		domain.AuthExpired, domain.AuthPending, now)
	if err != nil {
		return 0, fmt.Errorf("sweep auth sessions: %w", err)
	}
	return result.RowsAffected(), nil
}
