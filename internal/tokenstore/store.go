package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rowanlm/mcphub/internal/domain"
)

// Schema for the token table. Applied at startup with CREATE IF NOT EXISTS
// semantics; the primary key enforces the one-row-per-pair invariant.
const Schema = `
CREATE TABLE IF NOT EXISTS oauth_tokens (
	user_id        TEXT NOT NULL,
	server_id      TEXT NOT NULL,
	access_token   BYTEA NOT NULL,
	refresh_token  BYTEA,
	token_type     TEXT NOT NULL DEFAULT 'Bearer',
	expires_at     TIMESTAMPTZ,
	scopes         TEXT[] NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, server_id)
)`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store reads and writes encrypted OAuth tokens.
type Store struct {
	pool   *pgxpool.Pool
	cipher *Cipher
}

func New(pool *pgxpool.Pool, cipher *Cipher) *Store {
	return &Store{pool: pool, cipher: cipher}
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

type txKey struct{}

// WithTx runs fn inside a transaction carried through the context.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	ctx = context.WithValue(ctx, txKey{}, tx)

	if err := fn(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

func txFromContext(ctx context.Context) querier {
	tx, _ := ctx.Value(txKey{}).(querier)
	return tx
}

func (s *Store) conn(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// Put upserts the token for its (user, server) pair in a single atomic
// statement. A refresh overwrites rather than duplicates.
func (s *Store) Put(ctx context.Context, token *domain.OAuthToken) error {
	now := time.Now().UTC()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	access := s.cipher.Seal([]byte(token.AccessToken))
	var refresh []byte
	if token.RefreshToken != "" {
		refresh = s.cipher.Seal([]byte(token.RefreshToken))
	}

	query := `
		INSERT INTO oauth_tokens (user_id, server_id, access_token, refresh_token, token_type, expires_at, scopes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, server_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes,
			updated_at = EXCLUDED.updated_at`

	_, err := s.conn(ctx).Exec(ctx, query,
		token.UserID, token.ServerID, access, refresh,
		token.TokenType, nullTime(token.ExpiresAt), token.Scopes,
		token.CreatedAt, token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

// Get retrieves and decrypts the token for (user, server). Decryption
// failure surfaces as TokenCorruptedError, never as an empty token.
func (s *Store) Get(ctx context.Context, userID, serverID string) (*domain.OAuthToken, error) {
	query := `
		SELECT access_token, refresh_token, token_type, expires_at, scopes, created_at, updated_at
		FROM oauth_tokens
		WHERE user_id = $1 AND server_id = $2`

	token := &domain.OAuthToken{UserID: userID, ServerID: serverID}
	var access, refresh []byte
	var expiresAt *time.Time

	err := s.conn(ctx).QueryRow(ctx, query, userID, serverID).Scan(
		&access, &refresh, &token.TokenType, &expiresAt,
		&token.Scopes, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}

	if expiresAt != nil {
		token.ExpiresAt = *expiresAt
	}

	plain, err := s.cipher.Open(access)
	if err != nil {
		return nil, &domain.TokenCorruptedError{UserID: userID, ServerID: serverID, Err: err}
	}
	token.AccessToken = string(plain)

	if len(refresh) > 0 {
		plain, err := s.cipher.Open(refresh)
		if err != nil {
			return nil, &domain.TokenCorruptedError{UserID: userID, ServerID: serverID, Err: err}
		}
		token.RefreshToken = string(plain)
	}

	return token, nil
}

// Delete removes the token for (user, server).
func (s *Store) Delete(ctx context.Context, userID, serverID string) error {
	result, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM oauth_tokens WHERE user_id = $1 AND server_id = $2`,
		userID, serverID)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns the connection status of every server the user has a
// credential for. Token values are not decrypted.
func (s *Store) List(ctx context.Context, userID string) ([]domain.ConnectionStatus, error) {
	query := `
		SELECT server_id, expires_at
		FROM oauth_tokens
		WHERE user_id = $1
		ORDER BY server_id`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var statuses []domain.ConnectionStatus
	for rows.Next() {
		var cs domain.ConnectionStatus
		var expiresAt *time.Time
		if err := rows.Scan(&cs.ServerID, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		cs.Status = "connected"
		if expiresAt != nil {
			cs.ExpiresAt = *expiresAt
			if time.Now().After(*expiresAt) {
				cs.Status = "expired"
			}
		}
		statuses = append(statuses, cs)
	}
	return statuses, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
