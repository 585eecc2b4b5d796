package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rowanlm/mcphub/internal/authflow"
	"github.com/rowanlm/mcphub/internal/connmgr"
	"github.com/rowanlm/mcphub/internal/engine"
	"github.com/rowanlm/mcphub/internal/mcp"
	"github.com/rowanlm/mcphub/internal/registry"
	"github.com/rowanlm/mcphub/internal/tokenstore"
)

// app wires the shared backbone every command needs: database, registry,
// stores and the authorization controller.
type app struct {
	pool     *pgxpool.Pool
	tokens   *tokenstore.Store
	sessions *authflow.SessionStore
	ctrl     *authflow.Controller
	reg      *registry.Registry
}

func newApp(ctx context.Context) (*app, error) {
	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, err
	}

	cipher, err := tokenstore.NewCipher(cfg.Auth.EncryptionKey)
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, schema := range []string{tokenstore.Schema, authflow.SessionSchema} {
		if _, err := pool.Exec(ctx, schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	tokens := tokenstore.New(pool, cipher)
	sessions := authflow.NewSessionStore(pool)
	ctrl := authflow.NewController(reg, tokens, sessions)

	return &app{
		pool:     pool,
		tokens:   tokens,
		sessions: sessions,
		ctrl:     ctrl,
		reg:      reg,
	}, nil
}

// engine builds the agent-facing surface on a fresh connection manager.
func (a *app) engine() (*engine.Engine, *connmgr.Manager) {
	mgr := connmgr.NewManager(func(userID, serverID string) (mcp.CredentialSource, error) {
		src, err := a.ctrl.CredentialSource(userID, serverID)
		if err != nil {
			return nil, err
		}
		return src, nil
	})
	return engine.New(mgr, a.reg), mgr
}

func (a *app) Close() {
	a.pool.Close()
}
