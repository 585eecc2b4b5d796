// Package connmgr caches live MCP clients, sharing them where safe and
// isolating them where a credential or execution context demands it.
package connmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rowanlm/mcphub/internal/domain"
	"github.com/rowanlm/mcphub/internal/mcp"
	"github.com/rowanlm/mcphub/internal/metrics"
	"github.com/rowanlm/mcphub/internal/registry"
)

// Owner identifies who a connection acts for. Stdio servers ignore it;
// authorized remote servers get one connection per owner.
type Owner struct {
	Agent string
	User  string
}

// CredentialFunc builds the credential source for an authorized server.
type CredentialFunc func(userID, serverID string) (mcp.CredentialSource, error)

type ctxTokenKey struct{}

// WithContextToken tags the context with the hosting layer's execution
// identity. A cached connection built under a different token is considered
// stale and rebuilt on next use.
func WithContextToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxTokenKey{}, token)
}

// ContextTokenFrom returns the execution identity, or "" when untagged.
func ContextTokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(ctxTokenKey{}).(string)
	return tok
}

type entry struct {
	client   *mcp.Client
	ctxToken string
}

// Manager hands out MCP clients, building each at most once per cache key.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
	creds   CredentialFunc

	dialFn func(ctx context.Context, cfg *registry.ServerConfig, owner Owner) (*mcp.Client, error)
}

func NewManager(creds CredentialFunc) *Manager {
	m := &Manager{
		entries: make(map[string]*entry),
		creds:   creds,
	}
	m.dialFn = m.dial
	return m
}

// cacheKey scopes sharing: a stdio subprocess carries no credential and is
// shared by everyone; an authorized remote connection is bound to the owner
// whose token rides on it.
func cacheKey(cfg *registry.ServerConfig, owner Owner) string {
	if cfg.Transport == registry.TransportHTTP && cfg.Authorized() {
		return cfg.ID + "\x00" + owner.Agent + "\x00" + owner.User
	}
	return cfg.ID
}

// Get returns a live client for the server, reusing the cached one when its
// transport is up and its context token matches.
func (m *Manager) Get(ctx context.Context, cfg *registry.ServerConfig, owner Owner) (*mcp.Client, error) {
	key := cacheKey(cfg, owner)
	token := ContextTokenFrom(ctx)

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if ok && e.client.Alive() && e.ctxToken == token {
		return e.client, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		m.mu.Lock()
		e, ok := m.entries[key]
		if ok && e.client.Alive() && e.ctxToken == token {
			m.mu.Unlock()
			return e.client, nil
		}
		if ok {
			// Stale: context changed or the transport died. Evict before
			// dialing so a failed rebuild does not hand out the old client.
			delete(m.entries, key)
			metrics.ConnectionsActive.Dec()
		}
		m.mu.Unlock()

		if ok {
			reason := "dead"
			if e.client.Alive() {
				reason = "context_changed"
			}
			metrics.Reconnects.WithLabelValues(cfg.ID, reason).Inc()
			slog.Info("replacing cached connection",
				"server", cfg.ID, "reason", reason)
			_ = e.client.Close()
		}

		client, err := m.dialFn(ctx, cfg, owner)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.entries[key] = &entry{client: client, ctxToken: token}
		m.mu.Unlock()
		metrics.ConnectionsActive.Inc()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mcp.Client), nil
}

func (m *Manager) dial(ctx context.Context, cfg *registry.ServerConfig, owner Owner) (*mcp.Client, error) {
	var transport mcp.Transport
	switch cfg.Transport {
	case registry.TransportStdio:
		t, err := mcp.NewStdioTransport(cfg.ID, cfg.Command, cfg.Args, cfg.Env)
		if err != nil {
			return nil, err
		}
		transport = t
	case registry.TransportHTTP:
		var creds mcp.CredentialSource
		if cfg.Authorized() {
			if m.creds == nil {
				return nil, &domain.ConfigError{Server: cfg.ID, Reason: "no credential source configured for authorized server"}
			}
			c, err := m.creds(owner.User, cfg.ID)
			if err != nil {
				return nil, err
			}
			creds = c
		}
		t := mcp.NewStreamTransport(cfg.ID, cfg.URL, creds)
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
		transport = t
	default:
		return nil, &domain.ConfigError{Server: cfg.ID, Reason: fmt.Sprintf("unknown transport %q", cfg.Transport)}
	}

	client := mcp.NewClient(cfg.ID, transport)
	if err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Reset closes and evicts the cached connection for (server, owner), if any.
func (m *Manager) Reset(cfg *registry.ServerConfig, owner Owner) {
	key := cacheKey(cfg, owner)
	m.mu.Lock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	if ok {
		_ = e.client.Close()
		metrics.ConnectionsActive.Dec()
	}
}

// Close shuts down every cached connection.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()
	for _, e := range entries {
		_ = e.client.Close()
		metrics.ConnectionsActive.Dec()
	}
}
