package authflow

import (
	"context"
	"sync"
	"time"

	"github.com/rowanlm/mcphub/internal/domain"
)

// memTokens is an in-memory TokenStore.
type memTokens struct {
	mu     sync.Mutex
	tokens map[string]*domain.OAuthToken
	puts   int
}

func newMemTokens() *memTokens {
	return &memTokens{tokens: make(map[string]*domain.OAuthToken)}
}

func (m *memTokens) key(userID, serverID string) string { return userID + "/" + serverID }

func (m *memTokens) Get(ctx context.Context, userID, serverID string) (*domain.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[m.key(userID, serverID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *tok
	return &copied, nil
}

func (m *memTokens) Put(ctx context.Context, token *domain.OAuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *token
	m.tokens[m.key(token.UserID, token.ServerID)] = &copied
	m.puts++
	return nil
}

// memSessions is an in-memory Sessions store.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*domain.AuthSession
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*domain.AuthSession)}
}

func (m *memSessions) Create(ctx context.Context, sess *domain.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *sess
	m.sessions[sess.ID] = &copied
	return nil
}

func (m *memSessions) Get(ctx context.Context, id string) (*domain.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

func (m *memSessions) GetByState(ctx context.Context, state string) (*domain.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		if sess.State == state {
			copied := *sess
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSessions) Update(ctx context.Context, sess *domain.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; !ok {
		return domain.ErrNotFound
	}
	copied := *sess
	m.sessions[sess.ID] = &copied
	return nil
}

func (m *memSessions) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, sess := range m.sessions {
		if sess.Status == domain.AuthPending && sess.ExpiresAt.Before(now) {
			sess.Status = domain.AuthExpired
			n++
		}
	}
	return n, nil
}
