// Package authflow drives the interactive OAuth authorization code flow and
// keeps issued credentials fresh afterwards.
package authflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/rowanlm/mcphub/internal/domain"
	"github.com/rowanlm/mcphub/internal/registry"
	"github.com/rowanlm/mcphub/shared/id"
)

// SessionTTL bounds how long a user has to complete the provider's consent
// screen before the session lapses.
const SessionTTL = 10 * time.Minute

// TokenStore is the credential persistence the controller needs.
type TokenStore interface {
	Get(ctx context.Context, userID, serverID string) (*domain.OAuthToken, error)
	Put(ctx context.Context, token *domain.OAuthToken) error
}

// Sessions is the session persistence the controller needs.
type Sessions interface {
	Create(ctx context.Context, sess *domain.AuthSession) error
	Get(ctx context.Context, id string) (*domain.AuthSession, error)
	GetByState(ctx context.Context, state string) (*domain.AuthSession, error)
	Update(ctx context.Context, sess *domain.AuthSession) error
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// Controller runs the authorization code flow: Start issues the redirect URL,
// Callback consumes the provider's answer, Poll reports progress to the
// waiting client.
type Controller struct {
	registry *registry.Registry
	tokens   TokenStore
	sessions Sessions
	group    singleflight.Group
	now      func() time.Time
}

func NewController(reg *registry.Registry, tokens TokenStore, sessions Sessions) *Controller {
	return &Controller{
		registry: reg,
		tokens:   tokens,
		sessions: sessions,
		now:      time.Now,
	}
}

func oauth2Config(oc *registry.OAuthConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  oc.AuthURL,
			TokenURL: oc.TokenURL,
		},
		Scopes:      oc.Scopes,
		RedirectURL: oc.RedirectURL,
	}
}

// Start opens a new authorization session and returns it together with the
// provider URL the user must visit.
func (c *Controller) Start(ctx context.Context, userID, serverID string) (*domain.AuthSession, string, error) {
	cfg, err := c.registry.Get(serverID)
	if err != nil {
		return nil, "", err
	}
	if !cfg.Authorized() {
		return nil, "", &domain.ConfigError{Server: serverID, Reason: "server does not use oauth authorization"}
	}

	now := c.now().UTC()
	sess := &domain.AuthSession{
		ID:        id.NewAuthSession(),
		UserID:    userID,
		ServerID:  serverID,
		State:     uuid.NewString(),
		Status:    domain.AuthPending,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}
	if err := c.sessions.Create(ctx, sess); err != nil {
		return nil, "", err
	}

	url := oauth2Config(cfg.OAuth).AuthCodeURL(sess.State, oauth2.AccessTypeOffline)
	slog.Info("authorization started",
		"session", sess.ID, "user", userID, "server", serverID)
	return sess, url, nil
}

// Callback consumes the provider redirect. The state token must match a known
// pending, unexpired session; anything else leaves no credential behind.
func (c *Controller) Callback(ctx context.Context, state, code string) (*domain.AuthSession, error) {
	sess, err := c.sessions.GetByState(ctx, state)
	if err != nil {
		// Unknown state: there is no session to transition, and writing a
		// token for an unverifiable callback would defeat the CSRF check.
		return nil, err
	}

	if sess.Status != domain.AuthPending {
		return sess, fmt.Errorf("session %s already %s", sess.ID, sess.Status)
	}

	now := c.now().UTC()
	if now.After(sess.ExpiresAt) {
		return c.fail(ctx, sess, "authorization expired before callback")
	}
	if code == "" {
		return c.fail(ctx, sess, "provider returned no authorization code")
	}

	cfg, err := c.registry.Get(sess.ServerID)
	if err != nil {
		return c.fail(ctx, sess, err.Error())
	}
	conf := oauth2Config(cfg.OAuth)

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		slog.Warn("code exchange failed", "session", sess.ID, "error", err)
		return c.fail(ctx, sess, fmt.Sprintf("code exchange: %v", err))
	}

	if err := c.tokens.Put(ctx, &domain.OAuthToken{
		UserID:       sess.UserID,
		ServerID:     sess.ServerID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
		Scopes:       cfg.OAuth.Scopes,
	}); err != nil {
		return c.fail(ctx, sess, fmt.Sprintf("persist token: %v", err))
	}

	sess.Status = domain.AuthCompleted
	sess.CompletedAt = &now
	if err := c.sessions.Update(ctx, sess); err != nil {
		return sess, err
	}
	slog.Info("authorization completed",
		"session", sess.ID, "user", sess.UserID, "server", sess.ServerID)
	return sess, nil
}

func (c *Controller) fail(ctx context.Context, sess *domain.AuthSession, reason string) (*domain.AuthSession, error) {
	sess.Status = domain.AuthError
	sess.Error = reason
	if err := c.sessions.Update(ctx, sess); err != nil {
		return sess, err
	}
	return sess, fmt.Errorf("authorization failed: %s", reason)
}

// Poll reports the session's current status. A pending session past its
// deadline reads as expired even if the sweeper has not visited it yet.
func (c *Controller) Poll(ctx context.Context, sessionID string) (*domain.AuthSession, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.AuthPending && c.now().After(sess.ExpiresAt) {
		sess.Status = domain.AuthExpired
	}
	return sess, nil
}

// Sweep marks pending sessions past their deadline as expired.
func (c *Controller) Sweep(ctx context.Context) error {
	n, err := c.sessions.MarkExpired(ctx, c.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Debug("swept expired auth sessions", "count", n)
	}
	return nil
}

// RunSweeper sweeps on the given interval until ctx is cancelled.
func (c *Controller) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sweep(ctx); err != nil {
				slog.Error("session sweep failed", "error", err)
			}
		}
	}
}

// CredentialSource returns a refreshing credential source for one (user,
// server) pair. Sources share the controller's singleflight group so
// concurrent refreshes of one pair collapse to a single grant.
func (c *Controller) CredentialSource(userID, serverID string) (*RefreshingSource, error) {
	cfg, err := c.registry.Get(serverID)
	if err != nil {
		return nil, err
	}
	if !cfg.Authorized() {
		return nil, &domain.ConfigError{Server: serverID, Reason: "server does not use oauth authorization"}
	}
	return &RefreshingSource{
		tokens:   c.tokens,
		conf:     oauth2Config(cfg.OAuth),
		userID:   userID,
		serverID: serverID,
		margin:   RefreshMargin,
		group:    &c.group,
		now:      c.now,
	}, nil
}
