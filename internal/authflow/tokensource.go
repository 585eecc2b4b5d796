package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/rowanlm/mcphub/internal/domain"
	"github.com/rowanlm/mcphub/internal/metrics"
)

// RefreshMargin is how early a token counts as expired, so a request never
// departs with a credential about to lapse in flight.
const RefreshMargin = 30 * time.Second

// RefreshingSource hands out the stored access token for one (user, server)
// pair, running the refresh grant when it is expired or rejected. Implements
// mcp.CredentialSource.
type RefreshingSource struct {
	tokens   TokenStore
	conf     *oauth2.Config
	userID   string
	serverID string
	margin   time.Duration
	group    *singleflight.Group
	now      func() time.Time
}

// Token returns a usable access token, refreshing first if the stored one is
// within the expiry margin.
func (s *RefreshingSource) Token(ctx context.Context) (string, error) {
	tok, err := s.tokens.Get(ctx, s.userID, s.serverID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", &domain.AuthExpiredError{UserID: s.userID, ServerID: s.serverID, Err: err}
		}
		return "", err
	}
	if !tok.Expired(s.margin) {
		return tok.AccessToken, nil
	}
	return s.refresh(ctx, tok)
}

// Invalidate is called when the server rejected the current token. It forces
// a refresh grant regardless of the recorded expiry.
func (s *RefreshingSource) Invalidate(ctx context.Context) error {
	tok, err := s.tokens.Get(ctx, s.userID, s.serverID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.AuthExpiredError{UserID: s.userID, ServerID: s.serverID, Err: err}
		}
		return err
	}
	_, err = s.refresh(ctx, tok)
	return err
}

// refresh runs the refresh grant, single-flighted per (user, server) so
// concurrent callers share one round trip and one Put.
func (s *RefreshingSource) refresh(ctx context.Context, stale *domain.OAuthToken) (string, error) {
	key := s.userID + "\x00" + s.serverID
	access, err, _ := s.group.Do(key, func() (any, error) {
		// Another caller may have refreshed while we waited on the flight.
		if current, err := s.tokens.Get(ctx, s.userID, s.serverID); err == nil {
			if current.AccessToken != stale.AccessToken && !current.Expired(s.margin) {
				return current.AccessToken, nil
			}
			stale = current
		}

		if stale.RefreshToken == "" {
			metrics.OAuthRefreshes.WithLabelValues(s.serverID, "no_refresh_token").Inc()
			return "", &domain.AuthExpiredError{
				UserID:   s.userID,
				ServerID: s.serverID,
				Err:      errors.New("no refresh token"),
			}
		}

		fresh, err := s.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: stale.RefreshToken}).Token()
		if err != nil {
			metrics.OAuthRefreshes.WithLabelValues(s.serverID, "error").Inc()
			slog.Warn("token refresh failed",
				"user", s.userID, "server", s.serverID, "error", err)
			return "", &domain.AuthExpiredError{UserID: s.userID, ServerID: s.serverID, Err: err}
		}

		refreshToken := fresh.RefreshToken
		if refreshToken == "" {
			// Providers that do not rotate keep the old one valid.
			refreshToken = stale.RefreshToken
		}
		if err := s.tokens.Put(ctx, &domain.OAuthToken{
			UserID:       s.userID,
			ServerID:     s.serverID,
			AccessToken:  fresh.AccessToken,
			RefreshToken: refreshToken,
			TokenType:    fresh.TokenType,
			ExpiresAt:    fresh.Expiry,
			Scopes:       stale.Scopes,
			CreatedAt:    stale.CreatedAt,
		}); err != nil {
			return "", fmt.Errorf("persist refreshed token: %w", err)
		}

		metrics.OAuthRefreshes.WithLabelValues(s.serverID, "ok").Inc()
		slog.Debug("token refreshed", "user", s.userID, "server", s.serverID)
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return access.(string), nil
}
