package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy(t *testing.T) {
	base := errors.New("boom")

	t.Run("config", func(t *testing.T) {
		err := &ConfigError{Server: "github", Reason: "url is required", Err: base}
		assert.Contains(t, err.Error(), "github")
		assert.Contains(t, err.Error(), "url is required")
		assert.True(t, IsConfigError(err))
		assert.True(t, errors.Is(err, base))
	})

	t.Run("transport", func(t *testing.T) {
		err := &TransportError{Server: "echo-tool", Op: "spawn", Err: base}
		assert.Contains(t, err.Error(), "spawn")
		assert.True(t, IsTransportError(err))
		assert.True(t, errors.Is(err, base))
	})

	t.Run("auth expired", func(t *testing.T) {
		err := &AuthExpiredError{UserID: "alice", ServerID: "github", Err: base}
		assert.Contains(t, err.Error(), "reconnect required")
		assert.True(t, IsAuthExpired(err))
		assert.False(t, IsTransportError(err))
	})

	t.Run("timeout", func(t *testing.T) {
		err := &TimeoutError{Server: "github", Op: "tools/call"}
		assert.True(t, IsTimeout(err))
		assert.False(t, IsTransportError(err))
	})

	t.Run("token corrupted", func(t *testing.T) {
		err := &TokenCorruptedError{UserID: "alice", ServerID: "github", Err: base}
		assert.True(t, IsTokenCorrupted(err))
		assert.Contains(t, err.Error(), "github")
	})
}

func TestPredicatesFollowWrapping(t *testing.T) {
	inner := &TimeoutError{Server: "github", Op: "tools/call"}
	wrapped := fmt.Errorf("invoking echo: %w", inner)

	require.True(t, IsTimeout(wrapped))
	require.False(t, IsTimeout(errors.New("plain")))
	require.False(t, IsTimeout(nil))
}

func TestOAuthToken_Expired(t *testing.T) {
	tok := &OAuthToken{ExpiresAt: time.Now().Add(time.Minute)}
	assert.False(t, tok.Expired(0))
	assert.True(t, tok.Expired(2*time.Minute), "margin counts as expired")

	never := &OAuthToken{}
	assert.False(t, never.Expired(time.Hour), "zero expiry never expires")
}
