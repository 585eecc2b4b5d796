package domain

import "time"

// OAuthToken is the credential for one (user, server) pair. At most one row
// exists per pair; a refresh overwrites rather than duplicates.
type OAuthToken struct {
	UserID       string    `json:"user_id"`
	ServerID     string    `json:"server_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Expired reports whether the access token is past (or within margin of) its
// expiry. A zero ExpiresAt means the provider issued a non-expiring token.
func (t *OAuthToken) Expired(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// AuthSession statuses.
const (
	AuthPending   = "pending"
	AuthCompleted = "completed"
	AuthError     = "error"
	AuthExpired   = "expired"
)

// AuthSession is one in-flight interactive authorization attempt.
type AuthSession struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ServerID    string     `json:"server_id"`
	State       string     `json:"-"` // CSRF state token, never exposed
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ToolParam describes one input parameter of a tool.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ToolSchema is the transport-independent description of one callable tool.
// It is an immutable snapshot from one discovery call; refreshes re-fetch
// rather than patch.
type ToolSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Params      []ToolParam `json:"params"`
}

// ConnectionStatus is the user-facing state of one server credential.
type ConnectionStatus struct {
	ServerID  string    `json:"server_id"`
	Status    string    `json:"status"` // connected, expired
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
