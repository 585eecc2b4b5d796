package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ConfigError reports bad static configuration. It is fatal at load time:
// callers should abort startup rather than run with a broken server entry.
type ConfigError struct {
	Server string // server id, empty for document-level problems
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("config: server %s: %s", e.Server, e.Reason)
	}
	return "config: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransportError reports a connection or subprocess failure. Recoverable by
// reconnecting; the connection manager replaces the dead client on next use.
type TransportError struct {
	Server string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %s: %v", e.Server, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthExpiredError reports an unusable credential. Recoverable only by
// re-running the authorization flow, never by retrying the call.
type AuthExpiredError struct {
	UserID   string
	ServerID string
	Err      error
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("auth expired for %s on %s: reconnect required", e.UserID, e.ServerID)
}

func (e *AuthExpiredError) Unwrap() error { return e.Err }

// DiscoveryError reports a structurally invalid tool catalog from a server.
type DiscoveryError struct {
	Server string
	Reason string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery: %s: %s", e.Server, e.Reason)
}

// TimeoutError reports a caller-bounded timeout. The underlying connection
// stays usable; a timeout is not evidence of a dead transport.
type TimeoutError struct {
	Server string
	Op     string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s: %s", e.Server, e.Op)
}

// TokenCorruptedError reports a credential that cannot be decrypted (wrong
// key or corrupted ciphertext). Fatal for that credential: the user must
// re-authorize.
type TokenCorruptedError struct {
	UserID   string
	ServerID string
	Err      error
}

func (e *TokenCorruptedError) Error() string {
	return fmt.Sprintf("token for %s on %s is corrupted: %v", e.UserID, e.ServerID, e.Err)
}

func (e *TokenCorruptedError) Unwrap() error { return e.Err }

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsAuthExpired(err error) bool {
	var ae *AuthExpiredError
	return errors.As(err, &ae)
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func IsTokenCorrupted(err error) bool {
	var tc *TokenCorruptedError
	return errors.As(err, &tc)
}
