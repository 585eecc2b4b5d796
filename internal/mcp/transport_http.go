package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rowanlm/mcphub/internal/domain"
)

// CredentialSource supplies the bearer credential for a remote server on
// behalf of one (user, server) pair. Implementations handle expiry checks
// and the refresh grant; Token returns AuthExpiredError when the credential
// cannot be made usable without re-running the authorization flow.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)

	// Invalidate is called after the remote server rejected the current
	// credential (401/403) so the source can force a refresh on next Token.
	Invalidate(ctx context.Context) error
}

// StreamTransport holds a long-lived HTTP connection to a remote MCP
// server's base URL: an event-stream GET for inbound messages and POSTs for
// outbound ones. Bound to one user's credentials when a CredentialSource is
// set.
type StreamTransport struct {
	serverID  string
	baseURL   string
	creds     CredentialSource // nil for servers without authorization
	client    *http.Client
	receiveCh chan Message
	closeCh   chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	connected bool
	sessionID string
}

// NewStreamTransport builds the transport without connecting; Connect opens
// the inbound stream.
func NewStreamTransport(serverID, baseURL string, creds CredentialSource) *StreamTransport {
	return &StreamTransport{
		serverID: serverID,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		creds:    creds,
		client: &http.Client{
			// Outbound POSTs only; the inbound stream request overrides
			// this with no timeout.
			Timeout: 30 * time.Second,
		},
		receiveCh: make(chan Message, 10),
		closeCh:   make(chan struct{}),
	}
}

// Connect opens the inbound event stream. A credential rejection here means
// the stored token is unusable and the user must reconnect.
func (t *StreamTransport) Connect(ctx context.Context) error {
	resp, err := t.doWithAuth(ctx, func(token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/sse", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		// Stream stays open for the life of the connection.
		return (&http.Client{Timeout: 0}).Do(req)
	})
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return &domain.TransportError{
			Server: t.serverID,
			Op:     "connect",
			Err:    fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	go t.readStream(resp.Body)

	return nil
}

func (t *StreamTransport) Send(ctx context.Context, message any) error {
	t.mu.RLock()
	connected := t.connected
	sessionID := t.sessionID
	t.mu.RUnlock()
	if !connected {
		return &domain.TransportError{Server: t.serverID, Op: "send", Err: fmt.Errorf("transport not connected")}
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	resp, err := t.doWithAuth(ctx, func(token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/message", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if sessionID != "" {
			req.Header.Set("X-Session-ID", sessionID)
		}
		return t.client.Do(req)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.TransportError{
			Server: t.serverID,
			Op:     "send",
			Err:    fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}

	if sid := resp.Header.Get("X-Session-ID"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	return nil
}

// doWithAuth runs an authenticated request. A 401/403 is treated the same
// as an expired token: one invalidate-and-refresh attempt, then failure with
// AuthExpiredError so the caller can re-trigger the authorization flow.
func (t *StreamTransport) doWithAuth(ctx context.Context, do func(token string) (*http.Response, error)) (*http.Response, error) {
	token, err := t.bearer(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := do(token)
	if err != nil {
		return nil, &domain.TransportError{Server: t.serverID, Op: "request", Err: err}
	}

	if t.creds == nil || !isAuthRejected(resp.StatusCode) {
		return resp, nil
	}
	resp.Body.Close()

	slog.Info("remote server rejected credential, refreshing once", "server", t.serverID, "status", resp.StatusCode)
	if err := t.creds.Invalidate(ctx); err != nil {
		return nil, err
	}
	token, err = t.bearer(ctx)
	if err != nil {
		return nil, err
	}

	resp, err = do(token)
	if err != nil {
		return nil, &domain.TransportError{Server: t.serverID, Op: "request", Err: err}
	}
	if isAuthRejected(resp.StatusCode) {
		resp.Body.Close()
		return nil, &domain.AuthExpiredError{ServerID: t.serverID, Err: fmt.Errorf("server rejected refreshed credential: %d", resp.StatusCode)}
	}
	return resp, nil
}

func (t *StreamTransport) bearer(ctx context.Context) (string, error) {
	if t.creds == nil {
		return "", nil
	}
	return t.creds.Token(ctx)
}

func isAuthRejected(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func (t *StreamTransport) Receive() <-chan Message {
	return t.receiveCh
}

func (t *StreamTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closeCh)

		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()

		// receiveCh is left open; the stream reader exits via closeCh and
		// consumers select on their own shutdown signal.
	})
	return nil
}

func (t *StreamTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// readStream parses the server's event stream: "data:" lines accumulate into
// one JSON-RPC message, a blank line terminates it.
func (t *StreamTransport) readStream(body io.ReadCloser) {
	defer body.Close()

	reader := bufio.NewReader(body)
	var eventData []string

	for {
		select {
		case <-t.closeCh:
			return
		default:
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					t.deliver(Message{Error: &domain.TransportError{Server: t.serverID, Op: "read", Err: err}})
				}
				t.mu.Lock()
				t.connected = false
				t.mu.Unlock()
				return
			}

			line = strings.TrimRight(line, "\r\n")

			if line == "" {
				if len(eventData) > 0 {
					t.deliver(Message{Data: []byte(strings.Join(eventData, "\n"))})
					eventData = nil
				}
				continue
			}

			if strings.HasPrefix(line, "data:") {
				eventData = append(eventData, strings.TrimSpace(line[5:]))
			}
			// event:, id:, retry: fields are not used.
		}
	}
}

func (t *StreamTransport) deliver(msg Message) {
	select {
	case t.receiveCh <- msg:
	case <-t.closeCh:
	}
}
