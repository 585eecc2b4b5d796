package connmgr

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rowanlm/mcphub/internal/domain"
	"github.com/rowanlm/mcphub/internal/mcp"
	"github.com/rowanlm/mcphub/internal/registry"
)

// fakeTransport acknowledges every request with an empty result, which is
// enough for the client handshake.
type fakeTransport struct {
	mu        sync.Mutex
	receiveCh chan mcp.Message
	connected bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{receiveCh: make(chan mcp.Message, 16), connected: true}
}

func (f *fakeTransport) Send(ctx context.Context, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	var req struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	if req.ID == nil {
		return nil // notification
	}
	resp, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  map[string]any{},
	})
	f.receiveCh <- mcp.Message{Data: resp}
	return nil
}

func (f *fakeTransport) Receive() <-chan mcp.Message { return f.receiveCh }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// kill simulates the transport dying under the client.
func (f *fakeTransport) kill() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func stdioConfig() *registry.ServerConfig {
	return &registry.ServerConfig{ID: "echo-tool", Transport: registry.TransportStdio, Command: "echo-server"}
}

func oauthConfig() *registry.ServerConfig {
	return &registry.ServerConfig{
		ID:        "github",
		Transport: registry.TransportHTTP,
		URL:       "https://mcp.example.com",
		OAuth:     &registry.OAuthConfig{ClientID: "cid", AuthURL: "a", TokenURL: "t"},
	}
}

// stubDialer counts dials and hands out fresh fake-backed clients.
type stubDialer struct {
	dials atomic.Int32
	delay time.Duration
	err   error

	mu         sync.Mutex
	transports []*fakeTransport
}

func (d *stubDialer) dial(ctx context.Context, cfg *registry.ServerConfig, owner Owner) (*mcp.Client, error) {
	d.dials.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.err != nil {
		return nil, d.err
	}
	transport := newFakeTransport()
	d.mu.Lock()
	d.transports = append(d.transports, transport)
	d.mu.Unlock()

	client := mcp.NewClient(cfg.ID, transport)
	if err := client.Initialize(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func newTestManager(d *stubDialer) *Manager {
	m := NewManager(nil)
	m.dialFn = d.dial
	return m
}

func TestManager_StdioSharedAcrossOwners(t *testing.T) {
	d := &stubDialer{}
	m := newTestManager(d)
	defer m.Close()

	cfg := stdioConfig()
	a, err := m.Get(context.Background(), cfg, Owner{Agent: "planner", User: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Get(context.Background(), cfg, Owner{Agent: "coder", User: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("stdio connections must be shared across owners")
	}
	if d.dials.Load() != 1 {
		t.Errorf("dials = %d, want 1", d.dials.Load())
	}
}

func TestManager_AuthorizedIsolatedPerOwner(t *testing.T) {
	d := &stubDialer{}
	m := newTestManager(d)
	defer m.Close()

	cfg := oauthConfig()
	a, err := m.Get(context.Background(), cfg, Owner{Agent: "planner", User: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Get(context.Background(), cfg, Owner{Agent: "planner", User: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("authorized connections must not be shared across users")
	}

	c, err := m.Get(context.Background(), cfg, Owner{Agent: "coder", User: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Error("authorized connections must not be shared across agents")
	}
	if d.dials.Load() != 3 {
		t.Errorf("dials = %d, want 3", d.dials.Load())
	}
}

func TestManager_ContextTokenChangeSwapsConnection(t *testing.T) {
	d := &stubDialer{}
	m := newTestManager(d)
	defer m.Close()

	cfg := stdioConfig()
	owner := Owner{Agent: "planner", User: "alice"}

	a, err := m.Get(WithContextToken(context.Background(), "run-1"), cfg, owner)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Get(WithContextToken(context.Background(), "run-2"), cfg, owner)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("context change must produce a fresh connection")
	}
	if a.Alive() {
		t.Error("replaced connection should be closed")
	}
	if d.dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", d.dials.Load())
	}

	// Same token again: the second connection is reused.
	c, err := m.Get(WithContextToken(context.Background(), "run-2"), cfg, owner)
	if err != nil {
		t.Fatal(err)
	}
	if b != c {
		t.Error("matching token must reuse the cached connection")
	}
}

func TestManager_DeadConnectionReplaced(t *testing.T) {
	d := &stubDialer{}
	m := newTestManager(d)
	defer m.Close()

	cfg := stdioConfig()
	owner := Owner{Agent: "planner", User: "alice"}

	a, err := m.Get(context.Background(), cfg, owner)
	if err != nil {
		t.Fatal(err)
	}

	d.mu.Lock()
	d.transports[0].kill()
	d.mu.Unlock()

	b, err := m.Get(context.Background(), cfg, owner)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("dead connection must be replaced")
	}
}

func TestManager_ConcurrentGetsBuildOnce(t *testing.T) {
	d := &stubDialer{delay: 50 * time.Millisecond}
	m := newTestManager(d)
	defer m.Close()

	cfg := stdioConfig()
	var wg sync.WaitGroup
	clients := make([]*mcp.Client, 8)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Get(context.Background(), cfg, Owner{User: "alice"})
			if err != nil {
				t.Errorf("get %d: %v", i, err)
				return
			}
			clients[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(clients); i++ {
		if clients[i] != clients[0] {
			t.Fatal("concurrent gets returned different clients")
		}
	}
	if d.dials.Load() != 1 {
		t.Errorf("dials = %d, want 1", d.dials.Load())
	}
}

func TestManager_DialErrorPropagates(t *testing.T) {
	d := &stubDialer{err: &domain.ConfigError{Server: "echo-tool", Reason: "command not found"}}
	m := newTestManager(d)
	defer m.Close()

	_, err := m.Get(context.Background(), stdioConfig(), Owner{})
	if !domain.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	// Nothing cached: the next get dials again.
	d.err = nil
	if _, err := m.Get(context.Background(), stdioConfig(), Owner{}); err != nil {
		t.Fatalf("get after failure: %v", err)
	}
	if d.dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", d.dials.Load())
	}
}

func TestManager_Reset(t *testing.T) {
	d := &stubDialer{}
	m := newTestManager(d)
	defer m.Close()

	cfg := stdioConfig()
	a, err := m.Get(context.Background(), cfg, Owner{})
	if err != nil {
		t.Fatal(err)
	}

	m.Reset(cfg, Owner{})
	if a.Alive() {
		t.Error("reset must close the cached connection")
	}

	b, err := m.Get(context.Background(), cfg, Owner{})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("reset must evict the cached connection")
	}
}
