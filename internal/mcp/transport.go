// Package mcp implements the client side of the Model Context Protocol:
// JSON-RPC framing, a stdio transport for local subprocesses, and an HTTP
// stream transport for remote servers.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/rowanlm/mcphub/internal/domain"
)

// Transport moves raw JSON-RPC messages to and from one MCP server.
type Transport interface {
	// Send sends a message to the MCP server.
	Send(ctx context.Context, message any) error

	// Receive returns a channel for receiving messages from the MCP server.
	Receive() <-chan Message

	// Close closes the transport.
	Close() error

	// IsConnected reports whether the transport is still usable. A false
	// value tells the connection manager to replace the client.
	IsConnected() bool
}

// Message is one raw message received from the transport.
type Message struct {
	Data  []byte
	Error error
}

// StdioTransport speaks newline-delimited JSON over a subprocess's standard
// streams. One subprocess serves every caller; no per-user secret is
// involved.
type StdioTransport struct {
	serverID  string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	receiveCh chan Message
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup // goroutines that send on receiveCh
	writeMu   sync.Mutex     // one writer at a time on the pipe
	mu        sync.RWMutex
	connected bool
}

// NewStdioTransport spawns the configured executable and wires its standard
// streams. The env map is layered over the parent environment. Spawn
// failures surface as TransportError carrying the OS error.
func NewStdioTransport(serverID, command string, args []string, env map[string]string) (*StdioTransport, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, &domain.TransportError{Server: serverID, Op: "spawn", Err: err}
	}

	cmd := exec.Command(path, args...)
	cmd.Env = mergedEnv(env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &domain.TransportError{Server: serverID, Op: "spawn", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &domain.TransportError{Server: serverID, Op: "spawn", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &domain.TransportError{Server: serverID, Op: "spawn", Err: err}
	}

	t := &StdioTransport{
		serverID:  serverID,
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		receiveCh: make(chan Message, 10),
		closeCh:   make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, &domain.TransportError{Server: serverID, Op: "spawn", Err: err}
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	t.wg.Add(2) // readLoop and monitorProcess
	go t.readLoop()
	go t.readStderr()
	go t.monitorProcess()

	return t, nil
}

// mergedEnv layers overrides onto the parent environment, deterministically.
func mergedEnv(overrides map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

func (t *StdioTransport) Send(ctx context.Context, message any) error {
	t.mu.RLock()
	connected := t.connected
	t.mu.RUnlock()
	if !connected {
		return &domain.TransportError{Server: t.serverID, Op: "send", Err: fmt.Errorf("transport not connected")}
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	// Writes are serialized so concurrent calls never interleave frames on
	// the shared pipe; responses are paired by request id, not arrival order.
	t.writeMu.Lock()
	_, err = t.stdin.Write(data)
	t.writeMu.Unlock()
	if err != nil {
		return &domain.TransportError{Server: t.serverID, Op: "send", Err: err}
	}
	return nil
}

func (t *StdioTransport) Receive() <-chan Message {
	return t.receiveCh
}

func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closeCh)

		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()

		if t.stdin != nil {
			t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			if killErr := t.cmd.Process.Kill(); killErr != nil {
				err = killErr
			}
		}
		if t.stdout != nil {
			t.stdout.Close()
		}
		if t.stderr != nil {
			t.stderr.Close()
		}

		// Wait for all senders to finish, then close receiveCh. Run in a
		// goroutine so Close never blocks on a wedged reader.
		go func() {
			t.wg.Wait()
			close(t.receiveCh)
		}()
	})
	return err
}

func (t *StdioTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *StdioTransport) readLoop() {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for {
		select {
		case <-t.closeCh:
			return
		default:
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					t.deliver(Message{Error: &domain.TransportError{Server: t.serverID, Op: "read", Err: err}})
				}
				return
			}

			data := scanner.Bytes()
			if len(data) == 0 {
				continue
			}

			// Scanner reuses its buffer.
			dataCopy := make([]byte, len(data))
			copy(dataCopy, data)

			t.deliver(Message{Data: dataCopy})
		}
	}
}

func (t *StdioTransport) deliver(msg Message) {
	select {
	case t.receiveCh <- msg:
	case <-t.closeCh:
	}
}

func (t *StdioTransport) readStderr() {
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		slog.Debug("mcp server stderr", "server", t.serverID, "line", scanner.Text())
	}
}

// monitorProcess marks the transport dead when the subprocess exits. An
// unexpected exit fails every in-flight call with a TransportError.
func (t *StdioTransport) monitorProcess() {
	defer t.wg.Done()

	err := t.cmd.Wait()

	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()

	if wasConnected {
		if err == nil {
			err = fmt.Errorf("process exited")
		} else {
			err = fmt.Errorf("process exited: %w", err)
		}
		t.deliver(Message{Error: &domain.TransportError{Server: t.serverID, Op: "wait", Err: err}})
		slog.Warn("mcp subprocess exited unexpectedly", "server", t.serverID, "error", err)
	}
}
