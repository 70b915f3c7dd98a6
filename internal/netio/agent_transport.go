package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ocvrouter/hostif/internal/hostif"
)

// AgentTransport adapts UnixAgentConn to hostif.AgentTransport and pumps
// frames between the datapath's in-memory AgentRing and the real agent
// socket, implementing the consumer side of §4.D step 4 ("wake the
// agent consumer").
type AgentTransport struct {
	mu     sync.Mutex
	conn   *UnixAgentConn
	ring   *hostif.AgentRing
	attach map[int32]struct{}
	logger *slog.Logger
}

// NewAgentTransport constructs a transport that will pump frames
// to/from ring once Init is called.
func NewAgentTransport(ring *hostif.AgentRing, logger *slog.Logger) *AgentTransport {
	return &AgentTransport{
		ring:   ring,
		attach: make(map[int32]struct{}),
		logger: logger.With(slog.String("component", "netio.agent")),
	}
}

// Init implements hostif.AgentTransport: opens the Unix socket. It starts
// no goroutine; frames move only while the caller runs Pump and RecvLoop.
func (t *AgentTransport) Init(socketPath string) error {
	conn, err := NewUnixAgentConn(socketPath)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// AttachVif implements hostif.AgentTransport: records the vif the
// agent expects to receive frames for. Only one agent vif exists
// process-wide (§4.E), so this is bookkeeping for diagnostics rather
// than a dispatch table.
func (t *AgentTransport) AttachVif(idx int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attach[idx] = struct{}{}
	return nil
}

// Close implements hostif.AgentTransport.
func (t *AgentTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Pump drains ring and forwards every frame to the agent socket until
// ctx is cancelled, mirroring the wakeup-on-enqueue consumer loop the
// real agent runs against the packet ring (§4.D step 4, §ring
// "multi-producer single-consumer").
func (t *AgentTransport) Pump(ctx context.Context, vifIdx int32) error {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return errors.New("netio: agent transport not initialized")
		}

		frame, ok := t.ring.Dequeue(ctx.Done())
		if !ok {
			return ctx.Err()
		}
		if err := conn.Send(vifIdx, frame); err != nil {
			t.logger.Warn("agent send failed", slog.String("error", err.Error()))
		}
	}
}

// RecvLoop reads frames from the agent socket and invokes deliver for
// each, until ctx is cancelled or the socket closes. deliver is the
// datapath's injection point (typically Facade.RX bound to the target
// vif).
func (t *AgentTransport) RecvLoop(ctx context.Context, deliver func(vifIdx int32, frame []byte)) error {
	buf := make([]byte, 9000+frameHeaderLen)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("netio: agent transport not initialized")
		}

		idx, n, err := conn.Recv(buf)
		if err != nil {
			if errors.Is(err, ErrSocketClosed) {
				return nil
			}
			t.logger.Warn("agent recv failed", slog.String("error", err.Error()))
			continue
		}
		deliver(idx, buf[frameHeaderLen:frameHeaderLen+n])
	}
}
