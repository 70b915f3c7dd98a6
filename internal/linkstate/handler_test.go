package linkstate_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ocvrouter/hostif/internal/linkstate"
	"github.com/ocvrouter/hostif/internal/netio"
)

// Method name constants for mock call assertions.
const (
	methodDisablePeer = "DisablePeer"
	methodEnablePeer  = "EnablePeer"
)

// -------------------------------------------------------------------------
// Mock GoBGP Client
// -------------------------------------------------------------------------

// mockClient records GoBGP API calls for test assertions.
type mockClient struct {
	mu     sync.Mutex
	calls  []mockCall
	err    error // if set, all calls return this error
	closed bool
}

type mockCall struct {
	method        string
	addr          string
	communication string
}

func newMockClient() *mockClient {
	return &mockClient{}
}

func (m *mockClient) DisablePeer(_ context.Context, addr string, communication string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.calls = append(m.calls, mockCall{
		method:        methodDisablePeer,
		addr:          addr,
		communication: communication,
	})

	return nil
}

func (m *mockClient) EnablePeer(_ context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.calls = append(m.calls, mockCall{
		method: methodEnablePeer,
		addr:   addr,
	})

	return nil
}

func (m *mockClient) DisablePeers(ctx context.Context, addrs []string, communication string) map[string]error {
	results := make(map[string]error, len(addrs))
	for _, addr := range addrs {
		results[addr] = m.DisablePeer(ctx, addr, communication)
	}
	return results
}

func (m *mockClient) EnablePeers(ctx context.Context, addrs []string) map[string]error {
	results := make(map[string]error, len(addrs))
	for _, addr := range addrs {
		results[addr] = m.EnablePeer(ctx, addr)
	}
	return results
}

func (m *mockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

func (m *mockClient) getCalls() []mockCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]mockCall, len(m.calls))
	copy(result, m.calls)

	return result
}

// -------------------------------------------------------------------------
// Test helpers
// -------------------------------------------------------------------------

func newTestHandler(t *testing.T, client linkstate.Client, bindings map[string][]string, dampening linkstate.DampeningConfig) *linkstate.Handler {
	t.Helper()

	h, err := linkstate.NewHandler(linkstate.HandlerConfig{
		Client:    client,
		Strategy:  linkstate.StrategyDisablePeer,
		Bindings:  bindings,
		Dampening: dampening,
		Logger:    slog.Default(),
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	return h
}

func waitForCalls(t *testing.T, mock *mockClient, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		calls := mock.getCalls()
		if len(calls) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %d calls, got %d", n, len(mock.getCalls()))
}

// -------------------------------------------------------------------------
// Handler Tests -- link Down -> BGP DisablePeer
// -------------------------------------------------------------------------

func TestHandlerLinkDownDisablesBoundPeers(t *testing.T) {
	t.Parallel()

	mock := newMockClient()
	bindings := map[string][]string{"eth0": {"10.0.0.1", "10.0.0.2"}}
	handler := newTestHandler(t, mock, bindings, linkstate.DampeningConfig{})

	events := make(chan netio.InterfaceEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = handler.Run(ctx, events)
	}()

	events <- netio.InterfaceEvent{IfName: "eth0", IfIndex: 2, Up: false}

	waitForCalls(t, mock, 2)

	calls := mock.getCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	for _, c := range calls {
		if c.method != methodDisablePeer {
			t.Errorf("expected %s, got %s", methodDisablePeer, c.method)
		}
	}

	wantComm := linkstate.FormatLinkDownCommunication("eth0")
	if calls[0].communication != wantComm {
		t.Errorf("communication mismatch\n  got:  %q\n  want: %q", calls[0].communication, wantComm)
	}

	cancel()
	<-done
}

// -------------------------------------------------------------------------
// Handler Tests -- link Up -> BGP EnablePeer
// -------------------------------------------------------------------------

func TestHandlerLinkUpEnablesBoundPeers(t *testing.T) {
	t.Parallel()

	mock := newMockClient()
	bindings := map[string][]string{"eth0": {"10.0.0.1"}}
	handler := newTestHandler(t, mock, bindings, linkstate.DampeningConfig{})

	events := make(chan netio.InterfaceEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = handler.Run(ctx, events)
	}()

	events <- netio.InterfaceEvent{IfName: "eth0", IfIndex: 2, Up: true}

	waitForCalls(t, mock, 1)

	calls := mock.getCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].method != methodEnablePeer {
		t.Errorf("expected %s, got %s", methodEnablePeer, calls[0].method)
	}
	if calls[0].addr != "10.0.0.1" {
		t.Errorf("expected addr 10.0.0.1, got %s", calls[0].addr)
	}

	cancel()
	<-done
}

// -------------------------------------------------------------------------
// Handler Tests -- unbound interfaces are ignored
// -------------------------------------------------------------------------

func TestHandlerIgnoresUnboundInterface(t *testing.T) {
	t.Parallel()

	mock := newMockClient()
	bindings := map[string][]string{"eth0": {"10.0.0.1"}}
	handler := newTestHandler(t, mock, bindings, linkstate.DampeningConfig{})

	events := make(chan netio.InterfaceEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = handler.Run(ctx, events)
	}()

	events <- netio.InterfaceEvent{IfName: "eth1", IfIndex: 3, Up: false}

	time.Sleep(100 * time.Millisecond)

	if len(mock.getCalls()) != 0 {
		t.Fatalf("expected no calls for unbound interface, got %d", len(mock.getCalls()))
	}

	cancel()
	<-done
}

// -------------------------------------------------------------------------
// Handler Tests -- flap dampening suppresses rapid Down events
// -------------------------------------------------------------------------

func TestHandlerDampeningSuppressesFlapping(t *testing.T) {
	t.Parallel()

	mock := newMockClient()
	bindings := map[string][]string{"eth0": {"10.0.0.1"}}
	dampening := linkstate.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 1.5,
		ReuseThreshold:    1,
		MaxSuppressTime:   time.Minute,
		HalfLife:          time.Minute,
	}
	handler := newTestHandler(t, mock, bindings, dampening)

	events := make(chan netio.InterfaceEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = handler.Run(ctx, events)
	}()

	// First flap: penalty rises to 1, below the suppress threshold of 1.5.
	events <- netio.InterfaceEvent{IfName: "eth0", IfIndex: 2, Up: false}
	waitForCalls(t, mock, 1)

	// Second flap: penalty rises to just under 2 (the one-minute half-life
	// decays the first point only slightly), crossing the suppress
	// threshold in the same call that records it, so this Down event is
	// suppressed.
	events <- netio.InterfaceEvent{IfName: "eth0", IfIndex: 2, Up: false}
	time.Sleep(50 * time.Millisecond)

	// Third flap: still suppressed, must not generate a new call.
	events <- netio.InterfaceEvent{IfName: "eth0", IfIndex: 2, Up: false}
	time.Sleep(50 * time.Millisecond)

	if calls := mock.getCalls(); len(calls) != 1 {
		t.Fatalf("expected exactly 1 call total once suppressed, got %d", len(calls))
	}

	cancel()
	<-done
}

// -------------------------------------------------------------------------
// Handler Tests -- NewHandler validation
// -------------------------------------------------------------------------

func TestNewHandlerRejectsInvalidStrategy(t *testing.T) {
	t.Parallel()

	_, err := linkstate.NewHandler(linkstate.HandlerConfig{
		Client:   newMockClient(),
		Strategy: "bogus",
		Logger:   slog.Default(),
	})
	if err == nil {
		t.Fatal("expected error for invalid strategy, got nil")
	}
}

func TestNewHandlerRejectsUnsupportedStrategy(t *testing.T) {
	t.Parallel()

	_, err := linkstate.NewHandler(linkstate.HandlerConfig{
		Client:   newMockClient(),
		Strategy: linkstate.StrategyWithdrawRoutes,
		Logger:   slog.Default(),
	})
	if err == nil {
		t.Fatal("expected error for unsupported strategy, got nil")
	}
}

// -------------------------------------------------------------------------
// Handler Tests -- channel closed stops Run
// -------------------------------------------------------------------------

func TestHandlerStopsWhenChannelClosed(t *testing.T) {
	t.Parallel()

	mock := newMockClient()
	handler := newTestHandler(t, mock, nil, linkstate.DampeningConfig{})

	events := make(chan netio.InterfaceEvent)
	close(events)

	err := handler.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}
