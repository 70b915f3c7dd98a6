// Package linkstate bridges fabric NIC link-state transitions to GoBGP peer
// administration via its gRPC API.
//
// When a fabric vif's link goes down, the handler disables every BGP peer
// bound to that interface; when the link returns, it re-enables them. RFC
// 5882 Section 3.2 flap dampening is applied before either action to avoid
// churning BGP sessions over a NIC that is bouncing rather than truly down.
package linkstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apipb "github.com/osrg/gobgp/v3/api"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// -------------------------------------------------------------------------
// Client Interface
// -------------------------------------------------------------------------

// Client abstracts the GoBGP gRPC operations needed by the link-state
// handler. This interface enables testing without a running GoBGP instance.
//
// Unlike a BFD session, which addresses exactly one BGP peer, a fabric
// link-state event fans out to every peer bound to that interface, so the
// interface is expressed in terms of a batch over addrs rather than a
// single addr: DisablePeers/EnablePeers issue one RPC per address
// concurrently and report a per-address result instead of failing the
// whole batch on the first error.
type Client interface {
	// DisablePeer administratively disables a BGP peer by address.
	// The communication string is sent as the administrative shutdown reason.
	DisablePeer(ctx context.Context, addr string, communication string) error

	// EnablePeer administratively enables a previously disabled BGP peer.
	EnablePeer(ctx context.Context, addr string) error

	// DisablePeers administratively disables every peer in addrs
	// concurrently, all carrying the same shutdown communication. The
	// returned map holds one entry per addr in addrs; an address that
	// disabled cleanly maps to a nil error.
	DisablePeers(ctx context.Context, addrs []string, communication string) map[string]error

	// EnablePeers administratively enables every peer in addrs
	// concurrently. The returned map holds one entry per addr in addrs;
	// an address that enabled cleanly maps to a nil error.
	EnablePeers(ctx context.Context, addrs []string) map[string]error

	// Close releases the underlying gRPC connection.
	Close() error
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("gobgp client is closed")

	// ErrDialFailed indicates the gRPC dial to GoBGP failed.
	ErrDialFailed = errors.New("gobgp gRPC dial failed")
)

// -------------------------------------------------------------------------
// GRPCClient — production GoBGP gRPC client
// -------------------------------------------------------------------------

// GRPCClient connects to GoBGP's gRPC API and implements the Client interface.
// It wraps the generated GobgpApiClient with reconnection-friendly patterns.
//
// The underlying gRPC connection uses insecure credentials (plaintext) because
// GoBGP's API is typically accessed on localhost in production deployments.
type GRPCClient struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// GRPCClientConfig holds connection parameters for the GoBGP gRPC client.
type GRPCClientConfig struct {
	// Addr is the GoBGP gRPC listen address (e.g., "127.0.0.1:50051").
	Addr string

	// DialTimeout is not read by NewGRPCClient: grpc.NewClient connects
	// lazily, and each RPC is bounded only by its own context.
	DialTimeout time.Duration
}

// NewGRPCClient creates a new GoBGP gRPC client and establishes a connection.
//
// The connection uses grpc.NewClient with insecure credentials. GoBGP's gRPC
// API is typically exposed on localhost without TLS. The client uses lazy
// connection establishment (grpc.NewClient does not block); actual connectivity
// is verified on the first RPC call.
func NewGRPCClient(cfg GRPCClientConfig, logger *slog.Logger) (*GRPCClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("create gobgp client: %w: empty address", ErrDialFailed)
	}

	conn, err := grpc.NewClient(
		cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create gobgp client to %s: %w: %w", cfg.Addr, ErrDialFailed, err)
	}

	client := &GRPCClient{
		conn: conn,
		api:  apipb.NewGobgpApiClient(conn),
		logger: logger.With(
			slog.String("component", "linkstate.client"),
			slog.String("addr", cfg.Addr),
		),
	}

	client.logger.Info("gobgp gRPC client created",
		slog.String("target", cfg.Addr),
	)

	return client, nil
}

// DisablePeer disables a BGP peer by address with an administrative reason.
func (c *GRPCClient) DisablePeer(ctx context.Context, addr string, communication string) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("disable peer %s: %w", addr, ErrClientClosed)
	}
	c.mu.RUnlock()

	_, err := c.api.DisablePeer(ctx, &apipb.DisablePeerRequest{
		Address:       addr,
		Communication: communication,
	})
	if err != nil {
		return fmt.Errorf("disable peer %s: %w", addr, err)
	}

	c.logger.Info("disabled BGP peer",
		slog.String("peer", addr),
		slog.String("reason", communication),
	)

	return nil
}

// EnablePeer enables a previously disabled BGP peer by address.
func (c *GRPCClient) EnablePeer(ctx context.Context, addr string) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("enable peer %s: %w", addr, ErrClientClosed)
	}
	c.mu.RUnlock()

	_, err := c.api.EnablePeer(ctx, &apipb.EnablePeerRequest{
		Address: addr,
	})
	if err != nil {
		return fmt.Errorf("enable peer %s: %w", addr, err)
	}

	c.logger.Info("enabled BGP peer",
		slog.String("peer", addr),
	)

	return nil
}

// DisablePeers fans DisablePeer out across addrs concurrently, one
// goroutine per address, and collects a per-address result rather than
// aborting the batch on the first failure — a link flap that affects
// dozens of bound peers should disable as many of them as GoBGP will
// allow, not stop at whichever address happens to fail first.
func (c *GRPCClient) DisablePeers(ctx context.Context, addrs []string, communication string) map[string]error {
	results := make(map[string]error, len(addrs))
	var mu sync.Mutex

	var g errgroup.Group
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			err := c.DisablePeer(ctx, addr, communication)
			mu.Lock()
			results[addr] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// EnablePeers fans EnablePeer out across addrs concurrently and collects a
// per-address result, the Up-side counterpart of DisablePeers.
func (c *GRPCClient) EnablePeers(ctx context.Context, addrs []string) map[string]error {
	results := make(map[string]error, len(addrs))
	var mu sync.Mutex

	var g errgroup.Group
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			err := c.EnablePeer(ctx, addr)
			mu.Lock()
			results[addr] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Close releases the underlying gRPC connection. After Close, all methods
// return ErrClientClosed.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gobgp client: %w", err)
	}

	c.logger.Info("gobgp gRPC client closed")

	return nil
}
