package linkstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ocvrouter/hostif/internal/netio"
)

// -------------------------------------------------------------------------
// Strategy — configurable link-state->BGP action policy
// -------------------------------------------------------------------------

// Strategy determines how fabric link-state transitions affect BGP.
type Strategy string

const (
	// StrategyDisablePeer disables/enables bound BGP peers on link Down/Up.
	// This is the recommended default: it causes BGP to send a Notification
	// and cleanly tear down the session, allowing the remote peer to
	// immediately reconverge routes.
	StrategyDisablePeer Strategy = "disable-peer"

	// StrategyWithdrawRoutes withdraws/restores routes on link Down/Up
	// without tearing down the BGP session itself.
	//
	// NOTE: withdraw-routes is reserved for future implementation.
	// Currently only disable-peer is supported.
	StrategyWithdrawRoutes Strategy = "withdraw-routes"
)

// ValidStrategies lists all recognized strategy strings.
//
//nolint:gochecknoglobals // Lookup table is intentionally package-level.
var ValidStrategies = map[Strategy]bool{
	StrategyDisablePeer:    true,
	StrategyWithdrawRoutes: true,
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrInvalidStrategy indicates the configured strategy is not recognized.
	ErrInvalidStrategy = errors.New("invalid linkstate strategy")

	// ErrUnsupportedStrategy indicates the strategy is recognized but not
	// yet implemented.
	ErrUnsupportedStrategy = errors.New("unsupported linkstate strategy")
)

// -------------------------------------------------------------------------
// Handler — fabric link-state->BGP event consumer
// -------------------------------------------------------------------------

// Handler consumes fabric interface link-state events and applies the
// configured strategy against the GoBGP API for every BGP peer bound to
// the affected interface. It implements RFC 5882 Section 3.2-style flap
// dampening by applying a per-interface dampener before taking any BGP
// action.
//
// The handler runs as a single goroutine in the daemon's errgroup,
// consuming from an InterfaceMonitor's Events() channel.
type Handler struct {
	client   Client
	strategy Strategy
	bindings map[string][]string
	dampener *Dampener
	logger   *slog.Logger
}

// HandlerConfig holds the configuration for a Handler.
type HandlerConfig struct {
	// Client is the GoBGP gRPC client.
	Client Client

	// Strategy determines the BGP action on link-state transitions.
	Strategy Strategy

	// Bindings maps a fabric interface name to the BGP peer addresses
	// reachable through it. A link-state transition on an interface with
	// no bindings is logged and otherwise ignored.
	Bindings map[string][]string

	// Dampening configures RFC 5882 Section 3.2-style flap dampening,
	// keyed by interface name.
	Dampening DampeningConfig

	// Logger is the parent logger. The handler adds its own component tag.
	Logger *slog.Logger
}

// NewHandler creates a new link-state->BGP handler with the given configuration.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if !ValidStrategies[cfg.Strategy] {
		return nil, fmt.Errorf("handler strategy %q: %w", cfg.Strategy, ErrInvalidStrategy)
	}

	if cfg.Strategy == StrategyWithdrawRoutes {
		return nil, fmt.Errorf("handler strategy %q: %w", cfg.Strategy, ErrUnsupportedStrategy)
	}

	return &Handler{
		client:   cfg.Client,
		strategy: cfg.Strategy,
		bindings: cfg.Bindings,
		dampener: NewDampener(cfg.Dampening, cfg.Logger),
		logger: cfg.Logger.With(
			slog.String("component", "linkstate.handler"),
			slog.String("strategy", string(cfg.Strategy)),
		),
	}, nil
}

// Run consumes fabric link-state events and applies BGP actions. It blocks
// until the context is cancelled or the events channel is closed.
//
// This method is designed to run as an errgroup goroutine:
//
//	g.Go(func() error {
//	    return handler.Run(gCtx, ifmon.Events())
//	})
//
// On link Down (with dampening filter):
//   - disable-peer: calls GoBGP DisablePeer for every bound peer
//
// On link Up (with dampening filter):
//   - disable-peer: calls GoBGP EnablePeer for every bound peer
func (h *Handler) Run(ctx context.Context, events <-chan netio.InterfaceEvent) error {
	h.logger.Info("handler started, consuming link-state events")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("handler stopped")
			return nil

		case ev, ok := <-events:
			if !ok {
				h.logger.Info("link-state channel closed, handler stopping")
				return nil
			}
			h.handleEvent(ctx, ev)
		}
	}
}

// handleEvent processes a single interface link-state event.
func (h *Handler) handleEvent(ctx context.Context, ev netio.InterfaceEvent) {
	peers := h.bindings[ev.IfName]

	h.logger.Debug("received link-state event",
		slog.String("ifname", ev.IfName),
		slog.Int("ifindex", ev.IfIndex),
		slog.Bool("up", ev.Up),
		slog.Int("bound_peers", len(peers)),
	)

	if len(peers) == 0 {
		h.logger.Debug("ignoring link-state event for unbound interface",
			slog.String("ifname", ev.IfName),
		)
		return
	}

	if ev.Up {
		h.handleUp(ctx, ev.IfName, peers)
	} else {
		h.handleDown(ctx, ev.IfName, peers)
	}
}

// handleDown processes a fabric interface going Down.
func (h *Handler) handleDown(ctx context.Context, ifName string, peers []string) {
	// RFC 5882 Section 3.2-style flap dampening, applied per interface and
	// weighted by how many BGP peers the interface carries.
	if h.dampener.ShouldSuppress(ifName, len(peers)) {
		h.logger.Warn("link down suppressed by flap dampening",
			slog.String("ifname", ifName),
			slog.Int("bound_peers", len(peers)),
		)
		return
	}

	h.logger.Info("link down, applying BGP action",
		slog.String("ifname", ifName),
		slog.String("strategy", string(h.strategy)),
		slog.Int("peers", len(peers)),
	)

	results, err := h.applyDownAction(ctx, ifName, peers)
	if err != nil {
		h.logger.Error("failed to apply BGP down action",
			slog.String("ifname", ifName),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, peerAddr := range peers {
		if err := results[peerAddr]; err != nil {
			h.logger.Error("failed to disable bound peer",
				slog.String("ifname", ifName),
				slog.String("peer", peerAddr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handleUp processes a fabric interface coming back Up.
func (h *Handler) handleUp(ctx context.Context, ifName string, peers []string) {
	// RFC 5882 Section 3.2-style flap dampening: suppress Up while the
	// interface is still dampened.
	if h.dampener.ShouldSuppressUp(ifName) {
		h.logger.Warn("link up suppressed by flap dampening",
			slog.String("ifname", ifName),
		)
		return
	}

	h.logger.Info("link up, applying BGP action",
		slog.String("ifname", ifName),
		slog.String("strategy", string(h.strategy)),
		slog.Int("peers", len(peers)),
	)

	results, err := h.applyUpAction(ctx, peers)
	if err != nil {
		h.logger.Error("failed to apply BGP up action",
			slog.String("ifname", ifName),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, peerAddr := range peers {
		if err := results[peerAddr]; err != nil {
			h.logger.Error("failed to enable bound peer",
				slog.String("ifname", ifName),
				slog.String("peer", peerAddr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// applyDownAction executes the strategy-specific BGP action for link Down
// against every peer bound to ifName, in a single fanned-out batch rather
// than one RPC at a time.
func (h *Handler) applyDownAction(ctx context.Context, ifName string, peers []string) (map[string]error, error) {
	switch h.strategy {
	case StrategyDisablePeer:
		communication := FormatLinkDownCommunication(ifName)
		return h.client.DisablePeers(ctx, peers, communication), nil

	case StrategyWithdrawRoutes:
		// Reserved for future implementation.
		return nil, fmt.Errorf("apply down action for %d peers: %w", len(peers), ErrUnsupportedStrategy)

	default:
		return nil, fmt.Errorf("apply down action for %d peers: strategy %q: %w", len(peers), h.strategy, ErrInvalidStrategy)
	}
}

// applyUpAction executes the strategy-specific BGP action for link Up
// against every peer in peers, in a single fanned-out batch.
func (h *Handler) applyUpAction(ctx context.Context, peers []string) (map[string]error, error) {
	switch h.strategy {
	case StrategyDisablePeer:
		return h.client.EnablePeers(ctx, peers), nil

	case StrategyWithdrawRoutes:
		// Reserved for future implementation.
		return nil, fmt.Errorf("apply up action for %d peers: %w", len(peers), ErrUnsupportedStrategy)

	default:
		return nil, fmt.Errorf("apply up action for %d peers: strategy %q: %w", len(peers), h.strategy, ErrInvalidStrategy)
	}
}
