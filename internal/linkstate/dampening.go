package linkstate

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// RFC 5882 Section 3.2 — Flap Dampening
// -------------------------------------------------------------------------
//
// "BFD is a relatively aggressive mechanism for detecting failures.
//  Because of this, implementations SHOULD provide a flap dampening
//  mechanism to prevent rapid oscillation of the BFD session from
//  causing excessive route churn."
//
// The same reasoning applies directly to fabric link-state: a NIC that is
// bouncing up and down should not be allowed to churn BGP peer sessions on
// every transition. The dampening algorithm follows the classic route flap
// dampening model (RFC 2439): each Down event accumulates a penalty that
// decays exponentially. When the penalty reaches the suppress threshold,
// subsequent events are suppressed until the penalty decays below the
// reuse threshold.

// -------------------------------------------------------------------------
// Dampening Configuration
// -------------------------------------------------------------------------

// DampeningConfig configures the link flap dampening parameters.
//
// The algorithm tracks a penalty counter per dampening key (typically a
// fabric interface name). Each Down event adds penaltyIncrement(boundPeers)
// to the penalty (1 for a single bound peer). The penalty decays
// exponentially with the configured half-life. When the penalty reaches
// or exceeds SuppressThreshold, events are suppressed. When it decays
// below ReuseThreshold, events are allowed again.
type DampeningConfig struct {
	// Enabled controls whether flap dampening is active.
	// When false, all state changes are passed through immediately.
	Enabled bool

	// SuppressThreshold is the penalty value at or above which events are suppressed.
	// Typical value: 3 (suppress after 3 rapid flaps).
	SuppressThreshold float64

	// ReuseThreshold is the penalty value below which suppressed events
	// are allowed again. Must be less than SuppressThreshold.
	// Typical value: 2.
	ReuseThreshold float64

	// MaxSuppressTime is the maximum duration events can be suppressed
	// for a single key. After this time, the key is unsuppressed
	// regardless of penalty level.
	// Typical value: 60s.
	MaxSuppressTime time.Duration

	// HalfLife is the time for the penalty to decay by half.
	// Typical value: 15s.
	HalfLife time.Duration
}

// DefaultDampeningConfig returns a sensible default dampening configuration
// suitable for production DC/ISP deployments.
//
// These values balance responsiveness (detect real failures quickly) with
// stability (suppress flapping links from churning BGP routes).
func DefaultDampeningConfig() DampeningConfig {
	return DampeningConfig{
		Enabled:           false,
		SuppressThreshold: 3,
		ReuseThreshold:    2,
		MaxSuppressTime:   60 * time.Second,
		HalfLife:          15 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Dampener — per-key penalty tracker
// -------------------------------------------------------------------------

// Dampener tracks flap penalties per key (fabric interface name) and decides
// whether state changes should be suppressed. Thread-safe for concurrent
// access from the handler goroutine.
//
// Unlike a BFD session dampener — where a flapping session and the single
// peer it protects are the same cardinality — a fabric interface key here
// fans out to every BGP peer bound to it (internal/netio.InterfaceEvent is
// per-link, not per-peer). A bouncing spine-facing NIC with forty peers
// bound to it causes forty times the route churn of one with a single
// peer for the same number of physical flaps, so each Down event's penalty
// is weighted by the bound-peer count rather than always being 1.0.
type Dampener struct {
	cfg    DampeningConfig
	keys   map[string]*keyPenalty
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time // injectable clock for testing
}

// keyPenalty holds the dampening state for a single key.
type keyPenalty struct {
	// penalty is the current accumulated penalty value.
	penalty float64

	// lastUpdate is when the penalty was last updated (for decay calculation).
	lastUpdate time.Time

	// suppressed is true once the penalty has reached the suppress threshold.
	suppressed bool

	// suppressedSince is when suppression started. Used to enforce
	// MaxSuppressTime.
	suppressedSince time.Time

	// peakBoundPeers is the largest bound-peer count observed across every
	// Down event recorded for this key, surfaced via BlastRadius for
	// suppression logging.
	peakBoundPeers int
}

// DampenerOption configures optional Dampener parameters.
type DampenerOption func(*Dampener)

// WithClock sets a custom time function for the dampener. This is used in
// tests to control time progression without sleeping.
func WithClock(now func() time.Time) DampenerOption {
	return func(d *Dampener) {
		d.now = now
	}
}

// NewDampener creates a new flap dampener with the given configuration.
func NewDampener(cfg DampeningConfig, logger *slog.Logger, opts ...DampenerOption) *Dampener {
	d := &Dampener{
		cfg:    cfg,
		keys:   make(map[string]*keyPenalty),
		logger: logger.With(slog.String("component", "linkstate.dampener")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ShouldSuppress returns true if the given key's Down event should be
// suppressed due to excessive flapping. It also records the Down event by
// incrementing the penalty, weighted by boundPeers — the number of BGP
// peers currently bound to this key — so a flap on a heavily-subscribed
// interface accumulates penalty faster than one with a single peer.
//
// If dampening is disabled, always returns false.
//
// The algorithm:
//  1. Decay existing penalty based on elapsed time since last update.
//  2. Add penaltyIncrement(boundPeers) to the penalty (one Down event).
//  3. If penalty >= SuppressThreshold and not yet suppressed, start suppression.
//  4. If suppressed and MaxSuppressTime exceeded, unsuppress.
//  5. Return the suppressed state.
func (d *Dampener) ShouldSuppress(key string, boundPeers int) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	kp := d.getOrCreateKey(key, now)
	d.decayPenalty(kp, now)

	// Record the Down event, weighted by blast radius.
	kp.penalty += penaltyIncrement(boundPeers)
	kp.lastUpdate = now
	if boundPeers > kp.peakBoundPeers {
		kp.peakBoundPeers = boundPeers
	}

	// Check if MaxSuppressTime has been exceeded.
	if kp.suppressed && now.Sub(kp.suppressedSince) >= d.cfg.MaxSuppressTime {
		d.unsuppress(kp, key)
		return false
	}

	// Check if penalty has reached the suppress threshold.
	if !kp.suppressed && kp.penalty >= d.cfg.SuppressThreshold {
		kp.suppressed = true
		kp.suppressedSince = now
		d.logger.Warn("key suppressed due to flap dampening",
			slog.String("key", key),
			slog.Float64("penalty", kp.penalty),
			slog.Float64("threshold", d.cfg.SuppressThreshold),
			slog.Int("bound_peers", kp.peakBoundPeers),
		)
	}

	return kp.suppressed
}

// penaltyIncrement returns the Down-event penalty contribution for a key
// bound to boundPeers BGP peers. A single bound peer contributes exactly
// 1.0, matching the classic RFC 2439 route flap dampening model; each
// doubling of bound peers beyond that adds one more unit, so a flap on an
// interface bound to many peers is dampened sooner than one bound to a
// single peer.
func penaltyIncrement(boundPeers int) float64 {
	if boundPeers < 1 {
		boundPeers = 1
	}
	return 1.0 + math.Log2(float64(boundPeers))
}

// BlastRadius returns the largest bound-peer count observed across every
// Down event recorded for key, or 0 if the key has no tracked state. It is
// used for diagnostics (e.g. reporting how many BGP sessions a suppressed
// interface affects) rather than for the suppression decision itself.
func (d *Dampener) BlastRadius(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	kp, exists := d.keys[key]
	if !exists {
		return 0
	}
	return kp.peakBoundPeers
}

// ShouldSuppressUp returns true if an Up event for the given key should
// be suppressed. Up events are suppressed while the key is in suppressed
// state to prevent partial recovery signals.
//
// If dampening is disabled, always returns false.
func (d *Dampener) ShouldSuppressUp(key string) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	kp, exists := d.keys[key]
	if !exists {
		return false
	}

	d.decayPenalty(kp, now)

	// Check if MaxSuppressTime has been exceeded.
	if kp.suppressed && now.Sub(kp.suppressedSince) >= d.cfg.MaxSuppressTime {
		d.unsuppress(kp, key)
		return false
	}

	// Check if penalty has decayed below reuse threshold.
	if kp.suppressed && kp.penalty < d.cfg.ReuseThreshold {
		d.unsuppress(kp, key)
		return false
	}

	return kp.suppressed
}

// Reset removes the penalty tracking for a key. Used when an interface is
// explicitly removed from configuration.
func (d *Dampener) Reset(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.keys, key)
}

// -------------------------------------------------------------------------
// Internal helpers
// -------------------------------------------------------------------------

// getOrCreateKey returns the penalty state for a key, creating it if needed.
// Caller must hold d.mu.
func (d *Dampener) getOrCreateKey(key string, now time.Time) *keyPenalty {
	kp, exists := d.keys[key]
	if !exists {
		kp = &keyPenalty{
			lastUpdate: now,
		}
		d.keys[key] = kp
	}
	return kp
}

// decayPenalty applies exponential decay to the penalty based on elapsed time.
// Caller must hold d.mu.
//
// Decay formula: penalty = penalty * 2^(-elapsed/halfLife)
// This ensures the penalty halves every halfLife duration.
func (d *Dampener) decayPenalty(kp *keyPenalty, now time.Time) {
	if d.cfg.HalfLife <= 0 || kp.penalty == 0 {
		return
	}

	elapsed := now.Sub(kp.lastUpdate)
	if elapsed <= 0 {
		return
	}

	// Exponential decay: penalty * 2^(-elapsed/halfLife)
	halfLives := float64(elapsed) / float64(d.cfg.HalfLife)
	decayFactor := math.Pow(0.5, halfLives)
	kp.penalty *= decayFactor
	kp.lastUpdate = now

	// Clamp near-zero values to avoid floating-point noise.
	if kp.penalty < 0.001 {
		kp.penalty = 0
	}
}

// unsuppress clears the suppression state for a key.
// Caller must hold d.mu.
func (d *Dampener) unsuppress(kp *keyPenalty, key string) {
	kp.suppressed = false
	kp.suppressedSince = time.Time{}
	kp.penalty = 0

	d.logger.Info("key unsuppressed, flap dampening cleared",
		slog.String("key", key),
	)
}
