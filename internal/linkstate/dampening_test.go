package linkstate_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/ocvrouter/hostif/internal/linkstate"
)

func TestDampenerDisabledNeverSuppresses(t *testing.T) {
	t.Parallel()

	d := linkstate.NewDampener(linkstate.DampeningConfig{Enabled: false}, slog.Default())

	for i := 0; i < 10; i++ {
		if d.ShouldSuppress("eth0", 1) {
			t.Fatal("disabled dampener must never suppress")
		}
	}
}

func TestDampenerSuppressesAfterThreshold(t *testing.T) {
	t.Parallel()

	cfg := linkstate.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 3,
		ReuseThreshold:    1,
		MaxSuppressTime:   time.Minute,
		HalfLife:          time.Minute,
	}
	// A frozen clock keeps decay out of the count, so three flaps sum to
	// exactly 3.
	now := time.Now()
	d := linkstate.NewDampener(cfg, slog.Default(), linkstate.WithClock(func() time.Time { return now }))

	if d.ShouldSuppress("eth0", 1) {
		t.Fatal("penalty 1 should not be suppressed")
	}
	if d.ShouldSuppress("eth0", 1) {
		t.Fatal("penalty 2 should not be suppressed")
	}
	if !d.ShouldSuppress("eth0", 1) {
		t.Fatal("penalty 3 should be suppressed")
	}
}

func TestDampenerDecayUnsuppresses(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := func() time.Time { return now }

	cfg := linkstate.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 2,
		ReuseThreshold:    1,
		MaxSuppressTime:   time.Hour,
		HalfLife:          time.Second,
	}
	d := linkstate.NewDampener(cfg, slog.Default(), linkstate.WithClock(clock))

	d.ShouldSuppress("eth0", 1)
	if !d.ShouldSuppress("eth0", 1) {
		t.Fatal("expected suppression at threshold")
	}

	// Advance the clock several half-lives so the penalty decays well
	// below the reuse threshold.
	now = now.Add(10 * time.Second)

	if d.ShouldSuppressUp("eth0") {
		t.Fatal("expected suppression to clear after decay")
	}
}

func TestDampenerMaxSuppressTimeForcesUnsuppress(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := func() time.Time { return now }

	cfg := linkstate.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 1,
		ReuseThreshold:    0.5,
		MaxSuppressTime:   5 * time.Second,
		HalfLife:          time.Hour,
	}
	d := linkstate.NewDampener(cfg, slog.Default(), linkstate.WithClock(clock))

	if !d.ShouldSuppress("eth0", 1) {
		t.Fatal("expected suppression at threshold")
	}

	now = now.Add(10 * time.Second)

	if d.ShouldSuppress("eth0", 1) {
		t.Fatal("expected MaxSuppressTime to force unsuppress")
	}
}

func TestDampenerResetClearsState(t *testing.T) {
	t.Parallel()

	cfg := linkstate.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 2,
		ReuseThreshold:    1,
		MaxSuppressTime:   time.Minute,
		HalfLife:          time.Minute,
	}
	d := linkstate.NewDampener(cfg, slog.Default())

	d.ShouldSuppress("eth0", 1)
	d.Reset("eth0")

	if d.ShouldSuppress("eth0", 1) {
		t.Fatal("expected fresh penalty after Reset, not immediate suppression")
	}
}

func TestDampenerWeighsPenaltyByBoundPeers(t *testing.T) {
	t.Parallel()

	cfg := linkstate.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 2,
		ReuseThreshold:    1,
		MaxSuppressTime:   time.Minute,
		HalfLife:          time.Minute,
	}

	// A single flap on a key bound to 4 peers must cross a threshold that
	// a single flap on a key bound to 1 peer does not.
	single := linkstate.NewDampener(cfg, slog.Default())
	if single.ShouldSuppress("eth0", 1) {
		t.Fatal("one flap on a single-peer interface should not yet suppress")
	}

	fanout := linkstate.NewDampener(cfg, slog.Default())
	if !fanout.ShouldSuppress("eth1", 4) {
		t.Fatal("one flap on a 4-peer interface should suppress sooner than a 1-peer interface")
	}
}

func TestDampenerBlastRadiusTracksPeakBoundPeers(t *testing.T) {
	t.Parallel()

	cfg := linkstate.DampeningConfig{
		Enabled:           true,
		SuppressThreshold: 100,
		ReuseThreshold:    1,
		MaxSuppressTime:   time.Minute,
		HalfLife:          time.Minute,
	}
	d := linkstate.NewDampener(cfg, slog.Default())

	if got := d.BlastRadius("eth0"); got != 0 {
		t.Fatalf("BlastRadius for untracked key = %d, want 0", got)
	}

	d.ShouldSuppress("eth0", 3)
	d.ShouldSuppress("eth0", 7)
	d.ShouldSuppress("eth0", 2)

	if got := d.BlastRadius("eth0"); got != 7 {
		t.Fatalf("BlastRadius = %d, want 7 (peak observed)", got)
	}
}
