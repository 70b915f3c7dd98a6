package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocvrouter/hostif/internal/config"
	"github.com/ocvrouter/hostif/internal/hostif"
	"github.com/ocvrouter/hostif/internal/lcore"
)

func TestBuildVhostUserNotifierDisabledReturnsSimulated(t *testing.T) {
	notifier, closer, err := buildVhostUserNotifier(context.Background(), config.OVSDBConfig{Enabled: false}, slog.Default())
	require.NoError(t, err)
	assert.Nil(t, closer)

	_, ok := notifier.(*simulatedVhostUser)
	assert.True(t, ok, "expected simulatedVhostUser when ovsdb is disabled")
}

func TestBuildDBusServiceDisabledReturnsNil(t *testing.T) {
	svc, err := buildDBusService(config.DBusConfig{Enabled: false}, nil, nil, slog.Default())
	require.NoError(t, err)
	assert.Nil(t, svc)
}

func TestParsePCI(t *testing.T) {
	d, err := parsePCI("0000:03:00.1")
	require.NoError(t, err)
	assert.Equal(t, hostif.DBDF{Domain: 0, Bus: 3, Dev: 0, Func: 1}, d)

	_, err = parsePCI("not-a-pci-address")
	assert.ErrorIs(t, err, errMalformedPCI)
}

func TestParseMAC(t *testing.T) {
	mac, err := parseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, hostif.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, mac)

	_, err = parseMAC("not-a-mac")
	assert.ErrorIs(t, err, errMalformedMAC)
}

func TestVifFromConfigFabricWithPCI(t *testing.T) {
	v, err := vifFromConfig(config.VifConfig{
		Idx: 1, Kind: "fabric", PCI: "0000:03:00.0", MAC: "aa:bb:cc:dd:ee:ff", MTU: 1500,
	})
	require.NoError(t, err)
	assert.Equal(t, hostif.KindFabric, v.Kind)
	assert.False(t, v.Flags.Has(hostif.FlagPMD))
	assert.Equal(t, hostif.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, v.MAC)
}

func TestVifFromConfigFabricWithPMDPort(t *testing.T) {
	v, err := vifFromConfig(config.VifConfig{Idx: 2, Kind: "fabric", PMDPort: 4})
	require.NoError(t, err)
	assert.True(t, v.Flags.Has(hostif.FlagPMD))
	assert.Equal(t, uint32(4), v.OSIndex)
}

func TestVifFromConfigRejectsMalformedPCI(t *testing.T) {
	_, err := vifFromConfig(config.VifConfig{Idx: 3, Kind: "fabric", PCI: "garbage"})
	assert.Error(t, err)
}

func newTestFacade(t *testing.T) *hostif.Facade {
	t.Helper()
	sched := lcore.NewScheduler(2, 1, slog.Default())
	monitors := hostif.NewMonitorTable()
	ethdev := newSimulatedEthdev()
	kni := newSimulatedKNI()
	reg := hostif.NewRegistry(sched, monitors, ethdev, kni, nil, nil, slog.Default())
	stats := hostif.NewStatsAggregator()
	pools := &hostif.FragmentPools{Alloc: allocFragmentBuffer}
	pipe := hostif.NewTXPipeline(sched, monitors, stats, hostif.GlobalConfig{FragPools: pools}, slog.Default())
	return hostif.NewFacade(reg, pipe, stats, ethdev)
}

func TestVifReconcilerAddsAndRemoves(t *testing.T) {
	facade := newTestFacade(t)
	recon := newVifReconciler(facade, slog.Default())

	created, destroyed := recon.reconcile(context.Background(), []config.VifConfig{
		{Idx: 1, Kind: "virtual"},
		{Idx: 2, Kind: "virtual"},
	})
	assert.Equal(t, 2, created)
	assert.Equal(t, 0, destroyed)

	// idx 2 disappears, idx 1 is unchanged, idx 3 is new.
	created, destroyed = recon.reconcile(context.Background(), []config.VifConfig{
		{Idx: 1, Kind: "virtual"},
		{Idx: 3, Kind: "virtual"},
	})
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, destroyed)
}

func TestVifReconcilerReplacesChangedEntry(t *testing.T) {
	facade := newTestFacade(t)
	recon := newVifReconciler(facade, slog.Default())

	_, _ = recon.reconcile(context.Background(), []config.VifConfig{{Idx: 1, Kind: "virtual", MTU: 1500}})

	created, destroyed := recon.reconcile(context.Background(), []config.VifConfig{{Idx: 1, Kind: "virtual", MTU: 9000}})
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, destroyed)
}

func TestVifReconcilerSkipsInvalidEntry(t *testing.T) {
	facade := newTestFacade(t)
	recon := newVifReconciler(facade, slog.Default())

	created, destroyed := recon.reconcile(context.Background(), []config.VifConfig{
		{Idx: 1, Kind: "fabric", PCI: "garbage"},
	})
	assert.Equal(t, 0, created)
	assert.Equal(t, 0, destroyed)
}
