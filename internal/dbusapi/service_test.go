package dbusapi

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocvrouter/hostif/internal/hostif"
	"github.com/ocvrouter/hostif/internal/lcore"
)

type fakeEthdev struct{}

func (fakeEthdev) ResolvePCI(_ hostif.DBDF) (uint16, error) { return 0, nil }
func (fakeEthdev) Open(_ uint16, _, _ int) (bool, bool, hostif.MAC, error) {
	return true, true, hostif.MAC{0xaa}, nil
}
func (fakeEthdev) Start(_ uint16) error                  { return nil }
func (fakeEthdev) Stop(_ uint16) error                   { return nil }
func (fakeEthdev) SetPromiscuous(_ uint16, _ bool) error { return nil }
func (fakeEthdev) MTU(_ uint16) int                      { return 1500 }
func (fakeEthdev) Settings(_ uint16) (int, bool)         { return 10000, true }

type fakeKNI struct{}

func (fakeKNI) Create(_ uint16) error { return nil }
func (fakeKNI) Destroy(_ uint16) error { return nil }

func newTestObject(t *testing.T) *hostIfObject {
	t.Helper()

	logger := slog.Default()
	sched := lcore.NewScheduler(2, 1, logger)
	monitors := hostif.NewMonitorTable()
	reg := hostif.NewRegistry(sched, monitors, fakeEthdev{}, fakeKNI{}, nil, nil, logger)
	stats := hostif.NewStatsAggregator()

	require.NoError(t, reg.Add(&hostif.Vif{Idx: 1, Kind: hostif.KindVirtual}))

	return &hostIfObject{registry: reg, stats: stats}
}

func TestGetVifReturnsJSON(t *testing.T) {
	obj := newTestObject(t)

	out, derr := obj.GetVif(1)
	require.Nil(t, derr)

	var v vifView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, int32(1), v.Idx)
	assert.Equal(t, "virtual", v.Kind)
}

func TestGetVifMissingReturnsError(t *testing.T) {
	obj := newTestObject(t)

	_, derr := obj.GetVif(99)
	require.NotNil(t, derr)
	assert.Equal(t, InterfaceName+".NotFound", derr.Name)
}

func TestGetStatsReturnsJSON(t *testing.T) {
	obj := newTestObject(t)

	obj.stats.IncOPackets(0, 1, true)

	out, derr := obj.GetStats(1, -1)
	require.Nil(t, derr)

	var s statsView
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, uint64(1), s.QueueOPackets)
}

func TestGetStatsMissingVifReturnsError(t *testing.T) {
	obj := newTestObject(t)

	_, derr := obj.GetStats(99, -1)
	require.NotNil(t, derr)
	assert.Equal(t, InterfaceName+".NotFound", derr.Name)
}
