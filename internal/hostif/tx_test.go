package hostif

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocvrouter/hostif/internal/lcore"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func newTestPipeline(t *testing.T) (*TXPipeline, *lcore.Scheduler, *StatsAggregator, *MonitorTable) {
	t.Helper()
	sched := lcore.NewScheduler(2, 1, testLogger())
	monitors := NewMonitorTable()
	stats := NewStatsAggregator()
	pools := &FragmentPools{Alloc: func(_, size int) []byte { return make([]byte, size) }}
	global := GlobalConfig{FragPools: pools, AgentRing: NewAgentRing(4)}
	return NewTXPipeline(sched, monitors, stats, global, testLogger()), sched, stats, monitors
}

// TestTXMirrorS4 exercises §8 S4: vif A with MONITORED pointing at vif
// B; TX of a 64B frame must enqueue once on A and once on B.
func TestTXMirrorS4(t *testing.T) {
	pipe, sched, _, monitors := newTestPipeline(t)

	a := &Vif{Idx: 0, Kind: KindFabric, MTU: 1500}
	b := &Vif{Idx: 1, Kind: KindMonitoring, MTU: 1500}

	qa := newRingQueueOps(16, true)
	qb := newRingQueueOps(16, true)
	require.NoError(t, sched.Schedule(0, a.Idx, qa))
	require.NoError(t, sched.Schedule(0, b.Idx, qb))

	monitors.Start(a, b.Idx)

	buf := make([]byte, 64+32)
	pkt := NewPacket(buf, 32, 64)
	pkt.Type = TypeOther

	require.NoError(t, pipe.TX(0, a, pkt))

	assert.Equal(t, uint64(1), qa.Stats(false).Packets)
	assert.Equal(t, uint64(1), qb.Stats(false).Packets)
}

// TestTXAgentFastPathS5 exercises §8 S5: tx(agent_vif, pkt) enqueues on
// the global ring; ring full -> counters increment, no upstream error.
func TestTXAgentFastPathS5(t *testing.T) {
	pipe, sched, stats, _ := newTestPipeline(t)

	agent := &Vif{Idx: 5, Kind: KindAgent, MTU: 1500}
	q := newRingQueueOps(16, true)
	require.NoError(t, sched.Schedule(0, agent.Idx, q))

	buf := make([]byte, 64)
	for i := 0; i < 4; i++ {
		pkt := NewPacket(buf, 0, len(buf))
		err := pipe.TX(0, agent, pkt)
		require.NoError(t, err, "agent TX must never return an upstream error")
	}

	// Ring capacity is 4; a 5th send must drop locally without an
	// upstream error (§7: "Agent TX always returns success even on
	// ring-full").
	pkt := NewPacket(buf, 0, len(buf))
	err := pipe.TX(0, agent, pkt)
	require.NoError(t, err)

	snap := stats.Aggregate(AllCores, agent.Idx)
	assert.Equal(t, uint64(1), snap.QueueOErrors, "the ring-full drop must be counted locally")
}

// TestTXVlanSoftwareInsertS6 exercises §8 S6: fabric vif without VLAN
// offload, global vlan_tag=100. TX of a 64B frame yields a 68B frame
// with 0x8100 at bytes 12..13 and TCI 100 at 14..15.
func TestTXVlanSoftwareInsertS6(t *testing.T) {
	pipe, sched, _, _ := newTestPipeline(t)
	tag := uint16(100)
	pipe.global.VlanTag = &tag

	vif := &Vif{Idx: 0, Kind: KindFabric, MTU: 1500}
	q := newRingQueueOps(16, true)
	require.NoError(t, sched.Schedule(0, vif.Idx, q))

	buf := make([]byte, 64+32)
	pkt := NewPacket(buf, 32, 64)
	pkt.Type = TypeOther

	require.NoError(t, pipe.TX(0, vif, pkt))
	frames := q.Frames()
	require.Len(t, frames, 1)
	got := frames[0]
	require.Len(t, got, 68)
	assert.Equal(t, byte(0x81), got[12])
	assert.Equal(t, byte(0x00), got[13])
	assert.Equal(t, byte(0), got[14])
	assert.Equal(t, byte(100), got[15])
}
