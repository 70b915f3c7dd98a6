package hostif

import (
	"sync"

	"github.com/ocvrouter/hostif/internal/lcore"
)

// -------------------------------------------------------------------------
// Stats Aggregator — component G
// -------------------------------------------------------------------------

// VifStats holds the per-core-per-vif counters described in §4.G: RX/TX
// packets and errors, split into "port" (ethdev-level) and "queue"
// (ring-level) buckets depending on which op the queue's f_tx/f_rx is
// wired to.
type VifStats struct {
	QueueIPackets uint64
	QueueOPackets uint64
	QueueIErrors  uint64
	QueueOErrors  uint64

	PortIPackets uint64
	PortOPackets uint64
	PortIErrors  uint64
	PortOErrors  uint64

	DevIErrors  uint64
	DevOErrors  uint64
	DevINoMbufs uint64
}

type statsKey struct {
	core lcore.CoreID
	vif  int32
}

// StatsAggregator tracks per-core per-vif counters and exposes an
// aggregation call scoped to a specific core or to all cores (§4.G:
// "Aggregation call scoped to either a specific core or all cores
// (sentinel)."). AllCores is the sentinel requesting the latter.
type StatsAggregator struct {
	mu    sync.Mutex
	byKey map[statsKey]*VifStats
	xstats map[int32]VifStats // NIC xstats, read once on core 0
}

// AllCores is the sentinel CoreID meaning "aggregate across every core".
const AllCores lcore.CoreID = -1

// NewStatsAggregator constructs an empty aggregator.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{
		byKey:  make(map[statsKey]*VifStats),
		xstats: make(map[int32]VifStats),
	}
}

func (s *StatsAggregator) entry(core lcore.CoreID, vifIdx int32) *VifStats {
	key := statsKey{core, vifIdx}
	e, ok := s.byKey[key]
	if !ok {
		e = &VifStats{}
		s.byKey[key] = e
	}
	return e
}

// IncOPackets increments the TX packet counter for vif on core. queue
// selects the queue-side bucket vs. the port-side bucket, per §4.G's
// distinction between a queue's ring-reader/ring-writer op and the
// ethdev op.
func (s *StatsAggregator) IncOPackets(core lcore.CoreID, vifIdx int32, queue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(core, vifIdx)
	if queue {
		e.QueueOPackets++
	} else {
		e.PortOPackets++
	}
}

// IncIPackets increments the RX packet counter for vif on core.
func (s *StatsAggregator) IncIPackets(core lcore.CoreID, vifIdx int32, queue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(core, vifIdx)
	if queue {
		e.QueueIPackets++
	} else {
		e.PortIPackets++
	}
}

// IncOErrors increments the TX error counter for vif on core.
func (s *StatsAggregator) IncOErrors(core lcore.CoreID, vifIdx int32, queue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(core, vifIdx)
	if queue {
		e.QueueOErrors++
	} else {
		e.PortOErrors++
	}
}

// IncIErrors increments the RX error counter for vif on core.
func (s *StatsAggregator) IncIErrors(core lcore.CoreID, vifIdx int32, queue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(core, vifIdx)
	if queue {
		e.QueueIErrors++
	} else {
		e.PortIErrors++
	}
}

// UpdateXStats records the NIC's global xstats (ierrors, oerrors,
// rx_nombuf), read once on core 0 per §4.G.
func (s *StatsAggregator) UpdateXStats(vifIdx int32, ierrors, oerrors, rxNoMbuf uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.xstats[vifIdx] = VifStats{DevIErrors: ierrors, DevOErrors: oerrors, DevINoMbufs: rxNoMbuf}
}

// Aggregate sums every per-core bucket for vifIdx into one VifStats. If
// core == AllCores, every scheduled core is summed; otherwise only the
// named core's bucket is returned.
func (s *StatsAggregator) Aggregate(core lcore.CoreID, vifIdx int32) VifStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out VifStats
	for key, e := range s.byKey {
		if key.vif != vifIdx {
			continue
		}
		if core != AllCores && key.core != core {
			continue
		}
		out.QueueIPackets += e.QueueIPackets
		out.QueueOPackets += e.QueueOPackets
		out.QueueIErrors += e.QueueIErrors
		out.QueueOErrors += e.QueueOErrors
		out.PortIPackets += e.PortIPackets
		out.PortOPackets += e.PortOPackets
		out.PortIErrors += e.PortIErrors
		out.PortOErrors += e.PortOErrors
	}
	if x, ok := s.xstats[vifIdx]; ok {
		out.DevIErrors = x.DevIErrors
		out.DevOErrors = x.DevOErrors
		out.DevINoMbufs = x.DevINoMbufs
	}
	return out
}
