package hostif

import "sync/atomic"

// -------------------------------------------------------------------------
// Monitoring Plane — component F
// -------------------------------------------------------------------------

// notMonitored is the sentinel monitoring-table entry meaning "not
// monitored" (§3 Data Model: "storing either a monitoring vif index or a
// sentinel (= MaxInterfaces)").
const notMonitored = MaxInterfaces

// MonitorTable is the dense array, indexed by monitored-vif index, of
// §3's "Monitoring table". Entries are published with a release barrier
// on install and an acquire load on the datapath lookup (§4.F): reading
// monitorings[i] is safe because Start installs the entry then sets
// FlagMonitored with a release barrier, and Stop clears the flag with a
// release barrier before clearing the entry. The datapath acquires the
// flag (via Vif.Flags, itself release/acquire) and only then reads the
// entry.
type MonitorTable struct {
	entries [MaxInterfaces]atomic.Int32
}

// NewMonitorTable returns a table with every entry set to the
// not-monitored sentinel.
func NewMonitorTable() *MonitorTable {
	t := &MonitorTable{}
	for i := range t.entries {
		t.entries[i].Store(notMonitored)
	}
	return t
}

// Count returns the number of vifs currently flagged MONITORED, for the
// §4.F monitored-vif gauge. It is O(MaxInterfaces); callers should poll it
// rather than call it from the datapath.
func (t *MonitorTable) Count() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].Load() != notMonitored {
			n++
		}
	}
	return n
}

// Lookup returns the monitoring vif index for monitored, and whether an
// entry is installed. Callers on the datapath must have already
// observed FlagMonitored set on the monitored vif (via Vif.Flags.Has,
// which itself is an acquire load) before calling Lookup, per §4.F.
func (t *MonitorTable) Lookup(monitored int32) (int32, bool) {
	v := t.entries[monitored].Load()
	if v == notMonitored {
		return 0, false
	}
	return v, true
}

// Start installs monitored -> monitor in the table, then publishes
// FlagMonitored on the monitored vif with a release barrier, in that
// order, per §4.F and the Monitoring add procedure of §4.E: "atomically
// install the mapping ... memory-barrier, then set MONITORED on the
// monitored vif".
func (t *MonitorTable) Start(monitored *Vif, monitorIdx int32) {
	t.entries[monitored.Idx].Store(monitorIdx)
	monitored.Flags.Set(FlagMonitored) // release barrier via atomic store
}

// Stop clears FlagMonitored on the monitored vif first (release
// barrier), then clears the table entry, per §4.E delete: "clears
// MONITORED flag after clearing the mapping, with a barrier between" —
// read literally this is delete-then-clear-flag for the *datapath*
// visibility argument in §4.F ("delete clears the flag with a release
// barrier then clears the entry"); Stop follows §4.F's own ordering,
// which is authoritative for the barrier sequence.
//
// selfIdx guards the re-use race called out in §4.E: "Monitoring stop
// checks the mapping still points at self". If the table no longer
// names selfIdx as the monitor for monitored, Stop returns
// ErrMonitoringStale and performs no mutation.
func (t *MonitorTable) Stop(monitored *Vif, selfIdx int32) error {
	cur := t.entries[monitored.Idx].Load()
	if cur != selfIdx {
		return ErrMonitoringStale
	}
	monitored.Flags.Clear(FlagMonitored)
	t.entries[monitored.Idx].Store(notMonitored)
	return nil
}
