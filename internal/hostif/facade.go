package hostif

import (
	"sync"

	"github.com/ocvrouter/hostif/internal/lcore"
)

// -------------------------------------------------------------------------
// Host-interface Facade — component H
// -------------------------------------------------------------------------

// Settings is the result of GetSettings: NIC speed/duplex, or the
// defaults 1000/full when the vif is not fabric-bound (§4.H).
type Settings struct {
	SpeedMbs   int
	FullDuplex bool
}

// Facade is the fixed operation table consumed by the upper vrouter
// (§4.H): Lock/Unlock, Add/Del, AddTap/DelTap (no-ops), TX/RX,
// GetSettings, GetMTU, GetEncap, StatsUpdate.
type Facade struct {
	mu       sync.Mutex
	registry *Registry
	pipeline *TXPipeline
	stats    *StatsAggregator
	ethdev   EthdevProvider
}

// NewFacade builds a Facade wrapping the given registry, TX pipeline and
// stats aggregator.
func NewFacade(registry *Registry, pipeline *TXPipeline, stats *StatsAggregator, ethdev EthdevProvider) *Facade {
	return &Facade{registry: registry, pipeline: pipeline, stats: stats, ethdev: ethdev}
}

// Lock acquires the facade-wide lock for a control operation (§4.H,
// §5: control operations acquire a global interface lock).
func (f *Facade) Lock() { f.mu.Lock() }

// Unlock releases the lock acquired by Lock.
func (f *Facade) Unlock() { f.mu.Unlock() }

// Add registers a new vif, dispatching by kind (§4.E).
func (f *Facade) Add(v *Vif) error {
	return f.registry.Add(v)
}

// Del unregisters a vif, dispatching by kind (§4.E).
func (f *Facade) Del(idx int32) error {
	return f.registry.Del(idx)
}

// AddTap is a no-op: tapping happens inside Add itself (§4.H).
func (f *Facade) AddTap(_ int32) error { return nil }

// DelTap is a no-op: tapping is torn down inside Del itself (§4.H).
func (f *Facade) DelTap(_ int32) error { return nil }

// TX is the datapath entry point: tx(vif, packet) (§4.D).
func (f *Facade) TX(core lcore.CoreID, vif *Vif, pkt *Packet) error {
	return f.pipeline.TX(core, vif, pkt)
}

// RX is the datapath entry point for received packets: mirror then a
// single TX (§4.H, modeled on dpdk_if_rx).
func (f *Facade) RX(core lcore.CoreID, vif *Vif, pkt *Packet) error {
	return f.pipeline.RX(core, vif, pkt)
}

// GetSettings returns NIC speed/duplex for a fabric vif, or the defaults
// 1000/full otherwise (§4.H).
func (f *Facade) GetSettings(vif *Vif) Settings {
	if eb, ok := vif.Binding.(*EthdevBinding); ok && f.ethdev != nil {
		speed, full := f.ethdev.Settings(eb.Ethdev.PortID)
		return Settings{SpeedMbs: speed, FullDuplex: full}
	}
	return Settings{SpeedMbs: 1000, FullDuplex: true}
}

// GetMTU returns the NIC MTU for fabric, else the vif's own MTU (§4.H).
func (f *Facade) GetMTU(vif *Vif) int {
	if eb, ok := vif.Binding.(*EthdevBinding); ok && f.ethdev != nil {
		return f.ethdev.MTU(eb.Ethdev.PortID)
	}
	return vif.MTU
}

// EncapEthernet is the constant encapsulation GetEncap always returns
// (§4.H: "get_encap is constant Ethernet").
const EncapEthernet = "ethernet"

// GetEncap returns the constant Ethernet encapsulation (§4.H).
func (f *Facade) GetEncap(_ *Vif) string { return EncapEthernet }

// StatsUpdate aggregates per-core-per-vif counters, scoped to core (or
// AllCores) (§4.H, §4.G).
func (f *Facade) StatsUpdate(core lcore.CoreID, vifIdx int32) VifStats {
	return f.stats.Aggregate(core, vifIdx)
}
