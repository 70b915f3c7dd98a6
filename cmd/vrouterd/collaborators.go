package main

import (
	"log/slog"
	"sync"

	"github.com/ocvrouter/hostif/internal/hostif"
)

// -------------------------------------------------------------------------
// Out-of-scope collaborator stand-ins — NIC PMD, KNI, vhost-user
// -------------------------------------------------------------------------
//
// The real DPDK NIC poll-mode driver, the kernel KNI device and the
// vhost-user control plane are out of scope per §1/§6: vrouterd's own job
// is the interface registry's add/delete dispatch and the TX pipeline, not
// a DPDK binding. These stand-ins satisfy hostif.EthdevProvider/
// KNIProvider/VhostUserNotifier with an in-process simulation so the
// registry's dispatch logic runs end-to-end against something, the same
// role internal/hostif/queueops.go's ringQueueOps plays for the queue
// vtable itself.

// simulatedEthdev hands out sequential port ids for PCI DBDFs it has not
// seen before, and tracks per-port state queried by the facade (MTU,
// speed/duplex, promiscuous mode).
type simulatedEthdev struct {
	mu          sync.Mutex
	nextPort    uint16
	resolved    map[hostif.DBDF]uint16
	mtu         map[uint16]int
	promiscuous map[uint16]bool
}

func newSimulatedEthdev() *simulatedEthdev {
	return &simulatedEthdev{
		resolved:    make(map[hostif.DBDF]uint16),
		mtu:         make(map[uint16]int),
		promiscuous: make(map[uint16]bool),
	}
}

func (e *simulatedEthdev) ResolvePCI(d hostif.DBDF) (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if port, ok := e.resolved[d]; ok {
		return port, nil
	}
	port := e.nextPort
	e.nextPort++
	e.resolved[d] = port
	return port, nil
}

// Open reports no hardware offload capability: a simulated port has no
// real NIC behind it to negotiate checksum/VLAN offload with.
func (e *simulatedEthdev) Open(port uint16, rxQueues, txQueues int) (supportsTXCsum, supportsVLAN bool, mac hostif.MAC, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.mtu[port]; !ok {
		e.mtu[port] = 1500
	}
	return false, false, hostif.MAC{}, nil
}

func (e *simulatedEthdev) Start(port uint16) error { return nil }
func (e *simulatedEthdev) Stop(port uint16) error  { return nil }

func (e *simulatedEthdev) SetPromiscuous(port uint16, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.promiscuous[port] = enabled
	return nil
}

func (e *simulatedEthdev) MTU(port uint16) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mtu, ok := e.mtu[port]; ok {
		return mtu
	}
	return 1500
}

// Settings reports the defaults §4.H documents for a non-fabric vif; a
// simulated port never actually negotiates link speed/duplex.
func (e *simulatedEthdev) Settings(port uint16) (speedMbs int, fullDuplex bool) {
	return 1000, true
}

// simulatedKNI counts create/destroy calls per backing port; there is no
// real kernel network device behind it.
type simulatedKNI struct {
	mu      sync.Mutex
	created map[uint16]int
}

func newSimulatedKNI() *simulatedKNI {
	return &simulatedKNI{created: make(map[uint16]int)}
}

func (k *simulatedKNI) Create(backingPort uint16) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.created[backingPort]++
	return nil
}

func (k *simulatedKNI) Destroy(backingPort uint16) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.created[backingPort] > 0 {
		k.created[backingPort]--
	}
	return nil
}

// simulatedVhostUser logs vif add/del notifications it would otherwise
// forward to a real vhost-user backend over netlink (§4.E "Virtual add").
type simulatedVhostUser struct {
	logger *slog.Logger
}

func newSimulatedVhostUser(logger *slog.Logger) *simulatedVhostUser {
	return &simulatedVhostUser{logger: logger.With(slog.String("component", "vrouterd.vhostuser"))}
}

func (v *simulatedVhostUser) NotifyAdd(name string, idx int32, nrxqs, ntxqs int) error {
	v.logger.Debug("vhost-user vif add",
		slog.String("name", name), slog.Int("idx", int(idx)),
		slog.Int("nrxqs", nrxqs), slog.Int("ntxqs", ntxqs),
	)
	return nil
}

func (v *simulatedVhostUser) NotifyDel(idx int32) error {
	v.logger.Debug("vhost-user vif del", slog.Int("idx", int(idx)))
	return nil
}
