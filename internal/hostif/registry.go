package hostif

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ocvrouter/hostif/internal/lcore"
)

// -------------------------------------------------------------------------
// Interface Registry — component E
// -------------------------------------------------------------------------

// EthdevProvider abstracts the NIC PMD collaborator of §6: dev_count,
// dev_info_get, macaddr_get, dev_start, dev_stop, link_get, stats_get,
// promiscuous_enable/disable, mtu_get. Out of scope per §1; modeled as
// an interface so the registry's dispatch logic is exercised without a
// real DPDK binding.
type EthdevProvider interface {
	// ResolvePCI resolves a DBDF to a port id, or ErrDBDFNotResolvable.
	ResolvePCI(d DBDF) (uint16, error)
	// Open allocates queues and returns the capability bits the NIC
	// advertises: supportsTXCsum (IPv4+UDP+TCP TX checksum offload) and
	// supportsVLAN (both VLAN insert and VLAN strip).
	Open(port uint16, rxQueues, txQueues int) (supportsTXCsum, supportsVLAN bool, mac MAC, err error)
	Start(port uint16) error
	Stop(port uint16) error
	SetPromiscuous(port uint16, enabled bool) error
	MTU(port uint16) int
	Settings(port uint16) (speedMbs int, fullDuplex bool)
}

// KNIProvider abstracts KNI create/teardown (§6).
type KNIProvider interface {
	Create(backingPort uint16) error
	Destroy(backingPort uint16) error
}

// VhostUserNotifier abstracts the vhost-user control plane's
// uvhost_vif_add/uvhost_vif_del (§6).
type VhostUserNotifier interface {
	NotifyAdd(name string, idx int32, nrxqs, ntxqs int) error
	NotifyDel(idx int32) error
}

// AgentTransport abstracts packet_socket_init/close + attach_vif (§6).
type AgentTransport interface {
	Init(socketPath string) error
	Close() error
	AttachVif(idx int32) error
}

// Registry implements the add/delete dispatch of §4.E. It owns the
// control-thread-side mutex (§5: "Control operations ... acquire a
// global interface lock (plain mutex). TX takes no locks.").
type Registry struct {
	mu       sync.Mutex
	vifs     map[int32]*Vif
	byPort   map[uint16]int32 // fabric port id -> vif idx, §3 invariant
	agentIdx *int32           // at most one agent vif process-wide

	sched     *lcore.Scheduler
	monitors  *MonitorTable
	ethdev    EthdevProvider
	kni       KNIProvider
	vhostUser VhostUserNotifier
	agent     AgentTransport

	stopped bool
	logger  *slog.Logger
}

// NewRegistry constructs a Registry wired to its collaborators.
func NewRegistry(sched *lcore.Scheduler, monitors *MonitorTable, ethdev EthdevProvider, kni KNIProvider, vhostUser VhostUserNotifier, agent AgentTransport, logger *slog.Logger) *Registry {
	return &Registry{
		vifs:      make(map[int32]*Vif),
		byPort:    make(map[uint16]int32),
		sched:     sched,
		monitors:  monitors,
		ethdev:    ethdev,
		kni:       kni,
		vhostUser: vhostUser,
		agent:     agent,
		logger:    logger.With(slog.String("component", "hostif.registry")),
	}
}

// Stop sets the process-wide stop flag (§4.E, §5): subsequent Add/Del
// calls return ErrBusy without side effects; in-flight TX completes.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

// Lookup returns the vif for idx, if registered.
func (r *Registry) Lookup(idx int32) (*Vif, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vifs[idx]
	return v, ok
}

// Add dispatches to the per-kind add procedure of §4.E.
func (r *Registry) Add(v *Vif) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return newErr(ErrKindBusy, "add", v.Idx, ErrBusy)
	}
	if v.IsBound() {
		return newErr(ErrKindAlreadyExists, "add", v.Idx, ErrAlreadyBound)
	}

	var err error
	switch v.Kind {
	case KindFabric:
		err = r.addFabric(v)
	case KindVirtual:
		err = r.addVirtual(v)
	case KindVhost:
		err = r.addVhost(v)
	case KindMonitoring:
		err = r.addMonitoring(v)
	case KindAgent:
		err = r.addAgent(v)
	default:
		return newErr(ErrKindInvalidArgument, "add", v.Idx, ErrUnknownKind)
	}
	if err != nil {
		return err
	}
	r.vifs[v.Idx] = v
	return nil
}

// addFabric implements §4.E "Fabric add".
func (r *Registry) addFabric(v *Vif) error {
	var port uint16
	if v.Flags.Has(FlagPMD) {
		port = uint16(v.OSIndex)
	} else {
		d := DecodeDBDF(v.OSIndex)
		p, err := r.ethdev.ResolvePCI(d)
		if err != nil {
			return newErr(ErrKindNotFound, "add-fabric", v.Idx, fmt.Errorf("%w: %v", ErrDBDFNotResolvable, err))
		}
		port = p
	}

	if _, exists := r.byPort[port]; exists {
		return newErr(ErrKindAlreadyExists, "add-fabric", v.Idx, ErrAlreadyBound)
	}

	ethdev := &EthdevRecord{PortID: port}
	const rxQueues, txQueues = 1, 1 // real queue counts come from upstream RSS config
	supportsTXCsum, supportsVLAN, mac, err := r.ethdev.Open(port, rxQueues, txQueues)
	if err != nil {
		return newErr(ErrKindInternal, "add-fabric", v.Idx, fmt.Errorf("%w: %v", ErrDeviceStartFailed, err))
	}
	if supportsTXCsum {
		v.Flags.Set(FlagCsumOffload)
	}
	if supportsVLAN {
		v.Flags.Set(FlagVlanOffload)
	}
	if v.MAC.IsZero() {
		v.MAC = mac // adopt NIC MAC only if vif MAC is all-zero; never overwrite agent-supplied MAC
	}
	if err := r.ethdev.Start(port); err != nil {
		return newErr(ErrKindInternal, "add-fabric", v.Idx, fmt.Errorf("%w: %v", ErrDeviceStartFailed, err))
	}

	for i := 0; i < rxQueues; i++ {
		core := r.sched.LeastUsedCore()
		if err := r.sched.Schedule(core, v.Idx, newEthdevQueueOps(r.ethdev, port)); err != nil {
			return newErr(ErrKindInternal, "add-fabric", v.Idx, err)
		}
	}
	for i := 0; i < txQueues; i++ {
		core := r.sched.LeastUsedCore()
		if err := r.sched.Schedule(core, v.Idx, newEthdevQueueOps(r.ethdev, port)); err != nil {
			return newErr(ErrKindInternal, "add-fabric", v.Idx, err)
		}
	}

	v.Binding = &EthdevBinding{Ethdev: ethdev}
	r.byPort[port] = v.Idx
	return nil
}

// addVirtual implements §4.E "Virtual add": schedule N RX queues (from
// upstream's nrxqs) and one TX queue per lcore (virtio TX is
// thread-safe), then notify the vhost-user agent.
func (r *Registry) addVirtual(v *Vif) error {
	const nrxqs = 1 // real fan-out comes from upstream's "virtio nrxqs"
	for i := 0; i < nrxqs; i++ {
		core := r.sched.LeastUsedCore()
		if err := r.sched.Schedule(core, v.Idx, newVirtioQueueOps()); err != nil {
			return newErr(ErrKindInternal, "add-virtual", v.Idx, err)
		}
	}
	for core := 0; core < r.sched.NumCores(); core++ {
		_ = r.sched.Schedule(lcore.CoreID(core), v.Idx, newVirtioQueueOps())
	}
	if r.vhostUser != nil {
		if err := r.vhostUser.NotifyAdd(fmt.Sprintf("vif%d", v.Idx), v.Idx, nrxqs, 1); err != nil {
			return newErr(ErrKindInternal, "add-virtual", v.Idx, err)
		}
	}
	v.Binding = &VirtioBinding{NRXQueues: nrxqs}
	return nil
}

// addVhost implements §4.E "Vhost add": create a KNI bound to the
// backing fabric ethdev's port, or its first bond slave if the fabric is
// a bond (§9 Design Notes "Bond -> KNI": known limitation, not
// re-targeted on bond membership change).
func (r *Registry) addVhost(v *Vif) error {
	backing, ok := r.vifs[int32(v.OSIndex)]
	if !ok {
		return newErr(ErrKindNotFound, "add-vhost", v.Idx, ErrMonitoredVifMissing)
	}
	eb, ok := backing.Binding.(*EthdevBinding)
	if !ok {
		return newErr(ErrKindInvalidArgument, "add-vhost", v.Idx, ErrUnknownKind)
	}
	backingPort := eb.Ethdev.PortID
	if len(eb.Ethdev.BondSlaves) > 0 {
		backingPort = eb.Ethdev.BondSlaves[0]
	}
	if err := r.kni.Create(backingPort); err != nil {
		return newErr(ErrKindInternal, "add-vhost", v.Idx, fmt.Errorf("%w: %v", ErrKNIInitFailed, err))
	}
	core := r.sched.LeastUsedCore()
	if err := r.sched.Schedule(core, v.Idx, newKNIQueueOps()); err != nil {
		return newErr(ErrKindInternal, "add-vhost", v.Idx, err)
	}
	v.Binding = &KNIBinding{BackingPort: backingPort}
	return nil
}

// addMonitoring implements §4.E "Monitoring add".
func (r *Registry) addMonitoring(v *Vif) error {
	monitored, ok := r.vifs[int32(v.OSIndex)]
	if !ok {
		return newErr(ErrKindNotFound, "add-monitoring", v.Idx, ErrMonitoredVifMissing)
	}
	if err := r.kni.Create(0); err != nil {
		return newErr(ErrKindInternal, "add-monitoring", v.Idx, fmt.Errorf("%w: %v", ErrKNIInitFailed, err))
	}
	core := r.sched.LeastUsedCore()
	if err := r.sched.Schedule(core, v.Idx, newKNIQueueOps()); err != nil {
		return newErr(ErrKindInternal, "add-monitoring", v.Idx, err)
	}

	r.monitors.Start(monitored, v.Idx)

	if monitored.Kind == KindFabric {
		if eb, ok := monitored.Binding.(*EthdevBinding); ok {
			_ = r.ethdev.SetPromiscuous(eb.Ethdev.PortID, true)
		}
	}

	v.Binding = &KNIBinding{BackingPort: 0}
	return nil
}

// addAgent implements §4.E "Agent add": one per process.
func (r *Registry) addAgent(v *Vif) error {
	if r.agentIdx != nil {
		return newErr(ErrKindAlreadyExists, "add-agent", v.Idx, ErrAlreadyBound)
	}
	binding, ok := v.Binding.(*AgentBinding)
	if !ok {
		binding = &AgentBinding{}
	}
	if r.agent != nil {
		if err := r.agent.Init(binding.SocketPath); err != nil {
			return newErr(ErrKindInternal, "add-agent", v.Idx, err)
		}
		if err := r.agent.AttachVif(v.Idx); err != nil {
			return newErr(ErrKindInternal, "add-agent", v.Idx, err)
		}
	}
	idx := v.Idx
	r.agentIdx = &idx
	v.Binding = binding
	return nil
}

// Del dispatches to the mirror of each add procedure, in reverse, per
// §4.E "Delete".
func (r *Registry) Del(idx int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return newErr(ErrKindBusy, "del", idx, ErrBusy)
	}
	v, ok := r.vifs[idx]
	if !ok {
		return newErr(ErrKindNotFound, "del", idx, ErrMonitoredVifMissing)
	}
	if !v.IsBound() {
		return newErr(ErrKindConflict, "del", idx, ErrNotBound)
	}

	var err error
	switch v.Kind {
	case KindFabric:
		err = r.delFabric(v)
	case KindVirtual:
		err = r.delVirtual(v)
	case KindVhost:
		err = r.delVhost(v)
	case KindMonitoring:
		err = r.delMonitoring(v)
	case KindAgent:
		err = r.delAgent(v)
	}
	if err != nil {
		return err
	}
	v.Binding = nil
	delete(r.vifs, idx)
	return nil
}

func (r *Registry) delFabric(v *Vif) error {
	eb := v.Binding.(*EthdevBinding)
	r.sched.UnscheduleAll(v.Idx)
	if err := r.ethdev.Stop(eb.Ethdev.PortID); err != nil {
		return newErr(ErrKindInternal, "del-fabric", v.Idx, err)
	}
	delete(r.byPort, eb.Ethdev.PortID)
	return nil
}

func (r *Registry) delVirtual(v *Vif) error {
	r.sched.UnscheduleAll(v.Idx)
	if r.vhostUser != nil {
		return r.vhostUser.NotifyDel(v.Idx)
	}
	return nil
}

func (r *Registry) delVhost(v *Vif) error {
	kb := v.Binding.(*KNIBinding)
	r.sched.UnscheduleAll(v.Idx)
	if err := r.kni.Destroy(kb.BackingPort); err != nil {
		return newErr(ErrKindInternal, "del-vhost", v.Idx, err)
	}
	return nil
}

// delMonitoring implements §4.E delete for monitoring: checks the
// mapping still points at self (re-use race), clears MONITORED and then
// the mapping (MonitorTable.Stop's ordering, §4.F), disables promiscuous
// if the monitored side was fabric.
func (r *Registry) delMonitoring(v *Vif) error {
	monitored, ok := r.vifs[int32(v.OSIndex)]
	if ok {
		if err := r.monitors.Stop(monitored, v.Idx); err != nil {
			return newErr(ErrKindConflict, "del-monitoring", v.Idx, err)
		}
		if monitored.Kind == KindFabric {
			if eb, ok := monitored.Binding.(*EthdevBinding); ok {
				_ = r.ethdev.SetPromiscuous(eb.Ethdev.PortID, false)
			}
		}
	}
	kb := v.Binding.(*KNIBinding)
	r.sched.UnscheduleAll(v.Idx)
	return r.kni.Destroy(kb.BackingPort)
}

func (r *Registry) delAgent(v *Vif) error {
	r.sched.UnscheduleAll(v.Idx)
	if r.agent != nil {
		if err := r.agent.Close(); err != nil {
			return newErr(ErrKindInternal, "del-agent", v.Idx, err)
		}
	}
	r.agentIdx = nil
	return nil
}
