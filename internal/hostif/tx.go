package hostif

import (
	"encoding/binary"
	"log/slog"

	"github.com/ocvrouter/hostif/internal/lcore"
)

// -------------------------------------------------------------------------
// Per-Interface TX — component D
// -------------------------------------------------------------------------

// GlobalConfig carries the process-wide knobs §3 Data Model lists under
// "Global": the VLAN tag (or "none"), the MSS-adjust toggle, and the
// fragment pools. There is exactly one GlobalConfig per TXPipeline.
type GlobalConfig struct {
	VlanTag      *uint16 // nil means "none"
	MSSAdjust    bool
	FragPools    *FragmentPools
	AgentRing    *AgentRing
}

// TXPipeline implements tx(vif, packet), the single entry point from the
// upper vrouter described in §4.D. It is constructed once per process
// and is safe for concurrent use by multiple lcore workers (it takes no
// locks on the datapath, per §5).
type TXPipeline struct {
	sched    *lcore.Scheduler
	monitors *MonitorTable
	stats    *StatsAggregator
	global   GlobalConfig
	logger   *slog.Logger
}

// NewTXPipeline builds a TXPipeline wired to the given scheduler,
// monitoring table and stats aggregator.
func NewTXPipeline(sched *lcore.Scheduler, monitors *MonitorTable, stats *StatsAggregator, global GlobalConfig, logger *slog.Logger) *TXPipeline {
	return &TXPipeline{
		sched:    sched,
		monitors: monitors,
		stats:    stats,
		global:   global,
		logger:   logger.With(slog.String("component", "hostif.tx")),
	}
}

// TX runs pkt through the step order of §4.D for vif on core. Step order
// is load-bearing: do not reorder without re-reading §4.D. It returns a
// non-zero error only when the buffer could not be enqueued to a
// downstream queue (§7: "TX never returns an error to the upper layer
// unless the buffer could not be enqueued"); the caller should treat any
// returned error as "increment this interface's error counter", since
// the packet itself has already been freed with a drop reason by the
// time TX returns.
func (p *TXPipeline) TX(core lcore.CoreID, vif *Vif, pkt *Packet) error {
	// Step 1: resolve current core's TX queue slot for vif.idx.
	queue, err := p.sched.QueueFor(core, vif.Idx)
	if err != nil {
		pkt.Free(DropInterfaceDrop)
		p.stats.IncOErrors(core, vif.Idx, false)
		return err
	}

	// Step 2: reset buffer head/length (single-segment invariant).
	pkt.ResetHead(pkt.HeadLen())

	// Step 3: mirror.
	p.mirror(core, vif, pkt)

	// Step 4: agent fast path.
	if vif.Kind == KindAgent {
		return p.txAgent(core, vif, pkt)
	}

	// Step 5: MSS adjust.
	if p.global.MSSAdjust && vif.Kind == KindVirtual {
		if err := p.mssAdjust(pkt); err != nil {
			pkt.Free(DropPull)
			p.stats.IncOErrors(core, vif.Idx, false)
			return err
		}
	}

	// Step 6: will-fragment.
	willFragment := pkt.Type.IsOverlay() && vif.MTU < pkt.HeadLen()

	// Step 7: checksums.
	if pkt.Flags&CsumPartial != 0 {
		if err := ApplyChecksums(pkt, vif, willFragment); err != nil {
			pkt.Free(DropPull)
			p.stats.IncOErrors(core, vif.Idx, false)
			return err
		}
	} else if pkt.Type.IsOverlay() {
		if err := applyOuterOnly(pkt, vif, willFragment); err != nil {
			pkt.Free(DropPull)
			p.stats.IncOErrors(core, vif.Idx, false)
			return err
		}
	}

	// Step 8: VLAN.
	if p.global.VlanTag != nil && vif.Kind == KindFabric {
		pkt.VlanTCI = *p.global.VlanTag
		if vif.Flags.Has(FlagVlanOffload) {
			pkt.Flags |= TXVlanPkt
		} else if err := insertVLANTag(pkt, *p.global.VlanTag); err != nil {
			pkt.Free(DropVlanInsert)
			p.stats.IncOErrors(core, vif.Idx, false)
			return err
		}
	}

	// Step 9: fragment.
	var frags []*Packet
	if willFragment {
		frags, err = Fragment(pkt, vif, p.global.FragPools)
		if err != nil {
			pkt.Free(DropFragment)
			p.stats.IncOErrors(core, vif.Idx, false)
			return err
		}
	}

	// Step 10: enqueue.
	return p.enqueue(core, vif, queue, pkt, frags)
}

// mirror implements §4.D step 3. Mirror failure never aborts the
// primary path; clone failure is silently dropped.
func (p *TXPipeline) mirror(core lcore.CoreID, vif *Vif, pkt *Packet) {
	if !vif.Flags.Has(FlagMonitored) {
		return
	}
	monIdx, ok := p.monitors.Lookup(vif.Idx)
	if !ok {
		return
	}
	monQueue, err := p.sched.QueueFor(core, monIdx)
	if err != nil {
		return
	}
	clone := pkt.Clone()
	if err := monQueue.TX(clone.Bytes()); err != nil {
		clone.Free(DropMirrorClone)
		return
	}
	clone.Free(DropNone)
}

// txAgent implements §4.D step 4: push the buffer onto the global
// packet ring, wake the consumer, and always report success upstream so
// the caller does not double-count the drop (§7, §9 Design Notes "Agent
// double-accounting").
func (p *TXPipeline) txAgent(core lcore.CoreID, vif *Vif, pkt *Packet) error {
	if p.global.AgentRing == nil || !p.global.AgentRing.Enqueue(pkt.Bytes()) {
		pkt.Free(DropRingFull)
		p.stats.IncOErrors(core, vif.Idx, true)
		return nil
	}
	p.global.AgentRing.Wake()
	pkt.Free(DropNone)
	p.stats.IncOPackets(core, vif.Idx, true)
	return nil
}

// mssAdjust implements §4.D step 5: for TCP with SYN, clamp MSS to
// overlay_len - iph_len.
func (p *TXPipeline) mssAdjust(pkt *Packet) error {
	ethLen := EtherHeaderLen(pkt.Bytes())
	if pkt.HeadLen() < ethLen+ipv4HeaderLenMin {
		return ErrPoolExhausted // reuses the generic "pull failed" sentinel family
	}
	iphdr := pkt.DataAt(ethLen)
	if iphdr[ipv4ProtoOff] != protoTCP {
		return nil
	}
	ihl := ipv4HeaderLen(iphdr)
	if len(iphdr) < ihl+20 {
		return nil
	}
	tcp := iphdr[ihl:]
	const tcpFlagsOff, tcpSYN = 13, 0x02
	if tcp[tcpFlagsOff]&tcpSYN == 0 {
		return nil
	}
	overlayLen := len(iphdr)
	clamped := uint16(overlayLen - ihl)
	adjustMSSOption(tcp, clamped)
	return nil
}

// adjustMSSOption scans the TCP options for kind=2 (MSS) and clamps its
// value down to max if it currently exceeds max.
func adjustMSSOption(tcp []byte, max uint16) {
	const tcpHdrMin = 20
	dataOff := int(tcp[12]>>4) * 4
	if dataOff <= tcpHdrMin || dataOff > len(tcp) {
		return
	}
	opts := tcp[tcpHdrMin:dataOff]
	for i := 0; i < len(opts); {
		kind := opts[i]
		switch kind {
		case 0:
			return
		case 1:
			i++
		default:
			if i+1 >= len(opts) {
				return
			}
			optLen := int(opts[i+1])
			if optLen < 2 || i+optLen > len(opts) {
				return
			}
			if kind == 2 && optLen == 4 {
				cur := binary.BigEndian.Uint16(opts[i+2 : i+4])
				if cur > max {
					binary.BigEndian.PutUint16(opts[i+2:i+4], max)
				}
				return
			}
			i += optLen
		}
	}
}

// applyOuterOnly handles §4.D step 7's "if not [CSUM_PARTIAL] but
// is_overlay, compute outer only" branch.
func applyOuterOnly(pkt *Packet, vif *Vif, willFragment bool) error {
	if willFragment {
		return nil // the fragmenter recomputes/handles the outer header itself
	}
	outerEthLen := EtherHeaderLen(pkt.Bytes())
	outer := pkt.DataAt(outerEthLen)
	if vif.Flags.Has(FlagCsumOffload) {
		binary.BigEndian.PutUint16(outer[ipv4ChecksumOff:ipv4ChecksumOff+2], 0)
		pkt.Flags |= TXIPChecksum | TXIPv4
		return nil
	}
	writeIPv4HeaderChecksum(outer)
	return nil
}

// insertVLANTag implements §4.D step 8's software path: prepend a 4-byte
// VLAN tag after the first 12 bytes (dst+src MAC) and before the
// EtherType, per §8 S6.
func insertVLANTag(pkt *Packet, tci uint16) error {
	if !pkt.Prepend(4) {
		return ErrPoolExhausted
	}
	b := pkt.Bytes()
	copy(b[0:12], b[4:16])
	binary.BigEndian.PutUint16(b[12:14], vlanEtherType)
	binary.BigEndian.PutUint16(b[14:16], tci)
	pkt.L2Len += 4
	return nil
}

// queueLevel reports whether q accounts to the port-side stats bucket
// rather than the queue-side bucket (§4.G). Queue implementations that
// don't distinguish (e.g. test fakes) default to the queue-side bucket.
func queueLevel(q lcore.QueueOps) bool {
	type portLeveler interface{ PortLevel() bool }
	if pl, ok := q.(portLeveler); ok {
		return pl.PortLevel()
	}
	return false
}

// enqueue implements §4.D step 10.
func (p *TXPipeline) enqueue(core lcore.CoreID, vif *Vif, queue lcore.QueueOps, pkt *Packet, frags []*Packet) error {
	forwarding := p.sched.IsForwarding(core)
	portSide := queueLevel(queue)

	if len(frags) > 1 {
		bulk, ok := queue.(lcore.BulkQueueOps)
		if !ok {
			for _, f := range frags {
				f.Free(DropInterfaceDrop)
			}
			p.stats.IncOErrors(core, vif.Idx, !portSide)
			return ErrQueueOpsMissing
		}
		bufs := make([][]byte, len(frags))
		for i, f := range frags {
			bufs[i] = f.Bytes()
		}
		if err := bulk.TXBulk(bufs); err != nil {
			for _, f := range frags {
				f.Free(DropQueueFull)
			}
			p.stats.IncOErrors(core, vif.Idx, !portSide)
			return err
		}
		if !forwarding {
			if fl, ok := queue.(lcore.FlushableQueueOps); ok {
				_ = fl.Flush()
			}
		}
		for _, f := range frags {
			f.Free(DropNone)
		}
		p.stats.IncOPackets(core, vif.Idx, !portSide)
		return nil
	}

	if len(frags) == 1 {
		return p.enqueueSingle(core, vif, queue, frags[0], forwarding, portSide)
	}

	return p.enqueueSingle(core, vif, queue, pkt, forwarding, portSide)
}

func (p *TXPipeline) enqueueSingle(core lcore.CoreID, vif *Vif, queue lcore.QueueOps, pkt *Packet, forwarding, portSide bool) error {
	if err := queue.TX(pkt.Bytes()); err != nil {
		pkt.Free(DropQueueFull)
		p.stats.IncOErrors(core, vif.Idx, !portSide)
		return err
	}
	if !forwarding {
		if fl, ok := queue.(lcore.FlushableQueueOps); ok {
			_ = fl.Flush()
		}
	}
	pkt.Free(DropNone)
	p.stats.IncOPackets(core, vif.Idx, !portSide)
	return nil
}

// RX implements the Host-interface Facade's rx operation: a monitor
// clone followed by a single f_tx, per the original's dpdk_if_rx shape
// (mirror, then hand the packet to the same TX entry point).
func (p *TXPipeline) RX(core lcore.CoreID, vif *Vif, pkt *Packet) error {
	return p.TX(core, vif, pkt)
}
