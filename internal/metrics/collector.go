// Package hostifmetrics exposes the host-interface datapath's counters
// as Prometheus metrics: per-vif packet/error/drop counts (§4.G),
// fragmentation activity (§4.C), monitoring (§4.F), and lcore
// scheduling (§6).
package hostifmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "vrouterd"
	subsystem = "hostif"
)

// Label names for host-interface metrics.
const (
	labelVif    = "vif"
	labelCore   = "core"
	labelBucket = "bucket" // "queue" or "port"
	labelReason = "reason" // drop reason string
)

// -------------------------------------------------------------------------
// Collector — Prometheus Host-Interface Metrics
// -------------------------------------------------------------------------

// Collector holds every Prometheus metric the host-interface datapath
// exposes.
type Collector struct {
	// Packets counts TX/RX-side packets per vif/core/bucket (§4.G).
	Packets *prometheus.CounterVec

	// Errors counts TX/RX-side errors per vif/core/bucket (§4.G).
	Errors *prometheus.CounterVec

	// Drops counts packets freed with a non-none DropReason, labeled by
	// vif and reason (§4.B "Drop reasons").
	Drops *prometheus.CounterVec

	// FragmentedPackets counts packets that entered the fragmenter
	// per vif (§4.C).
	FragmentedPackets *prometheus.CounterVec

	// FragmentsProduced counts individual fragments emitted per vif
	// (§4.C).
	FragmentsProduced *prometheus.CounterVec

	// MonitoredVifs tracks the number of vifs currently flagged
	// MONITORED (§4.F).
	MonitoredVifs prometheus.Gauge

	// ScheduledQueues tracks the number of (core, vif) queue slots
	// currently scheduled (§6).
	ScheduledQueues prometheus.Gauge

	// AgentRingDepth tracks the current depth of the global agent
	// packet ring (§3 Data Model "Global").
	AgentRingDepth prometheus.Gauge
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Packets,
		c.Errors,
		c.Drops,
		c.FragmentedPackets,
		c.FragmentsProduced,
		c.MonitoredVifs,
		c.ScheduledQueues,
		c.AgentRingDepth,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	vifCoreBucket := []string{labelVif, labelCore, labelBucket}
	vif := []string{labelVif}
	vifReason := []string{labelVif, labelReason}

	return &Collector{
		Packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_total",
			Help:      "Total packets processed per vif, core and stats bucket (queue or port).",
		}, vifCoreBucket),

		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total TX/RX errors per vif, core and stats bucket (queue or port).",
		}, vifCoreBucket),

		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "drops_total",
			Help:      "Total packets freed with a non-none drop reason, per vif.",
		}, vifReason),

		FragmentedPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fragmented_packets_total",
			Help:      "Total packets that required IPv4 fragmentation on TX.",
		}, vif),

		FragmentsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fragments_produced_total",
			Help:      "Total fragment buffers produced by the fragmenter.",
		}, vif),

		MonitoredVifs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "monitored_vifs",
			Help:      "Number of vifs currently flagged MONITORED.",
		}),

		ScheduledQueues: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scheduled_queues",
			Help:      "Number of (core, vif) TX/RX queue slots currently scheduled.",
		}),

		AgentRingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "agent_ring_depth",
			Help:      "Current depth of the global agent packet ring.",
		}),
	}
}

// -------------------------------------------------------------------------
// Packet/error counters
// -------------------------------------------------------------------------

// bucketLabel returns "queue" or "port" for the stats bucket label.
func bucketLabel(portSide bool) string {
	if portSide {
		return "port"
	}
	return "queue"
}

// IncPackets increments the packet counter for vifIdx on core.
func (c *Collector) IncPackets(vifIdx int32, core int, portSide bool) {
	c.Packets.WithLabelValues(strconv.Itoa(int(vifIdx)), strconv.Itoa(core), bucketLabel(portSide)).Inc()
}

// IncErrors increments the error counter for vifIdx on core.
func (c *Collector) IncErrors(vifIdx int32, core int, portSide bool) {
	c.Errors.WithLabelValues(strconv.Itoa(int(vifIdx)), strconv.Itoa(core), bucketLabel(portSide)).Inc()
}

// IncDrops increments the drop counter for vifIdx with the given
// categorized reason string (§4.B).
func (c *Collector) IncDrops(vifIdx int32, reason string) {
	c.Drops.WithLabelValues(strconv.Itoa(int(vifIdx)), reason).Inc()
}

// -------------------------------------------------------------------------
// Fragmentation
// -------------------------------------------------------------------------

// RecordFragmentation records that pkt for vifIdx was fragmented into
// n fragments.
func (c *Collector) RecordFragmentation(vifIdx int32, n int) {
	label := strconv.Itoa(int(vifIdx))
	c.FragmentedPackets.WithLabelValues(label).Inc()
	c.FragmentsProduced.WithLabelValues(label).Add(float64(n))
}

// -------------------------------------------------------------------------
// Gauges
// -------------------------------------------------------------------------

// SetMonitoredVifs sets the current count of MONITORED-flagged vifs.
func (c *Collector) SetMonitoredVifs(n int) {
	c.MonitoredVifs.Set(float64(n))
}

// SetScheduledQueues sets the current count of scheduled (core, vif)
// queue slots.
func (c *Collector) SetScheduledQueues(n int) {
	c.ScheduledQueues.Set(float64(n))
}

// SetAgentRingDepth sets the current depth of the agent packet ring.
func (c *Collector) SetAgentRingDepth(n int) {
	c.AgentRingDepth.Set(float64(n))
}
