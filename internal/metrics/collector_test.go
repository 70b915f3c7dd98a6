package hostifmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	hostifmetrics "github.com/ocvrouter/hostif/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hostifmetrics.NewCollector(reg)

	if c.Packets == nil {
		t.Error("Packets is nil")
	}
	if c.Errors == nil {
		t.Error("Errors is nil")
	}
	if c.Drops == nil {
		t.Error("Drops is nil")
	}
	if c.FragmentedPackets == nil {
		t.Error("FragmentedPackets is nil")
	}
	if c.FragmentsProduced == nil {
		t.Error("FragmentsProduced is nil")
	}
	if c.MonitoredVifs == nil {
		t.Error("MonitoredVifs is nil")
	}
	if c.ScheduledQueues == nil {
		t.Error("ScheduledQueues is nil")
	}
	if c.AgentRingDepth == nil {
		t.Error("AgentRingDepth is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestPacketAndErrorCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hostifmetrics.NewCollector(reg)

	c.IncPackets(3, 1, false)
	c.IncPackets(3, 1, false)
	c.IncPackets(3, 1, true)
	c.IncErrors(3, 1, false)

	if v := counterValue(t, c.Packets, "3", "1", "queue"); v != 2 {
		t.Errorf("Packets(queue) = %v, want 2", v)
	}
	if v := counterValue(t, c.Packets, "3", "1", "port"); v != 1 {
		t.Errorf("Packets(port) = %v, want 1", v)
	}
	if v := counterValue(t, c.Errors, "3", "1", "queue"); v != 1 {
		t.Errorf("Errors(queue) = %v, want 1", v)
	}
}

func TestDropsCounter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hostifmetrics.NewCollector(reg)

	c.IncDrops(5, "no_route")
	c.IncDrops(5, "no_route")
	c.IncDrops(5, "ttl_exceeded")

	if v := counterValue(t, c.Drops, "5", "no_route"); v != 2 {
		t.Errorf("Drops(no_route) = %v, want 2", v)
	}
	if v := counterValue(t, c.Drops, "5", "ttl_exceeded"); v != 1 {
		t.Errorf("Drops(ttl_exceeded) = %v, want 1", v)
	}
}

func TestFragmentationCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hostifmetrics.NewCollector(reg)

	c.RecordFragmentation(2, 3)
	c.RecordFragmentation(2, 2)

	if v := counterValue(t, c.FragmentedPackets, "2"); v != 2 {
		t.Errorf("FragmentedPackets = %v, want 2", v)
	}
	if v := counterValue(t, c.FragmentsProduced, "2"); v != 5 {
		t.Errorf("FragmentsProduced = %v, want 5", v)
	}
}

func TestGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := hostifmetrics.NewCollector(reg)

	c.SetMonitoredVifs(4)
	c.SetScheduledQueues(8)
	c.SetAgentRingDepth(16)

	if v := gaugeValue(t, c.MonitoredVifs); v != 4 {
		t.Errorf("MonitoredVifs = %v, want 4", v)
	}
	if v := gaugeValue(t, c.ScheduledQueues); v != 8 {
		t.Errorf("ScheduledQueues = %v, want 8", v)
	}
	if v := gaugeValue(t, c.AgentRingDepth); v != 16 {
		t.Errorf("AgentRingDepth = %v, want 16", v)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
