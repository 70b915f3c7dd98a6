package hostif

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStatsPortVsQueueBuckets exercises §4.G's port/queue split: a
// port-level queue's packets and errors must land in the Port* fields,
// never the Queue* fields, and vice versa.
func TestStatsPortVsQueueBuckets(t *testing.T) {
	s := NewStatsAggregator()

	s.IncOPackets(0, 1, true)
	s.IncOErrors(0, 1, true)
	s.IncOPackets(0, 1, false)
	s.IncOErrors(0, 1, false)
	s.IncIPackets(0, 1, false)
	s.IncIErrors(0, 1, false)

	got := s.Aggregate(0, 1)
	assert.Equal(t, uint64(1), got.QueueOPackets)
	assert.Equal(t, uint64(1), got.QueueOErrors)
	assert.Equal(t, uint64(1), got.PortOPackets)
	assert.Equal(t, uint64(1), got.PortOErrors, "port-side TX errors must not be dropped")
	assert.Equal(t, uint64(1), got.PortIPackets)
	assert.Equal(t, uint64(1), got.PortIErrors, "port-side RX errors must not be dropped")
	assert.Zero(t, got.QueueIPackets)
	assert.Zero(t, got.QueueIErrors)
}

// TestStatsAggregateAllCores exercises the AllCores sentinel summing
// every scheduled core's bucket for a vif.
func TestStatsAggregateAllCores(t *testing.T) {
	s := NewStatsAggregator()

	s.IncOPackets(0, 1, true)
	s.IncOPackets(1, 1, true)
	s.IncOPackets(0, 2, true) // different vif, must not leak in

	got := s.Aggregate(AllCores, 1)
	assert.Equal(t, uint64(2), got.QueueOPackets)

	gotCore0 := s.Aggregate(0, 1)
	assert.Equal(t, uint64(1), gotCore0.QueueOPackets)
}

// TestStatsUpdateXStats exercises the device-level xstats bucket, read
// once on core 0 independently of the per-core-per-vif buckets.
func TestStatsUpdateXStats(t *testing.T) {
	s := NewStatsAggregator()
	s.UpdateXStats(3, 10, 20, 5)

	got := s.Aggregate(AllCores, 3)
	assert.Equal(t, uint64(10), got.DevIErrors)
	assert.Equal(t, uint64(20), got.DevOErrors)
	assert.Equal(t, uint64(5), got.DevINoMbufs)
}
