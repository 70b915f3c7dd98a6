package hostif

import (
	"errors"
	"sync"

	"github.com/ocvrouter/hostif/internal/lcore"
)

// -------------------------------------------------------------------------
// Queue op implementations
// -------------------------------------------------------------------------
//
// The NIC PMD, KNI driver and vhost-user virtio backend are out-of-scope
// collaborators (§1, §6): this registry only needs something satisfying
// lcore.QueueOps/BulkQueueOps/FlushableQueueOps to schedule, so these
// ring-backed stand-ins exercise the real scheduling and TX-pipeline
// code paths against an in-memory queue rather than a hardware binding.

var errQueueClosed = errors.New("hostif: queue closed")

// ringQueueOps is a small bounded ring shared by the three concrete
// queue kinds below; the only thing that differs between an ethdev
// queue, a KNI queue and a virtio queue is which stats bucket (port vs.
// queue) their TX accounts to, per §4.G.
type ringQueueOps struct {
	mu      sync.Mutex
	frames  [][]byte
	cap     int
	portLvl bool
}

func newRingQueueOps(capacity int, portLevel bool) *ringQueueOps {
	return &ringQueueOps{cap: capacity, portLvl: portLevel}
}

func (q *ringQueueOps) TX(buf []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) >= q.cap {
		return errQueueClosed
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	q.frames = append(q.frames, cp)
	return nil
}

func (q *ringQueueOps) TXBulk(bufs [][]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames)+len(bufs) > q.cap {
		return errQueueClosed
	}
	for _, buf := range bufs {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		q.frames = append(q.frames, cp)
	}
	return nil
}

func (q *ringQueueOps) Flush() error { return nil }

// PortLevel reports whether this queue's TX accounts to the port-side
// stats bucket rather than the queue-side bucket (§4.G).
func (q *ringQueueOps) PortLevel() bool { return q.portLvl }

// Frames returns a snapshot of the frames currently enqueued, for test
// inspection of what the TX pipeline actually handed downstream.
func (q *ringQueueOps) Frames() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.frames))
	copy(out, q.frames)
	return out
}

func (q *ringQueueOps) Stats(clear bool) lcore.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := lcore.QueueStats{Packets: uint64(len(q.frames))}
	if clear {
		q.frames = nil
	}
	return st
}

const defaultQueueDepth = 1024

// newEthdevQueueOps backs a fabric vif's TX queue: port-level, since the
// queue's op is the ethdev's own TX function (§4.G "port" bucket).
func newEthdevQueueOps(_ EthdevProvider, _ uint16) *ringQueueOps {
	return newRingQueueOps(defaultQueueDepth, true)
}

// newKNIQueueOps backs a vhost or monitoring vif's TX queue (KNI-backed,
// port-level).
func newKNIQueueOps() *ringQueueOps {
	return newRingQueueOps(defaultQueueDepth, true)
}

// newVirtioQueueOps backs a virtual vif's TX queue: queue-level, since
// virtio TX goes through a ring the NIC never sees (§4.G "queue" bucket).
func newVirtioQueueOps() *ringQueueOps {
	return newRingQueueOps(defaultQueueDepth, false)
}
