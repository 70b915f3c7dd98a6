// Package lcore models the out-of-scope collaborator described in
// spec §6: a poll-mode scheduler that binds per-(core, vif) TX/RX queues
// onto pinned worker threads, plus the queue-operations vtable
// (f_tx/f_tx_bulk/f_flush/f_stats) the host-interface TX path calls
// through. A DPDK lcore is a thread pinned to one CPU core running a
// tight poll loop; this package's Worker is the closest portable Go
// analogue, pinned to its OS thread with runtime.LockOSThread rather
// than to a specific core (the standard library exposes no portable CPU
// affinity call).
package lcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Sentinel errors.
var (
	// ErrNoQueueSlot indicates a vif has no TX queue scheduled on the
	// requested core.
	ErrNoQueueSlot = errors.New("lcore: no queue slot for vif on core")

	// ErrAlreadyScheduled indicates Schedule was called twice for the
	// same (core, vif) without an intervening Unschedule.
	ErrAlreadyScheduled = errors.New("lcore: vif already scheduled on core")
)

// QueueOps is the per-(core, vif) capability record of §3 Data Model
// ("Lcore TX queue") and §6 ("Queue op vtable"). A queue need not
// implement Bulk or Flush; TX callers check for their presence before
// using them (§4.D step 10).
type QueueOps interface {
	// TX enqueues a single packet. Returns an error if the queue
	// rejects the send (e.g. ring full).
	TX(buf []byte) error

	// Stats returns (and optionally clears) the queue's packet/byte/
	// error counters.
	Stats(clear bool) QueueStats
}

// BulkQueueOps is implemented by queues that support enqueuing multiple
// buffers atomically (§4.D step 10: "Fragments of one packet are
// enqueued atomically via f_tx_bulk").
type BulkQueueOps interface {
	QueueOps
	TXBulk(bufs [][]byte) error
}

// FlushableQueueOps is implemented by queues that support an explicit
// flush call (§5 Concurrency: "Service cores flush immediately after
// enqueue").
type FlushableQueueOps interface {
	QueueOps
	Flush() error
}

// QueueStats holds the raw counters a QueueOps exposes to the stats
// aggregator (component G).
type QueueStats struct {
	Packets uint64
	Bytes   uint64
	Errors  uint64
}

// CoreID identifies an lcore. Forwarding cores have an id >= the
// configured forwarding threshold (§5: "forwarding cores have a core id
// >= a compile-time threshold" — modeled here as a runtime config value
// per SPEC_FULL.md §13 Open Question decisions).
type CoreID int

// Scheduler assigns per-(core, vif) queue slots and tracks which cores
// are forwarding vs. service cores. It is the Go stand-in for
// schedule/unschedule/least_used_core of §6.
type Scheduler struct {
	mu                 sync.RWMutex
	forwardingThresh CoreID
	cores            []*Worker
	slots            map[slotKey]QueueOps
}

type slotKey struct {
	core CoreID
	vif  int32
}

// NewScheduler constructs a Scheduler with numCores workers, where cores
// with id >= forwardingThreshold are forwarding cores (§5).
func NewScheduler(numCores int, forwardingThreshold CoreID, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		forwardingThresh: forwardingThreshold,
		slots:            make(map[slotKey]QueueOps),
	}
	for i := 0; i < numCores; i++ {
		s.cores = append(s.cores, newWorker(CoreID(i), logger))
	}
	return s
}

// NumCores returns the number of lcores this scheduler manages.
func (s *Scheduler) NumCores() int {
	return len(s.cores)
}

// IsForwarding reports whether core is a forwarding core (§5).
func (s *Scheduler) IsForwarding(core CoreID) bool {
	return core >= s.forwardingThresh
}

// LeastUsedCore returns the core with the fewest scheduled slots,
// implementing §6's least_used_core(). Ties favor the lowest core id.
func (s *Scheduler) LeastUsedCore() CoreID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make([]int, len(s.cores))
	for k := range s.slots {
		counts[k.core]++
	}
	best := CoreID(0)
	bestCount := counts[0]
	for i := 1; i < len(counts); i++ {
		if counts[i] < bestCount {
			best = CoreID(i)
			bestCount = counts[i]
		}
	}
	return best
}

// ScheduledQueueCount returns the total number of (core, vif) queue
// slots currently installed across all cores, for the §6 scheduled-queue
// gauge.
func (s *Scheduler) ScheduledQueueCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// Schedule installs ops as the queue slot for vif on core, per the
// generic shape of §6's schedule(vif, lcore_hint, nrxqs, rx_init, ntxqs,
// tx_init) — nrxqs/ntxqs fan-out and RX queue initialization are owned
// by the caller (the registry), which calls Schedule once per queue it
// wants placed.
func (s *Scheduler) Schedule(core CoreID, vifIdx int32, ops QueueOps) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{core, vifIdx}
	if _, exists := s.slots[key]; exists {
		return fmt.Errorf("schedule vif=%d core=%d: %w", vifIdx, core, ErrAlreadyScheduled)
	}
	s.slots[key] = ops
	return nil
}

// Unschedule removes the queue slot for vif on core, if any. It is a
// no-op if the slot does not exist (delete paths unschedule every core
// unconditionally).
func (s *Scheduler) Unschedule(core CoreID, vifIdx int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, slotKey{core, vifIdx})
}

// UnscheduleAll removes every queue slot for vif across all cores,
// mirroring the registry's delete path unscheduling every queue it
// previously scheduled.
func (s *Scheduler) UnscheduleAll(vifIdx int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.slots {
		if k.vif == vifIdx {
			delete(s.slots, k)
		}
	}
}

// QueueFor returns the queue slot for vif on core, or ErrNoQueueSlot.
func (s *Scheduler) QueueFor(core CoreID, vifIdx int32) (QueueOps, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops, ok := s.slots[slotKey{core, vifIdx}]
	if !ok {
		return nil, fmt.Errorf("vif=%d core=%d: %w", vifIdx, core, ErrNoQueueSlot)
	}
	return ops, nil
}

// Run starts every worker's poll loop under an errgroup, returning when
// ctx is cancelled or any worker returns an error, mirroring the
// supervised-goroutine pattern used for the daemon's server loops.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, w := range s.cores {
		w := w
		g.Go(func() error {
			return w.run(gCtx)
		})
	}
	return g.Wait()
}

// -------------------------------------------------------------------------
// Worker — one pinned poll-loop thread per lcore
// -------------------------------------------------------------------------

// Worker is one lcore: a goroutine locked to its own OS thread, polling
// its assigned queues to completion with no suspension points on the
// datapath (§5 Concurrency: "Packet processing is run-to-completion on a
// single core between RX and TX; no suspension points inside TX.").
//
// This package does not itself drive RX polling (RX/TX queue contents
// are owned by the NIC PMD/KNI/vhost-user collaborators out of scope per
// §1); Worker.run exists so Scheduler.Run has a concrete goroutine per
// core to supervise, and so CPU-pinning intent is expressed in one place.
type Worker struct {
	id     CoreID
	logger *slog.Logger
}

func newWorker(id CoreID, logger *slog.Logger) *Worker {
	return &Worker{id: id, logger: logger.With(slog.Int("lcore", int(id)))}
}

func (w *Worker) run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.logger.Debug("lcore worker started")
	<-ctx.Done()
	w.logger.Debug("lcore worker stopped")
	return nil
}
