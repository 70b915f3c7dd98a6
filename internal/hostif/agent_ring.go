package hostif

// AgentRing is the single packet-socket ring for the agent interface
// described in §3 Data Model ("Global"). It is multi-producer
// single-consumer (§5 Concurrency): any lcore's TX path may enqueue, a
// single agent consumer goroutine drains it. A buffered channel gives
// the same safety properties as the lock-free MPSC ring it stands in
// for, without hand-rolling lock-free queue code the corpus has no
// precedent for.
type AgentRing struct {
	frames chan []byte
	wake   chan struct{}
}

// NewAgentRing constructs a ring with the given capacity.
func NewAgentRing(capacity int) *AgentRing {
	return &AgentRing{
		frames: make(chan []byte, capacity),
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue pushes buf onto the ring without blocking. It returns false if
// the ring is full, matching §4.D step 4's "queue oerrors + drop on
// failure" path.
func (r *AgentRing) Enqueue(buf []byte) bool {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	select {
	case r.frames <- cp:
		return true
	default:
		return false
	}
}

// Wake signals the agent consumer that a frame is available. It never
// blocks.
func (r *AgentRing) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a frame is available or done is closed.
func (r *AgentRing) Dequeue(done <-chan struct{}) ([]byte, bool) {
	select {
	case buf := <-r.frames:
		return buf, true
	case <-done:
		return nil, false
	}
}

// WakeCh exposes the wake channel for a consumer loop that wants to wait
// on both Wake and its own cancellation without polling Dequeue.
func (r *AgentRing) WakeCh() <-chan struct{} { return r.wake }

// Depth reports the number of frames currently buffered in the ring, for
// the §3 Data Model "Global" agent-ring-depth gauge.
func (r *AgentRing) Depth() int { return len(r.frames) }
