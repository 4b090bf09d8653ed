package queue

import (
	"sync"
	"sync/atomic"
)

// Buffer is a reference-counted handle around a produced value of type B.
// Producers release their reference at enqueue time; the last consumer to
// drop it triggers recycling.
type Buffer[B any] struct {
	Value B
	refs  int32
}

// Retain adds a reference.
func (b *Buffer[B]) Retain() { atomic.AddInt32(&b.refs, 1) }

// release drops a reference, reporting whether it was the last one.
func (b *Buffer[B]) release() bool { return atomic.AddInt32(&b.refs, -1) == 0 }

// BufferWorker is the buffer-producing flavor of worker thread (§4.3): it
// runs a MainLooper that calls Acquire/Publish to hand filled buffers to
// an outbound queue, and consumers call WaitForBuffer/ReturnBuffer to
// drain and recycle them. Allocation prefers reuse from the recycle path;
// when exhausted it allocates fresh, capped at maxAlloc (0 = unbounded)
// to bound memory.
type BufferWorker[B any] struct {
	*Worker
	out      *Queue[*Buffer[B]]
	recycle  *Queue[*Buffer[B]]
	allocate func() B

	mu        sync.Mutex
	maxAlloc  int
	allocated int
	preserved map[uintptr]*Buffer[B]
}

// NewBufferWorker builds a BufferWorker. outCapacity bounds the outbound
// queue (<=0 unbounded); maxAlloc bounds total fresh allocations (<=0
// unbounded); allocate constructs a zero-valued payload for a fresh
// buffer.
func NewBufferWorker[B any](loop MainLooper, outCapacity, maxAlloc int, allocate func() B) *BufferWorker[B] {
	bw := &BufferWorker[B]{
		out:       New[*Buffer[B]](outCapacity, false),
		recycle:   New[*Buffer[B]](0, false),
		allocate:  allocate,
		maxAlloc:  maxAlloc,
		preserved: make(map[uintptr]*Buffer[B]),
	}
	bw.Worker = NewWorker(loop, bw.out, bw.recycle)
	return bw
}

// Acquire obtains a buffer for the main loop to fill, preferring a
// recycled one; returns nil if the allocation cap has been reached and no
// recycled buffer is available.
func (bw *BufferWorker[B]) Acquire() *Buffer[B] {
	if buf, status := bw.recycle.Read(0, nil); status == StatusOK {
		buf.refs = 1
		return buf
	}
	bw.mu.Lock()
	if bw.maxAlloc > 0 && bw.allocated >= bw.maxAlloc {
		bw.mu.Unlock()
		return nil
	}
	bw.allocated++
	bw.mu.Unlock()
	return &Buffer[B]{Value: bw.allocate(), refs: 1}
}

// Publish hands a filled buffer to consumers via the outbound queue.
func (bw *BufferWorker[B]) Publish(buf *Buffer[B], timeoutMs int) Status {
	return bw.out.Write(buf, timeoutMs)
}

// WaitForBuffer is the consumer-facing read of a produced buffer.
func (bw *BufferWorker[B]) WaitForBuffer(timeoutMs int) (*Buffer[B], Status) {
	return bw.out.Read(timeoutMs, nil)
}

// ReturnBuffer releases the caller's reference; once it's the last one
// the buffer goes back to the recycle path.
func (bw *BufferWorker[B]) ReturnBuffer(buf *Buffer[B]) {
	if buf.release() {
		buf.refs = 0
		bw.recycle.Write(buf, 0)
	}
}

// Preserve registers buf under a raw pointer's numeric identity, for
// interop with foreign (C-style) callers that hand back a raw pointer
// instead of holding the handle themselves. Exactly one reference is held
// per outstanding pointer until ReleasePreserved is called; the
// preservation table is the sole source of freeing along that path.
func (bw *BufferWorker[B]) Preserve(ptr uintptr, buf *Buffer[B]) {
	buf.Retain()
	bw.mu.Lock()
	bw.preserved[ptr] = buf
	bw.mu.Unlock()
}

// ReleasePreserved drops the reference held on behalf of ptr, if any.
func (bw *BufferWorker[B]) ReleasePreserved(ptr uintptr) {
	bw.mu.Lock()
	buf, ok := bw.preserved[ptr]
	if ok {
		delete(bw.preserved, ptr)
	}
	bw.mu.Unlock()
	if ok {
		bw.ReturnBuffer(buf)
	}
}
