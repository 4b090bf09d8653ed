package queue

import "sync/atomic"

// StampedMessage carries an id-correlated payload. An id of zero marks an
// unstamped, fire-and-forget message.
type StampedMessage[M any] struct {
	ID      uint32
	Payload M
}

// Channel is a bidirectional, id-stamped message channel: one queue
// carries traffic from the external caller into the owning worker (In),
// the other carries traffic back out (Out). Fire-and-forget events use
// id 0 and are matched by Wait; correlated request/response traffic uses
// a nonzero monotonic id assigned by PushID, matched by WaitID or
// PushAndWait.
type Channel[M any] struct {
	in     *Queue[StampedMessage[M]]
	out    *Queue[StampedMessage[M]]
	nextID uint32
}

// NewChannel creates a Channel with the given per-direction capacity
// (<=0 for unbounded).
func NewChannel[M any](capacity int) *Channel[M] {
	return &Channel[M]{
		in:  New[StampedMessage[M]](capacity, false),
		out: New[StampedMessage[M]](capacity, false),
	}
}

// Start starts both internal queues.
func (c *Channel[M]) Start() error {
	if err := c.in.Start(); err != nil {
		return err
	}
	if err := c.out.Start(); err != nil {
		return err
	}
	return nil
}

// Stop stops both internal queues, unblocking any readers.
func (c *Channel[M]) Stop() error {
	errIn := c.in.Stop()
	errOut := c.out.Stop()
	if errIn != nil {
		return errIn
	}
	return errOut
}

// allocateID returns the next nonzero monotonic id; wraparound skips zero.
func (c *Channel[M]) allocateID() uint32 {
	for {
		id := atomic.AddUint32(&c.nextID, 1)
		if id != 0 {
			return id
		}
	}
}

// Push sends m unstamped (id 0) into the channel's In queue.
func (c *Channel[M]) Push(m M, timeoutMs int) Status {
	return c.in.Write(StampedMessage[M]{Payload: m}, timeoutMs)
}

// PushID sends m into the In queue with a freshly assigned nonzero id,
// returning that id for later correlation via WaitID.
func (c *Channel[M]) PushID(m M, timeoutMs int) (uint32, Status) {
	id := c.allocateID()
	status := c.in.Write(StampedMessage[M]{ID: id, Payload: m}, timeoutMs)
	return id, status
}

// Wait returns the next unstamped (id 0) message from the Out queue.
func (c *Channel[M]) Wait(timeoutMs int) (M, Status) {
	msg, status := c.out.Read(timeoutMs, func(m StampedMessage[M]) bool { return m.ID == 0 })
	return msg.Payload, status
}

// WaitID returns the Out-queue message whose id matches, leaving any
// other buffered messages in place.
func (c *Channel[M]) WaitID(timeoutMs int, id uint32) (M, Status) {
	msg, status := c.out.Read(timeoutMs, func(m StampedMessage[M]) bool { return m.ID == id })
	return msg.Payload, status
}

// PushAndWait pushes m with a fresh id onto In and waits for the matching
// response on Out. No zero id is ever assigned, so the response this call
// observes is always its own.
func (c *Channel[M]) PushAndWait(m M, timeoutMs int) (M, Status) {
	id, status := c.PushID(m, timeoutMs)
	if status != StatusOK {
		var zero M
		return zero, status
	}
	return c.WaitID(timeoutMs, id)
}

// ReadIn is the worker-side counterpart of Push/PushID: it reads the next
// message (with its id, for correlated replies) off the In queue.
func (c *Channel[M]) ReadIn(timeoutMs int) (StampedMessage[M], Status) {
	return c.in.Read(timeoutMs, nil)
}

// PushOut is the worker-side counterpart of Wait/WaitID: it writes a
// reply onto the Out queue, stamped with the given id (0 for an
// unsolicited event).
func (c *Channel[M]) PushOut(m M, id uint32, timeoutMs int) Status {
	return c.out.Write(StampedMessage[M]{ID: id, Payload: m}, timeoutMs)
}
