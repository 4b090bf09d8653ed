package queue

import (
	"testing"
	"time"
)

type countingLoop struct {
	iterations int
}

func (l *countingLoop) Run(shutdown ShutdownToken) error {
	for !shutdown.Signalled() {
		l.iterations++
		time.Sleep(time.Millisecond)
	}
	return nil
}

func TestWorkerStartStopIdempotence(t *testing.T) {
	loop := &countingLoop{}
	w := NewWorker(loop)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("second Start should fail with NotReady")
	}
	time.Sleep(10 * time.Millisecond)
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err == nil {
		t.Error("second Stop should fail with NotReady")
	}
	if loop.iterations == 0 {
		t.Error("main loop never ran")
	}
}

type channelRestartingLoop struct {
	ch *Channel[int]
}

func (l *channelRestartingLoop) Run(shutdown ShutdownToken) error {
	for {
		select {
		case <-shutdown.Done():
			return nil
		default:
		}
		msg, status := l.ch.ReadIn(10)
		if status == StatusOK {
			l.ch.PushOut(msg.Payload*2, msg.ID, 0)
		}
	}
}

func TestWorkerRestartsChannelsAfterStop(t *testing.T) {
	ch := NewChannel[int](0)
	loop := &channelRestartingLoop{ch: ch}
	w := NewWorker(loop, ch)

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if reply, status := ch.PushAndWait(21, 1000); status != StatusOK || reply != 42 {
		t.Fatalf("PushAndWait(21)==(%v,%v), want (42,OK)", reply, status)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The channel must be usable again without re-creating it.
	if status := ch.Push(5, 0); status != StatusOK {
		t.Fatalf("Push after Stop==%v, want OK (channel should have restarted)", status)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer w.Stop()
	if reply, status := ch.PushAndWait(3, 1000); status != StatusOK || reply != 6 {
		t.Errorf("PushAndWait(3) after restart==(%v,%v), want (6,OK)", reply, status)
	}
}

type noopLoop struct{}

func (noopLoop) Run(shutdown ShutdownToken) error {
	<-shutdown.Done()
	return nil
}

func TestBufferWorkerRecycling(t *testing.T) {
	bw := NewBufferWorker[[]byte](noopLoop{}, 4, 2, func() []byte { return make([]byte, 8) })
	if err := bw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer bw.Stop()
	b1 := bw.Acquire()
	if b1 == nil {
		t.Fatal("Acquire returned nil")
	}
	b2 := bw.Acquire()
	if b2 == nil {
		t.Fatal("Acquire returned nil")
	}
	if b3 := bw.Acquire(); b3 != nil {
		t.Error("Acquire should return nil once maxAlloc is reached with no recycled buffers")
	}
	bw.ReturnBuffer(b1)
	b4 := bw.Acquire()
	if b4 != b1 {
		t.Error("Acquire should reuse the returned buffer before allocating fresh")
	}
	_ = b2
}

func TestBufferWorkerPreserve(t *testing.T) {
	bw := NewBufferWorker[int](noopLoop{}, 0, 0, func() int { return 0 })
	if err := bw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer bw.Stop()
	buf := bw.Acquire()
	const ptr = uintptr(0xdeadbeef)
	bw.Preserve(ptr, buf)
	bw.ReturnBuffer(buf) // still held by the preservation table
	if got := bw.recycle.Len(); got != 0 {
		t.Errorf("recycle queue has %d items, want 0 (buffer still preserved)", got)
	}
	bw.ReleasePreserved(ptr)
	if got := bw.recycle.Len(); got != 1 {
		t.Errorf("recycle queue has %d items after release, want 1", got)
	}
}
