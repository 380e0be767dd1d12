package acquisition

import (
	"sync"

	"github.com/EmiPatoR/mivi-imaging-service/frame"
)

// frameBuffer is the service's internal most-recent-frames ring, serving
// consumers that do not attach to shared memory, plus diagnostics. It takes
// ownership of pushed frames: an evicted or drained frame is Released here.
//
// The critical section is short (one pointer store and two index updates),
// keeping the vendor delivery thread unblocked.
type frameBuffer struct {
	mu    sync.Mutex
	slots []*frame.Frame
	head  int // index of the oldest frame
	count int
	drops uint64
}

func newFrameBuffer(capacity int) *frameBuffer {
	return &frameBuffer{slots: make([]*frame.Frame, capacity)}
}

// push appends f, overwriting the oldest frame when full. Overwrites count
// as drops.
func (b *frameBuffer) push(f *frame.Frame) {
	b.mu.Lock()
	var evicted *frame.Frame
	if b.count == len(b.slots) {
		evicted = b.slots[b.head]
		b.slots[b.head] = f
		b.head = (b.head + 1) % len(b.slots)
		b.drops++
	} else {
		b.slots[(b.head+b.count)%len(b.slots)] = f
		b.count++
	}
	b.mu.Unlock()

	// Release outside the lock: a Borrowed frame's hook may do real work.
	if evicted != nil {
		evicted.Release()
	}
}

// latest returns the newest frame without removing it, or nil when empty.
// The returned frame remains owned by the buffer; callers must finish with
// it before it can be evicted (the buffer holds FrameBufferSize newer
// frames before that happens).
func (b *frameBuffer) latest() *frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	return b.slots[(b.head+b.count-1)%len(b.slots)]
}

func (b *frameBuffer) dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drops
}

// reset releases every held frame and zeroes the counters.
func (b *frameBuffer) reset() {
	b.mu.Lock()
	held := make([]*frame.Frame, 0, b.count)
	for i := 0; i < b.count; i++ {
		held = append(held, b.slots[(b.head+i)%len(b.slots)])
	}
	for i := range b.slots {
		b.slots[i] = nil
	}
	b.head, b.count = 0, 0
	b.drops = 0
	b.mu.Unlock()

	for _, f := range held {
		f.Release()
	}
}
