package ring

import (
	"log/slog"
	"sync"
	"time"

	"github.com/EmiPatoR/mivi-imaging-service/frame"
	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
	"github.com/EmiPatoR/mivi-imaging-service/shm"
)

// Reader consumes frames from a region's ring. A pull reader is advisory:
// it keeps its cursor local and never gates the producer. A callback
// reader additionally publishes its cursor to the control block's
// read_index, which the producer's full-ring check reads (backpressure).
//
// A Reader is not safe for concurrent use; give each consumer goroutine its
// own Reader.
type Reader struct {
	region *shm.Region

	// cursor is this reader's local position, seeded from the producer's
	// advisory read_index at attach time.
	cursor uint64

	// publishCursor mirrors the cursor into the control block after every
	// successful Next. Only callback readers set this.
	publishCursor bool
}

// NewReader attaches a pull reader to a region. Its cursor starts at the
// producer's current read_index.
func NewReader(r *shm.Region) *Reader {
	return &Reader{region: r, cursor: r.LoadReadIndex()}
}

// Latest returns a Mapped frame over the most recently published slot
// without moving any cursor. The caller must finish with the frame before
// the producer has written max_frames further frames past it; the protocol
// does not detect overrun.
func (rd *Reader) Latest() (*frame.Frame, error) {
	w := rd.region.LoadWriteIndex()
	if w == 0 {
		return nil, status.New(status.BufferEmpty, "no frame has been published")
	}
	return rd.frameAt(w - 1)
}

// Next returns the frame at this reader's cursor and advances it. When the
// cursor has caught up with the producer, Next either returns buffer-empty
// immediately (wait <= 0) or sleep-polls at 1ms granularity up to wait.
func (rd *Reader) Next(wait time.Duration) (*frame.Frame, error) {
	w := rd.region.LoadWriteIndex()
	if rd.cursor >= w {
		if wait <= 0 {
			return nil, status.New(status.BufferEmpty, "reader has consumed every published frame")
		}
		deadline := time.Now().Add(wait)
		for rd.cursor >= w {
			if time.Now().After(deadline) {
				return nil, status.Newf(status.BufferEmpty,
					"no new frame within %v", wait)
			}
			time.Sleep(1 * time.Millisecond)
			w = rd.region.LoadWriteIndex()
		}
	}

	f, err := rd.frameAt(rd.cursor)
	if err != nil {
		return nil, err
	}
	rd.cursor++

	if rd.publishCursor {
		rd.region.StoreReadIndex(rd.cursor)
		rd.region.AddTotalRead(1)
		rd.region.StoreLastReadTimeNS(uint64(time.Now().UnixNano()))
	}
	return f, nil
}

// Cursor returns the reader's local position: the absolute index of the
// next frame it will consume.
func (rd *Reader) Cursor() uint64 { return rd.cursor }

// frameAt builds a Mapped frame over slot k's payload, recovering the
// binary header fields and, when present, the advisory metadata blob.
func (rd *Reader) frameAt(k uint64) (*frame.Frame, error) {
	h := rd.region.SlotHeaderAt(k)

	dataSize := h.DataSize()
	payloadOff := rd.region.SlotPayloadOffset(k)
	f, err := frame.FromMapped(rd.region, payloadOff, dataSize,
		int(h.Width()), int(h.Height()), int(h.BPP()), frame.Format(h.FormatCode()))
	if err != nil {
		return nil, status.Wrap(status.ReadFailed, err, "mapping slot payload")
	}
	f.SetID(h.FrameID())
	f.SetTimestampNS(h.TimestampNS())

	if mdSize := h.MetadataSize(); mdSize > 0 {
		if blob, berr := rd.region.SlotBytes(uint64(h.MetadataOffset()), mdSize); berr == nil {
			decodeFrameMetadata(blob, f)
		}
	}
	return f, nil
}

// FrameCallback receives each frame delivered by a CallbackReader. The
// frame is Mapped; the callback must finish with it before the producer's
// overwrite horizon reaches its slot.
type FrameCallback func(*frame.Frame)

// CallbackReader drives a FrameCallback from its own notification
// goroutine, polling the producer's write_index at 1ms granularity. It
// publishes its cursor to the control block so the producer sees
// backpressure. Each callback reader stores its own cursor; with several of
// them, read_index holds whichever cursor was stored last, not the slowest.
type CallbackReader struct {
	reader *Reader
	cb     FrameCallback
	log    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewCallbackReader attaches a callback reader to a region. Start must be
// called to begin delivery.
func NewCallbackReader(r *shm.Region, cb FrameCallback, log *slog.Logger) (*CallbackReader, error) {
	if cb == nil {
		return nil, status.New(status.InvalidArgument, "callback reader requires a callback")
	}
	if log == nil {
		log = slog.Default()
	}
	rd := NewReader(r)
	rd.publishCursor = true
	return &CallbackReader{reader: rd, cb: cb, log: log, stopCh: make(chan struct{})}, nil
}

// Start spawns the notification goroutine.
func (c *CallbackReader) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return status.New(status.AlreadyRunning, "callback reader already started")
	}
	c.running = true
	c.wg.Add(1)
	go c.loop()
	return nil
}

// Stop signals the notification goroutine and waits for it to exit.
// Idempotent.
func (c *CallbackReader) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
}

func (c *CallbackReader) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		f, err := c.reader.Next(0)
		if err != nil {
			if status.CodeOf(err) == status.BufferEmpty {
				time.Sleep(1 * time.Millisecond)
				continue
			}
			c.log.Error("callback reader failed to consume slot", "error", err)
			time.Sleep(1 * time.Millisecond)
			continue
		}
		c.deliver(f)
	}
}

// deliver invokes the user callback behind an isolation boundary: consumer
// code is untrusted and must not take the notification goroutine down.
func (c *CallbackReader) deliver(f *frame.Frame) {
	defer f.Release()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("frame callback panicked", "recovered", r)
		}
	}()
	c.cb(f)
}
