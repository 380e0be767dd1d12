//go:build linux

package ring

import (
	"bytes"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EmiPatoR/mivi-imaging-service/frame"
	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
	"github.com/EmiPatoR/mivi-imaging-service/shm"
)

// testRegion creates a file-backed region sized to hold exactly slots
// slots of maxFrameSize payload bytes each.
func testRegion(t *testing.T, name string, maxFrameSize uint32, slots uint64, drop bool) *shm.Region {
	t.Helper()
	slotSize := shm.AlignUp64(uint64(shm.HeaderSize) + uint64(maxFrameSize))
	cfg := shm.Config{
		Name:               name,
		Size:               shm.DataOffset + slots*slotSize,
		Backing:            shm.BackingMemoryMappedFile,
		FilePath:           filepath.Join(t.TempDir(), name),
		MaxFrameSize:       maxFrameSize,
		DropFramesWhenFull: drop,
	}
	r, err := shm.Create(cfg)
	if err != nil {
		t.Fatalf("creating region: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// ownedFrame builds an Owned frame whose payload is size bytes of fill.
func ownedFrame(t *testing.T, id uint64, size int, fill byte) *frame.Frame {
	t.Helper()
	f, err := frame.New(size/4, 1, 4, frame.FormatRGBA)
	if err != nil {
		t.Fatalf("allocating frame: %v", err)
	}
	data, _, _ := f.Data()
	for i := range data {
		data[i] = fill
	}
	f.SetID(id)
	f.SetTimestampNS(time.Now().UnixNano())
	return f
}

// A single-slot ring with a stalled reader accepts exactly one write; every
// further write drops.
func TestSingleSlotRingDropsWhenFull(t *testing.T) {
	r := testRegion(t, "us_t1", 16, 1, true)
	p := NewProducer(r)

	var succeeded, full int
	for i := 0; i < 10; i++ {
		err := p.Write(ownedFrame(t, uint64(i), 16, byte(i)))
		switch {
		case err == nil:
			succeeded++
		case status.CodeOf(err) == status.BufferFull:
			full++
		default:
			t.Fatalf("write %d: unexpected error %v", i, err)
		}
	}

	if succeeded != 1 || full != 9 {
		t.Fatalf("got %d successes and %d buffer-full, want 1 and 9", succeeded, full)
	}
	if d := r.Stats().Dropped; d != 9 {
		t.Fatalf("dropped = %d, want 9", d)
	}

	latest, err := NewReader(r).Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	defer latest.Release()
	if latest.ID() != 0 {
		t.Fatalf("latest frame id = %d, want 0 (the only write that landed)", latest.ID())
	}
	data, _, _ := latest.Data()
	if !bytes.Equal(data, bytes.Repeat([]byte{0}, 16)) {
		t.Fatal("latest payload does not match the first write")
	}
}

// A pull reader draining as fast as the producer writes, and publishing its
// cursor as the advisory read index the way a cooperating consumer does,
// observes every frame in order across the wrap point, and sequence numbers
// equal the absolute write index.
func TestOrderingAcrossWrap(t *testing.T) {
	r := testRegion(t, "wrap", 4, 4, true)
	p := NewProducer(r)
	rd := NewReader(r)

	var latestIDs []uint64
	latestRd := NewReader(r)
	for i := 0; i < 10; i++ {
		f, err := frame.New(1, 1, 4, frame.FormatRGBA)
		if err != nil {
			t.Fatalf("allocating frame: %v", err)
		}
		data, _, _ := f.Data()
		for j := range data {
			data[j] = byte(i)
		}
		f.SetID(uint64(i))
		if err := p.Write(f); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}

		h := r.SlotHeaderAt(uint64(i))
		if h.SequenceNumber() != uint64(i) {
			t.Fatalf("slot sequence number = %d, want %d", h.SequenceNumber(), i)
		}

		got, err := rd.Next(0)
		if err != nil {
			t.Fatalf("next after write %d: %v", i, err)
		}
		if got.ID() != uint64(i) {
			t.Fatalf("reader observed id %d, want %d", got.ID(), i)
		}
		payload, _, _ := got.Data()
		if payload[0] != byte(i) {
			t.Fatalf("payload[0] = %d, want %d", payload[0], i)
		}
		got.Release()
		// A pull reader's cursor is local; without this the producer's
		// full-ring check would refuse the fifth write.
		r.StoreReadIndex(rd.Cursor())

		lf, err := latestRd.Latest()
		if err != nil {
			t.Fatalf("latest after write %d: %v", i, err)
		}
		latestIDs = append(latestIDs, lf.ID())
		lf.Release()
	}

	for i := 1; i < len(latestIDs); i++ {
		if latestIDs[i] < latestIDs[i-1] {
			t.Fatalf("latest ids not monotone: %v", latestIDs)
		}
	}
}

func TestNextReturnsBufferEmptyWhenCaughtUp(t *testing.T) {
	r := testRegion(t, "empty", 16, 2, true)
	rd := NewReader(r)

	if _, err := rd.Latest(); status.CodeOf(err) != status.BufferEmpty {
		t.Fatalf("Latest on fresh ring: got %v, want buffer-empty", err)
	}
	if _, err := rd.Next(0); status.CodeOf(err) != status.BufferEmpty {
		t.Fatalf("Next on fresh ring: got %v, want buffer-empty", err)
	}

	start := time.Now()
	_, err := rd.Next(20 * time.Millisecond)
	if status.CodeOf(err) != status.BufferEmpty {
		t.Fatalf("Next with wait: got %v, want buffer-empty", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("Next returned before its wait elapsed")
	}
}

// Structured metadata and free-form attributes ride in the slot and come
// back byte-identical through a Mapped frame.
func TestMetadataRoundTrip(t *testing.T) {
	r := testRegion(t, "meta", 512, 2, true)
	p := NewProducer(r)

	f := ownedFrame(t, 7, 16, 0xAB)
	f.SetMetadataRecord(frame.Metadata{
		DeviceID:       "dev1",
		ExposureTimeMS: 8.3,
		FrameNumber:    42,
		ProbePose: &frame.ProbePose{
			Position:    [3]float64{1.0, 2.0, 3.0},
			Orientation: [4]float64{0, 0, 0, 1},
		},
		Quality: frame.SignalQuality{Strength: 0.9, SNR: 31.5, Confidence: 0.75},
	})
	f.SetMetadata("timecode", "01:02:03:04")

	if err := p.Write(f); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NewReader(r).Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	defer got.Release()

	md := got.Metadata()
	if md.DeviceID != "dev1" || md.ExposureTimeMS != 8.3 || md.FrameNumber != 42 {
		t.Fatalf("structured metadata mismatch: %+v", md)
	}
	if md.ProbePose == nil {
		t.Fatal("probe pose missing")
	}
	if md.ProbePose.Position != [3]float64{1.0, 2.0, 3.0} {
		t.Fatalf("probe position = %v", md.ProbePose.Position)
	}
	if md.ProbePose.Orientation != [4]float64{0, 0, 0, 1} {
		t.Fatalf("probe orientation = %v", md.ProbePose.Orientation)
	}
	if md.Quality.SNR != 31.5 {
		t.Fatalf("SNR = %v, want 31.5", md.Quality.SNR)
	}
	if tc, ok := got.GetMetadata("timecode"); !ok || tc != "01:02:03:04" {
		t.Fatalf("timecode attribute = %q, %v", tc, ok)
	}
}

// Republishing a reader's Mapped frame into its own region sets the
// zero-copy header flag and leaves the payload intact.
func TestZeroCopyRepublish(t *testing.T) {
	r := testRegion(t, "zcopy", 16, 1, true)
	p := NewProducer(r)

	if err := p.Write(ownedFrame(t, 1, 16, 0x5A)); err != nil {
		t.Fatalf("initial write: %v", err)
	}

	mapped, err := NewReader(r).Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	defer mapped.Release()

	// Free the single slot so the republish is accepted.
	r.StoreReadIndex(1)

	if err := p.Write(mapped); err != nil {
		t.Fatalf("republish: %v", err)
	}

	h := r.SlotHeaderAt(1)
	if h.Flags()&shm.FlagZeroCopyRepublish == 0 {
		t.Fatal("zero-copy flag not set on republish")
	}

	got, err := NewReader(r).Latest()
	if err != nil {
		t.Fatalf("Latest after republish: %v", err)
	}
	defer got.Release()
	data, _, _ := got.Data()
	if !bytes.Equal(data, bytes.Repeat([]byte{0x5A}, 16)) {
		t.Fatal("republished payload does not match the original input")
	}
}

// With dropping off, a full ring blocks the producer for the configured
// timeout, then admits writes again once readers drain.
func TestBackpressureCooperativeMode(t *testing.T) {
	r := testRegion(t, "coop", 16, 2, false)
	p := NewProducer(r)

	for i := 0; i < 2; i++ {
		if err := p.WriteTimeout(ownedFrame(t, uint64(i), 16, byte(i)), 50*time.Millisecond); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	start := time.Now()
	err := p.WriteTimeout(ownedFrame(t, 2, 16, 2), 50*time.Millisecond)
	if status.CodeOf(err) != status.BufferFull {
		t.Fatalf("third write: got %v, want buffer-full", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("third write returned before the timeout elapsed")
	}

	// Drain: a cooperating consumer advances the advisory read index.
	r.StoreReadIndex(2)

	if err := p.WriteTimeout(ownedFrame(t, 3, 16, 3), 50*time.Millisecond); err != nil {
		t.Fatalf("write after drain: %v", err)
	}
	if d := r.Stats().Dropped; d != 0 {
		t.Fatalf("dropped = %d, want 0 in cooperative mode", d)
	}
	// frame_count tracks in-buffer depth: 3 published, 2 consumed.
	if fc := r.LoadFrameCount(); fc != 1 {
		t.Fatalf("frame_count = %d, want 1 in-flight", fc)
	}
}

// An oversized payload is rejected without advancing the write index.
func TestOversizedFrameRejectedWithoutPublishing(t *testing.T) {
	r := testRegion(t, "oversize", 16, 2, true)
	p := NewProducer(r)

	err := p.Write(ownedFrame(t, 0, 32, 1))
	if status.CodeOf(err) != status.InvalidSize {
		t.Fatalf("got %v, want invalid-size", err)
	}
	if w := r.LoadWriteIndex(); w != 0 {
		t.Fatalf("write index advanced to %d on a rejected frame", w)
	}
}

// A callback reader delivers every frame in order on its own goroutine and
// publishes its cursor so the producer observes backpressure.
func TestCallbackReaderDeliversInOrder(t *testing.T) {
	r := testRegion(t, "cbr", 16, 4, false)
	p := NewProducer(r)

	var delivered atomic.Uint64
	var outOfOrder atomic.Bool
	var last atomic.Uint64
	cr, err := NewCallbackReader(r, func(f *frame.Frame) {
		n := delivered.Add(1)
		if n > 1 && f.ID() <= last.Load() {
			outOfOrder.Store(true)
		}
		last.Store(f.ID())
	}, nil)
	if err != nil {
		t.Fatalf("NewCallbackReader: %v", err)
	}
	if err := cr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cr.Stop()

	for i := 0; i < 10; i++ {
		if err := p.WriteTimeout(ownedFrame(t, uint64(i+1), 16, byte(i)), 200*time.Millisecond); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for delivered.Load() < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if delivered.Load() != 10 {
		t.Fatalf("delivered %d frames, want 10", delivered.Load())
	}
	if outOfOrder.Load() {
		t.Fatal("callback observed frames out of order")
	}
	if ri := r.LoadReadIndex(); ri != 10 {
		t.Fatalf("read index = %d, want 10 after full drain", ri)
	}
	if tr := r.Stats().TotalRead; tr != 10 {
		t.Fatalf("total read = %d, want 10", tr)
	}
}

// A reader attached through its own mapping of the backing file (the
// cross-process path) observes the producer's frames.
func TestReaderAcrossSeparateMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xproc")
	const maxFrameSize = 16
	slotSize := shm.AlignUp64(uint64(shm.HeaderSize) + maxFrameSize)
	cfg := shm.Config{
		Name:               "xproc",
		Size:               shm.DataOffset + 4*slotSize,
		Backing:            shm.BackingMemoryMappedFile,
		FilePath:           path,
		MaxFrameSize:       maxFrameSize,
		DropFramesWhenFull: true,
	}
	producerRegion, err := shm.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer producerRegion.Close()

	consumerRegion, err := shm.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer consumerRegion.Close()

	p := NewProducer(producerRegion)
	for i := 0; i < 3; i++ {
		if err := p.Write(ownedFrame(t, uint64(i+1), 16, byte(0x10+i))); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	rd := NewReader(consumerRegion)
	for i := 0; i < 3; i++ {
		f, err := rd.Next(0)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if f.ID() != uint64(i+1) {
			t.Fatalf("frame id = %d, want %d", f.ID(), i+1)
		}
		data, _, _ := f.Data()
		if data[0] != byte(0x10+i) {
			t.Fatalf("payload[0] = %#x, want %#x", data[0], 0x10+i)
		}
		f.Release()
	}
}

// A panicking consumer callback is isolated: delivery continues.
func TestCallbackReaderIsolatesPanics(t *testing.T) {
	r := testRegion(t, "cbpanic", 16, 4, true)
	p := NewProducer(r)

	var delivered atomic.Uint64
	cr, err := NewCallbackReader(r, func(f *frame.Frame) {
		if delivered.Add(1) == 1 {
			panic("consumer bug")
		}
	}, nil)
	if err != nil {
		t.Fatalf("NewCallbackReader: %v", err)
	}
	if err := cr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cr.Stop()

	for i := 0; i < 3; i++ {
		if err := p.Write(ownedFrame(t, uint64(i+1), 16, byte(i))); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for delivered.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if delivered.Load() != 3 {
		t.Fatalf("delivered %d frames, want 3 despite the panic", delivered.Load())
	}
}
