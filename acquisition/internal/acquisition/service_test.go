//go:build linux

package acquisition

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EmiPatoR/mivi-imaging-service/capture"
	"github.com/EmiPatoR/mivi-imaging-service/capture/simsource"
	"github.com/EmiPatoR/mivi-imaging-service/frame"
	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
	"github.com/EmiPatoR/mivi-imaging-service/ring"
	"github.com/EmiPatoR/mivi-imaging-service/shm"
)

func testServiceConfig(t *testing.T, withSHM bool) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Source = simsource.New(nil)
	cfg.Capture = capture.Config{
		Width:       8,
		Height:      4,
		FrameRate:   200,
		PixelFormat: frame.FormatYUV422,
	}
	cfg.FrameBufferSize = 8
	cfg.EnableMonitoring = false
	cfg.EnableSharedMemory = withSHM
	if withSHM {
		maxFrame := uint32(8 * 4 * 2)
		slotSize := shm.AlignUp64(uint64(shm.HeaderSize) + uint64(maxFrame))
		cfg.SharedMemory = shm.Config{
			Name:               "svc",
			Size:               shm.DataOffset + 16*slotSize,
			Backing:            shm.BackingMemoryMappedFile,
			FilePath:           filepath.Join(t.TempDir(), "svc"),
			MaxFrameSize:       maxFrame,
			DropFramesWhenFull: true,
		}
	}
	return cfg
}

func TestLifecycle(t *testing.T) {
	s := NewService(nil)

	if err := s.Start(); status.CodeOf(err) != status.NotInitialized {
		t.Fatalf("start before initialize: got %v, want not-initialized", err)
	}
	if err := s.Stop(); status.CodeOf(err) != status.NotInitialized {
		t.Fatalf("stop before initialize: got %v, want not-initialized", err)
	}

	if err := s.Initialize(testServiceConfig(t, false)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if s.State() != StateInitialized {
		t.Fatalf("state = %v, want initialized", s.State())
	}

	// Stop without start is a no-op that stays Initialized.
	if err := s.Stop(); err != nil {
		t.Fatalf("stop without start: %v", err)
	}
	if s.State() != StateInitialized {
		t.Fatalf("state after no-op stop = %v, want initialized", s.State())
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("service does not report running")
	}
	if err := s.Initialize(testServiceConfig(t, false)); status.CodeOf(err) != status.AlreadyRunning {
		t.Fatalf("reinitialize while running: got %v, want already-running", err)
	}
	if err := s.Start(); status.CodeOf(err) != status.AlreadyRunning {
		t.Fatalf("double start: got %v, want already-running", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.State() != StateInitialized {
		t.Fatalf("state after stop = %v, want initialized", s.State())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.State() != StateUninitialized {
		t.Fatalf("state after close = %v, want uninitialized", s.State())
	}
}

func TestInitializeResolvesDeviceFromRegistry(t *testing.T) {
	reg := capture.NewDeviceRegistry()
	first := simsource.New(nil)
	second := simsource.New(nil)
	if err := reg.Register(first); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(second); err != nil {
		t.Fatalf("register: %v", err)
	}

	cfg := testServiceConfig(t, false)
	cfg.Source = nil
	cfg.Devices = reg
	cfg.DeviceID = second.ID()

	s := NewService(nil)
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("initialize by id: %v", err)
	}
	s.Close()

	cfg.DeviceID = "no-such-device"
	if err := NewService(nil).Initialize(cfg); status.CodeOf(err) != status.DeviceNotFound {
		t.Fatalf("unknown device: got %v, want device-not-found", err)
	}

	// Empty id resolves to the first registered device.
	cfg.DeviceID = ""
	s2 := NewService(nil)
	if err := s2.Initialize(cfg); err != nil {
		t.Fatalf("initialize first available: %v", err)
	}
	s2.Close()
}

func TestCapturePumpsFramesIntoRegionAndBuffer(t *testing.T) {
	cfg := testServiceConfig(t, true)
	s := NewService(nil)
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer s.Close()

	var cbCount atomic.Uint64
	s.SetFrameCallback(func(f *frame.Frame) { cbCount.Add(1) })

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	region := s.Region()
	rd := ring.NewReader(region)

	deadline := time.Now().Add(3 * time.Second)
	for region.LoadWriteIndex() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if region.LoadWriteIndex() < 5 {
		t.Fatalf("only %d frames published", region.LoadWriteIndex())
	}
	if cbCount.Load() == 0 {
		t.Fatal("user callback never invoked")
	}

	mapped, err := rd.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	defer mapped.Release()
	if mapped.Width() != 8 || mapped.Height() != 4 {
		t.Fatalf("published frame is %dx%d, want 8x4", mapped.Width(), mapped.Height())
	}
	if mapped.Metadata().DeviceID == "" {
		t.Fatal("published frame lost its device metadata")
	}

	latest, err := s.LatestFrame()
	if err != nil {
		t.Fatalf("LatestFrame: %v", err)
	}
	if latest.ID() == 0 {
		t.Fatal("internal buffer frame has no id")
	}

	stats := s.Statistics()
	for _, key := range []string{
		"frame_count", "dropped_frames", "average_fps", "current_fps",
		"average_latency_ms", "max_latency_ms", "cpu_usage_percent",
		"memory_usage_mb", "uptime_seconds",
		"shm_region.write_index", "device.device_id",
	} {
		if _, ok := stats[key]; !ok {
			t.Fatalf("statistics missing %q: %v", key, stats)
		}
	}
}

// A fresh start after stop produces strictly increasing frame ids and
// sequence numbers contiguous from the ring's baseline.
func TestRestartContinuesCleanly(t *testing.T) {
	cfg := testServiceConfig(t, true)
	s := NewService(nil)
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer s.Close()

	runUntil := func(min uint64) {
		t.Helper()
		if err := s.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		region := s.Region()
		deadline := time.Now().Add(3 * time.Second)
		for region.LoadWriteIndex() < min && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if err := s.Stop(); err != nil {
			t.Fatalf("stop: %v", err)
		}
		if region.LoadWriteIndex() < min {
			t.Fatalf("only %d frames published", region.LoadWriteIndex())
		}
	}

	runUntil(3)
	w1 := s.Region().LoadWriteIndex()
	runUntil(w1 + 3)

	region := s.Region()
	w2 := region.LoadWriteIndex()
	for k := uint64(0); k < w2 && k < region.MaxFrames(); k++ {
		h := region.SlotHeaderAt(k)
		if h.SequenceNumber() >= w2 {
			t.Fatalf("slot %d carries sequence %d beyond write index %d", k, h.SequenceNumber(), w2)
		}
	}

	// The last two published frames have strictly increasing ids.
	hPrev := region.SlotHeaderAt(w2 - 2)
	hLast := region.SlotHeaderAt(w2 - 1)
	if hLast.FrameID() <= hPrev.FrameID() {
		t.Fatalf("frame ids not increasing across restart: %d then %d", hPrev.FrameID(), hLast.FrameID())
	}
	if hLast.SequenceNumber() != w2-1 {
		t.Fatalf("last sequence = %d, want %d", hLast.SequenceNumber(), w2-1)
	}
}

func TestUserCallbackPanicIsIsolated(t *testing.T) {
	cfg := testServiceConfig(t, false)
	s := NewService(nil)
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer s.Close()

	var count atomic.Uint64
	s.SetFrameCallback(func(f *frame.Frame) {
		if count.Add(1) == 1 {
			panic("user bug")
		}
	})

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for count.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if count.Load() < 3 {
		t.Fatalf("delivery stopped after user panic: %d callbacks", count.Load())
	}
}

func TestFrameBufferOverwritesOldestAndCountsDrops(t *testing.T) {
	b := newFrameBuffer(2)
	mk := func(id uint64) *frame.Frame {
		f, err := frame.New(1, 1, 1, frame.FormatUnknown)
		if err != nil {
			t.Fatalf("frame: %v", err)
		}
		f.SetID(id)
		return f
	}

	if b.latest() != nil {
		t.Fatal("empty buffer returned a frame")
	}

	b.push(mk(1))
	b.push(mk(2))
	b.push(mk(3)) // evicts 1

	if got := b.latest().ID(); got != 3 {
		t.Fatalf("latest id = %d, want 3", got)
	}
	if b.dropped() != 1 {
		t.Fatalf("drops = %d, want 1", b.dropped())
	}

	released := false
	f, _ := frame.FromBorrowed([]byte{0}, 1, 1, 1, frame.FormatUnknown, func() { released = true })
	b.push(f)  // evicts 2
	b.reset()
	if !released {
		t.Fatal("reset did not release the held borrowed frame")
	}
}
