// Package acquisition binds a capture source to a shared-memory region:
// the service owns the capture-to-ring pump, the internal frame buffer, the
// performance monitor, and the tuning knobs.
//
// This package is INTERNAL; clients use the re-exported contract in the
// parent "acquisition" package.
package acquisition

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/EmiPatoR/mivi-imaging-service/capture"
	"github.com/EmiPatoR/mivi-imaging-service/frame"
	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
	"github.com/EmiPatoR/mivi-imaging-service/ring"
	"github.com/EmiPatoR/mivi-imaging-service/shm"
)

// State is the service lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// FrameCallback receives each captured frame after it has been published to
// shared memory and the internal buffer. The frame is owned by the internal
// buffer; callbacks must not retain it.
type FrameCallback func(*frame.Frame)

// Service drives one capture source into one shared-memory region.
type Service struct {
	instanceID string
	log        *slog.Logger

	mu     sync.Mutex
	state  State
	cfg    Config
	source capture.CaptureSource

	region   *shm.Region
	producer *ring.Producer
	frameBuf *frameBuffer

	userCB atomic.Pointer[FrameCallback]

	frameCount       atomic.Uint64
	writeErrors      atomic.Uint64
	bufferFullEvents atomic.Uint64

	metrics   metrics
	startTime time.Time

	monitorStop chan struct{}
	monitorWG   sync.WaitGroup
	lastLogTime time.Time
}

// NewService creates an uninitialized service.
func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		instanceID: uuid.New().String(),
		log:        log,
		state:      StateUninitialized,
	}
}

// InstanceID identifies this service instance in logs and registries.
func (s *Service) InstanceID() string { return s.instanceID }

// State returns the current lifecycle position.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize resolves a device, configures it, creates the shared-memory
// region as producer when enabled, and allocates the internal frame buffer.
// Reinitialization while running is forbidden.
func (s *Service) Initialize(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return status.New(status.AlreadyRunning, "cannot reinitialize a running service")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Logger != nil {
		s.log = cfg.Logger
	}

	src := cfg.Source
	if src == nil {
		var err error
		if cfg.DeviceID != "" {
			src, err = cfg.Devices.ByID(cfg.DeviceID)
		} else {
			src, err = cfg.Devices.First()
		}
		if err != nil {
			return err
		}
	}

	if err := src.Initialize(cfg.Capture); err != nil {
		return status.Wrap(status.InitFailed, err, "initializing capture source")
	}

	// A reinitialized service replaces its previous region.
	if s.region != nil {
		s.region.Close()
		s.region = nil
		s.producer = nil
	}
	if cfg.EnableSharedMemory {
		r, err := shm.Create(cfg.SharedMemory)
		if err != nil {
			return status.Wrap(status.CreationFailed, err, "creating shared-memory region")
		}
		s.region = r
		s.producer = ring.NewProducer(r)
	}

	if s.frameBuf != nil {
		s.frameBuf.reset()
	}
	s.frameBuf = newFrameBuffer(cfg.FrameBufferSize)

	s.cfg = cfg
	s.source = src
	s.resetCountersLocked()
	s.state = StateInitialized

	s.log.Info("acquisition service initialized",
		"instance", s.instanceID,
		"device", src.ID(),
		"shared_memory", cfg.EnableSharedMemory,
		"region", cfg.SharedMemory.Name,
	)
	return nil
}

// Start resets counters, launches the monitor when enabled, and begins
// capture delivery into the service's frame handler.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUninitialized:
		return status.New(status.NotInitialized, "service has not been initialized")
	case StateRunning:
		return status.New(status.AlreadyRunning, "service is already running")
	}

	s.resetCountersLocked()
	s.startTime = time.Now()
	s.lastLogTime = s.startTime

	if s.cfg.EnableMonitoring {
		s.monitorStop = make(chan struct{})
		s.monitorWG.Add(1)
		go s.monitorLoop(s.monitorStop)
	}

	if err := s.source.Start(s.handleFrame); err != nil {
		s.stopMonitorLocked()
		return status.Wrap(status.InitFailed, err, "starting capture source")
	}

	s.state = StateRunning
	s.log.Info("acquisition started", "instance", s.instanceID)
	return nil
}

// Stop halts capture and joins the monitor. Stopping an initialized but
// never-started service is a no-op; stopping an uninitialized one is an
// error.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUninitialized:
		return status.New(status.NotInitialized, "service has not been initialized")
	case StateInitialized:
		return nil
	}

	// No lock ordering concern: source.Stop is the one call here that can
	// block, and the frame handler never takes the service mutex.
	if err := s.source.Stop(); err != nil {
		s.log.Error("capture source refused to stop", "error", err)
	}
	s.stopMonitorLocked()

	s.state = StateInitialized
	s.log.Info("acquisition stopped",
		"instance", s.instanceID,
		"frames", s.frameCount.Load(),
		"write_errors", s.writeErrors.Load(),
	)
	return nil
}

// Close tears the service down entirely, releasing the region and every
// buffered frame. The service returns to Uninitialized.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.state == StateRunning {
		if err := s.source.Stop(); err != nil {
			s.log.Error("capture source refused to stop", "error", err)
		}
		s.stopMonitorLocked()
	}
	if s.frameBuf != nil {
		s.frameBuf.reset()
	}
	region := s.region
	s.region = nil
	s.producer = nil
	s.state = StateUninitialized
	s.mu.Unlock()

	if region != nil {
		return region.Close()
	}
	return nil
}

func (s *Service) stopMonitorLocked() {
	if s.monitorStop == nil {
		return
	}
	close(s.monitorStop)
	s.monitorWG.Wait()
	s.monitorStop = nil
}

func (s *Service) resetCountersLocked() {
	s.frameCount.Store(0)
	s.writeErrors.Store(0)
	s.bufferFullEvents.Store(0)
	s.metrics.reset()
}

// IsRunning reports whether capture is active.
func (s *Service) IsRunning() bool { return s.State() == StateRunning }

// SetFrameCallback installs (or clears, with nil) the user callback invoked
// per captured frame.
func (s *Service) SetFrameCallback(cb FrameCallback) {
	if cb == nil {
		s.userCB.Store(nil)
		return
	}
	s.userCB.Store(&cb)
}

// LatestFrame returns the newest frame from the internal buffer, or a
// buffer-empty error before the first capture.
func (s *Service) LatestFrame() (*frame.Frame, error) {
	s.mu.Lock()
	buf := s.frameBuf
	s.mu.Unlock()
	if buf == nil {
		return nil, status.New(status.NotInitialized, "service has not been initialized")
	}
	f := buf.latest()
	if f == nil {
		return nil, status.New(status.BufferEmpty, "no frame captured yet")
	}
	return f, nil
}

// Region exposes the service's shared-memory region, nil when shared memory
// is disabled.
func (s *Service) Region() *shm.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

// handleFrame is the capture-to-ring pump, run synchronously on the
// vendor's delivery thread. The step order is fixed and no step may abort
// the ones after it: count, sample metrics, publish to the ring, buffer
// internally, then notify the user callback.
func (s *Service) handleFrame(f *frame.Frame) {
	s.frameCount.Add(1)

	now := time.Now()
	s.metrics.recordArrival(now, f.TimestampNS())

	if s.producer != nil {
		if err := s.producer.WriteTimeout(f, s.cfg.WriteTimeout); err != nil {
			if status.CodeOf(err) == status.BufferFull {
				s.bufferFullEvents.Add(1)
			} else {
				s.writeErrors.Add(1)
				s.log.Error("publishing frame to shared memory failed",
					"frame_id", f.ID(), "error", err)
			}
		}
	}

	// The buffer takes ownership; evicted frames are released there.
	s.frameBuf.push(f)

	if cbp := s.userCB.Load(); cbp != nil {
		s.invokeUserCallback(*cbp, f)
	}
}

// invokeUserCallback isolates user code: a panic is logged, never allowed
// back into the vendor's delivery thread.
func (s *Service) invokeUserCallback(cb FrameCallback, f *frame.Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("user frame callback panicked", "recovered", r)
		}
	}()
	cb(f)
}

// Statistics returns the flattened string map: service counters, derived
// metrics, region counters under a "shm_region." prefix, and source
// diagnostics under a "device." prefix.
func (s *Service) Statistics() map[string]string {
	out := make(map[string]string, 24)

	up, avgFPS, curFPS, avgLat, maxLat, cpu, rss := s.metrics.snapshot()

	s.mu.Lock()
	region := s.region
	source := s.source
	buf := s.frameBuf
	s.mu.Unlock()

	var dropped uint64
	if region != nil {
		dropped = region.Stats().Dropped
	}
	if buf != nil {
		dropped += buf.dropped()
	}

	out["frame_count"] = fmt.Sprintf("%d", s.frameCount.Load())
	out["dropped_frames"] = fmt.Sprintf("%d", dropped)
	out["average_fps"] = fmt.Sprintf("%.2f", avgFPS)
	out["current_fps"] = fmt.Sprintf("%.2f", curFPS)
	out["average_latency_ms"] = fmt.Sprintf("%.3f", avgLat)
	out["max_latency_ms"] = fmt.Sprintf("%.3f", maxLat)
	out["cpu_usage_percent"] = fmt.Sprintf("%.2f", cpu)
	out["memory_usage_mb"] = fmt.Sprintf("%.2f", rss)
	out["uptime_seconds"] = fmt.Sprintf("%.1f", up)
	out["write_errors"] = fmt.Sprintf("%d", s.writeErrors.Load())
	out["buffer_full_events"] = fmt.Sprintf("%d", s.bufferFullEvents.Load())

	if region != nil {
		rs := region.Stats()
		out["shm_region.name"] = region.Name()
		out["shm_region.write_index"] = fmt.Sprintf("%d", rs.WriteIndex)
		out["shm_region.read_index"] = fmt.Sprintf("%d", rs.ReadIndex)
		out["shm_region.total_written"] = fmt.Sprintf("%d", rs.TotalWritten)
		out["shm_region.total_read"] = fmt.Sprintf("%d", rs.TotalRead)
		out["shm_region.dropped"] = fmt.Sprintf("%d", rs.Dropped)
		out["shm_region.max_frames"] = fmt.Sprintf("%d", rs.MaxFrames)
		out["shm_region.slot_size"] = fmt.Sprintf("%d", rs.SlotSize)
		out["shm_region.mlock_failed"] = fmt.Sprintf("%t", rs.MlockFailed)
	}

	if source != nil {
		for k, v := range source.Diagnostics() {
			out["device."+k] = v
		}
	}
	return out
}
