// Package simsource generates synthetic frames on a schedule, standing in
// for a vendor capture card during development and tests. It honors the
// full source lifecycle and delivery contract: Borrowed frames over pooled
// buffers, a one-shot release hook per frame, and synchronous callback
// invocation on the generator goroutine.
package simsource

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
)

// Source is a simulated capture device.
type Source struct {
	id    string
	model string
	log   *slog.Logger

	mu    sync.Mutex
	state capture.State
	cfg   capture.Config

	stopCh chan struct{}
	wg     sync.WaitGroup

	pool sync.Pool

	nextFrameID   atomic.Uint64
	framesEmitted atomic.Uint64
	startTime     time.Time
}

// New creates a simulated source with a fresh device id.
func New(log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		id:    uuid.New().String(),
		model: "SIM-1000",
		log:   log,
		state: capture.StateDisconnected,
	}
}

func (s *Source) ID() string    { return s.id }
func (s *Source) Name() string  { return "simulated-capture" }
func (s *Source) Model() string { return s.model }

func (s *Source) Capabilities() capture.Capabilities {
	return capture.Capabilities{
		HardwareTimestamps: false,
		SupportedFormats: []frame.Format{
			frame.FormatYUV422, frame.FormatRGBA,
		},
	}
}

func (s *Source) Supports(f capture.Feature) bool {
	return s.Capabilities().Supports(f)
}

// Initialize configures the generator. Forbidden while capturing.
func (s *Source) Initialize(cfg capture.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == capture.StateCapturing {
		return status.New(status.AlreadyRunning, "cannot reconfigure a capturing source")
	}

	s.cfg = cfg
	bufSize := cfg.Width * cfg.Height * bytesPerPixel(cfg.PixelFormat)
	s.pool = sync.Pool{New: func() any {
		b := make([]byte, bufSize)
		return &b
	}}
	s.state = capture.StateInitialized

	s.log.Info("simulated source initialized",
		"device_id", s.id,
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FrameRate,
		"format", cfg.PixelFormat.String(),
	)
	return nil
}

// Start spawns the generator goroutine, which plays the role of the
// vendor's delivery thread: it invokes cb synchronously per frame.
func (s *Source) Start(cb capture.FrameCallback) error {
	if cb == nil {
		return status.New(status.InvalidArgument, "start requires a frame callback")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case capture.StateDisconnected:
		return status.New(status.NotInitialized, "source has not been initialized")
	case capture.StateCapturing:
		return status.New(status.AlreadyRunning, "source is already capturing")
	}

	s.stopCh = make(chan struct{})
	s.state = capture.StateCapturing
	s.startTime = time.Now()
	s.framesEmitted.Store(0)

	s.wg.Add(1)
	go s.deliver(cb, s.stopCh)
	return nil
}

// Stop halts the generator and waits for it to exit.
func (s *Source) Stop() error {
	s.mu.Lock()
	if s.state != capture.StateCapturing {
		s.mu.Unlock()
		return status.New(status.NotRunning, "source is not capturing")
	}
	// Flip state before releasing the lock so a concurrent Stop cannot
	// close stopCh a second time.
	s.state = capture.StateInitialized
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()

	s.log.Info("simulated source stopped",
		"device_id", s.id,
		"frames_emitted", s.framesEmitted.Load(),
	)
	return nil
}

func (s *Source) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == capture.StateCapturing
}

func (s *Source) SupportedConfigurations() []capture.Config {
	return []capture.Config{
		{Width: 640, Height: 480, FrameRate: 30, PixelFormat: frame.FormatYUV422},
		{Width: 1920, Height: 1080, FrameRate: 30, PixelFormat: frame.FormatYUV422},
		{Width: 1920, Height: 1080, FrameRate: 60, PixelFormat: frame.FormatRGBA},
	}
}

func (s *Source) CurrentConfiguration() capture.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Source) CurrentFrameRate() float64 {
	s.mu.Lock()
	running := s.state == capture.StateCapturing
	start := s.startTime
	s.mu.Unlock()

	if !running {
		return 0
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.framesEmitted.Load()) / elapsed
}

func (s *Source) Diagnostics() map[string]string {
	return map[string]string{
		"device_id":      s.id,
		"model":          s.model,
		"state":          s.stateString(),
		"frames_emitted": fmt.Sprintf("%d", s.framesEmitted.Load()),
		"signal_locked":  "true",
	}
}

func (s *Source) stateString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.String()
}

// deliver generates frames at the configured rate and invokes cb
// synchronously, exactly as a vendor delivery thread would.
func (s *Source) deliver(cb capture.FrameCallback, stopCh chan struct{}) {
	defer s.wg.Done()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	interval := time.Duration(float64(time.Second) / cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			f, err := s.makeFrame(cfg)
			if err != nil {
				s.log.Error("simulated frame allocation failed", "error", err)
				continue
			}
			s.invoke(cb, f)
			s.framesEmitted.Add(1)
		}
	}
}

// invoke isolates the service callback: a panic there is logged and
// swallowed, never allowed to escape back into the delivery loop.
func (s *Source) invoke(cb capture.FrameCallback, f *frame.Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("frame callback panicked", "recovered", r)
		}
	}()
	cb(f)
}

// makeFrame builds a Borrowed frame over a pooled buffer. The release hook
// returns the buffer to the pool, playing the role of the vendor's
// buffer-release entry point.
func (s *Source) makeFrame(cfg capture.Config) (*frame.Frame, error) {
	bufp := s.pool.Get().(*[]byte)
	buf := *bufp
	id := s.nextFrameID.Add(1)

	// A moving gradient so consumers can tell frames apart.
	fill := byte(id)
	for i := range buf {
		buf[i] = fill + byte(i)
	}

	f, err := frame.FromBorrowed(buf, cfg.Width, cfg.Height, bytesPerPixel(cfg.PixelFormat), cfg.PixelFormat,
		func() { s.pool.Put(bufp) })
	if err != nil {
		s.pool.Put(bufp)
		return nil, err
	}
	f.SetID(id)
	f.SetTimestampNS(time.Now().UnixNano())
	f.SetMetadataRecord(frame.Metadata{
		DeviceID:    s.id,
		FrameNumber: id,
		Quality: frame.SignalQuality{
			Strength:   1.0,
			SNR:        30.0,
			Confidence: 1.0,
		},
	})
	return f, nil
}

func bytesPerPixel(f frame.Format) int {
	switch f {
	case frame.FormatYUV422:
		return 2
	case frame.FormatRGBA:
		return 4
	case frame.FormatYUV10, frame.FormatRGB10:
		return 4
	default:
		return 2
	}
}
