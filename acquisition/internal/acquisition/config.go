package acquisition

import (
	"log/slog"
	"time"

	"github.com/EmiPatoR/mivi-imaging-service/capture"
	"github.com/EmiPatoR/mivi-imaging-service/frame"
	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
	"github.com/EmiPatoR/mivi-imaging-service/shm"
)

// Config carries every tunable of an acquisition service instance.
type Config struct {
	// DeviceID selects a source from Devices; empty means first available.
	// Ignored when Source is set directly.
	DeviceID string
	// Devices resolves DeviceID. Required unless Source is set.
	Devices *capture.DeviceRegistry
	// Source bypasses device resolution entirely.
	Source capture.CaptureSource

	// Capture is handed to the source's Initialize.
	Capture capture.Config

	// EnableSharedMemory creates SharedMemory as producer during
	// Initialize and publishes every captured frame into it.
	EnableSharedMemory bool
	SharedMemory       shm.Config

	// WriteTimeout bounds the producer-side wait when the ring is full and
	// the drop policy is off.
	WriteTimeout time.Duration

	// FrameBufferSize is the capacity of the internal most-recent-frames
	// ring serving non-shared-memory consumers and diagnostics.
	FrameBufferSize int

	// EnableMonitoring runs the once-per-second metrics sampler.
	EnableMonitoring bool
	// EnableLogging emits a one-line summary every LogInterval.
	EnableLogging bool
	LogInterval   time.Duration

	// ThreadAffinity pins the monitor thread to a CPU when >= 0.
	ThreadAffinity int
	// RealtimePriority requests a round-robin realtime scheduler for the
	// monitor thread.
	RealtimePriority bool

	Logger *slog.Logger
}

// DefaultConfig returns the tunables a bare service starts from.
func DefaultConfig() Config {
	return Config{
		Capture: capture.Config{
			Width:       1920,
			Height:      1080,
			FrameRate:   30,
			PixelFormat: frame.FormatYUV422,
		},
		EnableSharedMemory: true,
		SharedMemory: shm.Config{
			Name:               "mivi_frames",
			Size:               256 << 20,
			Backing:            shm.BackingPosixSHM,
			MaxFrameSize:       1920 * 1080 * 2,
			DropFramesWhenFull: true,
			EnableMetadata:     true,
		},
		WriteTimeout:     10 * time.Millisecond,
		FrameBufferSize:  30,
		EnableMonitoring: true,
		LogInterval:      5 * time.Second,
		ThreadAffinity:   -1,
	}
}

// Validate applies the fail-fast checks Initialize depends on.
func (c Config) Validate() error {
	if c.Source == nil && c.Devices == nil {
		return status.New(status.ConfigurationError, "either a source or a device registry is required")
	}
	if err := c.Capture.Validate(); err != nil {
		return err
	}
	if c.FrameBufferSize <= 0 {
		return status.Newf(status.ConfigurationError,
			"frame buffer size must be positive (got %d)", c.FrameBufferSize)
	}
	if c.EnableSharedMemory {
		if err := c.SharedMemory.Validate(); err != nil {
			return err
		}
	}
	return nil
}
