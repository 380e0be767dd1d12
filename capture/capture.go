// Package capture defines the vendor-agnostic contract a frame source must
// satisfy to feed the acquisition service: identification, capability
// discovery, lifecycle, and synchronous per-frame delivery on the vendor's
// own thread. A simulated source for development and tests lives in the
// simsource subpackage.
package capture

import (
	"github.com/EmiPatoR/mivi-imaging-service/frame"
	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

// Feature names a discoverable source capability.
type Feature string

const (
	FeatureDMA             Feature = "dma"
	FeatureGPUDirect       Feature = "gpu-direct"
	FeatureHWTimestamp     Feature = "hw-timestamp"
	FeatureExternalTrigger Feature = "external-trigger"
	FeatureMultiStream     Feature = "multi-stream"
	FeatureROI             Feature = "roi"
)

// Capabilities describes what a source's hardware can do.
type Capabilities struct {
	DMA                bool
	GPUDirect          bool
	HardwareTimestamps bool
	ExternalTrigger    bool
	MultiStream        bool
	ROI                bool
	SupportedFormats   []frame.Format
}

// Supports reports whether the named feature is present.
func (c Capabilities) Supports(f Feature) bool {
	switch f {
	case FeatureDMA:
		return c.DMA
	case FeatureGPUDirect:
		return c.GPUDirect
	case FeatureHWTimestamp:
		return c.HardwareTimestamps
	case FeatureExternalTrigger:
		return c.ExternalTrigger
	case FeatureMultiStream:
		return c.MultiStream
	case FeatureROI:
		return c.ROI
	default:
		return false
	}
}

// Config enumerates every source configuration parameter. Audio, when
// enabled, is delivered alongside video by the vendor and has no ring
// presence.
type Config struct {
	Width       int
	Height      int
	FrameRate   float64
	PixelFormat frame.Format

	EnableAudio     bool
	EnableDMA       bool
	EnableGPUDirect bool

	PreferredBufferKind frame.Kind

	// DirectOutputRegion names a shared-memory region the source should
	// write into directly, for hardware that supports it.
	DirectOutputRegion string

	BufferCount        int
	HardwareTimestamps bool

	// Alloc/Free, when set, replace the source's own buffer management.
	Alloc func(size int) []byte
	Free  func([]byte)
}

// Validate applies fail-fast checks before a source touches hardware.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return status.Newf(status.ConfigurationError,
			"capture resolution must be positive (got %dx%d)", c.Width, c.Height)
	}
	if c.FrameRate <= 0 {
		return status.Newf(status.ConfigurationError,
			"capture frame rate must be positive (got %v)", c.FrameRate)
	}
	return nil
}

// FrameCallback receives each captured frame synchronously on the vendor's
// delivery thread. It must not block longer than a frame interval; heavy
// work is deferred to other goroutines.
type FrameCallback func(*frame.Frame)

// State is the source lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateInitialized
	StateCapturing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateInitialized:
		return "initialized"
	case StateCapturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// CaptureSource is the contract the acquisition service consumes. The
// delivery contract: on each frame the source wraps the vendor's buffer as
// a Borrowed frame whose release hook returns the buffer to the vendor,
// fills structured metadata, stamps system time, assigns a monotone frame
// id, and invokes the callback synchronously on the vendor's thread.
type CaptureSource interface {
	ID() string
	Name() string
	Model() string

	Capabilities() Capabilities
	Supports(Feature) bool

	// Initialize configures the source. Forbidden while capturing.
	Initialize(Config) error
	// Start begins delivery to cb. Requires an initialized, non-capturing
	// source.
	Start(cb FrameCallback) error
	// Stop halts delivery. Requires a capturing source; returns only after
	// the vendor has stopped delivering.
	Stop() error
	IsCapturing() bool

	SupportedConfigurations() []Config
	CurrentConfiguration() Config
	CurrentFrameRate() float64

	// Diagnostics returns vendor-specific health indicators, flattened for
	// the service's statistics surface.
	Diagnostics() map[string]string
}

// ExternalMemorySetter is implemented by sources that can capture into
// caller-provided memory.
type ExternalMemorySetter interface {
	SetExternalMemory(buf []byte) error
}

// DirectOutputSetter is implemented by sources whose hardware can write
// into a named shared-memory region without passing through the service.
type DirectOutputSetter interface {
	SetDirectOutputTo(regionName string) error
}
