// Package frame implements the polymorphic Frame handle: a buffer of
// pixel data that is either owned, borrowed from an upstream component, or
// mapped into a shared-memory region slot.
//
// This package is INTERNAL; clients use the re-exported contract in the
// parent "frame" package.
package frame

import "sync"

// Kind is the closed variant set of buffer ownership models a Frame can
// wrap. GPU and DMA are declared so the variant set has a stable home for
// them; Data, Lock, and Clone on those kinds return status.NotSupported.
type Kind int

const (
	KindOwned Kind = iota
	KindBorrowed
	KindMapped
	KindGPU
	KindDMA
)

func (k Kind) String() string {
	switch k {
	case KindOwned:
		return "owned"
	case KindBorrowed:
		return "borrowed"
	case KindMapped:
		return "mapped"
	case KindGPU:
		return "gpu"
	case KindDMA:
		return "dma"
	default:
		return "unknown"
	}
}

// Format is the closed set of pixel format codes carried in slot headers.
type Format uint32

const (
	FormatYUV422  Format = 1
	FormatRGBA    Format = 2
	FormatYUV10   Format = 3
	FormatRGB10   Format = 4
	FormatUnknown Format = 0xFF
)

// String maps a numeric format code back to its name, as readers present
// it.
func (f Format) String() string {
	switch f {
	case FormatYUV422:
		return "YUV422"
	case FormatRGBA:
		return "RGBA"
	case FormatYUV10:
		return "YUV422_10"
	case FormatRGB10:
		return "RGB10"
	default:
		return "Unknown"
	}
}

// ProbePose is the optional position/orientation of an imaging probe at
// capture time, carried in FrameMetadata when the capture source reports it.
type ProbePose struct {
	// Position is a 3-vector (x, y, z) in device-defined units.
	Position [3]float64
	// Orientation is a unit quaternion (x, y, z, w).
	Orientation [4]float64
}

// SignalQuality carries the three per-frame quality scores: a generic
// signal strength, a signal-to-noise ratio, and a confidence score.
type SignalQuality struct {
	Strength   float64
	SNR        float64
	Confidence float64
}

// Metadata is the structured per-frame record. Attributes is the
// free-form string map that sits alongside it.
type Metadata struct {
	DeviceID        string
	ExposureTimeMS  float64
	FrameNumber     uint64
	ProcessingFlags uint32
	ProbePose       *ProbePose
	Quality         SignalQuality
}

// Clone returns a deep copy of m, including ProbePose if present.
func (m Metadata) Clone() Metadata {
	out := m
	if m.ProbePose != nil {
		pose := *m.ProbePose
		out.ProbePose = &pose
	}
	return out
}

// MappedSource is the minimal interface a shared-memory region must
// implement so a Mapped frame can resolve its payload bytes without this
// package importing the region package directly (which would create an
// import cycle, since the ring protocol wires frames into regions).
type MappedSource interface {
	// SlotBytes returns the payload bytes at the given region-relative
	// offset and length. The returned slice aliases the mapping; callers
	// must not retain it past the Frame's lifetime.
	SlotBytes(offset uint64, size uint32) ([]byte, error)
	// Retain pins the region's mapping open; called once when a Mapped
	// frame is constructed.
	Retain()
	// Release unpins the mapping; called exactly once on Frame release.
	Release()
}

// lockMode tracks the single outstanding lock on a Frame. Locking is
// reference-counting-free: one Unlock clears the state regardless of how
// many Lock calls preceded it.
type lockMode int

const (
	unlocked lockMode = iota
	readLocked
	writeLocked
)

// Frame is the polymorphic handle to pixel data.
type Frame struct {
	mu sync.Mutex

	kind Kind

	id          uint64
	timestampNS int64
	width       int
	height      int
	bytesPerPx  int
	format      Format
	metadata    Metadata
	attributes  map[string]string

	// Owned: data is this Frame's own allocation.
	data []byte

	// Borrowed: data aliases upstream memory; onDestroy is invoked
	// exactly once, on every destruction path (including Release called
	// from a recover()).
	onDestroy   func()
	destroyOnce sync.Once

	// Mapped: payload resolved through source at [offset, offset+size).
	source MappedSource
	offset uint64
	size   uint32

	lock lockMode
}
