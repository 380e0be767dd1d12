// Package frame exposes the polymorphic Frame handle used throughout the
// acquisition pipeline: a buffer of pixel data that is either owned by the
// frame, borrowed from an upstream component with a release hook, or mapped
// into a shared-memory region slot.
//
// The implementation lives in internal/frame; this package is a thin,
// stable re-export.
package frame

import "github.com/EmiPatoR/mivi-imaging-service/frame/internal/frame"

// Kind is the closed variant set of buffer ownership models.
type Kind = frame.Kind

const (
	KindOwned    = frame.KindOwned
	KindBorrowed = frame.KindBorrowed
	KindMapped   = frame.KindMapped
	KindGPU      = frame.KindGPU
	KindDMA      = frame.KindDMA
)

// Format is the closed set of pixel format codes.
type Format = frame.Format

const (
	FormatYUV422  = frame.FormatYUV422
	FormatRGBA    = frame.FormatRGBA
	FormatYUV10   = frame.FormatYUV10
	FormatRGB10   = frame.FormatRGB10
	FormatUnknown = frame.FormatUnknown
)

// ProbePose, SignalQuality, and Metadata are the structured per-frame
// metadata types.
type (
	ProbePose     = frame.ProbePose
	SignalQuality = frame.SignalQuality
	Metadata      = frame.Metadata
)

// MappedSource is implemented by shared-memory regions so a Mapped Frame
// can resolve its payload without this package depending on the region
// package directly.
type MappedSource = frame.MappedSource

// Frame is the polymorphic handle to pixel data.
type Frame = frame.Frame

// New allocates an Owned frame of width*height*bytesPerPixel bytes.
func New(width, height, bytesPerPixel int, format Format) (*Frame, error) {
	return frame.New(width, height, bytesPerPixel, format)
}

// FromBorrowed wraps upstream-owned bytes with a one-shot release hook.
func FromBorrowed(data []byte, width, height, bytesPerPixel int, format Format, onDestroy func()) (*Frame, error) {
	return frame.FromBorrowed(data, width, height, bytesPerPixel, format, onDestroy)
}

// FromMapped constructs a Frame whose payload lives inside a shared-memory
// region slot.
func FromMapped(source MappedSource, offset uint64, size uint32, width, height, bytesPerPixel int, format Format) (*Frame, error) {
	return frame.FromMapped(source, offset, size, width, height, bytesPerPixel, format)
}

// FormatFromName maps a format name reported by a capture source to its
// numeric wire code.
func FormatFromName(name string) Format {
	switch name {
	case "YUV", "YUV422":
		return FormatYUV422
	case "BGRA", "RGB", "RGBA":
		return FormatRGBA
	case "YUV10", "YUV422_10":
		return FormatYUV10
	case "RGB10":
		return FormatRGB10
	default:
		return FormatUnknown
	}
}
