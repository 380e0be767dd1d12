package frame

import (
	"log/slog"

	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

// New allocates an Owned frame of width*height*bytesPerPixel bytes.
func New(width, height, bytesPerPixel int, format Format) (*Frame, error) {
	if width <= 0 || height <= 0 || bytesPerPixel <= 0 {
		return nil, status.Newf(status.InvalidArgument,
			"frame dimensions must be positive (got %dx%d@%d)", width, height, bytesPerPixel)
	}
	size := width * height * bytesPerPixel
	data := make([]byte, size)
	return &Frame{
		kind:       KindOwned,
		width:      width,
		height:     height,
		bytesPerPx: bytesPerPixel,
		format:     format,
		data:       data,
		attributes: make(map[string]string),
	}, nil
}

// FromBorrowed wraps upstream-owned bytes. onDestroy is invoked exactly
// once when the Frame is released, including via Release called from a
// deferred recover() in the caller.
func FromBorrowed(data []byte, width, height, bytesPerPixel int, format Format, onDestroy func()) (*Frame, error) {
	if len(data) == 0 {
		return nil, status.New(status.InvalidArgument, "borrowed frame requires non-empty data")
	}
	return &Frame{
		kind:       KindBorrowed,
		width:      width,
		height:     height,
		bytesPerPx: bytesPerPixel,
		format:     format,
		data:       data,
		onDestroy:  onDestroy,
		attributes: make(map[string]string),
	}, nil
}

// FromMapped constructs a Frame whose payload lives inside a shared-memory
// region slot at the given region-relative offset. source.Retain is called
// once to pin the mapping for the Frame's lifetime.
func FromMapped(source MappedSource, offset uint64, size uint32, width, height, bytesPerPixel int, format Format) (*Frame, error) {
	if source == nil {
		return nil, status.New(status.InvalidArgument, "mapped frame requires a source")
	}
	if size == 0 {
		return nil, status.New(status.InvalidArgument, "mapped frame requires non-zero size")
	}
	source.Retain()
	return &Frame{
		kind:       KindMapped,
		width:      width,
		height:     height,
		bytesPerPx: bytesPerPixel,
		format:     format,
		source:     source,
		offset:     offset,
		size:       size,
		attributes: make(map[string]string),
	}, nil
}

// ID returns the frame's monotonic id.
func (f *Frame) ID() uint64 { return f.id }

// SetID assigns the frame id; called by the acquisition pump before
// publish since the producer, not the Frame constructor, owns the
// monotonic counter.
func (f *Frame) SetID(id uint64) { f.id = id }

// TimestampNS returns the capture timestamp in nanoseconds since a fixed
// epoch (the Unix epoch, per this implementation).
func (f *Frame) TimestampNS() int64 { return f.timestampNS }

// SetTimestampNS sets the capture timestamp.
func (f *Frame) SetTimestampNS(ns int64) { f.timestampNS = ns }

// Kind returns the buffer ownership variant.
func (f *Frame) Kind() Kind { return f.kind }

// Width, Height, BytesPerPixel, Format describe the pixel layout.
func (f *Frame) Width() int         { return f.width }
func (f *Frame) Height() int        { return f.height }
func (f *Frame) BytesPerPixel() int { return f.bytesPerPx }
func (f *Frame) Format() Format     { return f.format }

// Metadata returns the structured metadata record by value; mutate via
// SetMetadataRecord.
func (f *Frame) Metadata() Metadata { return f.metadata }

// SetMetadataRecord replaces the structured metadata record.
func (f *Frame) SetMetadataRecord(m Metadata) { f.metadata = m }

// Data returns the frame's payload bytes and their length. For Mapped
// frames, this resolves through the backing region on every call so a
// relocated mapping (never happens in this implementation, but the
// contract allows it) is always observed.
func (f *Frame) Data() ([]byte, int, error) {
	switch f.kind {
	case KindOwned, KindBorrowed:
		return f.data, len(f.data), nil
	case KindMapped:
		b, err := f.source.SlotBytes(f.offset, f.size)
		if err != nil {
			return nil, 0, status.Wrap(status.InvalidArgument, err, "resolving mapped frame data")
		}
		return b, len(b), nil
	default:
		return nil, 0, status.Newf(status.NotSupported, "kind %s has no CPU-accessible data", f.kind)
	}
}

// MappedRange returns the backing source, region-relative offset, and size
// of a Mapped frame's payload. For other kinds the source is nil. The ring
// producer uses this to detect a republish into the frame's own region.
func (f *Frame) MappedRange() (MappedSource, uint64, uint32) {
	if f.kind != KindMapped {
		return nil, 0, 0
	}
	return f.source, f.offset, f.size
}

// GetMetadata reads a free-form attribute.
func (f *Frame) GetMetadata(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.attributes[key]
	return v, ok
}

// SetMetadata writes a free-form attribute.
func (f *Frame) SetMetadata(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attributes == nil {
		f.attributes = make(map[string]string)
	}
	f.attributes[key] = value
}

// Attributes returns a copy of the free-form metadata map.
func (f *Frame) Attributes() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.attributes))
	for k, v := range f.attributes {
		out[k] = v
	}
	return out
}

// Lock is idempotent for CPU-kind frames (Owned/Borrowed/Mapped). It
// returns an error if a read lock is requested while a write lock is
// already held. GPU/DMA kinds are not yet lockable.
func (f *Frame) Lock(readOnly bool) error {
	switch f.kind {
	case KindGPU, KindDMA:
		return status.Newf(status.NotSupported, "locking is not implemented for kind %s", f.kind)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lock == writeLocked && readOnly {
		return status.New(status.Internal, "read lock requested while write lock held")
	}
	if readOnly {
		if f.lock == unlocked {
			f.lock = readLocked
		}
		return nil
	}
	f.lock = writeLocked
	return nil
}

// Unlock clears whatever lock is held. Reference-counting-free: exactly
// one Unlock call is required regardless of how many Lock calls preceded
// it.
func (f *Frame) Unlock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lock = unlocked
}

// Clone produces a new frame of targetKind (Owned or Mapped) containing a
// byte-for-byte copy of the payload and a copy of the metadata.
func (f *Frame) Clone(targetKind Kind, mappedInto MappedSource, mappedOffset uint64) (*Frame, error) {
	data, _, err := f.Data()
	if err != nil {
		return nil, err
	}
	copied := make([]byte, len(data))
	copy(copied, data)

	var out *Frame
	switch targetKind {
	case KindOwned:
		out = &Frame{
			kind:       KindOwned,
			width:      f.width,
			height:     f.height,
			bytesPerPx: f.bytesPerPx,
			format:     f.format,
			data:       copied,
			attributes: make(map[string]string),
		}
	case KindMapped:
		if mappedInto == nil {
			return nil, status.New(status.InvalidArgument, "clone into mapped kind requires a destination source")
		}
		dst, derr := mappedInto.SlotBytes(mappedOffset, uint32(len(copied)))
		if derr != nil {
			return nil, status.Wrap(status.InvalidArgument, derr, "resolving clone destination slot")
		}
		n := copy(dst, copied)
		mappedInto.Retain()
		out = &Frame{
			kind:       KindMapped,
			width:      f.width,
			height:     f.height,
			bytesPerPx: f.bytesPerPx,
			format:     f.format,
			source:     mappedInto,
			offset:     mappedOffset,
			size:       uint32(n),
			attributes: make(map[string]string),
		}
	default:
		return nil, status.Newf(status.NotSupported, "clone into kind %s is not supported", targetKind)
	}

	out.id = f.id
	out.timestampNS = f.timestampNS
	out.metadata = f.metadata.Clone()
	for k, v := range f.Attributes() {
		out.attributes[k] = v
	}
	return out, nil
}

// Release tears the frame down, invoking the Borrowed on-destroy hook
// exactly once (swallowing any panic from it, since a failing hook must
// never surface as a Frame error while the Frame is already being
// destroyed) and unpinning a Mapped frame's region reference.
func (f *Frame) Release() {
	switch f.kind {
	case KindBorrowed:
		if f.onDestroy != nil {
			f.destroyOnce.Do(func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("frame on-destroy hook panicked", "recovered", r)
					}
				}()
				f.onDestroy()
			})
		}
	case KindMapped:
		if f.source != nil {
			f.source.Release()
			f.source = nil
		}
	}
}
