// Package ring implements the single-producer, multi-consumer frame ring
// over a shared-memory region: the producer publish algorithm, the drop and
// backpressure policies, and the advisory-reader protocol.
//
// This package is INTERNAL; clients use the re-exported contract in the
// parent "ring" package.
package ring

import (
	"time"

	"github.com/EmiPatoR/mivi-imaging-service/frame"
	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
	"github.com/EmiPatoR/mivi-imaging-service/shm"
)

// Producer is the sole writer of a region's ring. It advances write_index
// monotonically; the store of write_index is the publication point that
// makes a slot visible to readers. The publish path takes no locks.
type Producer struct {
	region *shm.Region
}

// NewProducer binds a producer to a region it owns. The caller guarantees
// exclusivity: concurrent producers on the same region are undefined.
func NewProducer(r *shm.Region) *Producer {
	return &Producer{region: r}
}

// Write publishes one frame, applying the region's configured backpressure
// policy with no wait: a full ring either drops (returning buffer-full and
// incrementing the dropped counter) or returns buffer-full immediately.
func (p *Producer) Write(f *frame.Frame) error {
	return p.write(f, 0)
}

// WriteTimeout publishes one frame, waiting up to timeout for in-flight
// frames to drain when the ring is full and the drop policy is off.
// Unbounded waits are not expressible: a zero or negative timeout means no
// wait at all.
func (p *Producer) WriteTimeout(f *frame.Frame, timeout time.Duration) error {
	return p.write(f, timeout)
}

func (p *Producer) write(f *frame.Frame, timeout time.Duration) error {
	r := p.region

	data, dataSize, err := f.Data()
	if err != nil {
		return err
	}
	if uint32(dataSize) > r.MaxFrameSize() {
		// Reject before touching any index: write_index must not move.
		return status.Newf(status.InvalidSize,
			"frame payload %d bytes exceeds slot budget %d", dataSize, r.MaxFrameSize())
	}

	w := r.LoadWriteIndex()
	rd := r.LoadReadIndex()

	if w-rd >= r.MaxFrames() {
		if r.DropFramesWhenFull() {
			r.AddDropped(1)
			return status.New(status.BufferFull, "ring full, frame dropped")
		}
		deadline := time.Now().Add(timeout)
		for w-rd >= r.MaxFrames() {
			if timeout <= 0 || time.Now().After(deadline) {
				return status.Newf(status.BufferFull,
					"ring full after waiting %v for readers", timeout)
			}
			time.Sleep(1 * time.Millisecond)
			rd = r.LoadReadIndex()
		}
	}

	k := w % r.MaxFrames()
	payloadOff := r.SlotPayloadOffset(k)

	h := r.SlotHeaderAt(k)
	h.SetFrameID(f.ID())
	h.SetTimestampNS(f.TimestampNS())
	h.SetWidth(uint32(f.Width()))
	h.SetHeight(uint32(f.Height()))
	h.SetBPP(uint32(f.BytesPerPixel()))
	h.SetDataSize(uint32(dataSize))
	h.SetFormatCode(uint32(f.Format()))
	h.SetSequenceNumber(w)

	var flags uint32
	if src, srcOff, _ := f.MappedRange(); src == frame.MappedSource(r) {
		// The frame's bytes already live inside this region: republish by
		// reference. When the source slot is the destination slot the copy
		// is skipped outright; otherwise the bytes move within the mapping.
		flags |= shm.FlagZeroCopyRepublish
		if srcOff != payloadOff {
			dst, derr := r.SlotBytes(payloadOff, uint32(dataSize))
			if derr != nil {
				return status.Wrap(status.WriteFailed, derr, "resolving destination slot")
			}
			copy(dst, data)
		}
	} else {
		dst, derr := r.SlotBytes(payloadOff, uint32(dataSize))
		if derr != nil {
			return status.Wrap(status.WriteFailed, derr, "resolving destination slot")
		}
		copy(dst, data)
	}
	h.SetFlags(flags)

	mdDoc := frameMetadataDocOf(f)
	h.SetMetadataOffset(0)
	h.SetMetadataSize(0)
	if blob := encodeFrameMetadata(mdDoc); blob != nil {
		room := r.MaxFrameSize() - uint32(dataSize)
		if uint32(len(blob)) <= room {
			mdOff := payloadOff + uint64(dataSize)
			if dst, derr := r.SlotBytes(mdOff, uint32(len(blob))); derr == nil {
				copy(dst, blob)
				h.SetMetadataOffset(uint32(mdOff))
				h.SetMetadataSize(uint32(len(blob)))
			}
		}
	}

	r.RecordLastFrame(shm.LastFrame{
		Width:          uint32(f.Width()),
		Height:         uint32(f.Height()),
		Format:         f.Format().String(),
		TimestampNS:    f.TimestampNS(),
		ID:             f.ID(),
		SequenceNumber: w,
		Metadata:       mdDoc,
	})

	now := uint64(time.Now().UnixNano())
	r.StoreLastWriteTimeNS(now)
	r.AddTotalWritten(1)
	// frame_count is the informational in-buffer depth, not a running
	// total: frames published and not yet consumed by the advisory cursor.
	r.StoreFrameCount(w + 1 - rd)

	// Publication point: everything written to the slot above
	// happens-before this store in the eyes of any reader that
	// acquire-loads write_index.
	r.StoreWriteIndex(w + 1)
	return nil
}
