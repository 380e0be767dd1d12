package region

// This file exposes the control block and slot header primitives the ring
// package needs to implement the publish/consume protocol, without making
// the control block's own type public. ring lives in a sibling internal
// package and only ever touches a Region through these methods.

// LoadWriteIndex / StoreWriteIndex expose the ring's sole ordering
// authority. Only the producer calls StoreWriteIndex.
func (r *Region) LoadWriteIndex() uint64   { return r.cb.LoadWriteIndex() }
func (r *Region) StoreWriteIndex(v uint64) { r.cb.StoreWriteIndex(v) }

// LoadReadIndex / StoreReadIndex are advisory: only consumers update them,
// and only to publish their own cursor. The producer reads the value in its
// full-ring (backpressure) check.
func (r *Region) LoadReadIndex() uint64   { return r.cb.LoadReadIndex() }
func (r *Region) StoreReadIndex(v uint64) { r.cb.StoreReadIndex(v) }

func (r *Region) LoadFrameCount() uint64   { return r.cb.LoadFrameCount() }
func (r *Region) StoreFrameCount(v uint64) { r.cb.StoreFrameCount(v) }

func (r *Region) AddTotalWritten(delta uint64) uint64 { return r.cb.AddTotalWritten(delta) }
func (r *Region) AddTotalRead(delta uint64) uint64    { return r.cb.AddTotalRead(delta) }
func (r *Region) AddDropped(delta uint64) uint64      { return r.cb.AddDropped(delta) }

func (r *Region) LoadLastWriteTimeNS() uint64   { return r.cb.LoadLastWriteTimeNS() }
func (r *Region) StoreLastWriteTimeNS(v uint64) { r.cb.StoreLastWriteTimeNS(v) }
func (r *Region) LoadLastReadTimeNS() uint64    { return r.cb.LoadLastReadTimeNS() }
func (r *Region) StoreLastReadTimeNS(v uint64)  { r.cb.StoreLastReadTimeNS(v) }

// SlotHeaderAt returns the typed header view for slot k (k is taken modulo
// MaxFrames by the caller's addressing scheme already, but this also
// accepts a raw index and wraps it).
type SlotHeader = slotHeader

func (r *Region) SlotHeaderAt(k uint64) *SlotHeader { return r.slotHeaderAt(k) }

// SlotPayloadOffset returns the absolute region offset of slot k's
// payload, suitable for constructing a Mapped frame through SlotBytes.
func (r *Region) SlotPayloadOffset(k uint64) uint64 { return r.slotPayloadOffset(k) }

// RecordLastFrame mirrors the most recently published frame's shape into
// the metadata area's last_frame object, when enabled.
func (r *Region) RecordLastFrame(lf LastFrame) {
	r.recordLastFrame(lf)
}
