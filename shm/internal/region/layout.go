package region

import (
	"sync/atomic"
	"unsafe"
)

// Bit-exact layout offsets. These are not configurable: every
// region, regardless of backing kind, places the control block at offset
// 0, the metadata area at 0x100, and the slot array at 0x1100.
const (
	ControlBlockSize = 0x100
	MetadataOffset   = 0x100
	DefaultMetaSize  = 0x1000
	DataOffset       = MetadataOffset + DefaultMetaSize // 0x1100

	offWriteIndex      = 0x000
	offReadIndex       = 0x008
	offFrameCount      = 0x010
	offTotalWritten    = 0x018
	offTotalRead       = 0x020
	offDropped         = 0x028
	offActive          = 0x030 // low byte of an 8-byte atomic word
	offLastWriteTimeNS = 0x038
	offLastReadTimeNS  = 0x040
	offMetadataOffset  = 0x048
	offMetadataSize    = 0x04C
	offFlags           = 0x050
)

// HeaderSize is the per-slot FrameHeader size: frame_id u64, timestamp_ns
// u64, width/height/bpp/data_size/format_code/flags u32 x6,
// sequence_number u64, metadata_offset/metadata_size u32 x2, and 32
// reserved bytes. Every consumer language must agree on this figure.
const HeaderSize = 8 + 8 + 4*6 + 8 + 4*2 + 8*4 // 88

const (
	hdrFrameID        = 0
	hdrTimestampNS    = 8
	hdrWidth          = 16
	hdrHeight         = 20
	hdrBPP            = 24
	hdrDataSize       = 28
	hdrFormatCode     = 32
	hdrFlags          = 36
	hdrSequenceNumber = 40
	hdrMetadataOffset = 48
	hdrMetadataSize   = 52
	hdrReserved       = 56 // 32 bytes, unused
)

// FlagZeroCopyRepublish is header flag bit 0: the publisher already held a
// Mapped frame into this region. No copy takes place when the source slot is
// the destination slot; otherwise the bytes are moved within the mapping.
const FlagZeroCopyRepublish uint32 = 1 << 0

// AlignUp64 rounds n up to the next multiple of 64, the slot alignment.
func AlignUp64(n uint64) uint64 {
	const a = 64
	return (n + a - 1) &^ (a - 1)
}

// controlBlock is a typed view over the first ControlBlockSize bytes of a
// mapped region. All multi-byte fields are accessed atomically through
// sync/atomic on pointers into the mapping, so consumers in any language
// can pair with plain atomic loads and stores.
type controlBlock struct {
	mem []byte
}

func newControlBlock(mem []byte) *controlBlock {
	return &controlBlock{mem: mem[:ControlBlockSize:ControlBlockSize]}
}

func (c *controlBlock) word(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&c.mem[off]))
}

func (c *controlBlock) dword(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&c.mem[off]))
}

// WriteIndex / ReadIndex are the ring's ordering authority: release-store
// on write, acquire-load on every reader. Go's sync/atomic provides
// sequentially-consistent access, a superset of acquire/release.
func (c *controlBlock) LoadWriteIndex() uint64   { return atomic.LoadUint64(c.word(offWriteIndex)) }
func (c *controlBlock) StoreWriteIndex(v uint64) { atomic.StoreUint64(c.word(offWriteIndex), v) }

func (c *controlBlock) LoadReadIndex() uint64   { return atomic.LoadUint64(c.word(offReadIndex)) }
func (c *controlBlock) StoreReadIndex(v uint64) { atomic.StoreUint64(c.word(offReadIndex), v) }

func (c *controlBlock) LoadFrameCount() uint64   { return atomic.LoadUint64(c.word(offFrameCount)) }
func (c *controlBlock) StoreFrameCount(v uint64) { atomic.StoreUint64(c.word(offFrameCount), v) }

func (c *controlBlock) LoadTotalWritten() uint64 { return atomic.LoadUint64(c.word(offTotalWritten)) }
func (c *controlBlock) AddTotalWritten(delta uint64) uint64 {
	return atomic.AddUint64(c.word(offTotalWritten), delta)
}

func (c *controlBlock) LoadTotalRead() uint64 { return atomic.LoadUint64(c.word(offTotalRead)) }
func (c *controlBlock) AddTotalRead(delta uint64) uint64 {
	return atomic.AddUint64(c.word(offTotalRead), delta)
}

func (c *controlBlock) LoadDropped() uint64 { return atomic.LoadUint64(c.word(offDropped)) }
func (c *controlBlock) AddDropped(delta uint64) uint64 {
	return atomic.AddUint64(c.word(offDropped), delta)
}

// Active occupies the low byte of an 8-byte-aligned word; the remaining
// 7 bytes are padding.
func (c *controlBlock) LoadActive() bool {
	return atomic.LoadUint64(c.word(offActive))&0xFF != 0
}
func (c *controlBlock) StoreActive(v bool) {
	var n uint64
	if v {
		n = 1
	}
	atomic.StoreUint64(c.word(offActive), n)
}

func (c *controlBlock) LoadLastWriteTimeNS() uint64 {
	return atomic.LoadUint64(c.word(offLastWriteTimeNS))
}
func (c *controlBlock) StoreLastWriteTimeNS(v uint64) {
	atomic.StoreUint64(c.word(offLastWriteTimeNS), v)
}

func (c *controlBlock) LoadLastReadTimeNS() uint64 {
	return atomic.LoadUint64(c.word(offLastReadTimeNS))
}
func (c *controlBlock) StoreLastReadTimeNS(v uint64) {
	atomic.StoreUint64(c.word(offLastReadTimeNS), v)
}

func (c *controlBlock) LoadMetadataOffset() uint32 { return atomic.LoadUint32(c.dword(offMetadataOffset)) }
func (c *controlBlock) StoreMetadataOffset(v uint32) {
	atomic.StoreUint32(c.dword(offMetadataOffset), v)
}

func (c *controlBlock) LoadMetadataSize() uint32 { return atomic.LoadUint32(c.dword(offMetadataSize)) }
func (c *controlBlock) StoreMetadataSize(v uint32) {
	atomic.StoreUint32(c.dword(offMetadataSize), v)
}

func (c *controlBlock) LoadFlags() uint32   { return atomic.LoadUint32(c.dword(offFlags)) }
func (c *controlBlock) StoreFlags(v uint32) { atomic.StoreUint32(c.dword(offFlags), v) }

// slotHeader is a typed view over one slot's FrameHeader.
type slotHeader struct {
	mem []byte
}

func newSlotHeader(mem []byte) *slotHeader {
	return &slotHeader{mem: mem[:HeaderSize:HeaderSize]}
}

func (h *slotHeader) word(off int) *uint64  { return (*uint64)(unsafe.Pointer(&h.mem[off])) }
func (h *slotHeader) dword(off int) *uint32 { return (*uint32)(unsafe.Pointer(&h.mem[off])) }

func (h *slotHeader) FrameID() uint64         { return atomic.LoadUint64(h.word(hdrFrameID)) }
func (h *slotHeader) SetFrameID(v uint64)     { atomic.StoreUint64(h.word(hdrFrameID), v) }
func (h *slotHeader) TimestampNS() int64      { return int64(atomic.LoadUint64(h.word(hdrTimestampNS))) }
func (h *slotHeader) SetTimestampNS(v int64)  { atomic.StoreUint64(h.word(hdrTimestampNS), uint64(v)) }
func (h *slotHeader) Width() uint32           { return atomic.LoadUint32(h.dword(hdrWidth)) }
func (h *slotHeader) SetWidth(v uint32)       { atomic.StoreUint32(h.dword(hdrWidth), v) }
func (h *slotHeader) Height() uint32          { return atomic.LoadUint32(h.dword(hdrHeight)) }
func (h *slotHeader) SetHeight(v uint32)      { atomic.StoreUint32(h.dword(hdrHeight), v) }
func (h *slotHeader) BPP() uint32             { return atomic.LoadUint32(h.dword(hdrBPP)) }
func (h *slotHeader) SetBPP(v uint32)         { atomic.StoreUint32(h.dword(hdrBPP), v) }
func (h *slotHeader) DataSize() uint32        { return atomic.LoadUint32(h.dword(hdrDataSize)) }
func (h *slotHeader) SetDataSize(v uint32)    { atomic.StoreUint32(h.dword(hdrDataSize), v) }
func (h *slotHeader) FormatCode() uint32      { return atomic.LoadUint32(h.dword(hdrFormatCode)) }
func (h *slotHeader) SetFormatCode(v uint32)  { atomic.StoreUint32(h.dword(hdrFormatCode), v) }
func (h *slotHeader) Flags() uint32           { return atomic.LoadUint32(h.dword(hdrFlags)) }
func (h *slotHeader) SetFlags(v uint32)       { atomic.StoreUint32(h.dword(hdrFlags), v) }
func (h *slotHeader) SequenceNumber() uint64  { return atomic.LoadUint64(h.word(hdrSequenceNumber)) }
func (h *slotHeader) SetSequenceNumber(v uint64) {
	atomic.StoreUint64(h.word(hdrSequenceNumber), v)
}
func (h *slotHeader) MetadataOffset() uint32 { return atomic.LoadUint32(h.dword(hdrMetadataOffset)) }
func (h *slotHeader) SetMetadataOffset(v uint32) {
	atomic.StoreUint32(h.dword(hdrMetadataOffset), v)
}
func (h *slotHeader) MetadataSize() uint32 { return atomic.LoadUint32(h.dword(hdrMetadataSize)) }
func (h *slotHeader) SetMetadataSize(v uint32) {
	atomic.StoreUint32(h.dword(hdrMetadataSize), v)
}
