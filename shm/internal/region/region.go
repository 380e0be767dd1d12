//go:build linux

// Package region implements the named, memory-mapped shared region: a
// control block, a JSON metadata area, and a fixed-size slot array at
// bit-exact offsets shared with every consumer language.
package region

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

// Region is a named byte range holding a control block, a metadata area,
// and a slot array. Exactly one producer creates a Region; any number of
// consumers open it read/write (consumers only ever mutate read_index,
// total_read, and last_read_time_ns).
type Region struct {
	cfg     Config
	backing backend
	cb      *controlBlock

	slotSize  uint64
	maxFrames uint64

	mlockFailed bool

	// refs counts outstanding Mapped frames plus the Region's own
	// lifetime reference. The backing mapping is only torn down once it
	// reaches zero, so a Mapped frame surviving Close keeps reading
	// valid memory.
	refs   atomic.Int64
	mu     sync.Mutex
	closed bool
}

// Stats is a snapshot of region-level counters, flattened for the
// acquisition service's string-keyed statistics map.
type Stats struct {
	WriteIndex     uint64
	ReadIndex      uint64
	TotalWritten   uint64
	TotalRead      uint64
	Dropped        uint64
	Active         bool
	MaxFrames      uint64
	SlotSize       uint64
	MlockRequested bool
	MlockFailed    bool
}

// Create initializes a new region as its producer: it acquires or creates
// the backing resource, maps it read/write, zeroes and constructs the
// control block, computes slot sizing from cfg.MaxFrameSize (never from a
// resolution heuristic), and writes the region metadata document.
func Create(cfg Config) (*Region, error) {
	cfg.Role = RoleProducer
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slotSize := AlignUp64(uint64(HeaderSize) + uint64(cfg.MaxFrameSize))
	if cfg.Size <= DataOffset {
		return nil, status.Newf(status.InvalidSize,
			"region size %d must exceed the fixed header area (%d bytes)", cfg.Size, uint64(DataOffset))
	}
	maxFrames := (cfg.Size - DataOffset) / slotSize
	if maxFrames < 1 {
		return nil, status.Newf(status.InvalidSize,
			"region size %d yields zero slots at slot size %d", cfg.Size, slotSize)
	}

	size := cfg.Size
	if cfg.Backing == BackingHugePages {
		size = AlignUpTo(size, hugePageSize())
	}

	b, err := newBackend(cfg, size)
	if err != nil {
		return nil, err
	}

	mem := b.Bytes()
	for i := range mem[:ControlBlockSize] {
		mem[i] = 0
	}

	r := &Region{cfg: cfg, backing: b, slotSize: slotSize, maxFrames: maxFrames}
	r.cb = newControlBlock(mem)
	r.cb.StoreMetadataOffset(MetadataOffset)
	r.cb.StoreMetadataSize(DefaultMetaSize)
	r.refs.Store(1)

	if cfg.LockInRAM {
		if err := b.Mlock(); err != nil {
			r.mlockFailed = true
		}
	}

	if err := r.writeRegionMetadata(); err != nil {
		b.Close()
		if cfg.Backing != BackingMemoryMappedFile {
			b.Unlink()
		}
		return nil, err
	}

	// Publication point: active=true makes the region visible to
	// consumers spinning on it.
	r.cb.StoreActive(true)

	return r, nil
}

// Open attaches to an existing region as a consumer. It polls `active` for
// up to 1s at 10ms granularity before giving up.
func Open(cfg Config) (*Region, error) {
	cfg.Role = RoleConsumer
	if cfg.Name == "" {
		return nil, status.New(status.InvalidArgument, "region name must not be empty")
	}

	b, err := newBackend(cfg, 0)
	if err != nil {
		return nil, err
	}

	mem := b.Bytes()
	cb := newControlBlock(mem)

	deadline := time.Now().Add(1 * time.Second)
	for !cb.LoadActive() {
		if time.Now().After(deadline) {
			b.Close()
			return nil, status.New(status.Internal, "timed out waiting for region to become active")
		}
		time.Sleep(10 * time.Millisecond)
	}

	r := &Region{cfg: cfg, backing: b, cb: cb}
	r.refs.Store(1)

	meta, err := r.readRegionMetadata()
	if err != nil {
		// Metadata is advisory; fall back to the default producer
		// estimate (1080p YUV) when it cannot be parsed.
		slotSize := AlignUp64(uint64(HeaderSize) + 1920*1080*2)
		maxFrames := (b.Size() - DataOffset) / slotSize
		if maxFrames < 1 {
			maxFrames = 1
		}
		r.slotSize = slotSize
		r.maxFrames = maxFrames
	} else {
		r.slotSize = meta.FrameSlotSize
		r.maxFrames = meta.MaxFrames
	}

	return r, nil
}

// MaxFrames returns the number of slots in the ring.
func (r *Region) MaxFrames() uint64 { return r.maxFrames }

// MaxFrameSize returns the payload byte budget per slot. Producers carry it
// in their configuration; consumers derive it from the slot size recovered
// out of the metadata area.
func (r *Region) MaxFrameSize() uint32 {
	if r.cfg.MaxFrameSize != 0 {
		return r.cfg.MaxFrameSize
	}
	return uint32(r.slotSize - HeaderSize)
}

// SlotSize returns the per-slot byte length (header + payload, aligned).
func (r *Region) SlotSize() uint64 { return r.slotSize }

// Name returns the region's configured name.
func (r *Region) Name() string { return r.cfg.Name }

// DropFramesWhenFull reports the producer-side backpressure policy.
func (r *Region) DropFramesWhenFull() bool { return r.cfg.DropFramesWhenFull }

// slotOffset returns the absolute region offset of slot k's header.
func (r *Region) slotOffset(k uint64) uint64 {
	return DataOffset + (k%r.maxFrames)*r.slotSize
}

func (r *Region) slotHeaderAt(k uint64) *slotHeader {
	off := r.slotOffset(k)
	return newSlotHeader(r.backing.Bytes()[off : off+HeaderSize])
}

func (r *Region) slotPayloadOffset(k uint64) uint64 {
	return r.slotOffset(k) + HeaderSize
}

// SlotBytes implements frame.MappedSource: it returns the payload bytes at
// a region-relative offset, bounds-checked against the backing mapping.
func (r *Region) SlotBytes(offset uint64, size uint32) ([]byte, error) {
	mem := r.backing.Bytes()
	end := offset + uint64(size)
	if end > uint64(len(mem)) {
		return nil, status.Newf(status.InvalidArgument,
			"mapped range [%d,%d) exceeds region size %d", offset, end, len(mem))
	}
	return mem[offset:end], nil
}

// Retain pins the backing mapping open; called once per outstanding
// Mapped frame.
func (r *Region) Retain() { r.refs.Add(1) }

// Release unpins a Mapped frame's hold on the region. The mapping is only
// actually torn down once every Mapped frame has released and Close has
// been called.
func (r *Region) Release() {
	if r.refs.Add(-1) == 0 {
		r.teardown()
	}
}

// Close marks the region inactive (producer only has any effect) and
// drops the Region's own lifetime reference. Unlike Release, Close is
// idempotent and intended for the owning goroutine, not per-frame
// bookkeeping.
func (r *Region) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.cfg.Role == RoleProducer {
		r.cb.StoreActive(false)
	}
	r.Release()
	return nil
}

func (r *Region) teardown() error {
	err := r.backing.Close()
	if r.cfg.Role == RoleProducer && r.cfg.Backing != BackingMemoryMappedFile {
		if uerr := r.backing.Unlink(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

// Stats returns a snapshot of the region's counters.
func (r *Region) Stats() Stats {
	return Stats{
		WriteIndex:     r.cb.LoadWriteIndex(),
		ReadIndex:      r.cb.LoadReadIndex(),
		TotalWritten:   r.cb.LoadTotalWritten(),
		TotalRead:      r.cb.LoadTotalRead(),
		Dropped:        r.cb.LoadDropped(),
		Active:         r.cb.LoadActive(),
		MaxFrames:      r.maxFrames,
		SlotSize:       r.slotSize,
		MlockRequested: r.cfg.LockInRAM,
		MlockFailed:    r.mlockFailed,
	}
}
