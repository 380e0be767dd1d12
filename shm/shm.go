// Package shm exposes the named, memory-mapped shared region that backs
// the frame ring: a producer creates it, any number of consumers open it.
//
// The implementation lives in internal/region; this package is a thin,
// stable re-export.
package shm

import "github.com/EmiPatoR/mivi-imaging-service/shm/internal/region"

// BackingKind selects the OS mechanism providing the region's byte range.
type BackingKind = region.BackingKind

const (
	BackingPosixSHM         = region.BackingPosixSHM
	BackingSysV             = region.BackingSysV
	BackingMemoryMappedFile = region.BackingMemoryMappedFile
	BackingHugePages        = region.BackingHugePages
)

// Role distinguishes the producer (sole writer) from consumers (readers).
type Role = region.Role

const (
	RoleProducer = region.RoleProducer
	RoleConsumer = region.RoleConsumer
)

// Config enumerates every region creation/open parameter.
type Config = region.Config

// Stats is a snapshot of region-level counters.
type Stats = region.Stats

// Region is a named byte range holding a control block, a metadata area,
// and a fixed-size slot array.
type Region = region.Region

// SlotHeader is the typed view over one slot's FrameHeader.
type SlotHeader = region.SlotHeader

// LastFrame describes the most recently published frame for the metadata
// area's last_frame object.
type LastFrame = region.LastFrame

// Layout constants shared with the ring protocol and its tests.
const (
	HeaderSize = region.HeaderSize
	DataOffset = region.DataOffset

	// FlagZeroCopyRepublish is header flag bit 0: the payload was already
	// resident in this region when published. No copy takes place when the
	// source slot is the destination slot; otherwise the bytes are moved
	// within the mapping.
	FlagZeroCopyRepublish = region.FlagZeroCopyRepublish
)

// AlignUp64 rounds n up to the next multiple of 64, the slot alignment.
func AlignUp64(n uint64) uint64 { return region.AlignUp64(n) }

// DefaultFilePath returns the conventional path for a file-backed or
// posix-shm-named region.
func DefaultFilePath(name string) string { return region.DefaultFilePath(name) }

// Create initializes a new region as its producer.
func Create(cfg Config) (*Region, error) { return region.Create(cfg) }

// Open attaches to an existing region as a consumer, waiting up to 1s for
// the producer to publish it.
func Open(cfg Config) (*Region, error) { return region.Open(cfg) }
