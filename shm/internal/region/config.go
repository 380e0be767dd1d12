package region

import (
	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

// BackingKind selects the OS mechanism providing the region's byte range.
type BackingKind int

const (
	BackingPosixSHM BackingKind = iota
	BackingSysV
	BackingMemoryMappedFile
	BackingHugePages
)

func (k BackingKind) String() string {
	switch k {
	case BackingPosixSHM:
		return "posix-shm"
	case BackingSysV:
		return "sysv-shm"
	case BackingMemoryMappedFile:
		return "memory-mapped-file"
	case BackingHugePages:
		return "huge-pages"
	default:
		return "unknown"
	}
}

// Role distinguishes the producer (sole writer) from consumers (readers).
type Role int

const (
	RoleProducer Role = iota
	RoleConsumer
)

// Config enumerates every region creation/open parameter.
type Config struct {
	Name               string
	Size               uint64
	Backing            BackingKind
	Role               Role
	MaxFrames          uint32 // advisory; actual value is derived from Size/MaxFrameSize
	MaxFrameSize       uint32 // mandatory upper bound on payload
	LockInRAM          bool
	DropFramesWhenFull bool
	EnableMetadata     bool
	FilePath           string // for BackingMemoryMappedFile
	RealtimeThreads    bool
}

// Validate applies the fail-fast checks every region-creating call site
// must pass before a backing resource is touched.
func (c Config) Validate() error {
	if c.Name == "" {
		return status.New(status.InvalidArgument, "region name must not be empty")
	}
	if c.Role == RoleProducer {
		if c.Size == 0 {
			return status.New(status.InvalidArgument, "region size must be positive")
		}
		if c.MaxFrameSize == 0 {
			return status.New(status.InvalidArgument, "max frame size must be positive")
		}
	}
	return nil
}

// DefaultFilePath returns the conventional path for a file-backed or
// posix-shm-named region.
func DefaultFilePath(name string) string {
	return "/dev/shm/" + name
}
