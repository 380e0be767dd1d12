//go:build linux

package region

import "github.com/EmiPatoR/mivi-imaging-service/internal/status"

// backend is the OS-specific byte range a Region maps its layout onto.
// Implementations live in backend_posix.go, backend_sysv.go,
// backend_mmf.go, and backend_hugepages.go.
type backend interface {
	// Bytes returns the mapped region, exactly Size() bytes long.
	Bytes() []byte
	// Size returns the backend's byte length.
	Size() uint64
	// Mlock attempts to pin the mapping in RAM. Failure is non-fatal;
	// the caller records it in region statistics.
	Mlock() error
	// Close unmaps and releases OS handles.
	Close() error
	// Unlink removes the named resource. For file-backed regions this is
	// a no-op: those files persist on disk until removed externally.
	Unlink() error
}

func newBackend(cfg Config, size uint64) (backend, error) {
	switch cfg.Backing {
	case BackingPosixSHM:
		return newPosixSHMBackend(cfg, size)
	case BackingSysV:
		return newSysVBackend(cfg, size)
	case BackingMemoryMappedFile:
		return newMMFBackend(cfg, size)
	case BackingHugePages:
		return newHugePagesBackend(cfg, size)
	default:
		return nil, unsupportedBacking(cfg.Backing)
	}
}

func unsupportedBacking(k BackingKind) error {
	return status.Newf(status.InvalidArgument, "unsupported backing kind %s", k)
}
