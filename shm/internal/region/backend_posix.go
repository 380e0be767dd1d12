//go:build linux

package region

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

// posixSHMBackend maps a POSIX shared-memory object. Go has no direct
// shm_open binding, but on Linux shm_open(3) is itself implemented as an
// open() against the tmpfs mounted at /dev/shm, so unix.Open against that
// path takes the same underlying syscall path shm_open would.
type posixSHMBackend struct {
	fd   int
	data []byte
	size uint64
	path string
}

func posixPath(name string) string {
	return DefaultFilePath(strings.TrimPrefix(name, "/"))
}

func newPosixSHMBackend(cfg Config, size uint64) (backend, error) {
	path := posixPath(cfg.Name)

	if cfg.Role == RoleProducer {
		fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o666)
		if err != nil {
			return nil, status.Wrap(status.CreationFailed, err, "creating posix shared memory "+path)
		}
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			unix.Unlink(path)
			return nil, status.Wrap(status.CreationFailed, err, "sizing posix shared memory "+path)
		}
		data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			unix.Close(fd)
			unix.Unlink(path)
			return nil, status.Wrap(status.NotInitialized, err, "mapping posix shared memory "+path)
		}
		return &posixSHMBackend{fd: fd, data: data, size: size, path: path}, nil
	}

	fd, err := unix.Open(path, unix.O_RDWR, 0o666)
	if err != nil {
		return nil, status.Wrap(status.CreationFailed, err, "opening posix shared memory "+path)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, status.Wrap(status.Internal, err, "stating posix shared memory "+path)
	}
	actualSize := uint64(stat.Size)
	data, err := unix.Mmap(fd, 0, int(actualSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, status.Wrap(status.NotInitialized, err, "mapping posix shared memory "+path)
	}
	return &posixSHMBackend{fd: fd, data: data, size: actualSize, path: path}, nil
}

func (b *posixSHMBackend) Bytes() []byte { return b.data }
func (b *posixSHMBackend) Size() uint64  { return b.size }

func (b *posixSHMBackend) Mlock() error {
	if err := unix.Mlock(b.data); err != nil {
		return fmt.Errorf("mlock %s: %w", b.path, err)
	}
	return nil
}

func (b *posixSHMBackend) Close() error {
	var firstErr error
	if b.data != nil {
		if err := unix.Munmap(b.data); err != nil {
			firstErr = err
		}
		b.data = nil
	}
	if b.fd >= 0 {
		if err := unix.Close(b.fd); err != nil && firstErr == nil {
			firstErr = err
		}
		b.fd = -1
	}
	return firstErr
}

func (b *posixSHMBackend) Unlink() error {
	return unix.Unlink(b.path)
}
