//go:build linux

package region

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

// mmfBackend is a memory-mapped plain file at cfg.FilePath. Unlike
// posix-shm, file-backed regions are never unlinked on teardown; the file
// persists on disk until removed externally.
type mmfBackend struct {
	fd   int
	data []byte
	size uint64
	path string
}

func newMMFBackend(cfg Config, size uint64) (backend, error) {
	path := cfg.FilePath
	if path == "" {
		path = DefaultFilePath(cfg.Name)
	}

	if cfg.Role == RoleProducer {
		fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o644)
		if err != nil {
			return nil, status.Wrap(status.CreationFailed, err, "creating mapped file "+path)
		}
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return nil, status.Wrap(status.CreationFailed, err, "sizing mapped file "+path)
		}
		data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			unix.Close(fd)
			return nil, status.Wrap(status.NotInitialized, err, "mapping file "+path)
		}
		return &mmfBackend{fd: fd, data: data, size: size, path: path}, nil
	}

	fd, err := unix.Open(path, unix.O_RDWR, 0o644)
	if err != nil {
		return nil, status.Wrap(status.CreationFailed, err, "opening mapped file "+path)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, status.Wrap(status.Internal, err, "stating mapped file "+path)
	}
	actualSize := uint64(stat.Size)
	data, err := unix.Mmap(fd, 0, int(actualSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, status.Wrap(status.NotInitialized, err, "mapping file "+path)
	}
	return &mmfBackend{fd: fd, data: data, size: actualSize, path: path}, nil
}

func (b *mmfBackend) Bytes() []byte { return b.data }
func (b *mmfBackend) Size() uint64  { return b.size }

func (b *mmfBackend) Mlock() error {
	if err := unix.Mlock(b.data); err != nil {
		return fmt.Errorf("mlock %s: %w", b.path, err)
	}
	return nil
}

func (b *mmfBackend) Close() error {
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

// Unlink is a no-op: file-backed mappings persist until removed externally.
func (b *mmfBackend) Unlink() error { return nil }
