//go:build linux

package region

import (
	"hash/fnv"

	"golang.org/x/sys/unix"

	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

// sysvBackend wraps a System V shared memory segment, keyed by hashing
// the configured path. golang.org/x/sys/unix ships SysvShmGet/Attach/
// Detach but no Ftok binding, so an FNV-1a hash of the path stands in
// for ftok-style keying.
type sysvBackend struct {
	id   int
	data []byte
	size uint64
}

func sysvKey(path string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	// Keep the key in the positive int32 range; System V keys are signed.
	return int(h.Sum32() & 0x7FFFFFFF)
}

func newSysVBackend(cfg Config, size uint64) (backend, error) {
	path := cfg.FilePath
	if path == "" {
		path = DefaultFilePath(cfg.Name)
	}
	key := sysvKey(path)

	flags := 0o666
	if cfg.Role == RoleProducer {
		flags |= unix.IPC_CREAT
	}

	id, err := unix.SysvShmGet(key, int(size), flags)
	if err != nil {
		return nil, status.Wrap(status.CreationFailed, err, "sysv shmget")
	}

	data, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, status.Wrap(status.NotInitialized, err, "sysv shmat")
	}

	return &sysvBackend{id: id, data: data, size: uint64(len(data))}, nil
}

func (b *sysvBackend) Bytes() []byte { return b.data }
func (b *sysvBackend) Size() uint64  { return b.size }

func (b *sysvBackend) Mlock() error {
	return unix.Mlock(b.data)
}

func (b *sysvBackend) Close() error {
	if b.data == nil {
		return nil
	}
	err := unix.SysvShmDetach(b.data)
	b.data = nil
	return err
}

// Unlink marks the segment for destruction once the last process detaches.
func (b *sysvBackend) Unlink() error {
	var desc unix.SysvShmDesc
	_, err := unix.SysvShmCtl(b.id, unix.IPC_RMID, &desc)
	return err
}
