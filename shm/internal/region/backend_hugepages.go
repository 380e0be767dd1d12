//go:build linux

package region

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/EmiPatoR/mivi-imaging-service/internal/status"
)

// defaultHugePageSize is used when /proc/meminfo cannot be read, matching
// the common x86-64 2 MiB huge page size.
const defaultHugePageSize = 2 * 1024 * 1024

// hugePageSize reads the OS-reported huge page size from /proc/meminfo's
// "Hugepagesize:" line.
func hugePageSize() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return defaultHugePageSize
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Hugepagesize:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			break
		}
		return kb * 1024
	}
	return defaultHugePageSize
}

// hugePagesBackend maps a posix-shm-backed region with the huge-TLB flag.
type hugePagesBackend struct {
	posix *posixSHMBackend
}

func newHugePagesBackend(cfg Config, size uint64) (backend, error) {
	pageSize := hugePageSize()
	roundedSize := AlignUpTo(size, pageSize)

	path := posixPath(cfg.Name)

	openFlags := unix.O_RDWR
	if cfg.Role == RoleProducer {
		openFlags |= unix.O_CREAT
	}
	fd, err := unix.Open(path, openFlags, 0o666)
	if err != nil {
		return nil, status.Wrap(status.CreationFailed, err, "opening huge-pages backing "+path)
	}
	if cfg.Role == RoleProducer {
		if err := unix.Ftruncate(fd, int64(roundedSize)); err != nil {
			unix.Close(fd)
			unix.Unlink(path)
			return nil, status.Wrap(status.CreationFailed, err, "sizing huge-pages backing "+path)
		}
	}
	data, err := unix.Mmap(fd, 0, int(roundedSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_HUGETLB)
	if err != nil {
		unix.Close(fd)
		if cfg.Role == RoleProducer {
			unix.Unlink(path)
		}
		return nil, status.Wrap(status.NotInitialized, err, "mapping huge-pages backing "+path)
	}

	return &hugePagesBackend{posix: &posixSHMBackend{fd: fd, data: data, size: roundedSize, path: path}}, nil
}

// AlignUpTo rounds n up to the next multiple of unit.
func AlignUpTo(n, unit uint64) uint64 {
	if unit == 0 {
		return n
	}
	return (n + unit - 1) / unit * unit
}

func (b *hugePagesBackend) Bytes() []byte { return b.posix.Bytes() }
func (b *hugePagesBackend) Size() uint64  { return b.posix.Size() }
func (b *hugePagesBackend) Mlock() error  { return b.posix.Mlock() }
func (b *hugePagesBackend) Close() error  { return b.posix.Close() }
func (b *hugePagesBackend) Unlink() error { return b.posix.Unlink() }
