//go:build linux

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

// MapType tells how a region's backing memory was obtained.
type MapType uint8

const (
	// MapTypeDevShmFile backs the region with a file (usually under /dev/shm)
	// that other processes open by path.
	MapTypeDevShmFile MapType = iota
	// MapTypeMemFd backs the region with an anonymous memfd transferred by fd.
	MapTypeMemFd
)

// Region is a mapped shared memory region.
type Region struct {
	Mem  []byte
	Fd   int
	Path string // empty for memfd regions
	Typ  MapType
}

// CreateRegion creates and maps a new file-backed region at path. The file
// must not already exist; racing creators get a deterministic loser.
func CreateRegion(path string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid region size %d", size)
	}
	_ = os.MkdirAll(filepath.Dir(path), os.ModePerm)
	if !canCreateOnDevShm(uint64(size), path) {
		return nil, fmt.Errorf("%w: path %s, size %d", ErrShmNoSpace, path, size)
	}
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("create region %s: %w", path, err)
	}
	region, err := mapFd(fd, size, true)
	if err != nil {
		_ = unix.Close(fd)
		_ = os.Remove(path)
		return nil, err
	}
	region.Path = path
	region.Typ = MapTypeDevShmFile
	return region, nil
}

// CreateRegionMemfd creates and maps an anonymous region whose fd can be
// passed to a child process.
func CreateRegionMemfd(name string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid region size %d", size)
	}
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("memfd_create %s: %w", name, err)
	}
	region, err := mapFd(fd, size, true)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	region.Typ = MapTypeMemFd
	return region, nil
}

// OpenRegion maps an existing file-backed region.
func OpenRegion(path string) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open region %s: %w", path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("stat region %s: %w", path, err)
	}
	region, err := mapFd(fd, int(st.Size), false)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	region.Path = path
	region.Typ = MapTypeDevShmFile
	return region, nil
}

// OpenRegionFd maps a region from an inherited fd (memfd transfer).
func OpenRegionFd(fd int) (*Region, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("stat region fd %d: %w", fd, err)
	}
	region, err := mapFd(fd, int(st.Size), false)
	if err != nil {
		return nil, err
	}
	region.Typ = MapTypeMemFd
	return region, nil
}

func mapFd(fd, size int, truncate bool) (*Region, error) {
	if truncate {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			return nil, fmt.Errorf("ftruncate to %d: %w", size, err)
		}
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &Region{Mem: mem, Fd: fd}, nil
}

// Unmap releases this context's mapping and fd. The backing file, if any,
// stays in place; see Unlink.
func (r *Region) Unmap() error {
	var firstErr error
	if r.Mem != nil {
		if err := unix.Munmap(r.Mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("munmap: %w", err)
		}
		r.Mem = nil
	}
	if r.Fd > 0 {
		if err := unix.Close(r.Fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close fd: %w", err)
		}
		r.Fd = -1
	}
	return firstErr
}

// Unlink removes the backing file of a path-backed region. Memfd regions
// vanish with their last fd and need no unlink.
func (r *Region) Unlink() error {
	if r.Typ != MapTypeDevShmFile || r.Path == "" {
		return nil
	}
	if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// canCreateOnDevShm checks free space before truncating a file on /dev/shm;
// a too-large ftruncate there succeeds and SIGBUSes on first touch instead.
func canCreateOnDevShm(size uint64, path string) bool {
	if !strings.HasPrefix(path, "/dev/shm") {
		return true
	}
	stat, err := disk.Usage("/dev/shm")
	if err != nil {
		// Can't tell; let the mmap fail on its own terms.
		return true
	}
	return stat.Free >= size
}

// PathExists reports whether path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
