//go:build !linux

package shm

import "os"

// MapType tells how a region's backing memory was obtained.
type MapType uint8

const (
	MapTypeDevShmFile MapType = iota
	MapTypeMemFd
)

// Region is a mapped shared memory region.
type Region struct {
	Mem  []byte
	Fd   int
	Path string
	Typ  MapType
}

func CreateRegion(path string, size int) (*Region, error)      { return nil, ErrUnsupported }
func CreateRegionMemfd(name string, size int) (*Region, error) { return nil, ErrUnsupported }
func OpenRegion(path string) (*Region, error)                  { return nil, ErrUnsupported }
func OpenRegionFd(fd int) (*Region, error)                     { return nil, ErrUnsupported }

func (r *Region) Unmap() error  { return ErrUnsupported }
func (r *Region) Unlink() error { return ErrUnsupported }

// PathExists reports whether path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
