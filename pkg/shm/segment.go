package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	internalshm "github.com/shmchan/shmchan/internal/shm"
	"github.com/shmchan/shmchan/internal/logger"
)

// ErrSegmentExists is returned by Create when the named segment is already
// on disk.
var ErrSegmentExists = errors.New("segment already exists")

// Segment is one mapped shared memory segment holding a single ring.
type Segment struct {
	Name   string
	Region *internalshm.Region
	Header *internalshm.SegmentHeader
	Ring   *internalshm.RingHeader
	Data   []byte // the ring data area inside the mapping
}

// validateName rejects segment names that could escape the shmchan_
// namespace once joined into a path. Only [A-Za-z0-9._-] bytes are allowed.
func validateName(name string) error {
	if name == "" {
		return errors.New("empty segment name")
	}
	if len(name) > 255 {
		return fmt.Errorf("segment name too long: %d bytes", len(name))
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
		default:
			return fmt.Errorf("segment name %q: invalid byte %q", name, c)
		}
	}
	return nil
}

// Create allocates, maps and initializes a new segment with the given ring
// capacity. Capacity must be a power of two >= MinRingCapacity; callers round
// up first. The creating context holds the first reference.
func Create(name string, capacity uint64) (*Segment, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	totalSize, ringOff, err := internalshm.CalculateLayout(capacity)
	if err != nil {
		return nil, err
	}

	path := SegmentPath(name)
	if internalshm.PathExists(path) {
		return nil, fmt.Errorf("%w: %s", ErrSegmentExists, path)
	}

	region, err := internalshm.CreateRegion(path, int(totalSize))
	if err != nil {
		return nil, fmt.Errorf("allocate segment %q: %w", name, err)
	}

	seg := &Segment{
		Name:   name,
		Region: region,
		Header: internalshm.HeaderAt(region.Mem),
		Ring:   internalshm.RingAt(region.Mem, ringOff),
		Data:   internalshm.RingData(region.Mem, ringOff, capacity),
	}

	h := seg.Header
	h.SetMagic(internalshm.MagicBytes())
	h.SetVersion(internalshm.SegmentVersion)
	h.SetTotalSize(totalSize)
	h.SetRingOffset(ringOff)
	h.SetRingCapacity(capacity)
	h.SetOwnerPID(uint32(os.Getpid()))
	h.IncAttachRefs()

	seg.Ring.SetCapacity(capacity)
	seg.Ring.SetWriteIndex(0)
	seg.Ring.SetReadIndex(0)
	seg.Ring.SetClosed(false)

	// Publish last: attachers refuse segments without this flag.
	h.SetOwnerReady(true)

	logger.Internal.Infof("created segment %s, capacity %d, total %d", path, capacity, totalSize)
	return seg, nil
}

// Open maps an existing segment by name and registers this context as an
// attacher. The header is validated before any ring access.
func Open(name string) (*Segment, error) {
	return openPath(name, SegmentPath(name))
}

func openPath(name, path string) (*Segment, error) {
	region, err := internalshm.OpenRegion(path)
	if err != nil {
		return nil, err
	}
	seg, err := fromRegion(name, region)
	if err != nil {
		_ = region.Unmap()
		return nil, err
	}
	return seg, nil
}

func fromRegion(name string, region *internalshm.Region) (*Segment, error) {
	if len(region.Mem) < internalshm.SegmentHeaderSize {
		return nil, fmt.Errorf("segment too small: %d bytes", len(region.Mem))
	}
	h := internalshm.HeaderAt(region.Mem)
	if err := internalshm.ValidateHeader(h); err != nil {
		return nil, fmt.Errorf("invalid segment header: %w", err)
	}
	if h.TotalSize() != uint64(len(region.Mem)) {
		return nil, fmt.Errorf("mapping size %d does not match header total %d", len(region.Mem), h.TotalSize())
	}

	ringOff := h.RingOffset()
	capacity := h.RingCapacity()
	seg := &Segment{
		Name:   name,
		Region: region,
		Header: h,
		Ring:   internalshm.RingAt(region.Mem, ringOff),
		Data:   internalshm.RingData(region.Mem, ringOff, capacity),
	}
	h.SetAttachPID(uint32(os.Getpid()))
	h.IncAttachRefs()
	return seg, nil
}

// Close drops this context's mapping. The last context to close unlinks the
// backing file so the region is fully released once every handle is gone.
func (s *Segment) Close() error {
	if s.Region == nil {
		return nil
	}
	remaining := s.Header.DecAttachRefs()
	region := s.Region
	s.Region = nil
	s.Header = nil
	s.Ring = nil
	s.Data = nil

	if remaining == 0 {
		if err := region.Unlink(); err != nil {
			logger.Internal.Warnf("segment %s unlink failed: %v", s.Name, err)
		} else {
			logger.Internal.Infof("segment %s released", s.Name)
		}
	}
	return region.Unmap()
}

// Capacity returns the ring data capacity in bytes.
func (s *Segment) Capacity() uint64 {
	return s.Header.RingCapacity()
}

// SegmentPath returns the backing file path for a named segment, preferring
// /dev/shm when present.
func SegmentPath(name string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", "shmchan_"+name)
	}
	return filepath.Join(os.TempDir(), "shmchan_"+name)
}

// Exists reports whether a named segment is on disk.
func Exists(name string) bool {
	return internalshm.PathExists(SegmentPath(name))
}

// Remove force-unlinks a named segment. Intended for cleanup after crashes;
// live mappings stay valid until unmapped.
func Remove(name string) error {
	err := os.Remove(SegmentPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
