package shm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	internalshm "github.com/shmchan/shmchan/internal/shm"
)

// ErrBadHandle is returned when a transferred handle cannot be decoded or
// does not match the segment it points at.
var ErrBadHandle = errors.New("malformed segment handle")

// handlePrefix tags the text encoding so foreign strings fail fast.
const handlePrefix = "shmchan1:"

// Handle is the transferable reference to a segment. It carries no memory,
// only what another context needs to map the same region and verify it got
// the segment the sender meant. Handles cross context boundaries as a short
// string that fits anywhere text travels (argv, env, pipe).
type Handle struct {
	Name      string
	TotalSize uint64
	Version   uint32
}

// Handle returns this segment's transferable handle.
func (s *Segment) Handle() Handle {
	return Handle{
		Name:      s.Name,
		TotalSize: s.Header.TotalSize(),
		Version:   s.Header.Version(),
	}
}

// MarshalBinary encodes the handle as magic + version + total size +
// length-prefixed name, little-endian.
func (h Handle) MarshalBinary() ([]byte, error) {
	if err := validateName(h.Name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandle, err)
	}
	buf := make([]byte, 0, 8+4+8+1+len(h.Name))
	magic := internalshm.MagicBytes()
	buf = append(buf, magic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = binary.LittleEndian.AppendUint64(buf, h.TotalSize)
	buf = append(buf, byte(len(h.Name)))
	buf = append(buf, h.Name...)
	return buf, nil
}

// UnmarshalBinary decodes a handle and rejects anything that is not a
// shmchan handle of a known version.
func (h *Handle) UnmarshalBinary(b []byte) error {
	const fixed = 8 + 4 + 8 + 1
	if len(b) < fixed {
		return fmt.Errorf("%w: %d bytes", ErrBadHandle, len(b))
	}
	magic := internalshm.MagicBytes()
	if string(b[:8]) != string(magic[:]) {
		return fmt.Errorf("%w: bad magic", ErrBadHandle)
	}
	version := binary.LittleEndian.Uint32(b[8:12])
	if version != internalshm.SegmentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadHandle, version)
	}
	totalSize := binary.LittleEndian.Uint64(b[12:20])
	nameLen := int(b[20])
	if len(b) != fixed+nameLen || nameLen == 0 {
		return fmt.Errorf("%w: name length %d", ErrBadHandle, nameLen)
	}
	name := string(b[fixed:])
	if err := validateName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHandle, err)
	}
	h.Name = name
	h.TotalSize = totalSize
	h.Version = version
	return nil
}

// Encode returns the text form of the handle for argv/env transfer.
func (h Handle) Encode() (string, error) {
	bin, err := h.MarshalBinary()
	if err != nil {
		return "", err
	}
	return handlePrefix + base64.RawURLEncoding.EncodeToString(bin), nil
}

// DecodeHandle parses a text handle produced by Encode.
func DecodeHandle(s string) (Handle, error) {
	var h Handle
	if !strings.HasPrefix(s, handlePrefix) {
		return h, fmt.Errorf("%w: missing prefix", ErrBadHandle)
	}
	bin, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, handlePrefix))
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrBadHandle, err)
	}
	if err := h.UnmarshalBinary(bin); err != nil {
		return h, err
	}
	return h, nil
}

// Attach maps the segment a handle refers to. The mapped header is validated
// and cross-checked against the handle, so a stale or foreign handle fails
// instead of producing a torn view.
func Attach(h Handle) (*Segment, error) {
	if err := validateName(h.Name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandle, err)
	}
	seg, err := openPath(h.Name, SegmentPath(h.Name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandle, err)
	}
	if seg.Header.TotalSize() != h.TotalSize {
		_ = seg.Close()
		return nil, fmt.Errorf("%w: size mismatch", ErrBadHandle)
	}
	return seg, nil
}
