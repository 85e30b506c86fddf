//go:build linux

package shm

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalshm "github.com/shmchan/shmchan/internal/shm"
)

func testSegmentName(t *testing.T) string {
	t.Helper()
	name := fmt.Sprintf("test_%d_%d", os.Getpid(), time.Now().UnixNano())
	t.Cleanup(func() { _ = Remove(name) })
	return name
}

func TestCreateOpenClose(t *testing.T) {
	name := testSegmentName(t)

	seg, err := Create(name, 4096)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), seg.Capacity())
	assert.Equal(t, 4096, len(seg.Data))
	assert.Equal(t, uint32(1), seg.Header.AttachRefs())
	assert.True(t, Exists(name))

	other, err := Open(name)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), other.Header.AttachRefs())

	// Ring state is shared across mappings.
	seg.Ring.SetWriteIndex(33)
	assert.Equal(t, uint64(33), other.Ring.WriteIndex())
	seg.Data[0] = 0xEE
	assert.Equal(t, byte(0xEE), other.Data[0])

	require.NoError(t, other.Close())
	assert.True(t, Exists(name))

	// Last close unlinks the backing file.
	require.NoError(t, seg.Close())
	assert.False(t, Exists(name))
}

func TestCreateRejectsBadCapacity(t *testing.T) {
	_, err := Create("never", 100) // not a power of two
	assert.Error(t, err)
	_, err = Create("never", internalshm.MinRingCapacity/2)
	assert.Error(t, err)
}

func TestCreateRejectsBadName(t *testing.T) {
	for _, name := range []string{"", "../../etc/evil", "a/b", "sp ace"} {
		_, err := Create(name, 1024)
		assert.Error(t, err, name)
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	name := testSegmentName(t)

	seg, err := Create(name, 1024)
	require.NoError(t, err)
	defer func() { _ = seg.Close() }()

	_, err = Create(name, 1024)
	assert.ErrorIs(t, err, ErrSegmentExists)
}

func TestOpenRejectsGarbage(t *testing.T) {
	name := testSegmentName(t)

	// A file of the right name but wrong content must be refused.
	f, err := os.Create(SegmentPath(name))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(8192))
	require.NoError(t, f.Close())

	_, err = Open(name)
	assert.Error(t, err)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open("no_such_segment")
	assert.Error(t, err)
}

func TestAttachFromEncodedHandle(t *testing.T) {
	name := testSegmentName(t)

	seg, err := Create(name, 1024)
	require.NoError(t, err)
	defer func() { _ = seg.Close() }()

	text, err := seg.Handle().Encode()
	require.NoError(t, err)

	h, err := DecodeHandle(text)
	require.NoError(t, err)

	attached, err := Attach(h)
	require.NoError(t, err)
	defer func() { _ = attached.Close() }()

	seg.Data[7] = 0x55
	assert.Equal(t, byte(0x55), attached.Data[7])

	// A handle lying about the size is refused.
	h.TotalSize += 64
	_, err = Attach(h)
	assert.ErrorIs(t, err, ErrBadHandle)

	// A handle to a segment that is gone is refused.
	_, err = Attach(Handle{Name: "vanished", TotalSize: 4288, Version: 1})
	assert.ErrorIs(t, err, ErrBadHandle)
}
