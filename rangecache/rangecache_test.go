package rangecache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheServesFromSource(t *testing.T) {
	full := []byte("hello world")
	src := bytes.NewReader(full)
	rc := New(int64(len(full)), "test", src, 1<<20)

	got := make([]byte, 5)
	n, err := rc.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []byte("hello"), got)
}

func TestCacheMergesOverlappingRanges(t *testing.T) {
	full := []byte("hello world")
	src := bytes.NewReader(full)
	rc := New(int64(len(full)), "test", src, 1<<20)

	first := make([]byte, 3)
	_, err := rc.ReadAt(first, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("ell"), first)

	second := make([]byte, 7)
	_, err = rc.ReadAt(second, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("ello wo"), second)
	// [1,4) and [1,8) are coalesced into a single 7-byte segment.
	require.Equal(t, int64(7), rc.OccupiedSpace())
}

func TestCacheEvictsUnderMemoryBudget(t *testing.T) {
	full := bytes.Repeat([]byte("x"), 1024)
	src := bytes.NewReader(full)
	rc := New(int64(len(full)), "test", src, 64)

	buf := make([]byte, 32)
	for off := int64(0); off+32 <= int64(len(full)); off += 32 {
		_, err := rc.ReadAt(buf, off)
		require.NoError(t, err)
	}
	require.LessOrEqual(t, rc.OccupiedSpace(), int64(64))
}

func TestCacheRejectsOutOfBoundsRange(t *testing.T) {
	full := []byte("hello")
	src := bytes.NewReader(full)
	rc := New(int64(len(full)), "test", src, 1<<20)

	_, err := rc.get(0, 10)
	require.Error(t, err)
}
