package pagefile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternalEntryRoundTrip(t *testing.T) {
	key, value := []byte("hello"), []byte("world")
	buf := AppendInternalEntry(nil, key, value)
	require.Len(t, buf, InternalEntrySize(len(key), len(value)))

	entry, err := DecodeHeapEntry(buf)
	require.NoError(t, err)
	require.False(t, entry.External)
	require.Equal(t, key, entry.Key)
	require.Equal(t, value, entry.Value)
	require.Equal(t, len(buf), entry.Size)
}

func TestExternalEntryRoundTrip(t *testing.T) {
	buf := AppendExternalEntry(nil, 12345, 678)
	require.Len(t, buf, ExternalEntrySize())

	entry, err := DecodeHeapEntry(buf)
	require.NoError(t, err)
	require.True(t, entry.External)
	require.Equal(t, uint64(12345), entry.ExternalOffset)
	require.Equal(t, uint64(678), entry.ExternalLength)
	require.Equal(t, ExternalEntrySize(), entry.Size)
}

func TestDecodeHeapEntryTruncated(t *testing.T) {
	buf := AppendInternalEntry(nil, []byte("k"), []byte("value"))
	_, err := DecodeHeapEntry(buf[:len(buf)-1])
	require.Error(t, err)

	ext := AppendExternalEntry(nil, 1, 2)
	_, err = DecodeHeapEntry(ext[:3])
	require.Error(t, err)
}

func TestEmptyValueAndKey(t *testing.T) {
	buf := AppendInternalEntry(nil, []byte("k"), nil)
	entry, err := DecodeHeapEntry(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("k"), entry.Key)
	require.Empty(t, entry.Value)

	buf = AppendInternalEntry(nil, nil, nil)
	entry, err = DecodeHeapEntry(buf)
	require.NoError(t, err)
	require.Empty(t, entry.Key)
	require.Empty(t, entry.Value)
}
