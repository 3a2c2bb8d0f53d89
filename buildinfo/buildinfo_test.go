package buildinfo_test

import (
	"testing"

	"github.com/rngfile/pagefile/buildinfo"
	"github.com/stretchr/testify/require"
)

func TestMetaEncodeDecode(t *testing.T) {
	require.Equal(t, 255, buildinfo.MaxKeySize)
	require.Equal(t, 255, buildinfo.MaxValueSize)
	require.Equal(t, 255, buildinfo.MaxNumKVs)

	var meta buildinfo.Meta
	require.NoError(t, meta.Add([]byte("kind"), []byte("example")))
	require.NoError(t, meta.Add([]byte("build-id"), []byte("abc-123")))

	got, ok := meta.Get([]byte("kind"))
	require.True(t, ok)
	require.Equal(t, []byte("example"), got)

	_, ok = meta.Get([]byte("missing"))
	require.False(t, ok)

	encoded, err := buildinfo.Encode(meta)
	require.NoError(t, err)

	mustBeEncoded := concatBytes(
		[]byte{2},

		[]byte{4},         // len("kind")
		[]byte("kind"),
		[]byte{7},         // len("example")
		[]byte("example"),

		[]byte{8}, // len("build-id")
		[]byte("build-id"),
		[]byte{7}, // len("abc-123")
		[]byte("abc-123"),
	)
	require.Equal(t, mustBeEncoded, encoded)

	decoded, err := buildinfo.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, meta, decoded)
}

func TestDecodeEmpty(t *testing.T) {
	decoded, err := buildinfo.Decode(nil)
	require.NoError(t, err)
	require.Empty(t, decoded.KeyVals)
}

func concatBytes(bs ...[]byte) []byte {
	var out []byte
	for _, b := range bs {
		out = append(out, b...)
	}
	return out
}
