package mjr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeRaw(t *testing.T, path string, records ...[]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, r := range records {
		_, err := f.Write(r)
		require.NoError(t, err)
	}
}

func rec(tag [tagSize]byte, payload []byte) []byte {
	return append(encodeRecordHeader(tag, uint16(len(payload))), payload...)
}

func TestReaderLegacyHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.mjr")
	writeRaw(t, path,
		rec(legacyTag, []byte("v1.0\x00")),
		rec(legacyTag, []byte("123456789012")),
	)

	r, err := Open(path, nil)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, KindVideo, r.Kind)
	require.Equal(t, "vp8", r.Codec)

	got, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("123456789012"), got.Payload)
}

func TestReaderSkipsSideData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "side.mjr")
	header, err := InfoHeader{Type: KindAudio, Codec: "opus"}.marshal()
	require.NoError(t, err)

	otherCurrentTag := [tagSize]byte{'M', 'J', 'X', '0', '0', '0', '0', '1'}

	writeRaw(t, path,
		rec(currentTag, header),
		rec(currentTag, []byte("123456789012")), // real frame
		rec(otherCurrentTag, []byte("ignoredignored")), // side-data, same family different tag
		rec(currentTag, []byte("1234")), // too short to be RTP
		rec(currentTag, []byte("abcdefghijkl")), // real frame
	)

	r, err := Open(path, nil)
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("123456789012"), first.Payload)

	second, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("abcdefghijkl"), second.Payload)

	_, err = r.Next()
	require.Error(t, err)
}

func TestReaderInvalidHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mjr")
	writeRaw(t, path, rec([tagSize]byte{'X', 'X', 'X', 'X', 'X', 'X', 'X', 'X'}, []byte("hi")))

	_, err := Open(path, nil)
	require.ErrorIs(t, err, ErrInvalidHeader)
}

func TestReaderMissingCodecField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.mjr")
	writeRaw(t, path, rec(currentTag, []byte(`{"t":"a"}`)))

	_, err := Open(path, nil)
	require.ErrorIs(t, err, ErrMissingField)
}

func TestReaderEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mjr")
	writeRaw(t, path)

	_, err := Open(path, nil)
	require.ErrorIs(t, err, ErrInvalidHeader)
}

func TestReaderRecordOffsets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.mjr")
	header, err := InfoHeader{Type: KindVideo, Codec: "vp8"}.marshal()
	require.NoError(t, err)

	first := []byte("123456789012")
	second := []byte("abcdefghijkl")

	headerRecord := rec(currentTag, header)
	firstRecord := rec(currentTag, first)

	writeRaw(t, path, headerRecord, firstRecord, rec(currentTag, second))

	r, err := Open(path, nil)
	require.NoError(t, err)
	defer r.Close()

	got1, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, int64(len(headerRecord)+headerSize), got1.Offset)

	got2, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, int64(len(headerRecord)+len(firstRecord)+headerSize), got2.Offset)
}
