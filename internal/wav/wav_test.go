package wav

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterProducesValidHeaderAndData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")

	w, err := Create(path, 48000, 1)
	require.NoError(t, err)
	require.NoError(t, w.WritePCM([]int16{1, 2, 3, 4}))
	require.NoError(t, w.WritePCM([]int16{5, 6}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	hdr, err := ReadHeader(f)
	require.NoError(t, err)
	require.Equal(t, uint32(48000), hdr.SampleRate)
	require.Equal(t, uint16(1), hdr.Channels)
	require.Equal(t, uint32(12), hdr.DataSize) // 6 samples * 2 bytes
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "rec.wav")
	zstPath := filepath.Join(dir, "rec.wav.zst")

	w, err := Create(wavPath, 16000, 1)
	require.NoError(t, err)
	require.NoError(t, w.WritePCM([]int16{100, -100, 200, -200}))
	require.NoError(t, w.Close())

	original, err := os.ReadFile(wavPath)
	require.NoError(t, err)

	require.NoError(t, Archive(wavPath, zstPath))

	var out bytes.Buffer
	require.NoError(t, Unarchive(zstPath, &out))
	require.Equal(t, original, out.Bytes())
}
