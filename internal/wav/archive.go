package wav

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Archive zstd-compresses the finished recording at srcPath into
// dstPath (conventionally srcPath+".zst"), matching the archival step in
// original_source/packages/client-v2/src/audio/wav.rs that spec.md's
// distillation dropped.
func Archive(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("wav: open %s for archiving: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("wav: create %s: %w", dstPath, err)
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("wav: new zstd encoder: %w", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return fmt.Errorf("wav: compress %s: %w", srcPath, err)
	}
	return enc.Close()
}

// Unarchive decompresses a zstd-archived recording back to plain WAV bytes.
func Unarchive(srcPath string, w io.Writer) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("wav: open %s: %w", srcPath, err)
	}
	defer src.Close()

	dec, err := zstd.NewReader(src)
	if err != nil {
		return fmt.Errorf("wav: new zstd decoder: %w", err)
	}
	defer dec.Close()

	if _, err := io.Copy(w, dec); err != nil {
		return fmt.Errorf("wav: decompress %s: %w", srcPath, err)
	}
	return nil
}
