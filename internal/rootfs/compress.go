package rootfs

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

const zstSuffix = ".zst"

// CompressBase writes a zstd-compressed copy of a raw base image next to
// it and returns the compressed path. Storage optimization only — Prepare
// works with either artifact.
func CompressBase(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("rootfs: open base image: %w", err)
	}
	defer in.Close()

	outPath := path + zstSuffix
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("rootfs: create %s: %w", outPath, err)
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return "", fmt.Errorf("rootfs: init zstd encoder: %w", err)
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		os.Remove(outPath)
		return "", fmt.Errorf("rootfs: compress %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("rootfs: finish compression: %w", err)
	}
	return outPath, nil
}

// DecompressBase expands a zstd-compressed base image to dstPath.
func DecompressBase(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("rootfs: open %s: %w", srcPath, err)
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("rootfs: init zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("rootfs: create %s: %w", dstPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, dec.IOReadCloser()); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("rootfs: decompress %s: %w", srcPath, err)
	}
	return nil
}
