// Copyright 2026 The Veins Session Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression algorithm for an archived artifact.
type Codec uint8

const (
	// CodecNone disables archiving. ArchiveFile becomes a no-op.
	CodecNone Codec = 0

	// CodecLZ4 selects LZ4 frame compression. Fast (~4 GB/s decode)
	// with a modest ratio; the right choice for very large binary
	// result vectors where archive time matters more than size.
	CodecLZ4 Codec = 1

	// CodecZstd selects zstd compression at the default level. Better
	// ratios for text-like content (logs, scalar files, ini output)
	// at acceptable CPU cost. The default.
	CodecZstd Codec = 2
)

// String returns the human-readable name of a codec.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Extension returns the filename extension appended to archived
// artifacts, matching what standard decompression tools expect.
func (c Codec) Extension() string {
	switch c {
	case CodecLZ4:
		return ".lz4"
	case CodecZstd:
		return ".zst"
	default:
		return ""
	}
}

// ParseCodec parses a codec from its configuration name.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown archive codec: %q", name)
	}
}

// Streaming zstd writers are single-use; each archive gets a fresh
// encoder with these fixed options.
var zstdOptions = []zstd.EOption{
	zstd.WithEncoderLevel(zstd.SpeedDefault),
}

// ArchiveFile compresses the file at path into a sibling file with the
// codec's extension and returns the new path. The source file is
// streamed, never loaded whole. The source is left in place; callers
// decide whether the raw form is still needed. CodecNone returns
// ("", nil) without touching the filesystem.
func ArchiveFile(path string, codec Codec) (string, error) {
	if codec == CodecNone {
		return "", nil
	}

	source, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer source.Close()

	archivedPath := path + codec.Extension()
	destination, err := os.OpenFile(archivedPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", archivedPath, err)
	}

	if err := compress(destination, source, codec); err != nil {
		destination.Close()
		os.Remove(archivedPath)
		return "", fmt.Errorf("archiving %s: %w", path, err)
	}
	if err := destination.Close(); err != nil {
		os.Remove(archivedPath)
		return "", fmt.Errorf("closing %s: %w", archivedPath, err)
	}

	return archivedPath, nil
}

// compress streams src through the codec's frame writer into dst.
func compress(dst io.Writer, src io.Reader, codec Codec) error {
	switch codec {
	case CodecLZ4:
		writer := lz4.NewWriter(dst)
		if _, err := io.Copy(writer, src); err != nil {
			writer.Close()
			return fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("lz4 flush: %w", err)
		}
		return nil

	case CodecZstd:
		writer, err := zstd.NewWriter(dst, zstdOptions...)
		if err != nil {
			return fmt.Errorf("zstd encoder: %w", err)
		}
		if _, err := io.Copy(writer, src); err != nil {
			writer.Close()
			return fmt.Errorf("zstd compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("zstd flush: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported archive codec: %d", codec)
	}
}

// OpenArchived opens an archived artifact for reading, selecting the
// codec from the filename extension. The returned ReadCloser yields
// the decompressed stream.
func OpenArchived(path string) (io.ReadCloser, Codec, error) {
	var codec Codec
	switch {
	case strings.HasSuffix(path, CodecZstd.Extension()):
		codec = CodecZstd
	case strings.HasSuffix(path, CodecLZ4.Extension()):
		codec = CodecLZ4
	default:
		return nil, 0, fmt.Errorf("no known archive extension on %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}

	switch codec {
	case CodecZstd:
		reader, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, 0, fmt.Errorf("zstd decoder: %w", err)
		}
		return &archiveReader{Reader: reader.IOReadCloser(), file: file}, codec, nil

	default:
		return &archiveReader{Reader: io.NopCloser(lz4.NewReader(file)), file: file}, codec, nil
	}
}

// archiveReader closes both the decompressor and the underlying file.
type archiveReader struct {
	Reader io.ReadCloser
	file   *os.File
}

func (r *archiveReader) Read(p []byte) (int, error) { return r.Reader.Read(p) }

func (r *archiveReader) Close() error {
	decodeErr := r.Reader.Close()
	fileErr := r.file.Close()
	if decodeErr != nil {
		return decodeErr
	}
	return fileErr
}
