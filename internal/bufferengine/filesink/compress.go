package filesink

import (
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	seekable "github.com/SaveTheRbtz/zstd-seekable-format-go/pkg"
	"github.com/klauspost/compress/zstd"
)

// seekableFrameSize: each Write call to the seekable writer becomes an
// independently-decodable zstd frame, so an offline reader can jump to a
// mid-file chunk without decompressing from the start.
const seekableFrameSize = 256 << 10

// wrapCompression wraps backend in the requested codec, or returns it
// unwrapped for CompressionNone. The returned io.WriteCloser's Close also
// closes backend.
func wrapCompression(backend io.WriteCloser, compress Compression) (io.WriteCloser, error) {
	switch compress {
	case CompressionNone:
		return backend, nil
	case CompressionZstdSeekable:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("filesink: zstd encoder: %w", err)
		}
		sw, err := seekable.NewWriter(backend, enc)
		if err != nil {
			return nil, fmt.Errorf("filesink: seekable zstd writer: %w", err)
		}
		return &seekableZstdWriter{sw: sw, backend: backend}, nil
	case CompressionBrotli:
		bw := brotli.NewWriter(backend)
		return &brotliWriter{bw: bw, backend: backend}, nil
	default:
		return nil, fmt.Errorf("filesink: unknown compression %d", compress)
	}
}

// seekableZstdWriter frames each Write call as its own zstd frame, splitting
// writes larger than seekableFrameSize into several frames. WriteChunk issues
// two Writes per chunk (header, then payload), so each chunk spans at least
// two frames.
type seekableZstdWriter struct {
	sw      seekable.Writer
	backend io.WriteCloser
}

func (s *seekableZstdWriter) Write(p []byte) (int, error) {
	written := 0
	for off := 0; off < len(p); off += seekableFrameSize {
		end := min(off+seekableFrameSize, len(p))
		n, err := s.sw.Write(p[off:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (s *seekableZstdWriter) Close() error {
	if err := s.sw.Close(); err != nil {
		s.backend.Close()
		return err
	}
	return s.backend.Close()
}

type brotliWriter struct {
	bw      *brotli.Writer
	backend io.WriteCloser
}

func (b *brotliWriter) Write(p []byte) (int, error) { return b.bw.Write(p) }

func (b *brotliWriter) Close() error {
	if err := b.bw.Close(); err != nil {
		b.backend.Close()
		return err
	}
	return b.backend.Close()
}
