// Package filesink implements the write_into_file retention policy
// (spec.md §4.3): every ingested chunk is additionally appended, in
// ingestion order, to an output handle selected by the session's
// output_path URI. The scheme picks the backend: a local path, or
// `s3://`, `azblob://`, `gs://` for the matching object-storage SDK.
package filesink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"tracesvc/internal/smb"
)

// Compression selects an optional codec wrapping the backend writer. It is
// a file-sink-only concern: the live SMB and central buffers never carry
// compressed chunks, only the persisted copy does (spec_full §4.3).
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstdSeekable
	CompressionBrotli
)

var ErrUnsupportedScheme = errors.New("filesink: unsupported output_path scheme")

// Sink is an append-only destination for the framed chunk sequence backing
// one session's write_into_file retention.
type Sink interface {
	// WriteChunk appends one chunk (sanitized header + payload) to the
	// sink, in ingestion order. No reordering or buffering across calls is
	// permitted beyond what the backend itself does for a single append.
	WriteChunk(hdr smb.ServiceSlotHeader, payload []byte) error
	// Close flushes and releases any resources (compressor seek tables,
	// multipart upload completion, client connections).
	Close() error
}

// Open parses outputPath's scheme and returns a Sink for the matching
// backend, optionally wrapped in the requested compression codec.
//
//	file:///var/log/traces/session-1.bin
//	s3://bucket/prefix/session-1.bin
//	azblob://account/container/session-1.bin
//	gs://bucket/prefix/session-1.bin
func Open(ctx context.Context, outputPath string, compress Compression) (Sink, error) {
	u, err := url.Parse(outputPath)
	if err != nil {
		return nil, fmt.Errorf("filesink: parse output_path: %w", err)
	}

	var (
		backend io.WriteCloser
		openErr error
	)
	switch strings.ToLower(u.Scheme) {
	case "", "file":
		backend, openErr = openLocal(u)
	case "s3":
		backend, openErr = openS3(ctx, u)
	case "azblob":
		backend, openErr = openAzBlob(ctx, u)
	case "gs":
		backend, openErr = openGCS(ctx, u)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if openErr != nil {
		return nil, openErr
	}

	w, err := wrapCompression(backend, compress)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &frameSink{w: w, compress: compress}, nil
}

// frameSink writes the framed chunk sequence: a 16-byte sanitized header
// immediately followed by its payload, repeated with no delimiter beyond
// the header's own chunk_id/flags — identical to the live SMB's framing,
// per spec.md §4.3's "same framed chunk-sequence; no reordering".
type frameSink struct {
	w        io.WriteCloser
	compress Compression
}

func (s *frameSink) WriteChunk(hdr smb.ServiceSlotHeader, payload []byte) error {
	if s.compress != CompressionNone {
		hdr.Flags |= smb.FlagCompressed
	}
	buf := make([]byte, smb.ServiceSlotHeaderSize)
	if err := hdr.Encode(buf); err != nil {
		return err
	}
	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("filesink: write chunk header: %w", err)
	}
	if _, err := s.w.Write(payload); err != nil {
		return fmt.Errorf("filesink: write chunk payload: %w", err)
	}
	return nil
}

func (s *frameSink) Close() error {
	return s.w.Close()
}
