package filesink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tracesvc/internal/smb"
)

func TestLocalSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session-1.bin")

	sink, err := Open(context.Background(), "file://"+path, CompressionNone)
	if err != nil {
		t.Fatal(err)
	}

	hdr := smb.ServiceSlotHeader{
		ChunkHeader: smb.ChunkHeader{WriterID: 3, ChunkID: 7, PacketCount: 1, TargetBuffer: 1},
		ProducerID:  42,
	}
	payload := []byte("hello from a test producer")
	if err := sink.WriteChunk(hdr, payload); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != smb.ServiceSlotHeaderSize+len(payload) {
		t.Fatalf("unexpected file size: got %d want %d", len(data), smb.ServiceSlotHeaderSize+len(payload))
	}
	gotHdr, err := smb.DecodeServiceSlotHeader(data[:smb.ServiceSlotHeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if gotHdr != hdr {
		t.Fatalf("header mismatch: want %+v got %+v", hdr, gotHdr)
	}
	if string(data[smb.ServiceSlotHeaderSize:]) != string(payload) {
		t.Fatalf("payload mismatch: %q", data[smb.ServiceSlotHeaderSize:])
	}
}

func TestUnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "ftp://example.com/x", CompressionNone)
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
}
