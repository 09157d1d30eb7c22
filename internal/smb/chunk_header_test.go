package smb

import (
	"bytes"
	"testing"
)

func TestChunkHeaderRoundTrip(t *testing.T) {
	cases := []ChunkHeader{
		{WriterID: 1, ChunkID: 0, PacketCount: 0, Flags: 0, TargetBuffer: 0},
		{WriterID: 0xFFFF, ChunkID: 0xFFFFFFFF, PacketCount: 0xFFFF, Flags: FlagContinuesPrev | FlagContinuesNext, TargetBuffer: 7},
		{WriterID: 42, ChunkID: 1000, PacketCount: 3, Flags: FlagCompressed, TargetBuffer: 2},
	}
	for _, want := range cases {
		buf := make([]byte, ChunkHeaderSize)
		if err := want.Encode(buf); err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := DecodeChunkHeader(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: want %+v got %+v", want, got)
		}
	}
}

func TestChunkHeaderEncodeZeroesReserved(t *testing.T) {
	buf := make([]byte, ChunkHeaderSize)
	for i := range buf {
		buf[i] = 0xAA
	}
	h := ChunkHeader{WriterID: 1, ChunkID: 1, TargetBuffer: 1}
	if err := h.Encode(buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[11:ChunkHeaderSize], make([]byte, ChunkHeaderSize-11)) {
		t.Fatalf("reserved bytes not zeroed: %x", buf[11:])
	}
}

func TestChunkHeaderTooShort(t *testing.T) {
	if err := (ChunkHeader{}).Encode(make([]byte, 4)); err != ErrHeaderTooShort {
		t.Fatalf("expected ErrHeaderTooShort, got %v", err)
	}
	if _, err := DecodeChunkHeader(make([]byte, 4)); err != ErrHeaderTooShort {
		t.Fatalf("expected ErrHeaderTooShort, got %v", err)
	}
}

func TestServiceSlotHeaderRoundTrip(t *testing.T) {
	h := ServiceSlotHeader{
		ChunkHeader: ChunkHeader{WriterID: 9, ChunkID: 100, PacketCount: 1, Flags: FlagContinuesNext, TargetBuffer: 3},
		ProducerID:  0xDEADBEEF,
	}
	buf := make([]byte, ServiceSlotHeaderSize)
	if err := h.Encode(buf); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeServiceSlotHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: want %+v got %+v", h, got)
	}
}
