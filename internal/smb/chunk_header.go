package smb

import (
	"encoding/binary"
	"errors"
)

// ChunkHeaderSize is the fixed size in bytes of a chunk header, per spec.
const ChunkHeaderSize = 16

// Flag bits within ChunkHeader.Flags.
const (
	// FlagContinuesPrev marks a chunk whose first fragment continues from
	// the previous chunk in the same writer sequence.
	FlagContinuesPrev uint8 = 1 << 0
	// FlagContinuesNext marks a chunk whose last fragment continues into
	// the next chunk in the same writer sequence.
	FlagContinuesNext uint8 = 1 << 1
	// FlagCompressed marks a chunk payload as encrypted/compressed. Reserved
	// (must be 0) on the live SMB; only meaningful once a chunk has been
	// copied into a compressed write-into-file sink (see bufferengine/filesink).
	FlagCompressed uint8 = 1 << 2
)

var (
	ErrHeaderTooShort  = errors.New("smb: buffer too short for chunk header")
	ErrZeroWriterID    = errors.New("smb: writer_id must be non-zero")
	ErrReservedNonZero = errors.New("smb: reserved header bytes must be zero")
)

// ChunkHeader is the 16-byte header every chunk begins with.
//
//	writer_id      u16
//	chunk_id       u32
//	packet_count   u16
//	flags          u8
//	target_buffer  u16
//	reserved       5 bytes, zeroed
type ChunkHeader struct {
	WriterID     uint16
	ChunkID      uint32
	PacketCount  uint16
	Flags        uint8
	TargetBuffer uint16
}

// ContinuesPrev reports whether this chunk's first fragment continues a
// record begun in a previous chunk.
func (h ChunkHeader) ContinuesPrev() bool { return h.Flags&FlagContinuesPrev != 0 }

// ContinuesNext reports whether this chunk's last fragment continues into
// the next chunk.
func (h ChunkHeader) ContinuesNext() bool { return h.Flags&FlagContinuesNext != 0 }

// Encode writes the header into buf[0:16]. buf must be at least
// ChunkHeaderSize bytes; the remaining reserved bytes are zeroed.
func (h ChunkHeader) Encode(buf []byte) error {
	if len(buf) < ChunkHeaderSize {
		return ErrHeaderTooShort
	}
	binary.LittleEndian.PutUint16(buf[0:2], h.WriterID)
	binary.LittleEndian.PutUint32(buf[2:6], h.ChunkID)
	binary.LittleEndian.PutUint16(buf[6:8], h.PacketCount)
	buf[8] = h.Flags
	binary.LittleEndian.PutUint16(buf[9:11], h.TargetBuffer)
	clear(buf[11:ChunkHeaderSize])
	return nil
}

// DecodeChunkHeader parses a 16-byte chunk header from buf.
func DecodeChunkHeader(buf []byte) (ChunkHeader, error) {
	if len(buf) < ChunkHeaderSize {
		return ChunkHeader{}, ErrHeaderTooShort
	}
	h := ChunkHeader{
		WriterID:     binary.LittleEndian.Uint16(buf[0:2]),
		ChunkID:      binary.LittleEndian.Uint32(buf[2:6]),
		PacketCount:  binary.LittleEndian.Uint16(buf[6:8]),
		Flags:        buf[8],
		TargetBuffer: binary.LittleEndian.Uint16(buf[9:11]),
	}
	return h, nil
}

// ServiceSlotHeader is the header stored at the start of a central-buffer
// slot: the sanitized chunk header with producer_id appended, overwriting
// what were reserved bytes on the wire (spec.md §4.3 step 3).
type ServiceSlotHeader struct {
	ChunkHeader
	ProducerID uint32
}

// ServiceSlotHeaderSize is still 16 bytes: producer_id (4 bytes) replaces
// 4 of the 5 reserved bytes.
const ServiceSlotHeaderSize = ChunkHeaderSize

// Encode writes the sanitized slot header (chunk header + producer_id).
func (h ServiceSlotHeader) Encode(buf []byte) error {
	if len(buf) < ServiceSlotHeaderSize {
		return ErrHeaderTooShort
	}
	if err := h.ChunkHeader.Encode(buf); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[11:15], h.ProducerID)
	return nil
}

// DecodeServiceSlotHeader parses a slot header previously written by Encode.
func DecodeServiceSlotHeader(buf []byte) (ServiceSlotHeader, error) {
	ch, err := DecodeChunkHeader(buf)
	if err != nil {
		return ServiceSlotHeader{}, err
	}
	return ServiceSlotHeader{
		ChunkHeader: ch,
		ProducerID:  binary.LittleEndian.Uint32(buf[11:15]),
	}, nil
}
