package producer

import "encoding/binary"

// LossWriterID is the reserved writer_id a ServiceBufferEngine attributes to
// the synthetic bookkeeping record produced by EmitLossRecord, which writes
// through a Writer constructed with this ID. New does not reject it; New
// rejects only writer_id 0.
const LossWriterID uint16 = 0xFFFF

// EncodeLossRecord produces the payload bytes for a loss-counter bookkeeping
// record: an 8-byte little-endian count of records dropped by this writer's
// DROP/STALL-timeout path since the last loss record was emitted.
func EncodeLossRecord(droppedSinceLast uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, droppedSinceLast)
	return buf
}

// DecodeLossRecord parses a payload produced by EncodeLossRecord.
func DecodeLossRecord(payload []byte) (uint64, bool) {
	if len(payload) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(payload), true
}

// EmitLossRecord writes a synthetic bookkeeping record through the normal
// BeginRecord/Append/FinalizeRecord path of a dedicated loss-reporting
// Writer (one constructed with WriterID == LossWriterID). Per spec_full
// §4.2, loss bookkeeping rides the same chunk-fragmentation machinery as
// any other record rather than a side channel, so a consumer that only
// understands the generic Record shape still sees it.
func EmitLossRecord(w *Writer, droppedSinceLast uint64) error {
	if err := w.BeginRecord(); err != nil {
		return err
	}
	if err := w.Append(EncodeLossRecord(droppedSinceLast)); err != nil {
		return err
	}
	return w.FinalizeRecord()
}
