package producer

import (
	"testing"
	"time"

	"tracesvc/internal/smb"
)

func newTestRegion(t *testing.T, numPages, pageSize int) *smb.Region {
	t.Helper()
	r, err := smb.NewRegion(numPages, pageSize)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSmallRecordNoSpill(t *testing.T) {
	r := newTestRegion(t, 2, 4096)
	w, err := New(Config{WriterID: 1, Region: r, Layout: smb.Layout4, TargetBuffer: 1})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		if err := w.BeginRecord(); err != nil {
			t.Fatal(err)
		}
		if err := w.Append([]byte("hello world")); err != nil {
			t.Fatal(err)
		}
		if err := w.FinalizeRecord(); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(nil); err != nil {
		t.Fatal(err)
	}

	st, err := r.ChunkState(w.page, w.chunkIdx)
	if err != nil {
		t.Fatal(err)
	}
	if st != smb.StateComplete {
		t.Fatalf("expected the flushed chunk to be Complete, got %s", st)
	}
	hdrBuf, err := r.ChunkHeaderBytes(w.page, w.layout, w.chunkIdx)
	if err != nil {
		t.Fatal(err)
	}
	hdr, err := smb.DecodeChunkHeader(hdrBuf)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.PacketCount != 10 {
		t.Fatalf("expected packet_count 10, got %d", hdr.PacketCount)
	}
	if hdr.ContinuesNext() || hdr.ContinuesPrev() {
		t.Fatalf("a record that never spilled must not set continuation flags: %+v", hdr)
	}
}

// TestFragmentationAcrossChunks mirrors spec.md §8 scenario S2: page_size
// 4096, layout 4 (1024B chunks, 1008B payload after the 16-byte header),
// one 3000-byte record split across exactly 3 chunks.
func TestFragmentationAcrossChunks(t *testing.T) {
	r := newTestRegion(t, 4, 4096)
	w, err := New(Config{WriterID: 7, Region: r, Layout: smb.Layout4, TargetBuffer: 0})
	if err != nil {
		t.Fatal(err)
	}

	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}

	if err := w.BeginRecord(); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.FinalizeRecord(); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(nil); err != nil {
		t.Fatal(err)
	}

	// payloadCap per chunk = 1024 - 16 = 1008. 3000 bytes needs ceil(3000/1008)=3 chunks.
	if w.nextChunkID != 3 {
		t.Fatalf("expected 3 chunks allocated, got %d", w.nextChunkID)
	}

	page := w.page
	layout := w.layout
	var flagsSeen []uint8
	var idsSeen []uint32
	for i := uint32(0); i < 3; i++ {
		buf, err := r.ChunkHeaderBytes(page, layout, int(i))
		if err != nil {
			t.Fatal(err)
		}
		hdr, err := smb.DecodeChunkHeader(buf)
		if err != nil {
			t.Fatal(err)
		}
		flagsSeen = append(flagsSeen, hdr.Flags)
		idsSeen = append(idsSeen, hdr.ChunkID)
	}

	if idsSeen[0] != 0 || idsSeen[1] != 1 || idsSeen[2] != 2 {
		t.Fatalf("expected consecutive chunk_ids 0,1,2, got %v", idsSeen)
	}
	if flagsSeen[0]&smb.FlagContinuesPrev != 0 || flagsSeen[0]&smb.FlagContinuesNext == 0 {
		t.Fatalf("first chunk should be (0, continuesNext): flags=%08b", flagsSeen[0])
	}
	if flagsSeen[1]&smb.FlagContinuesPrev == 0 || flagsSeen[1]&smb.FlagContinuesNext == 0 {
		t.Fatalf("middle chunk should be (continuesPrev, continuesNext): flags=%08b", flagsSeen[1])
	}
	if flagsSeen[2]&smb.FlagContinuesPrev == 0 || flagsSeen[2]&smb.FlagContinuesNext != 0 {
		t.Fatalf("last chunk should be (continuesPrev, 0): flags=%08b", flagsSeen[2])
	}
}

func TestStallDropTruncatesAndCounts(t *testing.T) {
	r := newTestRegion(t, 1, 4096) // exactly one page, one chunk worth of room total
	var lossReports []uint64
	w, err := New(Config{
		WriterID: 1, Region: r, Layout: smb.Layout1, TargetBuffer: 0,
		Stall:  StallDrop,
		OnLoss: func(n uint64) { lossReports = append(lossReports, n) },
	})
	if err != nil {
		t.Fatal(err)
	}

	big := make([]byte, 4096) // guaranteed to exhaust the only page/chunk
	if err := w.BeginRecord(); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(big); err != nil {
		t.Fatal(err)
	}
	if err := w.FinalizeRecord(); err != nil {
		t.Fatal(err)
	}

	if w.LostRecords() != 1 {
		t.Fatalf("expected 1 lost record, got %d", w.LostRecords())
	}
	if len(lossReports) != 1 || lossReports[0] != 1 {
		t.Fatalf("expected a single loss report of 1, got %v", lossReports)
	}
}

func TestStallBlockTimesOut(t *testing.T) {
	r := newTestRegion(t, 1, 4096)
	w, err := New(Config{
		WriterID: 1, Region: r, Layout: smb.Layout1, TargetBuffer: 0,
		Stall:        StallBlock,
		StallTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	w.cfg.pollInterval = time.Millisecond

	big := make([]byte, 9000) // needs 3+ pages but only 1 page exists total
	if err := w.BeginRecord(); err != nil {
		t.Fatal(err)
	}
	err = w.Append(big)
	if err != ErrStallTimeout {
		t.Fatalf("expected ErrStallTimeout, got %v", err)
	}
}

func TestReservedWriterIDRejected(t *testing.T) {
	r := newTestRegion(t, 1, 4096)
	if _, err := New(Config{WriterID: 0, Region: r, Layout: smb.Layout1}); err != ErrWriterIDZero {
		t.Fatalf("expected ErrWriterIDZero, got %v", err)
	}
}
