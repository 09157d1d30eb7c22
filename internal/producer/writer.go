// Package producer implements the per-writer record-writing runtime on top
// of an smb.Region: it hides chunk fragmentation, chunk_id stamping, and
// backpressure behind an append-only record API.
package producer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tracesvc/internal/logging"
	"tracesvc/internal/smb"
)

var (
	ErrRecordAlreadyOpen = errors.New("producer: a record is already open; FinalizeRecord it first")
	ErrNoOpenRecord      = errors.New("producer: no open record; call BeginRecord first")
	ErrWriterIDZero      = errors.New("producer: writer_id must be non-zero")
)

// LossReporter receives loss-counter updates so the caller can surface them
// as a bookkeeping record (spec.md §4.2's "loss counter advances and is
// reported in a subsequent bookkeeping record").
type LossReporter func(droppedRecords uint64)

// FlushHook is invoked by Flush once the writer has completed every chunk
// it had pending. It is handed the same callback Flush was given, plus
// nothing else — the actual "wait for service ack" step happens above this
// package, in the IPC/session layer that owns FlushRequest/FlushReply.
type FlushHook func(ack func(error))

// Config configures a Writer. One Config = one writer_id = one thread of
// execution, per spec.md §4.2's thread model.
type Config struct {
	WriterID     uint16
	Region       *smb.Region
	Layout       smb.Layout
	TargetBuffer uint16

	Stall        StallPolicy
	StallTimeout time.Duration // only meaningful for StallBlock

	// Notify is called with a page index immediately after CompleteChunk.
	// Notifications are advisory (spec.md §4.2): the service tolerates a
	// superset of actually-changed pages and re-scans. May be nil.
	Notify func(page int)

	// OnLoss is called whenever the DROP path (directly, or STALL falling
	// back to DROP on timeout) truncates a record. May be nil.
	OnLoss LossReporter

	// FlushHook is invoked by Flush after completing pending chunks. May be nil.
	FlushHook FlushHook

	// pollInterval is the backoff between TryAcquirePage retries under
	// StallBlock. Defaults to 1ms; overridable in tests.
	pollInterval time.Duration

	Logger *slog.Logger
}

// Writer is a single append-only record writer bound to one writer_id.
// Not safe for concurrent use — per spec.md, a data source writing from
// multiple threads creates multiple Writers, each with a distinct writer_id.
type Writer struct {
	cfg Config

	mu sync.Mutex // guards only fields touched by Flush from another goroutine

	nextChunkID uint32

	page        int
	haveChunk   bool
	chunkIdx    int
	layout      smb.Layout
	header      smb.ChunkHeader
	payloadCap  int
	writeOffset int

	recordOpen     bool
	recordStartCID uint32 // chunk_id the open record began in
	recordDropped  bool   // true if the open record was truncated by DROP
	lostRecords    uint64
	changedPages   map[int]struct{}

	logger *slog.Logger
}

// New constructs a Writer. Returns an error if cfg.WriterID is 0 (invalid on
// the wire; loss-bookkeeping records use LossWriterID instead), if Region is
// unset, or if Layout is not a valid layout code.
func New(cfg Config) (*Writer, error) {
	if cfg.WriterID == 0 {
		return nil, ErrWriterIDZero
	}
	if cfg.Region == nil {
		return nil, errors.New("producer: Region is required")
	}
	if !cfg.Layout.Valid() {
		return nil, fmt.Errorf("producer: invalid layout %d", cfg.Layout)
	}
	if cfg.pollInterval <= 0 {
		cfg.pollInterval = time.Millisecond
	}
	logger := logging.Default(cfg.Logger).With("component", "producer-writer", "writer_id", cfg.WriterID)
	return &Writer{
		cfg:          cfg,
		changedPages: make(map[int]struct{}),
		logger:       logger,
	}, nil
}

// BeginRecord opens a new record. Must be matched by exactly one
// FinalizeRecord call before the next BeginRecord.
func (w *Writer) BeginRecord() error {
	if w.recordOpen {
		return ErrRecordAlreadyOpen
	}
	if !w.haveChunk {
		if err := w.openChunk(false); err != nil {
			// No chunk at all: nothing to truncate, just refuse to open.
			return err
		}
	}
	w.recordOpen = true
	w.recordDropped = false
	w.recordStartCID = w.header.ChunkID
	return nil
}

// Append appends bytes to the current record, crossing chunks as needed.
// If the record has been dropped (DROP policy triggered mid-record),
// Append is a no-op until the next BeginRecord.
func (w *Writer) Append(data []byte) error {
	if !w.recordOpen {
		return ErrNoOpenRecord
	}
	if w.recordDropped {
		return nil
	}
	for len(data) > 0 {
		room := w.payloadCap - w.writeOffset
		if room <= 0 {
			if err := w.rotate(); err != nil {
				if errors.Is(err, ErrStallTimeout) {
					return err
				}
				// ErrNoFreePage under StallDrop: truncate and continue
				// accepting (and discarding) the rest of this record.
				w.dropCurrentRecord()
				return nil
			}
			room = w.payloadCap - w.writeOffset
		}
		n := min(room, len(data))
		payload, err := w.cfg.Region.ChunkPayload(w.page, w.layout, w.chunkIdx)
		if err != nil {
			return err
		}
		copy(payload[w.writeOffset:w.writeOffset+n], data[:n])
		w.writeOffset += n
		data = data[n:]
	}
	return nil
}

// FinalizeRecord closes the current record. If the record's first byte
// was written in the chunk currently active, it is "fully contained" and
// increments that chunk's packet_count; otherwise it was a fragment chain
// and no chunk's packet_count is incremented for it (spec.md §4.1).
func (w *Writer) FinalizeRecord() error {
	if !w.recordOpen {
		return ErrNoOpenRecord
	}
	defer func() {
		w.recordOpen = false
		w.recordDropped = false
	}()
	if w.recordDropped {
		return nil
	}
	if w.haveChunk && w.header.ChunkID == w.recordStartCID {
		w.header.PacketCount++
	}
	return nil
}

// Flush completes any chunk currently being filled (so the service can see
// everything written so far) and invokes FlushHook, if configured.
func (w *Writer) Flush(ack func(error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.haveChunk && w.writeOffset > 0 {
		if err := w.completeCurrent(); err != nil {
			return err
		}
	}
	if w.cfg.FlushHook != nil {
		w.cfg.FlushHook(ack)
	} else if ack != nil {
		ack(nil)
	}
	return nil
}

// LostRecords returns the number of records truncated by DROP semantics so far.
func (w *Writer) LostRecords() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lostRecords
}

// dropCurrentRecord truncates the open record: marks it dropped, advances
// the loss counter, and reports it via OnLoss.
func (w *Writer) dropCurrentRecord() {
	w.recordDropped = true
	w.lostRecords++
	if w.cfg.OnLoss != nil {
		w.cfg.OnLoss(w.lostRecords)
	}
}

// rotate completes the current chunk (stamping ContinuesNext if a record
// is still open) and acquires the next chunk (stamping ContinuesPrev to
// match), per the chunk-allocation algorithm in spec.md §4.2.
func (w *Writer) rotate() error {
	spanning := w.recordOpen && !w.recordDropped
	if w.haveChunk {
		if spanning {
			w.header.Flags |= smb.FlagContinuesNext
		}
		if err := w.completeCurrent(); err != nil {
			return err
		}
	}
	return w.openChunk(spanning)
}

// completeCurrent writes the in-memory header to the chunk's header bytes
// and performs the writer's 1->2 transition, notifying the service.
func (w *Writer) completeCurrent() error {
	buf, err := w.cfg.Region.ChunkHeaderBytes(w.page, w.layout, w.chunkIdx)
	if err != nil {
		return err
	}
	if err := w.header.Encode(buf); err != nil {
		return err
	}
	if err := w.cfg.Region.CompleteChunk(w.page, w.chunkIdx); err != nil {
		return err
	}
	w.logger.Debug("completed chunk",
		"page", w.page, "chunk", w.chunkIdx, "chunk_id", w.header.ChunkID,
		"packet_count", w.header.PacketCount, "flags", w.header.Flags)
	if w.cfg.Notify != nil {
		w.cfg.Notify(w.page)
	}
	w.haveChunk = false
	return nil
}

// openChunk acquires the next chunk per the allocation algorithm: try an
// adjacent free chunk on the same page first, then a fresh page, then the
// stall policy. continuesPrev stamps flags.bit0 on the new chunk when a
// record is spanning into it.
func (w *Writer) openChunk(continuesPrev bool) error {
	deadline := time.Time{}
	if w.cfg.Stall == StallBlock && w.cfg.StallTimeout > 0 {
		deadline = time.Now().Add(w.cfg.StallTimeout)
	}

	for {
		if page, idx, layout, ok := w.tryAdjacentChunk(); ok {
			return w.beginChunk(page, idx, layout, continuesPrev)
		}
		if page, err := w.cfg.Region.TryAcquirePage(w.cfg.Layout); err == nil {
			return w.beginChunk(page, 0, w.cfg.Layout, continuesPrev)
		} else if !errors.Is(err, smb.ErrNoFreePage) {
			return err
		}

		if w.cfg.Stall == StallDrop {
			return smb.ErrNoFreePage
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			w.dropCurrentRecord()
			return ErrStallTimeout
		}
		time.Sleep(w.cfg.pollInterval)
	}
}

// tryAdjacentChunk looks for a Free chunk on the writer's current page
// before giving up and acquiring a fresh page.
func (w *Writer) tryAdjacentChunk() (page, idx int, layout smb.Layout, ok bool) {
	if !w.haveChunk && w.page == 0 && w.layout == 0 {
		return 0, 0, 0, false
	}
	n := w.layout.ChunkCount()
	for i := 0; i < n; i++ {
		acquired, err := w.cfg.Region.TryAcquireChunk(w.page, i)
		if err == nil && acquired {
			return w.page, i, w.layout, true
		}
	}
	return 0, 0, 0, false
}

// beginChunk claims chunk idx on page (acquiring it if it wasn't already
// claimed by tryAdjacentChunk) and resets writer state for it.
func (w *Writer) beginChunk(page, idx int, layout smb.Layout, continuesPrev bool) error {
	already, err := w.cfg.Region.ChunkState(page, idx)
	if err != nil {
		return err
	}
	if already != smb.StateWriterOwned {
		ok, err := w.cfg.Region.TryAcquireChunk(page, idx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("producer: race acquiring page %d chunk %d", page, idx)
		}
	}

	payloadBuf, err := w.cfg.Region.ChunkPayload(page, layout, idx)
	if err != nil {
		return err
	}

	w.page = page
	w.chunkIdx = idx
	w.layout = layout
	w.haveChunk = true
	w.writeOffset = 0
	w.payloadCap = len(payloadBuf)
	w.header = smb.ChunkHeader{
		WriterID:     w.cfg.WriterID,
		ChunkID:      w.nextChunkID,
		PacketCount:  0,
		TargetBuffer: w.cfg.TargetBuffer,
	}
	if continuesPrev {
		w.header.Flags |= smb.FlagContinuesPrev
	}
	w.nextChunkID++
	w.changedPages[page] = struct{}{}
	return nil
}
