package bufferengine

import (
	"errors"
	"fmt"
	"log/slog"

	"tracesvc/internal/bufferengine/filesink"
	"tracesvc/internal/logging"
	"tracesvc/internal/smb"
)

var (
	ErrUnknownBuffer = errors.New("bufferengine: target_buffer does not name a buffer of this session")
	ErrZeroWriterID  = errors.New("bufferengine: chunk header has writer_id 0")
)

// Engine owns one session's central buffers and reassembly index, and
// drives the ingestion loop described in spec.md §4.3.
type Engine struct {
	buffers map[uint16]*CentralBuffer
	index   *ReassemblyIndex
	sink    filesink.Sink // optional write_into_file destination; nil disables it
	logger  *slog.Logger
}

// NewEngine constructs an Engine over the given central buffers, keyed by
// their target_buffer id. sink may be nil if the session has no
// write_into_file retention configured.
func NewEngine(buffers []*CentralBuffer, sink filesink.Sink, logger *slog.Logger) *Engine {
	byID := make(map[uint16]*CentralBuffer, len(buffers))
	for _, b := range buffers {
		byID[b.ID()] = b
	}
	return &Engine{
		buffers: byID,
		index:   NewReassemblyIndex(),
		sink:    sink,
		logger:  logging.Default(logger).With("component", "bufferengine"),
	}
}

// ScanRegion performs one ingestion pass over every page of region,
// claiming and copying every Complete chunk found, per spec.md §4.3's
// ingestion loop steps 1-5. producerID identifies the producer that owns
// region, for the sanitized ServiceSlotHeader and the reassembly key.
//
// It returns the set of producer-visible protocol violations encountered
// (non-monotonic chunk_id, zero writer_id, unknown target_buffer); the
// caller decides whether any of them warrant disconnecting the producer
// (spec.md §5's failure containment is a policy decision above this
// package, not something ScanRegion enforces by itself).
func (e *Engine) ScanRegion(producerID uint32, region *smb.Region) []error {
	var violations []error
	for page := 0; page < region.NumPages(); page++ {
		layout, err := region.PageLayout(page)
		if err != nil {
			continue
		}
		n := layout.ChunkCount()
		for i := 0; i < n; i++ {
			state, err := region.ChunkState(page, i)
			if err != nil || state != smb.StateComplete {
				continue
			}
			if err := e.ingestOne(producerID, region, layout, page, i); err != nil {
				violations = append(violations, err)
			}
		}
	}
	return violations
}

// ingestOne claims, validates, copies, and releases a single chunk.
func (e *Engine) ingestOne(producerID uint32, region *smb.Region, layout smb.Layout, page, i int) error {
	ok, err := region.TryBeginRead(page, i)
	if err != nil || !ok {
		// Another scan already claimed it, or it wasn't actually Complete
		// anymore by the time we got here; neither is an error condition.
		return nil
	}

	hdrBuf, err := region.ChunkHeaderBytes(page, layout, i)
	if err != nil {
		return e.abandon(region, page, i, err)
	}
	hdr, err := smb.DecodeChunkHeader(hdrBuf)
	if err != nil {
		return e.abandon(region, page, i, err)
	}
	if hdr.WriterID == 0 {
		return e.abandon(region, page, i, ErrZeroWriterID)
	}
	buf, ok := e.buffers[hdr.TargetBuffer]
	if !ok {
		return e.abandon(region, page, i, fmt.Errorf("%w: target_buffer=%d", ErrUnknownBuffer, hdr.TargetBuffer))
	}

	payload, err := region.ChunkPayload(page, layout, i)
	if err != nil {
		return e.abandon(region, page, i, err)
	}
	payloadCopy := append([]byte(nil), payload...)
	slotHeader := smb.ServiceSlotHeader{ChunkHeader: hdr, ProducerID: producerID}

	if e.sink != nil {
		if err := e.sink.WriteChunk(slotHeader, payloadCopy); err != nil {
			e.logger.Warn("write_into_file sink failed", "page", page, "chunk", i, "error", err)
		}
	}

	slot := Slot{Header: slotHeader, Payload: payloadCopy}
	seq, err := buf.Append(slot)
	if err != nil {
		// ErrBufferFull under FillDiscard: the chunk is still released back
		// to the writer (it's been durably consumed from the ABI's point of
		// view), it just isn't retained.
		region.ReleaseChunk(page, i)
		return nil
	}

	if err := region.ReleaseChunk(page, i); err != nil {
		e.logger.Warn("release chunk failed after successful ingest", "page", page, "chunk", i, "error", err)
	}

	key := SequenceKey{ProducerID: producerID, WriterID: hdr.WriterID}
	ref := SlotRef{BufferID: hdr.TargetBuffer, Seq: seq}
	if err := e.index.Observe(key, hdr, ref); err != nil {
		return err
	}
	return nil
}

// abandon releases a chunk the engine could not validate, so a single bad
// chunk doesn't permanently wedge its slot, and returns err for the caller
// to decide on disconnecting the producer.
func (e *Engine) abandon(region *smb.Region, page, i int, err error) error {
	if relErr := region.ReleaseChunk(page, i); relErr != nil {
		e.logger.Warn("release chunk failed while abandoning invalid chunk", "page", page, "chunk", i, "error", relErr)
	}
	return err
}

// Drain returns all reassembled records ready for key (one writer
// sequence), in program order, resolving fragments against their home
// buffer and dropping any record that lost a fragment to eviction.
func (e *Engine) Drain(key SequenceKey) [][]Slot {
	return e.index.Drain(key, func(ref SlotRef) (Slot, bool) {
		buf, ok := e.buffers[ref.BufferID]
		if !ok {
			return Slot{}, false
		}
		return buf.Get(ref.Seq)
	})
}

// LostRecords reports the cumulative lost-record count for one sequence.
func (e *Engine) LostRecords(key SequenceKey) uint64 {
	return e.index.LostRecords(key)
}

// HasPending reports whether key has reassembled records that a Drain call
// has not yet picked up.
func (e *Engine) HasPending(key SequenceKey) bool {
	return e.index.HasReady(key)
}

// KeysForProducer returns every writer sequence key observed so far for
// producerID.
func (e *Engine) KeysForProducer(producerID uint32) []SequenceKey {
	return e.index.KeysForProducer(producerID)
}

// Buffer returns the central buffer registered under id, if any.
func (e *Engine) Buffer(id uint16) (*CentralBuffer, bool) {
	b, ok := e.buffers[id]
	return b, ok
}
