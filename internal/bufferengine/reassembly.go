package bufferengine

import (
	"fmt"
	"sync"

	"tracesvc/internal/smb"
)

// SlotRef names a slot by the (buffer, seq) handle CentralBuffer.Append
// returned for it. It stays valid as a lookup key even after the slot has
// been evicted — Get simply reports the miss.
type SlotRef struct {
	BufferID uint16
	Seq      uint64
}

// SequenceKey identifies one writer sequence: a single producer's single
// writer_id, the reassembly index's granularity (spec.md §4.3).
type SequenceKey struct {
	ProducerID uint32
	WriterID   uint16
}

// record is a completed, not-yet-read sequence of fragment refs in
// program order, queued for a consumer's read cursor.
type record struct {
	frags []SlotRef
}

// sequenceState is the per-(producer_id, writer_id) reassembly state.
type sequenceState struct {
	haveLast    bool
	lastChunkID uint32
	pending     []SlotRef // fragments of the record currently being assembled
	ready       []record  // completed records awaiting a read
	lostRecords uint64
}

// ReassemblyIndex tracks one sequenceState per writer sequence across all
// producers feeding a session, per spec.md §4.3.
type ReassemblyIndex struct {
	mu  sync.Mutex
	seq map[SequenceKey]*sequenceState
}

// NewReassemblyIndex constructs an empty index.
func NewReassemblyIndex() *ReassemblyIndex {
	return &ReassemblyIndex{seq: make(map[SequenceKey]*sequenceState)}
}

// ErrNonMonotonicChunkID reports a chunk_id that was not strictly greater
// than the last one seen for its sequence — a protocol violation per
// spec.md §4.3 step 2 ("strict monotonicity"), grounds for disconnecting
// the offending producer (spec.md §5's failure containment).
type ErrNonMonotonicChunkID struct {
	Key  SequenceKey
	Last uint32
	Got  uint32
}

func (e *ErrNonMonotonicChunkID) Error() string {
	return fmt.Sprintf("bufferengine: chunk_id %d not strictly greater than last seen %d for producer %d writer %d",
		e.Got, e.Last, e.Key.ProducerID, e.Key.WriterID)
}

// Observe records one newly-ingested chunk's header and the ref to the
// central-buffer slot it was copied into. If hdr.ChunkID does not strictly
// advance past what's already been seen for this sequence, the in-progress
// record is dropped as lost and ErrNonMonotonicChunkID is returned so the
// caller can decide whether to disconnect the producer.
func (idx *ReassemblyIndex) Observe(key SequenceKey, hdr smb.ChunkHeader, ref SlotRef) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	st := idx.seq[key]
	if st == nil {
		st = &sequenceState{}
		idx.seq[key] = st
	}

	if st.haveLast {
		if hdr.ChunkID <= st.lastChunkID {
			st.pending = nil
			st.lostRecords++
			return &ErrNonMonotonicChunkID{Key: key, Last: st.lastChunkID, Got: hdr.ChunkID}
		}
		if hdr.ChunkID != st.lastChunkID+1 {
			// A gap in chunk_id: the tail of whatever was pending can never
			// arrive complete. Drop it and resynchronize silently — this is
			// not a protocol violation (the writer may have been told to
			// drop a record mid-sequence under its own stall policy).
			if len(st.pending) > 0 {
				st.lostRecords++
			}
			st.pending = nil
		}
	}

	st.haveLast = true
	st.lastChunkID = hdr.ChunkID
	st.pending = append(st.pending, ref)

	if !hdr.ContinuesNext() {
		st.ready = append(st.ready, record{frags: st.pending})
		st.pending = nil
	}
	return nil
}

// Drain pops all currently-ready records for key, resolving each fragment
// ref against resolve (typically a CentralBuffer.Get). A record with any
// evicted fragment is dropped and counted as lost instead of returned.
func (idx *ReassemblyIndex) Drain(key SequenceKey, resolve func(SlotRef) (Slot, bool)) [][]Slot {
	idx.mu.Lock()
	st := idx.seq[key]
	if st == nil || len(st.ready) == 0 {
		idx.mu.Unlock()
		return nil
	}
	ready := st.ready
	st.ready = nil
	idx.mu.Unlock()

	var out [][]Slot
	for _, rec := range ready {
		slots := make([]Slot, 0, len(rec.frags))
		complete := true
		for _, ref := range rec.frags {
			s, ok := resolve(ref)
			if !ok {
				complete = false
				break
			}
			slots = append(slots, s)
		}
		if !complete {
			idx.mu.Lock()
			st.lostRecords++
			idx.mu.Unlock()
			continue
		}
		out = append(out, slots)
	}
	return out
}

// KeysForProducer returns every SequenceKey this index has ever observed a
// chunk for, belonging to producerID. Used to widen a consumer's read
// cursor to every writer_id a producer has used, since writer_id
// assignment is owned by the producer side and not known ahead of
// ingestion.
func (idx *ReassemblyIndex) KeysForProducer(producerID uint32) []SequenceKey {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var out []SequenceKey
	for k := range idx.seq {
		if k.ProducerID == producerID {
			out = append(out, k)
		}
	}
	return out
}

// HasReady reports whether key currently has completed records awaiting a
// Drain call, for a consumer's has_more signal.
func (idx *ReassemblyIndex) HasReady(key SequenceKey) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	st := idx.seq[key]
	return st != nil && len(st.ready) > 0
}

// LostRecords reports the cumulative lost-record count for one sequence.
func (idx *ReassemblyIndex) LostRecords(key SequenceKey) uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if st := idx.seq[key]; st != nil {
		return st.lostRecords
	}
	return 0
}
