// Package bufferengine implements the Service-side buffer engine: it
// ingests committed chunks from one or more smb.Region values, reassembles
// fragmented records per writer sequence, enforces per-buffer quotas with
// ring or discard fill policies, and serves a per-consumer read cursor.
package bufferengine

import (
	"errors"
	"fmt"
	"sync"

	"tracesvc/internal/smb"
)

// FillPolicy selects what a CentralBuffer does when ingestion would exceed
// its quota.
type FillPolicy int

const (
	// FillRing evicts the oldest slot to make room (spec.md §4.3).
	FillRing FillPolicy = iota
	// FillDiscard refuses new slots once the buffer is full; the ingestion
	// loop releases the chunk without retaining it, and no loss counter
	// records the drop.
	FillDiscard
)

// Slot is one copied chunk living in a CentralBuffer: the sanitized header
// plus its payload, both copied out of the SMB at ingestion time so the
// buffer engine never holds a live reference into writer-owned memory.
type Slot struct {
	Header  smb.ServiceSlotHeader
	Payload []byte
}

var ErrBufferFull = errors.New("bufferengine: central buffer full (discard policy)")

// CentralBuffer is one session buffer (spec.md §6.2's `buffers[]` entry):
// a byte-quota-bounded sequence of slots, oldest first, held in a fixed-size
// circular backing array so a long-running ring never grows unbounded.
type CentralBuffer struct {
	mu sync.Mutex

	id         uint16
	policy     FillPolicy
	quotaBytes int64
	slotBytes  int64 // quota is rounded down to a whole number of slots of this size

	slots []Slot // fixed-size backing array, indexed modulo len(slots)
	head  int    // index of the oldest live slot
	count int    // number of live slots

	baseSeq uint64 // sequence number of the slot at head
	nextSeq uint64

	// evicted counts slots evicted by the ring policy, for diagnostics.
	evicted uint64
}

// NewCentralBuffer creates a buffer with the given id, quota (rounded down
// to a multiple of slotSize per spec.md §4.3's "per-buffer quotas are
// byte-sized, rounded down to chunk-size multiples"), and fill policy.
func NewCentralBuffer(id uint16, quotaBytes int64, slotSize int, policy FillPolicy) (*CentralBuffer, error) {
	if slotSize <= 0 {
		return nil, fmt.Errorf("bufferengine: slotSize must be positive, got %d", slotSize)
	}
	maxSlots := quotaBytes / int64(slotSize)
	if maxSlots < 1 {
		return nil, fmt.Errorf("bufferengine: quota %d bytes too small for slot size %d", quotaBytes, slotSize)
	}
	return &CentralBuffer{
		id:         id,
		policy:     policy,
		quotaBytes: maxSlots * int64(slotSize),
		slotBytes:  int64(slotSize),
		slots:      make([]Slot, maxSlots),
	}, nil
}

// ID returns the buffer's target_buffer identifier.
func (b *CentralBuffer) ID() uint16 { return b.id }

// Append adds a slot, evicting the oldest slot first under FillRing if the
// buffer is at quota, or returning ErrBufferFull under FillDiscard. The
// returned seq is a monotonically increasing handle a reassembly index can
// hold onto and later check for validity via Get — once a slot's seq falls
// below the buffer's retained window it has been evicted.
func (b *CentralBuffer) Append(s Slot) (seq uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= len(b.slots) {
		if b.policy == FillDiscard {
			return 0, ErrBufferFull
		}
		b.slots[b.head] = Slot{} // drop the reference so the payload can be GC'd
		b.head = (b.head + 1) % len(b.slots)
		b.count--
		b.baseSeq++
		b.evicted++
	}
	seq = b.nextSeq
	b.nextSeq++
	idx := (b.head + b.count) % len(b.slots)
	b.slots[idx] = s
	b.count++
	return seq, nil
}

// Get resolves a seq previously returned by Append to its slot. ok is false
// if that slot has since been evicted.
func (b *CentralBuffer) Get(seq uint64) (Slot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq < b.baseSeq {
		return Slot{}, false
	}
	offset := int(seq - b.baseSeq)
	if offset >= b.count {
		return Slot{}, false
	}
	idx := (b.head + offset) % len(b.slots)
	return b.slots[idx], true
}

// Len reports the number of live slots currently retained.
func (b *CentralBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Evicted reports the cumulative number of slots evicted by the ring policy.
func (b *CentralBuffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// Slots returns a snapshot copy of the currently retained slots in
// ingestion order (oldest first). Used by the read cursor and by tests.
func (b *CentralBuffer) Slots() []Slot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Slot, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.slots[(b.head+i)%len(b.slots)]
	}
	return out
}
