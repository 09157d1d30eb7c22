package bufferengine

import "sync"

// Record is a fully reassembled, consumer-visible record: the ordered
// fragment slots concatenated into one logical payload plus the leading
// header metadata a consumer needs to attribute it.
type Record struct {
	ProducerID uint32
	WriterID   uint16
	ChunkID    uint32 // chunk_id of the final fragment, for diagnostics
	Payload    []byte
}

// Cursor reads reassembled records out of an Engine on behalf of one
// consumer session, tracking which writer sequences it has already drained
// so ReadBuffers never re-emits a record (spec.md §4.3's read cursor).
type Cursor struct {
	mu     sync.Mutex
	engine *Engine
	seen   map[SequenceKey]struct{}
}

// NewCursor creates a read cursor over engine.
func NewCursor(engine *Engine) *Cursor {
	return &Cursor{engine: engine, seen: make(map[SequenceKey]struct{})}
}

// ReadBuffers drains every writer sequence the cursor knows about (plus any
// newly observed in this pass) and returns their newly-ready records, plus
// hasMore reporting whether any known sequence already has further
// completed records queued up behind this read (e.g. ingested concurrently
// with this drain), so a caller paging through ReadBuffers calls knows
// whether to call again immediately instead of waiting on the next poll
// interval. Ordering within one sequence is preserved; ordering across
// sequences is unspecified, matching spec.md §5's ordering guarantees.
func (c *Cursor) ReadBuffers(keys []SequenceKey) (records []Record, hasMore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		c.seen[key] = struct{}{}
	}
	for key := range c.seen {
		for _, frags := range c.engine.Drain(key) {
			records = append(records, concat(key, frags))
		}
	}
	for key := range c.seen {
		if c.engine.HasPending(key) {
			hasMore = true
			break
		}
	}
	return records, hasMore
}

func concat(key SequenceKey, frags []Slot) Record {
	total := 0
	for _, f := range frags {
		total += len(f.Payload)
	}
	payload := make([]byte, 0, total)
	var lastChunkID uint32
	for _, f := range frags {
		payload = append(payload, f.Payload...)
		lastChunkID = f.Header.ChunkID
	}
	return Record{
		ProducerID: key.ProducerID,
		WriterID:   key.WriterID,
		ChunkID:    lastChunkID,
		Payload:    payload,
	}
}
