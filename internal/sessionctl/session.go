package sessionctl

import (
	"encoding/binary"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"tracesvc/internal/bufferengine"
)

// sessionIDKey derives a stable uint64 dedup-connection key from a session's
// uuid.UUID, since the dedup window is keyed on plain integers.
func sessionIDKey(id uuid.UUID) uint64 {
	return binary.BigEndian.Uint64(id[:8])
}

// Session is one consumer-owned tracing run (spec.md §3).
type Session struct {
	ID     uuid.UUID
	Name   string // friendly display name, for logs and diagnostics
	Config TraceConfig
	State  State
	Status Status

	Engine *bufferengine.Engine
	cursor *bufferengine.Cursor

	instances        []*instance
	reservedBufBytes int64

	durationTimer gocron.Job
	flushTicker   gocron.Job

	wallClockAt time.Time

	pendingStop bool // a Stop arrived while Flushing; applied once the flush resolves

	flushSeq uint64
}

// nextFlushID returns a monotonically increasing id identifying one
// FlushConsumer call, for dedup and FlushRequest's flush_id.
func (s *Session) nextFlushID() uint64 {
	s.flushSeq++
	return s.flushSeq
}

// producerIDs returns the distinct ProducerID values of the session's live
// instances, for draining the read cursor. writer_id assignment is owned by
// the producer side; the controller only tracks which producer+data-source
// instances exist, so ReadBuffers widens each producer to every writer_id
// the session's engine has observed for it (see Controller.ReadBuffers).
func (s *Session) producerIDs() []uint32 {
	seen := make(map[uint32]struct{})
	var out []uint32
	for _, inst := range s.instances {
		if _, ok := seen[inst.ProducerID]; !ok {
			seen[inst.ProducerID] = struct{}{}
			out = append(out, inst.ProducerID)
		}
	}
	return out
}
