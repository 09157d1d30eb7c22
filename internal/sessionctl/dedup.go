package sessionctl

import (
	"tracesvc/internal/callgroup"
)

// dedupKey identifies one idempotent IPC call: spec.md §6.1's "All IPC
// methods are idempotent... the Service keeps a small deduplication window
// per connection" — keyed by the connection and the message's own id
// (flush_id, data_source_id, etc., whatever id space the message uses).
type dedupKey struct {
	ConnectionID uint64
	MessageID    uint64
}

// Dedup joins retransmissions of the same (connection, message_id) into a
// single in-flight call instead of double-applying the side effect, via a
// generic call-deduplication group. Once the call completes the key is
// forgotten, so a later, distinct retransmission after the ack already
// landed runs fresh (which is fine: applying an already-settled idempotent
// command twice is a no-op by construction).
type Dedup struct {
	group callgroup.Group[dedupKey]
}

// NewDedup constructs an empty dedup window.
func NewDedup() *Dedup { return &Dedup{} }

// Do executes fn if no call for (connectionID, messageID) is already in
// flight; a concurrent retransmission instead waits for and receives that
// call's result rather than re-applying it.
func (d *Dedup) Do(connectionID, messageID uint64, fn func() error) error {
	key := dedupKey{ConnectionID: connectionID, MessageID: messageID}
	return <-d.group.DoChan(key, fn)
}
