package ipc

import (
	"sync"

	"golang.org/x/time/rate"
)

// notifyRate and notifyBurst bound how often one producer connection's
// NotifyPagesChanged can actually trigger a scan; a producer storming the
// service with notifications (e.g. one per chunk instead of batching)
// degrades every session it feeds, not just itself, so this is enforced
// per connection rather than left to producer goodwill.
const (
	notifyRate  = 200 // per second
	notifyBurst = 50
)

// NotifyLimiter rate-limits inbound NotifyPagesChanged per producer
// connection, using golang.org/x/time/rate keyed by producer_id instead
// of remote addr.
type NotifyLimiter struct {
	mu       sync.Mutex
	limiters map[uint32]*rate.Limiter
}

// NewNotifyLimiter constructs an empty limiter set.
func NewNotifyLimiter() *NotifyLimiter {
	return &NotifyLimiter{limiters: make(map[uint32]*rate.Limiter)}
}

// Allow reports whether a NotifyPagesChanged from producerID may proceed
// right now, creating that producer's limiter on first use.
func (n *NotifyLimiter) Allow(producerID uint32) bool {
	n.mu.Lock()
	l, ok := n.limiters[producerID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(notifyRate), notifyBurst)
		n.limiters[producerID] = l
	}
	n.mu.Unlock()
	return l.Allow()
}

// Forget drops a producer's limiter state on disconnect.
func (n *NotifyLimiter) Forget(producerID uint32) {
	n.mu.Lock()
	delete(n.limiters, producerID)
	n.mu.Unlock()
}
