package ipc

import "testing"

func TestNotifyLimiterBurstThenThrottles(t *testing.T) {
	n := NewNotifyLimiter()
	allowed := 0
	for i := 0; i < notifyBurst+10; i++ {
		if n.Allow(1) {
			allowed++
		}
	}
	if allowed < notifyBurst {
		t.Fatalf("expected at least the burst size (%d) to be allowed, got %d", notifyBurst, allowed)
	}
	if allowed >= notifyBurst+10 {
		t.Fatalf("expected throttling to kick in, but all %d calls were allowed", notifyBurst+10)
	}
}

func TestNotifyLimiterPerProducerIndependent(t *testing.T) {
	n := NewNotifyLimiter()
	for i := 0; i < notifyBurst; i++ {
		if !n.Allow(1) {
			t.Fatalf("producer 1 throttled before exhausting its burst at call %d", i)
		}
	}
	if !n.Allow(2) {
		t.Fatal("producer 2 should have its own independent burst")
	}
}
