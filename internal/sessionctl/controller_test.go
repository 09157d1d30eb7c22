package sessionctl

import (
	"errors"
	"testing"
	"time"

	"tracesvc/internal/bufferengine"
)

type fakeProducerConn struct {
	started  []uint64
	stopped  []uint64
	flushed  [][]uint64
	failNext bool
}

func (f *fakeProducerConn) StartDataSource(instanceID uint64, ds DataSourceConfig, targetBuffer uint16) error {
	f.started = append(f.started, instanceID)
	return nil
}

func (f *fakeProducerConn) StopDataSource(instanceID uint64) error {
	f.stopped = append(f.stopped, instanceID)
	return nil
}

func (f *fakeProducerConn) FlushRequest(flushID uint64, instanceIDs []uint64, deadline time.Time) error {
	if f.failNext {
		f.failNext = false
		return errors.New("producer unreachable")
	}
	f.flushed = append(f.flushed, instanceIDs)
	return nil
}

func testConfig() TraceConfig {
	return TraceConfig{
		Buffers: []BufferConfig{{SizeKB: 64, FillPolicy: bufferengine.FillRing}},
		DataSources: []DataSourceConfig{
			{Name: "cpu_samples", TargetBuffer: 0},
		},
	}
}

func TestEnableTracingAutoNamesUnnamedSession(t *testing.T) {
	c := NewController(1<<30, nil, nil)
	id, err := c.EnableTracing(testConfig())
	if err != nil {
		t.Fatalf("EnableTracing: %v", err)
	}

	c.mu.Lock()
	name := c.sessions[id].Name
	c.mu.Unlock()
	if name == "" {
		t.Fatal("expected an auto-generated name for a session with no Name set")
	}
}

func TestEnableTracingKeepsCallerSuppliedName(t *testing.T) {
	c := NewController(1<<30, nil, nil)
	cfg := testConfig()
	cfg.Name = "checkout-latency-probe"
	id, err := c.EnableTracing(cfg)
	if err != nil {
		t.Fatalf("EnableTracing: %v", err)
	}

	c.mu.Lock()
	name := c.sessions[id].Name
	c.mu.Unlock()
	if name != "checkout-latency-probe" {
		t.Fatalf("expected caller-supplied name to survive, got %q", name)
	}
}

func TestEnableTracingMatchesAlreadyConnectedProducer(t *testing.T) {
	c := NewController(1<<30, nil, nil)
	conn := &fakeProducerConn{}
	c.RegisterProducer(1, conn, nil)
	if err := c.RegisterDataSource(1, "cpu_samples", 100); err != nil {
		t.Fatalf("RegisterDataSource: %v", err)
	}

	id, err := c.EnableTracing(testConfig())
	if err != nil {
		t.Fatalf("EnableTracing: %v", err)
	}
	state, _, ok := c.Session(id)
	if !ok || state != StateRunning {
		t.Fatalf("expected session Running, got %v (ok=%v)", state, ok)
	}
	if len(conn.started) != 1 {
		t.Fatalf("expected matchmaking to start 1 instance, got %d", len(conn.started))
	}
}

func TestEnableTracingMatchesLateProducer(t *testing.T) {
	c := NewController(1<<30, nil, nil)
	id, err := c.EnableTracing(testConfig())
	if err != nil {
		t.Fatalf("EnableTracing: %v", err)
	}

	conn := &fakeProducerConn{}
	c.RegisterProducer(2, conn, nil)
	if err := c.RegisterDataSource(2, "cpu_samples", 7); err != nil {
		t.Fatalf("RegisterDataSource: %v", err)
	}

	if len(conn.started) != 1 {
		t.Fatalf("expected late-registering producer to be matched, got %d starts", len(conn.started))
	}
	_ = id
}

func TestAdmissionControlRejectsOverBudget(t *testing.T) {
	c := NewController(32*1024, nil, nil) // 32KB platform budget
	cfg := testConfig() // requests 64KB
	_, err := c.EnableTracing(cfg)
	if err == nil {
		t.Fatal("expected budget rejection, got nil error")
	}
	var sessErr *Error
	if !errors.As(err, &sessErr) || sessErr.Kind != KindResourceExhausted {
		t.Fatalf("expected KindResourceExhausted, got %v", err)
	}
}

func TestFlushConsumerCyclesBackToRunning(t *testing.T) {
	c := NewController(1<<30, nil, nil)
	conn := &fakeProducerConn{}
	c.RegisterProducer(1, conn, nil)
	if err := c.RegisterDataSource(1, "cpu_samples", 1); err != nil {
		t.Fatalf("RegisterDataSource: %v", err)
	}
	id, err := c.EnableTracing(testConfig())
	if err != nil {
		t.Fatalf("EnableTracing: %v", err)
	}

	if err := c.FlushConsumer(id, time.Second); err != nil {
		t.Fatalf("FlushConsumer: %v", err)
	}
	state, status, _ := c.Session(id)
	if state != StateRunning {
		t.Fatalf("expected session back to Running after flush, got %v", state)
	}
	if status.Kind != StatusOK {
		t.Fatalf("expected status OK after a clean flush, got %v", status)
	}
	if len(conn.flushed) != 1 {
		t.Fatalf("expected 1 flush fan-out call, got %d", len(conn.flushed))
	}
}

func TestFlushConsumerPartialFailureDegrades(t *testing.T) {
	c := NewController(1<<30, nil, nil)
	conn := &fakeProducerConn{failNext: true}
	c.RegisterProducer(1, conn, nil)
	if err := c.RegisterDataSource(1, "cpu_samples", 1); err != nil {
		t.Fatalf("RegisterDataSource: %v", err)
	}
	id, err := c.EnableTracing(testConfig())
	if err != nil {
		t.Fatalf("EnableTracing: %v", err)
	}

	if err := c.FlushConsumer(id, time.Second); err != nil {
		t.Fatalf("FlushConsumer should swallow producer errors into Degraded status, got %v", err)
	}
	_, status, _ := c.Session(id)
	if status.Kind != StatusDegraded {
		t.Fatalf("expected session Degraded after a failing flush, got %v", status)
	}
}

func TestDisableTracingFullLifecycle(t *testing.T) {
	c := NewController(1<<30, nil, nil)
	conn := &fakeProducerConn{}
	c.RegisterProducer(1, conn, nil)
	if err := c.RegisterDataSource(1, "cpu_samples", 1); err != nil {
		t.Fatalf("RegisterDataSource: %v", err)
	}
	id, err := c.EnableTracing(testConfig())
	if err != nil {
		t.Fatalf("EnableTracing: %v", err)
	}

	if err := c.DisableTracing(id); err != nil {
		t.Fatalf("DisableTracing: %v", err)
	}
	state, _, _ := c.Session(id)
	if state != StateStopped {
		t.Fatalf("expected Stopped, got %v", state)
	}
	if len(conn.stopped) != 1 {
		t.Fatalf("expected stopAll to stop 1 instance, got %d", len(conn.stopped))
	}

	if err := c.FreeBuffers(id); err != nil {
		t.Fatalf("FreeBuffers: %v", err)
	}
	if _, _, ok := c.Session(id); ok {
		t.Fatal("expected session to be gone after FreeBuffers")
	}
}

func TestDisableTracingDeferredDuringFlush(t *testing.T) {
	c := NewController(1<<30, nil, nil)
	conn := &fakeProducerConn{}
	c.RegisterProducer(1, conn, nil)
	if err := c.RegisterDataSource(1, "cpu_samples", 1); err != nil {
		t.Fatalf("RegisterDataSource: %v", err)
	}
	id, err := c.EnableTracing(testConfig())
	if err != nil {
		t.Fatalf("EnableTracing: %v", err)
	}

	c.mu.Lock()
	sess := c.sessions[id]
	sess.State = StateFlushing
	c.mu.Unlock()

	if err := c.DisableTracing(id); err != nil {
		t.Fatalf("DisableTracing while flushing should be deferred, not erred: %v", err)
	}
	state, _, _ := c.Session(id)
	if state != StateFlushing {
		t.Fatalf("expected state to remain Flushing until the flush resolves, got %v", state)
	}
	c.mu.Lock()
	pending := sess.pendingStop
	c.mu.Unlock()
	if !pending {
		t.Fatal("expected pendingStop to be recorded")
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	c := NewController(1<<30, nil, nil)
	id, err := c.EnableTracing(testConfig())
	if err != nil {
		t.Fatalf("EnableTracing: %v", err)
	}
	if err := c.DisableTracing(id); err != nil {
		t.Fatalf("DisableTracing: %v", err)
	}
	// Session is now Stopped; a second DisableTracing must be rejected.
	err = c.DisableTracing(id)
	if err == nil {
		t.Fatal("expected error transitioning out of Stopped")
	}
	var sessErr *Error
	if !errors.As(err, &sessErr) || sessErr.Kind != KindProtocolViolation {
		t.Fatalf("expected KindProtocolViolation, got %v", err)
	}
}

func TestProducerDisconnectedDegradesSession(t *testing.T) {
	c := NewController(1<<30, nil, nil)
	conn := &fakeProducerConn{}
	c.RegisterProducer(1, conn, nil)
	if err := c.RegisterDataSource(1, "cpu_samples", 1); err != nil {
		t.Fatalf("RegisterDataSource: %v", err)
	}
	id, err := c.EnableTracing(testConfig())
	if err != nil {
		t.Fatalf("EnableTracing: %v", err)
	}

	c.ProducerDisconnected(1)

	_, status, _ := c.Session(id)
	if status.Kind != StatusDegraded {
		t.Fatalf("expected Degraded after producer disconnect, got %v", status)
	}
	c.mu.Lock()
	n := len(c.sessions[id].instances)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected instances to be cleared, got %d", n)
	}
}
