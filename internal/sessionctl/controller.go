// Package sessionctl implements the session controller: the platform's
// single source of truth for which sessions exist, which producers are
// connected, which data-source instances are live, and the state machine
// each session moves through (spec.md §3, §4.4).
package sessionctl

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"

	"tracesvc/internal/bufferengine"
	"tracesvc/internal/bufferengine/filesink"
	"tracesvc/internal/logging"
	"tracesvc/internal/smb"
)

// quotaRoundingUnit is the slot size every central buffer is created with,
// and so the granularity its byte quota rounds down to.
const quotaRoundingUnit = 4096

// producerInfo tracks one connected producer: its outbound connection and
// the data sources it has advertised (spec.md §4.4's
// "producers[producer_id] -> {connection, advertised_data_sources[]}").
type producerInfo struct {
	ID     uint32
	Conn   ProducerConn
	Region *smb.Region

	// sources maps an advertised data source name to the data_source_id
	// the IPC layer assigned it.
	sources map[string]uint64
}

// Controller is the platform-wide session/producer registry and matchmaker.
type Controller struct {
	mu sync.Mutex

	sessions  map[uuid.UUID]*Session
	producers map[uint32]*producerInfo

	platformBudgetBytes int64
	reservedBytes       int64

	sched  *Scheduler
	dedup  *Dedup
	logger *slog.Logger

	nextInstanceID uint64
}

// NewController constructs a Controller with the given platform-wide
// central-buffer byte budget (spec.md §4.4's admission control: "the sum of
// every running session's reserved buffer bytes must not exceed the
// platform's total buffer budget").
func NewController(platformBudgetBytes int64, sched *Scheduler, logger *slog.Logger) *Controller {
	return &Controller{
		sessions:            make(map[uuid.UUID]*Session),
		producers:           make(map[uint32]*producerInfo),
		platformBudgetBytes: platformBudgetBytes,
		sched:               sched,
		dedup:               NewDedup(),
		logger:              logging.Default(logger).With("component", "sessionctl"),
		nextInstanceID:      1,
	}
}

// RegisterProducer records a newly connected producer (IPC InitializeConnection).
func (c *Controller) RegisterProducer(producerID uint32, conn ProducerConn, region *smb.Region) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.producers[producerID] = &producerInfo{
		ID:      producerID,
		Conn:    conn,
		Region:  region,
		sources: make(map[string]uint64),
	}
}

// ProducerDisconnected tears down a producer's live instances across every
// session and degrades each affected session, per spec.md §5's failure
// containment: a lost producer connection never aborts sessions outright,
// it only marks them degraded with whatever loss the reassembly index
// already knows about.
func (c *Controller) ProducerDisconnected(producerID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.producers, producerID)

	for _, sess := range c.sessions {
		var kept []*instance
		lost := false
		for _, inst := range sess.instances {
			if inst.ProducerID == producerID {
				lost = true
				continue
			}
			kept = append(kept, inst)
		}
		if lost {
			sess.instances = kept
			sess.Status.Degrade(0, 0)
			c.logger.Warn("producer disconnected, session degraded", "session", sess.ID, "producer_id", producerID)
		}
	}
}

// RegisterDataSource records a producer's advertised data source and
// performs matchmaking: every Running session whose config
// requests a data source of this name (and whose producer_filter, if set,
// matches) gets a new live instance started on this producer immediately.
func (c *Controller) RegisterDataSource(producerID uint32, name string, dataSourceID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.producers[producerID]
	if !ok {
		return newErr(KindProtocolViolation, ErrProducerNotFound)
	}
	p.sources[name] = dataSourceID

	for _, sess := range c.sessions {
		if sess.State != StateRunning {
			continue
		}
		for _, ds := range sess.Config.DataSources {
			if ds.Name != name {
				continue
			}
			if err := c.startInstanceLocked(sess, p, ds); err != nil {
				c.logger.Warn("matchmaking failed to start instance", "session", sess.ID, "producer_id", producerID, "data_source", name, "error", err)
			}
		}
	}
	return nil
}

// UnregisterDataSource removes a producer's advertised source and stops any
// live instance built on it.
func (c *Controller) UnregisterDataSource(producerID uint32, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.producers[producerID]; ok {
		delete(p.sources, name)
	}
	for _, sess := range c.sessions {
		var kept []*instance
		for _, inst := range sess.instances {
			if inst.ProducerID == producerID && inst.DSName == name {
				_ = inst.conn.StopDataSource(inst.ID)
				continue
			}
			kept = append(kept, inst)
		}
		sess.instances = kept
	}
}

// startInstanceLocked starts one (session, producer, data_source) instance.
// Caller holds c.mu.
func (c *Controller) startInstanceLocked(sess *Session, p *producerInfo, ds DataSourceConfig) error {
	if ds.ProducerFilter != "" && ds.ProducerFilter != p.sourceFilterKey() {
		return nil
	}
	id := c.nextInstanceID
	c.nextInstanceID++
	if err := p.Conn.StartDataSource(id, ds, ds.TargetBuffer); err != nil {
		return err
	}
	sess.instances = append(sess.instances, &instance{
		ID:           id,
		ProducerID:   p.ID,
		DSName:       ds.Name,
		TargetBuffer: ds.TargetBuffer,
		conn:         p.Conn,
	})
	return nil
}

// sourceFilterKey is a placeholder hook: producers advertise no name of
// their own (only their data sources do), so it returns "" and a non-empty
// producer_filter matches no producer.
func (p *producerInfo) sourceFilterKey() string { return "" }

// EnableTracing validates and admits a new session, allocating its central
// buffers and, absent a start trigger, transitioning it straight to
// Running and performing the initial matchmaking scan against every
// already-connected producer (spec.md §4.4's Configured entry action).
func (c *Controller) EnableTracing(cfg TraceConfig) (uuid.UUID, error) {
	if len(cfg.Buffers) == 0 {
		return uuid.Nil, newErr(KindConfigInvalid, fmt.Errorf("trace config has no buffers"))
	}
	total := cfg.TotalBufferBytes()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reservedBytes+total > c.platformBudgetBytes {
		return uuid.Nil, newErr(KindResourceExhausted, ErrBudgetExceeded)
	}

	buffers := make([]*bufferengine.CentralBuffer, 0, len(cfg.Buffers))
	for i, bc := range cfg.Buffers {
		// quotaRoundingUnit only governs how a buffer's byte quota rounds
		// down to a whole number of slots (bufferengine.NewCentralBuffer);
		// it is not a hard chunk-size constraint, since a page's actual
		// chunk size varies by smb.Layout.
		cb, err := bufferengine.NewCentralBuffer(uint16(i), int64(bc.SizeKB)*1024, quotaRoundingUnit, bc.FillPolicy)
		if err != nil {
			return uuid.Nil, newErr(KindConfigInvalid, err)
		}
		buffers = append(buffers, cb)
	}

	var sink filesink.Sink
	if cfg.WriteIntoFile {
		// No sink is opened: the engine is built with a nil sink, so a
		// write_into_file session is accepted but nothing is written to
		// OutputPath.
		sink = nil
	}

	engine := bufferengine.NewEngine(buffers, sink, c.logger)
	name := cfg.Name
	if name == "" {
		// Unnamed sessions still need a stable handle for log correlation
		// (the uuid is unique but unreadable); petname.Generate mirrors the
		// auto-naming pattern containers/VMs reach for when a caller
		// doesn't supply one.
		name = petname.Generate(2, "-")
	}

	sess := &Session{
		ID:               uuid.New(),
		Name:             name,
		Config:           cfg,
		State:            StateConfigured,
		Status:           Status{Kind: StatusOK},
		Engine:           engine,
		cursor:           bufferengine.NewCursor(engine),
		reservedBufBytes: total,
		wallClockAt:      time.Now(),
	}
	c.sessions[sess.ID] = sess
	c.reservedBytes += total

	if cfg.Trigger == nil || cfg.Trigger.Mode != TriggerStartTracing {
		if err := c.startLocked(sess); err != nil {
			return sess.ID, err
		}
	}
	return sess.ID, nil
}

// startLocked performs the Configured->Running transition: matchmaking
// against every connected producer, plus the duration and flush-period
// timers. Caller holds c.mu.
func (c *Controller) startLocked(sess *Session) error {
	if !canTransition(sess.State, StateRunning) {
		return newErr(KindProtocolViolation, &ErrIllegalStateTransition{From: sess.State, To: StateRunning})
	}
	sess.State = StateRunning

	for _, p := range c.producers {
		for _, ds := range sess.Config.DataSources {
			if _, advertised := p.sources[ds.Name]; !advertised {
				continue
			}
			if err := c.startInstanceLocked(sess, p, ds); err != nil {
				c.logger.Warn("initial matchmaking failed to start instance", "session", sess.ID, "session_name", sess.Name, "producer_id", p.ID, "data_source", ds.Name, "error", err)
			}
		}
	}

	if c.sched != nil {
		if sess.Config.DurationMS > 0 {
			sessID := sess.ID
			job, err := c.sched.Once(time.Duration(sess.Config.DurationMS)*time.Millisecond, func() {
				_ = c.DisableTracing(sessID)
			})
			if err == nil {
				sess.durationTimer = job
			}
		}
		if sess.Config.FlushPeriodMS > 0 {
			sessID := sess.ID
			job, err := c.sched.Every(time.Duration(sess.Config.FlushPeriodMS)*time.Millisecond, func() {
				_ = c.FlushConsumer(sessID, time.Duration(sess.Config.FlushPeriodMS)*time.Millisecond)
			})
			if err == nil {
				sess.flushTicker = job
			}
		}
	}
	return nil
}

// FlushConsumer drives one Running->Flushing->Running cycle: every live
// instance is asked to flush its writer state and ack, with the fan-out and
// partial-failure handling of flushAll. A failing/timing-out producer
// degrades the session rather than aborting the flush for every other
// producer (spec.md §5).
func (c *Controller) FlushConsumer(sessionID uuid.UUID, timeout time.Duration) error {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return newErr(KindProtocolViolation, ErrSessionNotFound)
	}
	if !canTransition(sess.State, StateFlushing) {
		c.mu.Unlock()
		return newErr(KindProtocolViolation, &ErrIllegalStateTransition{From: sess.State, To: StateFlushing})
	}
	sess.State = StateFlushing
	instances := append([]*instance(nil), sess.instances...)
	c.mu.Unlock()

	flushID := sess.nextFlushID()
	deadline := time.Now().Add(timeout)
	err := c.dedup.Do(sessionIDKey(sessionID), flushID, func() error {
		return flushAll(flushID, instances, deadline)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		sess.Status.Degrade(0, 0)
		c.logger.Warn("flush had partial failures", "session", sessionID, "error", err)
	}
	sess.State = StateRunning
	if sess.pendingStop {
		sess.pendingStop = false
		_ = c.stopLocked(sess)
	}
	return nil
}

// DisableTracing drives Running->Stopping->Stopped. If the session is
// currently Flushing, the stop is recorded and applied once the in-flight
// flush resolves (spec.md §4.4: Flushing has no direct edge to Stopping).
// A Configured session is rejected with ErrIllegalStateTransition; it is
// disposed with FreeBuffers instead.
func (c *Controller) DisableTracing(sessionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return newErr(KindProtocolViolation, ErrSessionNotFound)
	}
	if sess.State == StateFlushing {
		sess.pendingStop = true
		return nil
	}
	return c.stopLocked(sess)
}

// stopLocked performs ->Stopping->Stopped. Caller holds c.mu.
func (c *Controller) stopLocked(sess *Session) error {
	if !canTransition(sess.State, StateStopping) {
		return newErr(KindProtocolViolation, &ErrIllegalStateTransition{From: sess.State, To: StateStopping})
	}
	sess.State = StateStopping

	if c.sched != nil {
		_ = c.sched.Cancel(sess.durationTimer)
		_ = c.sched.Cancel(sess.flushTicker)
	}

	if err := stopAll(sess.instances); err != nil {
		sess.Status.Degrade(0, 0)
		c.logger.Warn("stop had partial failures", "session", sess.ID, "error", err)
	}
	sess.instances = nil
	sess.State = StateStopped
	return nil
}

// ReadBuffers drains every writer sequence of the session's live producers,
// plus every sequence an earlier ReadBuffers call already reached, and
// returns newly reassembled records, plus
// hasMore indicating whether further completed records are already queued
// up for this session (spec.md §6.1's ReadBuffersReply.has_more).
func (c *Controller) ReadBuffers(sessionID uuid.UUID) (records []bufferengine.Record, hasMore bool, err error) {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil, false, newErr(KindProtocolViolation, ErrSessionNotFound)
	}
	keys := c.knownSequenceKeysLocked(sess)
	cursor := sess.cursor
	c.mu.Unlock()

	records, hasMore = cursor.ReadBuffers(keys)
	return records, hasMore, nil
}

// knownSequenceKeysLocked enumerates the (producer_id, writer_id) pairs a
// session's instances could have written. writer_id assignment is owned by
// the producer side and not known to the controller ahead of ingestion, so
// this asks the session's own engine for every writer_id it has actually
// observed for each producer with a live instance.
func (c *Controller) knownSequenceKeysLocked(sess *Session) []bufferengine.SequenceKey {
	var keys []bufferengine.SequenceKey
	for _, pid := range sess.producerIDs() {
		keys = append(keys, sess.Engine.KeysForProducer(pid)...)
	}
	return keys
}

// FreeBuffers destroys a Stopped session, releasing its reserved buffer
// budget. It is the Dispose operation spec.md §4.4 permits only from
// Stopped (or Configured, if a session is abandoned before ever starting).
func (c *Controller) FreeBuffers(sessionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return newErr(KindProtocolViolation, ErrSessionNotFound)
	}
	if sess.State != StateStopped && sess.State != StateConfigured {
		return newErr(KindProtocolViolation, fmt.Errorf("session %s not in a disposable state (%s)", sessionID, sess.State))
	}
	c.reservedBytes -= sess.reservedBufBytes
	delete(c.sessions, sessionID)
	return nil
}

// Session returns a snapshot of a session's state/status for diagnostics.
func (c *Controller) Session(sessionID uuid.UUID) (State, Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return 0, Status{}, false
	}
	return sess.State, sess.Status, true
}

// ScanProducer drives one ingestion pass for producerID across every
// session whose engine has a buffer that producer's instances target,
// called in response to a NotifyPagesChanged IPC message.
func (c *Controller) ScanProducer(producerID uint32) {
	c.mu.Lock()
	p, ok := c.producers[producerID]
	if !ok {
		c.mu.Unlock()
		return
	}
	region := p.Region
	var sessions []*Session
	for _, sess := range c.sessions {
		for _, inst := range sess.instances {
			if inst.ProducerID == producerID {
				sessions = append(sessions, sess)
				break
			}
		}
	}
	c.mu.Unlock()

	for _, sess := range sessions {
		violations := sess.Engine.ScanRegion(producerID, region)
		if len(violations) > 0 {
			c.mu.Lock()
			sess.Status.Degrade(0, 0)
			c.mu.Unlock()
			c.logger.Warn("ingestion violations", "session", sess.ID, "producer_id", producerID, "count", len(violations))
		}
	}
}
