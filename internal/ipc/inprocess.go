package ipc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tracesvc/internal/sessionctl"
	"tracesvc/internal/smb"
)

// ProducerClient is the producer side's inbound handler: what the service
// calls back on a producer connection (spec.md §6.1's
// StartDataSource/StopDataSource/FlushRequest). A real producer process
// implements this directly; tests can fake it.
type ProducerClient interface {
	StartDataSource(ctx context.Context, req StartDataSource) error
	StopDataSource(ctx context.Context, req StopDataSource) error
	FlushRequest(ctx context.Context, req FlushRequest) error
}

// producerConnAdapter adapts a ProducerClient to sessionctl.ProducerConn,
// the narrower interface the controller actually calls, so sessionctl
// never needs to import this package.
type producerConnAdapter struct {
	client ProducerClient
}

func (a producerConnAdapter) StartDataSource(instanceID uint64, ds sessionctl.DataSourceConfig, targetBuffer uint16) error {
	return a.client.StartDataSource(context.Background(), StartDataSource{
		InstanceID:   instanceID,
		DataSource:   ds,
		TargetBuffer: targetBuffer,
	})
}

func (a producerConnAdapter) StopDataSource(instanceID uint64) error {
	return a.client.StopDataSource(context.Background(), StopDataSource{InstanceID: instanceID})
}

func (a producerConnAdapter) FlushRequest(flushID uint64, instanceIDs []uint64, deadline time.Time) error {
	return a.client.FlushRequest(context.Background(), FlushRequest{
		FlushID:     flushID,
		InstanceIDs: instanceIDs,
		Deadline:    deadline,
	})
}

// Service is the in-process realization of both ProducerEndpoint and
// ConsumerEndpoint, dispatching directly onto a sessionctl.Controller. The
// Connect-RPC transport (connect.go) wraps one of these per process; tests
// and single-binary deployments can use it directly with no network hop.
type Service struct {
	ctrl   *sessionctl.Controller
	notify *NotifyLimiter

	mu              sync.Mutex
	dataSourceNames map[uint64]dsNameKey // reverse lookup for UnregisterDataSource
	nextDSID        atomic.Uint64
}

type dsNameKey struct {
	producerID uint32
	name       string
}

// NewService constructs a Service over ctrl.
func NewService(ctrl *sessionctl.Controller) *Service {
	return &Service{
		ctrl:            ctrl,
		notify:          NewNotifyLimiter(),
		dataSourceNames: make(map[uint64]dsNameKey),
	}
}

// RegisterProducer is the out-of-band step that binds a producer_id to its
// outbound connection and mapped SMB region, the two things that can never
// travel inside an ordinary RPC payload. A real transport calls this once
// per accepted connection, before dispatching any inbound message from it.
func (s *Service) RegisterProducer(producerID uint32, client ProducerClient, region *smb.Region) {
	s.ctrl.RegisterProducer(producerID, producerConnAdapter{client: client}, region)
}

// ProducerDisconnected tears down a producer's live state.
func (s *Service) ProducerDisconnected(producerID uint32) {
	s.ctrl.ProducerDisconnected(producerID)
	s.notify.Forget(producerID)
}

// --- ProducerEndpoint ---

func (s *Service) InitializeConnection(_ context.Context, req InitializeConnection) (InitializeConnectionReply, error) {
	// The accepted region size is whatever the producer already mapped;
	// admission control for the *session* buffer budget happens at
	// EnableTracing time, not at connection time (spec.md §4.4 draws this
	// line: a producer's own SMB region is sized independently of any
	// session's central buffers).
	return InitializeConnectionReply{
		AcceptedRegionBytes: req.RegionBytes,
		PageSizeKB:          req.RequestedPageSizeKB,
		Layout16HeaderWidth: 8,
	}, nil
}

func (s *Service) RegisterDataSource(_ context.Context, req RegisterDataSource) (RegisterDataSourceReply, error) {
	id := s.nextDSID.Add(1)
	if err := s.ctrl.RegisterDataSource(req.ProducerID, req.Name, id); err != nil {
		return RegisterDataSourceReply{}, err
	}
	s.mu.Lock()
	s.dataSourceNames[id] = dsNameKey{producerID: req.ProducerID, name: req.Name}
	s.mu.Unlock()
	return RegisterDataSourceReply{DataSourceID: id}, nil
}

func (s *Service) UnregisterDataSource(_ context.Context, req UnregisterDataSource) error {
	s.mu.Lock()
	key, ok := s.dataSourceNames[req.DataSourceID]
	delete(s.dataSourceNames, req.DataSourceID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("ipc: unknown data_source_id %d", req.DataSourceID)
	}
	s.ctrl.UnregisterDataSource(key.producerID, key.name)
	return nil
}

func (s *Service) NotifyPagesChanged(_ context.Context, req NotifyPagesChanged) error {
	if !s.notify.Allow(req.ProducerID) {
		return fmt.Errorf("ipc: producer %d exceeded notify rate limit", req.ProducerID)
	}
	s.ctrl.ScanProducer(req.ProducerID)
	return nil
}

// --- ConsumerEndpoint ---

func (s *Service) EnableTracing(_ context.Context, req EnableTracing) (EnableTracingReply, error) {
	id, err := s.ctrl.EnableTracing(req.Config)
	if err != nil {
		return EnableTracingReply{}, err
	}
	return EnableTracingReply{SessionID: id.String()}, nil
}

func (s *Service) DisableTracing(_ context.Context, req DisableTracing) error {
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		return fmt.Errorf("ipc: invalid session_id: %w", err)
	}
	return s.ctrl.DisableTracing(id)
}

func (s *Service) FlushConsumer(_ context.Context, req FlushConsumerRequest) error {
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		return fmt.Errorf("ipc: invalid session_id: %w", err)
	}
	return s.ctrl.FlushConsumer(id, time.Duration(req.TimeoutMS)*time.Millisecond)
}

func (s *Service) ReadBuffers(_ context.Context, req ReadBuffersRequest) (ReadBuffersReply, error) {
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		return ReadBuffersReply{}, fmt.Errorf("ipc: invalid session_id: %w", err)
	}
	records, hasMore, err := s.ctrl.ReadBuffers(id)
	if err != nil {
		return ReadBuffersReply{}, err
	}
	_, status, _ := s.ctrl.Session(id)

	out := make([]ReadRecord, len(records))
	for i, r := range records {
		out[i] = ReadRecord{ProducerID: r.ProducerID, WriterID: r.WriterID, Payload: r.Payload}
	}
	return ReadBuffersReply{Records: out, Status: status, HasMore: hasMore}, nil
}

func (s *Service) FreeBuffers(_ context.Context, req FreeBuffersRequest) error {
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		return fmt.Errorf("ipc: invalid session_id: %w", err)
	}
	return s.ctrl.FreeBuffers(id)
}
