// Package ipc realizes the wire-level Service<->Producer and
// Service<->Consumer protocol described in spec.md §6.1: the message
// shapes, the capability interfaces each side exposes to the other, an
// in-process transport for tests and single-binary deployments, and a
// Connect-RPC transport for everything else.
package ipc

import (
	"time"

	"tracesvc/internal/sessionctl"
)

// InitializeConnection is the first message a producer sends (spec.md
// §6.1), describing the shared-memory region it has already mapped.
type InitializeConnection struct {
	ProducerID          uint32
	RegionPath          string // path or platform handle identifying the mapped SMB region
	RegionBytes         int64
	RequestedPageSizeKB uint32
}

// InitializeConnectionReply is the Service's handshake response: the
// per-producer region size and the page-header word width the producer must
// use for Layout16 pages. Service.InitializeConnection returns the requested
// RegionBytes unchanged; no clamping is applied to oversized requests.
type InitializeConnectionReply struct {
	AcceptedRegionBytes int64
	PageSizeKB          uint32
	Layout16HeaderWidth int // 4 or 8, see smb.Layout.HeaderWidth
}

// RegisterDataSource advertises one data source a producer can supply.
type RegisterDataSource struct {
	ProducerID   uint32
	Name         string
	Capabilities []byte // opaque, producer-defined
}

// RegisterDataSourceReply returns the data_source_id the service assigned.
type RegisterDataSourceReply struct {
	DataSourceID uint64
}

// UnregisterDataSource retracts a previously advertised data source.
type UnregisterDataSource struct {
	ProducerID   uint32
	DataSourceID uint64
}

// NotifyPagesChanged tells the service that one or more pages in the
// producer's region transitioned to Complete and are ready to be scanned
// (spec.md §4.3's ingestion trigger). Rate-limited per connection; see
// ratelimit.go.
type NotifyPagesChanged struct {
	ProducerID uint32
}

// StartDataSource instructs a producer to begin writing a configured data
// source instance into a specific target_buffer (service -> producer).
type StartDataSource struct {
	InstanceID   uint64
	DataSource   sessionctl.DataSourceConfig
	TargetBuffer uint16
}

// StopDataSource instructs a producer to stop and tear down an instance.
type StopDataSource struct {
	InstanceID uint64
}

// FlushRequest asks a producer to flush every named instance's in-progress
// writer state (emit a final short chunk, update headers) before deadline.
type FlushRequest struct {
	FlushID     uint64
	InstanceIDs []uint64
	Deadline    time.Time
}

// EnableTracing is the consumer-facing session-creation request.
type EnableTracing struct {
	Config sessionctl.TraceConfig
}

// EnableTracingReply returns the newly created session's id.
type EnableTracingReply struct {
	SessionID string // uuid.UUID.String()
}

// DisableTracing asks the service to stop a session; destroying it is a
// separate FreeBuffers request.
type DisableTracing struct {
	SessionID string
}

// FlushConsumerRequest asks the service to run one flush cycle on a running
// session (spec.md §4.4's Flushing state).
type FlushConsumerRequest struct {
	SessionID string
	TimeoutMS uint32
}

// ReadBuffersRequest asks for any newly reassembled records.
type ReadBuffersRequest struct {
	SessionID string
}

// ReadBuffersReply carries reassembled records plus the session's current
// status, so a consumer always knows if loss has occurred (spec.md §7).
// HasMore reports whether further completed records are already queued up
// for this session (spec.md §6.1), so a polling consumer knows to call
// ReadBuffers again immediately instead of waiting out its poll interval;
// see DESIGN.md's Open Question decisions for why this is a unary
// request/reply with a pagination flag rather than a server-streamed RPC.
type ReadBuffersReply struct {
	Records []ReadRecord
	Status  sessionctl.Status
	HasMore bool
}

// ReadRecord is one reassembled record as delivered to a consumer.
type ReadRecord struct {
	ProducerID uint32
	WriterID   uint16
	Payload    []byte
}

// FreeBuffersRequest disposes of a Stopped session and releases its
// reserved platform buffer budget.
type FreeBuffersRequest struct {
	SessionID string
}
