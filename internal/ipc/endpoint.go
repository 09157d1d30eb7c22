package ipc

import "context"

// ProducerEndpoint is the Service's view of one producer connection: every
// message a producer can send inbound (spec.md §6.1). Both the in-process
// and Connect-RPC transports dispatch onto one of these per connection.
type ProducerEndpoint interface {
	InitializeConnection(ctx context.Context, req InitializeConnection) (InitializeConnectionReply, error)
	RegisterDataSource(ctx context.Context, req RegisterDataSource) (RegisterDataSourceReply, error)
	UnregisterDataSource(ctx context.Context, req UnregisterDataSource) error
	NotifyPagesChanged(ctx context.Context, req NotifyPagesChanged) error
}

// ConsumerEndpoint is the Service's view of one consumer connection: the
// session-lifecycle and read-path messages (spec.md §6.1).
type ConsumerEndpoint interface {
	EnableTracing(ctx context.Context, req EnableTracing) (EnableTracingReply, error)
	DisableTracing(ctx context.Context, req DisableTracing) error
	FlushConsumer(ctx context.Context, req FlushConsumerRequest) error
	ReadBuffers(ctx context.Context, req ReadBuffersRequest) (ReadBuffersReply, error)
	FreeBuffers(ctx context.Context, req FreeBuffersRequest) error
}
