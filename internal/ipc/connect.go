package ipc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

// Procedure paths for the hand-written (non-protobuf) unary RPCs this
// package exposes over Connect. There is no .proto pipeline for this
// protocol (spec.md §6.1's messages are plain Go structs, not IDL), so
// these are registered directly with connect.NewUnaryHandler /
// connect.NewClient instead of through buf-generated *connect packages,
// the same low-level API the generated code itself compiles down to.
const (
	procInitializeConnection = "/tracesvc.producer.v1.ProducerService/InitializeConnection"
	procRegisterDataSource   = "/tracesvc.producer.v1.ProducerService/RegisterDataSource"
	procUnregisterDataSource = "/tracesvc.producer.v1.ProducerService/UnregisterDataSource"
	procNotifyPagesChanged   = "/tracesvc.producer.v1.ProducerService/NotifyPagesChanged"

	procStartDataSource = "/tracesvc.producer.v1.ProducerCallback/StartDataSource"
	procStopDataSource  = "/tracesvc.producer.v1.ProducerCallback/StopDataSource"
	procFlushRequest    = "/tracesvc.producer.v1.ProducerCallback/FlushRequest"

	procEnableTracing  = "/tracesvc.consumer.v1.ConsumerService/EnableTracing"
	procDisableTracing = "/tracesvc.consumer.v1.ConsumerService/DisableTracing"
	procFlushConsumer  = "/tracesvc.consumer.v1.ConsumerService/FlushConsumer"
	procReadBuffers    = "/tracesvc.consumer.v1.ConsumerService/ReadBuffers"
	procFreeBuffers    = "/tracesvc.consumer.v1.ConsumerService/FreeBuffers"
)

func defaultOpts(opts []connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(msgpackCodec{})}, opts...)
}

func defaultClientOpts(opts []connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(msgpackCodec{})}, opts...)
}

// NewProducerServiceHandler registers the producer-facing unary RPCs
// (spec.md §6.1's producer->service messages) onto a ServeMux, dispatching
// onto ep. ep additionally receives InitializeConnection's producer_id so
// the HTTP layer can later correlate a connection with RegisterProducer;
// a real transport would derive producer_id from the connection/session,
// here it travels in the message itself for simplicity.
func NewProducerServiceHandler(mux *http.ServeMux, ep ProducerEndpoint, opts ...connect.HandlerOption) {
	opts = defaultOpts(opts)

	mux.Handle(procInitializeConnection, connect.NewUnaryHandler(
		procInitializeConnection,
		func(ctx context.Context, req *connect.Request[InitializeConnection]) (*connect.Response[InitializeConnectionReply], error) {
			reply, err := ep.InitializeConnection(ctx, *req.Msg)
			if err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&reply), nil
		},
		opts...,
	))

	mux.Handle(procRegisterDataSource, connect.NewUnaryHandler(
		procRegisterDataSource,
		func(ctx context.Context, req *connect.Request[RegisterDataSource]) (*connect.Response[RegisterDataSourceReply], error) {
			reply, err := ep.RegisterDataSource(ctx, *req.Msg)
			if err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&reply), nil
		},
		opts...,
	))

	mux.Handle(procUnregisterDataSource, connect.NewUnaryHandler(
		procUnregisterDataSource,
		func(ctx context.Context, req *connect.Request[UnregisterDataSource]) (*connect.Response[Empty], error) {
			if err := ep.UnregisterDataSource(ctx, *req.Msg); err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&Empty{}), nil
		},
		opts...,
	))

	mux.Handle(procNotifyPagesChanged, connect.NewUnaryHandler(
		procNotifyPagesChanged,
		func(ctx context.Context, req *connect.Request[NotifyPagesChanged]) (*connect.Response[Empty], error) {
			if err := ep.NotifyPagesChanged(ctx, *req.Msg); err != nil {
				return nil, connect.NewError(connect.CodeResourceExhausted, err)
			}
			return connect.NewResponse(&Empty{}), nil
		},
		opts...,
	))
}

// NewConsumerServiceHandler registers the consumer-facing unary RPCs onto a
// ServeMux, dispatching onto ep.
func NewConsumerServiceHandler(mux *http.ServeMux, ep ConsumerEndpoint, opts ...connect.HandlerOption) {
	opts = defaultOpts(opts)

	mux.Handle(procEnableTracing, connect.NewUnaryHandler(
		procEnableTracing,
		func(ctx context.Context, req *connect.Request[EnableTracing]) (*connect.Response[EnableTracingReply], error) {
			reply, err := ep.EnableTracing(ctx, *req.Msg)
			if err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&reply), nil
		},
		opts...,
	))

	mux.Handle(procDisableTracing, connect.NewUnaryHandler(
		procDisableTracing,
		func(ctx context.Context, req *connect.Request[DisableTracing]) (*connect.Response[Empty], error) {
			if err := ep.DisableTracing(ctx, *req.Msg); err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&Empty{}), nil
		},
		opts...,
	))

	mux.Handle(procFlushConsumer, connect.NewUnaryHandler(
		procFlushConsumer,
		func(ctx context.Context, req *connect.Request[FlushConsumerRequest]) (*connect.Response[Empty], error) {
			if err := ep.FlushConsumer(ctx, *req.Msg); err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&Empty{}), nil
		},
		opts...,
	))

	mux.Handle(procReadBuffers, connect.NewUnaryHandler(
		procReadBuffers,
		func(ctx context.Context, req *connect.Request[ReadBuffersRequest]) (*connect.Response[ReadBuffersReply], error) {
			reply, err := ep.ReadBuffers(ctx, *req.Msg)
			if err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&reply), nil
		},
		opts...,
	))

	mux.Handle(procFreeBuffers, connect.NewUnaryHandler(
		procFreeBuffers,
		func(ctx context.Context, req *connect.Request[FreeBuffersRequest]) (*connect.Response[Empty], error) {
			if err := ep.FreeBuffers(ctx, *req.Msg); err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&Empty{}), nil
		},
		opts...,
	))
}

// NewProducerCallbackHandler registers the service->producer callback RPCs
// (StartDataSource/StopDataSource/FlushRequest) a producer process must
// serve, dispatching onto impl.
func NewProducerCallbackHandler(mux *http.ServeMux, impl ProducerClient, opts ...connect.HandlerOption) {
	opts = defaultOpts(opts)

	mux.Handle(procStartDataSource, connect.NewUnaryHandler(
		procStartDataSource,
		func(ctx context.Context, req *connect.Request[StartDataSource]) (*connect.Response[Empty], error) {
			if err := impl.StartDataSource(ctx, *req.Msg); err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&Empty{}), nil
		},
		opts...,
	))

	mux.Handle(procStopDataSource, connect.NewUnaryHandler(
		procStopDataSource,
		func(ctx context.Context, req *connect.Request[StopDataSource]) (*connect.Response[Empty], error) {
			if err := impl.StopDataSource(ctx, *req.Msg); err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&Empty{}), nil
		},
		opts...,
	))

	mux.Handle(procFlushRequest, connect.NewUnaryHandler(
		procFlushRequest,
		func(ctx context.Context, req *connect.Request[FlushRequest]) (*connect.Response[Empty], error) {
			if err := impl.FlushRequest(ctx, *req.Msg); err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&Empty{}), nil
		},
		opts...,
	))
}

// Empty is the unary response for calls with no return payload, standing
// in for protobuf's well-known empty message.
type Empty struct{}
