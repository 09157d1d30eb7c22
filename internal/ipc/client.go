package ipc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

// ConnectProducerConn implements ProducerClient over Connect RPC: the
// service's outbound calls to a producer process running
// NewProducerCallbackServer. It adapts to sessionctl.ProducerConn via
// producerConnAdapter the same way the in-process variant does.
type ConnectProducerConn struct {
	start *connect.Client[StartDataSource, Empty]
	stop  *connect.Client[StopDataSource, Empty]
	flush *connect.Client[FlushRequest, Empty]
}

// NewConnectProducerConn dials a producer's callback server at baseURL.
func NewConnectProducerConn(httpClient connect.HTTPClient, baseURL string) *ConnectProducerConn {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := defaultClientOpts(nil)
	return &ConnectProducerConn{
		start: connect.NewClient[StartDataSource, Empty](httpClient, baseURL+procStartDataSource, opts...),
		stop:  connect.NewClient[StopDataSource, Empty](httpClient, baseURL+procStopDataSource, opts...),
		flush: connect.NewClient[FlushRequest, Empty](httpClient, baseURL+procFlushRequest, opts...),
	}
}

func (c *ConnectProducerConn) StartDataSource(ctx context.Context, req StartDataSource) error {
	_, err := c.start.CallUnary(ctx, connect.NewRequest(&req))
	return err
}

func (c *ConnectProducerConn) StopDataSource(ctx context.Context, req StopDataSource) error {
	_, err := c.stop.CallUnary(ctx, connect.NewRequest(&req))
	return err
}

func (c *ConnectProducerConn) FlushRequest(ctx context.Context, req FlushRequest) error {
	_, err := c.flush.CallUnary(ctx, connect.NewRequest(&req))
	return err
}

// ProducerServiceClient is a producer process's Connect client for the
// producer-facing RPCs (spec.md §6.1's producer->service messages).
type ProducerServiceClient struct {
	initConn   *connect.Client[InitializeConnection, InitializeConnectionReply]
	regDS      *connect.Client[RegisterDataSource, RegisterDataSourceReply]
	unregDS    *connect.Client[UnregisterDataSource, Empty]
	notifyPage *connect.Client[NotifyPagesChanged, Empty]
}

// NewProducerServiceClient dials the service's producer RPC surface at baseURL.
func NewProducerServiceClient(httpClient connect.HTTPClient, baseURL string) *ProducerServiceClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := defaultClientOpts(nil)
	return &ProducerServiceClient{
		initConn:   connect.NewClient[InitializeConnection, InitializeConnectionReply](httpClient, baseURL+procInitializeConnection, opts...),
		regDS:      connect.NewClient[RegisterDataSource, RegisterDataSourceReply](httpClient, baseURL+procRegisterDataSource, opts...),
		unregDS:    connect.NewClient[UnregisterDataSource, Empty](httpClient, baseURL+procUnregisterDataSource, opts...),
		notifyPage: connect.NewClient[NotifyPagesChanged, Empty](httpClient, baseURL+procNotifyPagesChanged, opts...),
	}
}

func (c *ProducerServiceClient) InitializeConnection(ctx context.Context, req InitializeConnection) (InitializeConnectionReply, error) {
	resp, err := c.initConn.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return InitializeConnectionReply{}, err
	}
	return *resp.Msg, nil
}

func (c *ProducerServiceClient) RegisterDataSource(ctx context.Context, req RegisterDataSource) (RegisterDataSourceReply, error) {
	resp, err := c.regDS.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return RegisterDataSourceReply{}, err
	}
	return *resp.Msg, nil
}

func (c *ProducerServiceClient) UnregisterDataSource(ctx context.Context, req UnregisterDataSource) error {
	_, err := c.unregDS.CallUnary(ctx, connect.NewRequest(&req))
	return err
}

func (c *ProducerServiceClient) NotifyPagesChanged(ctx context.Context, req NotifyPagesChanged) error {
	_, err := c.notifyPage.CallUnary(ctx, connect.NewRequest(&req))
	return err
}

// ConsumerServiceClient is a consumer process's Connect client for the
// session-lifecycle and read-path RPCs.
type ConsumerServiceClient struct {
	enable  *connect.Client[EnableTracing, EnableTracingReply]
	disable *connect.Client[DisableTracing, Empty]
	flush   *connect.Client[FlushConsumerRequest, Empty]
	read    *connect.Client[ReadBuffersRequest, ReadBuffersReply]
	free    *connect.Client[FreeBuffersRequest, Empty]
}

// NewConsumerServiceClient dials the service's consumer RPC surface at baseURL.
func NewConsumerServiceClient(httpClient connect.HTTPClient, baseURL string) *ConsumerServiceClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := defaultClientOpts(nil)
	return &ConsumerServiceClient{
		enable:  connect.NewClient[EnableTracing, EnableTracingReply](httpClient, baseURL+procEnableTracing, opts...),
		disable: connect.NewClient[DisableTracing, Empty](httpClient, baseURL+procDisableTracing, opts...),
		flush:   connect.NewClient[FlushConsumerRequest, Empty](httpClient, baseURL+procFlushConsumer, opts...),
		read:    connect.NewClient[ReadBuffersRequest, ReadBuffersReply](httpClient, baseURL+procReadBuffers, opts...),
		free:    connect.NewClient[FreeBuffersRequest, Empty](httpClient, baseURL+procFreeBuffers, opts...),
	}
}

func (c *ConsumerServiceClient) EnableTracing(ctx context.Context, req EnableTracing) (EnableTracingReply, error) {
	resp, err := c.enable.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return EnableTracingReply{}, err
	}
	return *resp.Msg, nil
}

func (c *ConsumerServiceClient) DisableTracing(ctx context.Context, req DisableTracing) error {
	_, err := c.disable.CallUnary(ctx, connect.NewRequest(&req))
	return err
}

func (c *ConsumerServiceClient) FlushConsumer(ctx context.Context, req FlushConsumerRequest) error {
	_, err := c.flush.CallUnary(ctx, connect.NewRequest(&req))
	return err
}

func (c *ConsumerServiceClient) ReadBuffers(ctx context.Context, req ReadBuffersRequest) (ReadBuffersReply, error) {
	resp, err := c.read.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return ReadBuffersReply{}, err
	}
	return *resp.Msg, nil
}

func (c *ConsumerServiceClient) FreeBuffers(ctx context.Context, req FreeBuffersRequest) error {
	_, err := c.free.CallUnary(ctx, connect.NewRequest(&req))
	return err
}
