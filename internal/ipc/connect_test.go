package ipc

import (
	"context"
	"net/http/httptest"
	"testing"

	"tracesvc/internal/bufferengine"
	"tracesvc/internal/sessionctl"
)

func TestConnectConsumerRoundTrip(t *testing.T) {
	svc := newTestService()
	srv := httptest.NewServer(NewServer(svc))
	defer srv.Close()

	client := NewConsumerServiceClient(nil, srv.URL)
	ctx := context.Background()

	reply, err := client.EnableTracing(ctx, EnableTracing{Config: sessionctl.TraceConfig{
		Buffers: []sessionctl.BufferConfig{{SizeKB: 64, FillPolicy: bufferengine.FillRing}},
	}})
	if err != nil {
		t.Fatalf("EnableTracing: %v", err)
	}
	if reply.SessionID == "" {
		t.Fatal("expected a session id")
	}

	rb, err := client.ReadBuffers(ctx, ReadBuffersRequest{SessionID: reply.SessionID})
	if err != nil {
		t.Fatalf("ReadBuffers: %v", err)
	}
	if rb.Status.Kind != sessionctl.StatusOK {
		t.Fatalf("expected OK status, got %v", rb.Status)
	}

	if err := client.DisableTracing(ctx, DisableTracing{SessionID: reply.SessionID}); err != nil {
		t.Fatalf("DisableTracing: %v", err)
	}
	if err := client.FreeBuffers(ctx, FreeBuffersRequest{SessionID: reply.SessionID}); err != nil {
		t.Fatalf("FreeBuffers: %v", err)
	}
}

func TestConnectProducerRoundTrip(t *testing.T) {
	svc := newTestService()
	srv := httptest.NewServer(NewServer(svc))
	defer srv.Close()

	client := NewProducerServiceClient(nil, srv.URL)
	ctx := context.Background()

	initReply, err := client.InitializeConnection(ctx, InitializeConnection{
		ProducerID:  1,
		RegionBytes: 1 << 20,
	})
	if err != nil {
		t.Fatalf("InitializeConnection: %v", err)
	}
	if initReply.AcceptedRegionBytes != 1<<20 {
		t.Fatalf("expected echoed region size, got %d", initReply.AcceptedRegionBytes)
	}

	svc.RegisterProducer(1, &fakeProducerClient{}, nil)
	dsReply, err := client.RegisterDataSource(ctx, RegisterDataSource{ProducerID: 1, Name: "cpu_samples"})
	if err != nil {
		t.Fatalf("RegisterDataSource: %v", err)
	}
	if dsReply.DataSourceID == 0 {
		t.Fatal("expected a nonzero data_source_id")
	}

	if err := client.UnregisterDataSource(ctx, UnregisterDataSource{ProducerID: 1, DataSourceID: dsReply.DataSourceID}); err != nil {
		t.Fatalf("UnregisterDataSource: %v", err)
	}
	if err := client.NotifyPagesChanged(ctx, NotifyPagesChanged{ProducerID: 1}); err != nil {
		t.Fatalf("NotifyPagesChanged: %v", err)
	}
}

func TestConnectProducerCallbackRoundTrip(t *testing.T) {
	impl := &fakeProducerClient{}
	srv := httptest.NewServer(NewProducerCallbackServer(impl))
	defer srv.Close()

	conn := NewConnectProducerConn(nil, srv.URL)
	ctx := context.Background()

	if err := conn.StartDataSource(ctx, StartDataSource{InstanceID: 1, TargetBuffer: 0}); err != nil {
		t.Fatalf("StartDataSource: %v", err)
	}
	if err := conn.FlushRequest(ctx, FlushRequest{FlushID: 1, InstanceIDs: []uint64{1}}); err != nil {
		t.Fatalf("FlushRequest: %v", err)
	}
	if err := conn.StopDataSource(ctx, StopDataSource{InstanceID: 1}); err != nil {
		t.Fatalf("StopDataSource: %v", err)
	}

	if len(impl.started) != 1 || len(impl.flushed) != 1 || len(impl.stopped) != 1 {
		t.Fatalf("expected 1 call of each kind, got started=%d flushed=%d stopped=%d",
			len(impl.started), len(impl.flushed), len(impl.stopped))
	}
}
