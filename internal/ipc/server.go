package ipc

import (
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// NewServer builds the plaintext HTTP/2 (h2c) handler serving both the
// producer and consumer RPC surfaces on one listener. Used by the
// single-process deployment mode and by tests; the two-socket deployment
// (spec.md §6.5's LISTEN_ADDR_PRODUCER/LISTEN_ADDR_CONSUMER) uses
// NewProducerServer/NewConsumerServer instead.
func NewServer(svc *Service) http.Handler {
	mux := http.NewServeMux()
	NewProducerServiceHandler(mux, svc)
	NewConsumerServiceHandler(mux, svc)
	return h2c.NewHandler(mux, &http2.Server{})
}

// NewProducerServer builds the h2c handler serving only the producer RPC
// surface, for binding to LISTEN_ADDR_PRODUCER.
func NewProducerServer(svc *Service) http.Handler {
	mux := http.NewServeMux()
	NewProducerServiceHandler(mux, svc)
	return h2c.NewHandler(mux, &http2.Server{})
}

// NewConsumerServer builds the h2c handler serving only the consumer RPC
// surface, for binding to LISTEN_ADDR_CONSUMER.
func NewConsumerServer(svc *Service) http.Handler {
	mux := http.NewServeMux()
	NewConsumerServiceHandler(mux, svc)
	return h2c.NewHandler(mux, &http2.Server{})
}

// NewProducerCallbackServer builds the h2c handler a producer process runs
// to receive StartDataSource/StopDataSource/FlushRequest callbacks from the
// service.
func NewProducerCallbackServer(impl ProducerClient) http.Handler {
	mux := http.NewServeMux()
	NewProducerCallbackHandler(mux, impl)
	return h2c.NewHandler(mux, &http2.Server{})
}
