package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"tracesvc/internal/logging"
)

func TestRunShutsDownCleanlyOnContextCancel(t *testing.T) {
	t.Setenv("LISTEN_ADDR_PRODUCER", "127.0.0.1:0")
	t.Setenv("LISTEN_ADDR_CONSUMER", "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- run(ctx, logging.Discard(), "") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		if code != exitOK {
			t.Fatalf("expected exit code %d, got %d", exitOK, code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not shut down in time")
	}
}

func TestRunReturnsBindErrorOnUnparsableAddr(t *testing.T) {
	t.Setenv("LISTEN_ADDR_PRODUCER", "not-a-valid-address")
	t.Setenv("LISTEN_ADDR_CONSUMER", "127.0.0.1:0")

	code := run(context.Background(), slog.New(slog.DiscardHandler), "")
	if code != exitBindError {
		t.Fatalf("expected exit code %d, got %d", exitBindError, code)
	}
}
