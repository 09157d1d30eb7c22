// Command tracesvc runs the tracing service: the session controller and
// its producer/consumer IPC surfaces.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"tracesvc/internal/config"
	"tracesvc/internal/ipc"
	"tracesvc/internal/logging"
	"tracesvc/internal/sessionctl"
)

// Exit codes, spec.md §6.5.
const (
	exitOK            = 0
	exitConfigError   = 64
	exitBindError     = 65
	exitInvariantFail = 70
)

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "tracesvc",
		Short: "System-wide tracing service",
	}
	rootCmd.PersistentFlags().String("bootstrap-file", "", "optional key=value config file, hot-reloaded for MAX_TOTAL_BUFFER_MB")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session controller and its IPC surfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrapFile, _ := cmd.Flags().GetString("bootstrap-file")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			code := run(ctx, logger, bootstrapFile)
			if code != exitOK {
				os.Exit(code)
			}
			return nil
		},
	}
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitConfigError)
	}
}

var version = "dev"

// run wires config -> sessionctl.Controller -> ipc.Service -> two h2c
// listeners, then blocks until ctx is cancelled. It returns a spec.md
// §6.5 exit code rather than calling os.Exit itself, so tests can call it
// directly (main_test.go does).
func run(ctx context.Context, logger *slog.Logger, bootstrapFile string) int {
	cfg, err := config.Load(bootstrapFile)
	if err != nil {
		logger.Error("config error", "error", err)
		return exitConfigError
	}

	bufCap := config.NewCap(cfg.MaxTotalBufferMB)
	if bootstrapFile != "" {
		watcher := config.NewWatcher(logger)
		defer watcher.Close()
		if err := watcher.Watch(bootstrapFile, bufCap); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		}
	}

	sched, err := sessionctl.NewScheduler(logger)
	if err != nil {
		logger.Error("scheduler init failed", "error", err)
		return exitInvariantFail
	}
	defer func() { _ = sched.Shutdown() }()

	// The controller's admission budget is taken from bufCap once, here; a
	// later hot reload updates bufCap but not the running controller.
	ctrl := sessionctl.NewController(bufCap.MB()*1024*1024, sched, logger)
	svc := ipc.NewService(ctrl)

	producerSrv := &http.Server{
		Addr:              cfg.ListenAddrProducer,
		Handler:           ipc.NewProducerServer(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	consumerSrv := &http.Server{
		Addr:              cfg.ListenAddrConsumer,
		Handler:           ipc.NewConsumerServer(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	producerLn, err := net.Listen("tcp", cfg.ListenAddrProducer)
	if err != nil {
		logger.Error("bind producer listener failed", "addr", cfg.ListenAddrProducer, "error", err)
		return exitBindError
	}
	consumerLn, err := net.Listen("tcp", cfg.ListenAddrConsumer)
	if err != nil {
		_ = producerLn.Close()
		logger.Error("bind consumer listener failed", "addr", cfg.ListenAddrConsumer, "error", err)
		return exitBindError
	}

	errCh := make(chan error, 2)
	go func() { errCh <- producerSrv.Serve(producerLn) }()
	go func() { errCh <- consumerSrv.Serve(consumerLn) }()
	logger.Info("tracesvc listening",
		"producer_addr", cfg.ListenAddrProducer,
		"consumer_addr", cfg.ListenAddrConsumer,
		"max_total_buffer_mb", bufCap.MB())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("listener error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = producerSrv.Shutdown(shutdownCtx)
	_ = consumerSrv.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
	return exitOK
}
