package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/mealclarify/internal/analysis"
	"github.com/hyperengineering/mealclarify/internal/api"
	"github.com/hyperengineering/mealclarify/internal/clarify"
	"github.com/hyperengineering/mealclarify/internal/config"
	"github.com/hyperengineering/mealclarify/internal/metrics"
	"github.com/hyperengineering/mealclarify/internal/snapshot"
	"github.com/hyperengineering/mealclarify/internal/store"
	"github.com/hyperengineering/mealclarify/internal/validation"
	"github.com/hyperengineering/mealclarify/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "mealclarify",
	Short:        "mealclarify - meal nutrition analysis with follow-up clarification",
	SilenceUsage: true,
	RunE:         run,
	Version:      Version,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(pendingCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNewMetrics(reg)
	metrics.MustRegisterPendingGauge(reg, pendingGauge(db))

	// 6. Analysis provider and orchestrator
	provider := analysis.NewOpenAI(analysis.Config{
		APIKey:             cfg.Analysis.APIKey,
		BaseURL:            cfg.Analysis.BaseURL,
		Model:              cfg.Analysis.Model,
		TranscriptionModel: cfg.Analysis.TranscriptionModel,
		Language:           cfg.Analysis.Language,
		Timeout:            time.Duration(cfg.Analysis.Timeout),
	})
	orchestrator := clarify.NewOrchestrator(db, provider, clarify.WithMetrics(m))
	slog.Info("analysis provider initialized", "model", provider.ModelName())

	// 7. Workers and snapshot storage
	maxAge := time.Duration(cfg.Clarification.MaxPendingAge)
	reaper := worker.NewExpiryReaper(db, maxAge, time.Duration(cfg.Clarification.ReapInterval), m)

	uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
	if err != nil {
		db.Close()
		return err
	}

	// 8. Initialize HTTP router
	handler := api.NewHandler(orchestrator, reaper, db, uploader, api.HandlerConfig{
		APIKey:  cfg.Auth.APIKey,
		Version: Version,
		Limits: validation.Limits{
			MaxMediaBytes: cfg.Limits.MaxMediaBytes,
			MaxTextLength: cfg.Limits.MaxTextLength,
		},
		MaxPendingAge: maxAge,
	})
	router := api.NewRouter(handler, reg)
	slog.Info("router initialized")

	// 9. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 10. Start workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "expiry-reaper", reaper.Run)
	if cfg.Worker.SnapshotInterval > 0 {
		snapshotWorker := worker.NewSnapshotWorker(db, uploader, time.Duration(cfg.Worker.SnapshotInterval))
		startWorker(ctx, &wg, "snapshot", snapshotWorker.Run)
	}

	// 11. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// Any error other than ErrServerClosed is a real failure and triggers shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 12. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 13. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 13a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 13b. Wait for workers to complete
	wg.Wait()

	// 13c. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// pendingGauge reports the pending count for the metrics gauge. Errors
// read as zero.
func pendingGauge(c api.PendingCounter) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := c.Count(ctx)
		if err != nil {
			return 0
		}
		return float64(n)
	}
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
