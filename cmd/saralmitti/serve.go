package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/saralmitti/config"
	"github.com/jpalmerr/saralmitti/internal/metrics"
	"github.com/jpalmerr/saralmitti/internal/server"
	"github.com/jpalmerr/saralmitti/internal/store"
)

const (
	shutdownTimeout  = 10 * time.Second
	storePingTimeout = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the demo analysis backend",
		Long: `Start an analysis backend that speaks the same HTTP API as the real service.

The server will:
  - Accept image uploads on POST /api/analyze/upload
  - Report each job as processing, then complete it with a generated result
  - Serve results, history and a live event stream under /api/analyze
  - Expose /healthz and Prometheus metrics on /metrics

Jobs are kept in memory by default. With server.store set to redis they are
shared between replicas and survive restarts for server.history_ttl.

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  saralmitti serve
  saralmitti serve -c config.yaml --port 9090
  saralmitti serve --store redis --redis-url redis://localhost:6379/0`,
		RunE: runServe,
	}

	cmd.Flags().Int("port", 0, "listen port, overrides server.port")
	cmd.Flags().String("store", "", "job store: memory or redis, overrides server.store")
	cmd.Flags().String("redis-url", "", "redis url, overrides server.redis_url")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(cmd.ErrOrStderr(), level)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sc := cfg.Server
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		sc.Port = port
	}
	if s, _ := cmd.Flags().GetString("store"); s != "" {
		sc.Store = s
	}
	if u, _ := cmd.Flags().GetString("redis-url"); u != "" {
		sc.RedisURL = u
	}

	st, err := openStore(cmd.Context(), sc, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.New(server.Config{
		Port:           sc.Port,
		ProcessingTime: sc.ProcessingTime.Duration(),
		AuthToken:      sc.AuthToken,
		MaxUploadBytes: sc.MaxUploadBytes,
	}, st, metrics.New(reg), logger)

	logger.Info("starting server",
		"port", sc.Port,
		"store", sc.Store,
		"processing_time", sc.ProcessingTime.Duration().String(),
		"auth", sc.AuthToken != "",
	)

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	<-ctx.Done()

	// signal received, wait for graceful shutdown with timeout
	select {
	case <-srv.Done():
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out",
			"timeout", shutdownTimeout.String(),
			"action", "forcing exit",
		)
	}
	return nil
}

// openStore creates the job store selected by sc. A redis store must answer
// a ping before the server starts.
func openStore(ctx context.Context, sc config.ServerConfig, logger *slog.Logger) (store.Store, error) {
	switch sc.Store {
	case "", config.StoreMemory:
		return store.NewMemoryStore(), nil

	case config.StoreRedis:
		if sc.RedisURL == "" {
			return nil, fmt.Errorf("redis store requires a redis url")
		}
		rs, err := store.NewRedisStore(sc.RedisURL, sc.HistoryTTL.Duration(), logger)
		if err != nil {
			return nil, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		return rs, nil

	default:
		return nil, fmt.Errorf("unknown store %q, want %q or %q", sc.Store, config.StoreMemory, config.StoreRedis)
	}
}
