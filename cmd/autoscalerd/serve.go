package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alob-mtc/invok-autoscaler/internal/audit"
	"github.com/alob-mtc/invok-autoscaler/internal/autoscaler"
	"github.com/alob-mtc/invok-autoscaler/internal/cache"
	"github.com/alob-mtc/invok-autoscaler/internal/config"
	"github.com/alob-mtc/invok-autoscaler/internal/kvstore"
	"github.com/alob-mtc/invok-autoscaler/internal/logging"
	"github.com/alob-mtc/invok-autoscaler/internal/metrics"
	"github.com/alob-mtc/invok-autoscaler/internal/metricsclient"
	"github.com/alob-mtc/invok-autoscaler/internal/observability"
	"github.com/alob-mtc/invok-autoscaler/internal/persistence"
	"github.com/alob-mtc/invok-autoscaler/internal/runtime/docker"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the autoscaler daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Init(cfg.Logging.Format, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	var exporter *metrics.Autoscaler
	if cfg.Metrics.Enabled {
		exporter = metrics.NewAutoscaler(cfg.Metrics.Namespace)
	}

	rt := docker.New(cfg.Runtime.DockerBin, cfg.Runtime.Timeout)

	metricsCache, err := buildMetricsCache(cfg.MetricsCache)
	if err != nil {
		return fmt.Errorf("build metrics cache: %w", err)
	}
	mc := metricsclient.New(cfg.Autoscaler.MetricsBackendURL, metricsCache)
	defer mc.Close()

	var store *persistence.Store
	if cfg.Autoscaler.Persistence.Enabled {
		kv, err := kvstore.NewRedis(cfg.Autoscaler.Persistence.StoreURL, "", 0)
		if err != nil {
			return fmt.Errorf("connect state store: %w", err)
		}
		defer kv.Close()
		store = persistence.New(kv, cfg.Autoscaler.Persistence)
	}

	var sink autoscaler.AuditSink
	if cfg.Audit.Enabled {
		pg, err := audit.NewPostgresSink(ctx, cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("connect audit sink: %w", err)
		}
		defer pg.Close()
		sink = pg
	}

	as := autoscaler.New(cfg.Autoscaler, rt, mc, store, exporter, sink, nil)
	if err := as.Start(ctx); err != nil {
		return fmt.Errorf("start autoscaler: %w", err)
	}
	defer as.Stop()

	var srv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logging.Op().Info("autoscalerd: metrics server listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Op().Error("autoscalerd: metrics server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logging.Op().Info("autoscalerd: shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

// buildMetricsCache assembles the metrics client's sample cache per
// cfg.Backend: "memory" (default) is a single-process cache.InMemory;
// "tiered" layers that in front of a shared cache.Redis tier so multiple
// autoscaler replicas polling the same fleet reuse each other's recent
// samples (internal/cache/tiered.go).
func buildMetricsCache(cfg config.MetricsCacheConfig) (cache.Cache, error) {
	if cfg.Backend != "tiered" {
		return cache.NewInMemory(), nil
	}
	l2, err := cache.NewRedis(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return cache.NewTiered(cache.NewInMemory(), l2, cfg.L1TTL), nil
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case configFile == "":
		cfg = config.DefaultConfig()
	case strings.HasSuffix(configFile, ".yaml") || strings.HasSuffix(configFile, ".yml"):
		cfg, err = config.LoadFromYAMLFile(configFile)
	default:
		cfg, err = config.LoadFromFile(configFile)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}
