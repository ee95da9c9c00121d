package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmax-ai/sensorsim/pkg/config"
	"github.com/rmax-ai/sensorsim/pkg/frame"
	"github.com/rmax-ai/sensorsim/pkg/metrics"
	"github.com/rmax-ai/sensorsim/pkg/simulation"
	redisstore "github.com/rmax-ai/sensorsim/pkg/store/redis"
)

// newRegistry returns a registry with the harness collector plus the Go
// runtime and process collectors.
func newRegistry() (*prometheus.Registry, *metrics.Collector, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	col, err := metrics.New(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, col, nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// serveMetrics listens on addr and returns a shutdown func.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: metricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// newHarness wires metrics, the optional metrics endpoint and the optional
// redis publisher around a harness. cleanup releases all of them.
func newHarness(ctx context.Context, cfg *config.Config, components []*frame.Component, logger *slog.Logger) (h *simulation.Harness, cleanup func(), err error) {
	var closers []func()
	cleanup = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer func() {
		if err != nil {
			cleanup()
		}
	}()

	reg, col, err := newRegistry()
	if err != nil {
		return nil, cleanup, err
	}
	if cfg.Metrics.Addr != "" {
		stop, err := serveMetrics(cfg.Metrics.Addr, reg, logger)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, stop)
	}

	opts := append(cfg.HarnessOptions(),
		simulation.WithLogger(logger),
		simulation.WithRecorder(col),
	)
	if cfg.Redis.Addr != "" {
		pub, err := redisstore.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ChannelPrefix, logger)
		if err != nil {
			// Live publishing is optional; the run goes ahead without it.
			logger.Warn("redis publisher disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			closers = append(closers, func() { _ = pub.Close() })
			opts = append(opts, simulation.WithStatsSink(pub))
		}
	}

	h, err = simulation.New(components, nil, opts...)
	if err != nil {
		return nil, cleanup, err
	}
	return h, cleanup, nil
}
