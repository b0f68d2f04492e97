package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tiny-rpc/config"
	"tiny-rpc/logging"
	"tiny-rpc/middleware"
	"tiny-rpc/registry"
	"tiny-rpc/rpc"
	"tiny-rpc/server"
)

func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	path := fs.String("config", "", "YAML config file")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	return config.LoadFromPath(*path)
}

// openRegistry returns the configured registry, or nil when none is set.
// The returned func releases it.
func openRegistry(cfg config.RegistryConfig, logger *zap.Logger) (registry.Registry, func(), error) {
	if !cfg.UseEtcd() {
		return nil, func() {}, nil
	}
	reg, err := registry.NewEtcdRegistry(cfg.Endpoints, logger)
	if err != nil {
		return nil, nil, err
	}
	return reg, func() { reg.Close() }, nil
}

// buildServer assembles the middleware chain in the order
// logging → metrics → retry → rate limit → timeout → Manager.Handle.
// Retry sits outside the rate limiter so a refused call can wait for a token,
// and outside the timeout so a timed out call is never started twice.
func buildServer(cfg config.Config, m *rpc.Manager, reg registry.Registry, promReg prometheus.Registerer, logger *zap.Logger) (*server.Server, error) {
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithTTL(cfg.Server.TTL),
		server.WithWeight(cfg.Server.Weight),
	}
	if reg != nil {
		opts = append(opts, server.WithRegistry(reg, cfg.Server.Advertise))
	}
	svr := server.NewServer(m, opts...)

	svr.Use(middleware.LoggingMiddleware(logger))
	if promReg != nil {
		mw, err := middleware.MetricsMiddleware(promReg, m.Registered)
		if err != nil {
			return nil, err
		}
		svr.Use(mw)
	}
	if cfg.RateLimit.RPS > 0 {
		if cfg.Server.Retries > 0 {
			// One token interval.
			svr.Use(middleware.RetryMiddleware(cfg.Server.Retries, time.Duration(float64(time.Second)/cfg.RateLimit.RPS)))
		}
		svr.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	if cfg.Server.Timeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Server.Timeout))
	}
	return svr, nil
}

func runServe(args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("serve", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg, closeReg, err := openRegistry(cfg.Registry, logger)
	if err != nil {
		return err
	}
	defer closeReg()

	m := rpc.NewManager(rpc.WithLogger(logger))
	if err := registerDemo(m); err != nil {
		return err
	}

	var promReg *prometheus.Registry
	if cfg.Server.MetricsListen != "" {
		promReg = prometheus.NewRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: cfg.Server.MetricsListen, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer metricsSrv.Close()
	}

	var registerer prometheus.Registerer
	if promReg != nil {
		registerer = promReg
	}
	svr, err := buildServer(cfg, m, reg, registerer, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- svr.Serve("tcp", cfg.Server.Listen) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := svr.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serveErr
}
