package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"kagami/internal/driver"
	"kagami/internal/kernel"
	"kagami/modules/mirror"
	"kagami/modules/pingpong"
	"kagami/pkg/kagami"
)

const (
	envConfigFile             = "KAGAMI_CONFIG_FILE"
	envRoutesFile             = "KAGAMI_ROUTES_FILE"
	dotEnvFile                = ".env"
	defaultConfigFilePath     = "config/bot.json"
	defaultRoutesFilePath     = "config.json"
	defaultDriverName         = "discord"
	defaultModuleHookTimeout  = 5 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultHandlerTimeout     = 60 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 4
	metricsShutdownTimeout    = 5 * time.Second
	metricsReadHeaderTimeout  = 5 * time.Second
)

type appConfig struct {
	logLevel slog.Level

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int

	discord driver.Definition

	routesFile           string
	relayCacheMaxEntries int

	metricsListenAddr string
}

type fileConfig struct {
	LogLevel string            `json:"log_level"`
	Kernel   fileKernelConfig  `json:"kernel"`
	Discord  json.RawMessage   `json:"discord"`
	Mirror   fileMirrorConfig  `json:"mirror"`
	Metrics  fileMetricsConfig `json:"metrics"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	HandlerTimeout      string `json:"handler_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
}

type fileMirrorConfig struct {
	RoutesFile           string `json:"routes_file"`
	RelayCacheMaxEntries *int   `json:"relay_cache_max_entries"`
}

type fileMetricsConfig struct {
	ListenAddr string `json:"listen_addr"`
}

func run() error {
	if err := loadDotEnv(dotEnvFile); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	routes, err := mirror.LoadRoutingTable(cfg.routesFile)
	if err != nil {
		return fmt.Errorf("load routes: %w", err)
	}

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}
	runtimes, err := registry.BuildEnabled(context.Background(), []driver.Definition{cfg.discord}, logger)
	if err != nil {
		return fmt.Errorf("build drivers: %w", err)
	}

	metricsRegistry := newMetricsRegistry()
	kernelRuntime := buildKernelRuntime(logger, cfg)
	if err := registerRuntimeDrivers(kernelRuntime, runtimes); err != nil {
		return err
	}
	if err := registerRuntimeServices(kernelRuntime, logger, runtimes); err != nil {
		return err
	}
	if err := registerRuntimeModules(context.Background(), kernelRuntime, cfg, routes, metricsRegistry); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := kernelRuntime.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run kernel: %w", err)
		}
		return nil
	})
	if cfg.metricsListenAddr != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, logger, cfg.metricsListenAddr, metricsHandler(metricsRegistry))
		})
	}

	return group.Wait()
}

// loadDotEnv exports variables from path without overriding ones already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("load %s: %w", path, err)
}

func loadConfig() (appConfig, error) {
	cfg := defaultAppConfig()

	configFile, explicit := resolveConfigFilePath()
	if err := applyConfigFile(&cfg, configFile, explicit); err != nil {
		return appConfig{}, err
	}
	if routesFile := strings.TrimSpace(os.Getenv(envRoutesFile)); routesFile != "" {
		cfg.routesFile = routesFile
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, bool) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, true
	}

	return defaultConfigFilePath, false
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		handlerTimeout:      defaultHandlerTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,

		discord: driver.Definition{
			Name:    defaultDriverName,
			Type:    defaultDriverName,
			Enabled: true,
		},

		routesFile: defaultRoutesFilePath,
	}
}

// applyConfigFile overlays path onto cfg. An absent default file keeps the
// defaults; an absent explicit file is an error.
func applyConfigFile(cfg *appConfig, path string, explicit bool) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	if err := applyTimeout(&cfg.moduleHookTimeout, parsed.Kernel.ModuleHookTimeout, "kernel.module_hook_timeout"); err != nil {
		return err
	}
	if err := applyTimeout(&cfg.shutdownTimeout, parsed.Kernel.ShutdownTimeout, "kernel.shutdown_timeout"); err != nil {
		return err
	}
	if err := applyTimeout(&cfg.handlerTimeout, parsed.Kernel.HandlerTimeout, "kernel.handler_timeout"); err != nil {
		return err
	}
	if parsed.Kernel.SubscriptionBuffer != nil {
		if *parsed.Kernel.SubscriptionBuffer <= 0 {
			return fmt.Errorf("parse kernel.subscription_buffer: must be > 0")
		}
		cfg.subscriptionBuffer = *parsed.Kernel.SubscriptionBuffer
	}
	if parsed.Kernel.SubscriptionWorkers != nil {
		if *parsed.Kernel.SubscriptionWorkers <= 0 {
			return fmt.Errorf("parse kernel.subscription_workers: must be > 0")
		}
		cfg.subscriptionWorkers = *parsed.Kernel.SubscriptionWorkers
	}

	if len(parsed.Discord) > 0 {
		cfg.discord.Config = append([]byte(nil), parsed.Discord...)
	}

	if routesFile := strings.TrimSpace(parsed.Mirror.RoutesFile); routesFile != "" {
		cfg.routesFile = routesFile
	}
	if parsed.Mirror.RelayCacheMaxEntries != nil {
		if *parsed.Mirror.RelayCacheMaxEntries < 0 {
			return fmt.Errorf("parse mirror.relay_cache_max_entries: must be >= 0")
		}
		cfg.relayCacheMaxEntries = *parsed.Mirror.RelayCacheMaxEntries
	}

	cfg.metricsListenAddr = strings.TrimSpace(parsed.Metrics.ListenAddr)

	return nil
}

func applyTimeout(target *time.Duration, raw string, field string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	timeout, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("parse %s: must be > 0", field)
	}
	*target = timeout

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
	)
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, runtimes []driver.Runtime) error {
	for _, runtime := range runtimes {
		if err := kernelRuntime.RegisterDriver(runtime.Driver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtime.Name, err)
		}
	}

	return nil
}

// registerRuntimeServices exposes the logger and the first runtime that can
// both send messages and manage proxy endpoints.
func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	runtimes []driver.Runtime,
) error {
	if err := kernelRuntime.RegisterService(kagami.ServiceLogger, logger); err != nil {
		return fmt.Errorf("register logger service: %w", err)
	}

	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil || runtime.ProxyDispatcher == nil {
			continue
		}
		if err := kernelRuntime.RegisterService(kagami.ServiceSinkDispatcher, runtime.SinkDispatcher); err != nil {
			return fmt.Errorf("register sink dispatcher service: %w", err)
		}
		if err := kernelRuntime.RegisterService(kagami.ServiceProxyDispatcher, runtime.ProxyDispatcher); err != nil {
			return fmt.Errorf("register proxy dispatcher service: %w", err)
		}
		return nil
	}

	return fmt.Errorf("register dispatcher services: no driver supports proxy endpoints")
}

func registerRuntimeModules(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	cfg appConfig,
	routes *mirror.RoutingTable,
	registerer prometheus.Registerer,
) error {
	mirrorModule := mirror.New(
		mirror.WithRoutingTable(routes),
		mirror.WithMetricsRegisterer(registerer),
		mirror.WithRelayCacheMaxEntries(cfg.relayCacheMaxEntries),
		mirror.WithWorkers(cfg.subscriptionWorkers),
	)
	if err := kernelRuntime.RegisterModule(ctx, mirrorModule); err != nil {
		return fmt.Errorf("register mirror module: %w", err)
	}
	pingPongModule := pingpong.New()
	if err := kernelRuntime.RegisterModule(ctx, pingPongModule); err != nil {
		return fmt.Errorf("register pingpong module: %w", err)
	}

	return nil
}

func newMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))

	return mux
}

// serveMetrics serves handler on addr until ctx is canceled.
func serveMetrics(ctx context.Context, logger *slog.Logger, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	logger.InfoContext(ctx, "metrics server listening", "addr", addr)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve metrics on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics on %s: %w", addr, err)
	}

	return nil
}
