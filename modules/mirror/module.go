package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"kagami/pkg/kagami"
)

const defaultWorkers = 4

// Option mutates mirror module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
			module.loggerSet = true
		}
	}
}

// WithRoutingTable sets the source to targets routing table.
func WithRoutingTable(routes *RoutingTable) Option {
	return func(module *Module) {
		if routes != nil {
			module.routes = routes
		}
	}
}

// WithMetricsRegisterer registers mirror metrics on registerer at OnRegister.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(module *Module) {
		module.registerer = registerer
	}
}

// WithRelayCacheMaxEntries caps relay and author records. Zero keeps every
// record for the process lifetime.
func WithRelayCacheMaxEntries(maxEntries int) Option {
	return func(module *Module) {
		if maxEntries >= 0 {
			module.relayCacheMaxEntries = maxEntries
		}
	}
}

// WithWorkers sets how many events the mirror handles concurrently.
func WithWorkers(workers int) Option {
	return func(module *Module) {
		if workers > 0 {
			module.workers = workers
		}
	}
}

// Module mirrors source channel traffic into target channels.
type Module struct {
	logger               *slog.Logger
	loggerSet            bool
	routes               *RoutingTable
	registerer           prometheus.Registerer
	relayCacheMaxEntries int
	workers              int

	sink    kagami.SinkDispatcher
	proxy   kagami.ProxyDispatcher
	proxies *ProxyEndpoints
	relays  *RelayCache
	metrics *Metrics
}

// New creates a mirror module. Without WithRoutingTable nothing is relayed.
func New(options ...Option) *Module {
	module := &Module{
		logger:  slog.Default(),
		routes:  NewRoutingTable(nil),
		workers: defaultWorkers,
		metrics: NewMetrics(),
	}
	for _, option := range options {
		option(module)
	}
	module.relays = NewRelayCache(module.relayCacheMaxEntries)

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "mirror"
}

// Spec declares the single mirror handler.
func (m *Module) Spec() kagami.ModuleSpec {
	subscription := kagami.NewDefaultSubscriptionSpec("mirror-events")
	subscription.Workers = m.workers

	return kagami.ModuleSpec{
		Handlers: []kagami.ModuleHandler{
			{
				Capability: kagami.Capability{
					Name:        "mirror-relay",
					Description: "relays source channel messages through per-author proxy endpoints and propagates edits and deletes",
					Interest: kagami.InterestSet{
						Kinds: []kagami.EventKind{
							kagami.EventKindMessageCreated,
							kagami.EventKindMessageEdited,
							kagami.EventKindMessageRetracted,
							kagami.EventKindSessionReady,
						},
					},
					RequiredServices: []string{
						kagami.ServiceSinkDispatcher,
						kagami.ServiceProxyDispatcher,
					},
				},
				Subscription: subscription,
				Handler:      m.handleEvent,
			},
		},
	}
}

// OnRegister resolves platform dispatchers and registers metrics.
func (m *Module) OnRegister(_ context.Context, runtime kagami.ModuleRuntime) error {
	if !m.loggerSet {
		logger, err := kagami.ResolveAs[*slog.Logger](runtime.Services(), kagami.ServiceLogger)
		switch {
		case err == nil:
			m.logger = logger
		case errors.Is(err, kagami.ErrServiceNotFound):
		default:
			return fmt.Errorf("mirror resolve logger: %w", err)
		}
	}

	sink, err := kagami.ResolveAs[kagami.SinkDispatcher](runtime.Services(), kagami.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("mirror resolve sink dispatcher: %w", err)
	}
	proxy, err := kagami.ResolveAs[kagami.ProxyDispatcher](runtime.Services(), kagami.ServiceProxyDispatcher)
	if err != nil {
		return fmt.Errorf("mirror resolve proxy dispatcher: %w", err)
	}
	if err := m.metrics.Register(m.registerer); err != nil {
		return fmt.Errorf("mirror: %w", err)
	}

	m.bind(sink, proxy)

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(ctx context.Context) error {
	m.logger.InfoContext(ctx,
		"mirror module started",
		"module", m.Name(),
		"sources", m.routes.Sources(),
		"workers", m.workers,
		"relay_cache_max_entries", m.relayCacheMaxEntries,
	)

	return nil
}

// OnShutdown reports cache sizes. Caches are not persisted.
func (m *Module) OnShutdown(ctx context.Context) error {
	endpoints := 0
	if m.proxies != nil {
		endpoints = m.proxies.Len()
	}
	m.logger.InfoContext(ctx,
		"mirror module shutdown",
		"module", m.Name(),
		"relay_records", m.relays.Len(),
		"proxy_endpoints", endpoints,
	)

	return nil
}

func (m *Module) bind(sink kagami.SinkDispatcher, proxy kagami.ProxyDispatcher) {
	m.sink = sink
	m.proxy = proxy
	m.proxies = NewProxyEndpoints(proxy, m.logger, m.metrics)
}

func (m *Module) handleEvent(ctx context.Context, event *kagami.Event) error {
	switch event.Kind {
	case kagami.EventKindMessageCreated:
		if event.Message == nil {
			return nil
		}
		return m.relayMessage(ctx, event)
	case kagami.EventKindMessageEdited:
		if event.Mutation == nil {
			return nil
		}
		return m.propagateEdit(ctx, event)
	case kagami.EventKindMessageRetracted:
		if event.Mutation == nil {
			return nil
		}
		return m.propagateDelete(ctx, event)
	case kagami.EventKindSessionReady:
		return m.reportReady(ctx, event)
	default:
		return nil
	}
}

// reportReady logs the session identity and every visible guild.
func (m *Module) reportReady(ctx context.Context, event *kagami.Event) error {
	if event.Session != nil {
		self := event.Session.Self
		m.logger.InfoContext(ctx, "session ready",
			"user", self.Username,
			"user_id", self.ID,
			"session", event.Session.SessionID,
		)
	}

	spaces, err := m.sink.ListSpaces(ctx)
	if err != nil {
		return fmt.Errorf("mirror list guilds: %w", err)
	}
	m.logger.InfoContext(ctx, "connected guilds", "count", len(spaces))
	for idx, space := range spaces {
		m.logger.InfoContext(ctx, "guild",
			"index", idx,
			"guild_id", space.ID,
			"name", space.Name,
		)
	}

	return nil
}
