package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"kagami/pkg/kagami"
)

const (
	maxEndpointNameRunes = 80
	fallbackEndpointName = "unknown"

	// defaultEndpointResolveTimeout bounds one shared resolve-or-create
	// round, which runs detached from any single caller's context.
	defaultEndpointResolveTimeout = 30 * time.Second
)

type proxyKey struct {
	conversationID string
	authorID       string
}

func (k proxyKey) String() string {
	return k.conversationID + "/" + k.authorID
}

// ProxyEndpoints caches one proxy endpoint per (target conversation, author)
// pair and recreates endpoints lazily when the cached one no longer resolves.
type ProxyEndpoints struct {
	dispatcher kagami.ProxyDispatcher
	logger     *slog.Logger
	metrics    *Metrics

	resolveTimeout time.Duration
	group          singleflight.Group

	mu        sync.Mutex
	endpoints map[proxyKey]string
}

// NewProxyEndpoints creates an empty endpoint cache backed by dispatcher.
func NewProxyEndpoints(dispatcher kagami.ProxyDispatcher, logger *slog.Logger, metrics *Metrics) *ProxyEndpoints {
	if logger == nil {
		logger = slog.Default()
	}

	return &ProxyEndpoints{
		dispatcher:     dispatcher,
		logger:         logger,
		metrics:        metrics,
		resolveTimeout: defaultEndpointResolveTimeout,
		endpoints:      make(map[proxyKey]string),
	}
}

// GetOrCreate returns a live endpoint for author in conversationID, creating
// one when none is cached or the cached endpoint fails to resolve.
//
// Concurrent calls for the same pair share a single creation. The shared
// round does not observe any caller's cancellation; each caller stops
// waiting when its own ctx is done.
func (p *ProxyEndpoints) GetOrCreate(
	ctx context.Context,
	conversationID string,
	author kagami.Actor,
) (*kagami.ProxyEndpoint, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("get or create proxy endpoint: missing conversation id")
	}
	if !author.Known() {
		return nil, fmt.Errorf("get or create proxy endpoint in %s: missing author id", conversationID)
	}

	key := proxyKey{conversationID: conversationID, authorID: author.ID}
	shared := context.WithoutCancel(ctx)
	results := p.group.DoChan(key.String(), func() (any, error) {
		roundCtx, cancel := context.WithTimeout(shared, p.resolveTimeout)
		defer cancel()

		return p.resolveOrCreate(roundCtx, key, author)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("get or create proxy endpoint %s: %w", key, ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		endpoint := *result.Val.(*kagami.ProxyEndpoint)
		return &endpoint, nil
	}
}

// Lookup resolves the cached endpoint for a pair without ever creating one.
func (p *ProxyEndpoints) Lookup(ctx context.Context, conversationID string, authorID string) (*kagami.ProxyEndpoint, error) {
	key := proxyKey{conversationID: conversationID, authorID: authorID}
	endpointID, ok := p.cached(key)
	if !ok {
		return nil, fmt.Errorf("lookup proxy endpoint %s: %w", key, ErrProxyEndpointNotCached)
	}

	endpoint, err := p.dispatcher.GetProxyEndpoint(ctx, endpointID)
	if err != nil {
		return nil, fmt.Errorf("lookup proxy endpoint %s: %w", key, err)
	}
	if endpoint == nil {
		return nil, fmt.Errorf("lookup proxy endpoint %s: empty endpoint", key)
	}

	return endpoint, nil
}

// Len returns the number of cached endpoints.
func (p *ProxyEndpoints) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.endpoints)
}

func (p *ProxyEndpoints) resolveOrCreate(
	ctx context.Context,
	key proxyKey,
	author kagami.Actor,
) (*kagami.ProxyEndpoint, error) {
	endpointID, cached := p.cached(key)
	if cached {
		endpoint, err := p.dispatcher.GetProxyEndpoint(ctx, endpointID)
		switch {
		case err == nil && endpoint != nil:
			return endpoint, nil
		case err != nil && !endpointGone(err):
			return nil, fmt.Errorf("resolve proxy endpoint %s: %w", key, err)
		}
		p.logger.DebugContext(ctx, "cached proxy endpoint did not resolve",
			"channel", key.conversationID,
			"author", key.authorID,
			"endpoint", endpointID,
			"error", err,
		)
	}

	endpoint, err := p.dispatcher.CreateProxyEndpoint(ctx, kagami.CreateProxyEndpointRequest{
		ConversationID: key.conversationID,
		DisplayName:    endpointName(author),
		AvatarURL:      author.AvatarURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create proxy endpoint %s: %w", key, err)
	}
	if endpoint == nil || endpoint.ID == "" {
		return nil, fmt.Errorf("create proxy endpoint %s: empty endpoint", key)
	}

	p.store(key, endpoint.ID)
	p.metrics.endpointCreated(cached)
	p.logger.InfoContext(ctx, "proxy endpoint created",
		"channel", key.conversationID,
		"author", key.authorID,
		"endpoint", endpoint.ID,
		"replaced_stale", cached,
	)

	return endpoint, nil
}

// endpointGone reports whether a resolution failure means the endpoint is
// deleted or unusable. Rate limits and transient failures keep the cached id.
func endpointGone(err error) bool {
	if errors.Is(err, kagami.ErrNotFound) {
		return true
	}
	outboundErr, ok := kagami.AsOutboundError(err)

	return ok && outboundErr.Kind == kagami.OutboundErrorKindPermanent
}

func (p *ProxyEndpoints) cached(key proxyKey) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	endpointID, ok := p.endpoints[key]
	return endpointID, ok
}

func (p *ProxyEndpoints) store(key proxyKey, endpointID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.endpoints[key] = endpointID
}

func endpointName(author kagami.Actor) string {
	name := strings.TrimSpace(author.Name())
	if name == "" {
		name = strings.TrimSpace(author.Username)
	}
	if name == "" {
		return fallbackEndpointName
	}
	if utf8.RuneCountInString(name) <= maxEndpointNameRunes {
		return name
	}

	return string([]rune(name)[:maxEndpointNameRunes])
}
