package mirror

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"kagami/pkg/kagami"
)

func TestProxyEndpointsGetOrCreate(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	metrics := NewMetrics()
	proxies := NewProxyEndpoints(platform, discardLogger(), metrics)
	ctx := context.Background()

	first, err := proxies.GetOrCreate(ctx, "200", testAuthor)
	if err != nil {
		t.Fatalf("first GetOrCreate failed: %v", err)
	}
	if platform.createdCount() != 1 || proxies.Len() != 1 {
		t.Fatalf("creations = %d cache = %d, want 1 and 1", platform.createdCount(), proxies.Len())
	}
	request := platform.created[0]
	if request.ConversationID != "200" || request.DisplayName != "Alice" || request.AvatarURL != testAuthor.AvatarURL {
		t.Fatalf("create request = %+v, want author identity in 200", request)
	}

	second, err := proxies.GetOrCreate(ctx, "200", testAuthor)
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("endpoint = %s, want cached %s", second.ID, first.ID)
	}
	if platform.createdCount() != 1 {
		t.Fatalf("creations = %d after live lookup, want 1", platform.createdCount())
	}
	if got := platform.countCalls("get_proxy:"); got != 1 {
		t.Fatalf("live resolutions = %d, want 1", got)
	}

	other, err := proxies.GetOrCreate(ctx, "300", testAuthor)
	if err != nil {
		t.Fatalf("GetOrCreate other channel failed: %v", err)
	}
	if other.ID == first.ID || proxies.Len() != 2 {
		t.Fatalf("other endpoint = %s cache = %d, want distinct endpoint per channel", other.ID, proxies.Len())
	}
	if got := testutil.ToFloat64(metrics.endpointsCreated.WithLabelValues("new")); got != 2 {
		t.Fatalf("created metric = %v, want 2", got)
	}
}

func TestProxyEndpointsRecreatesStaleEndpoint(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	metrics := NewMetrics()
	proxies := NewProxyEndpoints(platform, discardLogger(), metrics)
	ctx := context.Background()

	first, err := proxies.GetOrCreate(ctx, "200", testAuthor)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	platform.removeEndpoint(first.ID)

	replacement, err := proxies.GetOrCreate(ctx, "200", testAuthor)
	if err != nil {
		t.Fatalf("GetOrCreate after removal failed: %v", err)
	}
	if replacement.ID == first.ID {
		t.Fatalf("endpoint = %s, want a fresh endpoint", replacement.ID)
	}
	if platform.createdCount() != 2 || proxies.Len() != 1 {
		t.Fatalf("creations = %d cache = %d, want 2 and 1", platform.createdCount(), proxies.Len())
	}
	cached, err := proxies.Lookup(ctx, "200", testAuthor.ID)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if cached.ID != replacement.ID {
		t.Fatalf("cached endpoint = %s, want overwrite with %s", cached.ID, replacement.ID)
	}
	if got := testutil.ToFloat64(metrics.endpointsCreated.WithLabelValues("stale")); got != 1 {
		t.Fatalf("stale metric = %v, want 1", got)
	}
}

func TestProxyEndpointsCreateFailureLeavesCacheEmpty(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	createErr := errors.New("missing permissions")
	platform.createErr["200"] = createErr
	proxies := NewProxyEndpoints(platform, discardLogger(), nil)

	_, err := proxies.GetOrCreate(context.Background(), "200", testAuthor)
	if !errors.Is(err, createErr) {
		t.Fatalf("error = %v, want wrapped create failure", err)
	}
	if proxies.Len() != 0 {
		t.Fatalf("cache = %d after failed creation, want 0", proxies.Len())
	}

	_, err = proxies.GetOrCreate(context.Background(), "200", kagami.Actor{})
	if err == nil {
		t.Fatal("expected error for unknown author")
	}
}

func TestProxyEndpointsLookupNeverCreates(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	proxies := NewProxyEndpoints(platform, discardLogger(), nil)
	ctx := context.Background()

	if _, err := proxies.Lookup(ctx, "200", testAuthor.ID); !errors.Is(err, ErrProxyEndpointNotCached) {
		t.Fatalf("lookup miss error = %v, want ErrProxyEndpointNotCached", err)
	}

	endpoint, err := proxies.GetOrCreate(ctx, "200", testAuthor)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	platform.removeEndpoint(endpoint.ID)

	if _, err := proxies.Lookup(ctx, "200", testAuthor.ID); !errors.Is(err, kagami.ErrNotFound) {
		t.Fatalf("stale lookup error = %v, want ErrNotFound", err)
	}
	if platform.createdCount() != 1 {
		t.Fatalf("creations = %d, want 1", platform.createdCount())
	}
}

func TestProxyEndpointsConcurrentCallsCreateOnce(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	proxies := NewProxyEndpoints(platform, discardLogger(), nil)

	const callers = 8
	var wg sync.WaitGroup
	ids := make([]string, callers)
	errs := make([]error, callers)
	for idx := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			endpoint, err := proxies.GetOrCreate(context.Background(), "200", testAuthor)
			errs[idx] = err
			if endpoint != nil {
				ids[idx] = endpoint.ID
			}
		}()
	}
	wg.Wait()

	for idx := range callers {
		if errs[idx] != nil {
			t.Fatalf("caller %d failed: %v", idx, errs[idx])
		}
		if ids[idx] != ids[0] {
			t.Fatalf("caller %d endpoint = %s, want %s", idx, ids[idx], ids[0])
		}
	}
	if platform.createdCount() != 1 {
		t.Fatalf("creations = %d, want 1", platform.createdCount())
	}
}

func TestProxyEndpointsDoNotHoldLockDuringCreate(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	platform.createGate = make(chan struct{})
	platform.createEntered = make(chan struct{}, 1)
	proxies := NewProxyEndpoints(platform, discardLogger(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := proxies.GetOrCreate(context.Background(), "200", testAuthor)
		done <- err
	}()

	<-platform.createEntered
	if !proxies.mu.TryLock() {
		close(platform.createGate)
		<-done
		t.Fatal("endpoint cache lock held during platform call")
	}
	proxies.mu.Unlock()
	if proxies.Len() != 0 {
		t.Fatalf("cache = %d before creation finished, want 0", proxies.Len())
	}

	close(platform.createGate)
	if err := <-done; err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if proxies.Len() != 1 {
		t.Fatalf("cache = %d, want 1", proxies.Len())
	}
}

func TestProxyEndpointsSharedCreationIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	platform.createGate = make(chan struct{})
	platform.createEntered = make(chan struct{}, 1)
	proxies := NewProxyEndpoints(platform, discardLogger(), nil)

	type outcome struct {
		endpoint *kagami.ProxyEndpoint
		err      error
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstDone := make(chan error, 1)
	go func() {
		_, err := proxies.GetOrCreate(firstCtx, "200", testAuthor)
		firstDone <- err
	}()
	<-platform.createEntered

	secondDone := make(chan outcome, 1)
	go func() {
		endpoint, err := proxies.GetOrCreate(context.Background(), "200", testAuthor)
		secondDone <- outcome{endpoint: endpoint, err: err}
	}()

	cancelFirst()
	if err := <-firstDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}
	select {
	case result := <-secondDone:
		close(platform.createGate)
		t.Fatalf("live caller returned before creation finished: %+v", result)
	case <-time.After(20 * time.Millisecond):
	}

	close(platform.createGate)
	result := <-secondDone
	if result.err != nil {
		t.Fatalf("live caller failed: %v", result.err)
	}
	if result.endpoint == nil || result.endpoint.ConversationID != "200" {
		t.Fatalf("endpoint = %+v, want endpoint in 200", result.endpoint)
	}
	if platform.createdCount() != 1 || proxies.Len() != 1 {
		t.Fatalf("creations = %d cache = %d, want 1 and 1", platform.createdCount(), proxies.Len())
	}
}

func TestProxyEndpointsSharedRoundIsBounded(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	platform.createGate = make(chan struct{})
	platform.createEntered = make(chan struct{}, 1)
	defer close(platform.createGate)
	proxies := NewProxyEndpoints(platform, discardLogger(), nil)
	proxies.resolveTimeout = 20 * time.Millisecond

	_, err := proxies.GetOrCreate(context.Background(), "200", testAuthor)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
	if proxies.Len() != 0 {
		t.Fatalf("cache = %d after timed out creation, want 0", proxies.Len())
	}
}

func TestProxyEndpointsRecreateOnlyWhenEndpointGone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		err          error
		wantRecreate bool
	}{
		{
			name:         "not found",
			err:          notFound(kagami.OutboundOperationGetProxy),
			wantRecreate: true,
		},
		{
			name: "invalid token",
			err: &kagami.OutboundError{
				Operation: kagami.OutboundOperationGetProxy,
				Kind:      kagami.OutboundErrorKindPermanent,
				Platform:  kagami.PlatformDiscord,
				Status:    401,
			},
			wantRecreate: true,
		},
		{
			name: "rate limited",
			err: &kagami.OutboundError{
				Operation:  kagami.OutboundOperationGetProxy,
				Kind:       kagami.OutboundErrorKindRateLimited,
				Platform:   kagami.PlatformDiscord,
				RetryAfter: time.Second,
				Status:     429,
			},
		},
		{
			name: "server error",
			err: &kagami.OutboundError{
				Operation: kagami.OutboundOperationGetProxy,
				Kind:      kagami.OutboundErrorKindTemporary,
				Platform:  kagami.PlatformDiscord,
				Status:    502,
			},
		},
		{
			name: "transport failure",
			err:  errors.New("connection reset by peer"),
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			platform := newFakePlatform()
			proxies := NewProxyEndpoints(platform, discardLogger(), nil)
			ctx := context.Background()
			key := proxyKey{conversationID: "200", authorID: testAuthor.ID}

			first, err := proxies.GetOrCreate(ctx, "200", testAuthor)
			if err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}
			platform.failProxyResolution(testCase.err)

			if testCase.wantRecreate {
				replacement, err := proxies.GetOrCreate(ctx, "200", testAuthor)
				if err != nil {
					t.Fatalf("GetOrCreate after %s failed: %v", testCase.name, err)
				}
				if replacement.ID == first.ID || platform.createdCount() != 2 {
					t.Fatalf("endpoint = %s creations = %d, want a fresh endpoint", replacement.ID, platform.createdCount())
				}
				if cachedID, _ := proxies.cached(key); cachedID != replacement.ID {
					t.Fatalf("cached endpoint = %s, want %s", cachedID, replacement.ID)
				}
				return
			}

			for attempt := range 3 {
				_, err := proxies.GetOrCreate(ctx, "200", testAuthor)
				if !errors.Is(err, testCase.err) {
					t.Fatalf("attempt %d error = %v, want %v", attempt, err, testCase.err)
				}
			}
			if platform.createdCount() != 1 {
				t.Fatalf("creations = %d, want 1", platform.createdCount())
			}
			if cachedID, _ := proxies.cached(key); cachedID != first.ID {
				t.Fatalf("cached endpoint = %s, want %s kept", cachedID, first.ID)
			}
		})
	}
}

func TestEndpointName(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 100)
	tests := []struct {
		name   string
		author kagami.Actor
		want   string
	}{
		{name: "display name", author: kagami.Actor{ID: "1", Username: "alice", DisplayName: "Alice"}, want: "Alice"},
		{name: "username fallback", author: kagami.Actor{ID: "1", Username: "alice"}, want: "alice"},
		{name: "blank display name", author: kagami.Actor{ID: "1", Username: "alice", DisplayName: "  "}, want: "alice"},
		{name: "unknown fallback", author: kagami.Actor{ID: "1"}, want: "unknown"},
		{name: "clamped", author: kagami.Actor{ID: "1", DisplayName: long}, want: strings.Repeat("é", 80)},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := endpointName(testCase.author)
			if got != testCase.want {
				t.Fatalf("name = %q, want %q", got, testCase.want)
			}
			if utf8.RuneCountInString(got) > maxEndpointNameRunes {
				t.Fatalf("name has %d runes, limit %d", utf8.RuneCountInString(got), maxEndpointNameRunes)
			}
		})
	}
}
