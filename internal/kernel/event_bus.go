package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"kagami/pkg/kagami"
)

// EventBus is the kernel asynchronous pub/sub implementation.
//
// Every subscription owns a bounded queue drained by its own worker pool, so
// handlers of one subscription run concurrently with each other and with
// handlers of other subscriptions.
type EventBus struct {
	mu       sync.RWMutex
	nextID   atomic.Int64
	closed   bool
	subs     map[int64]*busSubscription
	defaults busDefaults
	onError  func(context.Context, string, error)
}

type busDefaults struct {
	buffer         int
	workers        int
	handlerTimeout time.Duration
}

// NewEventBus creates an asynchronous event bus with bounded queues.
func NewEventBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		subs: make(map[int64]*busSubscription),
		defaults: busDefaults{
			buffer:         defaultBuffer,
			workers:        defaultWorkers,
			handlerTimeout: defaultHandlerTimeout,
		},
		onError: onAsyncError,
	}
}

// Publish dispatches an event to all matching subscribers.
func (b *EventBus) Publish(ctx context.Context, event *kagami.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	subs, err := b.snapshot()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	var publishErrs []error
	for _, sub := range subs {
		if !sub.interest.Matches(event) {
			continue
		}
		err := sub.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, kagami.ErrEventDropped), errors.Is(err, kagami.ErrSubscriptionClosed):
			b.reportAsyncError(ctx, sub.spec.Name, err)
		default:
			publishErrs = append(publishErrs, err)
		}
	}

	if len(publishErrs) > 0 {
		return fmt.Errorf("publish event %s: %w", event.Kind, errors.Join(publishErrs...))
	}

	return nil
}

// Subscribe registers a bounded asynchronous consumer.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest kagami.InterestSet,
	spec kagami.SubscriptionSpec,
	handler kagami.EventHandler,
) (kagami.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}

	id := b.nextID.Add(1)
	spec = b.withDefaults(spec, id)
	if err := validateBackpressure(spec.Backpressure); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe %s: bus closed", spec.Name)
	}
	sub := newBusSubscription(id, interest, spec, handler, b)
	b.subs[id] = sub

	return sub, nil
}

// Close stops all active subscriptions and rejects further publishes/subscribes.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*busSubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[int64]*busSubscription)
	b.mu.Unlock()

	var closeErrs []error
	for _, sub := range subs {
		if err := sub.shutdown(ctx); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}

	if len(closeErrs) > 0 {
		return fmt.Errorf("close event bus: %w", errors.Join(closeErrs...))
	}

	return nil
}

// snapshot copies the subscription set so fan-out runs without the bus lock.
func (b *EventBus) snapshot() ([]*busSubscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("bus closed")
	}

	subs := make([]*busSubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}

	return subs, nil
}

func (b *EventBus) withDefaults(spec kagami.SubscriptionSpec, id int64) kagami.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.handlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = kagami.BackpressureDropNewest
	}

	return spec
}

func validateBackpressure(policy kagami.BackpressurePolicy) error {
	switch policy {
	case kagami.BackpressureDropNewest, kagami.BackpressureDropOldest, kagami.BackpressureBlock:
		return nil
	default:
		return fmt.Errorf("%w: unsupported backpressure %q", kagami.ErrInvalidSubscription, policy)
	}
}

func (b *EventBus) unsubscribe(ctx context.Context, id int64) error {
	b.mu.Lock()
	sub, found := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if !found {
		return nil
	}
	if err := sub.shutdown(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onError != nil {
		b.onError(ctx, scope, err)
	}
}

// busSubscription owns queueing and worker lifecycle for a single subscriber.
// Workers stop on context cancellation; the queue channel is never closed.
type busSubscription struct {
	id       int64
	interest kagami.InterestSet
	spec     kagami.SubscriptionSpec
	handler  kagami.EventHandler
	queue    chan *kagami.Event
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closed   atomic.Bool
	once     sync.Once
	bus      *EventBus
}

func newBusSubscription(
	id int64,
	interest kagami.InterestSet,
	spec kagami.SubscriptionSpec,
	handler kagami.EventHandler,
	bus *EventBus,
) *busSubscription {
	ctx, cancel := context.WithCancel(context.Background())
	interest.Kinds = slices.Clone(interest.Kinds)
	sub := &busSubscription{
		id:       id,
		interest: interest,
		spec:     spec,
		handler:  handler,
		queue:    make(chan *kagami.Event, spec.Buffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		bus:      bus,
	}

	var workers sync.WaitGroup
	for workerID := range spec.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			sub.runWorker(workerID)
		}()
	}
	go func() {
		workers.Wait()
		close(sub.done)
	}()

	return sub
}

// Name returns the stable subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close unregisters this subscription from its parent bus.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

func (s *busSubscription) enqueue(ctx context.Context, event *kagami.Event) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, kagami.ErrSubscriptionClosed)
	}

	select {
	case s.queue <- event:
		return nil
	default:
	}

	switch s.spec.Backpressure {
	case kagami.BackpressureDropOldest:
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- event:
			return nil
		default:
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, kagami.ErrEventDropped)
		}
	case kagami.BackpressureBlock:
		select {
		case s.queue <- event:
			return nil
		case <-s.ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, kagami.ErrSubscriptionClosed)
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
		}
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, kagami.ErrEventDropped)
	}
}

func (s *busSubscription) runWorker(workerID int) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.handle(workerID, event); err != nil {
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

// handle executes one handler call with a timeout and panic recovery.
func (s *busSubscription) handle(workerID int, event *kagami.Event) error {
	ctx := s.ctx
	if s.spec.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.spec.HandlerTimeout)
		defer cancel()
	}

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, workerID)
	if err := runSafely(scope, func() error {
		return s.handler(ctx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s: %w", event.Kind, err)
	}

	return nil
}

func (s *busSubscription) shutdown(ctx context.Context) error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
