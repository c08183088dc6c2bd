package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kagami/pkg/kagami"
)

const defaultPublishTimeout = 2 * time.Second

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	onAsyncError   func(context.Context, error)
}

// DriverOption mutates Discord driver configuration.
type DriverOption func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout bounds how long one decoded event may wait on the bus.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithErrorHandler configures the callback for decode failures.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver adapts Discord gateway dispatches into neutral kagami events.
type Driver struct {
	cfg     driverConfig
	source  UpdateSource
	decoder Decoder
}

// NewDriver creates a Discord driver.
func NewDriver(source UpdateSource, decoder Decoder, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("new discord driver: nil source")
	}
	if decoder == nil {
		return nil, fmt.Errorf("new discord driver: nil decoder")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{
		cfg:     cfg,
		source:  source,
		decoder: decoder,
	}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start consumes gateway updates and publishes neutral events until ctx ends.
func (d *Driver) Start(ctx context.Context, dispatcher kagami.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start discord driver: nil dispatcher")
	}

	err := d.source.Consume(ctx, func(handlerCtx context.Context, update Update) error {
		return d.handleUpdate(handlerCtx, update, dispatcher)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("start discord driver: %w", err)
	}

	return nil
}

func (d *Driver) handleUpdate(ctx context.Context, update Update, dispatcher kagami.EventDispatcher) error {
	event, err := d.decodeSafely(ctx, update)
	if err != nil {
		d.cfg.onAsyncError(ctx, err)
		return fmt.Errorf("handle update %s: %w", update.Type, err)
	}
	if event == nil {
		return nil
	}
	if event.Platform == "" {
		event.Platform = DriverPlatform
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()

	if err := dispatcher.Publish(publishCtx, event); err != nil {
		return fmt.Errorf("handle update %s publish: %w", update.Type, err)
	}

	return nil
}

// decodeSafely converts decoder panics into errors at the adapter boundary.
func (d *Driver) decodeSafely(ctx context.Context, update Update) (decoded *kagami.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("decode discord update %s panic: %v", update.Type, recovered)
		}
	}()

	decoded, err = d.decoder.Decode(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("decode discord update %s: %w", update.Type, err)
	}

	return decoded, nil
}

// Shutdown is a no-op; the gateway session closes when Start's context ends.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}
