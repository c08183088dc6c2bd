package kagami

import "context"

// EventHandler processes a single neutral event.
type EventHandler func(ctx context.Context, event *Event) error

// EventDispatcher accepts neutral events for dispatching into the kernel.
type EventDispatcher interface {
	// Publish submits an event to downstream subscribers.
	Publish(ctx context.Context, event *Event) error
}

// ModuleRuntime provides kernel facilities to modules during registration.
type ModuleRuntime interface {
	// Services exposes the service registry for dependency lookup.
	Services() ServiceRegistry
	// Subscribe registers an asynchronous event handler owned by the module.
	Subscribe(ctx context.Context, interest InterestSet, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
}

// ModuleHandler binds one declared capability to one event handler.
type ModuleHandler struct {
	// Capability declares what the handler consumes and requires.
	Capability Capability
	// Subscription configures queueing for the handler.
	Subscription SubscriptionSpec
	// Handler processes matching events.
	Handler EventHandler
}

// ModuleSpec is the declarative registration contract of a module.
type ModuleSpec struct {
	// Handlers are subscribed by the kernel after OnRegister succeeds.
	Handlers []ModuleHandler
}

// Capabilities returns the capabilities declared by all handlers.
func (s ModuleSpec) Capabilities() []Capability {
	capabilities := make([]Capability, 0, len(s.Handlers))
	for _, handler := range s.Handlers {
		capabilities = append(capabilities, handler.Capability)
	}

	return capabilities
}

// Module is a lifecycle-aware plugin contract.
//
// Modules must be concurrency-safe because handlers can run on multiple workers.
type Module interface {
	// Name returns a stable module identifier.
	Name() string
	// Spec declares handlers the kernel subscribes on the module's behalf.
	Spec() ModuleSpec
	// OnStart is called when the kernel begins runtime execution.
	OnStart(ctx context.Context) error
	// OnShutdown is called during orderly shutdown.
	OnShutdown(ctx context.Context) error
}

// ModuleRegistrar is implemented by modules that resolve services at registration.
type ModuleRegistrar interface {
	// OnRegister is called once before declared handlers are subscribed.
	OnRegister(ctx context.Context, runtime ModuleRuntime) error
}

// Driver adapts external platforms into neutral events.
//
// Drivers own transport/session concerns and must publish only kagami.Event.
type Driver interface {
	// Name returns a stable driver identifier.
	Name() string
	// Start starts consuming external updates and publishing neutral events.
	// It should return only after context cancellation or fatal error.
	Start(ctx context.Context, dispatcher EventDispatcher) error
	// Shutdown stops external resources that are not tied to Start context alone.
	Shutdown(ctx context.Context) error
}
