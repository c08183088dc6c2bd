package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kagami/pkg/kagami"
)

// moduleRecord stores module metadata and subscriptions managed by the kernel.
type moduleRecord struct {
	name          string
	module        kagami.Module
	capabilities  []kagami.Capability
	subMu         sync.Mutex
	subscriptions []kagami.Subscription
}

func (m *moduleRecord) addSubscription(subscription kagami.Subscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions closes all tracked subscriptions; repeated calls are no-ops.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the kernel-owned implementation of kagami.ModuleRuntime.
type moduleRuntime struct {
	moduleName string
	services   kagami.ServiceRegistry
	bus        kagami.EventBus
	record     *moduleRecord
}

// Services returns the kernel service registry visible to the module.
func (r *moduleRuntime) Services() kagami.ServiceRegistry {
	return r.services
}

// Subscribe registers a module-owned subscription after capability checks.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest kagami.InterestSet,
	spec kagami.SubscriptionSpec,
	handler kagami.EventHandler,
) (kagami.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.moduleName + "-subscription"
	}
	if err := assertSubscriptionAllowed(r.record.capabilities, interest); err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}
	r.record.addSubscription(subscription)

	return subscription, nil
}

// assertSubscriptionAllowed requires that a declared capability covers the interest.
func assertSubscriptionAllowed(capabilities []kagami.Capability, interest kagami.InterestSet) error {
	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return nil
		}
	}

	return fmt.Errorf("%w: interest not covered by declared capabilities", kagami.ErrInvalidSubscription)
}
