package kernel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"kagami/pkg/kagami"
)

// Kernel owns the event bus, the service registry, and the lifecycle of
// registered modules and drivers.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	mu          sync.RWMutex
	modules     map[string]*moduleRecord
	moduleOrder []string
	drivers     map[string]kagami.Driver
	driverOrder []string

	runMu   sync.Mutex
	running bool
}

// New creates a kernel with the given options applied over defaults.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Kernel{
		cfg: cfg,
		bus: NewEventBus(
			cfg.subscriptionBuffer,
			cfg.subscriptionWorker,
			cfg.handlerTimeout,
			cfg.onAsyncError,
		),
		services: NewServiceRegistry(),
		modules:  make(map[string]*moduleRecord),
		drivers:  make(map[string]kagami.Driver),
	}
}

// EventBus exposes the kernel event bus to integration code.
func (k *Kernel) EventBus() kagami.EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() kagami.ServiceRegistry {
	return k.services
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("kernel register service: %w", err)
	}

	return nil
}

// RegisterModule registers a module, runs its optional OnRegister hook, and
// subscribes its declared handlers.
//
// Required services of every declared capability must already be registered.
// A failed registration leaves no subscriptions or registry entries behind.
func (k *Kernel) RegisterModule(ctx context.Context, module kagami.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}
	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	record := &moduleRecord{
		name:         name,
		module:       module,
		capabilities: spec.Capabilities(),
	}
	if err := k.checkRequiredServices(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.mu.Lock()
	if _, exists := k.modules[name]; exists {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, kagami.ErrModuleAlreadyRegistered)
	}
	k.modules[name] = record
	k.moduleOrder = append(k.moduleOrder, name)
	k.mu.Unlock()

	runtime := &moduleRuntime{
		moduleName: name,
		services:   k.services,
		bus:        k.bus,
		record:     record,
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	if registrar, ok := module.(kagami.ModuleRegistrar); ok {
		if err := runSafely("module "+name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			k.rollbackModule(ctx, record)
			return fmt.Errorf("register module %s: %w", name, err)
		}
	}

	for idx, declared := range spec.Handlers {
		subscription := declared.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-handler-%d", name, idx+1)
		}
		if _, err := runtime.Subscribe(hookCtx, declared.Capability.Interest, subscription, declared.Handler); err != nil {
			k.rollbackModule(ctx, record)
			return fmt.Errorf(
				"register module %s handler %s: %w",
				name,
				declared.Capability.Name,
				err,
			)
		}
	}

	k.cfg.logger.DebugContext(ctx, "module registered",
		"module", name,
		"handlers", len(spec.Handlers),
	)

	return nil
}

// RegisterDriver registers a platform driver.
func (k *Kernel) RegisterDriver(driver kagami.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.drivers[name]; exists {
		return fmt.Errorf("register driver %s: %w", name, kagami.ErrDriverAlreadyRegistered)
	}
	k.drivers[name] = driver
	k.driverOrder = append(k.driverOrder, name)

	return nil
}

// Run starts modules and drivers, then blocks until ctx is canceled or a
// driver fails. Shutdown always runs before Run returns.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.beginRun(); err != nil {
		return err
	}
	defer k.endRun()

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdownAll(ctx))
	}

	driverCtx, cancelDrivers := context.WithCancel(ctx)
	driverErr, waitDrivers := k.startDrivers(driverCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-driverErr:
	}

	cancelDrivers()
	waitDrivers()

	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, k.shutdownAll(ctx))
}

func (k *Kernel) beginRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

func (k *Kernel) endRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// snapshotModules returns module records in registration order.
func (k *Kernel) snapshotModules() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	records := make([]*moduleRecord, 0, len(k.moduleOrder))
	for _, name := range k.moduleOrder {
		if record := k.modules[name]; record != nil {
			records = append(records, record)
		}
	}

	return records
}

// snapshotDrivers returns drivers in registration order.
func (k *Kernel) snapshotDrivers() []kagami.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	drivers := make([]kagami.Driver, 0, len(k.driverOrder))
	for _, name := range k.driverOrder {
		if driver := k.drivers[name]; driver != nil {
			drivers = append(drivers, driver)
		}
	}

	return drivers
}

func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.snapshotModules() {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
		k.cfg.logger.InfoContext(ctx, "module started", "module", record.name)
	}

	return nil
}

// startDrivers runs every driver in its own goroutine. The returned channel
// yields the first fatal driver error, or context.Canceled once all drivers
// have returned. The wait function blocks for driver exit up to the shutdown
// timeout.
func (k *Kernel) startDrivers(ctx context.Context) (<-chan error, func()) {
	errs := make(chan error, 1)
	done := make(chan struct{})
	var workers sync.WaitGroup

	for _, driver := range k.snapshotDrivers() {
		workers.Add(1)
		go func() {
			defer workers.Done()
			name := driver.Name()
			k.cfg.logger.InfoContext(ctx, "driver starting", "driver", name)
			err := runSafely("driver "+name+" Start", func() error {
				return driver.Start(ctx, k.bus)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case errs <- fmt.Errorf("run driver %s: %w", name, err):
			default:
			}
		}()
	}

	go func() {
		workers.Wait()
		close(done)
		select {
		case errs <- context.Canceled:
		default:
		}
	}()

	wait := func() {
		timer := time.NewTimer(k.cfg.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			k.cfg.logger.Warn("drivers did not stop within shutdown timeout",
				"timeout", k.cfg.shutdownTimeout,
			)
		}
	}

	return errs, wait
}

// shutdownAll tears down drivers, modules, and the bus inside one bounded
// window that survives cancellation of ctx.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	err := errors.Join(
		k.shutdownDrivers(shutdownCtx),
		k.shutdownModules(shutdownCtx),
		k.bus.Close(shutdownCtx),
	)
	if err != nil {
		return fmt.Errorf("kernel shutdown: %w", err)
	}

	return nil
}

func (k *Kernel) shutdownDrivers(ctx context.Context) error {
	var shutdownErr error
	for _, driver := range slices.Backward(k.snapshotDrivers()) {
		name := driver.Name()
		if err := runSafely("driver "+name+" Shutdown", func() error {
			return driver.Shutdown(ctx)
		}); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown driver %s: %w", name, err))
		}
	}

	return shutdownErr
}

// shutdownModules closes subscriptions then calls OnShutdown in reverse
// registration order.
func (k *Kernel) shutdownModules(ctx context.Context) error {
	var shutdownErr error
	for _, record := range slices.Backward(k.snapshotModules()) {
		if err := record.closeSubscriptions(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
		}
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		cancel()
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
	}

	return shutdownErr
}

// rollbackModule removes a partially registered module and its subscriptions.
func (k *Kernel) rollbackModule(ctx context.Context, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback module "+record.name, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.modules, record.name)
	k.moduleOrder = slices.DeleteFunc(k.moduleOrder, func(name string) bool {
		return name == record.name
	})
}

func (k *Kernel) checkRequiredServices(capabilities []kagami.Capability) error {
	for _, capability := range capabilities {
		for _, serviceName := range capability.RequiredServices {
			if _, err := k.services.Resolve(serviceName); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, serviceName, err)
			}
		}
	}

	return nil
}

// validateModuleSpec rejects unnamed or duplicate capabilities, nil handlers,
// and duplicate subscription names.
func validateModuleSpec(spec kagami.ModuleSpec) error {
	capabilities := make(map[string]struct{}, len(spec.Handlers))
	subscriptions := make(map[string]struct{}, len(spec.Handlers))

	for idx, handler := range spec.Handlers {
		name := handler.Capability.Name
		if name == "" {
			return fmt.Errorf("module handler %d: empty capability name", idx)
		}
		if _, exists := capabilities[name]; exists {
			return fmt.Errorf("module handler %d: duplicate capability name %s", idx, name)
		}
		capabilities[name] = struct{}{}

		if handler.Handler == nil {
			return fmt.Errorf("module handler %s: nil handler", name)
		}
		if subscription := handler.Subscription.Name; subscription != "" {
			if _, exists := subscriptions[subscription]; exists {
				return fmt.Errorf("module handler %s: duplicate subscription name %s", name, subscription)
			}
			subscriptions[subscription] = struct{}{}
		}
	}

	return nil
}

// ModuleNames lists registered modules in registration order.
func (k *Kernel) ModuleNames() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.moduleOrder)
}

// DriverNames lists registered drivers sorted by name.
func (k *Kernel) DriverNames() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Sorted(maps.Keys(k.drivers))
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
