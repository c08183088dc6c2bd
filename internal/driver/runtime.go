package driver

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"kagami/pkg/kagami"
)

// Definition describes one configured driver entry.
type Definition struct {
	// Name is the stable configured driver instance identifier.
	Name string
	// Type identifies which builder should construct this runtime.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores driver-type-specific JSON payload.
	Config []byte
}

// Runtime contains one fully built driver runtime instance.
type Runtime struct {
	// Name is the configured instance name.
	Name string
	// Platform is the neutral platform the driver publishes for.
	Platform kagami.Platform
	// Driver is the inbound runtime registered with the kernel.
	Driver kagami.Driver
	// SinkDispatcher sends and reads messages as the bot identity.
	SinkDispatcher kagami.SinkDispatcher
	// ProxyDispatcher manages proxy endpoints when the platform supports them.
	ProxyDispatcher kagami.ProxyDispatcher
}

// BuilderFunc builds one runtime from one configured driver definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds one driver type token to platform metadata and a runtime builder.
type Descriptor struct {
	// Type is the driver type token from configuration (for example "discord").
	Type string
	// Platform is the neutral platform for this driver type.
	Platform kagami.Platform
	// Builder constructs one runtime instance for this driver type.
	Builder BuilderFunc
}

type registryEntry struct {
	platform kagami.Platform
	builder  BuilderFunc
}

// Registry maps driver types to runtime builders. It is immutable after construction.
type Registry struct {
	entries map[string]registryEntry
	types   []string
}

// NewRegistry creates one registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	entries := make(map[string]registryEntry, len(descriptors))
	types := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		switch {
		case descriptor.Type == "":
			return nil, fmt.Errorf("new registry: empty descriptor type")
		case descriptor.Platform == "":
			return nil, fmt.Errorf("new registry type %s: empty platform", descriptor.Type)
		case descriptor.Builder == nil:
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := entries[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}

		entries[descriptor.Type] = registryEntry{
			platform: descriptor.Platform,
			builder:  descriptor.Builder,
		}
		types = append(types, descriptor.Type)
	}
	slices.Sort(types)

	return &Registry{entries: entries, types: types}, nil
}

// Types returns all registered driver types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	return slices.Clone(r.types)
}

// PlatformForType resolves one registered driver type to its neutral platform.
func (r *Registry) PlatformForType(driverType string) (kagami.Platform, error) {
	if r == nil {
		return "", fmt.Errorf("resolve platform: nil registry")
	}

	entry, exists := r.entries[driverType]
	if !exists {
		return "", fmt.Errorf("unsupported type %s", driverType)
	}

	return entry.platform, nil
}

// BuildEnabled builds all enabled driver definitions in order.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}

		entry, exists := r.entries[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build driver %s type %q: unsupported type", definition.Name, definition.Type)
		}

		runtime, err := entry.builder(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		if runtime.Driver == nil {
			return nil, fmt.Errorf("build driver %s type %s: nil driver", definition.Name, definition.Type)
		}
		if runtime.Name == "" {
			runtime.Name = definition.Name
		}
		if runtime.Platform == "" {
			runtime.Platform = entry.platform
		}

		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}
