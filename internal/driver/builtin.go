package driver

import (
	"context"
	"fmt"
	"log/slog"

	"kagami/internal/driver/discord"
)

// NewBuiltinRegistry constructs the registry with all built-in drivers.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type:     discord.DriverType,
			Platform: discord.DriverPlatform,
			Builder: func(
				_ context.Context,
				definition Definition,
				logger *slog.Logger,
			) (Runtime, error) {
				driver, outbound, err := discord.BuildRuntimeFromConfig(definition.Name, logger, definition.Config)
				if err != nil {
					return Runtime{}, fmt.Errorf("build discord runtime from config: %w", err)
				}

				return Runtime{
					Name:            definition.Name,
					Platform:        discord.DriverPlatform,
					Driver:          driver,
					SinkDispatcher:  outbound,
					ProxyDispatcher: outbound,
				}, nil
			},
		},
	})
}
