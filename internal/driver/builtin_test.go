package driver

import (
	"testing"

	"kagami/internal/driver/discord"
)

func TestNewBuiltinRegistryIncludesDiscord(t *testing.T) {
	t.Parallel()

	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}

	platform, err := registry.PlatformForType(discord.DriverType)
	if err != nil {
		t.Fatalf("platform for discord type failed: %v", err)
	}
	if platform != discord.DriverPlatform {
		t.Fatalf("platform = %s, want %s", platform, discord.DriverPlatform)
	}
	if types := registry.Types(); len(types) != 1 || types[0] != discord.DriverType {
		t.Fatalf("types = %v, want [%s]", types, discord.DriverType)
	}
}
