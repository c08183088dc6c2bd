package discord

import (
	"context"
	"time"

	"kagami/pkg/kagami"

	"github.com/bwmarrin/discordgo"
)

const (
	// DriverType is the configuration token selecting this driver.
	DriverType = "discord"
	// DriverPlatform is the neutral platform emitted on decoded events.
	DriverPlatform = kagami.PlatformDiscord
)

// UpdateType identifies one gateway dispatch kind the driver consumes.
type UpdateType string

const (
	// UpdateTypeReady is the gateway READY dispatch.
	UpdateTypeReady UpdateType = "ready"
	// UpdateTypeMessageCreate is the MESSAGE_CREATE dispatch.
	UpdateTypeMessageCreate UpdateType = "message_create"
	// UpdateTypeMessageUpdate is the MESSAGE_UPDATE dispatch.
	UpdateTypeMessageUpdate UpdateType = "message_update"
	// UpdateTypeMessageDelete is the MESSAGE_DELETE dispatch.
	UpdateTypeMessageDelete UpdateType = "message_delete"
)

// Update is one gateway dispatch captured from the session.
//
// Exactly one payload field matching Type is set.
type Update struct {
	Type       UpdateType
	ReceivedAt time.Time

	Ready         *discordgo.Ready
	MessageCreate *discordgo.MessageCreate
	MessageUpdate *discordgo.MessageUpdate
	MessageDelete *discordgo.MessageDelete
}

// UpdateHandler consumes one gateway update.
type UpdateHandler func(ctx context.Context, update Update) error

// UpdateSource streams gateway updates until ctx is canceled.
type UpdateSource interface {
	Consume(ctx context.Context, handler UpdateHandler) error
}

// Decoder converts one gateway update into a neutral event.
//
// A nil event with nil error means the update carries nothing to publish.
type Decoder interface {
	Decode(ctx context.Context, update Update) (*kagami.Event, error)
}
