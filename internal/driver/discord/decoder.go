package discord

import (
	"context"
	"fmt"
	"time"

	"kagami/pkg/kagami"
)

// DefaultDecoder maps gateway dispatches to neutral events.
type DefaultDecoder struct {
	identity *Identity
	now      func() time.Time
}

// NewDefaultDecoder creates a decoder that marks the bot's own messages
// using identity. READY updates record the bot user into identity.
func NewDefaultDecoder(identity *Identity) *DefaultDecoder {
	if identity == nil {
		identity = NewIdentity()
	}

	return &DefaultDecoder{
		identity: identity,
		now:      time.Now,
	}
}

// Decode converts one update into a neutral event.
func (d *DefaultDecoder) Decode(_ context.Context, update Update) (*kagami.Event, error) {
	receivedAt := update.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = d.now()
	}

	switch update.Type {
	case UpdateTypeReady:
		return d.decodeReady(update, receivedAt)
	case UpdateTypeMessageCreate:
		return d.decodeCreate(update, receivedAt)
	case UpdateTypeMessageUpdate:
		return d.decodeUpdate(update, receivedAt)
	case UpdateTypeMessageDelete:
		return d.decodeDelete(update, receivedAt)
	default:
		return nil, fmt.Errorf("decode: unsupported update type %q", update.Type)
	}
}

func (d *DefaultDecoder) decodeReady(update Update, receivedAt time.Time) (*kagami.Event, error) {
	ready := update.Ready
	if ready == nil || ready.User == nil {
		return nil, fmt.Errorf("decode ready: missing user")
	}
	d.identity.Set(ready.User.ID)

	return &kagami.Event{
		ID:         "ready:" + ready.SessionID,
		Kind:       kagami.EventKindSessionReady,
		OccurredAt: receivedAt,
		Platform:   DriverPlatform,
		Actor:      actorFromUser(ready.User, nil, d.identity),
		Session: &kagami.Session{
			Self:      actorFromUser(ready.User, nil, d.identity),
			SessionID: ready.SessionID,
		},
	}, nil
}

func (d *DefaultDecoder) decodeCreate(update Update, receivedAt time.Time) (*kagami.Event, error) {
	if update.MessageCreate == nil || update.MessageCreate.Message == nil {
		return nil, fmt.Errorf("decode message create: missing message")
	}
	message := update.MessageCreate.Message

	occurredAt := message.Timestamp
	if occurredAt.IsZero() {
		occurredAt = receivedAt
	}
	mapped := messageFromDiscord(message)

	return &kagami.Event{
		ID:           "message:" + message.ID,
		Kind:         kagami.EventKindMessageCreated,
		OccurredAt:   occurredAt,
		Platform:     DriverPlatform,
		Conversation: conversationFromMessage(message),
		Actor:        actorFromUser(message.Author, message.Member, d.identity),
		Message:      &mapped,
	}, nil
}

// decodeUpdate leaves Mutation.After nil when the dispatch is partial (no
// text and no attachments) or the cached previous text is unchanged (embed
// unfurls). Cleared text on a message that keeps attachments is an edit.
func (d *DefaultDecoder) decodeUpdate(update Update, receivedAt time.Time) (*kagami.Event, error) {
	if update.MessageUpdate == nil || update.MessageUpdate.Message == nil {
		return nil, fmt.Errorf("decode message update: missing message")
	}
	message := update.MessageUpdate.Message
	before := update.MessageUpdate.BeforeUpdate

	occurredAt := receivedAt
	if message.EditedTimestamp != nil && !message.EditedTimestamp.IsZero() {
		occurredAt = *message.EditedTimestamp
	}

	mutation := &kagami.Mutation{
		Type:            kagami.MutationTypeEdit,
		TargetMessageID: message.ID,
	}
	if editChangesText(message, before) {
		mutation.After = &kagami.MessageSnapshot{
			Text:  message.Content,
			Media: mediaFromAttachments(message.Attachments),
		}
	}

	return &kagami.Event{
		ID:           fmt.Sprintf("edit:%s:%d", message.ID, occurredAt.UnixNano()),
		Kind:         kagami.EventKindMessageEdited,
		OccurredAt:   occurredAt,
		Platform:     DriverPlatform,
		Conversation: conversationFromMessage(message),
		Actor:        actorFromUser(message.Author, message.Member, d.identity),
		Mutation:     mutation,
	}, nil
}

// decodeDelete fills the actor only when the session state still held the
// deleted message.
func (d *DefaultDecoder) decodeDelete(update Update, receivedAt time.Time) (*kagami.Event, error) {
	if update.MessageDelete == nil || update.MessageDelete.Message == nil {
		return nil, fmt.Errorf("decode message delete: missing message")
	}
	message := update.MessageDelete.Message

	var actor kagami.Actor
	if before := update.MessageDelete.BeforeDelete; before != nil {
		actor = actorFromUser(before.Author, before.Member, d.identity)
	}

	return &kagami.Event{
		ID:           "delete:" + message.ID,
		Kind:         kagami.EventKindMessageRetracted,
		OccurredAt:   receivedAt,
		Platform:     DriverPlatform,
		Conversation: conversationFromMessage(message),
		Actor:        actor,
		Mutation: &kagami.Mutation{
			Type:            kagami.MutationTypeRetraction,
			TargetMessageID: message.ID,
		},
	}, nil
}
