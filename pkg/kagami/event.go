package kagami

import (
	"fmt"
	"time"
)

// EventKind identifies a neutral domain event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a new message is posted.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindMessageEdited is emitted when an existing message is edited.
	EventKindMessageEdited EventKind = "message.edited"
	// EventKindMessageRetracted is emitted when a message is deleted.
	EventKindMessageRetracted EventKind = "message.retracted"
	// EventKindSessionReady is emitted once the platform session is established.
	EventKindSessionReady EventKind = "session.ready"
)

// Platform identifies an external chat platform source.
type Platform string

const (
	// PlatformDiscord is Discord.
	PlatformDiscord Platform = "discord"
)

// ConversationType identifies conversation scope.
type ConversationType string

const (
	// ConversationTypePrivate is a direct/private conversation.
	ConversationTypePrivate ConversationType = "private"
	// ConversationTypeGroup is a multi-party conversation outside a guild.
	ConversationTypeGroup ConversationType = "group"
	// ConversationTypeChannel is a guild channel.
	ConversationTypeChannel ConversationType = "channel"
)

// Event is the neutral protocol envelope that drivers publish and modules consume.
//
// Message, Mutation and Session are payload branches selected by Kind.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload branch is expected.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Platform identifies the upstream platform that produced the event.
	Platform Platform
	// Conversation identifies where the event happened.
	Conversation Conversation
	// Actor identifies who initiated the event when available.
	Actor Actor
	// Message carries message content for message-created events.
	Message *Message
	// Mutation carries edit and retraction context.
	Mutation *Mutation
	// Session carries session identity for session-ready events.
	Session *Session
	// Metadata stores optional driver-provided key/value context.
	Metadata map[string]string
}

// Conversation identifies the neutral destination where an event occurred.
type Conversation struct {
	// ID is the stable conversation identifier on the source platform.
	ID string
	// Type describes the conversation scope.
	Type ConversationType
	// Title is a best-effort display label for the conversation.
	Title string
	// SpaceID is the guild/workspace owning the conversation when any.
	SpaceID string
}

// Actor identifies the user/account that initiated an event.
type Actor struct {
	// ID is the stable actor identifier on the source platform.
	ID string
	// Username is the platform handle when available.
	Username string
	// DisplayName is the human-readable actor name.
	DisplayName string
	// AvatarURL is a fetchable avatar image location when the actor has one.
	AvatarURL string
	// IsBot reports whether the actor is an automated account.
	IsBot bool
	// IsSelf reports whether the actor is the identity this process runs as.
	IsSelf bool
}

// Name returns the best human-readable label for the actor.
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}

	return a.Username
}

// Known reports whether the actor carries an identity.
func (a Actor) Known() bool {
	return a.ID != ""
}

// Message holds neutral message content including rich media.
type Message struct {
	// ID is the message identifier on the source platform.
	ID string
	// ReplyToID is the parent message identifier when this is a reply.
	ReplyToID string
	// Text is the message text body.
	Text string
	// Media contains normalized attachments associated with the message.
	Media []MediaAttachment
	// ProxyEndpointID is set when the message was posted through a proxy
	// endpoint rather than by a regular account.
	ProxyEndpointID string
}

// ViaProxy reports whether the message originates from any proxy endpoint.
func (m *Message) ViaProxy() bool {
	return m != nil && m.ProxyEndpointID != ""
}

// MediaType identifies attachment media categories.
type MediaType string

const (
	// MediaTypePhoto identifies an image attachment.
	MediaTypePhoto MediaType = "photo"
	// MediaTypeVideo identifies a video attachment.
	MediaTypeVideo MediaType = "video"
	// MediaTypeDocument identifies a generic file attachment.
	MediaTypeDocument MediaType = "document"
	// MediaTypeAudio identifies an audio attachment.
	MediaTypeAudio MediaType = "audio"
)

// MediaAttachment represents rich media payload metadata.
type MediaAttachment struct {
	// ID is the stable attachment identifier when provided by the platform.
	ID string
	// Type is the normalized media category.
	Type MediaType
	// MIMEType is the attachment content type when known.
	MIMEType string
	// FileName is the original attachment filename when available.
	FileName string
	// SizeBytes is the attachment size in bytes when available.
	SizeBytes int64
	// URI is the retrievable location for the attachment.
	URI string
}

// MutationType identifies message mutation kind.
type MutationType string

const (
	// MutationTypeEdit indicates message edit.
	MutationTypeEdit MutationType = "edit"
	// MutationTypeRetraction indicates message deletion.
	MutationTypeRetraction MutationType = "retraction"
)

// Mutation holds message mutation context.
type Mutation struct {
	// Type identifies the mutation operation.
	Type MutationType
	// TargetMessageID identifies the message affected by the mutation.
	TargetMessageID string
	// After captures message state after an edit. Nil for retractions and
	// for edits that did not change the text.
	After *MessageSnapshot
}

// MessageSnapshot stores immutable message state snapshots for mutations.
type MessageSnapshot struct {
	// Text is the immutable text snapshot.
	Text string
	// Media is the immutable media snapshot.
	Media []MediaAttachment
}

// Session describes the established platform session.
type Session struct {
	// Self is the identity this process runs as.
	Self Actor
	// SessionID is the platform session identifier when provided.
	SessionID string
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.Kind != EventKindSessionReady && e.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
	}

	return validatePayloadByKind(e)
}

// validatePayloadByKind enforces payload branch requirements for each event kind.
func validatePayloadByKind(e *Event) error {
	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
		if e.Message.ID == "" {
			return fmt.Errorf("%w: message.created requires message id", ErrInvalidEvent)
		}
	case EventKindMessageEdited, EventKindMessageRetracted:
		if e.Mutation == nil {
			return fmt.Errorf("%w: mutation event requires mutation payload", ErrInvalidEvent)
		}
		if e.Mutation.TargetMessageID == "" {
			return fmt.Errorf("%w: mutation event requires target message id", ErrInvalidEvent)
		}
	case EventKindSessionReady:
		if e.Session == nil {
			return fmt.Errorf("%w: session.ready requires session payload", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}
