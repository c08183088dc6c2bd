package kagami

import (
	"context"
	"fmt"
)

// ServiceSinkDispatcher is the canonical service registry key for outbound messaging.
const ServiceSinkDispatcher = "kagami.sink_dispatcher"

// ServiceProxyDispatcher is the canonical service registry key for proxy endpoint operations.
const ServiceProxyDispatcher = "kagami.proxy_dispatcher"

// SinkDispatcher sends and reads messages as the process's own identity.
type SinkDispatcher interface {
	// SendMessage publishes a new plain message to a destination conversation.
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	// GetMessage fetches one message by conversation and message id.
	GetMessage(ctx context.Context, conversationID string, messageID string) (*FetchedMessage, error)
	// GetConversation resolves a conversation handle by id.
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)
	// ListSpaces lists the guilds/workspaces visible to this identity.
	ListSpaces(ctx context.Context) ([]Space, error)
}

// ProxyDispatcher manages proxy endpoints that post under a custom identity.
//
// A proxy endpoint lives in exactly one conversation. Messages posted through
// it carry the endpoint's display name and avatar.
type ProxyDispatcher interface {
	// CreateProxyEndpoint creates a new endpoint in a conversation.
	CreateProxyEndpoint(ctx context.Context, request CreateProxyEndpointRequest) (*ProxyEndpoint, error)
	// GetProxyEndpoint resolves an existing endpoint by id, failing when it no
	// longer exists.
	GetProxyEndpoint(ctx context.Context, endpointID string) (*ProxyEndpoint, error)
	// ExecuteProxyEndpoint posts a message through an endpoint.
	ExecuteProxyEndpoint(ctx context.Context, request ExecuteProxyRequest) (*OutboundMessage, error)
	// EditProxyMessage replaces the text of a message previously posted
	// through the same endpoint.
	EditProxyMessage(ctx context.Context, request EditProxyMessageRequest) error
	// DeleteProxyMessage deletes a message previously posted through the
	// same endpoint.
	DeleteProxyMessage(ctx context.Context, request DeleteProxyMessageRequest) error
}

// Space is a guild/workspace grouping conversations.
type Space struct {
	// ID is the platform space identifier.
	ID string
	// Name is the display name of the space.
	Name string
}

// OutboundMessage identifies a message successfully emitted by a dispatcher.
type OutboundMessage struct {
	// ID is the destination-platform message identifier.
	ID string
	// ConversationID is the destination conversation.
	ConversationID string
}

// FetchedMessage is a message read back from the platform.
type FetchedMessage struct {
	// Conversation identifies where the message lives.
	Conversation Conversation
	// Author identifies who posted the message.
	Author Actor
	// Message is the message body.
	Message Message
}

// ProxyEndpoint is a live proxy endpoint handle.
//
// Credential is an opaque platform secret needed to post through the
// endpoint. It must not be logged or cached beyond one operation.
type ProxyEndpoint struct {
	// ID is the platform endpoint identifier.
	ID string
	// ConversationID is the conversation the endpoint posts into.
	ConversationID string
	// Name is the display name snapshot taken at creation.
	Name string
	// Credential authorizes execute/edit/delete through the endpoint.
	Credential string
}

// SendMessageRequest describes a new outbound text message.
type SendMessageRequest struct {
	// ConversationID identifies where the message should be sent.
	ConversationID string
	// Text is the message body.
	Text string
	// ReplyToMessageID optionally links this message as a reply.
	ReplyToMessageID string
}

// Validate checks the request envelope before dispatch.
func (r SendMessageRequest) Validate() error {
	if r.ConversationID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}

	return nil
}

// CreateProxyEndpointRequest describes a proxy endpoint to create.
type CreateProxyEndpointRequest struct {
	// ConversationID identifies the conversation the endpoint posts into.
	ConversationID string
	// DisplayName is the identity shown on posted messages.
	DisplayName string
	// AvatarURL optionally points at the avatar image to show.
	AvatarURL string
}

// Validate checks the request envelope before dispatch.
func (r CreateProxyEndpointRequest) Validate() error {
	if r.ConversationID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if r.DisplayName == "" {
		return fmt.Errorf("%w: missing display name", ErrInvalidOutboundRequest)
	}

	return nil
}

// ExecuteProxyRequest describes one message posted through a proxy endpoint.
type ExecuteProxyRequest struct {
	// Endpoint is the live endpoint to post through.
	Endpoint ProxyEndpoint
	// Text is the message body.
	Text string
	// Media lists attachments to re-upload with the message.
	Media []MediaAttachment
}

// Validate checks the request envelope before dispatch.
func (r ExecuteProxyRequest) Validate() error {
	if r.Endpoint.ID == "" {
		return fmt.Errorf("%w: missing endpoint id", ErrInvalidOutboundRequest)
	}
	if r.Text == "" && len(r.Media) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidOutboundRequest)
	}
	for idx, media := range r.Media {
		if media.URI == "" {
			return fmt.Errorf("%w: media %d missing uri", ErrInvalidOutboundRequest, idx)
		}
	}

	return nil
}

// EditProxyMessageRequest describes a text edit of a proxy-posted message.
type EditProxyMessageRequest struct {
	// Endpoint is the live endpoint that posted the message.
	Endpoint ProxyEndpoint
	// MessageID identifies which message should be edited.
	MessageID string
	// Text is the replacement message body.
	Text string
}

// Validate checks the request envelope before dispatch.
func (r EditProxyMessageRequest) Validate() error {
	if r.Endpoint.ID == "" {
		return fmt.Errorf("%w: missing endpoint id", ErrInvalidOutboundRequest)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}

	return nil
}

// DeleteProxyMessageRequest describes deletion of a proxy-posted message.
type DeleteProxyMessageRequest struct {
	// Endpoint is the live endpoint that posted the message.
	Endpoint ProxyEndpoint
	// MessageID identifies which message should be deleted.
	MessageID string
}

// Validate checks the request envelope before dispatch.
func (r DeleteProxyMessageRequest) Validate() error {
	if r.Endpoint.ID == "" {
		return fmt.Errorf("%w: missing endpoint id", ErrInvalidOutboundRequest)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}

	return nil
}
