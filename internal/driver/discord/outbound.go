package discord

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"kagami/pkg/kagami"

	"github.com/bwmarrin/discordgo"
)

const defaultRequestTimeout = 10 * time.Second

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

type outboundConfig struct {
	requestTimeout time.Duration
	logger         *slog.Logger
	identity       *Identity
}

// WithRequestTimeout bounds each outbound REST call.
func WithRequestTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.requestTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithOutboundIdentity marks fetched messages authored by the bot.
func WithOutboundIdentity(identity *Identity) OutboundOption {
	return func(cfg *outboundConfig) {
		if identity != nil {
			cfg.identity = identity
		}
	}
}

// Outbound implements kagami.SinkDispatcher and kagami.ProxyDispatcher on
// Discord REST. Proxy endpoints are channel webhooks; the endpoint
// credential is the webhook token.
type Outbound struct {
	cfg  outboundConfig
	rest restAPI
}

// NewOutbound creates an outbound dispatcher using a discordgo session.
func NewOutbound(session *discordgo.Session, options ...OutboundOption) (*Outbound, error) {
	if session == nil {
		return nil, fmt.Errorf("new discord outbound: nil session")
	}

	return newOutboundWithREST(newSessionREST(session), options...)
}

func newOutboundWithREST(rest restAPI, options ...OutboundOption) (*Outbound, error) {
	if rest == nil {
		return nil, fmt.Errorf("new discord outbound: nil rest adapter")
	}

	cfg := outboundConfig{
		requestTimeout: defaultRequestTimeout,
		logger:         slog.Default(),
		identity:       NewIdentity(),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Outbound{cfg: cfg, rest: rest}, nil
}

// SendMessage posts a plain message as the bot.
func (o *Outbound) SendMessage(ctx context.Context, request kagami.SendMessageRequest) (*kagami.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}

	callCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	sent, err := o.rest.SendMessage(callCtx, request.ConversationID, request.Text, request.ReplyToMessageID)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w",
			request.ConversationID,
			mapDiscordOutboundError(kagami.OutboundOperationSendMessage, err),
		)
	}

	o.cfg.logger.DebugContext(ctx, "discord outbound",
		"operation", kagami.OutboundOperationSendMessage,
		"conversation", request.ConversationID,
		"message_id", sent.ID,
	)

	return &kagami.OutboundMessage{ID: sent.ID, ConversationID: sent.ChannelID}, nil
}

// GetMessage fetches one message with its author.
func (o *Outbound) GetMessage(ctx context.Context, conversationID string, messageID string) (*kagami.FetchedMessage, error) {
	if conversationID == "" || messageID == "" {
		return nil, fmt.Errorf("get message: %w: missing conversation or message id", kagami.ErrInvalidOutboundRequest)
	}

	callCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	message, err := o.rest.Message(callCtx, conversationID, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message %s in %s: %w",
			messageID,
			conversationID,
			mapDiscordOutboundError(kagami.OutboundOperationGetMessage, err),
		)
	}

	return &kagami.FetchedMessage{
		Conversation: conversationFromMessage(message),
		Author:       actorFromUser(message.Author, message.Member, o.cfg.identity),
		Message:      messageFromDiscord(message),
	}, nil
}

// GetConversation resolves a channel handle.
func (o *Outbound) GetConversation(ctx context.Context, conversationID string) (kagami.Conversation, error) {
	if conversationID == "" {
		return kagami.Conversation{}, fmt.Errorf("get conversation: %w: missing conversation id", kagami.ErrInvalidOutboundRequest)
	}

	callCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	channel, err := o.rest.Channel(callCtx, conversationID)
	if err != nil {
		return kagami.Conversation{}, fmt.Errorf("get conversation %s: %w",
			conversationID,
			mapDiscordOutboundError(kagami.OutboundOperationGetConversation, err),
		)
	}

	return conversationFromChannel(channel), nil
}

// ListSpaces lists the guilds the bot belongs to.
func (o *Outbound) ListSpaces(ctx context.Context) ([]kagami.Space, error) {
	callCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	guilds, err := o.rest.Guilds(callCtx)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", mapDiscordOutboundError(kagami.OutboundOperationListSpaces, err))
	}

	spaces := make([]kagami.Space, 0, len(guilds))
	for _, guild := range guilds {
		if guild == nil {
			continue
		}
		spaces = append(spaces, kagami.Space{ID: guild.ID, Name: guild.Name})
	}

	return spaces, nil
}

// CreateProxyEndpoint creates a channel webhook. When the avatar cannot be
// fetched the webhook is created with the name only.
func (o *Outbound) CreateProxyEndpoint(
	ctx context.Context,
	request kagami.CreateProxyEndpointRequest,
) (*kagami.ProxyEndpoint, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("create proxy endpoint validate: %w", err)
	}

	callCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	var avatar string
	if request.AvatarURL != "" {
		encoded, err := o.avatarDataURI(callCtx, request.AvatarURL)
		if err != nil {
			o.cfg.logger.WarnContext(ctx, "proxy endpoint avatar unavailable, creating without avatar",
				"conversation", request.ConversationID,
				"error", err,
			)
		} else {
			avatar = encoded
		}
	}

	webhook, err := o.rest.CreateWebhook(callCtx, request.ConversationID, request.DisplayName, avatar)
	if err != nil {
		return nil, fmt.Errorf("create proxy endpoint in %s: %w",
			request.ConversationID,
			mapDiscordOutboundError(kagami.OutboundOperationCreateProxy, err),
		)
	}

	o.cfg.logger.DebugContext(ctx, "discord outbound",
		"operation", kagami.OutboundOperationCreateProxy,
		"conversation", request.ConversationID,
		"endpoint_id", webhook.ID,
		"with_avatar", avatar != "",
	)

	return proxyEndpointFromWebhook(webhook), nil
}

// GetProxyEndpoint resolves a live webhook by id.
func (o *Outbound) GetProxyEndpoint(ctx context.Context, endpointID string) (*kagami.ProxyEndpoint, error) {
	if endpointID == "" {
		return nil, fmt.Errorf("get proxy endpoint: %w: missing endpoint id", kagami.ErrInvalidOutboundRequest)
	}

	callCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	webhook, err := o.rest.Webhook(callCtx, endpointID)
	if err != nil {
		return nil, fmt.Errorf("get proxy endpoint %s: %w",
			endpointID,
			mapDiscordOutboundError(kagami.OutboundOperationGetProxy, err),
		)
	}
	if webhook.Token == "" {
		return nil, fmt.Errorf("get proxy endpoint %s: %w", endpointID, &kagami.OutboundError{
			Operation: kagami.OutboundOperationGetProxy,
			Kind:      kagami.OutboundErrorKindPermanent,
			Platform:  DriverPlatform,
			Cause:     fmt.Errorf("webhook has no token"),
		})
	}

	return proxyEndpointFromWebhook(webhook), nil
}

// ExecuteProxyEndpoint posts through a webhook, re-uploading media.
func (o *Outbound) ExecuteProxyEndpoint(
	ctx context.Context,
	request kagami.ExecuteProxyRequest,
) (*kagami.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("execute proxy endpoint validate: %w", err)
	}

	callCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	params := &discordgo.WebhookParams{Content: request.Text}
	for idx, media := range request.Media {
		body, contentType, err := o.rest.Download(callCtx, media.URI)
		if err != nil {
			return nil, fmt.Errorf("execute proxy endpoint %s media %d: %w", request.Endpoint.ID, idx, err)
		}
		if media.MIMEType != "" {
			contentType = media.MIMEType
		}
		params.Files = append(params.Files, &discordgo.File{
			Name:        attachmentFileName(media, idx),
			ContentType: contentType,
			Reader:      bytes.NewReader(body),
		})
	}

	sent, err := o.rest.ExecuteWebhook(callCtx, request.Endpoint.ID, request.Endpoint.Credential, params)
	if err != nil {
		return nil, fmt.Errorf("execute proxy endpoint %s: %w",
			request.Endpoint.ID,
			mapDiscordOutboundError(kagami.OutboundOperationExecuteProxy, err),
		)
	}
	if sent == nil {
		return nil, fmt.Errorf("execute proxy endpoint %s: empty response", request.Endpoint.ID)
	}

	o.cfg.logger.DebugContext(ctx, "discord outbound",
		"operation", kagami.OutboundOperationExecuteProxy,
		"endpoint_id", request.Endpoint.ID,
		"message_id", sent.ID,
		"files", len(params.Files),
	)

	conversationID := sent.ChannelID
	if conversationID == "" {
		conversationID = request.Endpoint.ConversationID
	}

	return &kagami.OutboundMessage{ID: sent.ID, ConversationID: conversationID}, nil
}

// EditProxyMessage replaces the text of a webhook message.
func (o *Outbound) EditProxyMessage(ctx context.Context, request kagami.EditProxyMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("edit proxy message validate: %w", err)
	}

	callCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	if err := o.rest.EditWebhookMessage(
		callCtx,
		request.Endpoint.ID,
		request.Endpoint.Credential,
		request.MessageID,
		request.Text,
	); err != nil {
		return fmt.Errorf("edit proxy message %s: %w",
			request.MessageID,
			mapDiscordOutboundError(kagami.OutboundOperationEditProxyMessage, err),
		)
	}

	return nil
}

// DeleteProxyMessage deletes a webhook message.
func (o *Outbound) DeleteProxyMessage(ctx context.Context, request kagami.DeleteProxyMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("delete proxy message validate: %w", err)
	}

	callCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	if err := o.rest.DeleteWebhookMessage(
		callCtx,
		request.Endpoint.ID,
		request.Endpoint.Credential,
		request.MessageID,
	); err != nil {
		return fmt.Errorf("delete proxy message %s: %w",
			request.MessageID,
			mapDiscordOutboundError(kagami.OutboundOperationDeleteProxyMessage, err),
		)
	}

	return nil
}

func (o *Outbound) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.requestTimeout)
}

// avatarDataURI downloads an avatar and encodes it as the data URI the
// webhook create endpoint expects.
func (o *Outbound) avatarDataURI(ctx context.Context, url string) (string, error) {
	body, contentType, err := o.rest.Download(ctx, url)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}

func proxyEndpointFromWebhook(webhook *discordgo.Webhook) *kagami.ProxyEndpoint {
	return &kagami.ProxyEndpoint{
		ID:             webhook.ID,
		ConversationID: webhook.ChannelID,
		Name:           webhook.Name,
		Credential:     webhook.Token,
	}
}

func attachmentFileName(media kagami.MediaAttachment, idx int) string {
	if media.FileName != "" {
		return media.FileName
	}

	return fmt.Sprintf("attachment-%d", idx+1)
}
