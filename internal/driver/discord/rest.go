package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// maxDownloadBytes caps one attachment or avatar download (Discord's
// non-boosted upload limit).
const maxDownloadBytes = 25 << 20

// restAPI is the REST surface used by the outbound dispatcher.
type restAPI interface {
	SendMessage(ctx context.Context, channelID string, content string, replyToID string) (*discordgo.Message, error)
	Message(ctx context.Context, channelID string, messageID string) (*discordgo.Message, error)
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	Guilds(ctx context.Context) ([]*discordgo.UserGuild, error)
	CreateWebhook(ctx context.Context, channelID string, name string, avatar string) (*discordgo.Webhook, error)
	Webhook(ctx context.Context, webhookID string) (*discordgo.Webhook, error)
	ExecuteWebhook(ctx context.Context, webhookID string, token string, params *discordgo.WebhookParams) (*discordgo.Message, error)
	EditWebhookMessage(ctx context.Context, webhookID string, token string, messageID string, content string) error
	DeleteWebhookMessage(ctx context.Context, webhookID string, token string, messageID string) error
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// sessionREST implements restAPI on a discordgo session.
type sessionREST struct {
	session *discordgo.Session
}

func newSessionREST(session *discordgo.Session) *sessionREST {
	return &sessionREST{session: session}
}

func (r *sessionREST) SendMessage(
	ctx context.Context,
	channelID string,
	content string,
	replyToID string,
) (*discordgo.Message, error) {
	send := &discordgo.MessageSend{Content: content}
	if replyToID != "" {
		send.Reference = &discordgo.MessageReference{
			MessageID: replyToID,
			ChannelID: channelID,
		}
	}

	return r.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
}

func (r *sessionREST) Message(ctx context.Context, channelID string, messageID string) (*discordgo.Message, error) {
	return r.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
}

func (r *sessionREST) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	return r.session.Channel(channelID, discordgo.WithContext(ctx))
}

func (r *sessionREST) Guilds(ctx context.Context) ([]*discordgo.UserGuild, error) {
	return r.session.UserGuilds(200, "", "", false, discordgo.WithContext(ctx))
}

func (r *sessionREST) CreateWebhook(
	ctx context.Context,
	channelID string,
	name string,
	avatar string,
) (*discordgo.Webhook, error) {
	return r.session.WebhookCreate(channelID, name, avatar, discordgo.WithContext(ctx))
}

func (r *sessionREST) Webhook(ctx context.Context, webhookID string) (*discordgo.Webhook, error) {
	return r.session.Webhook(webhookID, discordgo.WithContext(ctx))
}

func (r *sessionREST) ExecuteWebhook(
	ctx context.Context,
	webhookID string,
	token string,
	params *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	return r.session.WebhookExecute(webhookID, token, true, params, discordgo.WithContext(ctx))
}

func (r *sessionREST) EditWebhookMessage(
	ctx context.Context,
	webhookID string,
	token string,
	messageID string,
	content string,
) error {
	_, err := r.session.WebhookMessageEdit(webhookID, token, messageID, &discordgo.WebhookEdit{
		Content: &content,
	}, discordgo.WithContext(ctx))

	return err
}

func (r *sessionREST) DeleteWebhookMessage(ctx context.Context, webhookID string, token string, messageID string) error {
	return r.session.WebhookMessageDelete(webhookID, token, messageID, discordgo.WithContext(ctx))
}

// Download fetches url with the session's HTTP client and returns the body
// and its content type.
func (r *sessionREST) Download(ctx context.Context, url string) ([]byte, string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: build request: %w", url, err)
	}

	client := r.session.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", url, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download %s: unexpected status %d", url, response.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("download %s: read body: %w", url, err)
	}
	if len(body) > maxDownloadBytes {
		return nil, "", fmt.Errorf("download %s: body exceeds %d bytes", url, maxDownloadBytes)
	}

	return body, response.Header.Get("Content-Type"), nil
}
