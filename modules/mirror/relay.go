package mirror

import (
	"context"
	"errors"
	"fmt"

	"kagami/pkg/kagami"
)

var errEmptyRelay = errors.New("nothing to relay")

// relayMessage mirrors one created message into every configured target.
func (m *Module) relayMessage(ctx context.Context, event *kagami.Event) error {
	m.metrics.messageObserved()

	message := event.Message
	if event.Actor.IsSelf || message.ViaProxy() {
		return nil
	}

	targets := m.routes.TargetsFor(event.Conversation.ID)
	if len(targets) == 0 {
		return nil
	}

	m.logger.DebugContext(ctx, "relaying message",
		"channel", event.Conversation.ID,
		"author", event.Actor.ID,
		"message", message.ID,
		"content_length", len(message.Text),
		"targets", len(targets),
	)

	photos := photoMedia(message.Media)
	entries := make([]RelayEntry, 0, len(targets))
	for _, target := range targets {
		entry, err := m.relayTo(ctx, target, event.Actor, message.Text, photos)
		switch {
		case err == nil:
			entries = append(entries, entry)
			m.metrics.relayAttempt(outcomeSent)
		case errors.Is(err, errEmptyRelay):
			m.metrics.relayAttempt(outcomeSkippedEmpty)
			m.logger.DebugContext(ctx, "relay skipped",
				"source_channel", event.Conversation.ID,
				"target_channel", target,
				"message", message.ID,
				"error", err,
			)
		default:
			m.metrics.relayAttempt(outcomeFailed)
			m.logger.WarnContext(ctx, "relay failed",
				"source_channel", event.Conversation.ID,
				"target_channel", target,
				"message", message.ID,
				"error", err,
			)
		}
	}

	m.relays.PutRelays(message.ID, entries)
	m.relays.PutAuthor(message.ID, event.Actor.ID)
	m.metrics.relayCacheSize(m.relays.Len())

	return nil
}

func (m *Module) relayTo(
	ctx context.Context,
	target string,
	author kagami.Actor,
	text string,
	photos []kagami.MediaAttachment,
) (RelayEntry, error) {
	if text == "" && len(photos) == 0 {
		return RelayEntry{}, fmt.Errorf("relay to %s: %w", target, errEmptyRelay)
	}

	conversation, err := m.sink.GetConversation(ctx, target)
	if err != nil {
		return RelayEntry{}, fmt.Errorf("relay to %s: resolve channel: %w", target, err)
	}
	conversationID := conversation.ID
	if conversationID == "" {
		conversationID = target
	}

	endpoint, err := m.proxies.GetOrCreate(ctx, conversationID, author)
	if err != nil {
		return RelayEntry{}, fmt.Errorf("relay to %s: %w", target, err)
	}

	sent, err := m.proxy.ExecuteProxyEndpoint(ctx, kagami.ExecuteProxyRequest{
		Endpoint: *endpoint,
		Text:     text,
		Media:    photos,
	})
	if err != nil {
		return RelayEntry{}, fmt.Errorf("relay to %s: execute proxy endpoint: %w", target, err)
	}
	if sent == nil || sent.ID == "" {
		return RelayEntry{}, fmt.Errorf("relay to %s: execute proxy endpoint returned no message id", target)
	}

	return RelayEntry{MessageID: sent.ID, ConversationID: target}, nil
}

func photoMedia(media []kagami.MediaAttachment) []kagami.MediaAttachment {
	photos := make([]kagami.MediaAttachment, 0, len(media))
	for _, attachment := range media {
		if attachment.Type == kagami.MediaTypePhoto && attachment.URI != "" {
			photos = append(photos, attachment)
		}
	}

	return photos
}
