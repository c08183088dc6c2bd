package mirror

import (
	"context"
	"fmt"

	"kagami/pkg/kagami"
)

const (
	operationEdit   = "edit"
	operationDelete = "delete"
)

// propagateEdit re-applies a source edit to every mirrored copy. Empty text
// is applied only while the source still carries photos, since the copies
// would otherwise have no content left.
func (m *Module) propagateEdit(ctx context.Context, event *kagami.Event) error {
	mutation := event.Mutation
	if mutation.After == nil {
		return nil
	}
	if mutation.After.Text == "" && len(photoMedia(mutation.After.Media)) == 0 {
		return nil
	}

	sourceMessageID := mutation.TargetMessageID
	entries, ok := m.relays.Relays(sourceMessageID)
	if !ok {
		return nil
	}

	authorID, err := m.editAuthor(ctx, event)
	if err != nil {
		m.logger.WarnContext(ctx, "edit propagation skipped",
			"channel", event.Conversation.ID,
			"message", sourceMessageID,
			"error", err,
		)
		return nil
	}

	text := mutation.After.Text
	for _, entry := range entries {
		endpoint, ok := m.resolveEndpoint(ctx, operationEdit, sourceMessageID, entry, authorID)
		if !ok {
			continue
		}
		err := m.proxy.EditProxyMessage(ctx, kagami.EditProxyMessageRequest{
			Endpoint:  *endpoint,
			MessageID: entry.MessageID,
			Text:      text,
		})
		m.finishPropagation(ctx, operationEdit, sourceMessageID, entry, err)
	}

	return nil
}

// propagateDelete deletes every mirrored copy of a deleted source message.
// The relay record is kept.
func (m *Module) propagateDelete(ctx context.Context, event *kagami.Event) error {
	sourceMessageID := event.Mutation.TargetMessageID
	entries, ok := m.relays.Relays(sourceMessageID)
	if !ok {
		return nil
	}

	authorID, ok := m.relays.Author(sourceMessageID)
	if !ok || authorID == "" {
		authorID = event.Actor.ID
	}
	if authorID == "" {
		m.logger.WarnContext(ctx, "delete propagation skipped",
			"channel", event.Conversation.ID,
			"message", sourceMessageID,
			"error", "unknown author",
		)
		return nil
	}

	for _, entry := range entries {
		endpoint, ok := m.resolveEndpoint(ctx, operationDelete, sourceMessageID, entry, authorID)
		if !ok {
			continue
		}
		err := m.proxy.DeleteProxyMessage(ctx, kagami.DeleteProxyMessageRequest{
			Endpoint:  *endpoint,
			MessageID: entry.MessageID,
		})
		m.finishPropagation(ctx, operationDelete, sourceMessageID, entry, err)
	}

	return nil
}

// editAuthor resolves the source author from the event, then the relay
// cache, then the platform.
func (m *Module) editAuthor(ctx context.Context, event *kagami.Event) (string, error) {
	if event.Actor.Known() {
		return event.Actor.ID, nil
	}

	sourceMessageID := event.Mutation.TargetMessageID
	if authorID, ok := m.relays.Author(sourceMessageID); ok && authorID != "" {
		return authorID, nil
	}

	fetched, err := m.sink.GetMessage(ctx, event.Conversation.ID, sourceMessageID)
	if err != nil {
		return "", fmt.Errorf("fetch source message: %w", err)
	}
	if fetched == nil || !fetched.Author.Known() {
		return "", fmt.Errorf("fetch source message: unknown author")
	}

	return fetched.Author.ID, nil
}

func (m *Module) resolveEndpoint(
	ctx context.Context,
	operation string,
	sourceMessageID string,
	entry RelayEntry,
	authorID string,
) (*kagami.ProxyEndpoint, bool) {
	endpoint, err := m.proxies.Lookup(ctx, entry.ConversationID, authorID)
	if err != nil {
		m.metrics.propagation(operation, outcomeEndpointUnavailable)
		m.logger.WarnContext(ctx, "proxy endpoint unavailable",
			"operation", operation,
			"message", sourceMessageID,
			"target_channel", entry.ConversationID,
			"target_message", entry.MessageID,
			"error", err,
		)
		return nil, false
	}

	return endpoint, true
}

func (m *Module) finishPropagation(
	ctx context.Context,
	operation string,
	sourceMessageID string,
	entry RelayEntry,
	err error,
) {
	if err != nil {
		m.metrics.propagation(operation, outcomeFailed)
		m.logger.WarnContext(ctx, "propagation failed",
			"operation", operation,
			"message", sourceMessageID,
			"target_channel", entry.ConversationID,
			"target_message", entry.MessageID,
			"error", err,
		)
		return
	}

	m.metrics.propagation(operation, outcomeApplied)
	m.logger.DebugContext(ctx, "propagation applied",
		"operation", operation,
		"message", sourceMessageID,
		"target_channel", entry.ConversationID,
		"target_message", entry.MessageID,
	)
}
