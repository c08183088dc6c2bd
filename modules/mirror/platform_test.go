package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"kagami/pkg/kagami"
)

// fakePlatform implements both dispatchers against in-memory state.
type fakePlatform struct {
	mu sync.Mutex

	nextEndpoint int
	endpoints    map[string]kagami.ProxyEndpoint
	messages     map[string]*kagami.FetchedMessage
	spaces       []kagami.Space
	spacesErr    error

	conversationErr map[string]error
	createErr       map[string]error
	executeErr      map[string]error
	editErr         error
	getProxyErr     error

	calls    []string
	created  []kagami.CreateProxyEndpointRequest
	executed []kagami.ExecuteProxyRequest
	edited   []kagami.EditProxyMessageRequest
	deleted  []kagami.DeleteProxyMessageRequest

	// createGate and executeGate block the matching call until closed.
	// createEntered and executeEntered are signaled first.
	createGate     chan struct{}
	createEntered  chan struct{}
	executeGate    chan struct{}
	executeEntered chan struct{}
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		endpoints:       make(map[string]kagami.ProxyEndpoint),
		messages:        make(map[string]*kagami.FetchedMessage),
		conversationErr: make(map[string]error),
		createErr:       make(map[string]error),
		executeErr:      make(map[string]error),
	}
}

func (p *fakePlatform) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, call)
}

func (p *fakePlatform) SendMessage(_ context.Context, request kagami.SendMessageRequest) (*kagami.OutboundMessage, error) {
	p.record("send_message:" + request.ConversationID)

	return &kagami.OutboundMessage{ID: "sent", ConversationID: request.ConversationID}, nil
}

func (p *fakePlatform) GetMessage(_ context.Context, conversationID string, messageID string) (*kagami.FetchedMessage, error) {
	p.record("get_message:" + messageID)

	p.mu.Lock()
	defer p.mu.Unlock()
	fetched, ok := p.messages[messageID]
	if !ok {
		return nil, notFound(kagami.OutboundOperationGetMessage)
	}
	copied := *fetched
	copied.Conversation.ID = conversationID

	return &copied, nil
}

func (p *fakePlatform) GetConversation(_ context.Context, conversationID string) (kagami.Conversation, error) {
	p.record("get_conversation:" + conversationID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conversationErr[conversationID]; err != nil {
		return kagami.Conversation{}, err
	}

	return kagami.Conversation{ID: conversationID, Type: kagami.ConversationTypeChannel}, nil
}

func (p *fakePlatform) ListSpaces(context.Context) ([]kagami.Space, error) {
	p.record("list_spaces")

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spacesErr != nil {
		return nil, p.spacesErr
	}

	return slices.Clone(p.spaces), nil
}

func (p *fakePlatform) CreateProxyEndpoint(
	ctx context.Context,
	request kagami.CreateProxyEndpointRequest,
) (*kagami.ProxyEndpoint, error) {
	if p.createGate != nil {
		p.createEntered <- struct{}{}
		select {
		case <-p.createGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.record("create_proxy:" + request.ConversationID)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, request)
	if err := p.createErr[request.ConversationID]; err != nil {
		return nil, err
	}
	p.nextEndpoint++
	endpoint := kagami.ProxyEndpoint{
		ID:             fmt.Sprintf("ep-%d", p.nextEndpoint),
		ConversationID: request.ConversationID,
		Name:           request.DisplayName,
		Credential:     fmt.Sprintf("token-%d", p.nextEndpoint),
	}
	p.endpoints[endpoint.ID] = endpoint

	return &endpoint, nil
}

func (p *fakePlatform) GetProxyEndpoint(_ context.Context, endpointID string) (*kagami.ProxyEndpoint, error) {
	p.record("get_proxy:" + endpointID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getProxyErr != nil {
		return nil, p.getProxyErr
	}
	endpoint, ok := p.endpoints[endpointID]
	if !ok {
		return nil, notFound(kagami.OutboundOperationGetProxy)
	}

	return &endpoint, nil
}

func (p *fakePlatform) ExecuteProxyEndpoint(
	_ context.Context,
	request kagami.ExecuteProxyRequest,
) (*kagami.OutboundMessage, error) {
	if p.executeGate != nil {
		p.executeEntered <- struct{}{}
		<-p.executeGate
	}
	p.record("execute_proxy:" + request.Endpoint.ConversationID)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.executed = append(p.executed, request)
	if err := p.executeErr[request.Endpoint.ConversationID]; err != nil {
		return nil, err
	}

	return &kagami.OutboundMessage{
		ID:             "m" + request.Endpoint.ConversationID,
		ConversationID: request.Endpoint.ConversationID,
	}, nil
}

func (p *fakePlatform) EditProxyMessage(_ context.Context, request kagami.EditProxyMessageRequest) error {
	p.record("edit_proxy_message:" + request.MessageID)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.edited = append(p.edited, request)

	return p.editErr
}

func (p *fakePlatform) DeleteProxyMessage(_ context.Context, request kagami.DeleteProxyMessageRequest) error {
	p.record("delete_proxy_message:" + request.MessageID)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, request)

	return nil
}

func (p *fakePlatform) failProxyResolution(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.getProxyErr = err
}

func (p *fakePlatform) removeEndpoint(endpointID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.endpoints, endpointID)
}

func (p *fakePlatform) snapshotCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Clone(p.calls)
}

func (p *fakePlatform) createdCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.created)
}

func (p *fakePlatform) countCalls(prefix string) int {
	count := 0
	for _, call := range p.snapshotCalls() {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			count++
		}
	}

	return count
}

func notFound(operation kagami.OutboundOperation) error {
	return &kagami.OutboundError{
		Operation: operation,
		Kind:      kagami.OutboundErrorKindNotFound,
		Platform:  kagami.PlatformDiscord,
		Status:    404,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestModule(t *testing.T, routes string, platform *fakePlatform, options ...Option) *Module {
	t.Helper()

	table, err := ParseRoutingTable([]byte(routes))
	if err != nil {
		t.Fatalf("parse routes: %v", err)
	}
	options = append([]Option{WithLogger(discardLogger()), WithRoutingTable(table)}, options...)
	module := New(options...)
	module.bind(platform, platform)

	return module
}

var testAuthor = kagami.Actor{
	ID:          "500",
	Username:    "alice",
	DisplayName: "Alice",
	AvatarURL:   "https://cdn.example/avatars/500/a.png",
}

func createdEvent(channelID string, messageID string, author kagami.Actor, text string, media ...kagami.MediaAttachment) *kagami.Event {
	return &kagami.Event{
		ID:           "create-" + messageID,
		Kind:         kagami.EventKindMessageCreated,
		OccurredAt:   time.Unix(1700000000, 0).UTC(),
		Platform:     kagami.PlatformDiscord,
		Conversation: kagami.Conversation{ID: channelID, Type: kagami.ConversationTypeChannel},
		Actor:        author,
		Message: &kagami.Message{
			ID:    messageID,
			Text:  text,
			Media: media,
		},
	}
}

func editedEvent(channelID string, messageID string, author kagami.Actor, text string) *kagami.Event {
	return &kagami.Event{
		ID:           "edit-" + messageID,
		Kind:         kagami.EventKindMessageEdited,
		OccurredAt:   time.Unix(1700000100, 0).UTC(),
		Platform:     kagami.PlatformDiscord,
		Conversation: kagami.Conversation{ID: channelID, Type: kagami.ConversationTypeChannel},
		Actor:        author,
		Mutation: &kagami.Mutation{
			Type:            kagami.MutationTypeEdit,
			TargetMessageID: messageID,
			After:           &kagami.MessageSnapshot{Text: text},
		},
	}
}

func deletedEvent(channelID string, messageID string) *kagami.Event {
	return &kagami.Event{
		ID:           "delete-" + messageID,
		Kind:         kagami.EventKindMessageRetracted,
		OccurredAt:   time.Unix(1700000200, 0).UTC(),
		Platform:     kagami.PlatformDiscord,
		Conversation: kagami.Conversation{ID: channelID, Type: kagami.ConversationTypeChannel},
		Mutation: &kagami.Mutation{
			Type:            kagami.MutationTypeRetraction,
			TargetMessageID: messageID,
		},
	}
}
