package pingpong

import (
	"context"
	"fmt"

	"kagami/pkg/kagami"
)

const (
	pingText = "ping"
	pongText = "Pong!"
)

// Module answers "Pong!" in the same channel when a message reads exactly "ping".
type Module struct {
	dispatcher kagami.SinkDispatcher
}

// New creates a ping-pong module with default configuration.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "pingpong"
}

// Spec declares interest in created messages.
func (m *Module) Spec() kagami.ModuleSpec {
	return kagami.ModuleSpec{
		Handlers: []kagami.ModuleHandler{
			{
				Capability: kagami.Capability{
					Name:        "ping-reply",
					Description: "answers Pong! to messages reading exactly ping",
					Interest: kagami.InterestSet{
						Kinds:          []kagami.EventKind{kagami.EventKindMessageCreated},
						RequireMessage: true,
					},
					RequiredServices: []string{kagami.ServiceSinkDispatcher},
				},
				Subscription: kagami.NewDefaultSubscriptionSpec("pingpong-messages"),
				Handler:      m.handleMessage,
			},
		},
	}
}

// OnRegister resolves outbound dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime kagami.ModuleRuntime) error {
	dispatcher, err := kagami.ResolveAs[kagami.SinkDispatcher](
		runtime.Services(),
		kagami.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("pingpong resolve sink dispatcher: %w", err)
	}

	m.dispatcher = dispatcher

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleMessage(ctx context.Context, event *kagami.Event) error {
	if event == nil || event.Message == nil {
		return nil
	}
	if event.Kind != kagami.EventKindMessageCreated {
		return nil
	}
	if event.Actor.IsSelf || event.Message.ViaProxy() {
		return nil
	}
	if event.Message.Text != pingText {
		return nil
	}

	_, err := m.dispatcher.SendMessage(ctx, kagami.SendMessageRequest{
		ConversationID: event.Conversation.ID,
		Text:           pongText,
	})
	if err != nil {
		return fmt.Errorf("pingpong send pong message: %w", err)
	}

	return nil
}
