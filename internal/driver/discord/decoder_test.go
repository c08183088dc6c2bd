package discord

import (
	"context"
	"testing"
	"time"

	"kagami/pkg/kagami"

	"github.com/bwmarrin/discordgo"
)

func TestDefaultDecoderMessageCreate(t *testing.T) {
	t.Parallel()

	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name           string
		message        *discordgo.Message
		wantType       kagami.ConversationType
		wantName       string
		wantAvatar     bool
		wantProxy      string
		wantMediaTypes []kagami.MediaType
	}{
		{
			name: "guild message with nickname and photo",
			message: &discordgo.Message{
				ID:        "900",
				ChannelID: "100",
				GuildID:   "1",
				Content:   "hello",
				Timestamp: sentAt,
				Author:    &discordgo.User{ID: "42", Username: "alice", GlobalName: "Alice", Avatar: "abc"},
				Member:    &discordgo.Member{Nick: "Ali"},
				Attachments: []*discordgo.MessageAttachment{
					{ID: "a1", URL: "https://cdn/a.png", Filename: "a.png", Height: 64, Width: 64},
					{ID: "a2", URL: "https://cdn/b.pdf", Filename: "b.pdf", ContentType: "application/pdf"},
					{ID: "a3", URL: "https://cdn/c.webp", Filename: "c.webp", ContentType: "image/webp"},
				},
			},
			wantType:       kagami.ConversationTypeGroup,
			wantName:       "Ali",
			wantAvatar:     true,
			wantMediaTypes: []kagami.MediaType{kagami.MediaTypePhoto, kagami.MediaTypeDocument, kagami.MediaTypePhoto},
		},
		{
			name: "direct message without avatar",
			message: &discordgo.Message{
				ID:        "901",
				ChannelID: "dm-1",
				Content:   "hi",
				Timestamp: sentAt,
				Author:    &discordgo.User{ID: "43", Username: "bob"},
			},
			wantType: kagami.ConversationTypePrivate,
			wantName: "bob",
		},
		{
			name: "webhook message carries proxy origin",
			message: &discordgo.Message{
				ID:        "902",
				ChannelID: "200",
				GuildID:   "1",
				Content:   "mirrored",
				Timestamp: sentAt,
				WebhookID: "wh-7",
				Author:    &discordgo.User{ID: "wh-7", Username: "Alice", Bot: true},
			},
			wantType:  kagami.ConversationTypeGroup,
			wantName:  "Alice",
			wantProxy: "wh-7",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			decoder := NewDefaultDecoder(NewIdentity())
			event, err := decoder.Decode(context.Background(), Update{
				Type:          UpdateTypeMessageCreate,
				MessageCreate: &discordgo.MessageCreate{Message: testCase.message},
			})
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if err := event.Validate(); err != nil {
				t.Fatalf("decoded event invalid: %v", err)
			}
			if event.Kind != kagami.EventKindMessageCreated {
				t.Fatalf("kind = %s, want %s", event.Kind, kagami.EventKindMessageCreated)
			}
			if event.Conversation.ID != testCase.message.ChannelID {
				t.Fatalf("conversation = %s, want %s", event.Conversation.ID, testCase.message.ChannelID)
			}
			if event.Conversation.Type != testCase.wantType {
				t.Fatalf("conversation type = %s, want %s", event.Conversation.Type, testCase.wantType)
			}
			if got := event.Actor.Name(); got != testCase.wantName {
				t.Fatalf("actor name = %q, want %q", got, testCase.wantName)
			}
			if (event.Actor.AvatarURL != "") != testCase.wantAvatar {
				t.Fatalf("avatar url = %q, want present=%v", event.Actor.AvatarURL, testCase.wantAvatar)
			}
			if event.Message.ProxyEndpointID != testCase.wantProxy {
				t.Fatalf("proxy endpoint = %q, want %q", event.Message.ProxyEndpointID, testCase.wantProxy)
			}
			if !event.OccurredAt.Equal(sentAt) {
				t.Fatalf("occurred at = %v, want %v", event.OccurredAt, sentAt)
			}
			if len(event.Message.Media) != len(testCase.wantMediaTypes) {
				t.Fatalf("media len = %d, want %d", len(event.Message.Media), len(testCase.wantMediaTypes))
			}
			for idx, want := range testCase.wantMediaTypes {
				if got := event.Message.Media[idx].Type; got != want {
					t.Fatalf("media[%d] type = %s, want %s", idx, got, want)
				}
			}
		})
	}
}

func TestDefaultDecoderReadyMarksSelf(t *testing.T) {
	t.Parallel()

	identity := NewIdentity()
	decoder := NewDefaultDecoder(identity)

	ready, err := decoder.Decode(context.Background(), Update{
		Type:  UpdateTypeReady,
		Ready: &discordgo.Ready{SessionID: "s1", User: &discordgo.User{ID: "bot", Username: "kagami", Bot: true}},
	})
	if err != nil {
		t.Fatalf("decode ready failed: %v", err)
	}
	if ready.Kind != kagami.EventKindSessionReady || ready.Session == nil {
		t.Fatalf("ready event = %+v, want session.ready with session", ready)
	}
	if !ready.Session.Self.IsSelf {
		t.Fatal("session self not marked IsSelf")
	}
	if identity.UserID() != "bot" {
		t.Fatalf("identity = %q, want bot", identity.UserID())
	}

	own, err := decoder.Decode(context.Background(), Update{
		Type: UpdateTypeMessageCreate,
		MessageCreate: &discordgo.MessageCreate{Message: &discordgo.Message{
			ID:        "1",
			ChannelID: "100",
			Content:   "Pong!",
			Timestamp: time.Now(),
			Author:    &discordgo.User{ID: "bot", Username: "kagami", Bot: true},
		}},
	})
	if err != nil {
		t.Fatalf("decode own message failed: %v", err)
	}
	if !own.Actor.IsSelf {
		t.Fatal("own message actor not marked IsSelf")
	}
}

func TestDefaultDecoderMessageUpdate(t *testing.T) {
	t.Parallel()

	editedAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	tests := []struct {
		name      string
		update    *discordgo.MessageUpdate
		wantAfter string
		wantMedia int
		wantNil   bool
	}{
		{
			name: "text changed",
			update: &discordgo.MessageUpdate{
				Message: &discordgo.Message{
					ID: "900", ChannelID: "100", Content: "hello world", EditedTimestamp: &editedAt,
					Author: &discordgo.User{ID: "42", Username: "alice"},
				},
				BeforeUpdate: &discordgo.Message{ID: "900", Content: "hello"},
			},
			wantAfter: "hello world",
		},
		{
			name: "embed unfurl keeps text",
			update: &discordgo.MessageUpdate{
				Message:      &discordgo.Message{ID: "900", ChannelID: "100", Content: "hello"},
				BeforeUpdate: &discordgo.Message{ID: "900", Content: "hello"},
			},
			wantNil: true,
		},
		{
			name: "no text in dispatch",
			update: &discordgo.MessageUpdate{
				Message: &discordgo.Message{ID: "900", ChannelID: "100"},
			},
			wantNil: true,
		},
		{
			name: "partial dispatch with cached text",
			update: &discordgo.MessageUpdate{
				Message:      &discordgo.Message{ID: "900", ChannelID: "100"},
				BeforeUpdate: &discordgo.Message{ID: "900", Content: "hello"},
			},
			wantNil: true,
		},
		{
			name: "text cleared with image kept",
			update: &discordgo.MessageUpdate{
				Message: &discordgo.Message{
					ID: "900", ChannelID: "100", EditedTimestamp: &editedAt,
					Attachments: []*discordgo.MessageAttachment{
						{ID: "a1", Filename: "cat.png", ContentType: "image/png", URL: "https://cdn.example/cat.png", Height: 10, Width: 10},
					},
				},
				BeforeUpdate: &discordgo.Message{ID: "900", Content: "look"},
			},
			wantAfter: "",
			wantMedia: 1,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			event, err := NewDefaultDecoder(nil).Decode(context.Background(), Update{
				Type:          UpdateTypeMessageUpdate,
				ReceivedAt:    editedAt,
				MessageUpdate: testCase.update,
			})
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if err := event.Validate(); err != nil {
				t.Fatalf("decoded event invalid: %v", err)
			}
			if event.Mutation.TargetMessageID != "900" {
				t.Fatalf("target = %s, want 900", event.Mutation.TargetMessageID)
			}
			if testCase.wantNil {
				if event.Mutation.After != nil {
					t.Fatalf("after = %+v, want nil", event.Mutation.After)
				}
				return
			}
			if event.Mutation.After == nil || event.Mutation.After.Text != testCase.wantAfter {
				t.Fatalf("after = %+v, want text %q", event.Mutation.After, testCase.wantAfter)
			}
			if len(event.Mutation.After.Media) != testCase.wantMedia {
				t.Fatalf("after media = %d, want %d", len(event.Mutation.After.Media), testCase.wantMedia)
			}
		})
	}
}

func TestDefaultDecoderMessageDelete(t *testing.T) {
	t.Parallel()

	decoder := NewDefaultDecoder(nil)
	receivedAt := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)

	withoutState, err := decoder.Decode(context.Background(), Update{
		Type:          UpdateTypeMessageDelete,
		ReceivedAt:    receivedAt,
		MessageDelete: &discordgo.MessageDelete{Message: &discordgo.Message{ID: "900", ChannelID: "100", GuildID: "1"}},
	})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if err := withoutState.Validate(); err != nil {
		t.Fatalf("decoded event invalid: %v", err)
	}
	if withoutState.Actor.Known() {
		t.Fatalf("actor = %+v, want unknown", withoutState.Actor)
	}
	if withoutState.Mutation.Type != kagami.MutationTypeRetraction {
		t.Fatalf("mutation type = %s, want retraction", withoutState.Mutation.Type)
	}

	withState, err := decoder.Decode(context.Background(), Update{
		Type:       UpdateTypeMessageDelete,
		ReceivedAt: receivedAt,
		MessageDelete: &discordgo.MessageDelete{
			Message:      &discordgo.Message{ID: "900", ChannelID: "100", GuildID: "1"},
			BeforeDelete: &discordgo.Message{ID: "900", Author: &discordgo.User{ID: "42", Username: "alice"}},
		},
	})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if withState.Actor.ID != "42" {
		t.Fatalf("actor id = %q, want 42", withState.Actor.ID)
	}
}

func TestDefaultDecoderRejectsMissingPayload(t *testing.T) {
	t.Parallel()

	decoder := NewDefaultDecoder(nil)
	for _, update := range []Update{
		{Type: UpdateTypeReady},
		{Type: UpdateTypeMessageCreate},
		{Type: UpdateTypeMessageUpdate, MessageUpdate: &discordgo.MessageUpdate{}},
		{Type: UpdateTypeMessageDelete},
		{Type: "typing_start"},
	} {
		if _, err := decoder.Decode(context.Background(), update); err == nil {
			t.Fatalf("decode %s succeeded, want error", update.Type)
		}
	}
}
