package kagami

import (
	"errors"
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{
			name: "message created",
			event: &Event{
				ID:           "e1",
				Kind:         EventKindMessageCreated,
				OccurredAt:   now,
				Conversation: Conversation{ID: "100"},
				Message:      &Message{ID: "m1", Text: "hello"},
			},
		},
		{
			name: "message created without payload",
			event: &Event{
				ID:           "e1",
				Kind:         EventKindMessageCreated,
				OccurredAt:   now,
				Conversation: Conversation{ID: "100"},
			},
			wantErr: true,
		},
		{
			name: "retraction without target",
			event: &Event{
				ID:           "e2",
				Kind:         EventKindMessageRetracted,
				OccurredAt:   now,
				Conversation: Conversation{ID: "100"},
				Mutation:     &Mutation{Type: MutationTypeRetraction},
			},
			wantErr: true,
		},
		{
			name: "session ready needs no conversation",
			event: &Event{
				ID:         "e3",
				Kind:       EventKindSessionReady,
				OccurredAt: now,
				Session:    &Session{Self: Actor{ID: "1", Username: "kagami"}},
			},
		},
		{
			name: "missing occurred at",
			event: &Event{
				ID:           "e4",
				Kind:         EventKindMessageCreated,
				Conversation: Conversation{ID: "100"},
				Message:      &Message{ID: "m1"},
			},
			wantErr: true,
		},
		{
			name: "unsupported kind",
			event: &Event{
				ID:           "e5",
				Kind:         "reaction.added",
				OccurredAt:   now,
				Conversation: Conversation{ID: "100"},
			},
			wantErr: true,
		},
		{
			name:    "nil event",
			event:   nil,
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.event.Validate()
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidEvent) {
					t.Fatalf("error = %v, want ErrInvalidEvent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestInterestSetMatchesAndAllows(t *testing.T) {
	t.Parallel()

	declared := InterestSet{
		Kinds: []EventKind{EventKindMessageCreated, EventKindMessageEdited},
	}
	if !declared.Allows(InterestSet{Kinds: []EventKind{EventKindMessageEdited}}) {
		t.Fatal("declared interest should allow a subset of kinds")
	}
	if declared.Allows(InterestSet{}) {
		t.Fatal("declared interest must not allow an unfiltered subscription")
	}
	if declared.Allows(InterestSet{Kinds: []EventKind{EventKindMessageRetracted}}) {
		t.Fatal("declared interest must not allow undeclared kinds")
	}

	requireMessage := InterestSet{RequireMessage: true}
	if requireMessage.Matches(&Event{Kind: EventKindMessageCreated}) {
		t.Fatal("RequireMessage matched event without message payload")
	}
	if !requireMessage.Matches(&Event{Kind: EventKindMessageCreated, Message: &Message{ID: "m1"}}) {
		t.Fatal("RequireMessage rejected event with message payload")
	}
	if declared.Matches(nil) {
		t.Fatal("nil event matched")
	}
}

func TestActorName(t *testing.T) {
	t.Parallel()

	if got := (Actor{Username: "alice", DisplayName: "Alice A."}).Name(); got != "Alice A." {
		t.Fatalf("name = %q, want display name", got)
	}
	if got := (Actor{Username: "alice"}).Name(); got != "alice" {
		t.Fatalf("name = %q, want username fallback", got)
	}
}
