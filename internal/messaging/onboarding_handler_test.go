package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
	"github.com/ai-business-buddy/bizbuddy/internal/store"
	"github.com/ai-business-buddy/bizbuddy/internal/twiliowhatsapp"
)

// mockOrchestrator returns a scripted reply, optionally running a callback
// against the store first to simulate dispatch side effects.
type mockOrchestrator struct {
	reply  string
	err    error
	effect func(userID string)
	calls  []string
}

func (m *mockOrchestrator) Respond(ctx context.Context, userID string) (string, error) {
	m.calls = append(m.calls, userID)
	if m.effect != nil {
		m.effect(userID)
	}
	return m.reply, m.err
}

func setupHandler(orchestrator Orchestrator) (*OnboardingHandler, store.Store, *twiliowhatsapp.MockClient) {
	mock := twiliowhatsapp.NewMockClient()
	st := store.NewInMemoryStore()
	handler := NewOnboardingHandler(NewTwilioService(mock), st, orchestrator)
	return handler, st, mock
}

func TestProcessResponseRecordsBothTurns(t *testing.T) {
	orchestrator := &mockOrchestrator{reply: "Welcome! Which language would you like to use?"}
	handler, st, mock := setupHandler(orchestrator)

	response := models.Response{From: "whatsapp:+15551234567", Body: "hi there", FirstName: "Ada"}
	if err := handler.ProcessResponse(context.Background(), response); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}

	if len(orchestrator.calls) != 1 || orchestrator.calls[0] != "15551234567" {
		t.Errorf("orchestrator called with %v, expected canonical id", orchestrator.calls)
	}

	profile, err := st.FindProfile("15551234567")
	if err != nil || profile == nil {
		t.Fatalf("expected profile, got %v (%v)", profile, err)
	}
	if profile.FirstName != "Ada" {
		t.Errorf("first name hint not seeded: %+v", profile)
	}

	conv, err := st.FindConversation("15551234567")
	if err != nil || conv == nil {
		t.Fatalf("expected conversation, got %v (%v)", conv, err)
	}
	if len(conv.Turns) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(conv.Turns))
	}
	if conv.Turns[0].Role != models.RoleUser || conv.Turns[0].Text != "hi there" || conv.Turns[0].Stage != models.StageLanguage {
		t.Errorf("unexpected user turn: %+v", conv.Turns[0])
	}
	if conv.Turns[1].Role != models.RoleAssistant || conv.Turns[1].Text != orchestrator.reply {
		t.Errorf("unexpected assistant turn: %+v", conv.Turns[1])
	}

	if len(mock.SentMessages) != 1 || mock.SentMessages[0].Body != orchestrator.reply {
		t.Errorf("reply not delivered: %+v", mock.SentMessages)
	}
}

func TestProcessResponseTagsAssistantTurnWithAdvancedStage(t *testing.T) {
	orchestrator := &mockOrchestrator{reply: "Great, what's your name?"}
	handler, st, _ := setupHandler(orchestrator)
	orchestrator.effect = func(userID string) {
		// Simulates a dispatch that advanced the conversation mid-turn.
		if _, err := st.SetStage(userID, models.StageProfile); err != nil {
			t.Fatalf("failed to advance stage: %v", err)
		}
	}

	response := models.Response{From: "+15551234567", Body: "espanol, por favor"}
	if err := handler.ProcessResponse(context.Background(), response); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}

	conv, _ := st.FindConversation("15551234567")
	if conv.Turns[0].Stage != models.StageLanguage {
		t.Errorf("user turn must carry the pre-dispatch stage, got %s", conv.Turns[0].Stage)
	}
	if conv.Turns[1].Stage != models.StageProfile {
		t.Errorf("assistant turn must carry the advanced stage, got %s", conv.Turns[1].Stage)
	}
}

func TestProcessResponseReset(t *testing.T) {
	orchestrator := &mockOrchestrator{reply: "unused"}
	handler, st, mock := setupHandler(orchestrator)

	if _, err := st.EnsureProfile(models.Profile{ID: "15551234567", Email: "ada@example.com"}); err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}
	if _, err := st.EnsureConversation("15551234567"); err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}

	response := models.Response{From: "+15551234567", Body: "  /ReSeT  "}
	if err := handler.ProcessResponse(context.Background(), response); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}

	if p, _ := st.FindProfile("15551234567"); p != nil {
		t.Errorf("profile should be deleted, got %+v", p)
	}
	if c, _ := st.FindConversation("15551234567"); c != nil {
		t.Errorf("conversation should be deleted, got %+v", c)
	}
	if len(orchestrator.calls) != 0 {
		t.Errorf("reset must not invoke the orchestrator")
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].Body != resetConfirmation {
		t.Errorf("expected reset confirmation, got %+v", mock.SentMessages)
	}
}

func TestProcessResponseHopLimitFallback(t *testing.T) {
	orchestrator := &mockOrchestrator{
		reply: "Shall we continue with the next survey question?",
		err:   fmt.Errorf("%w: no utterance after 5 hops", models.ErrHopLimit),
	}
	handler, st, mock := setupHandler(orchestrator)

	response := models.Response{From: "+15551234567", Body: "and another thing"}
	err := handler.ProcessResponse(context.Background(), response)
	if !errors.Is(err, models.ErrHopLimit) {
		t.Fatalf("expected ErrHopLimit to surface, got %v", err)
	}

	// The fallback is delivered but not recorded as an assistant turn.
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].Body != orchestrator.reply {
		t.Errorf("fallback not delivered: %+v", mock.SentMessages)
	}
	conv, _ := st.FindConversation("15551234567")
	if len(conv.Turns) != 1 || conv.Turns[0].Role != models.RoleUser {
		t.Errorf("expected only the user turn in the transcript, got %+v", conv.Turns)
	}
}

func TestProcessResponseIgnoresEmptyBody(t *testing.T) {
	orchestrator := &mockOrchestrator{reply: "unused"}
	handler, st, mock := setupHandler(orchestrator)

	response := models.Response{From: "+15551234567", Body: "   "}
	if err := handler.ProcessResponse(context.Background(), response); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}

	if len(orchestrator.calls) != 0 || len(mock.SentMessages) != 0 {
		t.Error("empty message must not be processed")
	}
	if p, _ := st.FindProfile("15551234567"); p != nil {
		t.Errorf("empty message must not create a profile, got %+v", p)
	}
}

func TestProcessResponseTruncatesOverlongBody(t *testing.T) {
	orchestrator := &mockOrchestrator{reply: "Noted."}
	handler, st, _ := setupHandler(orchestrator)

	response := models.Response{From: "+15551234567", Body: strings.Repeat("a", models.MaxMessageBodyLength+100)}
	if err := handler.ProcessResponse(context.Background(), response); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}

	conv, _ := st.FindConversation("15551234567")
	if len(conv.Turns[0].Text) != models.MaxMessageBodyLength {
		t.Errorf("expected body truncated to %d, got %d", models.MaxMessageBodyLength, len(conv.Turns[0].Text))
	}
}

func TestProcessResponseInvalidSender(t *testing.T) {
	orchestrator := &mockOrchestrator{reply: "unused"}
	handler, _, _ := setupHandler(orchestrator)

	response := models.Response{From: "", Body: "hello"}
	if err := handler.ProcessResponse(context.Background(), response); err == nil {
		t.Error("expected error for empty sender")
	}
}
