package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
	"github.com/ai-business-buddy/bizbuddy/internal/store"
)

// ResetCommand is the inbound message that wipes a participant's onboarding
// state and restarts the conversation from the first stage.
const ResetCommand = "/reset"

// resetConfirmation is sent after a successful reset.
const resetConfirmation = "Your onboarding has been reset. Send any message to start again."

// Orchestrator produces the next assistant utterance for a participant.
type Orchestrator interface {
	Respond(ctx context.Context, userID string) (string, error)
}

// OnboardingHandler consumes incoming messages and routes each one through
// the staged onboarding orchestrator, persisting both sides of the exchange.
type OnboardingHandler struct {
	msgService   Service
	store        store.Store
	orchestrator Orchestrator
}

// NewOnboardingHandler creates a handler wired to the given messaging
// service, store, and orchestrator.
func NewOnboardingHandler(msgService Service, st store.Store, orchestrator Orchestrator) *OnboardingHandler {
	slog.Debug("OnboardingHandler.New: creating handler")
	return &OnboardingHandler{
		msgService:   msgService,
		store:        st,
		orchestrator: orchestrator,
	}
}

// Start begins consuming incoming responses in a background goroutine until
// the context is cancelled.
func (h *OnboardingHandler) Start(ctx context.Context) error {
	slog.Info("OnboardingHandler.Start: starting response processing")
	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("OnboardingHandler.Start: stopping due to context cancellation")
				return
			case response, ok := <-h.msgService.Responses():
				if !ok {
					slog.Info("OnboardingHandler.Start: responses channel closed, stopping")
					return
				}
				if err := h.ProcessResponse(ctx, response); err != nil {
					slog.Error("OnboardingHandler.Start: failed to process response", "error", err, "from", response.From)
				}
			}
		}
	}()
	return nil
}

// ProcessResponse handles a single inbound message: it records the user turn,
// asks the orchestrator for the next utterance, records the assistant turn,
// and delivers the reply.
func (h *OnboardingHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	userID, err := h.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		return fmt.Errorf("OnboardingHandler.ProcessResponse: invalid sender %q: %w", response.From, err)
	}

	body := strings.TrimSpace(response.Body)
	if body == "" {
		slog.Debug("OnboardingHandler.ProcessResponse: ignoring empty message", "user_id", userID)
		return nil
	}
	if len(body) > models.MaxMessageBodyLength {
		body = body[:models.MaxMessageBodyLength]
	}

	slog.Debug("OnboardingHandler.ProcessResponse: handling message", "user_id", userID, "body_length", len(body))

	if strings.EqualFold(body, ResetCommand) {
		return h.handleReset(ctx, userID)
	}

	profile, err := h.store.EnsureProfile(models.Profile{
		ID:         userID,
		FirstName:  response.FirstName,
		LastName:   response.LastName,
		LocaleHint: response.LocaleHint,
	})
	if err != nil {
		return fmt.Errorf("OnboardingHandler.ProcessResponse: ensure profile for %s: %w", userID, err)
	}

	conv, err := h.store.EnsureConversation(userID)
	if err != nil {
		return fmt.Errorf("OnboardingHandler.ProcessResponse: ensure conversation for %s: %w", userID, err)
	}

	userTurn := models.NewTurn(models.RoleUser, body, conv.Stage)
	if _, err := h.store.AppendTurn(userID, userTurn); err != nil {
		return fmt.Errorf("OnboardingHandler.ProcessResponse: append user turn for %s: %w", userID, err)
	}

	reply, respondErr := h.orchestrator.Respond(ctx, userID)
	if respondErr != nil && !errors.Is(respondErr, models.ErrHopLimit) {
		return fmt.Errorf("OnboardingHandler.ProcessResponse: orchestrate for %s: %w", userID, respondErr)
	}

	if errors.Is(respondErr, models.ErrHopLimit) {
		// The reply is a stage fallback. Deliver it but keep it out of the
		// transcript so the next exchange is not polluted by it.
		slog.Warn("OnboardingHandler.ProcessResponse: hop limit reached, sending fallback", "user_id", userID, "error", respondErr)
		if sendErr := h.msgService.SendMessage(ctx, userID, reply); sendErr != nil {
			return fmt.Errorf("OnboardingHandler.ProcessResponse: send fallback to %s: %w", userID, sendErr)
		}
		return respondErr
	}

	// Re-read the conversation so the assistant turn carries the stage the
	// dispatcher may have advanced to during orchestration.
	conv, err = h.store.FindConversation(userID)
	if err != nil {
		return fmt.Errorf("OnboardingHandler.ProcessResponse: reload conversation for %s: %w", userID, err)
	}
	stage := models.StageLanguage
	if conv != nil {
		stage = conv.Stage
	}

	assistantTurn := models.NewTurn(models.RoleAssistant, reply, stage)
	if _, err := h.store.AppendTurn(userID, assistantTurn); err != nil {
		return fmt.Errorf("OnboardingHandler.ProcessResponse: append assistant turn for %s: %w", userID, err)
	}

	if err := h.msgService.SendMessage(ctx, userID, reply); err != nil {
		return fmt.Errorf("OnboardingHandler.ProcessResponse: send reply to %s: %w", userID, err)
	}

	slog.Info("OnboardingHandler.ProcessResponse: reply delivered", "user_id", userID, "stage", stage, "display_name", profile.DisplayName())
	return nil
}

// handleReset wipes the participant's profile and conversation and confirms.
func (h *OnboardingHandler) handleReset(ctx context.Context, userID string) error {
	slog.Info("OnboardingHandler.handleReset: resetting participant", "user_id", userID)

	if err := h.store.DeleteConversation(userID); err != nil {
		return fmt.Errorf("OnboardingHandler.handleReset: delete conversation for %s: %w", userID, err)
	}
	if err := h.store.DeleteProfile(userID); err != nil {
		return fmt.Errorf("OnboardingHandler.handleReset: delete profile for %s: %w", userID, err)
	}

	if err := h.msgService.SendMessage(ctx, userID, resetConfirmation); err != nil {
		return fmt.Errorf("OnboardingHandler.handleReset: send confirmation to %s: %w", userID, err)
	}
	return nil
}
