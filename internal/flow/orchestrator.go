package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ai-business-buddy/bizbuddy/internal/genai"
	"github.com/ai-business-buddy/bizbuddy/internal/models"
	"github.com/ai-business-buddy/bizbuddy/internal/store"
)

// Orchestrator drives the staged onboarding loop: resolve the current stage's
// prompt and action set, invoke the model, and either return its utterance or
// dispatch the requested action and iterate into the possibly advanced stage.
//
// The loop is bounded: one inbound message may cause several model round
// trips, but never more than the hop limit, so a misbehaving model that keeps
// emitting non-advancing actions cannot hang a request.
type Orchestrator struct {
	store        store.Store
	oracle       genai.ClientInterface
	dispatcher   *Dispatcher
	hopLimit     int
	historyLimit int
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithHopLimit overrides the maximum model round trips per inbound message.
func WithHopLimit(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.hopLimit = n
		}
	}
}

// WithHistoryLimit overrides how many stage-tagged turns are shown per call.
func WithHistoryLimit(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyLimit = n
		}
	}
}

// NewOrchestrator creates an orchestrator over the given store and model client.
func NewOrchestrator(st store.Store, oracle genai.ClientInterface, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:        st,
		oracle:       oracle,
		dispatcher:   NewDispatcher(st),
		hopLimit:     models.DefaultHopLimit,
		historyLimit: models.DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Respond produces the reply for the identity's latest inbound turn. The
// caller is expected to have durably appended the inbound turn already, and to
// append the returned text as an assistant turn before delivery.
//
// On hop exhaustion the stage fallback utterance is returned together with a
// non-nil error so the caller can report failure without claiming progress.
func (o *Orchestrator) Respond(ctx context.Context, userID string) (string, error) {
	profile, err := o.store.FindProfile(userID)
	if err != nil {
		return "", fmt.Errorf("%w: load profile for %s: %v", models.ErrStoreUnavailable, userID, err)
	}
	if profile == nil {
		profile, err = o.store.EnsureProfile(models.Profile{ID: userID})
		if err != nil {
			return "", fmt.Errorf("%w: create profile for %s: %v", models.ErrStoreUnavailable, userID, err)
		}
	}
	conv, err := o.store.FindConversation(userID)
	if err != nil {
		return "", fmt.Errorf("%w: load conversation for %s: %v", models.ErrStoreUnavailable, userID, err)
	}
	if conv == nil {
		conv, err = o.store.EnsureConversation(userID)
		if err != nil {
			return "", fmt.Errorf("%w: create conversation for %s: %v", models.ErrStoreUnavailable, userID, err)
		}
	}

	for hop := 0; hop < o.hopLimit; hop++ {
		// The final stage is inert: no model call, just the persisted
		// closing message.
		if conv.Stage == models.StageFinal {
			slog.Debug("Orchestrator.Respond: final stage short-circuit", "id", userID)
			if profile.FinalMessage != "" {
				return profile.FinalMessage, nil
			}
			return DefaultFinalMessage, nil
		}

		instruction, actions, err := StagePrompt(conv.Stage, profile)
		if err != nil {
			return "", err
		}
		window := BuildWindow(instruction, profile, conv, conv.Stage, o.historyLimit)
		tools := ToolDefinitions(actions)

		slog.Debug("Orchestrator.Respond: invoking model", "id", userID, "stage", conv.Stage, "hop", hop, "tools", len(tools))
		var reply *genai.ToolCallResponse
		if len(tools) == 0 {
			text, err := o.oracle.GenerateWithMessages(ctx, window)
			if err != nil {
				return "", fmt.Errorf("%w: %v", models.ErrOracleUnavailable, err)
			}
			reply = &genai.ToolCallResponse{Content: text}
		} else {
			reply, err = o.oracle.GenerateWithTools(ctx, window, tools)
			if err != nil {
				return "", fmt.Errorf("%w: %v", models.ErrOracleUnavailable, err)
			}
		}

		if len(reply.ToolCalls) == 0 {
			text := strings.TrimSpace(reply.Content)
			if text == "" {
				slog.Warn("Orchestrator.Respond: empty model reply, using stage fallback", "id", userID, "stage", conv.Stage)
				text = FallbackUtterance(conv.Stage)
			}
			return text, nil
		}

		if len(reply.ToolCalls) > 1 {
			slog.Warn("Orchestrator.Respond: multiple tool calls, dispatching first only", "id", userID, "count", len(reply.ToolCalls))
		}
		call := reply.ToolCalls[0]
		req := ActionRequest{
			Name:         ActionName(call.Function.Name),
			RawArguments: call.Function.Arguments,
		}

		result, err := o.dispatcher.Dispatch(req, profile, conv)
		if err != nil {
			if errors.Is(err, models.ErrUnknownAction) || errors.Is(err, models.ErrInvalidArguments) {
				// Recovered locally: nothing was mutated. Record a
				// stage-tagged note so the next call steers the model back
				// instead of re-requesting the same broken action.
				slog.Warn("Orchestrator.Respond: rejected action, recording note", "id", userID, "action", req.Name, "error", err)
				note := models.NewTurn(models.RoleSystemNote,
					fmt.Sprintf("The requested action %q was not accepted. Continue the conversation without it.", req.Name),
					conv.Stage)
				updatedConv, appendErr := o.store.AppendTurn(userID, note)
				if appendErr != nil {
					return "", fmt.Errorf("%w: record rejection note for %s: %v", models.ErrStoreUnavailable, userID, appendErr)
				}
				conv = updatedConv
				continue
			}
			return "", err
		}

		if result.Emit != "" {
			slog.Debug("Orchestrator.Respond: executor emitted terminal reply", "id", userID)
			return result.Emit, nil
		}

		// Iterate with the post-mutation snapshots.
		profile = result.Profile
		conv = result.Conversation
	}

	slog.Error("Orchestrator.Respond: hop limit exhausted", "id", userID, "stage", conv.Stage, "limit", o.hopLimit)
	return FallbackUtterance(conv.Stage), fmt.Errorf("%w: no utterance after %d hops for %s", models.ErrHopLimit, o.hopLimit, userID)
}
