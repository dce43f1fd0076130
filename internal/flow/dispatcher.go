package flow

import (
	"fmt"
	"log/slog"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
	"github.com/ai-business-buddy/bizbuddy/internal/store"
)

// DispatchResult reports the outcome of one action dispatch: the updated
// entity snapshots, the stage the conversation now sits in, and an optional
// direct utterance that terminates the orchestration loop without a further
// model call.
type DispatchResult struct {
	Profile      *models.Profile
	Conversation *models.Conversation
	Emit         string
}

// Dispatcher validates action requests against the current stage's permitted
// set and executes them against the entity store. The store handle is an
// explicit dependency; executors never reach for ambient state.
type Dispatcher struct {
	store store.Store
}

// NewDispatcher creates a dispatcher bound to the given store.
func NewDispatcher(st store.Store) *Dispatcher {
	return &Dispatcher{store: st}
}

// Dispatch executes one action request for the conversation's bound identity.
//
// Whatever identity the model supplied in the arguments is discarded: the
// model is trusted for what value to write, never for whose record to write
// it to. Stage transitions are applied only when they follow the fixed
// progression; a duplicate or regressive request is a logged no-op so
// replaying an already-dispatched action cannot move the stage backwards.
func (d *Dispatcher) Dispatch(req ActionRequest, profile *models.Profile, conv *models.Conversation) (DispatchResult, error) {
	stage := conv.Stage
	if !actionPermitted(req.Name, stage) {
		slog.Warn("Dispatcher.Dispatch: action not permitted in stage", "action", req.Name, "stage", stage, "id", conv.ID)
		return DispatchResult{}, fmt.Errorf("%w: %q in stage %q", models.ErrUnknownAction, req.Name, stage)
	}

	result := DispatchResult{Profile: profile, Conversation: conv}
	var nextStage models.Stage

	switch req.Name {
	case ActionSetLanguage:
		var args setLanguageArgs
		if err := decodeArgs(req.RawArguments, &args); err != nil {
			return DispatchResult{}, err
		}
		if err := requireFields(map[string]string{"language_code": args.LanguageCode}); err != nil {
			return DispatchResult{}, err
		}
		updated := *profile
		updated.ID = conv.ID
		updated.PreferredLanguage = args.LanguageCode
		saved, err := d.store.SaveProfile(updated)
		if err != nil {
			return DispatchResult{}, storeFailure("save preferred language", conv.ID, err)
		}
		result.Profile = saved
		nextStage = models.StageProfile
		slog.Info("Dispatcher.Dispatch: preferred language recorded", "id", conv.ID, "language", args.LanguageCode)

	case ActionUpdateProfileSummary:
		var args updateProfileSummaryArgs
		if err := decodeArgs(req.RawArguments, &args); err != nil {
			return DispatchResult{}, err
		}
		if err := requireFields(map[string]string{"summary": args.Summary}); err != nil {
			return DispatchResult{}, err
		}
		updated := *profile
		updated.ID = conv.ID
		updated.BusinessSummary = args.Summary
		saved, err := d.store.SaveProfile(updated)
		if err != nil {
			return DispatchResult{}, storeFailure("save business summary", conv.ID, err)
		}
		result.Profile = saved
		nextStage = models.StageSurvey
		slog.Info("Dispatcher.Dispatch: business summary recorded", "id", conv.ID)

	case ActionUpdatePreferredName:
		var args updatePreferredNameArgs
		if err := decodeArgs(req.RawArguments, &args); err != nil {
			return DispatchResult{}, err
		}
		if err := requireFields(map[string]string{"name": args.Name}); err != nil {
			return DispatchResult{}, err
		}
		updated := *profile
		updated.ID = conv.ID
		updated.PreferredName = args.Name
		saved, err := d.store.SaveProfile(updated)
		if err != nil {
			return DispatchResult{}, storeFailure("save preferred name", conv.ID, err)
		}
		// A synthetic assistant turn so the next model call sees the fact is
		// already recorded and does not re-ask.
		note := models.NewTurn(models.RoleAssistant,
			fmt.Sprintf("Noted, I'll call you %s.", args.Name), models.StageProfile)
		updatedConv, err := d.store.AppendTurn(conv.ID, note)
		if err != nil {
			return DispatchResult{}, storeFailure("record name confirmation", conv.ID, err)
		}
		result.Profile = saved
		result.Conversation = updatedConv
		slog.Info("Dispatcher.Dispatch: preferred name recorded", "id", conv.ID)

	case ActionSaveSurveyAnswer:
		var args saveSurveyAnswerArgs
		if err := decodeArgs(req.RawArguments, &args); err != nil {
			return DispatchResult{}, err
		}
		if err := requireFields(map[string]string{"question": args.Question, "answer": args.Answer}); err != nil {
			return DispatchResult{}, err
		}
		answer := models.SurveyAnswer{Question: args.Question, Answer: args.Answer}
		if hasSurveyAnswer(profile, answer) {
			slog.Warn("Dispatcher.Dispatch: duplicate survey answer ignored", "id", conv.ID, "question", args.Question)
			return result, nil
		}
		saved, err := d.store.AppendSurveyAnswer(conv.ID, answer)
		if err != nil {
			return DispatchResult{}, storeFailure("append survey answer", conv.ID, err)
		}
		note := models.NewTurn(models.RoleSystemNote,
			"Survey answer saved. Ask the next survey question.", models.StageSurvey)
		updatedConv, err := d.store.AppendTurn(conv.ID, note)
		if err != nil {
			return DispatchResult{}, storeFailure("record survey note", conv.ID, err)
		}
		result.Profile = saved
		result.Conversation = updatedConv
		slog.Info("Dispatcher.Dispatch: survey answer recorded", "id", conv.ID, "answers", len(saved.SurveyAnswers))

	case ActionFinishSurvey:
		var args finishSurveyArgs
		if err := decodeArgs(req.RawArguments, &args); err != nil {
			return DispatchResult{}, err
		}
		nextStage = models.StageSummary
		slog.Info("Dispatcher.Dispatch: survey finished", "id", conv.ID)

	case ActionSaveEmailAndFinalMessage:
		var args saveEmailAndFinalMessageArgs
		if err := decodeArgs(req.RawArguments, &args); err != nil {
			return DispatchResult{}, err
		}
		if err := requireFields(map[string]string{"email": args.Email, "final_message": args.FinalMessage}); err != nil {
			return DispatchResult{}, err
		}
		updated := *profile
		updated.ID = conv.ID
		updated.Email = args.Email
		updated.FinalMessage = args.FinalMessage
		saved, err := d.store.SaveProfile(updated)
		if err != nil {
			return DispatchResult{}, storeFailure("save email and final message", conv.ID, err)
		}
		result.Profile = saved
		// The final_message argument is the reply, verbatim; the loop
		// terminates without another model call.
		result.Emit = args.FinalMessage
		nextStage = models.StageFinal
		slog.Info("Dispatcher.Dispatch: email and final message recorded", "id", conv.ID)
	}

	if nextStage != "" {
		if models.CanAdvance(result.Conversation.Stage, nextStage) {
			updatedConv, err := d.store.SetStage(conv.ID, nextStage)
			if err != nil {
				return DispatchResult{}, storeFailure("advance stage", conv.ID, err)
			}
			result.Conversation = updatedConv
			slog.Info("Dispatcher.Dispatch: stage advanced", "id", conv.ID, "from", stage, "to", nextStage)
		} else {
			slog.Warn("Dispatcher.Dispatch: ignoring illegal stage transition", "id", conv.ID, "from", result.Conversation.Stage, "to", nextStage)
		}
	}

	return result, nil
}

func hasSurveyAnswer(profile *models.Profile, answer models.SurveyAnswer) bool {
	if profile == nil {
		return false
	}
	for _, existing := range profile.SurveyAnswers {
		if existing == answer {
			return true
		}
	}
	return false
}

func actionPermitted(name ActionName, stage models.Stage) bool {
	for _, permitted := range permittedActions[stage] {
		if permitted == name {
			return true
		}
	}
	return false
}

func storeFailure(op, id string, err error) error {
	slog.Error("Dispatcher store operation failed", "op", op, "id", id, "error", err)
	return fmt.Errorf("%w: %s for %s: %v", models.ErrStoreUnavailable, op, id, err)
}
