package flow

import (
	"encoding/json"
	"fmt"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

// ActionName identifies one of the closed set of state mutations the model
// may request instead of a freeform reply.
type ActionName string

const (
	ActionSetLanguage              ActionName = "set_language"
	ActionUpdateProfileSummary     ActionName = "update_profile_summary"
	ActionUpdatePreferredName      ActionName = "update_preferred_name"
	ActionSaveSurveyAnswer         ActionName = "save_survey_answer"
	ActionFinishSurvey             ActionName = "finish_survey"
	ActionSaveEmailAndFinalMessage ActionName = "save_email_and_final_message"
)

// permittedActions scopes the action set per stage. Only these actions are
// offered to the model in that stage's call, and only these may dispatch.
var permittedActions = map[models.Stage][]ActionName{
	models.StageLanguage: {ActionSetLanguage},
	models.StageProfile:  {ActionUpdatePreferredName, ActionUpdateProfileSummary},
	models.StageSurvey:   {ActionSaveSurveyAnswer, ActionFinishSurvey},
	models.StageSummary:  {ActionSaveEmailAndFinalMessage},
	models.StageFinal:    nil,
}

// ActionRequest carries one structured request emitted by the model. Raw
// arguments are decoded by the action's own typed decoder during dispatch.
type ActionRequest struct {
	Name         ActionName
	RawArguments json.RawMessage
}

// Typed argument structs, one per action. Every schema carries a user_id so
// the model believes it addresses a specific record; the dispatcher discards
// it and substitutes the conversation's bound identity.

type setLanguageArgs struct {
	UserID       string `json:"user_id"`
	LanguageCode string `json:"language_code"`
}

type updateProfileSummaryArgs struct {
	UserID  string `json:"user_id"`
	Summary string `json:"summary"`
}

type updatePreferredNameArgs struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type saveSurveyAnswerArgs struct {
	UserID   string `json:"user_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type finishSurveyArgs struct {
	UserID string `json:"user_id"`
}

type saveEmailAndFinalMessageArgs struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	FinalMessage string `json:"final_message"`
}

// decodeArgs unmarshals raw arguments into the typed struct, mapping any
// malformed payload to the invalid-arguments error.
func decodeArgs(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidArguments, err)
	}
	return nil
}

// requireFields reports the invalid-arguments error naming the first missing
// required field.
func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if value == "" {
			return fmt.Errorf("%w: missing required field %q", models.ErrInvalidArguments, name)
		}
	}
	return nil
}

// ToolDefinitions builds the OpenAI tool schemas for a permitted action set.
func ToolDefinitions(actions []ActionName) []openai.ChatCompletionToolParam {
	defs := make([]openai.ChatCompletionToolParam, 0, len(actions))
	for _, name := range actions {
		defs = append(defs, toolDefinition(name))
	}
	return defs
}

func toolDefinition(name ActionName) openai.ChatCompletionToolParam {
	switch name {
	case ActionSetLanguage:
		return functionTool(name,
			"Record the user's preferred language once they have clearly stated or demonstrated it.",
			map[string]interface{}{
				"user_id":       stringProp("Identity of the user"),
				"language_code": stringProp("Preferred language code (e.g., 'en', 'es')"),
			},
			[]string{"user_id", "language_code"})
	case ActionUpdateProfileSummary:
		return functionTool(name,
			"Save a one-sentence summary of the user's business once enough is known.",
			map[string]interface{}{
				"user_id": stringProp("Identity of the user"),
				"summary": stringProp("Short business profile summary (one sentence)"),
			},
			[]string{"user_id", "summary"})
	case ActionUpdatePreferredName:
		return functionTool(name,
			"Save the name the user prefers to be addressed by.",
			map[string]interface{}{
				"user_id": stringProp("Identity of the user"),
				"name":    stringProp("Preferred name for addressing the user"),
			},
			[]string{"user_id", "name"})
	case ActionSaveSurveyAnswer:
		return functionTool(name,
			"Save one survey answer. Records the question as asked together with the user's answer.",
			map[string]interface{}{
				"user_id":  stringProp("Identity of the user"),
				"question": stringProp("Survey question text (as asked)"),
				"answer":   stringProp("User's answer to the survey question"),
			},
			[]string{"user_id", "question", "answer"})
	case ActionFinishSurvey:
		return functionTool(name,
			"Mark the survey as complete once every question has been answered.",
			map[string]interface{}{
				"user_id": stringProp("Identity of the user"),
			},
			[]string{"user_id"})
	case ActionSaveEmailAndFinalMessage:
		return functionTool(name,
			"Save the user's email and the closing message shown to them, completing the onboarding.",
			map[string]interface{}{
				"user_id":       stringProp("Identity of the user"),
				"email":         stringProp("User's email address"),
				"final_message": stringProp("Closing message to show the user, in their language"),
			},
			[]string{"user_id", "email", "final_message"})
	}
	// Unreachable for the closed set; an empty definition would be rejected
	// upstream by the dispatcher's permitted-set check anyway.
	return openai.ChatCompletionToolParam{}
}

func functionTool(name ActionName, description string, properties map[string]interface{}, required []string) openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        string(name),
			Description: openai.String(description),
			Parameters: shared.FunctionParameters{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}
