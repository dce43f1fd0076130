package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
	"github.com/openai/openai-go"
)

// BuildWindow produces the bounded message sequence presented to the model for
// one stage: the resolved instruction as a leading system entry, an optional
// known-user-hints line, then the most recent stage-tagged turns in
// chronological order. Turns recorded under other stages are excluded; roles
// outside user/assistant are surfaced as user content because the model has no
// mid-conversation system event channel.
func BuildWindow(instruction string, profile *models.Profile, conv *models.Conversation, stage models.Stage, limit int) []openai.ChatCompletionMessageParamUnion {
	if limit <= 0 {
		limit = models.DefaultHistoryWindow
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(instruction),
	}

	if hints := profileHints(profile); hints != "" {
		messages = append(messages, openai.SystemMessage("Known user hints: "+hints))
	}

	var tagged []models.Turn
	if conv != nil {
		for _, turn := range conv.Turns {
			if turn.Stage == stage {
				tagged = append(tagged, turn)
			}
		}
	}
	if len(tagged) > limit {
		tagged = tagged[len(tagged)-limit:]
	}

	for _, turn := range tagged {
		switch turn.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		default:
			// user turns and system-notes alike
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}

	slog.Debug("Flow.BuildWindow built message window", "stage", stage, "turns", len(tagged), "total_messages", len(messages))
	return messages
}

// profileHints summarizes known profile attributes as "k=v" pairs, or returns
// an empty string when nothing is known yet.
func profileHints(profile *models.Profile) string {
	if profile == nil {
		return ""
	}
	var hints []string
	add := func(key, value string) {
		if value != "" {
			hints = append(hints, fmt.Sprintf("%s=%s", key, value))
		}
	}
	add("first_name", profile.FirstName)
	add("last_name", profile.LastName)
	add("locale_hint", profile.LocaleHint)
	add("preferred_language", profile.PreferredLanguage)
	add("preferred_name", profile.PreferredName)
	add("business_summary", profile.BusinessSummary)
	add("email", profile.Email)
	return strings.Join(hints, ", ")
}
