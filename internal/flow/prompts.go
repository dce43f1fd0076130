// Package flow implements the staged onboarding conversation: stage prompt
// resolution, history windowing, action dispatch, and the orchestration loop
// that turns inbound messages into replies.
package flow

import (
	"fmt"
	"log/slog"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
)

// basePrompt is the persona shared by every stage instruction.
const basePrompt = `You are AI Business Buddy, a friendly, concise onboarding agent.
Goal: quickly understand who the user is.
Rules:
- Ask ONE short question at a time.
- Be warm and helpful, no sales.
- Use the user's language if it's clear from messages.
- Keep responses under 2 short sentences.`

// surveyQuestions is the fixed question list walked through in the survey stage.
var surveyQuestions = []string{
	"What are your main business goals for the next year?",
	"What is the biggest challenge you are facing right now?",
	"How large is your team?",
	"How did you hear about us?",
}

// stageInstructions holds the per-stage task appended to the base prompt.
var stageInstructions = map[models.Stage]string{
	models.StageLanguage: `TASK: Find out which language the user wants to continue in.
When the user clearly states or demonstrates their language, call set_language with the matching language code (e.g. 'en', 'es').
Never decide the language from anything except the user's own messages.`,

	models.StageProfile: `TASK: Get to know the user.
Ask for the name they prefer to be addressed by; when they give one, call update_preferred_name.
Then learn their role, company (or self-employed), location, and what their business does.
Once you have enough for a one-sentence business summary, call update_profile_summary with that summary.`,

	models.StageSurvey: `TASK: Walk through the survey questions below, one at a time, in order.
After each answer, call save_survey_answer with the question exactly as asked and the user's answer.
When every question has been answered, call finish_survey.
Survey questions:
` + numberedQuestions(),

	models.StageSummary: `TASK: Ask for the user's email address so we can stay in touch.
Once they give it, call save_email_and_final_message with the email and a short warm closing message written in the user's language.`,

	models.StageFinal: `The onboarding is complete. Thank the user briefly.`,
}

// stageFallbacks are the utterances returned when the model produces neither
// text nor an action, or when the hop limit is exhausted.
var stageFallbacks = map[models.Stage]string{
	models.StageLanguage: "Which language would you like to continue in?",
	models.StageProfile:  "What is your name?",
	models.StageSurvey:   "Shall we continue with the next survey question?",
	models.StageSummary:  "What email address can we reach you at?",
	models.StageFinal:    DefaultFinalMessage,
}

// DefaultFinalMessage is returned in the final stage when no closing message
// was persisted.
const DefaultFinalMessage = "Thanks, you're all set! We'll be in touch soon."

func numberedQuestions() string {
	out := ""
	for i, q := range surveyQuestions {
		out += fmt.Sprintf("%d. %s\n", i+1, q)
	}
	return out
}

// StagePrompt resolves a stage to its full system instruction and the action
// set permitted in that stage. Deterministic and side-effect free.
func StagePrompt(stage models.Stage, profile *models.Profile) (string, []ActionName, error) {
	instruction, ok := stageInstructions[stage]
	if !ok {
		slog.Error("Flow.StagePrompt: unknown stage", "stage", stage)
		return "", nil, fmt.Errorf("%w: %q", models.ErrUnknownStage, stage)
	}

	prompt := basePrompt + "\n\n" + instruction
	if profile != nil && profile.PreferredLanguage != "" {
		prompt += fmt.Sprintf("\n\nThe user's preferred language is %q. Always reply in that language.", profile.PreferredLanguage)
	}
	return prompt, permittedActions[stage], nil
}

// FallbackUtterance returns the safe reply for a stage. Unknown stages get the
// profile-stage fallback so a degraded turn still produces something sensible.
func FallbackUtterance(stage models.Stage) string {
	if text, ok := stageFallbacks[stage]; ok {
		return text
	}
	return stageFallbacks[models.StageProfile]
}
