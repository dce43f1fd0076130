package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifies a phase of the onboarding flow. Each stage bounds which
// actions and which prompt text are active for the model call.
type Stage string

const (
	// StageLanguage asks for and confirms the user's preferred language.
	StageLanguage Stage = "language"
	// StageProfile collects the preferred name and business description.
	StageProfile Stage = "profile"
	// StageSurvey walks through the fixed survey questions.
	StageSurvey Stage = "survey"
	// StageSummary collects the contact email and closes the flow.
	StageSummary Stage = "summary"
	// StageFinal marks a completed conversation; no further model calls occur.
	StageFinal Stage = "final"
)

// stageOrder fixes the progression language -> profile -> survey -> summary -> final.
var stageOrder = map[Stage]int{
	StageLanguage: 0,
	StageProfile:  1,
	StageSurvey:   2,
	StageSummary:  3,
	StageFinal:    4,
}

// IsValidStage checks if the given stage is one of the known onboarding stages.
func IsValidStage(s Stage) bool {
	_, ok := stageOrder[s]
	return ok
}

// Index returns the stage's position in the fixed progression, or -1 for an
// unknown stage.
func (s Stage) Index() int {
	idx, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return idx
}

// CanAdvance reports whether moving from one stage to another is a legal
// transition. The progression is strictly monotone and never skips: only the
// immediate successor is reachable, and nothing leaves the final stage.
func CanAdvance(from, to Stage) bool {
	fi, ok := stageOrder[from]
	if !ok {
		return false
	}
	ti, ok := stageOrder[to]
	if !ok {
		return false
	}
	return ti == fi+1
}

// Role identifies who produced a recorded turn.
type Role string

const (
	// RoleUser marks a turn typed by the participant.
	RoleUser Role = "user"
	// RoleAssistant marks a turn produced by the model or an action executor.
	RoleAssistant Role = "assistant"
	// RoleSystemNote marks a synthetic turn recording that a mutation already
	// happened, surfaced to the model as ordinary user content.
	RoleSystemNote Role = "system-note"
)

// Turn is one immutable recorded message in a Conversation. Every turn is
// permanently tagged with the stage that was active when it was recorded,
// even after the conversation's current stage advances.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a stage-tagged turn with a fresh ID and the current time.
func NewTurn(role Role, text string, stage Stage) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
	}
}
