package flow

import (
	"errors"
	"strings"
	"testing"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
)

func TestStagePrompt_KnownStages(t *testing.T) {
	tests := []struct {
		stage           models.Stage
		wantFragment    string
		wantActionCount int
	}{
		{models.StageLanguage, "set_language", 1},
		{models.StageProfile, "update_profile_summary", 2},
		{models.StageSurvey, "save_survey_answer", 2},
		{models.StageSummary, "save_email_and_final_message", 1},
		{models.StageFinal, "complete", 0},
	}

	for _, tt := range tests {
		instruction, actions, err := StagePrompt(tt.stage, nil)
		if err != nil {
			t.Fatalf("StagePrompt(%s) returned error: %v", tt.stage, err)
		}
		if !strings.Contains(instruction, "AI Business Buddy") {
			t.Errorf("StagePrompt(%s) missing persona", tt.stage)
		}
		if !strings.Contains(instruction, tt.wantFragment) {
			t.Errorf("StagePrompt(%s) missing fragment %q", tt.stage, tt.wantFragment)
		}
		if len(actions) != tt.wantActionCount {
			t.Errorf("StagePrompt(%s) returned %d actions, want %d", tt.stage, len(actions), tt.wantActionCount)
		}
	}
}

func TestStagePrompt_UnknownStage(t *testing.T) {
	_, _, err := StagePrompt(models.Stage("intro"), nil)
	if !errors.Is(err, models.ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
}

func TestStagePrompt_LanguageDirective(t *testing.T) {
	profile := &models.Profile{ID: "u1", PreferredLanguage: "es"}
	instruction, _, err := StagePrompt(models.StageProfile, profile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(instruction, `"es"`) {
		t.Errorf("expected preferred language directive in instruction")
	}

	// Without a confirmed language no directive is added.
	instruction, _, err = StagePrompt(models.StageProfile, &models.Profile{ID: "u1", LocaleHint: "es"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(instruction, "preferred language is") {
		t.Errorf("locale hint must not produce a language directive")
	}
}

func TestStagePrompt_SurveyQuestionsNumbered(t *testing.T) {
	instruction, _, err := StagePrompt(models.StageSurvey, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, q := range surveyQuestions {
		if !strings.Contains(instruction, q) {
			t.Errorf("survey instruction missing question %q", q)
		}
	}
	if !strings.Contains(instruction, "1. ") || !strings.Contains(instruction, "4. ") {
		t.Errorf("survey questions not numbered")
	}
}

func TestFallbackUtterance(t *testing.T) {
	if got := FallbackUtterance(models.StageLanguage); got != "Which language would you like to continue in?" {
		t.Errorf("unexpected language fallback: %q", got)
	}
	if got := FallbackUtterance(models.StageFinal); got != DefaultFinalMessage {
		t.Errorf("unexpected final fallback: %q", got)
	}
	// Unknown stages degrade to the profile fallback.
	if got := FallbackUtterance(models.Stage("bogus")); got != "What is your name?" {
		t.Errorf("unexpected fallback for unknown stage: %q", got)
	}
}
