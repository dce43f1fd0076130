package models

import "testing"

func TestStageProgression(t *testing.T) {
	tests := []struct {
		from    Stage
		to      Stage
		allowed bool
	}{
		{StageLanguage, StageProfile, true},
		{StageProfile, StageSurvey, true},
		{StageSurvey, StageSummary, true},
		{StageSummary, StageFinal, true},
		{StageLanguage, StageSurvey, false},  // no skipping
		{StageProfile, StageLanguage, false}, // no regression
		{StageSummary, StageSummary, false},  // no self-transition
		{StageFinal, StageLanguage, false},   // nothing leaves final
		{StageFinal, StageFinal, false},
		{Stage("bogus"), StageProfile, false},
		{StageLanguage, Stage("bogus"), false},
	}

	for _, tt := range tests {
		if got := CanAdvance(tt.from, tt.to); got != tt.allowed {
			t.Errorf("CanAdvance(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestStageIndex(t *testing.T) {
	if StageLanguage.Index() != 0 {
		t.Errorf("expected language index 0, got %d", StageLanguage.Index())
	}
	if StageFinal.Index() != 4 {
		t.Errorf("expected final index 4, got %d", StageFinal.Index())
	}
	if Stage("bogus").Index() != -1 {
		t.Errorf("expected -1 for unknown stage, got %d", Stage("bogus").Index())
	}
}

func TestIsValidStage(t *testing.T) {
	for _, s := range []Stage{StageLanguage, StageProfile, StageSurvey, StageSummary, StageFinal} {
		if !IsValidStage(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if IsValidStage(Stage("intro")) {
		t.Error("expected 'intro' to be invalid")
	}
}

func TestNewTurn(t *testing.T) {
	turn := NewTurn(RoleUser, "hello", StageLanguage)
	if turn.ID == "" {
		t.Error("expected turn to have an ID")
	}
	if turn.Role != RoleUser || turn.Text != "hello" || turn.Stage != StageLanguage {
		t.Errorf("turn fields not set correctly: %+v", turn)
	}
	if turn.Timestamp.IsZero() {
		t.Error("expected turn timestamp to be set")
	}
}

func TestProfileDisplayName(t *testing.T) {
	p := Profile{FirstName: "Ada"}
	if p.DisplayName() != "Ada" {
		t.Errorf("expected first name fallback, got %q", p.DisplayName())
	}
	p.PreferredName = "Countess"
	if p.DisplayName() != "Countess" {
		t.Errorf("expected preferred name to win, got %q", p.DisplayName())
	}
	empty := Profile{}
	if empty.DisplayName() != "" {
		t.Errorf("expected empty display name, got %q", empty.DisplayName())
	}
}

func TestProfileHasHints(t *testing.T) {
	if (&Profile{}).HasHints() {
		t.Error("empty profile should have no hints")
	}
	if !(&Profile{LocaleHint: "es"}).HasHints() {
		t.Error("locale hint should count as a hint")
	}
	if !(&Profile{BusinessSummary: "bakery"}).HasHints() {
		t.Error("business summary should count as a hint")
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]string{"k": "v"})
	if ok.Status != string(APIStatusOK) || ok.Result == nil {
		t.Errorf("unexpected success response: %+v", ok)
	}
	errResp := Error("boom")
	if errResp.Status != string(APIStatusError) || errResp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", errResp)
	}
	rec := Recorded("saved")
	if rec.Status != string(APIStatusRecorded) || rec.Message != "saved" {
		t.Errorf("unexpected recorded response: %+v", rec)
	}
}

func TestReceiptFields(t *testing.T) {
	r := Receipt{To: "+123", Status: MessageStatusSent, Time: 123456}
	if r.To != "+123" || r.Status != MessageStatusSent || r.Time != 123456 {
		t.Error("Receipt struct fields not set correctly")
	}
}
