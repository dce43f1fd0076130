package models

import "time"

// SurveyAnswer is one recorded {question, answer} pair. The survey_answers
// sequence on a Profile is append-only.
type SurveyAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Profile holds everything the flow has learned about one participant,
// keyed by the stable transport identity.
//
// PreferredLanguage is only ever written through the explicit language
// confirmation action; LocaleHint is the untrusted transport-supplied signal
// and must never be promoted to PreferredLanguage directly.
type Profile struct {
	ID                string         `json:"id"`
	FirstName         string         `json:"first_name,omitempty"`
	LastName          string         `json:"last_name,omitempty"`
	LocaleHint        string         `json:"locale_hint,omitempty"`
	PreferredLanguage string         `json:"preferred_language,omitempty"`
	PreferredName     string         `json:"preferred_name,omitempty"`
	BusinessSummary   string         `json:"business_summary,omitempty"`
	SurveyAnswers     []SurveyAnswer `json:"survey_answers,omitempty"`
	Email             string         `json:"email,omitempty"`
	FinalMessage      string         `json:"final_message,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Conversation is the single flat log for one participant, 1:1 with the
// Profile and keyed by the same identity. Stage is monotonically
// non-decreasing; turns are append-only.
type Conversation struct {
	ID        string    `json:"id"`
	Stage     Stage     `json:"stage"`
	Turns     []Turn    `json:"turns,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns the friendliest name available for the participant.
func (p *Profile) DisplayName() string {
	if p.PreferredName != "" {
		return p.PreferredName
	}
	if p.FirstName != "" {
		return p.FirstName
	}
	return ""
}

// HasHints reports whether the profile carries any attribute worth
// summarizing to the model as a known-user hint.
func (p *Profile) HasHints() bool {
	return p.DisplayName() != "" || p.PreferredLanguage != "" ||
		p.BusinessSummary != "" || p.Email != "" || p.LocaleHint != ""
}
