package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanProfile scans a profile row; survey answers are stored as a JSON array column.
func scanProfile(row rowScanner) (models.Profile, error) {
	var p models.Profile
	var firstName, lastName, localeHint, preferredLanguage, preferredName sql.NullString
	var businessSummary, email, finalMessage, answersJSON sql.NullString
	err := row.Scan(
		&p.ID, &firstName, &lastName, &localeHint, &preferredLanguage, &preferredName,
		&businessSummary, &answersJSON, &email, &finalMessage, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.FirstName = firstName.String
	p.LastName = lastName.String
	p.LocaleHint = localeHint.String
	p.PreferredLanguage = preferredLanguage.String
	p.PreferredName = preferredName.String
	p.BusinessSummary = businessSummary.String
	p.Email = email.String
	p.FinalMessage = finalMessage.String
	if answersJSON.String != "" {
		if err := json.Unmarshal([]byte(answersJSON.String), &p.SurveyAnswers); err != nil {
			return p, fmt.Errorf("failed to decode survey answers for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

// scanConversation scans a conversation row; turns are stored as a JSON array column.
func scanConversation(row rowScanner) (models.Conversation, error) {
	var c models.Conversation
	var stage string
	var turnsJSON sql.NullString
	err := row.Scan(&c.ID, &stage, &turnsJSON, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.Stage = models.Stage(stage)
	if turnsJSON.String != "" {
		if err := json.Unmarshal([]byte(turnsJSON.String), &c.Turns); err != nil {
			return c, fmt.Errorf("failed to decode turns for %s: %w", c.ID, err)
		}
	}
	return c, nil
}

// marshalAnswers encodes the survey answers array for storage, defaulting to
// an empty JSON array so append operations always have a valid target.
func marshalAnswers(answers []models.SurveyAnswer) (string, error) {
	if len(answers) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("failed to encode survey answers: %w", err)
	}
	return string(b), nil
}
