// Package store provides storage backends for Business Buddy.
//
// This file implements the SQLite-backed store. Append-only sequences
// (turns, survey answers) live in JSON array columns and grow via json_insert
// so an append never rewrites existing elements.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

const sqliteProfileColumns = `id, first_name, last_name, locale_hint, preferred_language, preferred_name,
	business_summary, survey_answers, email, final_message, created_at, updated_at`

// EnsureProfile creates the profile with the seed's fields if absent and
// returns the stored profile.
func (s *SQLiteStore) EnsureProfile(seed models.Profile) (*models.Profile, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO profiles (id, first_name, last_name, locale_hint, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.Exec(query, seed.ID, nilIfEmpty(seed.FirstName), nilIfEmpty(seed.LastName),
		nilIfEmpty(seed.LocaleHint), now, now)
	if err != nil {
		slog.Error("SQLiteStore EnsureProfile failed", "error", err, "id", seed.ID)
		return nil, fmt.Errorf("failed to ensure profile %s: %w", seed.ID, err)
	}
	return s.FindProfile(seed.ID)
}

// FindProfile retrieves the profile for the identity, or nil when absent.
func (s *SQLiteStore) FindProfile(id string) (*models.Profile, error) {
	query := `SELECT ` + sqliteProfileColumns + ` FROM profiles WHERE id = ?`
	p, err := scanProfile(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore FindProfile not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindProfile failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query profile %s: %w", id, err)
	}
	slog.Debug("SQLiteStore FindProfile found", "id", id)
	return &p, nil
}

// SaveProfile upserts the full profile record and returns the stored snapshot.
func (s *SQLiteStore) SaveProfile(p models.Profile) (*models.Profile, error) {
	answersJSON, err := marshalAnswers(p.SurveyAnswers)
	if err != nil {
		slog.Error("SQLiteStore SaveProfile marshal failed", "error", err, "id", p.ID)
		return nil, err
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO profiles (` + sqliteProfileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			locale_hint = excluded.locale_hint,
			preferred_language = excluded.preferred_language,
			preferred_name = excluded.preferred_name,
			business_summary = excluded.business_summary,
			survey_answers = excluded.survey_answers,
			email = excluded.email,
			final_message = excluded.final_message,
			updated_at = excluded.updated_at`

	_, err = s.db.Exec(query, p.ID, nilIfEmpty(p.FirstName), nilIfEmpty(p.LastName),
		nilIfEmpty(p.LocaleHint), nilIfEmpty(p.PreferredLanguage), nilIfEmpty(p.PreferredName),
		nilIfEmpty(p.BusinessSummary), answersJSON, nilIfEmpty(p.Email), nilIfEmpty(p.FinalMessage),
		now, now)
	if err != nil {
		slog.Error("SQLiteStore SaveProfile failed", "error", err, "id", p.ID)
		return nil, fmt.Errorf("failed to save profile %s: %w", p.ID, err)
	}
	slog.Debug("SQLiteStore SaveProfile succeeded", "id", p.ID)
	return s.FindProfile(p.ID)
}

// AppendSurveyAnswer appends one answer pair to the profile's survey answers.
func (s *SQLiteStore) AppendSurveyAnswer(id string, answer models.SurveyAnswer) (*models.Profile, error) {
	element, err := json.Marshal(answer)
	if err != nil {
		slog.Error("SQLiteStore AppendSurveyAnswer marshal failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to encode survey answer: %w", err)
	}
	query := `UPDATE profiles SET survey_answers = json_insert(survey_answers, '$[#]', json(?)), updated_at = ? WHERE id = ?`
	res, err := s.db.Exec(query, string(element), time.Now().UTC(), id)
	if err != nil {
		slog.Error("SQLiteStore AppendSurveyAnswer failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to append survey answer for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("SQLiteStore AppendSurveyAnswer no such profile", "id", id)
		return nil, models.ErrProfileNotFound
	}
	slog.Debug("SQLiteStore AppendSurveyAnswer succeeded", "id", id)
	return s.FindProfile(id)
}

// DeleteProfile removes the profile for the identity.
func (s *SQLiteStore) DeleteProfile(id string) error {
	_, err := s.db.Exec(`DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteProfile failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete profile %s: %w", id, err)
	}
	slog.Debug("SQLiteStore DeleteProfile succeeded", "id", id)
	return nil
}

// EnsureConversation creates an empty conversation at the language stage if
// none exists for the identity.
func (s *SQLiteStore) EnsureConversation(id string) (*models.Conversation, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO conversations (id, stage, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.Exec(query, id, string(models.StageLanguage), now, now)
	if err != nil {
		slog.Error("SQLiteStore EnsureConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to ensure conversation %s: %w", id, err)
	}
	return s.FindConversation(id)
}

// FindConversation retrieves the conversation for the identity, or nil when absent.
func (s *SQLiteStore) FindConversation(id string) (*models.Conversation, error) {
	query := `SELECT id, stage, turns, created_at, updated_at FROM conversations WHERE id = ?`
	c, err := scanConversation(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore FindConversation not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query conversation %s: %w", id, err)
	}
	slog.Debug("SQLiteStore FindConversation found", "id", id, "stage", c.Stage)
	return &c, nil
}

// AppendTurn appends one stage-tagged turn to the conversation log.
func (s *SQLiteStore) AppendTurn(id string, turn models.Turn) (*models.Conversation, error) {
	element, err := json.Marshal(turn)
	if err != nil {
		slog.Error("SQLiteStore AppendTurn marshal failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to encode turn: %w", err)
	}
	query := `UPDATE conversations SET turns = json_insert(turns, '$[#]', json(?)), updated_at = ? WHERE id = ?`
	res, err := s.db.Exec(query, string(element), time.Now().UTC(), id)
	if err != nil {
		slog.Error("SQLiteStore AppendTurn failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to append turn for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("SQLiteStore AppendTurn no such conversation", "id", id)
		return nil, models.ErrConversationNotFound
	}
	slog.Debug("SQLiteStore AppendTurn succeeded", "id", id, "role", turn.Role, "stage", turn.Stage)
	return s.FindConversation(id)
}

// SetStage writes the conversation's current stage.
func (s *SQLiteStore) SetStage(id string, stage models.Stage) (*models.Conversation, error) {
	res, err := s.db.Exec(`UPDATE conversations SET stage = ?, updated_at = ? WHERE id = ?`,
		string(stage), time.Now().UTC(), id)
	if err != nil {
		slog.Error("SQLiteStore SetStage failed", "error", err, "id", id, "stage", stage)
		return nil, fmt.Errorf("failed to set stage for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("SQLiteStore SetStage no such conversation", "id", id)
		return nil, models.ErrConversationNotFound
	}
	slog.Debug("SQLiteStore SetStage succeeded", "id", id, "stage", stage)
	return s.FindConversation(id)
}

// DeleteConversation removes the conversation for the identity.
func (s *SQLiteStore) DeleteConversation(id string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversation failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	slog.Debug("SQLiteStore DeleteConversation succeeded", "id", id)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
