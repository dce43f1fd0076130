// Package store provides storage backends for Business Buddy.
//
// This file implements the PostgreSQL-backed store. Append-only sequences
// grow via jsonb concatenation so an append never rewrites existing elements.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

const postgresProfileColumns = `id, first_name, last_name, locale_hint, preferred_language, preferred_name,
	business_summary, survey_answers, email, final_message, created_at, updated_at`

// EnsureProfile creates the profile with the seed's fields if absent and
// returns the stored profile.
func (s *PostgresStore) EnsureProfile(seed models.Profile) (*models.Profile, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO profiles (id, first_name, last_name, locale_hint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.Exec(query, seed.ID, nilIfEmpty(seed.FirstName), nilIfEmpty(seed.LastName),
		nilIfEmpty(seed.LocaleHint), now, now)
	if err != nil {
		slog.Error("PostgresStore EnsureProfile failed", "error", err, "id", seed.ID)
		return nil, fmt.Errorf("failed to ensure profile %s: %w", seed.ID, err)
	}
	return s.FindProfile(seed.ID)
}

// FindProfile retrieves the profile for the identity, or nil when absent.
func (s *PostgresStore) FindProfile(id string) (*models.Profile, error) {
	query := `SELECT ` + postgresProfileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore FindProfile not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindProfile failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query profile %s: %w", id, err)
	}
	slog.Debug("PostgresStore FindProfile found", "id", id)
	return &p, nil
}

// SaveProfile upserts the full profile record and returns the stored snapshot.
func (s *PostgresStore) SaveProfile(p models.Profile) (*models.Profile, error) {
	answersJSON, err := marshalAnswers(p.SurveyAnswers)
	if err != nil {
		slog.Error("PostgresStore SaveProfile marshal failed", "error", err, "id", p.ID)
		return nil, err
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO profiles (` + postgresProfileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			locale_hint = EXCLUDED.locale_hint,
			preferred_language = EXCLUDED.preferred_language,
			preferred_name = EXCLUDED.preferred_name,
			business_summary = EXCLUDED.business_summary,
			survey_answers = EXCLUDED.survey_answers,
			email = EXCLUDED.email,
			final_message = EXCLUDED.final_message,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.Exec(query, p.ID, nilIfEmpty(p.FirstName), nilIfEmpty(p.LastName),
		nilIfEmpty(p.LocaleHint), nilIfEmpty(p.PreferredLanguage), nilIfEmpty(p.PreferredName),
		nilIfEmpty(p.BusinessSummary), answersJSON, nilIfEmpty(p.Email), nilIfEmpty(p.FinalMessage),
		now, now)
	if err != nil {
		slog.Error("PostgresStore SaveProfile failed", "error", err, "id", p.ID)
		return nil, fmt.Errorf("failed to save profile %s: %w", p.ID, err)
	}
	slog.Debug("PostgresStore SaveProfile succeeded", "id", p.ID)
	return s.FindProfile(p.ID)
}

// AppendSurveyAnswer appends one answer pair to the profile's survey answers.
func (s *PostgresStore) AppendSurveyAnswer(id string, answer models.SurveyAnswer) (*models.Profile, error) {
	element, err := json.Marshal(answer)
	if err != nil {
		slog.Error("PostgresStore AppendSurveyAnswer marshal failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to encode survey answer: %w", err)
	}
	query := `UPDATE profiles SET survey_answers = survey_answers || $2::jsonb, updated_at = $3 WHERE id = $1`
	res, err := s.db.Exec(query, id, string(element), time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore AppendSurveyAnswer failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to append survey answer for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("PostgresStore AppendSurveyAnswer no such profile", "id", id)
		return nil, models.ErrProfileNotFound
	}
	slog.Debug("PostgresStore AppendSurveyAnswer succeeded", "id", id)
	return s.FindProfile(id)
}

// DeleteProfile removes the profile for the identity.
func (s *PostgresStore) DeleteProfile(id string) error {
	_, err := s.db.Exec(`DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteProfile failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete profile %s: %w", id, err)
	}
	slog.Debug("PostgresStore DeleteProfile succeeded", "id", id)
	return nil
}

// EnsureConversation creates an empty conversation at the language stage if
// none exists for the identity.
func (s *PostgresStore) EnsureConversation(id string) (*models.Conversation, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO conversations (id, stage, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.Exec(query, id, string(models.StageLanguage), now, now)
	if err != nil {
		slog.Error("PostgresStore EnsureConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to ensure conversation %s: %w", id, err)
	}
	return s.FindConversation(id)
}

// FindConversation retrieves the conversation for the identity, or nil when absent.
func (s *PostgresStore) FindConversation(id string) (*models.Conversation, error) {
	query := `SELECT id, stage, turns, created_at, updated_at FROM conversations WHERE id = $1`
	c, err := scanConversation(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore FindConversation not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query conversation %s: %w", id, err)
	}
	slog.Debug("PostgresStore FindConversation found", "id", id, "stage", c.Stage)
	return &c, nil
}

// AppendTurn appends one stage-tagged turn to the conversation log.
func (s *PostgresStore) AppendTurn(id string, turn models.Turn) (*models.Conversation, error) {
	element, err := json.Marshal(turn)
	if err != nil {
		slog.Error("PostgresStore AppendTurn marshal failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to encode turn: %w", err)
	}
	query := `UPDATE conversations SET turns = turns || $2::jsonb, updated_at = $3 WHERE id = $1`
	res, err := s.db.Exec(query, id, string(element), time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore AppendTurn failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to append turn for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("PostgresStore AppendTurn no such conversation", "id", id)
		return nil, models.ErrConversationNotFound
	}
	slog.Debug("PostgresStore AppendTurn succeeded", "id", id, "role", turn.Role, "stage", turn.Stage)
	return s.FindConversation(id)
}

// SetStage writes the conversation's current stage.
func (s *PostgresStore) SetStage(id string, stage models.Stage) (*models.Conversation, error) {
	res, err := s.db.Exec(`UPDATE conversations SET stage = $2, updated_at = $3 WHERE id = $1`,
		id, string(stage), time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore SetStage failed", "error", err, "id", id, "stage", stage)
		return nil, fmt.Errorf("failed to set stage for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("PostgresStore SetStage no such conversation", "id", id)
		return nil, models.ErrConversationNotFound
	}
	slog.Debug("PostgresStore SetStage succeeded", "id", id, "stage", stage)
	return s.FindConversation(id)
}

// DeleteConversation removes the conversation for the identity.
func (s *PostgresStore) DeleteConversation(id string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteConversation failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	slog.Debug("PostgresStore DeleteConversation succeeded", "id", id)
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	} else {
		slog.Debug("PostgreSQL database connection closed successfully")
	}
	return err
}
