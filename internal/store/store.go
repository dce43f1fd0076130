// Package store provides storage backends for Business Buddy.
//
// It persists the two onboarding entities, Profile and Conversation, keyed by
// the participant's stable transport identity. Backends: in-memory (tests and
// ephemeral runs), SQLite, and PostgreSQL. Mutating operations return the
// updated entity snapshot so callers always operate on post-mutation state
// without a second read.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
)

// Store defines the typed operations the onboarding flow needs over the two
// entities. Find methods return nil (not an error) when the entity is absent.
type Store interface {
	// EnsureProfile creates the profile with the seed's insert-only fields if
	// no profile exists for seed.ID, and returns the stored profile either way.
	// Existing fields are never overwritten by the seed.
	EnsureProfile(seed models.Profile) (*models.Profile, error)
	FindProfile(id string) (*models.Profile, error)
	// SaveProfile upserts the full profile record and returns the stored snapshot.
	SaveProfile(p models.Profile) (*models.Profile, error)
	// AppendSurveyAnswer appends one {question, answer} pair; the sequence is
	// append-only and existing entries are never modified.
	AppendSurveyAnswer(id string, answer models.SurveyAnswer) (*models.Profile, error)
	DeleteProfile(id string) error

	// EnsureConversation creates an empty conversation at the language stage
	// if none exists for the identity, and returns the stored conversation.
	EnsureConversation(id string) (*models.Conversation, error)
	FindConversation(id string) (*models.Conversation, error)
	// AppendTurn appends one immutable stage-tagged turn to the log.
	AppendTurn(id string, turn models.Turn) (*models.Conversation, error)
	// SetStage writes the conversation's current stage. Transition legality is
	// the dispatcher's concern; the store records what it is told.
	SetStage(id string, stage models.Stage) (*models.Conversation, error)
	DeleteConversation(id string) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType inspects a DSN and reports "postgres" or "sqlite".
// Anything that does not look like a PostgreSQL connection string is treated
// as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore creates a store backend based on the DSN: PostgreSQL for
// postgres-style DSNs, SQLite for file paths, in-memory when no DSN is set.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(WithDSN(cfg.DSN))
	}
	return NewSQLiteStore(WithDSN(cfg.DSN))
}

// InMemoryStore keeps profiles and conversations in process memory. Used in
// tests and for ephemeral runs without a database.
type InMemoryStore struct {
	mu            sync.RWMutex
	profiles      map[string]models.Profile
	conversations map[string]models.Conversation
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles:      make(map[string]models.Profile),
		conversations: make(map[string]models.Conversation),
	}
}

// EnsureProfile creates the profile from the seed if absent and returns the
// stored profile.
func (s *InMemoryStore) EnsureProfile(seed models.Profile) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[seed.ID]; ok {
		p := cloneProfile(existing)
		return &p, nil
	}
	now := time.Now().UTC()
	seed.CreatedAt = now
	seed.UpdatedAt = now
	s.profiles[seed.ID] = cloneProfile(seed)
	p := cloneProfile(seed)
	return &p, nil
}

// FindProfile returns the profile for the identity, or nil when absent.
func (s *InMemoryStore) FindProfile(id string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	p := cloneProfile(existing)
	return &p, nil
}

// SaveProfile upserts the full profile record.
func (s *InMemoryStore) SaveProfile(p models.Profile) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.profiles[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.profiles[p.ID] = cloneProfile(p)
	out := cloneProfile(p)
	return &out, nil
}

// AppendSurveyAnswer appends one answer pair to the profile's survey answers.
func (s *InMemoryStore) AppendSurveyAnswer(id string, answer models.SurveyAnswer) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.profiles[id]
	if !ok {
		return nil, models.ErrProfileNotFound
	}
	existing.SurveyAnswers = append(existing.SurveyAnswers, answer)
	existing.UpdatedAt = time.Now().UTC()
	s.profiles[id] = cloneProfile(existing)
	p := cloneProfile(existing)
	return &p, nil
}

// DeleteProfile removes the profile for the identity.
func (s *InMemoryStore) DeleteProfile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, id)
	return nil
}

// EnsureConversation creates an empty conversation at the language stage if
// none exists for the identity.
func (s *InMemoryStore) EnsureConversation(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.conversations[id]; ok {
		c := cloneConversation(existing)
		return &c, nil
	}
	now := time.Now().UTC()
	conv := models.Conversation{
		ID:        id,
		Stage:     models.StageLanguage,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[id] = cloneConversation(conv)
	c := cloneConversation(conv)
	return &c, nil
}

// FindConversation returns the conversation for the identity, or nil when absent.
func (s *InMemoryStore) FindConversation(id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	c := cloneConversation(existing)
	return &c, nil
}

// AppendTurn appends one turn to the conversation log.
func (s *InMemoryStore) AppendTurn(id string, turn models.Turn) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conversations[id]
	if !ok {
		return nil, models.ErrConversationNotFound
	}
	existing.Turns = append(existing.Turns, turn)
	existing.UpdatedAt = time.Now().UTC()
	s.conversations[id] = cloneConversation(existing)
	c := cloneConversation(existing)
	return &c, nil
}

// SetStage writes the conversation's current stage.
func (s *InMemoryStore) SetStage(id string, stage models.Stage) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conversations[id]
	if !ok {
		return nil, models.ErrConversationNotFound
	}
	existing.Stage = stage
	existing.UpdatedAt = time.Now().UTC()
	s.conversations[id] = cloneConversation(existing)
	c := cloneConversation(existing)
	return &c, nil
}

// DeleteConversation removes the conversation for the identity.
func (s *InMemoryStore) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func cloneProfile(p models.Profile) models.Profile {
	out := p
	if p.SurveyAnswers != nil {
		out.SurveyAnswers = make([]models.SurveyAnswer, len(p.SurveyAnswers))
		copy(out.SurveyAnswers, p.SurveyAnswers)
	}
	return out
}

func cloneConversation(c models.Conversation) models.Conversation {
	out := c
	if c.Turns != nil {
		out.Turns = make([]models.Turn, len(c.Turns))
		copy(out.Turns, c.Turns)
	}
	return out
}
