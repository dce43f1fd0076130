// Package api provides HTTP handlers and the main API server logic.
//
// It exposes the Twilio inbound webhook plus read endpoints for onboarding
// profiles and conversations, and an admin endpoint for removing
// participants. The API integrates with the messaging and store modules.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ai-business-buddy/bizbuddy/internal/messaging"
	"github.com/ai-business-buddy/bizbuddy/internal/store"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default listen address for the API server
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// WebhookTokenHeader carries the shared webhook secret on inbound requests
	WebhookTokenHeader = "X-Webhook-Token"
)

// webhookProvider is implemented by messaging services that accept inbound
// traffic over HTTP (currently only the Twilio service).
type webhookProvider interface {
	TwilioWebhookHandler(w http.ResponseWriter, r *http.Request)
}

// Server wires the HTTP endpoints to the store and messaging service.
type Server struct {
	msgService    messaging.Service
	st            store.Store
	addr          string
	webhookSecret string
	httpServer    *http.Server
}

// Option defines a configuration option for the API server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithWebhookSecret sets the shared secret required on webhook requests.
// When empty, webhook requests are accepted without a token.
func WithWebhookSecret(secret string) Option {
	return func(s *Server) { s.webhookSecret = secret }
}

// NewServer creates an API server wired to the given messaging service and store.
func NewServer(msgService messaging.Service, st store.Store, opts ...Option) *Server {
	s := &Server{
		msgService: msgService,
		st:         st,
		addr:       DefaultAddr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("/profiles/", s.profileHandler)
	mux.HandleFunc("/conversations/", s.conversationHandler)
	mux.HandleFunc("/participants/", s.participantHandler)
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go func() {
		slog.Info("Server.Start: API listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server.Start: HTTP server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Start: shutdown error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
