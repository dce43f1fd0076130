// Package api provides HTTP handlers for the onboarding endpoints.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
)

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

// twilioWebhookHandler validates the shared webhook secret and delegates the
// request to the Twilio messaging service (POST /webhook/twilio).
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.twilioWebhookHandler: invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.twilioWebhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if s.webhookSecret != "" {
		token := r.Header.Get(WebhookTokenHeader)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.webhookSecret {
			slog.Warn("Server.twilioWebhookHandler: webhook token mismatch", "remote_addr", r.RemoteAddr)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid webhook token"))
			return
		}
	}

	provider, ok := s.msgService.(webhookProvider)
	if !ok {
		slog.Warn("Server.twilioWebhookHandler: messaging backend has no webhook support")
		writeJSONResponse(w, http.StatusNotFound, models.Error("Webhook not supported by messaging backend"))
		return
	}

	provider.TwilioWebhookHandler(w, r)
}

// profileHandler returns a participant's onboarding profile (GET /profiles/{id}).
func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.profileHandler: invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.profileHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := s.pathID(r.URL.Path, "/profiles/")
	if id == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing profile ID"))
		return
	}

	profile, err := s.st.FindProfile(id)
	if err != nil {
		slog.Error("Server.profileHandler: failed to fetch profile", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch profile"))
		return
	}
	if profile == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Profile not found"))
		return
	}

	slog.Debug("Server.profileHandler: profile fetched", "id", id)
	writeJSONResponse(w, http.StatusOK, models.Success(profile))
}

// conversationHandler returns a participant's conversation transcript and
// current stage (GET /conversations/{id}).
func (s *Server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.conversationHandler: invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.conversationHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := s.pathID(r.URL.Path, "/conversations/")
	if id == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing conversation ID"))
		return
	}

	conv, err := s.st.FindConversation(id)
	if err != nil {
		slog.Error("Server.conversationHandler: failed to fetch conversation", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	slog.Debug("Server.conversationHandler: conversation fetched", "id", id, "stage", conv.Stage, "turns", len(conv.Turns))
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// participantHandler removes a participant's profile and conversation
// (DELETE /participants/{id}).
func (s *Server) participantHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.participantHandler: invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		slog.Warn("Server.participantHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := s.pathID(r.URL.Path, "/participants/")
	if id == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing participant ID"))
		return
	}

	if err := s.st.DeleteConversation(id); err != nil {
		slog.Error("Server.participantHandler: failed to delete conversation", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete participant"))
		return
	}
	if err := s.st.DeleteProfile(id); err != nil {
		slog.Error("Server.participantHandler: failed to delete profile", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete participant"))
		return
	}

	slog.Info("Server.participantHandler: participant deleted", "id", id)
	writeJSONResponse(w, http.StatusOK, models.Recorded("Participant deleted"))
}

// pathID extracts the trailing identifier from a prefixed path.
func (s *Server) pathID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.TrimSuffix(id, "/")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
