package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
	"github.com/ai-business-buddy/bizbuddy/internal/twiliowhatsapp"
)

func TestTwilioServiceValidateAndCanonicalizeRecipient(t *testing.T) {
	service := NewTwilioService(twiliowhatsapp.NewMockClient())

	tests := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{name: "plain digits", recipient: "15551234567", want: "15551234567"},
		{name: "plus prefix stripped", recipient: "+15551234567", want: "15551234567"},
		{name: "whatsapp prefix and formatting", recipient: "whatsapp:+1 (555) 123-4567", want: "15551234567"},
		{name: "empty", recipient: "", wantErr: true},
		{name: "no digits", recipient: "not-a-number", wantErr: true},
		{name: "too short", recipient: "12345", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := service.ValidateAndCanonicalizeRecipient(tt.recipient)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q, got %q", tt.recipient, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.recipient, err)
			}
			if got != tt.want {
				t.Errorf("canonicalize %q = %q, want %q", tt.recipient, got, tt.want)
			}
		})
	}
}

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	service := NewTwilioService(mock)

	if err := service.SendMessage(context.Background(), "+1 555 123 4567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "15551234567" {
		t.Errorf("message sent to %q, expected canonical number", mock.SentMessages[0].To)
	}
	if mock.SentMessages[0].Body != "hello" {
		t.Errorf("unexpected body: %q", mock.SentMessages[0].Body)
	}

	select {
	case receipt := <-service.Receipts():
		if receipt.To != "15551234567" || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt: %+v", receipt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a sent receipt")
	}
}

func TestTwilioServiceSendMessageInvalidRecipient(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	service := NewTwilioService(mock)

	if err := service.SendMessage(context.Background(), "", "hello"); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if len(mock.SentMessages) != 0 {
		t.Errorf("invalid recipient must not reach the client, got %d sends", len(mock.SentMessages))
	}
}

func TestTwilioServiceSendMessageAfterStop(t *testing.T) {
	service := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := service.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := service.SendMessage(context.Background(), "15551234567", "hello"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Stop is idempotent.
	if err := service.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	service := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	form.Set("Body", "Hola, quiero empezar")
	form.Set("ProfileName", "Ada")

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	service.TwilioWebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case response := <-service.Responses():
		if response.From != "whatsapp:+15551234567" {
			t.Errorf("unexpected From: %q", response.From)
		}
		if response.Body != "Hola, quiero empezar" {
			t.Errorf("unexpected Body: %q", response.Body)
		}
		if response.FirstName != "Ada" {
			t.Errorf("profile name not carried as hint: %q", response.FirstName)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a response on the channel")
	}
}

func TestTwilioWebhookHandlerMissingFields(t *testing.T) {
	service := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	service.TwilioWebhookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing Body, got %d", rec.Code)
	}

	select {
	case response := <-service.Responses():
		t.Errorf("no response should be emitted, got %+v", response)
	default:
	}
}
