package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ai-business-buddy/bizbuddy/internal/models"
	"github.com/ai-business-buddy/bizbuddy/internal/whatsapp"
)

func TestWhatsAppServiceValidateAndCanonicalizeRecipient(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient())

	tests := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{name: "plain digits", recipient: "15551234567", want: "15551234567"},
		{name: "plus and spaces stripped", recipient: "+1 555 123 4567", want: "15551234567"},
		{name: "empty", recipient: "", wantErr: true},
		{name: "too short", recipient: "123", wantErr: true},
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

func TestWhatsAppServiceSendMessage(t *testing.T) {
	mock := whatsapp.NewMockClient()
	service := NewWhatsAppService(mock)

	if err := service.SendMessage(context.Background(), "+1 555 123 4567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "15551234567" || mock.SentMessages[0].Body != "hello" {
		t.Errorf("unexpected recorded message: %+v", mock.SentMessages[0])
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

func TestWhatsAppServiceSendMessageInvalidRecipient(t *testing.T) {
	mock := whatsapp.NewMockClient()
	service := NewWhatsAppService(mock)

	if err := service.SendMessage(context.Background(), "", "hello"); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if len(mock.SentMessages) != 0 {
		t.Errorf("invalid recipient must not reach the client, got %d sends", len(mock.SentMessages))
	}
}

func TestWhatsAppServiceStartWithMockClient(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient())

	// A mock sender has no event stream; Start must still succeed.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := service.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := service.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
