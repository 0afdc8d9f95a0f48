package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
)

func TestLogSenderRecords(t *testing.T) {
	s := NewLogSender(nil)
	if err := s.Send(context.Background(), Message{Subject: "x", Text: "y"}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("err = %v", err)
	}
	msg := Message{To: To("Ann", "ann@example.com"), Subject: "Hi", Text: "hello"}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := s.Sent()
	if len(sent) != 1 || sent[0].Subject != "Hi" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestSendGridPrepare(t *testing.T) {
	s := NewSendGridSender("key", "PortfolioPro", "noreply@example.com")
	m := s.prepare(Message{
		To:          To("Ann", "ann@example.com"),
		Subject:     "Invoice",
		Text:        "attached",
		Attachments: []Attachment{{Filename: "inv.pdf", ContentType: "application/pdf", Content: []byte("%PDF")}},
	})
	if m.From.Address != "noreply@example.com" {
		t.Fatalf("from = %+v", m.From)
	}
	if got := m.Personalizations[0].Subject; got != "[PortfolioPro] Invoice" {
		t.Fatalf("subject = %q", got)
	}
	if len(m.Content) != 1 || m.Content[0].Type != "text/plain" {
		t.Fatalf("content = %+v", m.Content)
	}
	if m.Attachments[0].Content != base64.StdEncoding.EncodeToString([]byte("%PDF")) {
		t.Fatalf("attachment not base64 encoded")
	}
}
