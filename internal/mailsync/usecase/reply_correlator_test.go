package usecase

import (
	"context"
	"testing"
	"time"

	"agency-crm-backend/internal/mailsync/domain"
)

func seedOutbound(t *testing.T, env *testEnv, subject, sentBy string, at time.Time) *domain.LeadMessage {
	t.Helper()
	msg := &domain.LeadMessage{
		LeadID:  "lead-1",
		Type:    domain.MessageTypeOutbound,
		Status:  domain.MessageStatusSent,
		Subject: subject,
		SentAt:  at,
	}
	if sentBy != "" {
		msg.SentBy = &sentBy
	}
	if err := env.messages.Create(msg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return msg
}

func TestCorrelateMatchesNormalizedSubject(t *testing.T) {
	env := newTestEnv(t)
	outbound := seedOutbound(t, env, "hello", "agent-7", time.Now().Add(-time.Hour))
	seedOutbound(t, env, "Invoice", "agent-9", time.Now().Add(-time.Minute))

	c := NewReplyCorrelator(env.messages, env.events, env.push, 20)
	lead := &domain.Lead{ID: "lead-1", Name: "Jane Client"}
	inbound := &domain.LeadMessage{ID: "in-1", LeadID: "lead-1", Subject: "Re: Fwd: Hello", Content: "Sounds good"}

	match, err := c.Correlate(context.Background(), inbound, lead)
	if err != nil {
		t.Fatalf("Correlate() error = %v", err)
	}
	if match == nil || match.ID != outbound.ID {
		t.Fatalf("Correlate() matched %+v, want %s", match, outbound.ID)
	}
	got := env.events.userEvents(domain.EventReplyReceived)
	if len(got) != 1 || got[0].UserID != "agent-7" {
		t.Errorf("reply_received events = %+v", got)
	}
	if env.events.broadcastCount(domain.EventReplyReceived) != 1 {
		t.Error("observer reply_received missing")
	}
	if len(env.push.users) != 1 || env.push.users[0] != "agent-7" {
		t.Errorf("push users = %v", env.push.users)
	}
}

func TestCorrelateContainment(t *testing.T) {
	env := newTestEnv(t)
	seedOutbound(t, env, "Wedding shoot quote", "agent-1", time.Now())

	c := NewReplyCorrelator(env.messages, env.events, env.push, 20)
	match, err := c.Correlate(context.Background(), &domain.LeadMessage{LeadID: "lead-1", Subject: "RE: quote"}, &domain.Lead{ID: "lead-1"})
	if err != nil || match == nil {
		t.Fatalf("Correlate() = %v, %v", match, err)
	}
}

func TestCorrelateNoMatch(t *testing.T) {
	env := newTestEnv(t)
	seedOutbound(t, env, "Invoice", "agent-1", time.Now())

	c := NewReplyCorrelator(env.messages, env.events, env.push, 20)
	for _, subject := range []string{"Booking", "Re:", ""} {
		match, err := c.Correlate(context.Background(), &domain.LeadMessage{LeadID: "lead-1", Subject: subject}, &domain.Lead{ID: "lead-1"})
		if err != nil || match != nil {
			t.Errorf("Correlate(%q) = %v, %v; want no match", subject, match, err)
		}
	}
	if len(env.push.users) != 0 {
		t.Errorf("unexpected push %v", env.push.users)
	}
}
