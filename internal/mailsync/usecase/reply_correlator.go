package usecase

import (
	"context"
	"strings"

	"agency-crm-backend/internal/mailsync/domain"
	"agency-crm-backend/internal/mailsync/repository"
	"agency-crm-backend/pkg/mailtext"

	"github.com/rs/zerolog/log"
)

// ReplyCorrelator matches an inbound message to the outbound message it most
// likely answers and notifies whoever sent that one.
type ReplyCorrelator struct {
	messages repository.MessageRepository
	events   domain.EventPublisher
	push     PushNotifier
	window   int
}

func NewReplyCorrelator(messages repository.MessageRepository, events domain.EventPublisher, push PushNotifier, window int) *ReplyCorrelator {
	if window <= 0 {
		window = 20
	}
	return &ReplyCorrelator{messages: messages, events: events, push: push, window: window}
}

// Correlate returns the matched outbound message, or nil when nothing matches.
func (c *ReplyCorrelator) Correlate(ctx context.Context, inbound *domain.LeadMessage, lead *domain.Lead) (*domain.LeadMessage, error) {
	subject := mailtext.NormalizeSubject(inbound.Subject)
	if subject == "" {
		return nil, nil
	}

	candidates, err := c.messages.RecentOutbound(inbound.LeadID, c.window)
	if err != nil {
		return nil, err
	}

	var match *domain.LeadMessage
	for i := range candidates {
		candidate := mailtext.NormalizeSubject(candidates[i].Subject)
		if candidate == "" {
			continue
		}
		if candidate == subject || strings.Contains(candidate, subject) || strings.Contains(subject, candidate) {
			match = &candidates[i]
			break
		}
	}
	if match == nil {
		return nil, nil
	}

	payload := map[string]interface{}{
		"lead_id":             inbound.LeadID,
		"lead_name":           lead.Name,
		"inbound_message_id":  inbound.ID,
		"outbound_message_id": match.ID,
		"subject":             inbound.Subject,
		"preview":             mailtext.Preview(inbound.Content, 150),
	}

	if match.SentBy != nil && *match.SentBy != "" {
		sender := *match.SentBy
		if c.events != nil {
			c.events.SendToUser(sender, domain.EventReplyReceived, payload)
		}
		if c.push != nil {
			title := "Reply from " + displayName(lead, inbound.RecipientEmail)
			c.push.NotifyUser(ctx, sender, title, inbound.Subject, map[string]string{
				"type":         domain.EventReplyReceived,
				"lead_id":      inbound.LeadID,
				"message_id":   inbound.ID,
				"click_action": "/leads/" + inbound.LeadID,
			})
		}
	}
	if c.events != nil {
		c.events.Broadcast(domain.EventReplyReceived, payload)
	}

	log.Info().Str("lead_id", inbound.LeadID).Str("outbound_id", match.ID).Msg("[ReplyCorrelator] reply matched")
	return match, nil
}

func displayName(lead *domain.Lead, fallback string) string {
	if lead != nil && lead.Name != "" {
		return lead.Name
	}
	return fallback
}
