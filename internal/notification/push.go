package notification

import (
	"context"

	authrepo "agency-crm-backend/internal/auth/repository"
	"agency-crm-backend/pkg/fcm"

	"github.com/rs/zerolog/log"
)

// Sender delivers one notification to a set of device tokens.
type Sender interface {
	SendToDevices(ctx context.Context, tokens []string, notification fcm.NotificationData) ([]string, error)
}

// PushService fans a notification out to every device a user registered.
type PushService struct {
	sender Sender
	tokens authrepo.FCMTokenRepository
}

func NewPushService(sender Sender, tokens authrepo.FCMTokenRepository) *PushService {
	return &PushService{sender: sender, tokens: tokens}
}

func (s *PushService) NotifyUser(ctx context.Context, userID, title, body string, data map[string]string) {
	if s == nil || s.sender == nil || userID == "" {
		return
	}

	tokens, err := s.tokens.GetTokensByUserID(userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("[FCM] unable to load device tokens")
		return
	}
	if len(tokens) == 0 {
		return
	}

	values := make([]string, len(tokens))
	for i, t := range tokens {
		values[i] = t.Token
	}

	stale, err := s.sender.SendToDevices(ctx, values, fcm.NotificationData{
		Title:       title,
		Body:        body,
		Data:        data,
		ClickAction: data["click_action"],
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("[FCM] push failed")
		return
	}
	if len(stale) > 0 {
		if err := s.tokens.DeleteTokens(stale); err != nil {
			log.Error().Err(err).Msg("[FCM] unable to delete stale tokens")
			return
		}
		log.Info().Str("user_id", userID).Int("removed", len(stale)).Msg("[FCM] removed stale device tokens")
	}
}
