package gmail

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Service builds per-account Gmail clients from the shared OAuth app credentials.
type Service struct {
	clientID     string
	clientSecret string
	topicName    string
}

type notifyTokenSource struct {
	src     oauth2.TokenSource
	current *oauth2.Token
	account string
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.current == nil || s.current.AccessToken != t.AccessToken {
		s.current = t
		log.Debug().Str("account", s.account).Time("expiry", t.Expiry).Msg("[Gmail] access token refreshed")
	}
	return t, nil
}

func NewService(clientID, clientSecret, topicName string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		topicName:    topicName,
	}
}

// ForAccount creates a client bound to one mailbox. Each client carries its own
// circuit breaker so a failing mailbox does not trip the other accounts.
func (s *Service) ForAccount(ctx context.Context, accountKey, refreshToken string) (*AccountClient, error) {
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		// Force a refresh on first use.
		Expiry: time.Now(),
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}

	wrapped := &notifyTokenSource{
		src:     config.TokenSource(ctx, token),
		account: accountKey,
	}
	client := oauth2.NewClient(ctx, wrapped)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v", err)
	}

	return newAccountClient(srv, accountKey, s.topicName), nil
}

func newBreaker(accountKey string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-" + accountKey,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// Client errors say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CircuitBreaker] state changed")
		},
	})
}
