package usecase

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"agency-crm-backend/internal/mailsync/domain"

	"github.com/rs/zerolog/log"
)

// PushEnvelope is the body of a Pub/Sub push delivery.
type PushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// MailboxNotification is the decoded payload published by the provider.
type MailboxNotification struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    cursorValue `json:"historyId"`
}

// cursorValue accepts the history id as a JSON number or string.
type cursorValue string

func (c *cursorValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = cursorValue(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = cursorValue(n.String())
	return nil
}

// NotificationReceiver validates push deliveries and hands the new cursor to
// the account's history sync.
type NotificationReceiver struct {
	secret   string
	resolver AccountResolver
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewNotificationReceiver(secret string, resolver AccountResolver) *NotificationReceiver {
	return &NotificationReceiver{secret: secret, resolver: resolver, now: time.Now}
}

// Authorize compares token with the configured secret in constant time.
func (r *NotificationReceiver) Authorize(token string) error {
	if r.secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(r.secret)) != 1 {
		return domain.ErrInvalidToken
	}
	return nil
}

// DecodeEnvelope extracts the notification from a push body. Malformed input
// yields nil.
func DecodeEnvelope(body []byte) *MailboxNotification {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Warn().Err(err).Msg("[Receiver] malformed push envelope")
		return nil
	}
	if env.Message.Data == "" {
		log.Warn().Msg("[Receiver] push envelope without data")
		return nil
	}
	data, err := decodeBase64(env.Message.Data)
	if err != nil {
		log.Warn().Err(err).Msg("[Receiver] undecodable push data")
		return nil
	}
	return DecodePayload(data)
}

// DecodePayload parses the JSON notification payload. Malformed input yields nil.
func DecodePayload(data []byte) *MailboxNotification {
	var n MailboxNotification
	if err := json.Unmarshal(data, &n); err != nil {
		log.Warn().Err(err).Msg("[Receiver] malformed notification payload")
		return nil
	}
	n.EmailAddress = strings.ToLower(strings.TrimSpace(n.EmailAddress))
	return &n
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		var out []byte
		if out, err = enc.DecodeString(s); err == nil {
			return out, nil
		}
	}
	return nil, err
}

// Receive authorizes and handles a webhook delivery synchronously.
func (r *NotificationReceiver) Receive(ctx context.Context, token, accountHint string, body []byte) error {
	if err := r.Authorize(token); err != nil {
		log.Warn().Msg("[Receiver] rejected push with invalid token")
		return err
	}
	r.handle(ctx, accountHint, DecodeEnvelope(body))
	return nil
}

// Dispatch authorizes the delivery and runs the sync in the background so the
// caller can acknowledge immediately.
func (r *NotificationReceiver) Dispatch(ctx context.Context, token, accountHint string, body []byte) error {
	if err := r.Authorize(token); err != nil {
		log.Warn().Msg("[Receiver] rejected push with invalid token")
		return err
	}
	n := DecodeEnvelope(body)
	if n == nil || n.HistoryID == "" {
		r.handle(ctx, accountHint, n)
		return nil
	}

	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.handle(detached, accountHint, n)
	}()
	return nil
}

// HandlePayload handles an already decoded Pub/Sub message body.
func (r *NotificationReceiver) HandlePayload(ctx context.Context, data []byte) {
	r.handle(ctx, "", DecodePayload(data))
}

func (r *NotificationReceiver) handle(ctx context.Context, accountHint string, n *MailboxNotification) {
	if n == nil {
		return
	}
	target, ok := r.resolver.Resolve(accountHint, n.EmailAddress)
	if !ok {
		log.Warn().Str("account", accountHint).Str("email", n.EmailAddress).Msg("[Receiver] notification for unknown account")
		return
	}
	target.RecordNotification(r.now())

	if n.HistoryID == "" {
		log.Debug().Str("account", target.AccountKey()).Msg("[Receiver] notification without cursor, nothing to do")
		return
	}

	report, err := target.Sync(ctx, string(n.HistoryID))
	if err != nil {
		log.Error().Err(err).Str("account", target.AccountKey()).Str("cursor", string(n.HistoryID)).Msg("[Receiver] history sync failed")
		return
	}
	log.Debug().Str("account", target.AccountKey()).Str("cursor", report.Cursor).Int("events", report.Events).Msg("[Receiver] notification handled")
}

// Wait blocks until background dispatches finish.
func (r *NotificationReceiver) Wait() {
	r.wg.Wait()
}
