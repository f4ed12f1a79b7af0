package gmail

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"agency-crm-backend/internal/mailsync/domain"
	"agency-crm-backend/pkg/mimetree"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"google.golang.org/api/gmail/v1"
)

const user = "me"

// AccountClient implements domain.MailProvider for one mailbox.
type AccountClient struct {
	srv        *gmail.Service
	accountKey string
	topicName  string
	cb         *gobreaker.CircuitBreaker
}

func newAccountClient(srv *gmail.Service, accountKey, topicName string) *AccountClient {
	return &AccountClient{
		srv:        srv,
		accountKey: accountKey,
		topicName:  topicName,
		cb:         newBreaker(accountKey),
	}
}

func (c *AccountClient) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := c.cb.Execute(fn)
	if err != nil {
		return nil, classify(op, err)
	}
	return result, nil
}

// Watch creates or renews the push subscription on the INBOX label. A renewal
// replaces the existing subscription in place, so a failed call leaves it running.
func (c *AccountClient) Watch(ctx context.Context) (*domain.WatchResult, error) {
	req := &gmail.WatchRequest{
		TopicName: c.topicName,
		LabelIds:  []string{"INBOX"},
	}
	res, err := c.execute("watch", func() (interface{}, error) {
		return c.srv.Users.Watch(user, req).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	resp := res.(*gmail.WatchResponse)

	log.Info().Str("account", c.accountKey).Uint64("history_id", resp.HistoryId).Int64("expiration", resp.Expiration).Msg("[Gmail] watch started")
	return &domain.WatchResult{
		HistoryID:  strconv.FormatUint(resp.HistoryId, 10),
		Expiration: time.UnixMilli(resp.Expiration),
	}, nil
}

// StopWatch cancels the push subscription. A missing subscription is not an error.
func (c *AccountClient) StopWatch(ctx context.Context) error {
	_, err := c.execute("stop", func() (interface{}, error) {
		return nil, c.srv.Users.Stop(user).Context(ctx).Do()
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (c *AccountClient) ListHistory(ctx context.Context, startCursor, pageToken string, pageSize int) (*domain.HistoryPage, error) {
	start, err := strconv.ParseUint(startCursor, 10, 64)
	if err != nil {
		return nil, domain.NewProviderError(domain.ErrCursorExpired, "history.list", fmt.Errorf("invalid cursor %q", startCursor))
	}

	res, err := c.execute("history.list", func() (interface{}, error) {
		call := c.srv.Users.History.List(user).
			StartHistoryId(start).
			HistoryTypes("messageAdded").
			MaxResults(int64(pageSize)).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		return call.Do()
	})
	if err != nil {
		if isNotFound(err) {
			return nil, domain.NewProviderError(domain.ErrCursorExpired, "history.list", err)
		}
		return nil, err
	}
	resp := res.(*gmail.ListHistoryResponse)

	page := &domain.HistoryPage{
		NextPageToken: resp.NextPageToken,
		HistoryID:     strconv.FormatUint(resp.HistoryId, 10),
	}
	for _, h := range resp.History {
		rec := domain.HistoryRecord{ID: strconv.FormatUint(h.Id, 10)}
		for _, added := range h.MessagesAdded {
			if added.Message != nil && added.Message.Id != "" {
				rec.MessageIDs = append(rec.MessageIDs, added.Message.Id)
			}
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// GetMessage fetches the full content tree. Messages whose full payload comes
// back without a body are re-fetched in raw form and parsed locally.
func (c *AccountClient) GetMessage(ctx context.Context, messageID string) (*domain.ProviderMessage, error) {
	res, err := c.execute("messages.get", func() (interface{}, error) {
		return c.srv.Users.Messages.Get(user, messageID).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	msg := res.(*gmail.Message)

	out := &domain.ProviderMessage{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		LabelIDs:     msg.LabelIds,
		InternalDate: time.UnixMilli(msg.InternalDate),
		Payload:      convertPart(msg.Payload),
	}
	if hasContent(out.Payload) {
		return out, nil
	}

	raw, err := c.getRaw(ctx, messageID)
	if err != nil {
		return nil, err
	}
	tree, err := mimetree.Parse(raw)
	if err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("[Gmail] raw fallback parse failed")
		return out, nil
	}
	out.Payload = tree
	return out, nil
}

func (c *AccountClient) getRaw(ctx context.Context, messageID string) ([]byte, error) {
	res, err := c.execute("messages.get.raw", func() (interface{}, error) {
		return c.srv.Users.Messages.Get(user, messageID).Format("raw").Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	data, err := decodeBase64URL(res.(*gmail.Message).Raw)
	if err != nil {
		return nil, fmt.Errorf("unable to decode raw message: %v", err)
	}
	return data, nil
}

func (c *AccountClient) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	res, err := c.execute("attachments.get", func() (interface{}, error) {
		return c.srv.Users.Messages.Attachments.Get(user, messageID, attachmentID).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	data, err := decodeBase64URL(res.(*gmail.MessagePartBody).Data)
	if err != nil {
		return nil, fmt.Errorf("unable to decode attachment data: %v", err)
	}
	return data, nil
}

func (c *AccountClient) ListMessages(ctx context.Context, query, pageToken string, pageSize int) (*domain.MessagePage, error) {
	res, err := c.execute("messages.list", func() (interface{}, error) {
		call := c.srv.Users.Messages.List(user).Q(query).MaxResults(int64(pageSize)).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		return call.Do()
	})
	if err != nil {
		return nil, err
	}
	resp := res.(*gmail.ListMessagesResponse)

	page := &domain.MessagePage{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		page.MessageIDs = append(page.MessageIDs, m.Id)
	}
	return page, nil
}
