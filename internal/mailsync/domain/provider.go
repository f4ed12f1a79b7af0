package domain

import (
	"context"
	"strings"
	"time"
)

// MailProvider is the per-account RPC surface of the mailbox provider.
type MailProvider interface {
	Watch(ctx context.Context) (*WatchResult, error)
	StopWatch(ctx context.Context) error
	ListHistory(ctx context.Context, startCursor, pageToken string, pageSize int) (*HistoryPage, error)
	GetMessage(ctx context.Context, messageID string) (*ProviderMessage, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	ListMessages(ctx context.Context, query, pageToken string, pageSize int) (*MessagePage, error)
}

type WatchResult struct {
	HistoryID  string
	Expiration time.Time
}

// HistoryRecord is one entry of the change stream with the ids of the
// messages it added.
type HistoryRecord struct {
	ID         string
	MessageIDs []string
}

type HistoryPage struct {
	Records       []HistoryRecord
	NextPageToken string
	HistoryID     string
}

type MessagePage struct {
	MessageIDs    []string
	NextPageToken string
}

type Header struct {
	Name  string
	Value string
}

// MessagePart is a node of a message's content tree. Data holds decoded bytes
// when the body is inline; otherwise AttachmentID references the body.
type MessagePart struct {
	PartID       string
	MimeType     string
	Filename     string
	Headers      []Header
	Data         []byte
	AttachmentID string
	Size         int64
	Parts        []*MessagePart
}

// Header returns the first header value matching name, case-insensitively.
func (p *MessagePart) Header(name string) string {
	if p == nil {
		return ""
	}
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

type ProviderMessage struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	InternalDate time.Time
	Payload      *MessagePart
}

func (m *ProviderMessage) Header(name string) string {
	if m == nil {
		return ""
	}
	return m.Payload.Header(name)
}
