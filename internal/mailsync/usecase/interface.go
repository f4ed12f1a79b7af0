package usecase

import (
	"context"
	"time"

	"agency-crm-backend/internal/mailsync/domain"
)

// AttachmentFetcher loads attachment bodies that were not inlined in the message.
type AttachmentFetcher interface {
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// MessageHandler ingests one message by its external id.
type MessageHandler interface {
	Process(ctx context.Context, messageID string) domain.ProcessResult
}

// PushNotifier delivers a device push notification to a CRM user.
type PushNotifier interface {
	NotifyUser(ctx context.Context, userID, title, body string, data map[string]string)
}

// IndexQueue accepts search indexing jobs without blocking.
type IndexQueue interface {
	QueueJob(job IndexJob) bool
}

// VectorIndex stores and searches message embeddings.
type VectorIndex interface {
	UpsertMessage(ctx context.Context, doc IndexDocument) error
	Search(ctx context.Context, ownerID, query string, limit int) ([]string, []float64, error)
}

// SyncTarget is the per-account entry point used by notification intake.
type SyncTarget interface {
	AccountKey() string
	RecordNotification(at time.Time)
	Sync(ctx context.Context, newCursor string) (*SyncReport, error)
}

// AccountResolver maps a notification to its account pipeline.
type AccountResolver interface {
	Resolve(accountHint, emailAddress string) (SyncTarget, bool)
}
