package repository

import (
	"time"

	"agency-crm-backend/internal/mailsync/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IndexHistoryRepository tracks which lead messages reached the search index.
type IndexHistoryRepository interface {
	// EnsureIndexed marks the message as indexed and reports whether it already was.
	EnsureIndexed(messageID, leadID string) (wasIndexed bool, err error)
	Unmark(messageID string) error
}

type indexHistoryRepository struct {
	db *gorm.DB
}

func NewIndexHistoryRepository(db *gorm.DB) IndexHistoryRepository {
	return &indexHistoryRepository{db: db}
}

func (r *indexHistoryRepository) EnsureIndexed(messageID, leadID string) (bool, error) {
	history := &domain.MessageIndexHistory{
		ID:        uuid.New().String(),
		MessageID: messageID,
		LeadID:    leadID,
		IndexedAt: time.Now(),
	}

	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(history)
	if result.Error != nil {
		return false, result.Error
	}

	// RowsAffected is 0 when the row already existed.
	return result.RowsAffected == 0, nil
}

// Unmark drops the marker so a failed upsert is retried by the next job.
func (r *indexHistoryRepository) Unmark(messageID string) error {
	return r.db.Where("message_id = ?", messageID).Delete(&domain.MessageIndexHistory{}).Error
}
