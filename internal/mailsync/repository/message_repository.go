package repository

import (
	"errors"
	"time"

	"agency-crm-backend/internal/mailsync/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRepository interface {
	// CreateInbound inserts the message unless (account_key, external_message_id)
	// already exists. created is false on conflict.
	CreateInbound(msg *domain.LeadMessage) (created bool, err error)
	Create(msg *domain.LeadMessage) error
	FindByExternalID(accountKey, externalID string) (*domain.LeadMessage, error)
	RecentOutbound(leadID string, limit int) ([]domain.LeadMessage, error)
	CountByAccount(accountKey string) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) prepare(msg *domain.LeadMessage) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Attachments == nil {
		msg.Attachments = domain.MessageAssets{}
	}
}

func (r *messageRepository) CreateInbound(msg *domain.LeadMessage) (bool, error) {
	r.prepare(msg)
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_key"}, {Name: "external_message_id"}},
		DoNothing: true,
	}).Create(msg)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *messageRepository) Create(msg *domain.LeadMessage) error {
	r.prepare(msg)
	return r.db.Create(msg).Error
}

func (r *messageRepository) FindByExternalID(accountKey, externalID string) (*domain.LeadMessage, error) {
	var msg domain.LeadMessage
	err := r.db.Where("account_key = ? AND external_message_id = ?", accountKey, externalID).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// RecentOutbound returns the lead's latest outbound messages, newest first.
func (r *messageRepository) RecentOutbound(leadID string, limit int) ([]domain.LeadMessage, error) {
	var msgs []domain.LeadMessage
	err := r.db.Where("lead_id = ? AND type = ?", leadID, domain.MessageTypeOutbound).
		Order("sent_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepository) CountByAccount(accountKey string) (int64, error) {
	var n int64
	err := r.db.Model(&domain.LeadMessage{}).
		Where("account_key = ? AND type = ?", accountKey, domain.MessageTypeInbound).
		Count(&n).Error
	return n, err
}
