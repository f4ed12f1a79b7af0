package repository

import (
	"time"

	"agency-crm-backend/internal/mailsync/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository is the durable half of the idempotency ledger.
type LedgerRepository interface {
	Insert(accountKey, externalMessageID string, processedAt time.Time) (inserted bool, err error)
	Exists(accountKey, externalMessageID string) (bool, error)
	LoadAccount(accountKey string) ([]domain.LedgerEntry, error)
	DeleteOlderThan(accountKey string, cutoff time.Time) (int64, error)
	DeleteMessages(accountKey string, externalMessageIDs []string) error
}

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Insert(accountKey, externalMessageID string, processedAt time.Time) (bool, error) {
	entry := &domain.LedgerEntry{
		ID:                uuid.New().String(),
		AccountKey:        accountKey,
		ExternalMessageID: externalMessageID,
		ProcessedAt:       processedAt,
	}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_key"}, {Name: "external_message_id"}},
		DoNothing: true,
	}).Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *ledgerRepository) Exists(accountKey, externalMessageID string) (bool, error) {
	var n int64
	err := r.db.Model(&domain.LedgerEntry{}).
		Where("account_key = ? AND external_message_id = ?", accountKey, externalMessageID).
		Count(&n).Error
	return n > 0, err
}

// LoadAccount returns the account's entries, oldest first.
func (r *ledgerRepository) LoadAccount(accountKey string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := r.db.Where("account_key = ?", accountKey).Order("processed_at ASC").Find(&entries).Error
	return entries, err
}

func (r *ledgerRepository) DeleteOlderThan(accountKey string, cutoff time.Time) (int64, error) {
	result := r.db.Where("account_key = ? AND processed_at < ?", accountKey, cutoff).Delete(&domain.LedgerEntry{})
	return result.RowsAffected, result.Error
}

func (r *ledgerRepository) DeleteMessages(accountKey string, externalMessageIDs []string) error {
	if len(externalMessageIDs) == 0 {
		return nil
	}
	return r.db.Where("account_key = ? AND external_message_id IN ?", accountKey, externalMessageIDs).
		Delete(&domain.LedgerEntry{}).Error
}
