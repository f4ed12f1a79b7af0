package repository

import (
	"agency-crm-backend/internal/mailsync/domain"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates the tables owned by the sync pipeline.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.WatchState{},
		&domain.LedgerEntry{},
		&domain.Lead{},
		&domain.LeadActivity{},
		&domain.LeadMessage{},
		&domain.MessageIndexHistory{},
	)
}
