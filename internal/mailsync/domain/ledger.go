package domain

import "time"

// LedgerEntry records that an external message id was ingested for an account.
type LedgerEntry struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	AccountKey        string    `json:"account_key" gorm:"uniqueIndex:idx_ledger_account_message,priority:1;not null"`
	ExternalMessageID string    `json:"external_message_id" gorm:"uniqueIndex:idx_ledger_account_message,priority:2;not null"`
	ProcessedAt       time.Time `json:"processed_at" gorm:"index"`
}

func (LedgerEntry) TableName() string {
	return "mail_processed_messages"
}
