package domain

import "time"

// MessageIndexHistory tracks which lead messages were pushed to the search index
// so repeated jobs do not hit Chroma/Gemini again.
type MessageIndexHistory struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	MessageID string    `json:"message_id" gorm:"uniqueIndex;not null"`
	LeadID    string    `json:"lead_id" gorm:"index"`
	IndexedAt time.Time `json:"indexed_at"`
}

func (MessageIndexHistory) TableName() string {
	return "message_index_history"
}
