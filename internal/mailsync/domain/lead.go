package domain

import "time"

// Lead is the CRM entity an inbound message is matched to by sender address.
type Lead struct {
	ID                  string     `json:"id" gorm:"primaryKey"`
	OwnerID             string     `json:"owner_id" gorm:"index"`
	Name                string     `json:"name"`
	Email               string     `json:"email" gorm:"index"`
	LastActivityAt      *time.Time `json:"last_activity_at"`
	LastActivityPreview string     `json:"last_activity_preview"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (Lead) TableName() string {
	return "leads"
}

const ActivityEmailReceived = "email_received"

// LeadActivity is one entry on a lead's timeline.
type LeadActivity struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	LeadID    string    `json:"lead_id" gorm:"index;not null"`
	Kind      string    `json:"kind"`
	Preview   string    `json:"preview"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (LeadActivity) TableName() string {
	return "lead_activities"
}
