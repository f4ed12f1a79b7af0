package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

const (
	MessageTypeInbound  = "email_inbound"
	MessageTypeOutbound = "email_outbound"

	MessageStatusReceived = "received"
	MessageStatusSent     = "sent"
)

const (
	AssetEmbedded   = "embedded"
	AssetAttachment = "attachment"
)

// MessageAsset is an embedded image re-hosted in blob storage, or the
// metadata of a regular attachment (no URL).
type MessageAsset struct {
	Kind               string `json:"kind"`
	ContentID          string `json:"content_id,omitempty"`
	URL                string `json:"url,omitempty"`
	MimeType           string `json:"mime_type"`
	SizeBytes          int64  `json:"size_bytes"`
	SourceAttachmentID string `json:"source_attachment_id,omitempty"`
	Filename           string `json:"filename,omitempty"`
}

// MessageAssets is stored as a JSON array column.
type MessageAssets []MessageAsset

func (a MessageAssets) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *MessageAssets) Scan(value interface{}) error {
	if value == nil {
		*a = MessageAssets{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	if len(bytes) == 0 {
		*a = MessageAssets{}
		return nil
	}
	return json.Unmarshal(bytes, a)
}

// Embedded returns only the re-hosted inline images.
func (a MessageAssets) Embedded() []MessageAsset {
	var out []MessageAsset
	for _, asset := range a {
		if asset.Kind == AssetEmbedded {
			out = append(out, asset)
		}
	}
	return out
}

// LeadMessage is an email exchanged with a lead. Inbound rows are written once
// by the sync pipeline; RecipientEmail holds the sender address for inbound mail.
type LeadMessage struct {
	ID                string        `json:"id" gorm:"primaryKey"`
	LeadID            string        `json:"lead_id" gorm:"index;not null"`
	Type              string        `json:"type" gorm:"index;not null"`
	Subject           string        `json:"subject"`
	Content           string        `json:"content" gorm:"type:text"`
	EmailBody         *string       `json:"email_body" gorm:"type:text"`
	RecipientEmail    string        `json:"recipient_email" gorm:"index"`
	Status            string        `json:"status"`
	ExternalMessageID *string       `json:"external_message_id" gorm:"uniqueIndex:idx_lead_messages_account_external,priority:2"`
	AccountKey        string        `json:"account_key" gorm:"uniqueIndex:idx_lead_messages_account_external,priority:1"`
	Attachments       MessageAssets `json:"attachments" gorm:"type:text"`
	SentBy            *string       `json:"sent_by" gorm:"index"`
	SentAt            time.Time     `json:"sent_at" gorm:"index"`
	CreatedAt         time.Time     `json:"created_at"`
	ReadStatus        bool          `json:"read_status" gorm:"default:false"`
}

func (LeadMessage) TableName() string {
	return "lead_messages"
}
