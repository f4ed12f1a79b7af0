package domain

import "time"

// WatchState tracks the provider subscription and change cursor of one mailbox account.
// Rows are never deleted, only deactivated.
type WatchState struct {
	AccountKey               string     `json:"account_key" gorm:"primaryKey"`
	EmailAddress             string     `json:"email_address" gorm:"index;not null"`
	HistoryID                string     `json:"history_id"`
	WatchExpiration          *time.Time `json:"watch_expiration"`
	IsActive                 bool       `json:"is_active" gorm:"default:false"`
	ErrorCount               int        `json:"error_count" gorm:"default:0"`
	LastError                string     `json:"last_error"`
	LastNotificationReceived *time.Time `json:"last_notification_received"`
	LastSyncCompleted        *time.Time `json:"last_sync_completed"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

func (WatchState) TableName() string {
	return "mail_watch_states"
}

type WatchPhase string

const (
	WatchInactive     WatchPhase = "inactive"
	WatchActive       WatchPhase = "active"
	WatchExpiringSoon WatchPhase = "expiring_soon"
	WatchRenewing     WatchPhase = "renewing"
	WatchError        WatchPhase = "error"
)

// Phase derives the lifecycle phase from the persisted fields. LastError is
// cleared by every successful watch, so a non-empty one means the last
// watch call or sync pass failed.
func (w *WatchState) Phase(now time.Time, renewThreshold time.Duration) WatchPhase {
	if w == nil {
		return WatchInactive
	}
	if w.LastError != "" {
		return WatchError
	}
	if !w.IsActive {
		return WatchInactive
	}
	if w.ExpiresWithin(now, renewThreshold) {
		return WatchExpiringSoon
	}
	return WatchActive
}

// ExpiresWithin reports whether an active subscription lapses before now+d.
func (w *WatchState) ExpiresWithin(now time.Time, d time.Duration) bool {
	return w != nil && w.IsActive && w.WatchExpiration != nil && w.WatchExpiration.Sub(now) < d
}
