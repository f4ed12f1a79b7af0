package repository

import (
	"errors"
	"time"

	"agency-crm-backend/internal/mailsync/domain"

	"gorm.io/gorm"
)

// WatchStateRepository persists per-account subscription and cursor state.
type WatchStateRepository interface {
	Get(accountKey string) (*domain.WatchState, error)
	List() ([]domain.WatchState, error)
	Save(state *domain.WatchState) error
	Ensure(accountKey, emailAddress string) (*domain.WatchState, error)
	UpdateWatch(accountKey string, expiration *time.Time, active bool) error
	AdvanceCursor(accountKey, cursor string, completedAt *time.Time) error
	RecordError(accountKey, emailAddress, message string) error
	Deactivate(accountKey, message string) error
	TouchNotification(accountKey string, at time.Time) error
}

type watchStateRepository struct {
	db *gorm.DB
}

func NewWatchStateRepository(db *gorm.DB) WatchStateRepository {
	return &watchStateRepository{db: db}
}

func (r *watchStateRepository) Get(accountKey string) (*domain.WatchState, error) {
	var state domain.WatchState
	err := r.db.Where("account_key = ?", accountKey).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

func (r *watchStateRepository) List() ([]domain.WatchState, error) {
	var states []domain.WatchState
	if err := r.db.Order("account_key ASC").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

// Save inserts or fully updates the row keyed by AccountKey.
func (r *watchStateRepository) Save(state *domain.WatchState) error {
	state.UpdatedAt = time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}
	return r.db.Save(state).Error
}

// Ensure returns the account's row, creating an inactive one if missing.
func (r *watchStateRepository) Ensure(accountKey, emailAddress string) (*domain.WatchState, error) {
	now := time.Now()
	state := domain.WatchState{AccountKey: accountKey, EmailAddress: emailAddress, CreatedAt: now, UpdatedAt: now}
	if err := r.db.Where("account_key = ?", accountKey).FirstOrCreate(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

// UpdateWatch stores the subscription expiry and active flag, leaving the cursor alone.
// UpdateWatch stores the subscription expiry. Activating also clears the last error.
func (r *watchStateRepository) UpdateWatch(accountKey string, expiration *time.Time, active bool) error {
	updates := map[string]interface{}{
		"watch_expiration": expiration,
		"is_active":        active,
		"updated_at":       time.Now(),
	}
	if active {
		updates["last_error"] = ""
	}
	return r.db.Model(&domain.WatchState{}).
		Where("account_key = ?", accountKey).
		Updates(updates).Error
}

// AdvanceCursor stores the history cursor. completedAt is written only when non-nil.
func (r *watchStateRepository) AdvanceCursor(accountKey, cursor string, completedAt *time.Time) error {
	updates := map[string]interface{}{
		"history_id": cursor,
		"updated_at": time.Now(),
	}
	if completedAt != nil {
		updates["last_sync_completed"] = *completedAt
	}
	return r.db.Model(&domain.WatchState{}).
		Where("account_key = ?", accountKey).
		Updates(updates).Error
}

// RecordError increments error_count and stores the message, creating the row if needed.
func (r *watchStateRepository) RecordError(accountKey, emailAddress, message string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		state := domain.WatchState{AccountKey: accountKey, EmailAddress: emailAddress}
		if err := tx.Where("account_key = ?", accountKey).FirstOrCreate(&state).Error; err != nil {
			return err
		}
		return tx.Model(&domain.WatchState{}).
			Where("account_key = ?", accountKey).
			Updates(map[string]interface{}{
				"error_count": gorm.Expr("error_count + 1"),
				"last_error":  message,
				"updated_at":  time.Now(),
			}).Error
	})
}

// Deactivate marks the account inactive until it is re-authorized out of band.
func (r *watchStateRepository) Deactivate(accountKey, message string) error {
	return r.db.Model(&domain.WatchState{}).
		Where("account_key = ?", accountKey).
		Updates(map[string]interface{}{
			"is_active":   false,
			"error_count": gorm.Expr("error_count + 1"),
			"last_error":  message,
			"updated_at":  time.Now(),
		}).Error
}

func (r *watchStateRepository) TouchNotification(accountKey string, at time.Time) error {
	return r.db.Model(&domain.WatchState{}).
		Where("account_key = ?", accountKey).
		Updates(map[string]interface{}{
			"last_notification_received": at,
			"updated_at":                 time.Now(),
		}).Error
}
