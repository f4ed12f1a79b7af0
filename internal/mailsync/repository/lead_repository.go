package repository

import (
	"errors"
	"strings"
	"time"

	"agency-crm-backend/internal/mailsync/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LeadRepository interface {
	FindByEmail(address string) (*domain.Lead, error)
	FindByID(id string) (*domain.Lead, error)
	Create(lead *domain.Lead) error
	AppendActivity(activity *domain.LeadActivity) error
	ListActivities(leadID string) ([]domain.LeadActivity, error)
}

type leadRepository struct {
	db *gorm.DB
}

func NewLeadRepository(db *gorm.DB) LeadRepository {
	return &leadRepository{db: db}
}

// FindByEmail matches case-insensitively on the exact address first, then
// falls back to a substring match. Returns nil when nothing matches.
func (r *leadRepository) FindByEmail(address string) (*domain.Lead, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, nil
	}

	var lead domain.Lead
	err := r.db.Where("LOWER(email) = ?", address).Order("created_at ASC").First(&lead).Error
	if err == nil {
		return &lead, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = r.db.Where(`LOWER(email) LIKE ? ESCAPE '\'`, "%"+escapeLike(address)+"%").Order("created_at ASC").First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lead, nil
}

func (r *leadRepository) FindByID(id string) (*domain.Lead, error) {
	var lead domain.Lead
	if err := r.db.Where("id = ?", id).First(&lead).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lead, nil
}

func (r *leadRepository) Create(lead *domain.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	return r.db.Create(lead).Error
}

// AppendActivity adds a timeline entry and bumps the lead's last activity in one transaction.
func (r *leadRepository) AppendActivity(activity *domain.LeadActivity) error {
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(activity).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Lead{}).
			Where("id = ?", activity.LeadID).
			Updates(map[string]interface{}{
				"last_activity_at":      activity.CreatedAt,
				"last_activity_preview": activity.Preview,
				"updated_at":            time.Now(),
			}).Error
	})
}

func (r *leadRepository) ListActivities(leadID string) ([]domain.LeadActivity, error) {
	var activities []domain.LeadActivity
	err := r.db.Where("lead_id = ?", leadID).Order("created_at ASC").Find(&activities).Error
	return activities, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`%`, `\%`, `_`, `\_`).Replace(s)
}
