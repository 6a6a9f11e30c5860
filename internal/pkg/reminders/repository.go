package reminders

import (
	"context"
	"time"

	"github.com/ManuelReschke/Taskly/app/models"
	"gorm.io/gorm"
)

// Repository provides DB operations used by the scheduler.
type Repository interface {
	Create(ctx context.Context, reminders []models.Reminder) error
	// Replace deletes the owner's unsent reminders and inserts the new set
	// in one transaction.
	Replace(ctx context.Context, kind string, ownerID uint, reminders []models.Reminder) error
	DeleteForOwner(ctx context.Context, kind string, ownerID uint) (int64, error)
	ListForOwner(ctx context.Context, kind string, ownerID uint) ([]models.Reminder, error)
	// ListDue returns unsent reminders scheduled at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)
	// Claim marks the reminder sent if it still is unsent and reports whether
	// this caller made the change.
	Claim(ctx context.Context, id uint, now time.Time) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a reminder repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, reminders []models.Reminder) error {
	if len(reminders) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&reminders).Error
}

func (r *gormRepository) Replace(ctx context.Context, kind string, ownerID uint, reminders []models.Reminder) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_kind = ? AND owner_id = ? AND sent = ?", kind, ownerID, false).
			Delete(&models.Reminder{}).Error; err != nil {
			return err
		}
		if len(reminders) == 0 {
			return nil
		}
		return tx.Create(&reminders).Error
	})
}

func (r *gormRepository) DeleteForOwner(ctx context.Context, kind string, ownerID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ?", kind, ownerID).
		Delete(&models.Reminder{})
	return res.RowsAffected, res.Error
}

func (r *gormRepository) ListForOwner(ctx context.Context, kind string, ownerID uint) ([]models.Reminder, error) {
	var out []models.Reminder
	err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ?", kind, ownerID).
		Order("scheduled_time ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	var out []models.Reminder
	q := r.db.WithContext(ctx).
		Where("sent = ? AND scheduled_time <= ?", false, now).
		Order("scheduled_time ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *gormRepository) Claim(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Reminder{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]interface{}{"sent": true, "sent_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
