package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WindowKey identifies one usage window row.
type WindowKey struct {
	UserID uint
	Action string
	Period string
	Start  time.Time
}

// Repository provides DB operations used by the quota tracker.
type Repository interface {
	// FetchOrCreate returns the window, inserting it with a zero count when
	// missing. Concurrent callers observe the same row.
	FetchOrCreate(ctx context.Context, key WindowKey, end time.Time) (*models.UsageWindow, error)
	// WithLockedWindow runs fn while holding a row lock on the window,
	// creating it first when missing. The count fn leaves behind is stored
	// when fn returns nil.
	WithLockedWindow(ctx context.Context, key WindowKey, end time.Time, fn func(w *models.UsageWindow) error) error
	// Find returns the window or nil when it does not exist.
	Find(ctx context.Context, key WindowKey) (*models.UsageWindow, error)
	PurgeEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a usage repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func keyQuery(db *gorm.DB, key WindowKey) *gorm.DB {
	return db.Where("user_id = ? AND action = ? AND period = ? AND period_start = ?",
		key.UserID, key.Action, key.Period, key.Start)
}

// ensure inserts the window unless the unique key already exists.
func ensure(db *gorm.DB, key WindowKey, end time.Time) error {
	w := models.UsageWindow{
		UserID:      key.UserID,
		Action:      key.Action,
		Period:      key.Period,
		PeriodStart: key.Start,
		PeriodEnd:   end,
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&w).Error
}

func (r *gormRepository) FetchOrCreate(ctx context.Context, key WindowKey, end time.Time) (*models.UsageWindow, error) {
	db := r.db.WithContext(ctx)
	if err := ensure(db, key, end); err != nil {
		return nil, err
	}
	var w models.UsageWindow
	if err := keyQuery(db, key).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// maxLockAttempts bounds retries after InnoDB reports a deadlock or lock wait timeout.
const maxLockAttempts = 3

func (r *gormRepository) WithLockedWindow(ctx context.Context, key WindowKey, end time.Time, fn func(w *models.UsageWindow) error) error {
	// Insert outside the locking transaction so the locked section only
	// touches an existing row and takes no gap locks.
	if err := ensure(r.db.WithContext(ctx), key, end); err != nil {
		return err
	}
	var err error
	for attempt := 1; attempt <= maxLockAttempts; attempt++ {
		err = r.lockedUpdate(ctx, key, fn)
		if !isLockContention(err) {
			return err
		}
	}
	return err
}

func isLockContention(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	return false
}

func (r *gormRepository) lockedUpdate(ctx context.Context, key WindowKey, fn func(w *models.UsageWindow) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w models.UsageWindow
		if err := keyQuery(tx.Clauses(clause.Locking{Strength: "UPDATE"}), key).First(&w).Error; err != nil {
			return err
		}
		before := w.Count
		if err := fn(&w); err != nil {
			return err
		}
		if w.Count == before {
			return nil
		}
		return tx.Model(&models.UsageWindow{}).Where("id = ?", w.ID).Update("count", w.Count).Error
	})
}

func (r *gormRepository) Find(ctx context.Context, key WindowKey) (*models.UsageWindow, error) {
	var w models.UsageWindow
	err := keyQuery(r.db.WithContext(ctx), key).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *gormRepository) PurgeEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Where("period_end < ?", cutoff).Delete(&models.UsageWindow{})
	return tx.RowsAffected, tx.Error
}
