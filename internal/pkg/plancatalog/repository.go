package plancatalog

import (
	"context"
	"errors"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"gorm.io/gorm"
)

// Repository provides DB operations used by the plan catalog.
type Repository interface {
	Transaction(ctx context.Context, fn func(tx Repository) error) error
	GetPlan(ctx context.Context, id uint) (*models.Plan, error)
	GetPlanByName(ctx context.Context, name string) (*models.Plan, error)
	FindPlanByMonthlyPriceID(ctx context.Context, priceID string) (*models.Plan, error)
	FindPlanByAnnualPriceID(ctx context.Context, priceID string) (*models.Plan, error)
	ListPlans(ctx context.Context, includeInactive bool) ([]models.Plan, error)
	CreatePlan(ctx context.Context, plan *models.Plan) error
	SavePlan(ctx context.Context, plan *models.Plan) error
	DeletePlan(ctx context.Context, id uint) error
	CountSubscriptions(ctx context.Context, planID uint) (int64, error)
	GetGlobalDiscount(ctx context.Context) (float64, bool, error)
	SetGlobalDiscount(ctx context.Context, percent float64) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a plan repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) first(ctx context.Context, what string, query interface{}, args ...interface{}) (*models.Plan, error) {
	var p models.Plan
	err := r.db.WithContext(ctx).Where(query, args...).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFoundf("plan %s", what)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetPlan(ctx context.Context, id uint) (*models.Plan, error) {
	return r.first(ctx, "by id", "id = ?", id)
}

func (r *gormRepository) GetPlanByName(ctx context.Context, name string) (*models.Plan, error) {
	return r.first(ctx, name, "name = ?", name)
}

func (r *gormRepository) FindPlanByMonthlyPriceID(ctx context.Context, priceID string) (*models.Plan, error) {
	return r.first(ctx, "for monthly price "+priceID, "provider_monthly_price_id = ?", priceID)
}

func (r *gormRepository) FindPlanByAnnualPriceID(ctx context.Context, priceID string) (*models.Plan, error) {
	return r.first(ctx, "for annual price "+priceID, "provider_annual_price_id = ?", priceID)
}

func (r *gormRepository) ListPlans(ctx context.Context, includeInactive bool) ([]models.Plan, error) {
	var plans []models.Plan
	q := r.db.WithContext(ctx).Order("monthly_price_cents ASC")
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&plans).Error
	return plans, err
}

func (r *gormRepository) CreatePlan(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *gormRepository) SavePlan(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}

func (r *gormRepository) DeletePlan(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Plan{}, id).Error
}

func (r *gormRepository) CountSubscriptions(ctx context.Context, planID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).Where("plan_id = ?", planID).Count(&n).Error
	return n, err
}

func (r *gormRepository) GetGlobalDiscount(ctx context.Context) (float64, bool, error) {
	return models.GetFloatSetting(r.db.WithContext(ctx), models.SettingAnnualDiscountPercent)
}

func (r *gormRepository) SetGlobalDiscount(ctx context.Context, percent float64) error {
	return models.SetFloatSetting(r.db.WithContext(ctx), models.SettingAnnualDiscountPercent, percent)
}
