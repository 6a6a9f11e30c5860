package billing

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Lookup names the identifiers a subscription may be found by. Non-empty
// fields are tried in order: SubscriptionID, CustomerID, UserID.
type Lookup struct {
	SubscriptionID string
	CustomerID     string
	UserID         uint
}

// TxRepository is the part of the repository usable inside a locked section.
type TxRepository interface {
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	FindPayment(ctx context.Context, idempotencyKey string) (*models.PaymentRecord, error)
	// CreatePayment inserts rec unless its idempotency key exists and
	// reports whether a row was written.
	CreatePayment(ctx context.Context, rec *models.PaymentRecord) (bool, error)
	SettlePayment(ctx context.Context, id uint, rec *models.PaymentRecord) error
}

// Repository provides DB operations used by the subscription ledger.
type Repository interface {
	// WithSubscriptionLock runs fn in a transaction holding a row lock on
	// the subscription found by lookup.
	WithSubscriptionLock(ctx context.Context, lookup Lookup, fn func(tx TxRepository, sub *models.Subscription) error) error
	GetSubscriptionByUser(ctx context.Context, userID uint) (*models.Subscription, error)
	FindPayment(ctx context.Context, idempotencyKey string) (*models.PaymentRecord, error)
	ListPayments(ctx context.Context, userID uint) ([]models.PaymentRecord, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithSubscriptionLock(ctx context.Context, lookup Lookup, fn func(tx TxRepository, sub *models.Subscription) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := lockSubscription(tx, lookup)
		if err != nil {
			return err
		}
		return fn(&gormRepository{db: tx}, sub)
	})
}

func lockSubscription(tx *gorm.DB, lookup Lookup) (*models.Subscription, error) {
	type attempt struct {
		ok    bool
		query string
		arg   interface{}
	}
	attempts := []attempt{
		{lookup.SubscriptionID != "", "provider_subscription_id = ?", lookup.SubscriptionID},
		{lookup.CustomerID != "", "provider_customer_id = ?", lookup.CustomerID},
		{lookup.UserID != 0, "user_id = ?", lookup.UserID},
	}
	for _, a := range attempts {
		if !a.ok {
			continue
		}
		var sub models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(a.query, a.arg).
			First(&sub).Error
		if err == nil {
			// Loaded separately so the plan row is read without a lock.
			var plan models.Plan
			if err := tx.First(&plan, sub.PlanID).Error; err != nil {
				return nil, err
			}
			sub.Plan = &plan
			return &sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, apperrors.NotFoundf("subscription for %+v", lookup)
}

func (r *gormRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Omit("Plan").Save(sub).Error
}

func (r *gormRepository) FindPayment(ctx context.Context, key string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) CreatePayment(ctx context.Context, rec *models.PaymentRecord) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) SettlePayment(ctx context.Context, id uint, rec *models.PaymentRecord) error {
	return r.db.WithContext(ctx).Model(&models.PaymentRecord{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusFailed).
		Updates(map[string]interface{}{
			"kind":               rec.Kind,
			"status":             rec.Status,
			"amount_cents":       rec.AmountCents,
			"proration_cents":    rec.ProrationCents,
			"hosted_invoice_url": rec.HostedInvoiceURL,
			"notes":              rec.Notes,
		}).Error
}

func (r *gormRepository) GetSubscriptionByUser(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Preload("Plan").Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFoundf("subscription for user %d", userID)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListPayments(ctx context.Context, userID uint) ([]models.PaymentRecord, error) {
	var recs []models.PaymentRecord
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&recs).Error
	return recs, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, event, nil
	}

	var existing models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&existing).Error; err != nil {
		return false, nil, err
	}
	return false, &existing, nil
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error) {
	var ev models.BillingWebhookEvent
	err := r.db.WithContext(ctx).First(&ev, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFoundf("webhook event %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"attempts":         gorm.Expr("attempts + 1"),
		"processing_error": processingError,
	}
	if processingError == "" {
		updates["processed_at"] = &now
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
