// Package accounts creates users together with the records every user owns.
package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegisterInput describes a new user.
type RegisterInput struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

// Service registers users.
type Service struct {
	db *gorm.DB
}

// NewService creates an account service backed by db.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Register creates the user and its free-plan subscription in one
// transaction. A duplicate email yields a ConflictError.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	user, err := models.NewUser(in.Name, in.Email, in.PhoneNumber)
	if err != nil {
		return nil, validationError(err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if isDuplicateKey(err) {
				return &apperrors.ConflictError{Resource: "user", Key: user.Email}
			}
			return err
		}
		return ensureSubscription(tx, user.ID)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Accounts] Registered user %d on the free plan", user.ID)
	return user, nil
}

// EnsureSubscription creates the free-plan subscription of an existing user
// when it is missing. It is a no-op otherwise.
func (s *Service) EnsureSubscription(ctx context.Context, userID uint) error {
	return ensureSubscription(s.db.WithContext(ctx), userID)
}

// BackfillSubscriptions gives every user without a subscription the free
// plan and returns how many were created.
func (s *Service) BackfillSubscriptions(ctx context.Context) (int, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id NOT IN (?)", s.db.Model(&models.Subscription{}).Select("user_id")).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.EnsureSubscription(ctx, id); err != nil {
			return 0, err
		}
	}
	if len(ids) > 0 {
		log.Infof("[Accounts] Backfilled %d free subscriptions", len(ids))
	}
	return len(ids), nil
}

func ensureSubscription(tx *gorm.DB, userID uint) error {
	var free models.Plan
	if err := tx.Where("name = ?", models.PlanFree).First(&free).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFoundf("free plan")
		}
		return err
	}
	sub := models.Subscription{
		UserID:          userID,
		PlanID:          free.ID,
		BillingInterval: models.BillingIntervalMonth,
		Status:          models.SubscriptionStatusActive,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&sub).Error
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

func validationError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return apperrors.Validation(strings.ToLower(ve[0].Field()), "failed %s", ve[0].Tag())
	}
	return apperrors.Validation("", "%v", err)
}
