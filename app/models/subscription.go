package models

import "time"

const (
	BillingIntervalMonth = "month"
	BillingIntervalYear  = "year"
)

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusIncomplete = "incomplete"
)

// Subscription is the single billing record each user owns. Users without a
// paid subscription point at the free plan.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	PlanID                 uint       `gorm:"not null;index" json:"plan_id"`
	Plan                   *Plan      `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	BillingInterval        string     `gorm:"type:varchar(16);not null;default:'month'" json:"billing_interval"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	ProviderCustomerID     *string    `gorm:"type:varchar(191);default:null;uniqueIndex" json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID *string    `gorm:"type:varchar(191);default:null;uniqueIndex" json:"provider_subscription_id,omitempty"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	LastEventAt            *time.Time `gorm:"type:timestamp;default:null" json:"-"` // provider time of the last applied snapshot
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the provider considers the subscription in good standing.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// IsPaid reports whether the user holds an active non-free plan. Plan must be loaded.
func (s *Subscription) IsPaid() bool {
	return s.Plan != nil && !s.Plan.IsFree() && s.IsActive()
}

// IsValidInterval reports whether interval is a supported billing interval.
func IsValidInterval(interval string) bool {
	return interval == BillingIntervalMonth || interval == BillingIntervalYear
}
