package models

import (
	"strings"
	"time"
)

const (
	PlanFree    = "free"
	PlanBasic   = "basic"
	PlanPremium = "premium"
)

// Action kinds governed by quota rules.
const (
	ActionEvent = "event"
	ActionTask  = "task"
	ActionNote  = "note"
	ActionEdit  = "edit"
)

const (
	PeriodMinute = "minute"
	PeriodHour   = "hour"
	PeriodDay    = "day"
	PeriodWeek   = "week"
	PeriodMonth  = "month"
)

// DefaultQuotaPeriod applies to rules stored without an explicit period.
const DefaultQuotaPeriod = PeriodWeek

// QuotaRule limits how often an action may happen within one period window.
// A nil Limit means unlimited.
type QuotaRule struct {
	Limit  *int   `json:"limit" validate:"omitempty,min=0"`
	Period string `json:"period" validate:"omitempty,oneof=minute hour day week month"`
}

// EffectivePeriod returns the rule's period, defaulting to weekly windows.
func (r QuotaRule) EffectivePeriod() string {
	p := strings.ToLower(strings.TrimSpace(r.Period))
	if p == "" {
		return DefaultQuotaPeriod
	}
	return p
}

// QuotaRules maps an action kind to its rule.
type QuotaRules map[string]QuotaRule

// Plan is a subscription tier with its price and quota configuration.
type Plan struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	Name                   string     `gorm:"type:varchar(20);not null;uniqueIndex" json:"name" validate:"required,oneof=free basic premium"`
	MonthlyPriceCents      int64      `gorm:"not null;default:0" json:"monthly_price_cents" validate:"min=0"`
	AnnualDiscountPercent  *float64   `gorm:"type:decimal(5,2);default:null" json:"annual_discount_percent,omitempty" validate:"omitempty,min=0,max=100"`
	Quotas                 QuotaRules `gorm:"serializer:json;type:json" json:"quotas" validate:"dive"`
	ProviderProductID      string     `gorm:"type:varchar(191);default:null" json:"provider_product_id,omitempty"`
	ProviderMonthlyPriceID string     `gorm:"type:varchar(191);default:null;index" json:"provider_monthly_price_id,omitempty"`
	ProviderAnnualPriceID  string     `gorm:"type:varchar(191);default:null;index" json:"provider_annual_price_id,omitempty"`
	IsActive               bool       `gorm:"default:true;index" json:"is_active"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Plan) IsFree() bool {
	return p.Name == PlanFree
}

// Rule returns the quota rule for an action kind. Actions without a
// configured rule are unlimited.
func (p *Plan) Rule(action string) QuotaRule {
	if p.Quotas == nil {
		return QuotaRule{}
	}
	return p.Quotas[action]
}

// IsValidAction reports whether action names a quota-governed action kind.
func IsValidAction(action string) bool {
	switch action {
	case ActionEvent, ActionTask, ActionNote, ActionEdit:
		return true
	default:
		return false
	}
}

// IsValidPeriod reports whether period names a supported window type.
func IsValidPeriod(period string) bool {
	switch period {
	case PeriodMinute, PeriodHour, PeriodDay, PeriodWeek, PeriodMonth:
		return true
	default:
		return false
	}
}
