package models

import "time"

const (
	TransactionInitial        = "initial"
	TransactionRenewal        = "renewal"
	TransactionUpgrade        = "upgrade"
	TransactionDowngrade      = "downgrade"
	TransactionIntervalChange = "interval_change"
	TransactionCancellation   = "cancellation"
	TransactionRefund         = "refund"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// PaymentRecord is an append-only billing ledger entry. IdempotencyKey holds
// the provider invoice id, charge id, or a derived key for cancellations.
type PaymentRecord struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"not null;index" json:"user_id"`
	Kind              string    `gorm:"type:varchar(32);not null;index" json:"kind"`
	Status            string    `gorm:"type:varchar(16);not null" json:"status"`
	PlanID            *uint     `gorm:"default:null" json:"plan_id,omitempty"`
	PlanName          string    `gorm:"type:varchar(20)" json:"plan_name"`
	BillingInterval   string    `gorm:"type:varchar(16)" json:"billing_interval"`
	AmountCents       int64     `gorm:"not null" json:"amount_cents"`
	Currency          string    `gorm:"type:varchar(3);default:'usd'" json:"currency"`
	ProrationCents    *int64    `gorm:"default:null" json:"proration_cents,omitempty"`
	IdempotencyKey    string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"-"`
	ProviderInvoiceID string    `gorm:"type:varchar(191);default:null;index" json:"provider_invoice_id,omitempty"`
	ProviderChargeID  string    `gorm:"type:varchar(191);default:null" json:"provider_charge_id,omitempty"`
	HostedInvoiceURL  string    `gorm:"type:varchar(500);default:null" json:"hosted_invoice_url,omitempty"`
	Notes             string    `gorm:"type:text" json:"notes"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
