package models

import "time"

// UsageWindow counts one user's actions of one kind inside a single period window.
type UsageWindow struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index:ux_usage_windows_key,unique,priority:1" json:"user_id"`
	Action      string    `gorm:"type:varchar(16);not null;index:ux_usage_windows_key,unique,priority:2" json:"action"`
	Period      string    `gorm:"type:varchar(16);not null;index:ux_usage_windows_key,unique,priority:3" json:"period"`
	PeriodStart time.Time `gorm:"type:datetime;not null;index:ux_usage_windows_key,unique,priority:4" json:"period_start"`
	PeriodEnd   time.Time `gorm:"type:datetime;not null;index" json:"period_end"`
	Count       int       `gorm:"not null;default:0" json:"count"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
