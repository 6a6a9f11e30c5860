package models

import "time"

type Event struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	Title         string    `gorm:"type:varchar(255);not null" json:"title" validate:"required,max=255"`
	Description   string    `gorm:"type:text" json:"description"`
	EventDatetime time.Time `gorm:"type:datetime;not null;index" json:"event_datetime" validate:"required"`
	Location      string    `gorm:"type:varchar(255)" json:"location"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Task struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"not null;index" json:"user_id"`
	Title       string     `gorm:"type:varchar(255);not null" json:"title" validate:"required,max=255"`
	Description string     `gorm:"type:text" json:"description"`
	StartTime   *time.Time `gorm:"type:datetime;default:null" json:"start_time,omitempty"`
	EndTime     *time.Time `gorm:"type:datetime;default:null" json:"end_time,omitempty"`
	Completed   bool       `gorm:"default:false" json:"completed"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
