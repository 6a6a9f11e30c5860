package models

import "time"

// Owner kinds a reminder can be attached to.
const (
	OwnerEvent = "event"
	OwnerTask  = "task"
)

// Delivery types.
const (
	DeliveryNotification = "notification"
	DeliveryCall         = "call"
)

// DeliveryTypes is the set of channels a reminder is delivered on.
type DeliveryTypes []string

// Has reports whether the set contains t.
func (d DeliveryTypes) Has(t string) bool {
	for _, v := range d {
		if v == t {
			return true
		}
	}
	return false
}

// Reminder fires once at ScheduledTime for its owner. Sent only ever moves
// from false to true.
type Reminder struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	OwnerKind         string        `gorm:"type:varchar(10);not null;index:idx_reminders_owner,priority:1" json:"owner_kind"`
	OwnerID           uint          `gorm:"not null;index:idx_reminders_owner,priority:2" json:"owner_id"`
	TimeBeforeMinutes int           `gorm:"not null;default:0" json:"time_before_minutes"`
	Types             DeliveryTypes `gorm:"serializer:json;type:json" json:"types"`
	ScheduledTime     time.Time     `gorm:"type:datetime;not null;index:idx_reminders_due,priority:2" json:"scheduled_time"`
	Sent              bool          `gorm:"not null;default:false;index:idx_reminders_due,priority:1" json:"sent"`
	SentAt            *time.Time    `gorm:"type:datetime;default:null" json:"sent_at,omitempty"`
	CreatedAt         time.Time     `gorm:"autoCreateTime" json:"created_at"`
}
