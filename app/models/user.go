package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

type User struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=2,max=150"`
	Email       string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	PhoneNumber string         `gorm:"type:varchar(32);default:null" json:"phone_number" validate:"omitempty,e164"`
	FCMToken    string         `gorm:"type:varchar(255);default:null" json:"-"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewUser builds a validated user. It is not persisted.
func NewUser(name string, email string, phone string) (*User, error) {
	u := &User{
		Name:        strings.TrimSpace(name),
		Email:       strings.ToLower(strings.TrimSpace(email)),
		PhoneNumber: strings.TrimSpace(phone),
	}

	err := u.Validate()
	if err != nil {
		return nil, err
	}

	return u, nil
}

// HasPushToken reports whether the user registered a device for push delivery.
func (u *User) HasPushToken() bool {
	return strings.TrimSpace(u.FCMToken) != ""
}

// HasPhone reports whether the user can be reached by voice call.
func (u *User) HasPhone() bool {
	return strings.TrimSpace(u.PhoneNumber) != ""
}

// ClearFCMToken removes a device token that the push gateway rejected.
func ClearFCMToken(db *gorm.DB, userID uint, token string) error {
	return db.Model(&User{}).
		Where("id = ? AND fcm_token = ?", userID, token).
		Update("fcm_token", nil).Error
}
