package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting keys.
const (
	SettingAnnualDiscountPercent = "annual_discount_percent"
)

// DefaultAnnualDiscountPercent applies when no global discount row exists.
const DefaultAnnualDiscountPercent = 22.0

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer, float
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetFloatSetting reads a float setting. found is false when the key is unset.
func GetFloatSetting(db *gorm.DB, key string) (value float64, found bool, err error) {
	var s Setting
	if err := db.Where("setting_key = ?", key).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	v, err := strconv.ParseFloat(s.Value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("setting %s is not a float: %w", key, err)
	}
	return v, true, nil
}

// SetFloatSetting creates or updates a float setting.
func SetFloatSetting(db *gorm.DB, key string, value float64) error {
	s := Setting{
		Key:   key,
		Value: strconv.FormatFloat(value, 'f', 2, 64),
		Type:  "float",
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "type", "updated_at"}),
	}).Create(&s).Error
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}
