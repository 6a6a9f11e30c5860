package repository

import (
	"time"

	"github.com/ManuelReschke/Taskly/app/models"
	"gorm.io/gorm"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new event repository instance
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Create(event *models.Event) error {
	return r.db.Create(event).Error
}

func (r *eventRepository) GetByID(id uint) (*models.Event, error) {
	var event models.Event
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *eventRepository) Update(event *models.Event) error {
	return r.db.Save(event).Error
}

func (r *eventRepository) Delete(id uint) error {
	return r.db.Delete(&models.Event{}, id).Error
}

// ListUpcoming returns the user's events starting at or after from, soonest first
func (r *eventRepository) ListUpcoming(userID uint, from time.Time, limit int) ([]models.Event, error) {
	var events []models.Event
	err := r.db.Where("user_id = ? AND event_datetime >= ?", userID, from).
		Order("event_datetime ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
