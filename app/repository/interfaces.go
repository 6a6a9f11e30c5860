package repository

import (
	"time"

	"github.com/ManuelReschke/Taskly/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	UpdateFCMToken(id uint, token string) error
	ClearFCMToken(id uint, token string) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	Search(query string) ([]models.User, error)
}

// EventRepository defines the interface for calendar event operations
type EventRepository interface {
	Create(event *models.Event) error
	GetByID(id uint) (*models.Event, error)
	Update(event *models.Event) error
	Delete(id uint) error
	ListUpcoming(userID uint, from time.Time, limit int) ([]models.Event, error)
}

// TaskRepository defines the interface for task operations
type TaskRepository interface {
	Create(task *models.Task) error
	GetByID(id uint) (*models.Task, error)
	Update(task *models.Task) error
	Delete(id uint) error
	ListOpen(userID uint, limit int) ([]models.Task, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User  UserRepository
	Event EventRepository
	Task  TaskRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:  NewUserRepository(db),
		Event: NewEventRepository(db),
		Task:  NewTaskRepository(db),
	}
}
