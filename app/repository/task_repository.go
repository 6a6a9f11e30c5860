package repository

import (
	"github.com/ManuelReschke/Taskly/app/models"
	"gorm.io/gorm"
)

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new task repository instance
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Create(task *models.Task) error {
	return r.db.Create(task).Error
}

func (r *taskRepository) GetByID(id uint) (*models.Task, error) {
	var task models.Task
	if err := r.db.First(&task, id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) Update(task *models.Task) error {
	return r.db.Save(task).Error
}

func (r *taskRepository) Delete(id uint) error {
	return r.db.Delete(&models.Task{}, id).Error
}

// ListOpen returns the user's incomplete tasks ordered by start time
func (r *taskRepository) ListOpen(userID uint, limit int) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.Where("user_id = ? AND completed = ?", userID, false).
		Order("start_time IS NULL, start_time ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}
