package reminders

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/app/repository"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"gorm.io/gorm"
)

// Owner is the resolved record a reminder points at.
type Owner struct {
	Kind     string
	ID       uint
	UserID   uint
	Title    string
	StartsAt *time.Time
}

// OwnerFunc loads one owner of a registered kind. It returns a not-found
// error when the owner no longer exists.
type OwnerFunc func(ctx context.Context, id uint) (*Owner, error)

// Registry maps owner kinds to their lookup functions.
type Registry struct {
	owners map[string]OwnerFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{owners: map[string]OwnerFunc{}}
}

// Register adds or replaces the lookup for kind.
func (r *Registry) Register(kind string, fn OwnerFunc) {
	r.owners[kind] = fn
}

// Kinds returns the registered owner kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.owners))
	for k := range r.owners {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	_, ok := r.owners[kind]
	return ok
}

// Resolve loads the owner. Unknown kinds are validation errors.
func (r *Registry) Resolve(ctx context.Context, kind string, id uint) (*Owner, error) {
	fn, ok := r.owners[kind]
	if !ok {
		return nil, apperrors.Validation("owner_kind", "unknown owner kind %q", kind)
	}
	owner, err := fn(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, apperrors.NotFoundf("%s %d", kind, id)
	}
	return owner, nil
}

// NewRepositoryRegistry registers events and tasks backed by the app
// repositories.
func NewRepositoryRegistry(events repository.EventRepository, tasks repository.TaskRepository) *Registry {
	r := NewRegistry()
	r.Register(models.OwnerEvent, func(_ context.Context, id uint) (*Owner, error) {
		ev, err := events.GetByID(id)
		if err != nil {
			return nil, ownerError(err, models.OwnerEvent, id)
		}
		starts := ev.EventDatetime
		return &Owner{Kind: models.OwnerEvent, ID: ev.ID, UserID: ev.UserID, Title: ev.Title, StartsAt: &starts}, nil
	})
	r.Register(models.OwnerTask, func(_ context.Context, id uint) (*Owner, error) {
		task, err := tasks.GetByID(id)
		if err != nil {
			return nil, ownerError(err, models.OwnerTask, id)
		}
		return &Owner{Kind: models.OwnerTask, ID: task.ID, UserID: task.UserID, Title: task.Title, StartsAt: task.StartTime}, nil
	})
	return r
}

func ownerError(err error, kind string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFoundf("%s %d", kind, id)
	}
	return err
}
