// Package reminders schedules one-shot reminders for events and tasks and
// hands due reminders to the notification dispatcher.
package reminders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/app/repository"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/juju/clock"
	"gorm.io/gorm"
)

// DefaultBatchSize bounds how many due reminders one sweep handles.
const DefaultBatchSize = 200

// deliveryBoth is accepted on input and expands to every channel.
const deliveryBoth = "both"

// Dispatcher hands rendered reminders to the delivery channels. Calls must
// not wait for delivery.
type Dispatcher interface {
	Push(ctx context.Context, userID uint, title, body string, data map[string]string) error
	Call(ctx context.Context, userID uint, message string) error
}

// Spec requests one reminder relative to the owner's start time.
type Spec struct {
	TimeBeforeMinutes int      `json:"time_before" validate:"min=0,max=525600"`
	Types             []string `json:"types" validate:"required,min=1,dive,oneof=notification call both"`
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Due        int `json:"due"`
	Dispatched int `json:"dispatched"`
	Orphaned   int `json:"orphaned"`
	Lost       int `json:"lost"`
	Failed     int `json:"failed"`
}

// Scheduler registers reminders and dispatches them once they are due.
type Scheduler struct {
	repo       Repository
	owners     *Registry
	dispatcher Dispatcher
	clock      clock.Clock
	batchSize  int
	validate   *validator.Validate
}

// NewScheduler creates a scheduler. A nil clock uses wall time and a
// non-positive batch size uses DefaultBatchSize.
func NewScheduler(repo Repository, owners *Registry, dispatcher Dispatcher, clk clock.Clock, batchSize int) *Scheduler {
	if clk == nil {
		clk = clock.WallClock
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Scheduler{
		repo:       repo,
		owners:     owners,
		dispatcher: dispatcher,
		clock:      clk,
		batchSize:  batchSize,
		validate:   validator.New(),
	}
}

// NewSchedulerFromFactory wires a scheduler to the reminder table and to the
// event and task repositories held by repos.
func NewSchedulerFromFactory(db *gorm.DB, repos *repository.Factory, dispatcher Dispatcher, batchSize int) *Scheduler {
	owners := NewRepositoryRegistry(repos.GetEventRepository(), repos.GetTaskRepository())
	return NewScheduler(NewRepository(db), owners, dispatcher, nil, batchSize)
}

// RegisterReminders stores one reminder per spec at ownerTime minus the
// lead time. Entries that would fire in the past are skipped. It returns
// the reminders created.
func (s *Scheduler) RegisterReminders(ctx context.Context, kind string, ownerID uint, ownerTime time.Time, specs []Spec) ([]models.Reminder, error) {
	pending, err := s.build(kind, ownerID, ownerTime, specs)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, pending); err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		log.Infof("[Reminders] Registered %d reminders for %s %d", len(pending), kind, ownerID)
	}
	return pending, nil
}

// ReplaceReminders swaps the owner's unsent reminders for a new set. Sent
// reminders are kept.
func (s *Scheduler) ReplaceReminders(ctx context.Context, kind string, ownerID uint, ownerTime time.Time, specs []Spec) ([]models.Reminder, error) {
	pending, err := s.build(kind, ownerID, ownerTime, specs)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Replace(ctx, kind, ownerID, pending); err != nil {
		return nil, err
	}
	log.Infof("[Reminders] Replaced reminders for %s %d with %d new", kind, ownerID, len(pending))
	return pending, nil
}

// RegisterForOwner loads the owner and registers specs against its start
// time. Owners without a start time get no reminders.
func (s *Scheduler) RegisterForOwner(ctx context.Context, kind string, ownerID uint, specs []Spec) ([]models.Reminder, error) {
	owner, err := s.owners.Resolve(ctx, kind, ownerID)
	if err != nil {
		return nil, err
	}
	if owner.StartsAt == nil {
		return nil, nil
	}
	return s.RegisterReminders(ctx, kind, ownerID, *owner.StartsAt, specs)
}

// ListReminders returns every reminder of the owner.
func (s *Scheduler) ListReminders(ctx context.Context, kind string, ownerID uint) ([]models.Reminder, error) {
	if !s.owners.Has(kind) {
		return nil, apperrors.Validation("owner_kind", "unknown owner kind %q", kind)
	}
	return s.repo.ListForOwner(ctx, kind, ownerID)
}

// DeleteReminders removes every reminder of a deleted owner.
func (s *Scheduler) DeleteReminders(ctx context.Context, kind string, ownerID uint) (int64, error) {
	if !s.owners.Has(kind) {
		return 0, apperrors.Validation("owner_kind", "unknown owner kind %q", kind)
	}
	return s.repo.DeleteForOwner(ctx, kind, ownerID)
}

func (s *Scheduler) build(kind string, ownerID uint, ownerTime time.Time, specs []Spec) ([]models.Reminder, error) {
	if !s.owners.Has(kind) {
		return nil, apperrors.Validation("owner_kind", "unknown owner kind %q", kind)
	}
	if ownerID == 0 {
		return nil, apperrors.Validation("owner_id", "is required")
	}
	if ownerTime.IsZero() {
		return nil, apperrors.Validation("owner_time", "is required")
	}
	now := s.clock.Now().UTC()
	out := make([]models.Reminder, 0, len(specs))
	for i, spec := range specs {
		if err := s.validate.Struct(spec); err != nil {
			return nil, specError(i, err)
		}
		scheduled := ownerTime.UTC().Add(-time.Duration(spec.TimeBeforeMinutes) * time.Minute)
		if scheduled.Before(now) {
			continue
		}
		out = append(out, models.Reminder{
			OwnerKind:         kind,
			OwnerID:           ownerID,
			TimeBeforeMinutes: spec.TimeBeforeMinutes,
			Types:             normalizeTypes(spec.Types),
			ScheduledTime:     scheduled,
		})
	}
	return out, nil
}

func specError(i int, err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return apperrors.Validation("reminders", "entry %d: %s failed %s", i, strings.ToLower(ve[0].Field()), ve[0].Tag())
	}
	return apperrors.Validation("reminders", "entry %d: %v", i, err)
}

func normalizeTypes(types []string) models.DeliveryTypes {
	var out models.DeliveryTypes
	add := func(t string) {
		if !out.Has(t) {
			out = append(out, t)
		}
	}
	for _, t := range types {
		if t == deliveryBoth {
			add(models.DeliveryNotification)
			add(models.DeliveryCall)
			continue
		}
		add(t)
	}
	return out
}

// RunOnce dispatches every reminder that is due. Each reminder is claimed
// with a conditional update before anything is sent, so concurrent sweeps
// never deliver the same reminder twice. Per-reminder failures are logged
// and counted; only a failure to list due reminders is returned.
func (s *Scheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.clock.Now().UTC()

	due, err := s.repo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return res, err
	}
	res.Due = len(due)

	for i := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.process(ctx, &due[i], now, &res)
	}

	if res.Dispatched > 0 || res.Failed > 0 {
		log.Infof("[Reminders] Sweep: %d dispatched, %d orphaned, %d lost to other workers, %d failed",
			res.Dispatched, res.Orphaned, res.Lost, res.Failed)
	}
	return res, nil
}

func (s *Scheduler) process(ctx context.Context, r *models.Reminder, now time.Time, res *SweepResult) {
	// A failed lookup leaves the reminder unsent for the next sweep.
	owner, err := s.owners.Resolve(ctx, r.OwnerKind, r.OwnerID)
	if err != nil && !apperrors.IsNotFound(err) {
		log.Errorf("[Reminders] Failed to load %s %d for reminder %d: %v", r.OwnerKind, r.OwnerID, r.ID, err)
		res.Failed++
		return
	}

	won, cerr := s.repo.Claim(ctx, r.ID, now)
	if cerr != nil {
		log.Errorf("[Reminders] Failed to claim reminder %d: %v", r.ID, cerr)
		res.Failed++
		return
	}
	if !won {
		res.Lost++
		return
	}

	if owner == nil {
		log.Warnf("[Reminders] Reminder %d has no %s %d, marked sent without delivery", r.ID, r.OwnerKind, r.OwnerID)
		res.Orphaned++
		return
	}

	msg := Render(owner, now)
	failed := false
	if r.Types.Has(models.DeliveryNotification) {
		if err := s.dispatcher.Push(ctx, owner.UserID, msg.Title, msg.Body, msg.Data); err != nil {
			log.Errorf("[Reminders] Failed to queue push for reminder %d: %v", r.ID, err)
			failed = true
		}
	}
	if r.Types.Has(models.DeliveryCall) {
		if err := s.dispatcher.Call(ctx, owner.UserID, msg.CallScript); err != nil {
			log.Errorf("[Reminders] Failed to queue call for reminder %d: %v", r.ID, err)
			failed = true
		}
	}
	if failed {
		res.Failed++
		return
	}
	res.Dispatched++
}
