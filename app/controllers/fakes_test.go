package controllers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/accounts"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/ManuelReschke/Taskly/internal/pkg/billing"
	"github.com/ManuelReschke/Taskly/internal/pkg/entitlements"
	"github.com/ManuelReschke/Taskly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Taskly/internal/pkg/reminders"
)

type fakeQuota struct {
	used  int
	limit int
}

func (f *fakeQuota) CheckLimit(_ context.Context, _ uint, action string) (entitlements.Decision, error) {
	if action == "bogus" {
		return entitlements.Decision{}, apperrors.Validation("action", "unknown action %q", action)
	}
	if f.used >= f.limit {
		return entitlements.Decision{Allowed: false, Reason: (&apperrors.QuotaExceededError{Action: action, Limit: f.limit, Period: "week"}).Error()}, nil
	}
	return entitlements.Decision{Allowed: true}, nil
}

func (f *fakeQuota) Increment(_ context.Context, _ uint, action string) error {
	if f.used >= f.limit {
		return &apperrors.QuotaExceededError{Action: action, Limit: f.limit, Period: "week"}
	}
	f.used++
	return nil
}

func (f *fakeQuota) Consume(ctx context.Context, userID uint, action string) (entitlements.Decision, error) {
	if err := f.Increment(ctx, userID, action); err != nil {
		return entitlements.Decision{Allowed: false, Reason: err.Error()}, nil
	}
	return entitlements.Decision{Allowed: true}, nil
}

func (f *fakeQuota) UsageInfo(_ context.Context, _ uint, _ string) (*entitlements.Usage, error) {
	limit := f.limit
	remaining := f.limit - f.used
	return &entitlements.Usage{Used: f.used, Limit: &limit, Remaining: &remaining, Period: "week"}, nil
}

type fakeReminders struct {
	calls []string
}

func (f *fakeReminders) build(ownerID uint, at time.Time, specs []reminders.Spec) []models.Reminder {
	out := make([]models.Reminder, 0, len(specs))
	for _, s := range specs {
		out = append(out, models.Reminder{OwnerID: ownerID, TimeBeforeMinutes: s.TimeBeforeMinutes, ScheduledTime: at})
	}
	return out
}

func (f *fakeReminders) RegisterReminders(_ context.Context, _ string, ownerID uint, at time.Time, specs []reminders.Spec) ([]models.Reminder, error) {
	f.calls = append(f.calls, "register")
	return f.build(ownerID, at, specs), nil
}

func (f *fakeReminders) ReplaceReminders(_ context.Context, _ string, ownerID uint, at time.Time, specs []reminders.Spec) ([]models.Reminder, error) {
	f.calls = append(f.calls, "replace")
	return f.build(ownerID, at, specs), nil
}

func (f *fakeReminders) RegisterForOwner(_ context.Context, kind string, ownerID uint, specs []reminders.Spec) ([]models.Reminder, error) {
	f.calls = append(f.calls, "owner")
	if kind != models.OwnerEvent {
		return nil, apperrors.Validation("owner_kind", "unknown owner kind %q", kind)
	}
	return f.build(ownerID, time.Now(), specs[:1]), nil
}

func (f *fakeReminders) ListReminders(_ context.Context, _ string, ownerID uint) ([]models.Reminder, error) {
	return []models.Reminder{{ID: 1, OwnerID: ownerID}}, nil
}

func (f *fakeReminders) DeleteReminders(_ context.Context, _ string, _ uint) (int64, error) {
	return 2, nil
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(payload []byte, signature string) (billing.WebhookEventInput, error) {
	if signature != "valid" {
		return billing.WebhookEventInput{}, errors.New("bad signature")
	}
	return billing.WebhookEventInput{
		Provider:        billing.ProviderStripe,
		ProviderEventID: "evt_1",
		EventType:       billing.EventInvoicePaid,
		PayloadJSON:     string(payload),
	}, nil
}

type fakeLedger struct {
	mu     sync.Mutex
	events map[string]*models.BillingWebhookEvent
	marked map[uint]error
	subs   map[uint]*models.Subscription
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{events: map[string]*models.BillingWebhookEvent{}, marked: map[uint]error{}, subs: map[uint]*models.Subscription{}}
}

func (l *fakeLedger) RecordWebhookEvent(_ context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev, ok := l.events[in.ProviderEventID]; ok {
		cp := *ev
		return false, &cp, nil
	}
	ev := &models.BillingWebhookEvent{ID: uint(len(l.events) + 1), Provider: in.Provider, ProviderEventID: in.ProviderEventID, EventType: in.EventType}
	l.events[in.ProviderEventID] = ev
	cp := *ev
	return true, &cp, nil
}

func (l *fakeLedger) MarkWebhookProcessed(_ context.Context, id uint, err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marked[id] = err
	for _, ev := range l.events {
		if ev.ID == id && err != nil {
			ev.ProcessingError = err.Error()
		}
	}
	return nil
}

func (l *fakeLedger) GetSubscription(_ context.Context, userID uint) (*models.Subscription, error) {
	sub, ok := l.subs[userID]
	if !ok {
		return nil, apperrors.NotFoundf("subscription for user %d", userID)
	}
	return sub, nil
}

func (l *fakeLedger) PaymentHistory(_ context.Context, _ uint) ([]models.PaymentRecord, error) {
	return nil, nil
}

type fakeQueue struct {
	jobs []*jobqueue.Job
	err  error
}

func (q *fakeQueue) EnqueueJob(_ context.Context, t jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error) {
	if q.err != nil {
		return nil, q.err
	}
	job := &jobqueue.Job{ID: uuid.New().String(), Type: t, Payload: payload}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *fakeQueue) GetJobStats(context.Context) (map[jobqueue.JobStatus]int64, error) {
	return map[jobqueue.JobStatus]int64{jobqueue.JobStatusPending: int64(len(q.jobs))}, nil
}
func (q *fakeQueue) GetQueueSize(context.Context) (int64, error)      { return int64(len(q.jobs)), nil }
func (q *fakeQueue) GetProcessingSize(context.Context) (int64, error) { return 0, nil }
func (q *fakeQueue) GetDelayedSize(context.Context) (int64, error)    { return 1, nil }

type fakeAccounts struct {
	emails map[string]bool
}

func (a *fakeAccounts) Register(_ context.Context, in accounts.RegisterInput) (*models.User, error) {
	u, err := models.NewUser(in.Name, in.Email, in.PhoneNumber)
	if err != nil {
		return nil, apperrors.Validation("email", "%v", err)
	}
	if a.emails[u.Email] {
		return nil, &apperrors.ConflictError{Resource: "user", Key: u.Email}
	}
	a.emails[u.Email] = true
	u.ID = uint(len(a.emails))
	return u, nil
}

type fakeUsers struct {
	users  map[uint]*models.User
	tokens map[uint]string
}

func (f *fakeUsers) GetByID(id uint) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (f *fakeUsers) UpdateFCMToken(id uint, token string) error {
	f.tokens[id] = token
	return nil
}
