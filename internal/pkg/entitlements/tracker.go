// Package entitlements enforces per-user, per-action quota windows derived
// from the user's current plan.
package entitlements

import (
	"context"
	"time"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/gofiber/fiber/v2/log"
	"github.com/juju/clock"
	"gorm.io/gorm"
)

// PlanResolver returns the plan currently attached to a user's subscription.
type PlanResolver interface {
	PlanForUser(ctx context.Context, userID uint) (*models.Plan, error)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Usage summarizes a user's consumption in the current window. Limit and
// Remaining are nil for unlimited actions.
type Usage struct {
	Used      int    `json:"used"`
	Limit     *int   `json:"limit"`
	Remaining *int   `json:"remaining"`
	Period    string `json:"period"`
}

// Tracker checks and counts quota-governed actions.
type Tracker struct {
	repo  Repository
	plans PlanResolver
	clock clock.Clock
}

// NewTracker creates a tracker. A nil clock uses wall time.
func NewTracker(repo Repository, plans PlanResolver, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Tracker{repo: repo, plans: plans, clock: clk}
}

// NewTrackerFromDB creates a tracker from a GORM DB handle.
func NewTrackerFromDB(db *gorm.DB, plans PlanResolver) *Tracker {
	return NewTracker(NewRepository(db), plans, nil)
}

type resolved struct {
	rule  models.QuotaRule
	key   WindowKey
	end   time.Time
	limit *int
}

func (t *Tracker) resolve(ctx context.Context, userID uint, action string) (*resolved, error) {
	if userID == 0 {
		return nil, apperrors.Validation("user_id", "is required")
	}
	if !models.IsValidAction(action) {
		return nil, apperrors.Validation("action", "unknown action %q", action)
	}
	plan, err := t.plans.PlanForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rule := plan.Rule(action)
	period := rule.EffectivePeriod()
	start, end, err := WindowFor(period, t.clock.Now())
	if err != nil {
		return nil, err
	}
	return &resolved{
		rule:  rule,
		key:   WindowKey{UserID: userID, Action: action, Period: period, Start: start},
		end:   end,
		limit: rule.Limit,
	}, nil
}

func deny(action string, limit int, period string) Decision {
	qe := &apperrors.QuotaExceededError{Action: action, Limit: limit, Period: period}
	return Decision{Allowed: false, Reason: qe.Error()}
}

// CheckLimit reports whether the user may perform action now. It does not
// count the action; call Increment after the action persisted, or use
// Consume to check and count in one step.
func (t *Tracker) CheckLimit(ctx context.Context, userID uint, action string) (Decision, error) {
	r, err := t.resolve(ctx, userID, action)
	if err != nil {
		return Decision{}, err
	}
	if r.limit == nil {
		return Decision{Allowed: true}, nil
	}
	w, err := t.repo.FetchOrCreate(ctx, r.key, r.end)
	if err != nil {
		return Decision{}, err
	}
	if w.Count >= *r.limit {
		return deny(action, *r.limit, r.key.Period), nil
	}
	return Decision{Allowed: true}, nil
}

// Increment counts one performed action. The window row is locked for the
// read-compare-write, and a limited window never counts past its limit: an
// increment on a full window returns *apperrors.QuotaExceededError.
func (t *Tracker) Increment(ctx context.Context, userID uint, action string) error {
	r, err := t.resolve(ctx, userID, action)
	if err != nil {
		return err
	}
	return t.repo.WithLockedWindow(ctx, r.key, r.end, func(w *models.UsageWindow) error {
		if r.limit != nil && w.Count >= *r.limit {
			log.Warnf("[QuotaTracker] Dropped increment for user %d action %s: window full (%d/%d)", userID, action, w.Count, *r.limit)
			return &apperrors.QuotaExceededError{Action: action, Limit: *r.limit, Period: r.key.Period}
		}
		w.Count++
		return nil
	})
}

// Consume admits and counts one action atomically. A denial is returned as
// a Decision with Allowed=false and a nil error.
func (t *Tracker) Consume(ctx context.Context, userID uint, action string) (Decision, error) {
	err := t.Increment(ctx, userID, action)
	if err == nil {
		return Decision{Allowed: true}, nil
	}
	if apperrors.IsQuotaExceeded(err) {
		return Decision{Allowed: false, Reason: err.Error()}, nil
	}
	return Decision{}, err
}

// UsageInfo returns used, limit and remaining counts for the current window.
func (t *Tracker) UsageInfo(ctx context.Context, userID uint, action string) (*Usage, error) {
	r, err := t.resolve(ctx, userID, action)
	if err != nil {
		return nil, err
	}
	w, err := t.repo.Find(ctx, r.key)
	if err != nil {
		return nil, err
	}
	u := &Usage{Period: r.key.Period}
	if w != nil {
		u.Used = w.Count
	}
	if r.limit != nil {
		limit := *r.limit
		remaining := limit - u.Used
		if remaining < 0 {
			remaining = 0
		}
		u.Limit = &limit
		u.Remaining = &remaining
	}
	return u, nil
}

// PurgeExpired deletes windows that ended longer than retention ago.
func (t *Tracker) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := t.clock.Now().UTC().Add(-retention)
	n, err := t.repo.PurgeEndedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("[QuotaTracker] Purged %d usage windows ended before %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// PurgeTask wraps PurgeExpired for the periodic housekeeping ticker, which
// only needs the error. PurgeExpired already logs the purged count.
func (t *Tracker) PurgeTask(retention time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := t.PurgeExpired(ctx, retention)
		return err
	}
}
