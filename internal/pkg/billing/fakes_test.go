package billing

import (
	"context"
	"sync"
	"time"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
)

// memRepo keeps ledger state in memory. WithSubscriptionLock holds a single
// mutex for the whole section and commits buffered writes only on success.
type memRepo struct {
	rowLock sync.Mutex
	mu      sync.Mutex

	plans    map[uint]*models.Plan
	subs     map[uint]models.Subscription
	payments []models.PaymentRecord
	webhooks []models.BillingWebhookEvent
	nextID   uint
}

func newMemRepo(plans ...*models.Plan) *memRepo {
	r := &memRepo{plans: map[uint]*models.Plan{}, subs: map[uint]models.Subscription{}}
	for _, p := range plans {
		r.plans[p.ID] = p
	}
	return r
}

func (r *memRepo) addSubscription(sub models.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub.ID = r.nextID
	r.subs[sub.UserID] = sub
}

func (r *memRepo) subscription(userID uint) models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[userID]
}

func (r *memRepo) paymentsOf(userID uint, kind string) []models.PaymentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentRecord
	for _, p := range r.payments {
		if p.UserID == userID && (kind == "" || p.Kind == kind) {
			out = append(out, p)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }

func (r *memRepo) find(lookup Lookup) (*models.Subscription, bool) {
	match := func(f func(models.Subscription) bool) (*models.Subscription, bool) {
		for _, s := range r.subs {
			if f(s) {
				cp := s
				cp.Plan = r.plans[cp.PlanID]
				return &cp, true
			}
		}
		return nil, false
	}
	if lookup.SubscriptionID != "" {
		if s, ok := match(func(s models.Subscription) bool {
			return s.ProviderSubscriptionID != nil && *s.ProviderSubscriptionID == lookup.SubscriptionID
		}); ok {
			return s, true
		}
	}
	if lookup.CustomerID != "" {
		if s, ok := match(func(s models.Subscription) bool {
			return s.ProviderCustomerID != nil && *s.ProviderCustomerID == lookup.CustomerID
		}); ok {
			return s, true
		}
	}
	if lookup.UserID != 0 {
		return match(func(s models.Subscription) bool { return s.UserID == lookup.UserID })
	}
	return nil, false
}

func (r *memRepo) WithSubscriptionLock(ctx context.Context, lookup Lookup, fn func(tx TxRepository, sub *models.Subscription) error) error {
	r.rowLock.Lock()
	defer r.rowLock.Unlock()

	r.mu.Lock()
	sub, ok := r.find(lookup)
	r.mu.Unlock()
	if !ok {
		return apperrors.NotFoundf("subscription for %+v", lookup)
	}

	tx := &memTx{r: r, settled: map[uint]models.PaymentRecord{}}
	if err := fn(tx, sub); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tx.saved != nil {
		s := *tx.saved
		s.Plan = nil
		r.subs[s.UserID] = s
	}
	for i := range r.payments {
		if upd, ok := tx.settled[r.payments[i].ID]; ok {
			r.payments[i].Kind = upd.Kind
			r.payments[i].Status = upd.Status
			r.payments[i].AmountCents = upd.AmountCents
			r.payments[i].ProrationCents = upd.ProrationCents
			r.payments[i].Notes = upd.Notes
		}
	}
	r.payments = append(r.payments, tx.created...)
	return nil
}

func (r *memRepo) GetSubscriptionByUser(_ context.Context, userID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.find(Lookup{UserID: userID})
	if !ok {
		return nil, apperrors.NotFoundf("subscription for user %d", userID)
	}
	return sub, nil
}

func (r *memRepo) FindPayment(_ context.Context, key string) (*models.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.IdempotencyKey == key {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListPayments(_ context.Context, userID uint) ([]models.PaymentRecord, error) {
	recs := r.paymentsOf(userID, "")
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

func (r *memRepo) CreateWebhookEventIfNotExists(_ context.Context, ev *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.webhooks {
		if w.Provider == ev.Provider && w.ProviderEventID == ev.ProviderEventID {
			cp := w
			return false, &cp, nil
		}
	}
	r.nextID++
	ev.ID = r.nextID
	r.webhooks = append(r.webhooks, *ev)
	return true, ev, nil
}

func (r *memRepo) GetWebhookEvent(_ context.Context, id uint) (*models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.webhooks {
		if w.ID == id {
			cp := w
			return &cp, nil
		}
	}
	return nil, apperrors.NotFoundf("webhook event %d", id)
}

func (r *memRepo) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.webhooks {
		if r.webhooks[i].ID == id {
			r.webhooks[i].Attempts++
			r.webhooks[i].ProcessingError = processingError
			if processingError == "" {
				now := time.Now().UTC()
				r.webhooks[i].ProcessedAt = &now
			}
			return nil
		}
	}
	return apperrors.NotFoundf("webhook event %d", id)
}

type memTx struct {
	r       *memRepo
	saved   *models.Subscription
	created []models.PaymentRecord
	settled map[uint]models.PaymentRecord
}

func (t *memTx) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	cp := *sub
	t.saved = &cp
	return nil
}

func (t *memTx) FindPayment(ctx context.Context, key string) (*models.PaymentRecord, error) {
	for _, p := range t.created {
		if p.IdempotencyKey == key {
			cp := p
			return &cp, nil
		}
	}
	return t.r.FindPayment(ctx, key)
}

func (t *memTx) CreatePayment(ctx context.Context, rec *models.PaymentRecord) (bool, error) {
	existing, _ := t.FindPayment(ctx, rec.IdempotencyKey)
	if existing != nil {
		return false, nil
	}
	t.r.mu.Lock()
	t.r.nextID++
	rec.ID = t.r.nextID
	t.r.mu.Unlock()
	t.created = append(t.created, *rec)
	return true, nil
}

func (t *memTx) SettlePayment(_ context.Context, id uint, rec *models.PaymentRecord) error {
	t.settled[id] = *rec
	return nil
}

// fakePlans resolves prices against a fixed plan list at a 20% annual discount.
type fakePlans struct {
	plans []*models.Plan
}

func (f *fakePlans) ResolveByPriceID(_ context.Context, priceID, interval string) (*models.Plan, string, error) {
	for _, p := range f.plans {
		if p.ProviderMonthlyPriceID == priceID {
			return p, models.BillingIntervalMonth, nil
		}
		if p.ProviderAnnualPriceID == priceID {
			return p, models.BillingIntervalYear, nil
		}
	}
	return nil, "", apperrors.NotFoundf("plan for price %s", priceID)
}

func (f *fakePlans) FreePlan(context.Context) (*models.Plan, error) {
	for _, p := range f.plans {
		if p.IsFree() {
			return p, nil
		}
	}
	return nil, apperrors.NotFoundf("free plan")
}

func (f *fakePlans) PriceFor(_ context.Context, plan *models.Plan, interval string) (int64, error) {
	if interval == models.BillingIntervalYear {
		return plan.MonthlyPriceCents * 12 * 80 / 100, nil
	}
	return plan.MonthlyPriceCents, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) kinds() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NoticeKind, 0, len(n.notices))
	for _, x := range n.notices {
		out = append(out, x.Kind)
	}
	return out
}

var (
	freePlan    = &models.Plan{ID: 1, Name: models.PlanFree}
	basicPlan   = &models.Plan{ID: 2, Name: models.PlanBasic, MonthlyPriceCents: 999, ProviderMonthlyPriceID: "price_basic_m", ProviderAnnualPriceID: "price_basic_y"}
	premiumPlan = &models.Plan{ID: 3, Name: models.PlanPremium, MonthlyPriceCents: 1999, ProviderMonthlyPriceID: "price_premium_m", ProviderAnnualPriceID: "price_premium_y"}
)

const testUser uint = 42

type fixture struct {
	repo     *memRepo
	notifier *recordingNotifier
	ledger   *Ledger
}

// newFixture returns a ledger whose user holds an active basic monthly
// subscription attached to customer cus_1 and subscription sub_1.
func newFixture() *fixture {
	repo := newMemRepo(freePlan, basicPlan, premiumPlan)
	repo.addSubscription(models.Subscription{
		UserID:                 testUser,
		PlanID:                 basicPlan.ID,
		BillingInterval:        models.BillingIntervalMonth,
		Status:                 models.SubscriptionStatusActive,
		ProviderCustomerID:     strPtr("cus_1"),
		ProviderSubscriptionID: strPtr("sub_1"),
	})
	n := &recordingNotifier{}
	plans := &fakePlans{plans: []*models.Plan{freePlan, basicPlan, premiumPlan}}
	return &fixture{repo: repo, notifier: n, ledger: NewLedger(repo, plans, n, nil)}
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

func ptrTime(t time.Time) *time.Time { return &t }
