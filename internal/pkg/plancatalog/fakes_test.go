package plancatalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
)

type fakeRepo struct {
	mu       sync.Mutex
	plans    map[uint]models.Plan
	nextID   uint
	discount *float64
	subs     map[uint]int64
	failSave bool
}

func newFakeRepo(plans ...models.Plan) *fakeRepo {
	r := &fakeRepo{plans: map[uint]models.Plan{}, subs: map[uint]int64{}}
	for _, p := range plans {
		r.nextID++
		if p.ID == 0 {
			p.ID = r.nextID
		}
		r.plans[p.ID] = p
	}
	return r
}

func (r *fakeRepo) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	r.mu.Lock()
	snapshot := make(map[uint]models.Plan, len(r.plans))
	for k, v := range r.plans {
		snapshot[k] = v
	}
	discount := r.discount
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.plans = snapshot
		r.discount = discount
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *fakeRepo) find(match func(models.Plan) bool, what string) (*models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.plans {
		if match(p) {
			cp := p
			return &cp, nil
		}
	}
	return nil, apperrors.NotFoundf("plan %s", what)
}

func (r *fakeRepo) GetPlan(_ context.Context, id uint) (*models.Plan, error) {
	return r.find(func(p models.Plan) bool { return p.ID == id }, fmt.Sprint(id))
}

func (r *fakeRepo) GetPlanByName(_ context.Context, name string) (*models.Plan, error) {
	return r.find(func(p models.Plan) bool { return p.Name == name }, name)
}

func (r *fakeRepo) FindPlanByMonthlyPriceID(_ context.Context, id string) (*models.Plan, error) {
	return r.find(func(p models.Plan) bool { return p.ProviderMonthlyPriceID == id }, id)
}

func (r *fakeRepo) FindPlanByAnnualPriceID(_ context.Context, id string) (*models.Plan, error) {
	return r.find(func(p models.Plan) bool { return p.ProviderAnnualPriceID == id }, id)
}

func (r *fakeRepo) ListPlans(_ context.Context, includeInactive bool) ([]models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Plan
	for _, p := range r.plans {
		if includeInactive || p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreatePlan(_ context.Context, p *models.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.plans {
		if existing.Name == p.Name {
			return &apperrors.ConflictError{Resource: "plan", Key: p.Name}
		}
	}
	r.nextID++
	p.ID = r.nextID
	r.plans[p.ID] = *p
	return nil
}

func (r *fakeRepo) SavePlan(_ context.Context, p *models.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave {
		return errors.New("db unavailable")
	}
	r.plans[p.ID] = *p
	return nil
}

func (r *fakeRepo) DeletePlan(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plans, id)
	return nil
}

func (r *fakeRepo) CountSubscriptions(_ context.Context, planID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[planID], nil
}

func (r *fakeRepo) GetGlobalDiscount(context.Context) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.discount == nil {
		return 0, false, nil
	}
	return *r.discount, true, nil
}

func (r *fakeRepo) SetGlobalDiscount(_ context.Context, pct float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discount = &pct
	return nil
}

type fakeMirror struct {
	mu          sync.Mutex
	seq         int
	prices      map[string]int64
	active      map[string]bool
	products    map[string]bool
	failCreates bool
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{prices: map[string]int64{}, active: map[string]bool{}, products: map[string]bool{}}
}

func (m *fakeMirror) CreateProduct(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("prod_%s_%d", name, m.seq)
	m.products[id] = true
	return id, nil
}

func (m *fakeMirror) ArchiveProduct(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = false
	return nil
}

// activeProducts counts products that were created and not archived.
func (m *fakeMirror) activeProducts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, active := range m.products {
		if active {
			n++
		}
	}
	return n
}

func (m *fakeMirror) CreatePrice(_ context.Context, productID string, amount int64, interval string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreates {
		return "", &apperrors.BillingProviderError{Op: "create price", Transient: true, Err: errors.New("503")}
	}
	m.seq++
	id := fmt.Sprintf("price_%s_%d", interval, m.seq)
	m.prices[id] = amount
	m.active[id] = true
	return id, nil
}

func (m *fakeMirror) DeactivatePrice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = false
	return nil
}

func (m *fakeMirror) isActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
