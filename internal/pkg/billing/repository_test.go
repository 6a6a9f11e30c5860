package billing

import (
	"context"
	"testing"

	"github.com/ManuelReschke/Taskly/app/models"
	"github.com/ManuelReschke/Taskly/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/Taskly/internal/pkg/plancatalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormLedgerReplayAndDeletion(t *testing.T) {
	db := dbtest.OpenForTest(t)
	ctx := context.Background()

	free := models.Plan{Name: models.PlanFree, IsActive: true}
	basic := models.Plan{Name: models.PlanBasic, MonthlyPriceCents: 999, ProviderMonthlyPriceID: "price_basic_m", ProviderAnnualPriceID: "price_basic_y", IsActive: true}
	require.NoError(t, db.Create(&free).Error)
	require.NoError(t, db.Create(&basic).Error)
	user := models.User{Name: "Dora", Email: "dora@example.com"}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&models.Subscription{
		UserID: user.ID, PlanID: basic.ID, BillingInterval: "month", Status: "active",
		ProviderCustomerID: strPtr("cus_1"), ProviderSubscriptionID: strPtr("sub_1"),
	}).Error)

	ledger := NewLedgerFromDB(db, plancatalog.NewCatalogFromDB(db, nil), nil)
	paid := invoicePaid("evt_1", "in_1", ReasonSubscriptionCreate, "price_basic_m", 999, 0)
	require.NoError(t, ledger.HandleEvent(ctx, paid))
	require.NoError(t, ledger.HandleEvent(ctx, paid))

	var count int64
	require.NoError(t, db.Model(&models.PaymentRecord{}).Where("provider_invoice_id = ?", "in_1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	deleted := &Event{ID: "evt_2", Type: EventSubscriptionDeleted, CreatedAt: at(5), Subscription: &SubscriptionSnapshot{SubscriptionID: "sub_1"}}
	require.NoError(t, ledger.HandleEvent(ctx, deleted))
	require.NoError(t, ledger.HandleEvent(ctx, deleted))

	sub, err := ledger.GetSubscription(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, free.ID, sub.PlanID)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Nil(t, sub.ProviderSubscriptionID)

	var cancellations []models.PaymentRecord
	require.NoError(t, db.Where("user_id = ? AND kind = ?", user.ID, models.TransactionCancellation).Find(&cancellations).Error)
	require.Len(t, cancellations, 1)
	assert.Equal(t, int64(0), cancellations[0].AmountCents)

	history, err := ledger.PaymentHistory(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
