package plancatalog

import (
	"math"

	"github.com/ManuelReschke/Taskly/app/models"
)

// AnnualPriceCents returns monthlyCents*12*(1-discount/100) rounded half-up
// to the cent. The discount is taken to two decimal places.
func AnnualPriceCents(monthlyCents int64, discountPercent float64) int64 {
	if monthlyCents <= 0 {
		return 0
	}
	keep := 10000 - int64(math.Round(discountPercent*100))
	if keep < 0 {
		keep = 0
	}
	if keep > 10000 {
		keep = 10000
	}
	return (monthlyCents*12*keep + 5000) / 10000
}

// effectiveDiscount applies the override-beats-global rule. Free and
// zero-priced plans never carry a discount.
func effectiveDiscount(plan *models.Plan, global float64) float64 {
	if plan.IsFree() || plan.MonthlyPriceCents == 0 {
		return 0
	}
	if plan.AnnualDiscountPercent != nil {
		return *plan.AnnualDiscountPercent
	}
	return global
}

// priceForInterval returns the amount billed per interval.
func priceForInterval(plan *models.Plan, global float64, interval string) int64 {
	if interval == models.BillingIntervalYear {
		return AnnualPriceCents(plan.MonthlyPriceCents, effectiveDiscount(plan, global))
	}
	return plan.MonthlyPriceCents
}
