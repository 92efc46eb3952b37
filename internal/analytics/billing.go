package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/logger"
	"github.com/quizhub/adminview/internal/lookup"
	"github.com/quizhub/adminview/internal/timerange"
)

// PlanRevenue is the revenue of one subscription plan in one
// currency.
type PlanRevenue struct {
	Plan          string          `json:"plan"`
	Currency      string          `json:"currency"`
	Revenue       decimal.Decimal `json:"revenue"`
	Subscriptions int             `json:"subscriptions"`
}

// BillingSummary aggregates subscriptions created in a window.
// Amounts in different currencies are never added together.
type BillingSummary struct {
	Revenue             map[string]decimal.Decimal `json:"revenue"`
	Subscriptions       int                        `json:"subscriptions"`
	ActiveSubscriptions int                        `json:"active_subscriptions"`
	TopPlans            []PlanRevenue              `json:"top_plans"`
	Currencies          []string                   `json:"currencies"`
}

type planCurrency struct {
	plan, currency string
}

// Billing builds the billing summary. Amounts are summed as exact
// decimals per currency; rows with unparseable amounts are logged
// and count as zero revenue. Rows without a currency are summed
// under lookup.Unknown.
func (b *Builder) Billing(
	ctx context.Context, r timerange.Range,
) (BillingSummary, error) {
	defer b.observe("billing", time.Now())

	subs, err := b.rows(ctx, "subscriptions", db.Query{
		Columns: []string{"id", "plan", "amount", "currency", "status"},
		Range:   r,
	})
	if err != nil {
		return BillingSummary{}, err
	}

	out := BillingSummary{
		Revenue:       map[string]decimal.Decimal{},
		Subscriptions: len(subs),
		TopPlans:      []PlanRevenue{},
	}
	revenue := make(map[planCurrency]decimal.Decimal)
	counts := make(map[planCurrency]int)
	for _, s := range subs {
		amount, err := decimal.NewFromString(s.String("amount"))
		if err != nil {
			b.log.Warn(ctx, "skipping unparseable amount",
				logger.String("subscription", s.String("id")),
				logger.Error(err))
			amount = decimal.Zero
		}
		currency := strings.ToUpper(strings.TrimSpace(s.String("currency")))
		if currency == "" {
			currency = lookup.Unknown
		}
		out.Revenue[currency] = out.Revenue[currency].Add(amount)
		if plan := s.String("plan"); plan != "" {
			k := planCurrency{plan, currency}
			revenue[k] = revenue[k].Add(amount)
			counts[k]++
		}
		if s.String("status") == "active" {
			out.ActiveSubscriptions++
		}
	}

	for k, rev := range revenue {
		out.TopPlans = append(out.TopPlans, PlanRevenue{
			Plan: k.plan, Currency: k.currency,
			Revenue: rev, Subscriptions: counts[k],
		})
	}
	sort.Slice(out.TopPlans, func(i, j int) bool {
		a, c := out.TopPlans[i], out.TopPlans[j]
		if a.Currency != c.Currency {
			return a.Currency < c.Currency
		}
		if cmp := a.Revenue.Cmp(c.Revenue); cmp != 0 {
			return cmp > 0
		}
		return a.Plan < c.Plan
	})
	// top N per currency; revenues are only comparable within one
	kept := out.TopPlans[:0]
	perCurrency := map[string]int{}
	for _, p := range out.TopPlans {
		if perCurrency[p.Currency] < b.topN {
			kept = append(kept, p)
			perCurrency[p.Currency]++
		}
	}
	out.TopPlans = kept

	out.Currencies = lo.Keys(out.Revenue)
	sort.Strings(out.Currencies)
	return out, nil
}
