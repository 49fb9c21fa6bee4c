/*
aggregate.go - Derived counters maintained from committed ledger events

PURPOSE:
  Variant stock and customer lifetime totals are never written by request
  handlers. The Maintainer applies the deltas carried by outbox events.

IDEMPOTENCY:
  Delivery is at-least-once. Each delta is keyed by (entity, event id) and
  recorded through MarkApplied in the same transaction that applies it, so a
  replayed event changes nothing.

CONVERGENCE:
  Reconcile recounts available units per variant and overwrites drifted stock
  counters. Pending events are marked applied for stock in the same
  transaction, because their unit transitions are already part of the count.

SEE ALSO:
  - events.go: event shapes
  - outbox/dispatcher.go: delivery loop calling Handle
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Maintainer struct {
	store  TxStore
	tiers  TierThresholds
	logger *logrus.Logger
}

func NewMaintainer(store TxStore, tiers TierThresholds, logger *logrus.Logger) *Maintainer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Maintainer{store: store, tiers: tiers, logger: logger}
}

func variantKey(id string) string  { return "variant:" + id }
func customerKey(id string) string { return "customer:" + id }

// Name identifies the maintainer as an outbox handler.
func (m *Maintainer) Name() string { return "aggregates" }

// Handle lets the outbox dispatcher deliver events.
func (m *Maintainer) Handle(ctx context.Context, ev Event) error {
	return m.Apply(ctx, ev)
}

// Apply applies the event's deltas exactly once per entity.
func (m *Maintainer) Apply(ctx context.Context, ev Event) error {
	return m.store.WithTx(ctx, func(s Store) error {
		for _, id := range ev.VariantIDs() {
			fresh, err := s.MarkApplied(ctx, variantKey(id), ev.ID)
			if err != nil {
				return err
			}
			if !fresh {
				continue
			}
			if err := s.AdjustVariantStock(ctx, id, ev.StockDeltas[id]); err != nil {
				return err
			}
		}

		if ev.CustomerID == "" || (ev.Amount.IsZero() && ev.OrderDelta == 0) {
			return nil
		}
		fresh, err := s.MarkApplied(ctx, customerKey(ev.CustomerID), ev.ID)
		if err != nil || !fresh {
			return err
		}
		c, err := s.GetCustomer(ctx, ev.CustomerID)
		if err != nil {
			return err
		}
		m.credit(&c, ev)
		return s.UpdateCustomer(ctx, c)
	})
}

// credit folds one event into the customer's lifetime totals.
func (m *Maintainer) credit(c *Customer, ev Event) {
	c.TotalSpent = c.TotalSpent.Add(ev.Amount)
	if c.TotalSpent.IsNegative() {
		c.TotalSpent = decimal.Zero
	}
	c.TotalOrders += ev.OrderDelta
	if c.TotalOrders < 0 {
		c.TotalOrders = 0
	}
	if ev.Type == EventSaleCommitted && (c.LastPurchaseDate == nil || ev.OccurredAt.After(*c.LastPurchaseDate)) {
		at := ev.OccurredAt
		c.LastPurchaseDate = &at
	}
	c.Tier = m.tiers.TierFor(c.TotalSpent, c.TotalOrders)
}

// Drift is one repaired stock counter.
type Drift struct {
	VariantID string `json:"variant_id"`
	Recorded  int    `json:"recorded"`
	Actual    int    `json:"actual"`
}

type ReconcileReport struct {
	Checked int       `json:"checked"`
	Drifts  []Drift   `json:"drifts"`
	RanAt   time.Time `json:"ran_at"`
}

// Reconcile recomputes every variant's stock from unit statuses.
func (m *Maintainer) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{RanAt: time.Now().UTC()}
	err := m.store.WithTx(ctx, func(s Store) error {
		report.Drifts = nil
		pending, err := s.PendingEvents(ctx, 0)
		if err != nil {
			return err
		}
		for _, ev := range pending {
			for _, id := range ev.VariantIDs() {
				if _, err := s.MarkApplied(ctx, variantKey(id), ev.ID); err != nil {
					return err
				}
			}
		}

		counts, err := s.CountAvailableByVariant(ctx)
		if err != nil {
			return err
		}
		variants, err := s.ListVariants(ctx)
		if err != nil {
			return err
		}
		report.Checked = len(variants)
		for _, v := range variants {
			actual := counts[v.ID]
			if v.StockCount == actual {
				continue
			}
			if err := s.SetVariantStock(ctx, v.ID, actual); err != nil {
				return err
			}
			report.Drifts = append(report.Drifts, Drift{VariantID: v.ID, Recorded: v.StockCount, Actual: actual})
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	for _, d := range report.Drifts {
		m.logger.WithFields(logrus.Fields{
			"module": "aggregates", "variant_id": d.VariantID, "recorded": d.Recorded, "actual": d.Actual,
		}).Warn("stock drift repaired")
	}
	return report, nil
}
