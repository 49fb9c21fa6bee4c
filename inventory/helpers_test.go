package inventory_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/warp/unit-ledger/inventory"
	"github.com/warp/unit-ledger/inventory/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	ctx        context.Context
	store      *store.Memory
	clock      *testClock
	ledger     *inventory.Ledger
	directory  *inventory.Directory
	intake     *inventory.IntakeEngine
	sales      *inventory.SaleEngine
	returns    *inventory.ReturnEngine
	maintainer *inventory.Maintainer
	searcher   *inventory.Searcher
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithPolicy(t, inventory.ReimportPolicy{})
}

func newHarnessWithPolicy(t *testing.T, policy inventory.ReimportPolicy) *harness {
	t.Helper()
	mem := store.NewMemory()
	clock := &testClock{now: time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)}
	logger := quietLogger()
	ledger := inventory.NewLedger(mem, inventory.LedgerConfig{
		Clock:  clock.Now,
		Logger: logger,
		Retry:  inventory.RetryPolicy{MaxAttempts: 20, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	return &harness{
		ctx:       context.Background(),
		store:     mem,
		clock:     clock,
		ledger:    ledger,
		directory: inventory.NewDirectory(ledger, ""),
		intake:    inventory.NewIntakeEngine(ledger, policy, inventory.NumberPrefixes{}),
		sales: inventory.NewSaleEngine(ledger, inventory.SaleConfig{
			HoldTimeout:    15 * time.Minute,
			DefaultTaxRate: dec("0.1"),
		}),
		returns:    inventory.NewReturnEngine(ledger, policy, inventory.NumberPrefixes{}),
		maintainer: inventory.NewMaintainer(mem, inventory.DefaultTierThresholds, logger),
		searcher:   inventory.NewSearcher(mem, ""),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// makeIMEI returns a Luhn-valid IMEI derived from n.
func makeIMEI(n int) string {
	body := fmt.Sprintf("35693803%06d", n)
	return body + string(inventory.LuhnCheckDigit(body))
}

func makeIMEIs(from, count int) []string {
	out := make([]string, count)
	for i := range out {
		out[i] = makeIMEI(from + i)
	}
	return out
}

// variant registers a catalog variant at the given retail price.
func (h *harness) variant(t *testing.T, id, retail string) inventory.Variant {
	t.Helper()
	v, err := h.directory.PutVariant(h.ctx, inventory.Variant{
		ID:          id,
		ProductID:   "prod-" + id,
		Storage:     "128GB",
		Color:       "black",
		RetailPrice: dec(retail),
		CostPrice:   dec(retail).Mul(dec("0.8")),
	})
	require.NoError(t, err)
	return v
}

// stock commits an intake of imeis into variantID and drains the outbox.
func (h *harness) stock(t *testing.T, variantID string, imeis ...string) inventory.PurchaseOrder {
	t.Helper()
	items := make([]inventory.IntakeItem, len(imeis))
	for i, imei := range imeis {
		items[i] = inventory.IntakeItem{IMEI: imei, VariantID: variantID, CostPrice: dec("1000")}
	}
	po, err := h.intake.CommitIntake(h.ctx, inventory.IntakeBatch{SupplierName: "Acme Mobile", Items: items}, "staff-1")
	require.NoError(t, err)
	h.drain(t)
	return po
}

// drain applies every pending outbox event to the aggregates.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	events, err := h.store.PendingEvents(h.ctx, 0)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, h.maintainer.Apply(h.ctx, ev))
		require.NoError(t, h.store.MarkDelivered(h.ctx, ev.ID, h.clock.Now()))
	}
}

func (h *harness) unit(t *testing.T, imei string) inventory.Unit {
	t.Helper()
	u, err := h.ledger.GetUnit(h.ctx, imei)
	require.NoError(t, err)
	return u
}

func (h *harness) stockCount(t *testing.T, variantID string) int {
	t.Helper()
	v, err := h.store.GetVariant(h.ctx, variantID)
	require.NoError(t, err)
	return v.StockCount
}

// availableCount counts available units of a variant straight from the ledger.
func (h *harness) availableCount(t *testing.T, variantID string) int {
	t.Helper()
	counts, err := h.store.CountAvailableByVariant(h.ctx)
	require.NoError(t, err)
	return counts[variantID]
}

func cashSale(imeis []string, received string) inventory.SaleInput {
	return inventory.SaleInput{
		CustomerName:   "Nguyen Van A",
		CustomerPhone:  "0912345678",
		IMEIs:          imeis,
		PaymentMethod:  inventory.PaymentCash,
		AmountReceived: dec(received),
	}
}
