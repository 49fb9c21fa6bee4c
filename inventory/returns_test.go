package inventory_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/unit-ledger/inventory"
)

func TestReturnThenReimport_RoundTrip(t *testing.T) {
	// GIVEN: a two-unit order at 10% tax
	h := newHarness(t)
	h.variant(t, "v1", "30000000")
	h.variant(t, "v2", "25000000")
	a, b := makeIMEI(200), makeIMEI(201)
	h.stock(t, "v1", a)
	h.stock(t, "v2", b)
	order, err := h.sales.ClaimAndSell(h.ctx, cashSale([]string{a, b}, "60500000"), "cashier-1")
	require.NoError(t, err)
	h.drain(t)

	// WHEN: one unit comes back
	res, err := h.returns.ProcessReturn(h.ctx, a, order.ID, "cashier-2")
	require.NoError(t, err)
	h.drain(t)

	// THEN: the refund is the claim price plus tax and stock is unchanged
	assert.True(t, res.Refund.Equal(dec("33000000")), res.Refund.String())
	assert.True(t, strings.HasPrefix(res.Return.ReturnNumber, "RT250314"))
	assert.False(t, res.OrderFullyReturned)
	u := h.unit(t, a)
	assert.Equal(t, inventory.StatusReturned, u.Status)
	assert.Equal(t, inventory.Linkage{Kind: inventory.LinkReturn, ID: res.Return.ID}, u.Link)
	assert.Equal(t, 0, h.stockCount(t, "v1"))

	c, err := h.directory.GetCustomer(h.ctx, order.CustomerID)
	require.NoError(t, err)
	assert.True(t, c.TotalSpent.Equal(dec("27500000")), c.TotalSpent.String())
	assert.Equal(t, 1, c.TotalOrders, "partial return keeps the order count")

	// WHEN: the operator confirms the reimport
	_, err = h.returns.Reimport(h.ctx, a, "manager-1", false)
	assert.Equal(t, inventory.CodeConfirmationRequired, inventory.CodeOf(err))
	back, err := h.returns.Reimport(h.ctx, a, "manager-1", true)
	require.NoError(t, err)
	h.drain(t)

	// THEN: the unit is sellable again
	assert.Equal(t, inventory.StatusAvailable, back.Status)
	assert.Equal(t, inventory.Linkage{Kind: inventory.LinkIntake, ID: back.IntakeID}, back.Link)
	assert.True(t, back.RetailPriceAtClaim.IsZero())
	assert.Equal(t, 1, h.stockCount(t, "v1"))
	assert.Equal(t, h.availableCount(t, "v1"), h.stockCount(t, "v1"))

	// AND: returning the second unit completes the order return
	res, err = h.returns.ProcessReturn(h.ctx, b, order.ID, "cashier-2")
	require.NoError(t, err)
	assert.True(t, res.OrderFullyReturned)
	h.drain(t)
	c, err = h.directory.GetCustomer(h.ctx, order.CustomerID)
	require.NoError(t, err)
	assert.True(t, c.TotalSpent.IsZero(), c.TotalSpent.String())
	assert.Equal(t, 0, c.TotalOrders)
	assert.Equal(t, inventory.TierNew, c.Tier)
}

func TestProcessReturn_DiscountedOrderRefundsWhatWasPaid(t *testing.T) {
	// GIVEN: one full-price order and one order with a 10,000,000 discount, both at 10% tax
	h := newHarness(t)
	h.variant(t, "v1", "30000000")
	kept, returned := makeIMEI(230), makeIMEI(231)
	h.stock(t, "v1", kept, returned)

	first, err := h.sales.ClaimAndSell(h.ctx, cashSale([]string{kept}, "33000000"), "cashier-1")
	require.NoError(t, err)
	in := cashSale([]string{returned}, "23000000")
	in.Discount = dec("10000000")
	second, err := h.sales.ClaimAndSell(h.ctx, in, "cashier-1")
	require.NoError(t, err)
	require.True(t, second.TotalAmount.Equal(dec("23000000")), second.TotalAmount.String())
	h.drain(t)

	// WHEN: the discounted unit comes back
	res, err := h.returns.ProcessReturn(h.ctx, returned, second.ID, "cashier-2")
	require.NoError(t, err)
	h.drain(t)

	// THEN: the refund is what the customer paid, not the list price plus tax
	assert.True(t, res.Refund.Equal(dec("23000000")), res.Refund.String())
	assert.True(t, res.OrderFullyReturned)

	// AND: lifetime spend is exactly the kept order
	c, err := h.directory.GetCustomer(h.ctx, first.CustomerID)
	require.NoError(t, err)
	assert.True(t, c.TotalSpent.Equal(first.TotalAmount), c.TotalSpent.String())
	assert.Equal(t, 1, c.TotalOrders)
}

func TestProcessReturn_RefundsSumToDiscountedOrderTotal(t *testing.T) {
	// GIVEN: a three-unit order whose discount does not divide evenly
	h := newHarness(t)
	h.variant(t, "v1", "1000")
	imeis := makeIMEIs(240, 3)
	h.stock(t, "v1", imeis...)

	in := cashSale(imeis, "3200")
	in.Discount = dec("100")
	order, err := h.sales.ClaimAndSell(h.ctx, in, "cashier-1")
	require.NoError(t, err)
	// 3000 + 300 - 100
	require.True(t, order.TotalAmount.Equal(dec("3200")), order.TotalAmount.String())
	assert.True(t, order.Lines[0].DiscountShare.Equal(dec("33.33")), order.Lines[0].DiscountShare.String())
	assert.True(t, order.Lines[2].DiscountShare.Equal(dec("33.34")), order.Lines[2].DiscountShare.String())
	h.drain(t)

	// WHEN: every unit is returned
	refunded := dec("0")
	for _, imei := range imeis {
		res, err := h.returns.ProcessReturn(h.ctx, imei, order.ID, "cashier-2")
		require.NoError(t, err)
		refunded = refunded.Add(res.Refund)
	}
	h.drain(t)

	// THEN: the refunds add up to the order total and the customer is back to zero
	assert.True(t, refunded.Equal(order.TotalAmount), refunded.String())
	c, err := h.directory.GetCustomer(h.ctx, order.CustomerID)
	require.NoError(t, err)
	assert.True(t, c.TotalSpent.IsZero(), c.TotalSpent.String())
	assert.Equal(t, 0, c.TotalOrders)
}

func TestProcessReturn_Preconditions(t *testing.T) {
	h := newHarness(t)
	h.variant(t, "v1", "1000")
	sold, other, idle := makeIMEI(210), makeIMEI(211), makeIMEI(212)
	h.stock(t, "v1", sold, other, idle)
	order, err := h.sales.ClaimAndSell(h.ctx, cashSale([]string{sold}, "2000"), "cashier-1")
	require.NoError(t, err)
	otherOrder, err := h.sales.ClaimAndSell(h.ctx, cashSale([]string{other}, "2000"), "cashier-1")
	require.NoError(t, err)

	t.Run("unit not sold", func(t *testing.T) {
		_, err := h.returns.ProcessReturn(h.ctx, idle, order.ID, "cashier-1")
		var te *inventory.TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, inventory.StatusAvailable, te.From)
	})
	t.Run("unit sold on another order", func(t *testing.T) {
		_, err := h.returns.ProcessReturn(h.ctx, other, order.ID, "cashier-1")
		assert.ErrorIs(t, err, inventory.ErrState)
		assert.Equal(t, inventory.CodeOrderMismatch, inventory.CodeOf(err))
		assert.Equal(t, inventory.StatusSold, h.unit(t, other).Status)
	})
	t.Run("unknown order", func(t *testing.T) {
		_, err := h.returns.ProcessReturn(h.ctx, sold, "missing", "cashier-1")
		assert.ErrorIs(t, err, inventory.ErrNotFound)
	})
	t.Run("returned twice", func(t *testing.T) {
		_, err := h.returns.ProcessReturn(h.ctx, other, otherOrder.ID, "cashier-1")
		require.NoError(t, err)
		_, err = h.returns.ProcessReturn(h.ctx, other, otherOrder.ID, "cashier-1")
		assert.ErrorIs(t, err, inventory.ErrState)
	})
	t.Run("malformed imei", func(t *testing.T) {
		_, err := h.returns.ProcessReturn(h.ctx, "abc", order.ID, "cashier-1")
		assert.Equal(t, inventory.CodeInvalidIMEI, inventory.CodeOf(err))
	})
}

func TestReimport_RejectsIneligibleUnits(t *testing.T) {
	h := newHarness(t)
	h.variant(t, "v1", "1000")
	imei := makeIMEI(220)
	h.stock(t, "v1", imei)

	_, err := h.returns.Reimport(h.ctx, imei, "manager-1", true)
	var te *inventory.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, inventory.StatusAvailable, te.From)

	_, err = h.returns.Reimport(h.ctx, makeIMEI(221), "manager-1", true)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestMarkDefective_FromStockAndFromReturn(t *testing.T) {
	h := newHarness(t)
	h.variant(t, "v1", "1000")
	shelf, sold := makeIMEI(230), makeIMEI(231)
	h.stock(t, "v1", shelf, sold)
	order, err := h.sales.ClaimAndSell(h.ctx, cashSale([]string{sold}, "2000"), "cashier-1")
	require.NoError(t, err)
	_, err = h.returns.ProcessReturn(h.ctx, sold, order.ID, "cashier-1")
	require.NoError(t, err)
	h.drain(t)
	require.Equal(t, 1, h.stockCount(t, "v1"))

	u, err := h.returns.MarkDefective(h.ctx, shelf, "tech-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusDefective, u.Status)
	_, err = h.returns.MarkDefective(h.ctx, sold, "tech-1")
	require.NoError(t, err)
	h.drain(t)

	// only the shelf unit counted as stock
	assert.Equal(t, 0, h.stockCount(t, "v1"))

	// defective units stay out unless the policy allows reimport
	_, err = h.returns.Reimport(h.ctx, shelf, "manager-1", true)
	assert.ErrorIs(t, err, inventory.ErrState)
	_, err = h.returns.MarkDefective(h.ctx, shelf, "tech-1")
	assert.ErrorIs(t, err, inventory.ErrState)
}

func TestReimport_DefectiveWithPolicyOverride(t *testing.T) {
	h := newHarnessWithPolicy(t, inventory.ReimportPolicy{AllowDefective: true})
	h.variant(t, "v1", "1000")
	imei := makeIMEI(240)
	h.stock(t, "v1", imei)
	_, err := h.ledger.MarkDefective(h.ctx, imei, "tech-1")
	require.NoError(t, err)

	u, err := h.returns.Reimport(h.ctx, imei, "manager-1", true)
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusAvailable, u.Status)
	h.drain(t)
	assert.Equal(t, 1, h.stockCount(t, "v1"))
}
