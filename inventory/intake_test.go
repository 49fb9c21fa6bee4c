package inventory_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/unit-ledger/inventory"
)

// =============================================================================
// BATCH VALIDATION
// =============================================================================

func TestValidateBatch_ClassifiesCandidates(t *testing.T) {
	// GIVEN: one unit already in stock
	h := newHarness(t)
	h.variant(t, "v-128-black", "30000000")
	existing := makeIMEI(1)
	h.stock(t, "v-128-black", existing)

	fresh := makeIMEI(2)
	res, err := h.intake.ValidateBatch(h.ctx, []string{
		fresh,
		"490154203237519", // bad check digit
		"12345",           // wrong length
		fresh,             // repeated in batch
		" " + existing + " ",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{fresh}, res.Valid)
	require.Len(t, res.Invalid, 3)
	assert.Equal(t, inventory.ReasonChecksum, res.Invalid[0].Reason)
	assert.Equal(t, inventory.ReasonFormat, res.Invalid[1].Reason)
	assert.Equal(t, inventory.InvalidIMEI{IMEI: fresh, Reason: inventory.ReasonDuplicate}, res.Invalid[2])
	require.Len(t, res.Existing, 1)
	assert.Equal(t, existing, res.Existing[0].IMEI)
	assert.Equal(t, inventory.StatusAvailable, res.Existing[0].Status)
	assert.False(t, res.Existing[0].CanReimport)
}

func TestValidateBatch_EmptyInputHasEmptyLists(t *testing.T) {
	h := newHarness(t)
	res, err := h.intake.ValidateBatch(h.ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, res.Valid)
	assert.NotNil(t, res.Invalid)
	assert.NotNil(t, res.Existing)
}

// =============================================================================
// COMMIT
// =============================================================================

func TestCommitIntake_CreatesAvailableUnits(t *testing.T) {
	// GIVEN: a variant with no stock
	h := newHarness(t)
	h.variant(t, "v-256-blue", "35000000")

	// WHEN: one unit is received at 31,000,000
	po, err := h.intake.CommitIntake(h.ctx, inventory.IntakeBatch{
		SupplierID:   "sup-1",
		SupplierName: "Acme Mobile",
		Items: []inventory.IntakeItem{
			{IMEI: "490154203237518", VariantID: "v-256-blue", CostPrice: dec("31000000")},
		},
	}, "staff-1")
	require.NoError(t, err)
	h.drain(t)

	// THEN: the unit is available, linked to the purchase order, and stock is 1
	assert.True(t, strings.HasPrefix(po.Number, "PO250314"), po.Number)
	assert.Len(t, po.Number, len("PO")+6+6)
	assert.Equal(t, 1, po.TotalItemsReceived)
	assert.True(t, po.TotalAmount.Equal(dec("31000000")))
	assert.Equal(t, inventory.PurchaseReceived, po.Status)

	u := h.unit(t, "490154203237518")
	assert.Equal(t, inventory.StatusAvailable, u.Status)
	assert.True(t, u.CostPrice.Equal(dec("31000000")))
	assert.Equal(t, "prod-v-256-blue", u.ProductID)
	assert.Equal(t, po.ID, u.IntakeID)
	assert.Equal(t, inventory.Linkage{Kind: inventory.LinkIntake, ID: po.ID}, u.Link)
	assert.True(t, u.LinkConsistent())
	assert.Equal(t, 1, h.stockCount(t, "v-256-blue"))

	stored, err := h.store.GetPurchaseOrder(h.ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, po.Number, stored.Number)
}

func TestCommitIntake_ExistingIMEIRejectsWholeBatch(t *testing.T) {
	// GIVEN: one IMEI already in the ledger
	h := newHarness(t)
	h.variant(t, "v1", "1000")
	taken := makeIMEI(10)
	h.stock(t, "v1", taken)

	// WHEN: a batch mixes it with new IMEIs
	batch := inventory.IntakeBatch{SupplierName: "Acme", Items: []inventory.IntakeItem{
		{IMEI: makeIMEI(11), VariantID: "v1", CostPrice: dec("900")},
		{IMEI: taken, VariantID: "v1", CostPrice: dec("900")},
	}}
	_, err := h.intake.CommitIntake(h.ctx, batch, "staff-1")

	// THEN: nothing is created and the conflict names the IMEI
	var conflict *inventory.UnitConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, inventory.CodeIntakeConflict, conflict.Code)
	assert.Equal(t, []string{taken}, conflict.IMEIs())
	assert.Equal(t, inventory.KindConflict, inventory.KindOf(err))

	_, err = h.ledger.GetUnit(h.ctx, makeIMEI(11))
	assert.ErrorIs(t, err, inventory.ErrNotFound)
	assert.Equal(t, 1, h.stockCount(t, "v1"))
}

func TestCommitIntake_ValidationErrors(t *testing.T) {
	h := newHarness(t)
	h.variant(t, "v1", "1000")

	tests := []struct {
		name  string
		batch inventory.IntakeBatch
		code  string
	}{
		{"empty batch", inventory.IntakeBatch{SupplierName: "Acme"}, inventory.CodeInvalidInput},
		{"no supplier", inventory.IntakeBatch{Items: []inventory.IntakeItem{{IMEI: makeIMEI(1), VariantID: "v1"}}}, inventory.CodeInvalidInput},
		{"bad checksum", inventory.IntakeBatch{SupplierName: "Acme", Items: []inventory.IntakeItem{{IMEI: "490154203237519", VariantID: "v1"}}}, inventory.CodeInvalidIMEI},
		{"duplicate in batch", inventory.IntakeBatch{SupplierName: "Acme", Items: []inventory.IntakeItem{
			{IMEI: makeIMEI(1), VariantID: "v1"}, {IMEI: makeIMEI(1), VariantID: "v1"},
		}}, inventory.CodeInvalidIMEI},
		{"negative cost", inventory.IntakeBatch{SupplierName: "Acme", Items: []inventory.IntakeItem{{IMEI: makeIMEI(1), VariantID: "v1", CostPrice: dec("-1")}}}, inventory.CodeInvalidInput},
		{"missing variant", inventory.IntakeBatch{SupplierName: "Acme", Items: []inventory.IntakeItem{{IMEI: makeIMEI(1)}}}, inventory.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.intake.CommitIntake(h.ctx, tt.batch, "staff-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, inventory.ErrValidation)
			assert.Equal(t, tt.code, inventory.CodeOf(err))
		})
	}
}

func TestCommitIntake_UnknownVariantIsNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.intake.CommitIntake(h.ctx, inventory.IntakeBatch{
		SupplierName: "Acme",
		Items:        []inventory.IntakeItem{{IMEI: makeIMEI(3), VariantID: "nope"}},
	}, "staff-1")
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestCommitIntake_ReimportsReturnedUnit(t *testing.T) {
	// GIVEN: a unit sold and then returned
	h := newHarness(t)
	h.variant(t, "v1", "1000")
	imei := makeIMEI(20)
	first := h.stock(t, "v1", imei)
	order, err := h.sales.ClaimAndSell(h.ctx, cashSale([]string{imei}, "1100"), "staff-1")
	require.NoError(t, err)
	_, err = h.returns.ProcessReturn(h.ctx, imei, order.ID, "staff-1")
	require.NoError(t, err)
	h.drain(t)
	require.Equal(t, 0, h.stockCount(t, "v1"))

	// WHEN: the next delivery lists it for reimport
	po, err := h.intake.CommitIntake(h.ctx, inventory.IntakeBatch{SupplierName: "Acme", Reimport: []string{imei}}, "staff-2")
	require.NoError(t, err)
	h.drain(t)

	// THEN: the unit is back in stock under the new purchase order
	assert.Equal(t, []string{imei}, po.Reimported)
	assert.Equal(t, 1, po.TotalItemsReceived)
	u := h.unit(t, imei)
	assert.Equal(t, inventory.StatusAvailable, u.Status)
	assert.Equal(t, po.ID, u.IntakeID)
	assert.NotEqual(t, first.ID, u.IntakeID)
	assert.True(t, u.RetailPriceAtClaim.IsZero())
	assert.Equal(t, 1, h.stockCount(t, "v1"))
}

func TestCommitIntake_ReimportOfAvailableUnitConflicts(t *testing.T) {
	h := newHarness(t)
	h.variant(t, "v1", "1000")
	imei := makeIMEI(30)
	h.stock(t, "v1", imei)

	_, err := h.intake.CommitIntake(h.ctx, inventory.IntakeBatch{SupplierName: "Acme", Reimport: []string{imei, makeIMEI(31)}}, "staff-1")

	var conflict *inventory.UnitConflictError
	require.True(t, errors.As(err, &conflict))
	assert.ElementsMatch(t, []string{imei, makeIMEI(31)}, conflict.IMEIs())
}

func TestCommitIntake_DefectiveReimportFollowsPolicy(t *testing.T) {
	for _, allow := range []bool{false, true} {
		h := newHarnessWithPolicy(t, inventory.ReimportPolicy{AllowDefective: allow})
		h.variant(t, "v1", "1000")
		imei := makeIMEI(40)
		h.stock(t, "v1", imei)
		_, err := h.ledger.MarkDefective(h.ctx, imei, "staff-1")
		require.NoError(t, err)

		_, err = h.intake.CommitIntake(h.ctx, inventory.IntakeBatch{SupplierName: "Acme", Reimport: []string{imei}}, "staff-1")
		if !allow {
			assert.ErrorIs(t, err, inventory.ErrConflict)
			assert.Equal(t, inventory.StatusDefective, h.unit(t, imei).Status)
			continue
		}
		require.NoError(t, err)
		h.drain(t)
		assert.Equal(t, inventory.StatusAvailable, h.unit(t, imei).Status)
		assert.Equal(t, 1, h.stockCount(t, "v1"))
	}
}
