package inventory_test

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/unit-ledger/inventory"
	"github.com/warp/unit-ledger/inventory/store"
)

func (h *harness) customer(t *testing.T, name, phone string) inventory.Customer {
	t.Helper()
	c, err := h.directory.CreateCustomer(h.ctx, inventory.Customer{Name: name, Phone: phone})
	require.NoError(t, err)
	return c
}

func TestSearchCustomers_TraversalIsStableUnderInserts(t *testing.T) {
	// GIVEN: 37 customers
	h := newHarness(t)
	for i := 0; i < 37; i++ {
		h.customer(t, fmt.Sprintf("Customer %02d", i), fmt.Sprintf("09123450%02d", i))
	}

	// WHEN: paging by name, 10 per page, with inserts on both sides of the cursor
	seen := map[string]int{}
	var names []string
	req := inventory.SearchRequest{Sort: "name", Limit: 10}
	pages := 0
	for {
		page, err := h.searcher.SearchCustomers(h.ctx, req)
		require.NoError(t, err)
		pages++
		for _, c := range page.Data {
			seen[c.ID]++
			names = append(names, c.Name)
		}
		if pages == 1 {
			h.customer(t, "AAA early bird", "0987654301")
			h.customer(t, "zzz late comer", "0987654302")
		}
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		require.NotEmpty(t, page.NextCursor)
		req.Cursor = page.NextCursor
	}

	// THEN: no row repeats, the row after the cursor is picked up, the one before is not
	assert.Equal(t, 4, pages)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	assert.Len(t, names, 38)
	assert.True(t, sort.StringsAreSorted(names))
	assert.Equal(t, "zzz late comer", names[len(names)-1])
	assert.NotContains(t, names, "AAA early bird")
}

func TestSearchCustomers_FiltersAndValidation(t *testing.T) {
	h := newHarness(t)
	h.customer(t, "Tran Thi B", "0912345001")
	h.customer(t, "Le Van C", "0912345002")

	page, err := h.searcher.SearchCustomers(h.ctx, inventory.SearchRequest{Filter: inventory.Filter{Text: "tran"}})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Tran Thi B", page.Data[0].Name)
	assert.False(t, page.HasMore)

	// Local phone form matches the stored E.164 number
	page, err = h.searcher.SearchCustomers(h.ctx, inventory.SearchRequest{Filter: inventory.Filter{Text: "0912345002"}})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Le Van C", page.Data[0].Name)

	h.customer(t, "NGUYỄN THỊ ÁNH", "0912345003")
	page, err = h.searcher.SearchCustomers(h.ctx, inventory.SearchRequest{Filter: inventory.Filter{Text: "ánh"}})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "NGUYỄN THỊ ÁNH", page.Data[0].Name)

	inactive := false
	page, err = h.searcher.SearchCustomers(h.ctx, inventory.SearchRequest{Filter: inventory.Filter{Active: &inactive}})
	require.NoError(t, err)
	assert.Empty(t, page.Data)

	_, err = h.searcher.SearchCustomers(h.ctx, inventory.SearchRequest{Sort: "password"})
	assert.ErrorIs(t, err, inventory.ErrValidation)
	_, err = h.searcher.SearchCustomers(h.ctx, inventory.SearchRequest{Order: "sideways"})
	assert.ErrorIs(t, err, inventory.ErrValidation)
	_, err = h.searcher.SearchCustomers(h.ctx, inventory.SearchRequest{Cursor: "%%%"})
	assert.ErrorIs(t, err, inventory.ErrValidation)
}

func TestSearchUnits_StatusFilterNumericSortAndCursorBinding(t *testing.T) {
	h := newHarness(t)
	h.variant(t, "v1", "1000")
	imeis := makeIMEIs(400, 5)
	items := make([]inventory.IntakeItem, len(imeis))
	for i, imei := range imeis {
		// 900, 9000, 90000, ... so text order differs from numeric order
		items[i] = inventory.IntakeItem{IMEI: imei, VariantID: "v1", CostPrice: dec("9").Shift(int32(i + 2))}
	}
	_, err := h.intake.CommitIntake(h.ctx, inventory.IntakeBatch{SupplierName: "Acme", Items: items}, "staff-1")
	require.NoError(t, err)
	_, err = h.sales.ClaimAndSell(h.ctx, cashSale(imeis[:1], "5000"), "cashier-1")
	require.NoError(t, err)

	page, err := h.searcher.SearchUnits(h.ctx, inventory.SearchRequest{
		Filter: inventory.Filter{Statuses: []inventory.UnitStatus{inventory.StatusAvailable}},
		Sort:   "cost_price",
		Order:  inventory.SortDesc,
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, imeis[4], page.Data[0].IMEI)
	assert.Equal(t, imeis[3], page.Data[1].IMEI)

	next, err := h.searcher.SearchUnits(h.ctx, inventory.SearchRequest{
		Filter: inventory.Filter{Statuses: []inventory.UnitStatus{inventory.StatusAvailable}},
		Sort:   "cost_price", Order: inventory.SortDesc, Limit: 2, Cursor: page.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, next.Data, 2)
	assert.Equal(t, imeis[2], next.Data[0].IMEI)
	assert.Equal(t, imeis[1], next.Data[1].IMEI)
	assert.False(t, next.HasMore)

	// a cursor minted for one sort cannot drive another
	_, err = h.searcher.SearchUnits(h.ctx, inventory.SearchRequest{Sort: "imei", Cursor: page.NextCursor})
	assert.ErrorIs(t, err, inventory.ErrValidation)

	_, err = h.searcher.SearchUnits(h.ctx, inventory.SearchRequest{Filter: inventory.Filter{Statuses: []inventory.UnitStatus{"lost"}}})
	assert.ErrorIs(t, err, inventory.ErrValidation)

	byPrefix, err := h.searcher.SearchUnits(h.ctx, inventory.SearchRequest{Filter: inventory.Filter{Text: imeis[0][:13]}})
	require.NoError(t, err)
	assert.NotEmpty(t, byPrefix.Data)
}

func TestCursor_RoundTrip(t *testing.T) {
	key := inventory.CursorKey{Value: "a|b", ID: "id-1"}
	got, err := inventory.DecodeCursor(inventory.EncodeCursor("name", key), "name")
	require.NoError(t, err)
	assert.Equal(t, key, *got)

	none, err := inventory.DecodeCursor("", "name")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSearchUsers_PagingVisitsEveryRowOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	properties.Property("keyset traversal yields every row exactly once in order", prop.ForAll(
		func(n, pageSize int, desc bool) bool {
			ctx := context.Background()
			mem := store.NewMemory()
			base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < n; i++ {
				err := mem.InsertUser(ctx, inventory.User{
					ID:        fmt.Sprintf("u-%03d", i),
					Name:      fmt.Sprintf("user-%d", i%7),
					IsActive:  true,
					CreatedAt: base.Add(time.Duration(i%5) * time.Hour),
				})
				if err != nil {
					return false
				}
			}
			order := inventory.SortAsc
			if desc {
				order = inventory.SortDesc
			}
			searcher := inventory.NewSearcher(mem, "")
			req := inventory.SearchRequest{Sort: "name", Order: order, Limit: pageSize}
			var keys []inventory.CursorKey
			for guard := 0; guard <= n+1; guard++ {
				page, err := searcher.SearchUsers(ctx, req)
				if err != nil || len(page.Data) > pageSize {
					return false
				}
				for _, u := range page.Data {
					keys = append(keys, inventory.CursorKey{Value: u.Name, ID: u.ID})
				}
				if !page.HasMore {
					break
				}
				req.Cursor = page.NextCursor
			}
			if len(keys) != n {
				return false
			}
			field := inventory.UserSortFields["name"]
			for i := 1; i < len(keys); i++ {
				c := inventory.CompareKeys(field, keys[i-1], keys[i])
				if (!desc && c >= 0) || (desc && c <= 0) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 60),
		gen.IntRange(1, 15),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
