/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate an empty ledger with realistic
	data for demos and frontend development. Every record goes through the
	same engines the API uses, so loaded data obeys every ledger rule.

AVAILABLE SCENARIOS:

	phone-shop:    Three variants, one supplier delivery, two customers
	busy-counter:  phone-shop plus completed sales, an open hold and a return

HOW SCENARIOS WORK:
 1. Register catalog variants
 2. Receive units through an intake
 3. Register customers
 4. Optionally sell, hold and return units

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-counter"}

NOTE:

	Scenario IMEIs are fixed. Loading into a ledger that already holds them
	fails with a conflict; start from an empty database.

SEE ALSO:
  - handlers.go: Engines used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/unit-ledger/inventory"
)

const scenarioActor = "scenario-loader"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "phone-shop",
		Name:        "Phone Shop",
		Description: "Three variants with a fresh supplier delivery and two customers",
	},
	{
		ID:          "busy-counter",
		Name:        "Busy Counter",
		Description: "Phone shop after a morning of sales, one open hold and one return",
	},
}

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the scenario loaded by this process, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": nil})
}

// LoadScenario populates the ledger with a demo scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	var err error
	switch req.ScenarioID {
	case "phone-shop":
		_, err = h.loadPhoneShopScenario(r.Context())
	case "busy-counter":
		err = h.loadBusyCounterScenario(r.Context())
	default:
		writeError(w, http.StatusNotFound, "Scenario not found", fmt.Errorf("unknown scenario %q", req.ScenarioID))
		return
	}
	if err != nil {
		h.fail(w, "LoadScenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// scenarioIMEI builds a Luhn-valid IMEI under a fixed demo TAC.
func scenarioIMEI(n int) string {
	body := fmt.Sprintf("35847611%06d", n)
	return body + string(inventory.LuhnCheckDigit(body))
}

// shopState is what the phone-shop loader created, for scenarios built on it.
type shopState struct {
	imeis     map[string][]string // variant id -> received IMEIs
	customers []inventory.Customer
}

// =============================================================================
// SCENARIO: Phone Shop
// =============================================================================

func (h *Handler) loadPhoneShopScenario(ctx context.Context) (shopState, error) {
	state := shopState{imeis: make(map[string][]string)}

	variants := []inventory.Variant{
		{ID: "iphone-15-128-black", ProductID: "iphone-15", Storage: "128GB", Color: "black",
			RetailPrice: decimal.NewFromInt(22_990_000), CostPrice: decimal.NewFromInt(19_500_000)},
		{ID: "iphone-15-256-blue", ProductID: "iphone-15", Storage: "256GB", Color: "blue",
			RetailPrice: decimal.NewFromInt(25_990_000), CostPrice: decimal.NewFromInt(22_000_000)},
		{ID: "galaxy-s24-256-gray", ProductID: "galaxy-s24", Storage: "256GB", Color: "gray",
			RetailPrice: decimal.NewFromInt(20_490_000), CostPrice: decimal.NewFromInt(17_200_000)},
	}
	perVariant := []int{5, 3, 4}

	batch := inventory.IntakeBatch{SupplierID: "sup-fpt", SupplierName: "FPT Distribution"}
	n := 1
	for i, v := range variants {
		if _, err := h.Directory.PutVariant(ctx, v); err != nil {
			return state, fmt.Errorf("variant %s: %w", v.ID, err)
		}
		for j := 0; j < perVariant[i]; j++ {
			imei := scenarioIMEI(n)
			n++
			batch.Items = append(batch.Items, inventory.IntakeItem{
				IMEI:      imei,
				VariantID: v.ID,
				CostPrice: v.CostPrice,
			})
			state.imeis[v.ID] = append(state.imeis[v.ID], imei)
		}
	}
	if _, err := h.Intake.CommitIntake(ctx, batch, scenarioActor); err != nil {
		return state, fmt.Errorf("intake: %w", err)
	}

	for _, c := range []inventory.Customer{
		{Name: "Nguyen Thi Mai", Phone: "0912345001", Email: "mai@example.com"},
		{Name: "Tran Van Hung", Phone: "0912345002"},
	} {
		created, err := h.Directory.CreateCustomer(ctx, c)
		if err != nil {
			return state, fmt.Errorf("customer %s: %w", c.Name, err)
		}
		state.customers = append(state.customers, created)
	}
	return state, nil
}

// =============================================================================
// SCENARIO: Busy Counter
// =============================================================================

func (h *Handler) loadBusyCounterScenario(ctx context.Context) error {
	state, err := h.loadPhoneShopScenario(ctx)
	if err != nil {
		return err
	}
	black := state.imeis["iphone-15-128-black"]
	blue := state.imeis["iphone-15-256-blue"]
	galaxy := state.imeis["galaxy-s24-256-gray"]

	// Two iPhones to a known customer, paid by card
	first, err := h.Sales.ClaimAndSell(ctx, inventory.SaleInput{
		CustomerID:    state.customers[0].ID,
		IMEIs:         []string{black[0], blue[0]},
		PaymentMethod: inventory.PaymentCard,
	}, scenarioActor)
	if err != nil {
		return fmt.Errorf("card sale: %w", err)
	}

	// A walk-in cash sale with change
	if _, err := h.Sales.ClaimAndSell(ctx, inventory.SaleInput{
		CustomerName:   "Le Quoc Bao",
		CustomerPhone:  "0987654321",
		IMEIs:          []string{galaxy[0]},
		PaymentMethod:  inventory.PaymentCash,
		AmountReceived: decimal.NewFromInt(23_000_000),
	}, scenarioActor); err != nil {
		return fmt.Errorf("cash sale: %w", err)
	}

	// A cart still on hold at the counter
	if _, err := h.Sales.PlaceHold(ctx, inventory.SaleInput{
		CustomerID:    state.customers[1].ID,
		IMEIs:         []string{black[1]},
		PaymentMethod: inventory.PaymentTransfer,
	}, scenarioActor); err != nil {
		return fmt.Errorf("hold: %w", err)
	}

	// The blue iPhone comes back
	if _, err := h.Returns.ProcessReturn(ctx, blue[0], first.ID, scenarioActor); err != nil {
		return fmt.Errorf("return: %w", err)
	}
	return nil
}
