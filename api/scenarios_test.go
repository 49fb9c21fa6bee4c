/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Variants and units are created
	- Sales, holds and returns leave units in the expected statuses
	- A second load of the same fixed IMEIs is refused
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/unit-ledger/inventory"
)

func countByStatus(t *testing.T, env *apiEnv) map[inventory.UnitStatus]int {
	t.Helper()
	counts := make(map[inventory.UnitStatus]int)
	for _, imei := range []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12} {
		u, err := env.mem.GetUnit(context.Background(), scenarioIMEI(imei))
		require.NoError(t, err)
		counts[u.Status]++
	}
	return counts
}

func TestListScenarios(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeInto[[]ScenarioDTO](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "phone-shop", list[0].ID)
}

func TestLoadScenario_PhoneShop(t *testing.T) {
	// GIVEN: an empty ledger
	env := newAPIEnv(t)

	// WHEN: loading the phone shop
	rec := env.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "phone-shop"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: all twelve units are in stock
	assert.Equal(t, map[inventory.UnitStatus]int{inventory.StatusAvailable: 12}, countByStatus(t, env))

	rec = env.do(http.MethodGet, "/api/variants", "", nil)
	assert.Len(t, decodeInto[[]VariantDTO](t, rec), 3)

	rec = env.do(http.MethodGet, "/api/scenarios/current", "", nil)
	assert.Equal(t, "phone-shop", decodeInto[ScenarioDTO](t, rec).ID)
}

func TestLoadScenario_BusyCounter(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "busy-counter"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Two sold, one returned, one held
	assert.Equal(t, map[inventory.UnitStatus]int{
		inventory.StatusAvailable: 8,
		inventory.StatusSold:      2,
		inventory.StatusReserved:  1,
		inventory.StatusReturned:  1,
	}, countByStatus(t, env))

	// WHEN: loading again over the same IMEIs
	rec = env.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "phone-shop"})

	// THEN: the intake conflicts and the current scenario is unchanged
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(http.MethodGet, "/api/scenarios/current", "", nil)
	assert.Equal(t, "busy-counter", decodeInto[ScenarioDTO](t, rec).ID)
}

func TestLoadScenario_Unknown(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "warehouse"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/api/scenarios/load", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
