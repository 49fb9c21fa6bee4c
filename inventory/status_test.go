package inventory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/unit-ledger/inventory"
)

func TestCanTransition(t *testing.T) {
	legal := map[[2]inventory.UnitStatus]bool{
		{inventory.StatusAvailable, inventory.StatusReserved}:  true,
		{inventory.StatusReserved, inventory.StatusSold}:       true,
		{inventory.StatusReserved, inventory.StatusAvailable}:  true,
		{inventory.StatusSold, inventory.StatusReturned}:       true,
		{inventory.StatusReturned, inventory.StatusAvailable}:  true,
		{inventory.StatusReturned, inventory.StatusDefective}:  true,
		{inventory.StatusAvailable, inventory.StatusDefective}: true,
	}
	for _, from := range inventory.AllStatuses {
		for _, to := range inventory.AllStatuses {
			want := legal[[2]inventory.UnitStatus{from, to}]
			assert.Equal(t, want, inventory.CanTransition(from, to, false), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_DefectiveNeedsOverride(t *testing.T) {
	assert.False(t, inventory.CanTransition(inventory.StatusDefective, inventory.StatusAvailable, false))
	assert.True(t, inventory.CanTransition(inventory.StatusDefective, inventory.StatusAvailable, true))
	// the override never opens other moves
	assert.False(t, inventory.CanTransition(inventory.StatusSold, inventory.StatusAvailable, true))
	assert.False(t, inventory.CanTransition(inventory.StatusDefective, inventory.StatusSold, true))
}

func TestCountsAsStock(t *testing.T) {
	for _, s := range inventory.AllStatuses {
		assert.Equal(t, s == inventory.StatusAvailable, s.CountsAsStock(), string(s))
	}
	assert.False(t, inventory.UnitStatus("missing").Valid())
}
