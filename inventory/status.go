package inventory

// =============================================================================
// UNIT STATUS - Closed enumeration with an explicit transition table
// =============================================================================

type UnitStatus string

const (
	StatusAvailable UnitStatus = "available"
	StatusReserved  UnitStatus = "reserved"
	StatusSold      UnitStatus = "sold"
	StatusReturned  UnitStatus = "returned"
	StatusDefective UnitStatus = "defective"
)

// statusMissing is reported in conflicts for IMEIs the ledger has never seen.
const statusMissing UnitStatus = "missing"

// AllStatuses lists every lifecycle state.
var AllStatuses = []UnitStatus{
	StatusAvailable, StatusReserved, StatusSold, StatusReturned, StatusDefective,
}

func (s UnitStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusSold, StatusReturned, StatusDefective:
		return true
	}
	return false
}

type transition struct {
	from, to UnitStatus
}

// transitions holds every legal move. The bool marks moves that need an
// operator override.
var transitions = map[transition]bool{
	{StatusAvailable, StatusReserved}:  false,
	{StatusReserved, StatusSold}:       false,
	{StatusReserved, StatusAvailable}:  false,
	{StatusSold, StatusReturned}:       false,
	{StatusReturned, StatusAvailable}:  false,
	{StatusReturned, StatusDefective}:  false,
	{StatusAvailable, StatusDefective}: false,
	{StatusDefective, StatusAvailable}: true,
}

// CanTransition reports whether from → to is legal. Override-only moves are
// legal only when override is set.
func CanTransition(from, to UnitStatus, override bool) bool {
	needsOverride, ok := transitions[transition{from, to}]
	if !ok {
		return false
	}
	return !needsOverride || override
}

// CountsAsStock reports whether units in this state contribute to variant stock.
func (s UnitStatus) CountsAsStock() bool {
	return s == StatusAvailable
}
