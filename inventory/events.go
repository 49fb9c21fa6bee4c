package inventory

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// EVENTS - Committed ledger facts, written to the outbox in the same
// transaction as the unit transitions they describe
// =============================================================================

type EventType string

const (
	EventIntakeCommitted EventType = "intake.committed"
	EventUnitsClaimed    EventType = "units.claimed"
	EventHoldReleased    EventType = "hold.released"
	EventSaleCommitted   EventType = "sale.committed"
	EventReturnCommitted EventType = "return.committed"
	EventUnitReimported  EventType = "unit.reimported"
	EventUnitRetired     EventType = "unit.retired"
)

// Event carries the aggregate deltas of one committed ledger transition.
// StockDeltas keep every variant's stock equal to its count of available units.
type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	OrderID     string          `json:"order_id,omitempty"`
	CustomerID  string          `json:"customer_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	OrderDelta  int             `json:"order_delta,omitempty"`
	StockDeltas map[string]int  `json:"stock_deltas,omitempty"`
	IMEIs       []string        `json:"imeis,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`

	Attempts    int        `json:"-"`
	LastError   string     `json:"-"`
	DeliveredAt *time.Time `json:"-"`
}

func newEvent(typ EventType, orderID string, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		OrderID:     orderID,
		Amount:      decimal.Zero,
		StockDeltas: map[string]int{},
		OccurredAt:  at,
	}
}

// withUnits records the IMEIs and adds sign to the stock of each unit's variant.
func (e Event) withUnits(units []Unit, sign int) Event {
	for _, u := range units {
		e.IMEIs = append(e.IMEIs, u.IMEI)
		if sign != 0 {
			e.StockDeltas[u.VariantID] += sign
		}
	}
	sort.Strings(e.IMEIs)
	return e
}

// VariantIDs returns the variants touched by the event in sorted order.
func (e Event) VariantIDs() []string {
	ids := make([]string, 0, len(e.StockDeltas))
	for id, d := range e.StockDeltas {
		if d != 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Notifier is told when new events have been committed.
type Notifier interface {
	Notify()
}

type noopNotifier struct{}

func (noopNotifier) Notify() {}
