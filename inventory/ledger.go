/*
ledger.go - Atomic unit state transitions

PURPOSE:
  The Ledger is the only component that writes units. It exposes the atomic
  primitives the engines are built from: claim, commit, release and retire.

CRITICAL INVARIANTS:
  1. ALL-OR-NOTHING: a multi-unit claim either reserves every unit or none
  2. ORDERED LOCKING: unit locks are taken in sorted IMEI order
  3. COMPARE-AND-SWAP: every unit write checks (status, version)
  4. OUTBOX: aggregate events are appended in the same transaction as the
     transitions they describe, so a committed transition always has its event

EXECUTION MODEL:
  Every public operation runs through atomically():

    lock(sorted IMEIs) -> WithTx(fn + append events) -> unlock
          ^                                                |
          +---- retry with backoff on retryable errors ----+

  A retryable failure that outlives the RetryPolicy budget surfaces as a
  *TransientError. Business failures (conflicts, illegal transitions) are
  returned on the first attempt.

SEE ALSO:
  - status.go: transition table
  - sale.go, intake.go, returns.go: engines built on these primitives
  - events.go: event shapes written to the outbox
*/
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/warp/unit-ledger/inventory"

// LedgerConfig wires the collaborators of a Ledger. Zero values get defaults.
type LedgerConfig struct {
	Locker      Locker
	Retry       RetryPolicy
	LockTimeout time.Duration
	Clock       func() time.Time
	Logger      *logrus.Logger
	Metrics     *Metrics
	Notifier    Notifier
	// SweepBatch is how many expired orders one sweep query returns.
	SweepBatch int
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store       TxStore
	locker      Locker
	retry       RetryPolicy
	lockTimeout time.Duration
	clock       func() time.Time
	logger      *logrus.Logger
	metrics     *Metrics
	notifier    Notifier
	sweepBatch  int
	tracer      trace.Tracer
}

func NewLedger(store TxStore, cfg LedgerConfig) *Ledger {
	l := &Ledger{
		store:       store,
		locker:      cfg.Locker,
		retry:       cfg.Retry.normalized(),
		lockTimeout: cfg.LockTimeout,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		notifier:    cfg.Notifier,
		sweepBatch:  cfg.SweepBatch,
		tracer:      otel.Tracer(tracerName),
	}
	if l.sweepBatch <= 0 {
		l.sweepBatch = 100
	}
	if l.locker == nil {
		l.locker = NewLocalLocker()
	}
	if l.lockTimeout <= 0 {
		l.lockTimeout = 5 * time.Second
	}
	if l.clock == nil {
		l.clock = func() time.Time { return time.Now().UTC() }
	}
	if l.logger == nil {
		l.logger = logrus.StandardLogger()
	}
	if l.notifier == nil {
		l.notifier = noopNotifier{}
	}
	return l
}

// SetNotifier replaces the notifier told about committed events.
func (l *Ledger) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	l.notifier = n
}

// Store exposes the underlying store for read-only callers.
func (l *Ledger) Store() TxStore { return l.store }

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time { return l.clock() }

// =============================================================================
// TRANSACTION SCOPE
// =============================================================================

// txn is the view a transaction body works through. It buffers the events
// and transition counts of the current attempt.
type txn struct {
	Store
	ctx    context.Context
	now    time.Time
	actor  string
	events []Event
	moved  map[UnitStatus]int
}

func (t *txn) emit(e Event) {
	t.events = append(t.events, e)
}

// atomically runs fn under the unit locks for keys inside one store
// transaction, retrying retryable failures.
func (l *Ledger) atomically(ctx context.Context, op, actor string, keys []string, fn func(t *txn) error) error {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(
		attribute.Int("units.count", len(keys)),
		attribute.String("actor", actor),
	))
	defer span.End()

	var committed *txn
	err := l.retry.Do(ctx, op, func(attempt int) error {
		if attempt > 0 {
			l.metrics.retried(op)
			span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", attempt)))
		}
		lockCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
		unlock, err := l.locker.Lock(lockCtx, keys)
		cancel()
		if err != nil {
			return err
		}
		defer unlock()

		var t *txn
		err = l.store.WithTx(ctx, func(s Store) error {
			t = &txn{Store: s, ctx: ctx, now: l.clock(), actor: actor, moved: map[UnitStatus]int{}}
			if err := fn(t); err != nil {
				return err
			}
			if len(t.events) == 0 {
				return nil
			}
			return s.AppendEvents(ctx, t.events)
		})
		if err == nil {
			committed = t
		}
		return err
	})

	l.metrics.observe(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry := l.logger.WithFields(logrus.Fields{"module": "ledger", "op": op, "actor": actor, "kind": KindOf(err)})
		if IsClientError(err) {
			entry.WithError(err).Debug("operation rejected")
		} else {
			entry.WithError(err).Error("operation failed")
		}
		return err
	}

	for to, n := range committed.moved {
		l.metrics.transitioned(to, n)
	}
	if len(committed.events) > 0 {
		l.notifier.Notify()
	}
	return nil
}

// =============================================================================
// PRIMITIVES - Run inside a txn
// =============================================================================

// move applies a state machine transition and swaps the unit in the store.
func (t *txn) move(u Unit, to UnitStatus, link Linkage, override bool) (Unit, error) {
	return t.moveFrom(u, u, to, link, override)
}

// moveFrom is move for callers that changed non-status fields on a copy of prev.
func (t *txn) moveFrom(prev, edited Unit, to UnitStatus, link Linkage, override bool) (Unit, error) {
	if !CanTransition(prev.Status, to, override) {
		return Unit{}, &TransitionError{IMEI: prev.IMEI, From: prev.Status, To: to}
	}
	next := edited
	next.Status = to
	next.Link = link
	next.StatusChangedAt = t.now
	next.UpdatedBy = t.actor
	if to != StatusReserved {
		next.HoldExpiresAt = nil
	}
	if err := t.CompareAndSwapUnit(t.ctx, prev, next); err != nil {
		return Unit{}, err
	}
	next.Version = prev.Version + 1
	t.moved[to]++
	return next, nil
}

// claim reserves every IMEI for orderID or returns a *UnitConflictError
// listing all blockers. Nothing is written when a conflict is found.
func (t *txn) claim(imeis []string, orderID string, holdUntil time.Time) ([]Unit, error) {
	sorted := SortedKeys(imeis)
	current, err := t.GetUnits(t.ctx, sorted)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, imei := range sorted {
		u, ok := current[imei]
		switch {
		case !ok:
			conflicts = append(conflicts, Conflict{IMEI: imei, Status: statusMissing})
		case u.Status != StatusAvailable:
			conflicts = append(conflicts, Conflict{IMEI: imei, Status: u.Status})
		}
	}
	if len(conflicts) > 0 {
		return nil, &UnitConflictError{Code: CodeUnitConflict, Conflicts: conflicts}
	}

	variants := map[string]Variant{}
	claimed := make([]Unit, 0, len(sorted))
	for _, imei := range sorted {
		u := current[imei]
		v, ok := variants[u.VariantID]
		if !ok {
			if v, err = t.GetVariant(t.ctx, u.VariantID); err != nil {
				return nil, err
			}
			variants[u.VariantID] = v
		}
		u.RetailPriceAtClaim = v.RetailPrice
		hold := holdUntil
		u.HoldExpiresAt = &hold

		next, err := t.moveFrom(current[imei], u, StatusReserved, Linkage{Kind: LinkSale, ID: orderID}, false)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, next)
	}

	t.emit(newEvent(EventUnitsClaimed, orderID, t.now).withUnits(claimed, -1))
	return claimed, nil
}

// release returns the order's reserved units to stock. When before is set
// only holds that expired before it are released.
func (t *txn) release(orderID string, before *time.Time) ([]Unit, error) {
	units, err := t.UnitsByLink(t.ctx, Linkage{Kind: LinkSale, ID: orderID})
	if err != nil {
		return nil, err
	}
	var released []Unit
	for _, u := range units {
		if u.Status != StatusReserved {
			continue
		}
		if before != nil && (u.HoldExpiresAt == nil || !u.HoldExpiresAt.Before(*before)) {
			continue
		}
		edited := u
		edited.RetailPriceAtClaim = decimal.Zero
		next, err := t.moveFrom(u, edited, StatusAvailable, Linkage{Kind: LinkIntake, ID: u.IntakeID}, false)
		if err != nil {
			return nil, err
		}
		released = append(released, next)
	}
	if len(released) > 0 {
		t.emit(newEvent(EventHoldReleased, orderID, t.now).withUnits(released, +1))
	}
	return released, nil
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// ClaimUnits reserves every IMEI for orderID until now+hold, all or nothing.
func (l *Ledger) ClaimUnits(ctx context.Context, imeis []string, orderID string, hold time.Duration, actor string) ([]Unit, error) {
	if len(imeis) == 0 {
		return nil, &ValidationError{Code: CodeEmptyCart, Message: "no units to claim"}
	}
	if orderID == "" {
		return nil, &ValidationError{Code: CodeInvalidInput, Field: "order_id", Message: "order id is required"}
	}
	var claimed []Unit
	err := l.atomically(ctx, "claim_units", actor, imeis, func(t *txn) error {
		var err error
		claimed, err = t.claim(imeis, orderID, t.now.Add(hold))
		return err
	})
	return claimed, err
}

// CommitSale moves every unit reserved under orderID to sold and completes
// the order. Replaying a committed order returns it unchanged.
func (l *Ledger) CommitSale(ctx context.Context, orderID, actor string) (SalesOrder, error) {
	stored, err := l.store.GetSalesOrder(ctx, orderID)
	if err != nil {
		return SalesOrder{}, err
	}
	if stored.Status == OrderCompleted {
		return stored, nil
	}

	var out SalesOrder
	err = l.atomically(ctx, "commit_sale", actor, stored.IMEIs(), func(t *txn) error {
		o, err := t.GetSalesOrder(t.ctx, orderID)
		if err != nil {
			return err
		}
		switch o.Status {
		case OrderCompleted:
			out = o
			return nil
		case OrderCancelled:
			return &StateError{Code: CodeIllegalTransition, Message: "order " + o.OrderNumber + " was cancelled"}
		}

		units, err := t.GetUnits(t.ctx, o.IMEIs())
		if err != nil {
			return err
		}
		var conflicts []Conflict
		for _, imei := range o.IMEIs() {
			u, ok := units[imei]
			switch {
			case !ok:
				conflicts = append(conflicts, Conflict{IMEI: imei, Status: statusMissing})
			case u.Status != StatusReserved || u.Link != (Linkage{Kind: LinkSale, ID: orderID}):
				conflicts = append(conflicts, Conflict{IMEI: imei, Status: u.Status})
			}
		}
		if len(conflicts) > 0 {
			return &UnitConflictError{Code: CodeUnitConflict, Conflicts: conflicts}
		}

		sold := make([]Unit, 0, len(units))
		for _, imei := range SortedKeys(o.IMEIs()) {
			next, err := t.move(units[imei], StatusSold, Linkage{Kind: LinkSale, ID: orderID}, false)
			if err != nil {
				return err
			}
			sold = append(sold, next)
		}

		completed := t.now
		o.Status = OrderCompleted
		o.CompletedAt = &completed
		if err := t.UpdateSalesOrder(t.ctx, o); err != nil {
			return err
		}

		ev := newEvent(EventSaleCommitted, o.ID, t.now).withUnits(sold, 0)
		ev.CustomerID = o.CustomerID
		ev.Amount = o.TotalAmount
		ev.OrderDelta = 1
		t.emit(ev)
		out = o
		return nil
	})
	return out, err
}

// ReleaseResult reports what a release returned to stock.
type ReleaseResult struct {
	OrderID  string   `json:"order_id"`
	Released []string `json:"released"`
	Reason   string   `json:"reason"`
}

// ReleaseHold returns the order's reserved units to stock and cancels the
// pending order. Completed orders cannot be released.
func (l *Ledger) ReleaseHold(ctx context.Context, orderID, actor, reason string) (ReleaseResult, error) {
	return l.releaseHold(ctx, orderID, actor, reason, nil)
}

func (l *Ledger) releaseHold(ctx context.Context, orderID, actor, reason string, before *time.Time) (ReleaseResult, error) {
	res := ReleaseResult{OrderID: orderID, Reason: reason}
	units, err := l.store.UnitsByLink(ctx, Linkage{Kind: LinkSale, ID: orderID})
	if err != nil {
		return res, err
	}
	keys := make([]string, len(units))
	for i, u := range units {
		keys[i] = u.IMEI
	}

	err = l.atomically(ctx, "release_hold", actor, keys, func(t *txn) error {
		res.Released = nil
		o, err := t.GetSalesOrder(t.ctx, orderID)
		hasOrder := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if hasOrder && o.Status == OrderCompleted {
			return &StateError{Code: CodeIllegalTransition, Message: "order " + o.OrderNumber + " is already completed"}
		}
		if !hasOrder && len(units) == 0 {
			return notFound("hold", orderID)
		}

		released, err := t.release(orderID, before)
		if err != nil {
			return err
		}
		for _, u := range released {
			res.Released = append(res.Released, u.IMEI)
		}

		if !hasOrder || o.Status != OrderPending {
			return nil
		}
		if before != nil && len(released) == 0 {
			return nil
		}
		o.Status = OrderCancelled
		return t.UpdateSalesOrder(t.ctx, o)
	})
	if err == nil && len(res.Released) > 0 {
		l.logger.WithFields(logrus.Fields{
			"module": "ledger", "order_id": orderID, "units": len(res.Released), "reason": reason,
		}).Info("hold released")
	}
	return res, err
}

// ReleaseExpiredHolds releases every hold that expired before now and
// returns the number of units put back in stock. Orders whose release fails
// are logged and skipped; the next sweep picks them up again.
func (l *Ledger) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int, error) {
	total := 0
	after := ""
	for {
		orderIDs, err := l.store.ExpiredHoldOrders(ctx, now, after, l.sweepBatch)
		if err != nil {
			return total, err
		}
		for _, id := range orderIDs {
			res, err := l.releaseHold(ctx, id, "system", "hold expired", &now)
			if err != nil {
				l.logger.WithFields(logrus.Fields{"module": "ledger", "order_id": id}).WithError(err).Warn("expired hold not released")
				continue
			}
			total += len(res.Released)
		}
		if len(orderIDs) < l.sweepBatch {
			return total, nil
		}
		after = orderIDs[len(orderIDs)-1]
	}
}

// MarkDefective retires a unit that is available or returned.
func (l *Ledger) MarkDefective(ctx context.Context, imei, actor string) (Unit, error) {
	if reason := CheckIMEI(imei); reason != "" {
		return Unit{}, &ValidationError{Code: CodeInvalidIMEI, Field: "imei", Message: imei + ": " + reason}
	}
	var out Unit
	err := l.atomically(ctx, "mark_defective", actor, []string{imei}, func(t *txn) error {
		u, err := t.GetUnit(t.ctx, imei)
		if err != nil {
			return err
		}
		stock := 0
		if u.Status.CountsAsStock() {
			stock = -1
		}
		link := u.Link
		if u.Status == StatusAvailable {
			link = Linkage{Kind: LinkIntake, ID: u.IntakeID}
		}
		out, err = t.move(u, StatusDefective, link, false)
		if err != nil {
			return err
		}
		t.emit(newEvent(EventUnitRetired, "", t.now).withUnits([]Unit{out}, stock))
		return nil
	})
	return out, err
}

// =============================================================================
// READS
// =============================================================================

func (l *Ledger) GetUnit(ctx context.Context, imei string) (Unit, error) {
	return l.store.GetUnit(ctx, imei)
}

func (l *Ledger) GetSalesOrder(ctx context.Context, id string) (SalesOrder, error) {
	return l.store.GetSalesOrder(ctx, id)
}

func newID() string { return uuid.NewString() }
