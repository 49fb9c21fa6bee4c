package inventory

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// RETURN / REIMPORT ENGINE
// =============================================================================

// RefundResult describes a processed return.
type RefundResult struct {
	Return             ReturnRecord
	Unit               Unit
	Refund             decimal.Decimal
	OrderFullyReturned bool
}

type ReturnEngine struct {
	ledger   *Ledger
	policy   ReimportPolicy
	prefixes NumberPrefixes
	suffix   func() uint32
}

func NewReturnEngine(ledger *Ledger, policy ReimportPolicy, prefixes NumberPrefixes) *ReturnEngine {
	return &ReturnEngine{ledger: ledger, policy: policy, prefixes: prefixes.withDefaults(), suffix: randomSuffix}
}

// ProcessReturn takes back a sold unit of orderID and refunds its
// claim-time price plus the order's tax on it.
func (e *ReturnEngine) ProcessReturn(ctx context.Context, imei, orderID, actor string) (RefundResult, error) {
	imei = strings.TrimSpace(imei)
	if reason := CheckIMEI(imei); reason != "" {
		return RefundResult{}, &ValidationError{Code: CodeInvalidIMEI, Field: "imei", Message: imei + ": " + reason}
	}
	if strings.TrimSpace(orderID) == "" {
		return RefundResult{}, &ValidationError{Code: CodeInvalidInput, Field: "order_id", Message: "order id is required"}
	}

	var res RefundResult
	err := e.ledger.atomically(ctx, "process_return", actor, []string{imei}, func(t *txn) error {
		u, err := t.GetUnit(t.ctx, imei)
		if err != nil {
			return err
		}
		o, err := t.GetSalesOrder(t.ctx, orderID)
		if err != nil {
			return err
		}
		if u.Status != StatusSold {
			return &TransitionError{IMEI: imei, From: u.Status, To: StatusReturned}
		}
		if u.Link != (Linkage{Kind: LinkSale, ID: o.ID}) || o.Status != OrderCompleted {
			return &StateError{Code: CodeOrderMismatch, Message: imei + " was not sold on order " + o.OrderNumber}
		}

		number, err := allocateNumber(t.ctx, t, e.prefixes.Return, t.now, e.suffix)
		if err != nil {
			return err
		}
		rr := ReturnRecord{
			ID:           newID(),
			ReturnNumber: number,
			IMEI:         imei,
			SalesOrderID: o.ID,
			CustomerID:   o.CustomerID,
			RefundAmount: RefundFor(u, o),
			CreatedBy:    t.actor,
			CreatedAt:    t.now,
		}
		if err := t.InsertReturn(t.ctx, rr); err != nil {
			return err
		}
		next, err := t.move(u, StatusReturned, Linkage{Kind: LinkReturn, ID: rr.ID}, false)
		if err != nil {
			return err
		}

		returns, err := t.ReturnsByOrder(t.ctx, o.ID)
		if err != nil {
			return err
		}
		full := len(returns) >= len(o.Lines)

		ev := newEvent(EventReturnCommitted, o.ID, t.now).withUnits([]Unit{next}, 0)
		ev.CustomerID = o.CustomerID
		ev.Amount = rr.RefundAmount.Neg()
		if full {
			ev.OrderDelta = -1
		}
		t.emit(ev)

		res = RefundResult{Return: rr, Unit: next, Refund: rr.RefundAmount, OrderFullyReturned: full}
		return nil
	})
	if err != nil {
		return RefundResult{}, err
	}

	e.ledger.logger.WithFields(logrus.Fields{
		"module":        "returns",
		"imei":          imei,
		"return_number": res.Return.ReturnNumber,
		"refund":        res.Refund.String(),
	}).Info("return processed")
	return res, nil
}

// Reimport puts a returned unit back into stock. Defective units qualify
// only when the policy allows it. The operator must confirm.
func (e *ReturnEngine) Reimport(ctx context.Context, imei, actor string, confirmed bool) (Unit, error) {
	imei = strings.TrimSpace(imei)
	if !confirmed {
		return Unit{}, &ValidationError{Code: CodeConfirmationRequired, Field: "confirmed", Message: "reimport of " + imei + " needs operator confirmation"}
	}
	if reason := CheckIMEI(imei); reason != "" {
		return Unit{}, &ValidationError{Code: CodeInvalidIMEI, Field: "imei", Message: imei + ": " + reason}
	}

	var out Unit
	err := e.ledger.atomically(ctx, "reimport", actor, []string{imei}, func(t *txn) error {
		u, err := t.GetUnit(t.ctx, imei)
		if err != nil {
			return err
		}
		if !e.policy.CanReimport(u.Status) {
			return &TransitionError{IMEI: imei, From: u.Status, To: StatusAvailable}
		}
		edited := u
		edited.RetailPriceAtClaim = decimal.Zero
		out, err = t.moveFrom(u, edited, StatusAvailable, Linkage{Kind: LinkIntake, ID: u.IntakeID}, u.Status == StatusDefective)
		if err != nil {
			return err
		}
		t.emit(newEvent(EventUnitReimported, "", t.now).withUnits([]Unit{out}, +1))
		return nil
	})
	return out, err
}

// MarkDefective retires a unit from stock or from a return.
func (e *ReturnEngine) MarkDefective(ctx context.Context, imei, actor string) (Unit, error) {
	return e.ledger.MarkDefective(ctx, strings.TrimSpace(imei), actor)
}
