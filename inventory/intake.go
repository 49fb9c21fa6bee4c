/*
intake.go - Supplier batch validation and commit

PURPOSE:
  Units enter the ledger only here. ValidateBatch classifies scanned IMEIs
  without writing anything; CommitIntake creates the accepted units and their
  PurchaseOrder in one transaction.

CLASSIFICATION:
  invalid   wrong format, bad Luhn check digit, or repeated in the batch
  existing  already in the ledger; canReimport follows the ReimportPolicy
  valid     well formed and unknown to the ledger

CONCURRENT INTAKE:
  Two clerks may scan the same box. Whichever commit lands second finds the
  IMEIs present and the whole batch is rejected with the overlapping subset.

SEE ALSO:
  - imei.go: format and checksum
  - returns.go: reimport outside of a supplier batch
*/
package inventory

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ReimportPolicy decides which existing units may come back into stock.
type ReimportPolicy struct {
	AllowDefective bool
}

// CanReimport reports whether a unit in status s may be reimported.
func (p ReimportPolicy) CanReimport(s UnitStatus) bool {
	return s == StatusReturned || (p.AllowDefective && s == StatusDefective)
}

// InvalidIMEI is a rejected candidate and why.
type InvalidIMEI struct {
	IMEI   string `json:"imei"`
	Reason string `json:"reason"`
}

// ExistingIMEI is a candidate already present in the ledger.
type ExistingIMEI struct {
	IMEI        string     `json:"imei"`
	Status      UnitStatus `json:"status"`
	ProductID   string     `json:"product_id"`
	VariantID   string     `json:"variant_id"`
	CanReimport bool       `json:"can_reimport"`
}

type BatchValidation struct {
	Valid    []string       `json:"valid"`
	Invalid  []InvalidIMEI  `json:"invalid"`
	Existing []ExistingIMEI `json:"existing"`
}

// IntakeBatch is a caller-approved set of units from one supplier delivery.
type IntakeBatch struct {
	SupplierID   string
	SupplierName string
	Items        []IntakeItem
	Reimport     []string
}

type IntakeEngine struct {
	ledger   *Ledger
	policy   ReimportPolicy
	prefixes NumberPrefixes
	suffix   func() uint32
}

func NewIntakeEngine(ledger *Ledger, policy ReimportPolicy, prefixes NumberPrefixes) *IntakeEngine {
	return &IntakeEngine{ledger: ledger, policy: policy, prefixes: prefixes.withDefaults(), suffix: randomSuffix}
}

// ValidateBatch classifies candidates in input order. It never writes.
func (e *IntakeEngine) ValidateBatch(ctx context.Context, imeis []string) (BatchValidation, error) {
	res := BatchValidation{Valid: []string{}, Invalid: []InvalidIMEI{}, Existing: []ExistingIMEI{}}
	seen := make(map[string]bool, len(imeis))
	var candidates []string
	for _, raw := range imeis {
		imei := strings.TrimSpace(raw)
		if reason := CheckIMEI(imei); reason != "" {
			res.Invalid = append(res.Invalid, InvalidIMEI{IMEI: imei, Reason: reason})
			continue
		}
		if seen[imei] {
			res.Invalid = append(res.Invalid, InvalidIMEI{IMEI: imei, Reason: ReasonDuplicate})
			continue
		}
		seen[imei] = true
		candidates = append(candidates, imei)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	known, err := e.ledger.store.GetUnits(ctx, candidates)
	if err != nil {
		return res, err
	}
	for _, imei := range candidates {
		u, ok := known[imei]
		if !ok {
			res.Valid = append(res.Valid, imei)
			continue
		}
		res.Existing = append(res.Existing, ExistingIMEI{
			IMEI:        imei,
			Status:      u.Status,
			ProductID:   u.ProductID,
			VariantID:   u.VariantID,
			CanReimport: e.policy.CanReimport(u.Status),
		})
	}
	return res, nil
}

// CommitIntake creates every new unit and reimports every listed unit under
// one PurchaseOrder, or changes nothing.
func (e *IntakeEngine) CommitIntake(ctx context.Context, batch IntakeBatch, actor string) (PurchaseOrder, error) {
	keys, err := validateIntake(batch)
	if err != nil {
		return PurchaseOrder{}, err
	}

	var po PurchaseOrder
	err = e.ledger.atomically(ctx, "commit_intake", actor, keys, func(t *txn) error {
		existing, err := t.GetUnits(t.ctx, keys)
		if err != nil {
			return err
		}

		var conflicts []Conflict
		for _, it := range batch.Items {
			if u, ok := existing[it.IMEI]; ok {
				conflicts = append(conflicts, Conflict{IMEI: it.IMEI, Status: u.Status})
			}
		}
		for _, imei := range batch.Reimport {
			u, ok := existing[imei]
			switch {
			case !ok:
				conflicts = append(conflicts, Conflict{IMEI: imei, Status: statusMissing})
			case !e.policy.CanReimport(u.Status):
				conflicts = append(conflicts, Conflict{IMEI: imei, Status: u.Status})
			}
		}
		if len(conflicts) > 0 {
			return &UnitConflictError{Code: CodeIntakeConflict, Conflicts: conflicts}
		}

		number, err := allocateNumber(t.ctx, t, e.prefixes.Intake, t.now, e.suffix)
		if err != nil {
			return err
		}
		po = PurchaseOrder{
			ID:           newID(),
			Number:       number,
			SupplierID:   batch.SupplierID,
			SupplierName: batch.SupplierName,
			TotalAmount:  decimal.Zero,
			Status:       PurchaseReceived,
			CreatedBy:    t.actor,
			CreatedAt:    t.now,
		}
		link := Linkage{Kind: LinkIntake, ID: po.ID}

		variants := map[string]Variant{}
		var stocked []Unit
		for _, it := range batch.Items {
			v, ok := variants[it.VariantID]
			if !ok {
				if v, err = t.GetVariant(t.ctx, it.VariantID); err != nil {
					return err
				}
				variants[it.VariantID] = v
			}
			if it.ProductID == "" {
				it.ProductID = v.ProductID
			} else if it.ProductID != v.ProductID {
				return &ValidationError{Code: CodeInvalidInput, Field: "product_id",
					Message: it.IMEI + ": variant " + v.ID + " belongs to product " + v.ProductID}
			}
			u := Unit{
				IMEI:               it.IMEI,
				ProductID:          it.ProductID,
				VariantID:          it.VariantID,
				Status:             StatusAvailable,
				CostPrice:          it.CostPrice,
				RetailPriceAtClaim: decimal.Zero,
				IntakeID:           po.ID,
				Link:               link,
				Version:            1,
				CreatedAt:          t.now,
				StatusChangedAt:    t.now,
				UpdatedBy:          t.actor,
			}
			if err := t.InsertUnit(t.ctx, u); err != nil {
				if errors.Is(err, ErrDuplicateIMEI) {
					return &UnitConflictError{Code: CodeIntakeConflict, Conflicts: []Conflict{{IMEI: it.IMEI, Status: StatusAvailable}}}
				}
				return err
			}
			t.moved[StatusAvailable]++
			po.Items = append(po.Items, it)
			po.TotalAmount = po.TotalAmount.Add(it.CostPrice)
			stocked = append(stocked, u)
		}

		for _, imei := range SortedKeys(batch.Reimport) {
			prev := existing[imei]
			edited := prev
			edited.IntakeID = po.ID
			edited.RetailPriceAtClaim = decimal.Zero
			next, err := t.moveFrom(prev, edited, StatusAvailable, link, prev.Status == StatusDefective)
			if err != nil {
				return err
			}
			po.Reimported = append(po.Reimported, imei)
			stocked = append(stocked, next)
		}
		po.TotalItemsReceived = len(stocked)

		if err := t.InsertPurchaseOrder(t.ctx, po); err != nil {
			return err
		}
		t.emit(newEvent(EventIntakeCommitted, po.ID, t.now).withUnits(stocked, +1))
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}

	e.ledger.logger.WithFields(logrus.Fields{
		"module":     "intake",
		"po_number":  po.Number,
		"received":   len(po.Items),
		"reimported": len(po.Reimported),
		"supplier":   po.SupplierName,
	}).Info("intake committed")
	return po, nil
}

// validateIntake rejects malformed batches and returns the IMEIs to lock.
func validateIntake(batch IntakeBatch) ([]string, error) {
	if len(batch.Items) == 0 && len(batch.Reimport) == 0 {
		return nil, &ValidationError{Code: CodeInvalidInput, Field: "items", Message: "batch is empty"}
	}
	if strings.TrimSpace(batch.SupplierID) == "" && strings.TrimSpace(batch.SupplierName) == "" {
		return nil, &ValidationError{Code: CodeInvalidInput, Field: "supplier", Message: "supplier is required"}
	}

	var bad []string
	seen := map[string]bool{}
	keys := make([]string, 0, len(batch.Items)+len(batch.Reimport))
	check := func(imei string) {
		if reason := CheckIMEI(imei); reason != "" {
			bad = append(bad, imei+" ("+reason+")")
			return
		}
		if seen[imei] {
			bad = append(bad, imei+" ("+ReasonDuplicate+")")
			return
		}
		seen[imei] = true
		keys = append(keys, imei)
	}
	for _, it := range batch.Items {
		check(it.IMEI)
		if it.VariantID == "" {
			return nil, &ValidationError{Code: CodeInvalidInput, Field: "variant_id", Message: it.IMEI + ": variant is required"}
		}
		if it.CostPrice.IsNegative() {
			return nil, &ValidationError{Code: CodeInvalidInput, Field: "cost_price", Message: it.IMEI + ": cost cannot be negative"}
		}
	}
	for _, imei := range batch.Reimport {
		check(imei)
	}
	if len(bad) > 0 {
		return nil, &ValidationError{Code: CodeInvalidIMEI, Field: "imei", Message: strings.Join(bad, ", ")}
	}
	return keys, nil
}
