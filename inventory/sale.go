/*
sale.go - Atomic multi-unit sale

PURPOSE:
  Turns a cart of IMEIs into a completed SalesOrder. The claim, the pricing,
  the payment check and the pending order are written in one transaction, so
  a rejected sale leaves no reserved unit and no order behind.

FLOW:
  1. validate input (no storage access)
  2. claim every unit, snapshotting the live retail price
  3. price: subtotal, tax, discount, shipping
  4. cash: reject when amountReceived < total
  5. allocate an order number, insert the pending order
  6. commit: units reserved -> sold, order pending -> completed
  7. events reach the aggregates through the outbox

IDEMPOTENCY:
  A sale carrying an idempotency key that already produced an order returns
  that order. If the first attempt stopped between hold and commit, the retry
  finishes the commit.

SEE ALSO:
  - ledger.go: claim / CommitSale primitives
  - pricing.go: totals and change
*/
package inventory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SaleInput is a checkout request. Totals are never taken from the caller.
type SaleInput struct {
	CustomerID     string
	CustomerName   string
	CustomerPhone  string
	IMEIs          []string
	PaymentMethod  PaymentMethod
	AmountReceived decimal.Decimal
	TaxRate        *decimal.Decimal // nil uses the engine default
	Discount       decimal.Decimal
	Shipping       decimal.Decimal
	IdempotencyKey string
}

// SaleConfig holds the sale engine settings.
type SaleConfig struct {
	HoldTimeout    time.Duration
	DefaultTaxRate decimal.Decimal
	Prefixes       NumberPrefixes
	PhoneRegion    string
}

type SaleEngine struct {
	ledger *Ledger
	cfg    SaleConfig
	suffix func() uint32
}

func NewSaleEngine(ledger *Ledger, cfg SaleConfig) *SaleEngine {
	if cfg.HoldTimeout <= 0 {
		cfg.HoldTimeout = 15 * time.Minute
	}
	cfg.Prefixes = cfg.Prefixes.withDefaults()
	return &SaleEngine{ledger: ledger, cfg: cfg, suffix: randomSuffix}
}

// ClaimAndSell reserves, prices and commits a sale in one call.
func (e *SaleEngine) ClaimAndSell(ctx context.Context, in SaleInput, actor string) (SalesOrder, error) {
	o, err := e.PlaceHold(ctx, in, actor)
	if err != nil {
		return SalesOrder{}, err
	}
	if o.Status == OrderCompleted {
		return o, nil
	}
	return e.ledger.CommitSale(ctx, o.ID, actor)
}

// PlaceHold reserves the cart and records a pending order priced at the
// claim-time retail prices. The hold lapses after the configured timeout
// unless the order is committed.
func (e *SaleEngine) PlaceHold(ctx context.Context, in SaleInput, actor string) (SalesOrder, error) {
	in, err := e.normalize(in)
	if err != nil {
		return SalesOrder{}, err
	}

	if in.IdempotencyKey != "" {
		existing, err := e.ledger.store.GetSalesOrderByKey(ctx, in.IdempotencyKey)
		switch {
		case err == nil:
			return e.replay(existing)
		case !errors.Is(err, ErrNotFound):
			return SalesOrder{}, err
		}
	}

	var (
		order  SalesOrder
		replay bool
	)
	err = e.ledger.atomically(ctx, "place_hold", actor, in.IMEIs, func(t *txn) error {
		replay = false
		if in.IdempotencyKey != "" {
			existing, err := t.GetSalesOrderByKey(t.ctx, in.IdempotencyKey)
			if err == nil {
				order, replay = existing, true
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		customer, err := e.resolveCustomer(t, in)
		if err != nil {
			return err
		}

		orderID := newID()
		holdUntil := t.now.Add(e.cfg.HoldTimeout)
		claimed, err := t.claim(in.IMEIs, orderID, holdUntil)
		if err != nil {
			return err
		}

		byIMEI := make(map[string]Unit, len(claimed))
		for _, u := range claimed {
			byIMEI[u.IMEI] = u
		}
		lines := make([]OrderLine, len(in.IMEIs))
		prices := make([]decimal.Decimal, len(in.IMEIs))
		for i, imei := range in.IMEIs {
			u := byIMEI[imei]
			lines[i] = OrderLine{IMEI: u.IMEI, ProductID: u.ProductID, VariantID: u.VariantID, Price: u.RetailPriceAtClaim}
			prices[i] = u.RetailPriceAtClaim
		}
		totals := ComputeTotals(prices, *in.TaxRate, in.Discount, in.Shipping)
		if totals.Total.IsNegative() {
			return &ValidationError{Code: CodeInvalidInput, Field: "discount_amount", Message: "discount exceeds order total"}
		}
		for i := range lines {
			lines[i].TaxShare = totals.TaxShares[i]
			lines[i].DiscountShare = totals.DiscountShares[i]
		}
		received, change, err := settle(in.PaymentMethod, totals.Total, in.AmountReceived)
		if err != nil {
			return err
		}

		number, err := allocateNumber(t.ctx, t, e.cfg.Prefixes.Sale, t.now, e.suffix)
		if err != nil {
			return err
		}

		order = SalesOrder{
			ID:             orderID,
			OrderNumber:    number,
			IdempotencyKey: in.IdempotencyKey,
			CustomerID:     customer.ID,
			CustomerName:   customer.Name,
			CustomerPhone:  customer.Phone,
			Lines:          lines,
			Subtotal:       totals.Subtotal,
			TaxRate:        totals.TaxRate,
			TaxAmount:      totals.TaxAmount,
			DiscountAmount: totals.Discount,
			ShippingAmount: totals.Shipping,
			TotalAmount:    totals.Total,
			PaymentMethod:  in.PaymentMethod,
			AmountReceived: received,
			ChangeGiven:    change,
			Status:         OrderPending,
			HoldExpiresAt:  holdUntil,
			CreatedBy:      t.actor,
			CreatedAt:      t.now,
		}
		return t.InsertSalesOrder(t.ctx, order)
	})
	if err != nil {
		return SalesOrder{}, err
	}
	if replay {
		return e.replay(order)
	}

	e.ledger.logger.WithFields(logrus.Fields{
		"module":       "sale",
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"units":        len(order.Lines),
		"total":        order.TotalAmount.String(),
	}).Info("units held for sale")
	return order, nil
}

// replay resolves a repeated idempotency key to its original order.
func (e *SaleEngine) replay(o SalesOrder) (SalesOrder, error) {
	if o.Status == OrderCancelled {
		return SalesOrder{}, &StateError{Code: CodeIllegalTransition, Message: "order " + o.OrderNumber + " for this idempotency key was cancelled"}
	}
	return o, nil
}

// normalize validates the request before any storage access.
func (e *SaleEngine) normalize(in SaleInput) (SaleInput, error) {
	if len(in.IMEIs) == 0 {
		return in, &ValidationError{Code: CodeEmptyCart, Message: "cart is empty"}
	}
	seen := make(map[string]bool, len(in.IMEIs))
	imeis := make([]string, len(in.IMEIs))
	for i, raw := range in.IMEIs {
		imei := strings.TrimSpace(raw)
		if reason := CheckIMEI(imei); reason != "" {
			return in, &ValidationError{Code: CodeInvalidIMEI, Field: "imeis", Message: imei + ": " + reason}
		}
		if seen[imei] {
			return in, &ValidationError{Code: CodeInvalidInput, Field: "imeis", Message: imei + " appears twice in the cart"}
		}
		seen[imei] = true
		imeis[i] = imei
	}
	in.IMEIs = imeis

	in.CustomerID = strings.TrimSpace(in.CustomerID)
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	if in.CustomerID == "" {
		if in.CustomerName == "" {
			return in, &ValidationError{Code: CodeInvalidCustomerInfo, Field: "customer_name", Message: "customer name is required"}
		}
		phone, err := NormalizePhone(in.CustomerPhone, e.cfg.PhoneRegion)
		if err != nil {
			return in, err
		}
		in.CustomerPhone = phone
	} else if in.CustomerPhone != "" {
		phone, err := NormalizePhone(in.CustomerPhone, e.cfg.PhoneRegion)
		if err != nil {
			return in, err
		}
		in.CustomerPhone = phone
	}

	if in.PaymentMethod == "" {
		in.PaymentMethod = PaymentCash
	}
	if !in.PaymentMethod.Valid() {
		return in, &ValidationError{Code: CodeInvalidInput, Field: "payment_method", Message: "unknown payment method " + string(in.PaymentMethod)}
	}
	if in.TaxRate == nil {
		rate := e.cfg.DefaultTaxRate
		in.TaxRate = &rate
	}
	if err := validatePricingInput(*in.TaxRate, in.Discount, in.Shipping); err != nil {
		return in, err
	}
	return in, nil
}

// resolveCustomer finds the buyer by id or phone, registering a new
// customer for unknown phones.
func (e *SaleEngine) resolveCustomer(t *txn, in SaleInput) (Customer, error) {
	if in.CustomerID != "" {
		return t.GetCustomer(t.ctx, in.CustomerID)
	}
	c, err := t.FindCustomerByPhone(t.ctx, in.CustomerPhone)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Customer{}, err
	}
	c = Customer{
		ID:         newID(),
		Name:       in.CustomerName,
		Phone:      in.CustomerPhone,
		IsActive:   true,
		TotalSpent: decimal.Zero,
		Tier:       TierNew,
		CreatedAt:  t.now,
	}
	return c, t.InsertCustomer(t.ctx, c)
}
