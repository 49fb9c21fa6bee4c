/*
Package inventory provides the unit-level inventory ledger and the engines built on top of it.

PURPOSE:
  Every physical handset is a Unit identified by its 15-digit IMEI. The ledger tracks each
  unit from supplier intake, through reservation and sale, to return, reimport or retirement.
  Engines (intake, sale, return) mutate units only through the ledger's atomic primitives;
  derived counters (variant stock, customer totals) are maintained from committed events.

KEY CONCEPTS IN THIS FILE (types.go):
  - Unit: one serialized item and its lifecycle state
  - Variant: a SKU (storage + color) aggregating many units
  - SalesOrder / PurchaseOrder / ReturnRecord: documents linked to units
  - Customer / User: searchable parties

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. Single linkage: a unit points at exactly one intake, sale or return at a time
  3. Auditability: every mutation records the acting user and a timestamp

SEE ALSO:
  - status.go: state machine
  - ledger.go: atomic claim / commit / release
  - store.go: persistence interfaces
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// UNIT - One serialized item
// =============================================================================

// LinkKind identifies what a unit is currently attached to.
type LinkKind string

const (
	LinkIntake LinkKind = "intake"
	LinkSale   LinkKind = "sale"
	LinkReturn LinkKind = "return"
)

// Linkage is the unit's single current document reference.
type Linkage struct {
	Kind LinkKind
	ID   string
}

type Unit struct {
	IMEI               string
	ProductID          string
	VariantID          string
	Status             UnitStatus
	CostPrice          decimal.Decimal
	RetailPriceAtClaim decimal.Decimal
	IntakeID           string // purchase order that first received the unit
	Link               Linkage
	HoldExpiresAt      *time.Time
	Version            int64

	CreatedAt       time.Time
	StatusChangedAt time.Time
	UpdatedBy       string
}

// LinkConsistent reports whether the current linkage matches the status.
func (u Unit) LinkConsistent() bool {
	if u.Link.ID == "" {
		return false
	}
	switch u.Status {
	case StatusAvailable:
		return u.Link.Kind == LinkIntake && u.HoldExpiresAt == nil
	case StatusReserved:
		return u.Link.Kind == LinkSale && u.HoldExpiresAt != nil
	case StatusSold:
		return u.Link.Kind == LinkSale
	case StatusReturned:
		return u.Link.Kind == LinkReturn
	case StatusDefective:
		return true
	}
	return false
}

// =============================================================================
// CATALOG
// =============================================================================

type Variant struct {
	ID          string
	ProductID   string
	Storage     string
	Color       string
	RetailPrice decimal.Decimal
	CostPrice   decimal.Decimal
	StockCount  int // derived; written only by the Maintainer
	UpdatedAt   time.Time
}

// =============================================================================
// PARTIES
// =============================================================================

type CustomerTier string

const (
	TierNew      CustomerTier = "new"
	TierRegular  CustomerTier = "regular"
	TierVIP      CustomerTier = "vip"
	TierPlatinum CustomerTier = "platinum"
)

type Customer struct {
	ID               string
	Name             string
	Phone            string
	Email            string
	IsActive         bool
	TotalSpent       decimal.Decimal
	TotalOrders      int
	LastPurchaseDate *time.Time
	Tier             CustomerTier
	CreatedAt        time.Time
}

type User struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Role      string
	IsActive  bool
	CreatedAt time.Time
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderLine references one unit and the price it was sold at. TaxShare and
// DiscountShare are the line's part of the order tax and discount.
type OrderLine struct {
	IMEI          string
	ProductID     string
	VariantID     string
	Price         decimal.Decimal
	TaxShare      decimal.Decimal
	DiscountShare decimal.Decimal
}

type SalesOrder struct {
	ID             string
	OrderNumber    string
	IdempotencyKey string

	CustomerID    string
	CustomerName  string
	CustomerPhone string

	Lines          []OrderLine
	Subtotal       decimal.Decimal
	TaxRate        decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingAmount decimal.Decimal
	TotalAmount    decimal.Decimal

	PaymentMethod  PaymentMethod
	AmountReceived decimal.Decimal
	ChangeGiven    decimal.Decimal

	Status        OrderStatus
	HoldExpiresAt time.Time
	CreatedBy     string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// IMEIs returns the units referenced by the order, in line order.
func (o SalesOrder) IMEIs() []string {
	out := make([]string, len(o.Lines))
	for i, l := range o.Lines {
		out[i] = l.IMEI
	}
	return out
}

type PurchaseStatus string

const PurchaseReceived PurchaseStatus = "received"

// IntakeItem is one unit received from a supplier.
type IntakeItem struct {
	IMEI      string
	ProductID string
	VariantID string
	CostPrice decimal.Decimal
}

type PurchaseOrder struct {
	ID                 string
	Number             string
	SupplierID         string
	SupplierName       string
	Items              []IntakeItem
	Reimported         []string
	TotalItemsReceived int
	TotalAmount        decimal.Decimal
	Status             PurchaseStatus
	CreatedBy          string
	CreatedAt          time.Time
}

type ReturnRecord struct {
	ID           string
	ReturnNumber string
	IMEI         string
	SalesOrderID string
	CustomerID   string
	RefundAmount decimal.Decimal
	CreatedBy    string
	CreatedAt    time.Time
}
