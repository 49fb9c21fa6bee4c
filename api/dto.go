/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the inventory domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are shopspring decimals. They are written as JSON strings and
  accepted as either strings or numbers.

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required fields, enums, lengths). Domain rules such as IMEI checksums
  and stock availability stay in the inventory engines.

SEE ALSO:
  - handlers.go: Uses these types
  - inventory/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/unit-ledger/inventory"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type ValidateBatchRequest struct {
	IMEIs []string `json:"imeis" validate:"required,max=1000"`
}

type IntakeItemRequest struct {
	IMEI      string          `json:"imei" validate:"required"`
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id" validate:"required"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

type CommitIntakeRequest struct {
	SupplierID   string              `json:"supplier_id"`
	SupplierName string              `json:"supplier_name" validate:"required,max=200"`
	Items        []IntakeItemRequest `json:"items" validate:"max=1000,dive"`
	Reimport     []string            `json:"reimport" validate:"max=1000"`
}

// SaleRequest is the body of POST /api/sales and POST /api/holds. The
// Idempotency-Key header takes precedence over idempotency_key.
type SaleRequest struct {
	CustomerID     string           `json:"customer_id"`
	CustomerName   string           `json:"customer_name" validate:"required_without=CustomerID,max=200"`
	CustomerPhone  string           `json:"customer_phone" validate:"required_without=CustomerID,max=32"`
	IMEIs          []string         `json:"imeis" validate:"required,min=1,max=100"`
	PaymentMethod  string           `json:"payment_method" validate:"required,oneof=cash card transfer"`
	AmountReceived decimal.Decimal  `json:"amount_received"`
	TaxRate        *decimal.Decimal `json:"tax_rate,omitempty"`
	Discount       decimal.Decimal  `json:"discount"`
	Shipping       decimal.Decimal  `json:"shipping"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
}

type ReleaseHoldRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

type ReturnRequest struct {
	IMEI    string `json:"imei" validate:"required"`
	OrderID string `json:"order_id" validate:"required"`
}

type ReimportRequest struct {
	Confirmed bool `json:"confirmed"`
}

type VariantRequest struct {
	ID          string          `json:"id" validate:"max=64"`
	ProductID   string          `json:"product_id" validate:"required,max=64"`
	Storage     string          `json:"storage" validate:"max=32"`
	Color       string          `json:"color" validate:"max=32"`
	RetailPrice decimal.Decimal `json:"retail_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
}

type CustomerRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone" validate:"required,max=32"`
	Email string `json:"email" validate:"omitempty,email"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type UserRequest struct {
	ID    string `json:"id" validate:"max=64"`
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"max=32"`
	Role  string `json:"role" validate:"omitempty,oneof=admin manager cashier staff"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type UnitDTO struct {
	IMEI               string          `json:"imei"`
	ProductID          string          `json:"product_id"`
	VariantID          string          `json:"variant_id"`
	Status             string          `json:"status"`
	CostPrice          decimal.Decimal `json:"cost_price"`
	RetailPriceAtClaim decimal.Decimal `json:"retail_price_at_claim"`
	IntakeID           string          `json:"intake_id"`
	LinkKind           string          `json:"link_kind"`
	LinkID             string          `json:"link_id"`
	HoldExpiresAt      string          `json:"hold_expires_at,omitempty"`
	Version            int64           `json:"version"`
	CreatedAt          string          `json:"created_at"`
	StatusChangedAt    string          `json:"status_changed_at"`
	UpdatedBy          string          `json:"updated_by"`
}

type VariantDTO struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	Storage     string          `json:"storage"`
	Color       string          `json:"color"`
	RetailPrice decimal.Decimal `json:"retail_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	StockCount  int             `json:"stock_count"`
}

type OrderLineDTO struct {
	IMEI          string          `json:"imei"`
	ProductID     string          `json:"product_id"`
	VariantID     string          `json:"variant_id"`
	Price         decimal.Decimal `json:"price"`
	TaxShare      decimal.Decimal `json:"tax_share"`
	DiscountShare decimal.Decimal `json:"discount_share"`
}

type SalesOrderDTO struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"order_number"`
	CustomerID     string          `json:"customer_id"`
	CustomerName   string          `json:"customer_name"`
	CustomerPhone  string          `json:"customer_phone"`
	Lines          []OrderLineDTO  `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingAmount decimal.Decimal `json:"shipping_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentMethod  string          `json:"payment_method"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	ChangeGiven    decimal.Decimal `json:"change_given"`
	Status         string          `json:"status"`
	HoldExpiresAt  string          `json:"hold_expires_at,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at"`
	CompletedAt    string          `json:"completed_at,omitempty"`
}

type IntakeItemDTO struct {
	IMEI      string          `json:"imei"`
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

type PurchaseOrderDTO struct {
	ID                 string          `json:"id"`
	Number             string          `json:"number"`
	SupplierID         string          `json:"supplier_id"`
	SupplierName       string          `json:"supplier_name"`
	Items              []IntakeItemDTO `json:"items"`
	Reimported         []string        `json:"reimported"`
	TotalItemsReceived int             `json:"total_items_received"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Status             string          `json:"status"`
	CreatedBy          string          `json:"created_by"`
	CreatedAt          string          `json:"created_at"`
}

type ReturnDTO struct {
	ID           string          `json:"id"`
	ReturnNumber string          `json:"return_number"`
	IMEI         string          `json:"imei"`
	SalesOrderID string          `json:"sales_order_id"`
	CustomerID   string          `json:"customer_id"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    string          `json:"created_at"`
}

type RefundDTO struct {
	Return             ReturnDTO       `json:"return"`
	Unit               UnitDTO         `json:"unit"`
	Refund             decimal.Decimal `json:"refund"`
	OrderFullyReturned bool            `json:"order_fully_returned"`
}

type CustomerDTO struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Phone            string          `json:"phone"`
	Email            string          `json:"email"`
	IsActive         bool            `json:"is_active"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	TotalOrders      int             `json:"total_orders"`
	LastPurchaseDate string          `json:"last_purchase_date,omitempty"`
	Tier             string          `json:"tier"`
	CreatedAt        string          `json:"created_at"`
}

type UserDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

type PageDTO[T any] struct {
	Data       []T    `json:"data"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type SweepDTO struct {
	Released int    `json:"released"`
	RanAt    string `json:"ran_at"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string               `json:"error"`
	Kind      string               `json:"kind,omitempty"`
	Code      string               `json:"code,omitempty"`
	Details   string               `json:"details,omitempty"`
	Fields    map[string]string    `json:"fields,omitempty"`
	Conflicts []inventory.Conflict `json:"conflicts,omitempty"`
	Shortfall *decimal.Decimal     `json:"shortfall,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toUnitDTO(u inventory.Unit) UnitDTO {
	return UnitDTO{
		IMEI:               u.IMEI,
		ProductID:          u.ProductID,
		VariantID:          u.VariantID,
		Status:             string(u.Status),
		CostPrice:          u.CostPrice,
		RetailPriceAtClaim: u.RetailPriceAtClaim,
		IntakeID:           u.IntakeID,
		LinkKind:           string(u.Link.Kind),
		LinkID:             u.Link.ID,
		HoldExpiresAt:      formatOptTime(u.HoldExpiresAt),
		Version:            u.Version,
		CreatedAt:          formatTime(u.CreatedAt),
		StatusChangedAt:    formatTime(u.StatusChangedAt),
		UpdatedBy:          u.UpdatedBy,
	}
}

func toVariantDTO(v inventory.Variant) VariantDTO {
	return VariantDTO{
		ID:          v.ID,
		ProductID:   v.ProductID,
		Storage:     v.Storage,
		Color:       v.Color,
		RetailPrice: v.RetailPrice,
		CostPrice:   v.CostPrice,
		StockCount:  v.StockCount,
	}
}

func toSalesOrderDTO(o inventory.SalesOrder) SalesOrderDTO {
	lines := make([]OrderLineDTO, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = OrderLineDTO{
			IMEI:          l.IMEI,
			ProductID:     l.ProductID,
			VariantID:     l.VariantID,
			Price:         l.Price,
			TaxShare:      l.TaxShare,
			DiscountShare: l.DiscountShare,
		}
	}
	dto := SalesOrderDTO{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		CustomerID:     o.CustomerID,
		CustomerName:   o.CustomerName,
		CustomerPhone:  o.CustomerPhone,
		Lines:          lines,
		Subtotal:       o.Subtotal,
		TaxRate:        o.TaxRate,
		TaxAmount:      o.TaxAmount,
		DiscountAmount: o.DiscountAmount,
		ShippingAmount: o.ShippingAmount,
		TotalAmount:    o.TotalAmount,
		PaymentMethod:  string(o.PaymentMethod),
		AmountReceived: o.AmountReceived,
		ChangeGiven:    o.ChangeGiven,
		Status:         string(o.Status),
		CreatedBy:      o.CreatedBy,
		CreatedAt:      formatTime(o.CreatedAt),
		CompletedAt:    formatOptTime(o.CompletedAt),
	}
	if o.Status == inventory.OrderPending {
		dto.HoldExpiresAt = formatTime(o.HoldExpiresAt)
	}
	return dto
}

func toPurchaseOrderDTO(po inventory.PurchaseOrder) PurchaseOrderDTO {
	items := make([]IntakeItemDTO, len(po.Items))
	for i, it := range po.Items {
		items[i] = IntakeItemDTO{IMEI: it.IMEI, ProductID: it.ProductID, VariantID: it.VariantID, CostPrice: it.CostPrice}
	}
	reimported := po.Reimported
	if reimported == nil {
		reimported = []string{}
	}
	return PurchaseOrderDTO{
		ID:                 po.ID,
		Number:             po.Number,
		SupplierID:         po.SupplierID,
		SupplierName:       po.SupplierName,
		Items:              items,
		Reimported:         reimported,
		TotalItemsReceived: po.TotalItemsReceived,
		TotalAmount:        po.TotalAmount,
		Status:             string(po.Status),
		CreatedBy:          po.CreatedBy,
		CreatedAt:          formatTime(po.CreatedAt),
	}
}

func toReturnDTO(r inventory.ReturnRecord) ReturnDTO {
	return ReturnDTO{
		ID:           r.ID,
		ReturnNumber: r.ReturnNumber,
		IMEI:         r.IMEI,
		SalesOrderID: r.SalesOrderID,
		CustomerID:   r.CustomerID,
		RefundAmount: r.RefundAmount,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    formatTime(r.CreatedAt),
	}
}

func toCustomerDTO(c inventory.Customer) CustomerDTO {
	return CustomerDTO{
		ID:               c.ID,
		Name:             c.Name,
		Phone:            c.Phone,
		Email:            c.Email,
		IsActive:         c.IsActive,
		TotalSpent:       c.TotalSpent,
		TotalOrders:      c.TotalOrders,
		LastPurchaseDate: formatOptTime(c.LastPurchaseDate),
		Tier:             string(c.Tier),
		CreatedAt:        formatTime(c.CreatedAt),
	}
}

func toUserDTO(u inventory.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: formatTime(u.CreatedAt),
	}
}

// toPageDTO converts a page of domain rows with conv.
func toPageDTO[T, D any](p inventory.Page[T], conv func(T) D) PageDTO[D] {
	data := make([]D, len(p.Data))
	for i, row := range p.Data {
		data[i] = conv(row)
	}
	return PageDTO[D]{Data: data, NextCursor: p.NextCursor, HasMore: p.HasMore}
}
