package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/unit-ledger/inventory"
)

// =============================================================================
// SALES ORDERS
// =============================================================================

const salesOrderColumns = `id, order_number, idempotency_key, customer_id, customer_name, customer_phone,
	lines_json, subtotal, tax_rate, tax_amount, discount_amount, shipping_amount, total_amount,
	payment_method, amount_received, change_given, status, hold_expires_at, created_by, created_at, completed_at`

type orderLineRecord struct {
	IMEI          string          `json:"imei"`
	ProductID     string          `json:"product_id"`
	VariantID     string          `json:"variant_id"`
	Price         decimal.Decimal `json:"price"`
	TaxShare      decimal.Decimal `json:"tax_share"`
	DiscountShare decimal.Decimal `json:"discount_share"`
}

func (c *conn) InsertSalesOrder(ctx context.Context, o inventory.SalesOrder) error {
	lines := make([]orderLineRecord, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = orderLineRecord(l)
	}
	linesJSON, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("failed to encode order lines: %w", err)
	}
	_, err = c.exec(ctx, `INSERT INTO sales_orders (`+salesOrderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.OrderNumber, nullString(o.IdempotencyKey), o.CustomerID, o.CustomerName, o.CustomerPhone,
		string(linesJSON), o.Subtotal.String(), o.TaxRate.String(), o.TaxAmount.String(),
		o.DiscountAmount.String(), o.ShippingAmount.String(), o.TotalAmount.String(),
		string(o.PaymentMethod), o.AmountReceived.String(), o.ChangeGiven.String(), string(o.Status),
		inventory.FormatTime(o.HoldExpiresAt), o.CreatedBy, inventory.FormatTime(o.CreatedAt), formatOptTime(o.CompletedAt),
	)
	if isUniqueConstraintError(err) {
		if strings.Contains(err.Error(), "idempotency_key") {
			return inventory.ErrDuplicateIdempotencyKey
		}
		return inventory.ErrDuplicateOrderNumber
	}
	if err != nil {
		return fmt.Errorf("failed to insert sales order: %w", err)
	}
	return nil
}

// UpdateSalesOrder persists the mutable lifecycle fields.
func (c *conn) UpdateSalesOrder(ctx context.Context, o inventory.SalesOrder) error {
	res, err := c.exec(ctx, `UPDATE sales_orders SET status = ?, completed_at = ? WHERE id = ?`,
		string(o.Status), formatOptTime(o.CompletedAt), o.ID)
	if err != nil {
		return fmt.Errorf("failed to update sales order: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &inventory.NotFoundError{Entity: "sales order", ID: o.ID}
	}
	return nil
}

func scanSalesOrder(row scanner) (inventory.SalesOrder, error) {
	var (
		o                                          inventory.SalesOrder
		key, completed                             sql.NullString
		linesJSON, method, status, hold, created   string
		subtotal, rate, tax, discount, ship, total string
		received, change                           string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &key, &o.CustomerID, &o.CustomerName, &o.CustomerPhone,
		&linesJSON, &subtotal, &rate, &tax, &discount, &ship, &total,
		&method, &received, &change, &status, &hold, &o.CreatedBy, &created, &completed)
	if err != nil {
		return inventory.SalesOrder{}, err
	}
	o.IdempotencyKey = key.String
	o.PaymentMethod = inventory.PaymentMethod(method)
	o.Status = inventory.OrderStatus(status)

	var lines []orderLineRecord
	if err := json.Unmarshal([]byte(linesJSON), &lines); err != nil {
		return inventory.SalesOrder{}, fmt.Errorf("order %s lines: %w", o.ID, err)
	}
	o.Lines = make([]inventory.OrderLine, len(lines))
	for i, l := range lines {
		o.Lines[i] = inventory.OrderLine(l)
	}

	amounts := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.Subtotal, subtotal}, {&o.TaxRate, rate}, {&o.TaxAmount, tax}, {&o.DiscountAmount, discount},
		{&o.ShippingAmount, ship}, {&o.TotalAmount, total}, {&o.AmountReceived, received}, {&o.ChangeGiven, change},
	}
	for _, a := range amounts {
		if *a.dst, err = decimal.NewFromString(a.src); err != nil {
			return inventory.SalesOrder{}, fmt.Errorf("order %s amount: %w", o.ID, err)
		}
	}
	if o.HoldExpiresAt, err = inventory.ParseTime(hold); err != nil {
		return inventory.SalesOrder{}, err
	}
	if o.CreatedAt, err = inventory.ParseTime(created); err != nil {
		return inventory.SalesOrder{}, err
	}
	if completed.Valid {
		t, err := inventory.ParseTime(completed.String)
		if err != nil {
			return inventory.SalesOrder{}, err
		}
		o.CompletedAt = &t
	}
	return o, nil
}

func (c *conn) GetSalesOrder(ctx context.Context, id string) (inventory.SalesOrder, error) {
	o, err := scanSalesOrder(c.queryRow(ctx, `SELECT `+salesOrderColumns+` FROM sales_orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.SalesOrder{}, &inventory.NotFoundError{Entity: "sales order", ID: id}
	}
	return o, classify(err)
}

func (c *conn) GetSalesOrderByKey(ctx context.Context, key string) (inventory.SalesOrder, error) {
	o, err := scanSalesOrder(c.queryRow(ctx, `SELECT `+salesOrderColumns+` FROM sales_orders WHERE idempotency_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.SalesOrder{}, &inventory.NotFoundError{Entity: "sales order", ID: key}
	}
	return o, classify(err)
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

type intakeItemRecord struct {
	IMEI      string          `json:"imei"`
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

func (c *conn) InsertPurchaseOrder(ctx context.Context, po inventory.PurchaseOrder) error {
	items := make([]intakeItemRecord, len(po.Items))
	for i, it := range po.Items {
		items[i] = intakeItemRecord(it)
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode intake items: %w", err)
	}
	reimported := po.Reimported
	if reimported == nil {
		reimported = []string{}
	}
	reimportedJSON, err := json.Marshal(reimported)
	if err != nil {
		return fmt.Errorf("failed to encode reimported units: %w", err)
	}
	_, err = c.exec(ctx, `
		INSERT INTO purchase_orders (id, number, supplier_id, supplier_name, items_json, reimported_json,
			total_items_received, total_amount, status, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		po.ID, po.Number, po.SupplierID, po.SupplierName, string(itemsJSON), string(reimportedJSON),
		po.TotalItemsReceived, po.TotalAmount.String(), string(po.Status), po.CreatedBy, inventory.FormatTime(po.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return inventory.ErrDuplicateOrderNumber
	}
	if err != nil {
		return fmt.Errorf("failed to insert purchase order: %w", err)
	}
	return nil
}

func (c *conn) GetPurchaseOrder(ctx context.Context, id string) (inventory.PurchaseOrder, error) {
	var (
		po                        inventory.PurchaseOrder
		itemsJSON, reimportedJSON string
		total, status, created    string
	)
	err := c.queryRow(ctx, `
		SELECT id, number, supplier_id, supplier_name, items_json, reimported_json,
			total_items_received, total_amount, status, created_by, created_at
		FROM purchase_orders WHERE id = ?`, id).Scan(
		&po.ID, &po.Number, &po.SupplierID, &po.SupplierName, &itemsJSON, &reimportedJSON,
		&po.TotalItemsReceived, &total, &status, &po.CreatedBy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.PurchaseOrder{}, &inventory.NotFoundError{Entity: "purchase order", ID: id}
	}
	if err != nil {
		return inventory.PurchaseOrder{}, classify(err)
	}
	var items []intakeItemRecord
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return inventory.PurchaseOrder{}, err
	}
	for _, it := range items {
		po.Items = append(po.Items, inventory.IntakeItem(it))
	}
	if err := json.Unmarshal([]byte(reimportedJSON), &po.Reimported); err != nil {
		return inventory.PurchaseOrder{}, err
	}
	po.Status = inventory.PurchaseStatus(status)
	if po.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return inventory.PurchaseOrder{}, err
	}
	po.CreatedAt, err = inventory.ParseTime(created)
	return po, err
}

// =============================================================================
// RETURNS
// =============================================================================

func (c *conn) InsertReturn(ctx context.Context, r inventory.ReturnRecord) error {
	_, err := c.exec(ctx, `
		INSERT INTO return_records (id, return_number, imei, sales_order_id, customer_id, refund_amount, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ReturnNumber, r.IMEI, r.SalesOrderID, r.CustomerID, r.RefundAmount.String(), r.CreatedBy,
		inventory.FormatTime(r.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return inventory.ErrDuplicateOrderNumber
	}
	if err != nil {
		return fmt.Errorf("failed to insert return: %w", err)
	}
	return nil
}

func (c *conn) ReturnsByOrder(ctx context.Context, orderID string) ([]inventory.ReturnRecord, error) {
	rows, err := c.query(ctx, `
		SELECT id, return_number, imei, sales_order_id, customer_id, refund_amount, created_by, created_at
		FROM return_records WHERE sales_order_id = ? ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.ReturnRecord
	for rows.Next() {
		var (
			r               inventory.ReturnRecord
			refund, created string
		)
		if err := rows.Scan(&r.ID, &r.ReturnNumber, &r.IMEI, &r.SalesOrderID, &r.CustomerID, &refund, &r.CreatedBy, &created); err != nil {
			return nil, err
		}
		if r.RefundAmount, err = decimal.NewFromString(refund); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = inventory.ParseTime(created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// NumberTaken checks every document table, since prefixes are configurable.
func (c *conn) NumberTaken(ctx context.Context, number string) (bool, error) {
	var n int
	err := c.queryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT id FROM sales_orders WHERE order_number = ?
			UNION ALL SELECT id FROM purchase_orders WHERE number = ?
			UNION ALL SELECT id FROM return_records WHERE return_number = ?
		) taken`, number, number, number).Scan(&n)
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}
