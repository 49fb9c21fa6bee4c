package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/unit-ledger/inventory"
)

// =============================================================================
// UNITS
// =============================================================================

const unitColumns = `imei, product_id, variant_id, status, cost_price, retail_price_at_claim,
	intake_id, link_kind, link_id, hold_expires_at, version, created_at, status_changed_at, updated_by`

type scanner interface {
	Scan(dest ...any) error
}

func scanUnit(row scanner) (inventory.Unit, error) {
	var (
		u                    inventory.Unit
		status, cost, retail string
		linkKind             string
		hold                 sql.NullString
		createdAt, changedAt string
	)
	err := row.Scan(&u.IMEI, &u.ProductID, &u.VariantID, &status, &cost, &retail,
		&u.IntakeID, &linkKind, &u.Link.ID, &hold, &u.Version, &createdAt, &changedAt, &u.UpdatedBy)
	if err != nil {
		return inventory.Unit{}, err
	}
	u.Status = inventory.UnitStatus(status)
	u.Link.Kind = inventory.LinkKind(linkKind)
	if u.CostPrice, err = decimal.NewFromString(cost); err != nil {
		return inventory.Unit{}, fmt.Errorf("unit %s cost_price: %w", u.IMEI, err)
	}
	if u.RetailPriceAtClaim, err = decimal.NewFromString(retail); err != nil {
		return inventory.Unit{}, fmt.Errorf("unit %s retail_price_at_claim: %w", u.IMEI, err)
	}
	if hold.Valid {
		t, err := inventory.ParseTime(hold.String)
		if err != nil {
			return inventory.Unit{}, err
		}
		u.HoldExpiresAt = &t
	}
	if u.CreatedAt, err = inventory.ParseTime(createdAt); err != nil {
		return inventory.Unit{}, err
	}
	if u.StatusChangedAt, err = inventory.ParseTime(changedAt); err != nil {
		return inventory.Unit{}, err
	}
	return u, nil
}

func formatOptTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: inventory.FormatTime(*t), Valid: true}
}

func (c *conn) GetUnit(ctx context.Context, imei string) (inventory.Unit, error) {
	u, err := scanUnit(c.queryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE imei = ?`, imei))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Unit{}, &inventory.NotFoundError{Entity: "unit", ID: imei}
	}
	return u, classify(err)
}

func (c *conn) GetUnits(ctx context.Context, imeis []string) (map[string]inventory.Unit, error) {
	out := make(map[string]inventory.Unit, len(imeis))
	if len(imeis) == 0 {
		return out, nil
	}
	args := make([]any, len(imeis))
	for i, imei := range imeis {
		args[i] = imei
	}
	rows, err := c.query(ctx, `SELECT `+unitColumns+` FROM units WHERE imei IN (`+placeholders(len(imeis))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out[u.IMEI] = u
	}
	return out, rows.Err()
}

func (c *conn) InsertUnit(ctx context.Context, u inventory.Unit) error {
	if u.Version == 0 {
		u.Version = 1
	}
	_, err := c.exec(ctx, `INSERT INTO units (`+unitColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.IMEI, u.ProductID, u.VariantID, string(u.Status), u.CostPrice.String(), u.RetailPriceAtClaim.String(),
		u.IntakeID, string(u.Link.Kind), u.Link.ID, formatOptTime(u.HoldExpiresAt), u.Version,
		inventory.FormatTime(u.CreatedAt), inventory.FormatTime(u.StatusChangedAt), u.UpdatedBy,
	)
	if isUniqueConstraintError(err) {
		return inventory.ErrDuplicateIMEI
	}
	if err != nil {
		return fmt.Errorf("failed to insert unit: %w", err)
	}
	return nil
}

// CompareAndSwapUnit updates the row only while it still carries prev's
// status and version.
func (c *conn) CompareAndSwapUnit(ctx context.Context, prev, next inventory.Unit) error {
	res, err := c.exec(ctx, `
		UPDATE units SET
			status = ?, cost_price = ?, retail_price_at_claim = ?, intake_id = ?,
			link_kind = ?, link_id = ?, hold_expires_at = ?, version = ?,
			status_changed_at = ?, updated_by = ?
		WHERE imei = ? AND status = ? AND version = ?`,
		string(next.Status), next.CostPrice.String(), next.RetailPriceAtClaim.String(), next.IntakeID,
		string(next.Link.Kind), next.Link.ID, formatOptTime(next.HoldExpiresAt), prev.Version+1,
		inventory.FormatTime(next.StatusChangedAt), next.UpdatedBy,
		prev.IMEI, string(prev.Status), prev.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update unit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return inventory.ErrConcurrentModification
	}
	return nil
}

func (c *conn) UnitsByLink(ctx context.Context, link inventory.Linkage) ([]inventory.Unit, error) {
	rows, err := c.query(ctx, `SELECT `+unitColumns+` FROM units WHERE link_kind = ? AND link_id = ? ORDER BY imei`,
		string(link.Kind), link.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (c *conn) ExpiredHoldOrders(ctx context.Context, now time.Time, after string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	linkID := "link_id"
	if c.dialect == Postgres {
		linkID = `link_id COLLATE "C"`
	}
	rows, err := c.query(ctx, `
		SELECT DISTINCT `+linkID+` FROM units
		WHERE status = ? AND hold_expires_at IS NOT NULL AND hold_expires_at < ? AND `+linkID+` > ?
		ORDER BY 1 LIMIT ?`,
		string(inventory.StatusReserved), inventory.FormatTime(now), after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (c *conn) CountAvailableByVariant(ctx context.Context) (map[string]int, error) {
	rows, err := c.query(ctx, `SELECT variant_id, COUNT(*) FROM units WHERE status = ? GROUP BY variant_id`,
		string(inventory.StatusAvailable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// =============================================================================
// VARIANTS
// =============================================================================

const variantColumns = `id, product_id, storage, color, retail_price, cost_price, stock_count, updated_at`

func scanVariant(row scanner) (inventory.Variant, error) {
	var (
		v                    inventory.Variant
		retail, cost, update string
	)
	if err := row.Scan(&v.ID, &v.ProductID, &v.Storage, &v.Color, &retail, &cost, &v.StockCount, &update); err != nil {
		return inventory.Variant{}, err
	}
	var err error
	if v.RetailPrice, err = decimal.NewFromString(retail); err != nil {
		return inventory.Variant{}, err
	}
	if v.CostPrice, err = decimal.NewFromString(cost); err != nil {
		return inventory.Variant{}, err
	}
	v.UpdatedAt, err = inventory.ParseTime(update)
	return v, err
}

func (c *conn) GetVariant(ctx context.Context, id string) (inventory.Variant, error) {
	v, err := scanVariant(c.queryRow(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Variant{}, &inventory.NotFoundError{Entity: "variant", ID: id}
	}
	return v, classify(err)
}

func (c *conn) ListVariants(ctx context.Context) ([]inventory.Variant, error) {
	rows, err := c.query(ctx, `SELECT `+variantColumns+` FROM variants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (c *conn) PutVariant(ctx context.Context, v inventory.Variant) error {
	_, err := c.exec(ctx, `
		INSERT INTO variants (`+variantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			product_id = excluded.product_id, storage = excluded.storage, color = excluded.color,
			retail_price = excluded.retail_price, cost_price = excluded.cost_price,
			updated_at = excluded.updated_at`,
		v.ID, v.ProductID, v.Storage, v.Color, v.RetailPrice.String(), v.CostPrice.String(),
		v.StockCount, inventory.FormatTime(v.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save variant: %w", err)
	}
	return nil
}

func (c *conn) AdjustVariantStock(ctx context.Context, id string, delta int) error {
	return c.updateStock(ctx, `UPDATE variants SET stock_count = stock_count + ? WHERE id = ?`, delta, id)
}

func (c *conn) SetVariantStock(ctx context.Context, id string, count int) error {
	return c.updateStock(ctx, `UPDATE variants SET stock_count = ? WHERE id = ?`, count, id)
}

func (c *conn) updateStock(ctx context.Context, query string, n int, id string) error {
	res, err := c.exec(ctx, query, n, id)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return &inventory.NotFoundError{Entity: "variant", ID: id}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
