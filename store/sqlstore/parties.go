package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/unit-ledger/inventory"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

const customerColumns = `id, name, phone, email, is_active, total_spent, total_orders, last_purchase_date, tier, created_at`

func scanCustomer(row scanner) (inventory.Customer, error) {
	var (
		c            inventory.Customer
		active       int
		spent, tier  string
		lastPurchase sql.NullString
		created      string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &active, &spent, &c.TotalOrders, &lastPurchase, &tier, &created); err != nil {
		return inventory.Customer{}, err
	}
	c.IsActive = active != 0
	c.Tier = inventory.CustomerTier(tier)
	var err error
	if c.TotalSpent, err = decimal.NewFromString(spent); err != nil {
		return inventory.Customer{}, fmt.Errorf("customer %s total_spent: %w", c.ID, err)
	}
	if lastPurchase.Valid {
		t, err := inventory.ParseTime(lastPurchase.String)
		if err != nil {
			return inventory.Customer{}, err
		}
		c.LastPurchaseDate = &t
	}
	c.CreatedAt, err = inventory.ParseTime(created)
	return c, err
}

func (c *conn) InsertCustomer(ctx context.Context, cu inventory.Customer) error {
	_, err := c.exec(ctx, `INSERT INTO customers (`+customerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cu.ID, cu.Name, cu.Phone, cu.Email, boolInt(cu.IsActive), cu.TotalSpent.String(), cu.TotalOrders,
		formatOptTime(cu.LastPurchaseDate), string(cu.Tier), inventory.FormatTime(cu.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return &inventory.DuplicateError{Entity: "customer", Key: cu.ID}
	}
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func (c *conn) GetCustomer(ctx context.Context, id string) (inventory.Customer, error) {
	cu, err := scanCustomer(c.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Customer{}, &inventory.NotFoundError{Entity: "customer", ID: id}
	}
	return cu, classify(err)
}

// FindCustomerByPhone returns the earliest customer registered with phone.
func (c *conn) FindCustomerByPhone(ctx context.Context, phone string) (inventory.Customer, error) {
	cu, err := scanCustomer(c.queryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE phone = ? ORDER BY created_at, id LIMIT 1`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Customer{}, &inventory.NotFoundError{Entity: "customer", ID: phone}
	}
	return cu, classify(err)
}

func (c *conn) UpdateCustomer(ctx context.Context, cu inventory.Customer) error {
	res, err := c.exec(ctx, `
		UPDATE customers SET
			name = ?, phone = ?, email = ?, is_active = ?, total_spent = ?, total_orders = ?,
			last_purchase_date = ?, tier = ?
		WHERE id = ?`,
		cu.Name, cu.Phone, cu.Email, boolInt(cu.IsActive), cu.TotalSpent.String(), cu.TotalOrders,
		formatOptTime(cu.LastPurchaseDate), string(cu.Tier), cu.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &inventory.NotFoundError{Entity: "customer", ID: cu.ID}
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, name, email, phone, role, is_active, created_at`

func scanUser(row scanner) (inventory.User, error) {
	var (
		u       inventory.User
		active  int
		created string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &active, &created); err != nil {
		return inventory.User{}, err
	}
	u.IsActive = active != 0
	var err error
	u.CreatedAt, err = inventory.ParseTime(created)
	return u, err
}

func (c *conn) InsertUser(ctx context.Context, u inventory.User) error {
	_, err := c.exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.Phone, u.Role, boolInt(u.IsActive), inventory.FormatTime(u.CreatedAt))
	if isUniqueConstraintError(err) {
		return &inventory.DuplicateError{Entity: "user", Key: u.ID}
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (c *conn) GetUser(ctx context.Context, id string) (inventory.User, error) {
	u, err := scanUser(c.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.User{}, &inventory.NotFoundError{Entity: "user", ID: id}
	}
	return u, classify(err)
}
