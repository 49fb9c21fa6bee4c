package sqlstore

import (
	"context"
	"strings"

	"github.com/warp/unit-ledger/inventory"
)

// =============================================================================
// KEYSET SEARCH
// =============================================================================
//
// Rows are ordered by (sort column, id column) and a page continues strictly
// after the cursor's composite key:
//
//	asc:  col > v OR (col = v AND id > k)
//	desc: col < v OR (col = v AND id < k)
//
// Numeric sort columns are compared as NUMERIC; text columns use bytewise
// collation so the order matches inventory.CompareKeys.

type keysetQuery struct {
	table   string
	columns string
	idCol   string
	where   []string
	args    []any
}

func (k *keysetQuery) filter(clause string, args ...any) {
	k.where = append(k.where, clause)
	k.args = append(k.args, args...)
}

func (c *conn) sortExpr(col string, f inventory.SortField) (string, string) {
	if f.Numeric {
		return "CAST(" + col + " AS NUMERIC)", "CAST(? AS NUMERIC)"
	}
	if c.dialect == Postgres {
		return col + ` COLLATE "C"`, "?"
	}
	return col, "?"
}

func (c *conn) build(k keysetQuery, q inventory.PageQuery) (string, []any) {
	col, param := c.sortExpr(q.Sort.Column, q.Sort)
	id, _ := c.sortExpr(k.idCol, inventory.SortField{})
	cmp, dir := ">", "ASC"
	if q.Desc {
		cmp, dir = "<", "DESC"
	}
	if q.After != nil {
		k.filter("("+col+" "+cmp+" "+param+" OR ("+col+" = "+param+" AND "+id+" "+cmp+" ?))",
			q.After.Value, q.After.Value, q.After.ID)
	}
	var b strings.Builder
	b.WriteString("SELECT " + k.columns + " FROM " + k.table)
	if len(k.where) > 0 {
		b.WriteString(" WHERE " + strings.Join(k.where, " AND "))
	}
	b.WriteString(" ORDER BY " + col + " " + dir + ", " + id + " " + dir)
	args := k.args
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return b.String(), args
}

// likePattern escapes LIKE wildcards in s.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// textFilter matches text case-insensitively in any of columns. When the
// text also parses as a phone number, its E.164 form is matched against phone.
func textFilter(k *keysetQuery, f inventory.Filter, columns ...string) {
	if f.Text == "" {
		return
	}
	pattern := "%" + likePattern(strings.ToLower(f.Text)) + "%"
	var clauses []string
	var args []any
	for _, col := range columns {
		clauses = append(clauses, "LOWER("+col+`) LIKE ? ESCAPE '\'`)
		args = append(args, pattern)
	}
	if f.Phone != "" {
		clauses = append(clauses, `phone LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likePattern(f.Phone)+"%")
	}
	k.filter("("+strings.Join(clauses, " OR ")+")", args...)
}

func activeFilter(k *keysetQuery, active *bool) {
	if active != nil {
		k.filter("is_active = ?", boolInt(*active))
	}
}

func (c *conn) SearchCustomers(ctx context.Context, q inventory.PageQuery) ([]inventory.Customer, error) {
	k := keysetQuery{table: "customers", columns: customerColumns, idCol: "id"}
	activeFilter(&k, q.Active)
	textFilter(&k, q.Filter, "name", "phone", "email")
	query, args := c.build(k, q)

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Customer
	for rows.Next() {
		cu, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cu)
	}
	return out, rows.Err()
}

func (c *conn) SearchUnits(ctx context.Context, q inventory.PageQuery) ([]inventory.Unit, error) {
	k := keysetQuery{table: "units", columns: unitColumns, idCol: "imei"}
	if len(q.Statuses) > 0 {
		args := make([]any, len(q.Statuses))
		for i, s := range q.Statuses {
			args[i] = string(s)
		}
		k.filter("status IN ("+placeholders(len(args))+")", args...)
	}
	if q.Text != "" {
		k.filter(`imei LIKE ? ESCAPE '\'`, likePattern(q.Text)+"%")
	}
	query, args := c.build(k, q)

	rows, err := c.query(ctx, query, args...)
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

func (c *conn) SearchUsers(ctx context.Context, q inventory.PageQuery) ([]inventory.User, error) {
	k := keysetQuery{table: "users", columns: userColumns, idCol: "id"}
	activeFilter(&k, q.Active)
	textFilter(&k, q.Filter, "name", "phone", "email")
	query, args := c.build(k, q)

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
