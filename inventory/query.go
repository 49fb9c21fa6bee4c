/*
query.go - Keyset pagination over customers, units and users

PURPOSE:
  Read-only search for list screens. Rows are ordered by (sort field, id) and
  each page continues strictly after the composite key of the previous page's
  last row, so rows inserted during a traversal never shift the boundary.

CURSOR:
  base64url("<field>|<value>|<id>"), opaque to callers. The field is carried
  so that a cursor cannot be replayed against a different sort. Values may
  contain '|'; field names and ids never do.

HASMORE:
  The store is asked for pageSize+1 rows. The extra row only signals that a
  further page exists and is never returned.

SEE ALSO:
  - store.go: SearchStore
  - inventory/store/memory.go, store/sqlstore/search.go: implementations
*/
package inventory

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// TimeLayout is the fixed-width UTC layout used wherever timestamps must
// sort as text.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

func ParseTime(s string) (time.Time, error) { return time.Parse(TimeLayout, s) }

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortField is an allow-listed sort key. Column is the storage column.
type SortField struct {
	Name    string
	Column  string
	Numeric bool
}

var (
	CustomerSortFields = sortFields(
		SortField{Name: "created_at", Column: "created_at"},
		SortField{Name: "name", Column: "name"},
		SortField{Name: "phone", Column: "phone"},
		SortField{Name: "email", Column: "email"},
		SortField{Name: "total_spent", Column: "total_spent", Numeric: true},
		SortField{Name: "total_orders", Column: "total_orders", Numeric: true},
	)
	UnitSortFields = sortFields(
		SortField{Name: "imei", Column: "imei"},
		SortField{Name: "status", Column: "status"},
		SortField{Name: "created_at", Column: "created_at"},
		SortField{Name: "status_changed_at", Column: "status_changed_at"},
		SortField{Name: "cost_price", Column: "cost_price", Numeric: true},
	)
	UserSortFields = sortFields(
		SortField{Name: "name", Column: "name"},
		SortField{Name: "email", Column: "email"},
		SortField{Name: "role", Column: "role"},
		SortField{Name: "created_at", Column: "created_at"},
	)
)

func sortFields(fields ...SortField) map[string]SortField {
	m := make(map[string]SortField, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return m
}

// Filter narrows a search. Text matches case-insensitively against
// name/phone/email, or as an IMEI prefix for units.
type Filter struct {
	Text     string
	Active   *bool
	Statuses []UnitStatus
	// Phone is Text in E.164 form when Text parses as a phone number.
	// Set by the Searcher.
	Phone string
}

// SearchRequest is what callers send for one page.
type SearchRequest struct {
	Filter
	Sort   string
	Order  SortOrder
	Cursor string
	Limit  int
}

// CursorKey is the composite boundary a page continues after.
type CursorKey struct {
	Value string
	ID    string
}

// PageQuery is the resolved request handed to the store.
type PageQuery struct {
	Filter
	Sort  SortField
	Desc  bool
	After *CursorKey
	Limit int
}

type Page[T any] struct {
	Data       []T    `json:"data"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// =============================================================================
// CURSOR ENCODING
// =============================================================================

func EncodeCursor(field string, key CursorKey) string {
	return base64.RawURLEncoding.EncodeToString([]byte(field + "|" + key.Value + "|" + key.ID))
}

func DecodeCursor(cursor, field string) (*CursorKey, error) {
	if cursor == "" {
		return nil, nil
	}
	invalid := &ValidationError{Code: CodeInvalidInput, Field: "cursor", Message: "malformed cursor"}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, invalid
	}
	s := string(raw)
	first, last := strings.Index(s, "|"), strings.LastIndex(s, "|")
	if first < 0 || first == last {
		return nil, invalid
	}
	if s[:first] != field {
		return nil, &ValidationError{Code: CodeInvalidInput, Field: "cursor", Message: "cursor belongs to sort " + s[:first]}
	}
	return &CursorKey{Value: s[first+1 : last], ID: s[last+1:]}, nil
}

// =============================================================================
// SORT VALUES - Shared by the searcher and in-memory stores
// =============================================================================

func CustomerSortValue(c Customer, field string) string {
	switch field {
	case "name":
		return c.Name
	case "phone":
		return c.Phone
	case "email":
		return c.Email
	case "total_spent":
		return c.TotalSpent.String()
	case "total_orders":
		return strconv.Itoa(c.TotalOrders)
	}
	return FormatTime(c.CreatedAt)
}

func UnitSortValue(u Unit, field string) string {
	switch field {
	case "status":
		return string(u.Status)
	case "created_at":
		return FormatTime(u.CreatedAt)
	case "status_changed_at":
		return FormatTime(u.StatusChangedAt)
	case "cost_price":
		return u.CostPrice.String()
	}
	return u.IMEI
}

func UserSortValue(u User, field string) string {
	switch field {
	case "email":
		return u.Email
	case "role":
		return u.Role
	case "created_at":
		return FormatTime(u.CreatedAt)
	}
	return u.Name
}

// CompareKeys orders two composite keys under f. Numeric values compare as
// decimals; everything else compares bytewise.
func CompareKeys(f SortField, a, b CursorKey) int {
	if c := compareValues(f, a.Value, b.Value); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func compareValues(f SortField, a, b string) int {
	if f.Numeric {
		da, errA := decimal.NewFromString(a)
		db, errB := decimal.NewFromString(b)
		if errA == nil && errB == nil {
			return da.Cmp(db)
		}
	}
	return strings.Compare(a, b)
}

// =============================================================================
// SEARCHER
// =============================================================================

type Searcher struct {
	store       SearchStore
	phoneRegion string
}

// NewSearcher reads through store. phoneRegion is the region used to read
// locally written phone numbers in search text; empty means DefaultPhoneRegion.
func NewSearcher(store SearchStore, phoneRegion string) *Searcher {
	return &Searcher{store: store, phoneRegion: phoneRegion}
}

// withPhone fills q.Phone so a clerk typing "0903..." finds "+84903...".
func (s *Searcher) withPhone(q PageQuery) PageQuery {
	q.Phone = ""
	if q.Text == "" {
		return q
	}
	if phone, err := NormalizePhone(q.Text, s.phoneRegion); err == nil {
		q.Phone = phone
	}
	return q
}

func resolve(req SearchRequest, fields map[string]SortField, def string) (PageQuery, int, error) {
	name := req.Sort
	if name == "" {
		name = def
	}
	f, ok := fields[name]
	if !ok {
		return PageQuery{}, 0, &ValidationError{Code: CodeInvalidInput, Field: "sort", Message: "unsupported sort field " + name}
	}
	var desc bool
	switch req.Order {
	case "", SortAsc:
	case SortDesc:
		desc = true
	default:
		return PageQuery{}, 0, &ValidationError{Code: CodeInvalidInput, Field: "order", Message: "order must be asc or desc"}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	for _, s := range req.Statuses {
		if !s.Valid() {
			return PageQuery{}, 0, &ValidationError{Code: CodeInvalidInput, Field: "status", Message: "unknown status " + string(s)}
		}
	}
	after, err := DecodeCursor(req.Cursor, f.Name)
	if err != nil {
		return PageQuery{}, 0, err
	}
	req.Filter.Text = strings.TrimSpace(req.Filter.Text)
	return PageQuery{Filter: req.Filter, Sort: f, Desc: desc, After: after, Limit: limit + 1}, limit, nil
}

// paginate trims the extra lookahead row and builds the next cursor.
func paginate[T any](rows []T, limit int, field string, key func(T) CursorKey) Page[T] {
	page := Page[T]{Data: rows}
	if page.Data == nil {
		page.Data = []T{}
	}
	if len(rows) > limit {
		page.Data = rows[:limit]
		page.HasMore = true
		page.NextCursor = EncodeCursor(field, key(page.Data[limit-1]))
	}
	return page
}

func (s *Searcher) SearchCustomers(ctx context.Context, req SearchRequest) (Page[Customer], error) {
	q, limit, err := resolve(req, CustomerSortFields, "created_at")
	if err != nil {
		return Page[Customer]{}, err
	}
	q = s.withPhone(q)
	rows, err := s.store.SearchCustomers(ctx, q)
	if err != nil {
		return Page[Customer]{}, err
	}
	return paginate(rows, limit, q.Sort.Name, func(c Customer) CursorKey {
		return CursorKey{Value: CustomerSortValue(c, q.Sort.Name), ID: c.ID}
	}), nil
}

func (s *Searcher) SearchUnits(ctx context.Context, req SearchRequest) (Page[Unit], error) {
	q, limit, err := resolve(req, UnitSortFields, "imei")
	if err != nil {
		return Page[Unit]{}, err
	}
	rows, err := s.store.SearchUnits(ctx, q)
	if err != nil {
		return Page[Unit]{}, err
	}
	return paginate(rows, limit, q.Sort.Name, func(u Unit) CursorKey {
		return CursorKey{Value: UnitSortValue(u, q.Sort.Name), ID: u.IMEI}
	}), nil
}

func (s *Searcher) SearchUsers(ctx context.Context, req SearchRequest) (Page[User], error) {
	q, limit, err := resolve(req, UserSortFields, "name")
	if err != nil {
		return Page[User]{}, err
	}
	q = s.withPhone(q)
	rows, err := s.store.SearchUsers(ctx, q)
	if err != nil {
		return Page[User]{}, err
	}
	return paginate(rows, limit, q.Sort.Name, func(u User) CursorKey {
		return CursorKey{Value: UserSortValue(u, q.Sort.Name), ID: u.ID}
	}), nil
}
