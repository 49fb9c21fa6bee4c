// Package store provides the in-memory inventory.TxStore.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/unit-ledger/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type memData struct {
	units      map[string]inventory.Unit
	variants   map[string]inventory.Variant
	orders     map[string]inventory.SalesOrder
	orderKeys  map[string]string
	numbers    map[string]bool
	purchases  map[string]inventory.PurchaseOrder
	returns    map[string]inventory.ReturnRecord
	orderRets  map[string][]string
	customers  map[string]inventory.Customer
	users      map[string]inventory.User
	applied    map[string]bool
	events     []inventory.Event
	eventIndex map[string]int
}

func newMemData() *memData {
	return &memData{
		units:      make(map[string]inventory.Unit),
		variants:   make(map[string]inventory.Variant),
		orders:     make(map[string]inventory.SalesOrder),
		orderKeys:  make(map[string]string),
		numbers:    make(map[string]bool),
		purchases:  make(map[string]inventory.PurchaseOrder),
		returns:    make(map[string]inventory.ReturnRecord),
		orderRets:  make(map[string][]string),
		customers:  make(map[string]inventory.Customer),
		users:      make(map[string]inventory.User),
		applied:    make(map[string]bool),
		eventIndex: make(map[string]int),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies every table. Stored values are never mutated in place, so a
// shallow copy of each map is a consistent snapshot.
func (d *memData) clone() *memData {
	rets := make(map[string][]string, len(d.orderRets))
	for k, v := range d.orderRets {
		rets[k] = append([]string(nil), v...)
	}
	return &memData{
		units:      cloneMap(d.units),
		variants:   cloneMap(d.variants),
		orders:     cloneMap(d.orders),
		orderKeys:  cloneMap(d.orderKeys),
		numbers:    cloneMap(d.numbers),
		purchases:  cloneMap(d.purchases),
		returns:    cloneMap(d.returns),
		orderRets:  rets,
		customers:  cloneMap(d.customers),
		users:      cloneMap(d.users),
		applied:    cloneMap(d.applied),
		events:     append([]inventory.Event(nil), d.events...),
		eventIndex: cloneMap(d.eventIndex),
	}
}

// Memory is an inventory.TxStore held in process memory.
type Memory struct {
	mu   sync.RWMutex
	data *memData
}

func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(inventory.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&txView{data: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (m *Memory) read() *txView {
	return &txView{data: m.data}
}

// =============================================================================
// LOCKED ACCESSORS - Memory delegates to a view under its mutex
// =============================================================================

func (m *Memory) GetUnit(ctx context.Context, imei string) (inventory.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetUnit(ctx, imei)
}

func (m *Memory) GetUnits(ctx context.Context, imeis []string) (map[string]inventory.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetUnits(ctx, imeis)
}

func (m *Memory) InsertUnit(ctx context.Context, u inventory.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertUnit(ctx, u)
}

func (m *Memory) CompareAndSwapUnit(ctx context.Context, prev, next inventory.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CompareAndSwapUnit(ctx, prev, next)
}

func (m *Memory) UnitsByLink(ctx context.Context, link inventory.Linkage) ([]inventory.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().UnitsByLink(ctx, link)
}

func (m *Memory) ExpiredHoldOrders(ctx context.Context, now time.Time, after string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ExpiredHoldOrders(ctx, now, after, limit)
}

func (m *Memory) CountAvailableByVariant(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CountAvailableByVariant(ctx)
}

func (m *Memory) GetVariant(ctx context.Context, id string) (inventory.Variant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetVariant(ctx, id)
}

func (m *Memory) ListVariants(ctx context.Context) ([]inventory.Variant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListVariants(ctx)
}

func (m *Memory) PutVariant(ctx context.Context, v inventory.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().PutVariant(ctx, v)
}

func (m *Memory) AdjustVariantStock(ctx context.Context, id string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AdjustVariantStock(ctx, id, delta)
}

func (m *Memory) SetVariantStock(ctx context.Context, id string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SetVariantStock(ctx, id, count)
}

func (m *Memory) InsertSalesOrder(ctx context.Context, o inventory.SalesOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertSalesOrder(ctx, o)
}

func (m *Memory) UpdateSalesOrder(ctx context.Context, o inventory.SalesOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateSalesOrder(ctx, o)
}

func (m *Memory) GetSalesOrder(ctx context.Context, id string) (inventory.SalesOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetSalesOrder(ctx, id)
}

func (m *Memory) GetSalesOrderByKey(ctx context.Context, key string) (inventory.SalesOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetSalesOrderByKey(ctx, key)
}

func (m *Memory) InsertPurchaseOrder(ctx context.Context, po inventory.PurchaseOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertPurchaseOrder(ctx, po)
}

func (m *Memory) GetPurchaseOrder(ctx context.Context, id string) (inventory.PurchaseOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPurchaseOrder(ctx, id)
}

func (m *Memory) InsertReturn(ctx context.Context, r inventory.ReturnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertReturn(ctx, r)
}

func (m *Memory) ReturnsByOrder(ctx context.Context, orderID string) ([]inventory.ReturnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ReturnsByOrder(ctx, orderID)
}

func (m *Memory) NumberTaken(ctx context.Context, number string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().NumberTaken(ctx, number)
}

func (m *Memory) InsertCustomer(ctx context.Context, c inventory.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertCustomer(ctx, c)
}

func (m *Memory) GetCustomer(ctx context.Context, id string) (inventory.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetCustomer(ctx, id)
}

func (m *Memory) FindCustomerByPhone(ctx context.Context, phone string) (inventory.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().FindCustomerByPhone(ctx, phone)
}

func (m *Memory) UpdateCustomer(ctx context.Context, c inventory.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateCustomer(ctx, c)
}

func (m *Memory) InsertUser(ctx context.Context, u inventory.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertUser(ctx, u)
}

func (m *Memory) GetUser(ctx context.Context, id string) (inventory.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetUser(ctx, id)
}

func (m *Memory) MarkApplied(ctx context.Context, entityID, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().MarkApplied(ctx, entityID, eventID)
}

func (m *Memory) AppendEvents(ctx context.Context, events []inventory.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AppendEvents(ctx, events)
}

func (m *Memory) PendingEvents(ctx context.Context, limit int) ([]inventory.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().PendingEvents(ctx, limit)
}

func (m *Memory) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().MarkDelivered(ctx, id, at)
}

func (m *Memory) MarkFailed(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().MarkFailed(ctx, id, reason)
}

func (m *Memory) SearchCustomers(ctx context.Context, q inventory.PageQuery) ([]inventory.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().SearchCustomers(ctx, q)
}

func (m *Memory) SearchUnits(ctx context.Context, q inventory.PageQuery) ([]inventory.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().SearchUnits(ctx, q)
}

func (m *Memory) SearchUsers(ctx context.Context, q inventory.PageQuery) ([]inventory.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().SearchUsers(ctx, q)
}

// =============================================================================
// TRANSACTIONAL VIEW - Unlocked access; callers hold Memory.mu
// =============================================================================

type txView struct {
	data *memData
}

func (tv *txView) GetUnit(_ context.Context, imei string) (inventory.Unit, error) {
	u, ok := tv.data.units[imei]
	if !ok {
		return inventory.Unit{}, &inventory.NotFoundError{Entity: "unit", ID: imei}
	}
	return u, nil
}

func (tv *txView) GetUnits(_ context.Context, imeis []string) (map[string]inventory.Unit, error) {
	out := make(map[string]inventory.Unit, len(imeis))
	for _, imei := range imeis {
		if u, ok := tv.data.units[imei]; ok {
			out[imei] = u
		}
	}
	return out, nil
}

func (tv *txView) InsertUnit(_ context.Context, u inventory.Unit) error {
	if _, ok := tv.data.units[u.IMEI]; ok {
		return inventory.ErrDuplicateIMEI
	}
	if u.Version == 0 {
		u.Version = 1
	}
	tv.data.units[u.IMEI] = u
	return nil
}

func (tv *txView) CompareAndSwapUnit(_ context.Context, prev, next inventory.Unit) error {
	cur, ok := tv.data.units[prev.IMEI]
	if !ok {
		return &inventory.NotFoundError{Entity: "unit", ID: prev.IMEI}
	}
	if cur.Status != prev.Status || cur.Version != prev.Version {
		return inventory.ErrConcurrentModification
	}
	next.IMEI = prev.IMEI
	next.Version = prev.Version + 1
	tv.data.units[prev.IMEI] = next
	return nil
}

func (tv *txView) UnitsByLink(_ context.Context, link inventory.Linkage) ([]inventory.Unit, error) {
	var out []inventory.Unit
	for _, u := range tv.data.units {
		if u.Link == link {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IMEI < out[j].IMEI })
	return out, nil
}

func (tv *txView) ExpiredHoldOrders(_ context.Context, now time.Time, after string, limit int) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, u := range tv.data.units {
		if u.Status != inventory.StatusReserved || u.HoldExpiresAt == nil || !u.HoldExpiresAt.Before(now) {
			continue
		}
		if u.Link.ID <= after {
			continue
		}
		if !seen[u.Link.ID] {
			seen[u.Link.ID] = true
			out = append(out, u.Link.ID)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tv *txView) CountAvailableByVariant(_ context.Context) (map[string]int, error) {
	out := map[string]int{}
	for _, u := range tv.data.units {
		if u.Status.CountsAsStock() {
			out[u.VariantID]++
		}
	}
	return out, nil
}

func (tv *txView) GetVariant(_ context.Context, id string) (inventory.Variant, error) {
	v, ok := tv.data.variants[id]
	if !ok {
		return inventory.Variant{}, &inventory.NotFoundError{Entity: "variant", ID: id}
	}
	return v, nil
}

func (tv *txView) ListVariants(_ context.Context) ([]inventory.Variant, error) {
	out := make([]inventory.Variant, 0, len(tv.data.variants))
	for _, v := range tv.data.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tv *txView) PutVariant(_ context.Context, v inventory.Variant) error {
	if prev, ok := tv.data.variants[v.ID]; ok {
		v.StockCount = prev.StockCount
	}
	tv.data.variants[v.ID] = v
	return nil
}

func (tv *txView) AdjustVariantStock(_ context.Context, id string, delta int) error {
	v, ok := tv.data.variants[id]
	if !ok {
		return &inventory.NotFoundError{Entity: "variant", ID: id}
	}
	v.StockCount += delta
	tv.data.variants[id] = v
	return nil
}

func (tv *txView) SetVariantStock(_ context.Context, id string, count int) error {
	v, ok := tv.data.variants[id]
	if !ok {
		return &inventory.NotFoundError{Entity: "variant", ID: id}
	}
	v.StockCount = count
	tv.data.variants[id] = v
	return nil
}

func (tv *txView) InsertSalesOrder(_ context.Context, o inventory.SalesOrder) error {
	if tv.data.numbers[o.OrderNumber] {
		return inventory.ErrDuplicateOrderNumber
	}
	if o.IdempotencyKey != "" {
		if _, ok := tv.data.orderKeys[o.IdempotencyKey]; ok {
			return inventory.ErrDuplicateIdempotencyKey
		}
		tv.data.orderKeys[o.IdempotencyKey] = o.ID
	}
	tv.data.numbers[o.OrderNumber] = true
	tv.data.orders[o.ID] = o
	return nil
}

func (tv *txView) UpdateSalesOrder(_ context.Context, o inventory.SalesOrder) error {
	if _, ok := tv.data.orders[o.ID]; !ok {
		return &inventory.NotFoundError{Entity: "sales order", ID: o.ID}
	}
	tv.data.orders[o.ID] = o
	return nil
}

func (tv *txView) GetSalesOrder(_ context.Context, id string) (inventory.SalesOrder, error) {
	o, ok := tv.data.orders[id]
	if !ok {
		return inventory.SalesOrder{}, &inventory.NotFoundError{Entity: "sales order", ID: id}
	}
	return o, nil
}

func (tv *txView) GetSalesOrderByKey(ctx context.Context, key string) (inventory.SalesOrder, error) {
	id, ok := tv.data.orderKeys[key]
	if !ok {
		return inventory.SalesOrder{}, &inventory.NotFoundError{Entity: "sales order", ID: key}
	}
	return tv.GetSalesOrder(ctx, id)
}

func (tv *txView) InsertPurchaseOrder(_ context.Context, po inventory.PurchaseOrder) error {
	if tv.data.numbers[po.Number] {
		return inventory.ErrDuplicateOrderNumber
	}
	tv.data.numbers[po.Number] = true
	tv.data.purchases[po.ID] = po
	return nil
}

func (tv *txView) GetPurchaseOrder(_ context.Context, id string) (inventory.PurchaseOrder, error) {
	po, ok := tv.data.purchases[id]
	if !ok {
		return inventory.PurchaseOrder{}, &inventory.NotFoundError{Entity: "purchase order", ID: id}
	}
	return po, nil
}

func (tv *txView) InsertReturn(_ context.Context, r inventory.ReturnRecord) error {
	if tv.data.numbers[r.ReturnNumber] {
		return inventory.ErrDuplicateOrderNumber
	}
	tv.data.numbers[r.ReturnNumber] = true
	tv.data.returns[r.ID] = r
	tv.data.orderRets[r.SalesOrderID] = append(tv.data.orderRets[r.SalesOrderID], r.ID)
	return nil
}

func (tv *txView) ReturnsByOrder(_ context.Context, orderID string) ([]inventory.ReturnRecord, error) {
	ids := tv.data.orderRets[orderID]
	out := make([]inventory.ReturnRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, tv.data.returns[id])
	}
	return out, nil
}

func (tv *txView) NumberTaken(_ context.Context, number string) (bool, error) {
	return tv.data.numbers[number], nil
}

func (tv *txView) InsertCustomer(_ context.Context, c inventory.Customer) error {
	if _, ok := tv.data.customers[c.ID]; ok {
		return &inventory.DuplicateError{Entity: "customer", Key: c.ID}
	}
	tv.data.customers[c.ID] = c
	return nil
}

func (tv *txView) GetCustomer(_ context.Context, id string) (inventory.Customer, error) {
	c, ok := tv.data.customers[id]
	if !ok {
		return inventory.Customer{}, &inventory.NotFoundError{Entity: "customer", ID: id}
	}
	return c, nil
}

func (tv *txView) FindCustomerByPhone(_ context.Context, phone string) (inventory.Customer, error) {
	var found *inventory.Customer
	for _, c := range tv.data.customers {
		if c.Phone != phone {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) || (c.CreatedAt.Equal(found.CreatedAt) && c.ID < found.ID) {
			c := c
			found = &c
		}
	}
	if found == nil {
		return inventory.Customer{}, &inventory.NotFoundError{Entity: "customer", ID: phone}
	}
	return *found, nil
}

func (tv *txView) UpdateCustomer(_ context.Context, c inventory.Customer) error {
	if _, ok := tv.data.customers[c.ID]; !ok {
		return &inventory.NotFoundError{Entity: "customer", ID: c.ID}
	}
	tv.data.customers[c.ID] = c
	return nil
}

func (tv *txView) InsertUser(_ context.Context, u inventory.User) error {
	if _, ok := tv.data.users[u.ID]; ok {
		return &inventory.DuplicateError{Entity: "user", Key: u.ID}
	}
	tv.data.users[u.ID] = u
	return nil
}

func (tv *txView) GetUser(_ context.Context, id string) (inventory.User, error) {
	u, ok := tv.data.users[id]
	if !ok {
		return inventory.User{}, &inventory.NotFoundError{Entity: "user", ID: id}
	}
	return u, nil
}

func (tv *txView) MarkApplied(_ context.Context, entityID, eventID string) (bool, error) {
	k := entityID + "\x00" + eventID
	if tv.data.applied[k] {
		return false, nil
	}
	tv.data.applied[k] = true
	return true, nil
}

func (tv *txView) AppendEvents(_ context.Context, events []inventory.Event) error {
	for _, ev := range events {
		if _, ok := tv.data.eventIndex[ev.ID]; ok {
			continue
		}
		tv.data.eventIndex[ev.ID] = len(tv.data.events)
		tv.data.events = append(tv.data.events, ev)
	}
	return nil
}

func (tv *txView) PendingEvents(_ context.Context, limit int) ([]inventory.Event, error) {
	var out []inventory.Event
	for _, ev := range tv.data.events {
		if ev.DeliveredAt != nil {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (tv *txView) MarkDelivered(_ context.Context, id string, at time.Time) error {
	i, ok := tv.data.eventIndex[id]
	if !ok {
		return &inventory.NotFoundError{Entity: "event", ID: id}
	}
	ev := tv.data.events[i]
	ev.DeliveredAt = &at
	ev.Attempts++
	tv.data.events[i] = ev
	return nil
}

func (tv *txView) MarkFailed(_ context.Context, id, reason string) error {
	i, ok := tv.data.eventIndex[id]
	if !ok {
		return &inventory.NotFoundError{Entity: "event", ID: id}
	}
	ev := tv.data.events[i]
	ev.Attempts++
	ev.LastError = reason
	tv.data.events[i] = ev
	return nil
}

// =============================================================================
// SEARCH - Filter, order by (sort value, id), continue after the cursor
// =============================================================================

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}

func page[T any](rows []T, q inventory.PageQuery, key func(T) inventory.CursorKey) []T {
	sort.Slice(rows, func(i, j int) bool {
		c := inventory.CompareKeys(q.Sort, key(rows[i]), key(rows[j]))
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
	out := make([]T, 0, q.Limit)
	for _, r := range rows {
		if q.After != nil {
			c := inventory.CompareKeys(q.Sort, key(r), *q.After)
			if (!q.Desc && c <= 0) || (q.Desc && c >= 0) {
				continue
			}
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

func (tv *txView) SearchCustomers(_ context.Context, q inventory.PageQuery) ([]inventory.Customer, error) {
	text := strings.ToLower(q.Text)
	var rows []inventory.Customer
	for _, c := range tv.data.customers {
		if q.Active != nil && c.IsActive != *q.Active {
			continue
		}
		if text != "" && !contains(c.Name, text) && !contains(c.Phone, text) && !contains(c.Email, text) &&
			(q.Phone == "" || !strings.Contains(c.Phone, q.Phone)) {
			continue
		}
		rows = append(rows, c)
	}
	return page(rows, q, func(c inventory.Customer) inventory.CursorKey {
		return inventory.CursorKey{Value: inventory.CustomerSortValue(c, q.Sort.Name), ID: c.ID}
	}), nil
}

func (tv *txView) SearchUnits(_ context.Context, q inventory.PageQuery) ([]inventory.Unit, error) {
	statuses := map[inventory.UnitStatus]bool{}
	for _, s := range q.Statuses {
		statuses[s] = true
	}
	var rows []inventory.Unit
	for _, u := range tv.data.units {
		if len(statuses) > 0 && !statuses[u.Status] {
			continue
		}
		if q.Text != "" && !strings.HasPrefix(u.IMEI, q.Text) {
			continue
		}
		rows = append(rows, u)
	}
	return page(rows, q, func(u inventory.Unit) inventory.CursorKey {
		return inventory.CursorKey{Value: inventory.UnitSortValue(u, q.Sort.Name), ID: u.IMEI}
	}), nil
}

func (tv *txView) SearchUsers(_ context.Context, q inventory.PageQuery) ([]inventory.User, error) {
	text := strings.ToLower(q.Text)
	var rows []inventory.User
	for _, u := range tv.data.users {
		if q.Active != nil && u.IsActive != *q.Active {
			continue
		}
		if text != "" && !contains(u.Name, text) && !contains(u.Phone, text) && !contains(u.Email, text) &&
			(q.Phone == "" || !strings.Contains(u.Phone, q.Phone)) {
			continue
		}
		rows = append(rows, u)
	}
	return page(rows, q, func(u inventory.User) inventory.CursorKey {
		return inventory.CursorKey{Value: inventory.UserSortValue(u, q.Sort.Name), ID: u.ID}
	}), nil
}

var _ inventory.TxStore = (*Memory)(nil)
