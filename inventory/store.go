/*
store.go - Persistence interfaces for the unit ledger

PURPOSE:
  Defines the boundary between the engines and the database. Engines run all
  mutations inside TxStore.WithTx so that a claim, a sale or an intake either
  lands completely or not at all.

KEY INTERFACES:
  UnitStore:      units, with compare-and-swap updates on (status, version)
  CatalogStore:   variants and their derived stock counters
  OrderStore:     sales orders, purchase orders, return records
  PartyStore:     customers and staff users
  AggregateStore: dedup records for the Maintainer
  EventStore:     the outbox of committed ledger events
  SearchStore:    keyset-ordered reads for the Query layer

OPTIMISTIC CONCURRENCY:
  CompareAndSwapUnit writes next only if the stored row still carries
  prev.Status and prev.Version; otherwise it returns ErrConcurrentModification.
  The stored version is always prev.Version+1 after a successful swap.

IMPLEMENTATIONS:
  - inventory/store/memory.go: in-memory, snapshot/rollback transactions
  - store/sqlstore: SQLite and PostgreSQL via database/sql

SEE ALSO:
  - ledger.go: the only writer of units
  - aggregate.go: the only writer of derived counters
*/
package inventory

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interfaces for ledger persistence
// =============================================================================

type UnitStore interface {
	// GetUnit returns ErrNotFound for unknown IMEIs.
	GetUnit(ctx context.Context, imei string) (Unit, error)

	// GetUnits returns the known units keyed by IMEI; unknown IMEIs are omitted.
	GetUnits(ctx context.Context, imeis []string) (map[string]Unit, error)

	// InsertUnit returns ErrDuplicateIMEI if the IMEI already exists.
	InsertUnit(ctx context.Context, u Unit) error

	// CompareAndSwapUnit replaces prev with next if prev is still current.
	CompareAndSwapUnit(ctx context.Context, prev, next Unit) error

	// UnitsByLink returns the units currently linked to a document.
	UnitsByLink(ctx context.Context, link Linkage) ([]Unit, error)

	// ExpiredHoldOrders returns, in ascending order, the distinct orders
	// after the given id holding reserved units whose hold expired before now.
	ExpiredHoldOrders(ctx context.Context, now time.Time, after string, limit int) ([]string, error)

	// CountAvailableByVariant counts units in status available per variant.
	CountAvailableByVariant(ctx context.Context) (map[string]int, error)
}

type CatalogStore interface {
	GetVariant(ctx context.Context, id string) (Variant, error)
	ListVariants(ctx context.Context) ([]Variant, error)

	// PutVariant creates or updates catalog fields; StockCount is left untouched on update.
	PutVariant(ctx context.Context, v Variant) error

	AdjustVariantStock(ctx context.Context, id string, delta int) error
	SetVariantStock(ctx context.Context, id string, count int) error
}

type OrderStore interface {
	// InsertSalesOrder returns ErrDuplicateOrderNumber or ErrDuplicateIdempotencyKey.
	InsertSalesOrder(ctx context.Context, o SalesOrder) error
	UpdateSalesOrder(ctx context.Context, o SalesOrder) error
	GetSalesOrder(ctx context.Context, id string) (SalesOrder, error)
	GetSalesOrderByKey(ctx context.Context, idempotencyKey string) (SalesOrder, error)

	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) error
	GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error)

	InsertReturn(ctx context.Context, r ReturnRecord) error
	ReturnsByOrder(ctx context.Context, salesOrderID string) ([]ReturnRecord, error)

	// NumberTaken reports whether any sales, purchase or return document uses number.
	NumberTaken(ctx context.Context, number string) (bool, error)
}

type PartyStore interface {
	InsertCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id string) (Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string) (Customer, error)
	UpdateCustomer(ctx context.Context, c Customer) error

	InsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
}

// AggregateStore records which events have been applied to which entities.
type AggregateStore interface {
	// MarkApplied records (entityID, eventID) and reports whether it was new.
	MarkApplied(ctx context.Context, entityID, eventID string) (bool, error)
}

type EventStore interface {
	AppendEvents(ctx context.Context, events []Event) error

	// PendingEvents returns undelivered events, oldest first. limit <= 0 returns all.
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

type SearchStore interface {
	SearchCustomers(ctx context.Context, q PageQuery) ([]Customer, error)
	SearchUnits(ctx context.Context, q PageQuery) ([]Unit, error)
	SearchUsers(ctx context.Context, q PageQuery) ([]User, error)
}

// Store is everything a transaction body can touch.
type Store interface {
	UnitStore
	CatalogStore
	OrderStore
	PartyStore
	AggregateStore
	EventStore
	SearchStore
}

// TxStore runs fn inside a serializable transaction. If fn returns an error
// every write made through the Store passed to fn is discarded.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
