/*
Package outbox delivers committed ledger events to their consumers.

PURPOSE:
  The ledger writes events into the outbox table in the same transaction as
  the unit transitions they describe. The Dispatcher reads pending events and
  hands each one to every registered Handler (the aggregate maintainer, and
  optionally a Kafka publisher).

DELIVERY:
  At-least-once. An event is marked delivered only when every handler
  accepted it; otherwise it is marked failed and picked up again on the next
  pass. Handlers must therefore be idempotent.

TRIGGERS:
  - Notify(): called by the ledger after a commit that emitted events
  - a ticker (Interval), which also retries failed events

USAGE:
  d := outbox.NewDispatcher(store, logger, maintainer, publisher)
  ledger.SetNotifier(d)
  d.Start()
  defer d.Stop()
*/
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/unit-ledger/inventory"
)

// Handler consumes one event. It must tolerate redelivery.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev inventory.Event) error
}

type Dispatcher struct {
	Store     inventory.EventStore
	Handlers  []Handler
	Interval  time.Duration
	BatchSize int
	Logger    *logrus.Logger

	notify  chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// passMu serializes delivery passes.
	passMu sync.Mutex
}

func NewDispatcher(store inventory.EventStore, logger *logrus.Logger, handlers ...Handler) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		Store:     store,
		Handlers:  handlers,
		Interval:  2 * time.Second,
		BatchSize: 100,
		Logger:    logger,
		notify:    make(chan struct{}, 1),
	}
}

// Notify wakes the delivery loop. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Start begins the background delivery loop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.run()
	d.Logger.WithField("interval", d.Interval.String()).Info("[Outbox] Dispatcher started")
}

// Stop halts the loop and waits for the current pass to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	close(d.stop)
	d.wg.Wait()
	d.running = false
	d.Logger.Info("[Outbox] Dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	d.drain()
	for {
		select {
		case <-ticker.C:
			d.drain()
		case <-d.notify:
			d.drain()
		case <-d.stop:
			return
		}
	}
}

// drain delivers full batches until a pass makes no complete progress.
func (d *Dispatcher) drain() {
	ctx := context.Background()
	for {
		delivered, attempted, err := d.pass(ctx)
		if err != nil {
			d.Logger.WithError(err).Error("[Outbox] Failed to read pending events")
			return
		}
		if attempted < d.batchSize() || delivered < attempted {
			return
		}
	}
}

func (d *Dispatcher) batchSize() int {
	if d.BatchSize <= 0 {
		return 100
	}
	return d.BatchSize
}

// DispatchPending runs one delivery pass and returns how many events were
// delivered.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	delivered, _, err := d.pass(ctx)
	return delivered, err
}

func (d *Dispatcher) pass(ctx context.Context) (delivered, attempted int, err error) {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	events, err := d.Store.PendingEvents(ctx, d.batchSize())
	if err != nil {
		return 0, 0, err
	}
	for _, ev := range events {
		if d.deliver(ctx, ev) {
			delivered++
		}
	}
	return delivered, len(events), nil
}

func (d *Dispatcher) deliver(ctx context.Context, ev inventory.Event) bool {
	fields := logrus.Fields{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"order_id":   ev.OrderID,
		"attempt":    ev.Attempts + 1,
	}
	for _, h := range d.Handlers {
		if err := h.Handle(ctx, ev); err != nil {
			d.Logger.WithFields(fields).WithField("handler", h.Name()).WithError(err).Warn("[Outbox] Delivery failed")
			if markErr := d.Store.MarkFailed(ctx, ev.ID, h.Name()+": "+err.Error()); markErr != nil {
				d.Logger.WithFields(fields).WithError(markErr).Error("[Outbox] Failed to record delivery failure")
			}
			return false
		}
	}
	if err := d.Store.MarkDelivered(ctx, ev.ID, time.Now().UTC()); err != nil {
		d.Logger.WithFields(fields).WithError(err).Error("[Outbox] Failed to mark event delivered")
		return false
	}
	d.Logger.WithFields(fields).Debug("[Outbox] Event delivered")
	return true
}

var _ inventory.Notifier = (*Dispatcher)(nil)
