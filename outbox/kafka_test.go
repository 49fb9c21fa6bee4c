package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/unit-ledger/inventory"
	"github.com/warp/unit-ledger/outbox"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaPublisher_KeysByOrder(t *testing.T) {
	w := &fakeWriter{}
	p := outbox.NewKafkaPublisherWithWriter(w)
	at := time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC)

	sale := inventory.Event{
		ID: "ev-1", Type: inventory.EventSaleCommitted, OrderID: "order-1", CustomerID: "c-1",
		Amount: decimal.RequireFromString("60500000"), OrderDelta: 1,
		StockDeltas: map[string]int{"v1": 0}, IMEIs: []string{"490154203237518"}, OccurredAt: at,
	}
	intake := inventory.Event{ID: "ev-2", Type: inventory.EventIntakeCommitted, OccurredAt: at}

	require.NoError(t, p.Handle(context.Background(), sale))
	require.NoError(t, p.Handle(context.Background(), intake))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "order-1", string(w.msgs[0].Key))
	assert.Equal(t, "ev-2", string(w.msgs[1].Key), "events without an order are keyed by id")
	assert.Equal(t, "sale.committed", header(w.msgs[0], "event_type"))
	assert.Equal(t, "ev-1", header(w.msgs[0], "event_id"))
	assert.Equal(t, at, w.msgs[0].Time)

	var decoded inventory.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "c-1", decoded.CustomerID)
	assert.True(t, decoded.Amount.Equal(sale.Amount))
	assert.Equal(t, sale.IMEIs, decoded.IMEIs)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.Equal(t, "kafka", p.Name())
}

func TestKafkaPublisher_PropagatesWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := outbox.NewKafkaPublisherWithWriter(w)
	err := p.Handle(context.Background(), inventory.Event{ID: "ev-1", Type: inventory.EventUnitRetired})
	assert.EqualError(t, err, "leader not available")
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, outbox.SplitBrokers(" k1:9092, ,k2:9092 "))
	assert.Empty(t, outbox.SplitBrokers(""))
}
