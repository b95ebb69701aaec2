package events_test

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

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/events"
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

func TestKafkaProducer_PublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := events.NewKafkaProducerWithWriter(w, nil)
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	ev := budget.Event{ID: "ev-1", Type: budget.EventBudgetRefreshed, Budget: "BUD-2025-LIVE-0001", Year: "2025", TotalNet: decimal.NewFromInt(1200), CreatedAt: at}

	require.NoError(t, p.Publish(context.Background(), ev.Budget, ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "BUD-2025-LIVE-0001", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, budget.EventBudgetRefreshed, string(msg.Headers[0].Value))

	var decoded budget.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "2025", decoded.Year)
	assert.True(t, decoded.TotalNet.Equal(decimal.NewFromInt(1200)))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaProducer_WriteFailure(t *testing.T) {
	p := events.NewKafkaProducerWithWriter(&fakeWriter{err: errors.New("broker down")}, nil)

	err := p.Publish(context.Background(), "k", map[string]string{"a": "b"})

	assert.ErrorContains(t, err, "broker down")
}
