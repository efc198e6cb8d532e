package fulfillment

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
	"go.uber.org/zap"

	"payment-orchestration/internal/models"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func successRecord() models.PaymentRecord {
	rec := models.NewPaymentRecord("PAY-1", "ORD-1", "CUST-1", "237670000001", decimal.RequireFromString("2500.50"), "XAF", time.Now())
	rec.GatewayCode = "MOMOPAY"
	rec.GatewayReference = "MP-1"
	rec.Status = models.PaymentStatusSuccess
	return rec
}

func TestKafkaTriggerPublishesKeyedEvent(t *testing.T) {
	w := &fakeWriter{}
	trigger := NewKafkaTrigger(w, zap.NewNop())

	require.NoError(t, trigger.Fulfill(context.Background(), successRecord()))
	require.NoError(t, trigger.Fulfill(context.Background(), successRecord()))
	require.Len(t, w.msgs, 2)

	msg := w.msgs[0]
	assert.Equal(t, "PAY-1", string(msg.Key))

	var evt PaymentSucceeded
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, EventPaymentSucceeded, evt.EventType)
	assert.Equal(t, "ORD-1", evt.OrderRef)
	assert.True(t, evt.Amount.Equal(decimal.RequireFromString("2500.50")))

	var second PaymentSucceeded
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &second))
	assert.Equal(t, evt.EventID, second.EventID, "repeated publishes must share the event id")

	var eventType string
	for _, h := range msg.Headers {
		if h.Key == "event_type" {
			eventType = string(h.Value)
		}
	}
	assert.Equal(t, EventPaymentSucceeded, eventType)
}

func TestKafkaTriggerRejectsUnresolvedRecord(t *testing.T) {
	w := &fakeWriter{}
	rec := successRecord()
	rec.Status = models.PaymentStatusProcessing

	assert.Error(t, NewKafkaTrigger(w, zap.NewNop()).Fulfill(context.Background(), rec))
	assert.Empty(t, w.msgs)
}

func TestKafkaTriggerWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	err := NewKafkaTrigger(&fakeWriter{err: boom}, zap.NewNop()).Fulfill(context.Background(), successRecord())
	assert.ErrorIs(t, err, boom)
}

func TestLogTrigger(t *testing.T) {
	assert.NoError(t, NewLogTrigger(zap.NewNop()).Fulfill(context.Background(), successRecord()))
}
