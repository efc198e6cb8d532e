// Package fulfillment tells downstream systems that a payment succeeded.
package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-orchestration/internal/models"
	"payment-orchestration/pkg/tracing"
)

const EventPaymentSucceeded = "payment.succeeded"

// PaymentSucceeded is the message published for a SUCCESS record. EventID is
// derived from the reference, so repeated publishes for one payment carry the
// same id and consumers can drop the copies.
type PaymentSucceeded struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Reference        string          `json:"reference"`
	OrderRef         string          `json:"order_ref"`
	CustomerRef      string          `json:"customer_ref"`
	GatewayCode      string          `json:"gateway_code"`
	GatewayReference string          `json:"gateway_reference,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
}

func eventID(reference string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(EventPaymentSucceeded+"/"+reference)).String()
}

func newPaymentSucceeded(rec models.PaymentRecord) (PaymentSucceeded, error) {
	if rec.Status != models.PaymentStatusSuccess {
		return PaymentSucceeded{}, fmt.Errorf("payment %s is %s, not %s", rec.Reference, rec.Status, models.PaymentStatusSuccess)
	}
	return PaymentSucceeded{
		EventID:          eventID(rec.Reference),
		EventType:        EventPaymentSucceeded,
		OccurredAt:       rec.UpdatedAt,
		Reference:        rec.Reference,
		OrderRef:         rec.OrderRef,
		CustomerRef:      rec.CustomerRef,
		GatewayCode:      rec.GatewayCode,
		GatewayReference: rec.GatewayReference,
		Amount:           rec.Amount,
		Currency:         rec.Currency,
	}, nil
}

// Writer is the part of *kafka.Writer the trigger uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
}

// KafkaTrigger publishes PaymentSucceeded keyed by reference so all events of
// one payment land on one partition.
type KafkaTrigger struct {
	writer Writer
	log    *zap.Logger
}

func NewKafkaTrigger(writer Writer, log *zap.Logger) *KafkaTrigger {
	return &KafkaTrigger{writer: writer, log: log}
}

func (t *KafkaTrigger) Fulfill(ctx context.Context, rec models.PaymentRecord) error {
	evt, err := newPaymentSucceeded(rec)
	if err != nil {
		return err
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.EventType, err)
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(evt.EventType)},
		{Key: "event_id", Value: []byte(evt.EventID)},
	}
	msg := kafka.Message{
		Key:     []byte(rec.Reference),
		Value:   value,
		Headers: tracing.InjectKafkaHeaders(ctx, headers),
		Time:    evt.OccurredAt,
	}
	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for %s: %w", evt.EventType, rec.Reference, err)
	}

	t.log.Info("fulfillment event published",
		zap.String("reference", rec.Reference),
		zap.String("event_id", evt.EventID),
	)
	return nil
}

// LogTrigger only logs. It is used when no broker is configured.
type LogTrigger struct {
	log *zap.Logger
}

func NewLogTrigger(log *zap.Logger) *LogTrigger {
	return &LogTrigger{log: log}
}

func (t *LogTrigger) Fulfill(_ context.Context, rec models.PaymentRecord) error {
	evt, err := newPaymentSucceeded(rec)
	if err != nil {
		return err
	}
	t.log.Info("payment ready for fulfillment",
		zap.String("reference", evt.Reference),
		zap.String("order_ref", evt.OrderRef),
		zap.String("event_id", evt.EventID),
		zap.String("amount", evt.Amount.String()),
		zap.String("currency", evt.Currency),
	)
	return nil
}
