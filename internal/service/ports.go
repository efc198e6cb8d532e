// Package service drives payment attempts: initiation against a provider
// adapter and reconciliation of provider notifications.
package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payment-orchestration/internal/catalog"
	"payment-orchestration/internal/models"
)

// maxSaveAttempts bounds compare-and-set retries on a single record.
const maxSaveAttempts = 3

var ErrUnsupportedGateway = errors.New("gateway does not accept notifications")

// PaymentStore is the persistence the services need. Save must be a
// compare-and-set on Version that also refuses terminal records.
type PaymentStore interface {
	Create(ctx context.Context, rec models.PaymentRecord) error
	FindByReference(ctx context.Context, reference string) (models.PaymentRecord, error)
	FindByTrackingID(ctx context.Context, gatewayCode, trackingID string) (models.PaymentRecord, error)
	Save(ctx context.Context, rec models.PaymentRecord, expectedVersion int64) error
	AppendSnapshot(ctx context.Context, reference string, kind models.SnapshotKind, payload []byte) error
	Snapshots(ctx context.Context, reference string) ([]models.Snapshot, error)
}

type Catalog interface {
	Resolve(methodCode, variantCode, currency string) (catalog.Selection, error)
}

// FulfillmentTrigger is told about every record that reached SUCCESS.
// Implementations must tolerate repeated calls for one reference.
type FulfillmentTrigger interface {
	Fulfill(ctx context.Context, rec models.PaymentRecord) error
}

// fulfill hands a successful record to the trigger. Errors are logged only:
// the payment stays SUCCESS and fulfillment is retried downstream.
func fulfill(ctx context.Context, tracer trace.Tracer, trigger FulfillmentTrigger, log *zap.Logger, rec models.PaymentRecord) {
	if trigger == nil {
		return
	}
	ctx, span := tracer.Start(ctx, "payment.fulfill")
	defer span.End()

	if err := trigger.Fulfill(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("fulfillment trigger failed", zap.Error(err))
	}
}
