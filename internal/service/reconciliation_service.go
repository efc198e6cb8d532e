package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payment-orchestration/internal/gateway"
	"payment-orchestration/internal/models"
	"payment-orchestration/pkg/logger"
)

// CallbackResult is what the transport layer needs to answer a provider.
type CallbackResult struct {
	Ack         gateway.Ack
	Disposition gateway.Disposition
	Reference   string
}

// ReconciliationService applies provider notifications to payment records.
// Every record moves to a terminal state at most once, and the fulfillment
// trigger runs only for the delivery that made that move.
type ReconciliationService struct {
	store    PaymentStore
	registry *gateway.Registry
	trigger  FulfillmentTrigger
	metrics  *Metrics
	log      *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewReconciliationService(store PaymentStore, registry *gateway.Registry, trigger FulfillmentTrigger, metrics *Metrics, log *zap.Logger) *ReconciliationService {
	return &ReconciliationService{
		store:    store,
		registry: registry,
		trigger:  trigger,
		metrics:  metrics,
		log:      log,
		tracer:   otel.Tracer("payment-orchestration/reconciliation"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleCallback parses and applies one inbound notification. The returned
// error is set only when the notification could not be processed and the
// provider should redeliver it.
func (s *ReconciliationService) HandleCallback(ctx context.Context, gatewayCode string, req gateway.CallbackRequest) (CallbackResult, error) {
	gatewayCode = strings.ToUpper(gatewayCode)
	ctx, span := s.tracer.Start(ctx, "payment.callback", trace.WithAttributes(
		attribute.String("payment.gateway", gatewayCode),
	))
	defer span.End()

	parser, ok := s.registry.CallbackParser(gatewayCode)
	if !ok {
		return CallbackResult{}, fmt.Errorf("%w: %s", ErrUnsupportedGateway, gatewayCode)
	}

	n, err := parser.ParseCallback(ctx, req)
	if err != nil {
		d := gateway.DispositionInvalid
		if errors.Is(err, gateway.ErrIgnoredNotification) {
			d = gateway.DispositionIgnored
		} else {
			s.log.Warn("unreadable provider notification",
				zap.String("gateway", gatewayCode),
				zap.Error(err),
			)
		}
		s.metrics.callback(gatewayCode, string(d))
		return CallbackResult{Ack: parser.Acknowledge(d), Disposition: d}, nil
	}
	span.SetAttributes(attribute.String("payment.reference", n.Reference))

	d, rec, err := s.reconcile(ctx, n, models.SnapshotWebhook)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.callback(gatewayCode, "error")
		return CallbackResult{Reference: rec.Reference}, err
	}

	s.metrics.callback(gatewayCode, string(d))
	return CallbackResult{Ack: parser.Acknowledge(d), Disposition: d, Reference: rec.Reference}, nil
}

// Verify asks the provider for the current state of a payment and applies the
// answer the same way a notification would be applied.
func (s *ReconciliationService) Verify(ctx context.Context, reference string) (models.PaymentRecord, gateway.Disposition, error) {
	ctx, span := s.tracer.Start(ctx, "payment.verify", trace.WithAttributes(
		attribute.String("payment.reference", reference),
	))
	defer span.End()

	rec, err := s.store.FindByReference(ctx, reference)
	if err != nil {
		return models.PaymentRecord{}, "", err
	}
	if rec.Status.Terminal() {
		return rec, gateway.DispositionDuplicate, nil
	}

	verifier, ok := s.registry.Verifier(rec.GatewayCode)
	if !ok {
		return rec, "", models.NewValidationError("reference", "%s payments cannot be verified", rec.GatewayCode)
	}

	started := time.Now()
	n, err := verifier.Verify(ctx, rec)
	s.metrics.observeGateway(rec.GatewayCode, started)
	if err != nil {
		span.RecordError(err)
		return rec, "", err
	}
	if n.Reference == "" {
		n.Reference = rec.Reference
	}

	d, next, err := s.reconcile(ctx, n, models.SnapshotVerification)
	if err != nil {
		return rec, "", err
	}
	s.metrics.callback(rec.GatewayCode, "verify_"+string(d))
	if next.Reference == "" {
		next = rec
	}
	return next, d, nil
}

// Payment returns a record with its audit snapshots.
func (s *ReconciliationService) Payment(ctx context.Context, reference string) (models.PaymentRecord, []models.Snapshot, error) {
	rec, err := s.store.FindByReference(ctx, reference)
	if err != nil {
		return models.PaymentRecord{}, nil, err
	}
	snaps, err := s.store.Snapshots(ctx, reference)
	if err != nil {
		return rec, nil, fmt.Errorf("load snapshots: %w", err)
	}
	return rec, snaps, nil
}

func (s *ReconciliationService) locate(ctx context.Context, n models.Notification) (models.PaymentRecord, error) {
	if n.Reference != "" {
		rec, err := s.store.FindByReference(ctx, n.Reference)
		if err == nil || !errors.Is(err, models.ErrPaymentNotFound) || n.TrackingID == "" {
			return rec, err
		}
	}
	if n.TrackingID == "" {
		return models.PaymentRecord{}, models.ErrPaymentNotFound
	}
	return s.store.FindByTrackingID(ctx, n.GatewayCode, n.TrackingID)
}

func (s *ReconciliationService) reconcile(ctx context.Context, n models.Notification, kind models.SnapshotKind) (gateway.Disposition, models.PaymentRecord, error) {
	rec, err := s.locate(ctx, n)
	if errors.Is(err, models.ErrPaymentNotFound) {
		s.log.Warn("notification for unknown payment",
			zap.String("gateway", n.GatewayCode),
			zap.String("reference", n.Reference),
			zap.String("tracking_id", n.TrackingID),
			zap.String("provider_code", n.ProviderCode),
		)
		return gateway.DispositionUnknownReference, models.PaymentRecord{}, nil
	}
	if err != nil {
		return "", models.PaymentRecord{}, fmt.Errorf("locate payment record: %w", err)
	}

	log := logger.Payment(s.log, rec.Reference, rec.GatewayCode)

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		if rec.Status.Terminal() {
			log.Info("notification for resolved payment ignored",
				zap.String("status", string(rec.Status)),
				zap.String("provider_code", n.ProviderCode),
				zap.Error(models.ErrDuplicateNotification),
			)
			return gateway.DispositionDuplicate, rec, nil
		}

		if attempt == 0 {
			if err := s.store.AppendSnapshot(ctx, rec.Reference, kind, n.Raw); err != nil {
				return "", rec, fmt.Errorf("store %s snapshot: %w", kind, err)
			}
		}

		if err := checkIntegrity(rec, n, s.registry.ReportsPayer(rec.GatewayCode)); err != nil {
			log.Warn("notification disagrees with payment record", zap.Error(err))
			return gateway.DispositionMismatch, rec, nil
		}

		ev, final := notificationEvent(n)
		if !final {
			log.Debug("intermediate provider status", zap.String("provider_code", n.ProviderCode))
			return gateway.DispositionInProgress, rec, nil
		}

		next, err := models.Transition(rec, ev, s.now())
		if err != nil {
			return "", rec, err
		}

		err = s.store.Save(ctx, next, rec.Version)
		if errors.Is(err, models.ErrConcurrentUpdate) {
			if rec, err = s.store.FindByReference(ctx, rec.Reference); err != nil {
				return "", rec, fmt.Errorf("reload payment record: %w", err)
			}
			continue
		}
		if err != nil {
			return "", rec, fmt.Errorf("save payment record: %w", err)
		}

		log.Info("payment resolved by provider notification",
			zap.String("status", string(next.Status)),
			zap.String("gateway_reference", next.GatewayReference),
		)
		if next.Status == models.PaymentStatusSuccess {
			fulfill(ctx, s.tracer, s.trigger, log, next)
		}
		return gateway.DispositionApplied, next, nil
	}

	return "", rec, fmt.Errorf("%w: %s", models.ErrConcurrentUpdate, rec.Reference)
}

// checkIntegrity compares the money fields of n with the stored record. The
// amount must always match and currency is compared when present. The payer
// must match whenever the provider reports one; payerRequired makes a missing
// payer a mismatch too.
func checkIntegrity(rec models.PaymentRecord, n models.Notification, payerRequired bool) error {
	if n.GatewayCode != "" && n.GatewayCode != rec.GatewayCode {
		return &models.MismatchError{Reference: rec.Reference, Field: "gateway", Expected: rec.GatewayCode, Actual: n.GatewayCode}
	}
	if !n.Amount.Equal(rec.Amount) {
		return &models.MismatchError{Reference: rec.Reference, Field: "amount", Expected: rec.Amount.String(), Actual: n.Amount.String()}
	}
	if n.Currency != "" && !strings.EqualFold(n.Currency, rec.Currency) {
		return &models.MismatchError{Reference: rec.Reference, Field: "currency", Expected: rec.Currency, Actual: n.Currency}
	}
	if (payerRequired || n.PayerID != "") && n.PayerID != rec.AccountNumber {
		return &models.MismatchError{Reference: rec.Reference, Field: "account_number", Expected: rec.AccountNumber, Actual: n.PayerID}
	}
	return nil
}

func notificationEvent(n models.Notification) (models.Event, bool) {
	ev := models.Event{
		GatewayReference: n.GatewayReference,
		TrackingID:       n.TrackingID,
		Message:          n.Message,
	}
	switch n.Status {
	case models.CallbackSuccess:
		ev.Kind = models.EventSucceeded
	case models.CallbackFailed:
		ev.Kind = models.EventFailed
		if ev.Message == "" {
			ev.Message = "Payment failed (" + n.ProviderCode + ")"
		}
	default:
		return ev, false
	}
	return ev, true
}
