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

// InitiationResult is the record after the attempt plus what the caller sees.
type InitiationResult struct {
	Record  models.PaymentRecord
	Outcome models.InitiationOutcome
}

// InitiationService selects an adapter for a payment method and performs
// exactly one provider call per invocation.
type InitiationService struct {
	store    PaymentStore
	catalog  Catalog
	registry *gateway.Registry
	trigger  FulfillmentTrigger
	metrics  *Metrics
	log      *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewInitiationService(store PaymentStore, catalog Catalog, registry *gateway.Registry, trigger FulfillmentTrigger, metrics *Metrics, log *zap.Logger) *InitiationService {
	return &InitiationService{
		store:    store,
		catalog:  catalog,
		registry: registry,
		trigger:  trigger,
		metrics:  metrics,
		log:      log,
		tracer:   otel.Tracer("payment-orchestration/initiation"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func validateNewRecord(rec models.PaymentRecord) error {
	if strings.TrimSpace(rec.Reference) == "" {
		return models.NewValidationError("reference", "is required")
	}
	if strings.TrimSpace(rec.OrderRef) == "" {
		return models.NewValidationError("order_ref", "is required")
	}
	if !rec.Amount.IsPositive() {
		return models.NewValidationError("amount", "must be greater than zero")
	}
	if len(rec.Currency) != 3 {
		return models.NewValidationError("currency", "must be an ISO 4217 code")
	}
	if strings.TrimSpace(rec.AccountNumber) == "" {
		return models.NewValidationError("account_number", "is required")
	}
	return nil
}

// Initiate validates rec against the catalog, stores it and sends it to the
// selected provider. Validation failures happen before the record exists.
func (s *InitiationService) Initiate(ctx context.Context, rec models.PaymentRecord, methodCode, variantCode string) (InitiationResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.initiate", trace.WithAttributes(
		attribute.String("payment.reference", rec.Reference),
		attribute.String("payment.method", methodCode),
	))
	defer span.End()

	adapter, rec, err := s.prepare(rec, methodCode, variantCode)
	if err != nil {
		s.metrics.initiation(rec.GatewayCode, "validation_error")
		span.SetStatus(codes.Error, err.Error())
		return InitiationResult{}, err
	}
	span.SetAttributes(attribute.String("payment.gateway", rec.GatewayCode))

	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, models.ErrDuplicateReference) {
			return InitiationResult{}, models.NewValidationError("reference", "%s was already used for a payment attempt", rec.Reference)
		}
		span.RecordError(err)
		return InitiationResult{}, fmt.Errorf("create payment record: %w", err)
	}

	logger.Payment(s.log, rec.Reference, rec.GatewayCode).Info("payment attempt created",
		zap.String("order_ref", rec.OrderRef),
		zap.String("amount", rec.Amount.String()),
		zap.String("currency", rec.Currency),
	)

	return s.invoke(ctx, span, adapter.Initiate, rec, "")
}

func (s *InitiationService) prepare(rec models.PaymentRecord, methodCode, variantCode string) (gateway.Adapter, models.PaymentRecord, error) {
	if err := validateNewRecord(rec); err != nil {
		return nil, rec, err
	}
	rec.Currency = strings.ToUpper(rec.Currency)

	sel, err := s.catalog.Resolve(methodCode, variantCode, rec.Currency)
	if err != nil {
		return nil, rec, err
	}
	rec.GatewayCode = sel.GatewayCode
	rec.GatewayVariantCode = sel.VariantCode

	adapter, ok := s.registry.Adapter(sel.GatewayCode)
	if !ok {
		return nil, rec, models.NewValidationError("payment_method", "%s is not available right now", sel.MethodCode)
	}

	account, err := adapter.NormalizePayer(rec.AccountNumber)
	if err != nil {
		return nil, rec, err
	}
	rec.AccountNumber = account

	if v, ok := adapter.(gateway.AmountValidator); ok {
		if err := v.ValidateAmount(rec.Amount, rec.Currency); err != nil {
			return nil, rec, err
		}
	}

	now := s.now()
	rec.Status = models.PaymentStatusPending
	rec.GatewayReference = ""
	rec.TrackingID = ""
	rec.ProviderFinalMessage = ""
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return adapter, rec, nil
}

// Confirm runs the second leg of a two-step flow against an existing record.
func (s *InitiationService) Confirm(ctx context.Context, reference, oneTimeCode string) (InitiationResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.confirm", trace.WithAttributes(
		attribute.String("payment.reference", reference),
	))
	defer span.End()

	if strings.TrimSpace(oneTimeCode) == "" {
		return InitiationResult{}, models.NewValidationError("otp", "is required")
	}

	rec, err := s.store.FindByReference(ctx, reference)
	if err != nil {
		return InitiationResult{}, err
	}
	if rec.Status.Terminal() {
		return InitiationResult{Record: rec}, fmt.Errorf("%w: %s is %s", models.ErrTerminalState, rec.Reference, rec.Status)
	}
	confirmer, ok := s.registry.Confirmer(rec.GatewayCode)
	if !ok {
		return InitiationResult{Record: rec}, models.NewValidationError("reference", "%s payments have no confirmation step", rec.GatewayCode)
	}
	if rec.TrackingID == "" {
		return InitiationResult{Record: rec}, models.NewValidationError("reference", "%s has no authorization waiting for confirmation", reference)
	}
	span.SetAttributes(attribute.String("payment.gateway", rec.GatewayCode))

	return s.invoke(ctx, span, confirmer.Confirm, rec, strings.TrimSpace(oneTimeCode))
}

// Retry resends a declined single-step attempt under the same reference. Only
// PENDING records the provider never accepted qualify; anything already
// accepted waits for its notification or its confirmation.
func (s *InitiationService) Retry(ctx context.Context, reference string) (InitiationResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.retry", trace.WithAttributes(
		attribute.String("payment.reference", reference),
	))
	defer span.End()

	rec, err := s.store.FindByReference(ctx, reference)
	if err != nil {
		return InitiationResult{}, err
	}
	if rec.Status.Terminal() {
		return InitiationResult{Record: rec}, fmt.Errorf("%w: %s is %s", models.ErrTerminalState, rec.Reference, rec.Status)
	}
	if rec.Status != models.PaymentStatusPending || rec.TrackingID != "" {
		return InitiationResult{Record: rec}, models.NewValidationError("reference", "%s was accepted by the provider and cannot be resent", reference)
	}

	adapter, ok := s.registry.Adapter(rec.GatewayCode)
	if !ok {
		return InitiationResult{Record: rec}, fmt.Errorf("no adapter registered for %s", rec.GatewayCode)
	}
	span.SetAttributes(attribute.String("payment.gateway", rec.GatewayCode))

	return s.invoke(ctx, span, adapter.Initiate, rec, "")
}

// sendFunc is one outbound provider call: Adapter.Initiate or Confirmer.Confirm.
type sendFunc func(ctx context.Context, attempt gateway.Attempt) (gateway.Result, error)

// invoke performs the provider call and persists its effect.
func (s *InitiationService) invoke(ctx context.Context, span trace.Span, send sendFunc, rec models.PaymentRecord, oneTimeCode string) (InitiationResult, error) {
	log := logger.Payment(s.log, rec.Reference, rec.GatewayCode)

	started := time.Now()
	res, err := send(ctx, gateway.Attempt{Record: rec, OneTimeCode: oneTimeCode, Snapshots: s.store})
	s.metrics.observeGateway(rec.GatewayCode, started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var cerr *models.CommunicationError
		if !errors.As(err, &cerr) {
			s.metrics.initiation(rec.GatewayCode, "error")
			log.Warn("payment attempt not sent", zap.Error(err))
			return InitiationResult{Record: rec}, err
		}

		s.metrics.initiation(rec.GatewayCode, "communication_error")
		log.Error("provider communication failed", zap.Error(err))

		failed, _, serr := s.apply(ctx, rec, models.Event{Kind: models.EventFailed, Message: cerr.Error()})
		if serr != nil {
			log.Error("failed to record communication failure", zap.Error(serr))
		}
		return InitiationResult{
			Record: failed,
			Outcome: models.InitiationOutcome{
				NextAction:       models.NextActionRetryPayment,
				UserInstructions: "The payment provider could not be reached. Please start a new payment.",
			},
		}, err
	}

	next, moved, err := s.apply(ctx, rec, res.Event)
	if err != nil {
		span.RecordError(err)
		return InitiationResult{Record: next, Outcome: res.Outcome}, err
	}
	s.metrics.initiation(rec.GatewayCode, string(res.Event.Kind))

	if res.Event.Kind == models.EventRejected {
		log.Info("provider declined payment attempt",
			zap.String("provider_code", res.ProviderCode),
			zap.String("message", res.Event.Message),
		)
		return InitiationResult{Record: next, Outcome: res.Outcome}, &models.BusinessError{
			Gateway: rec.GatewayCode,
			Code:    res.ProviderCode,
			Message: res.Event.Message,
		}
	}

	log.Info("payment attempt sent",
		zap.String("event", string(res.Event.Kind)),
		zap.String("status", string(next.Status)),
		zap.String("gateway_reference", next.GatewayReference),
	)
	if moved && next.Status == models.PaymentStatusSuccess {
		fulfill(ctx, s.tracer, s.trigger, log, next)
	}
	return InitiationResult{Record: next, Outcome: res.Outcome}, nil
}

// apply transitions rec by ev and saves it. moved is false when a
// notification resolved the record first; the stored terminal record is
// returned in that case.
func (s *InitiationService) apply(ctx context.Context, rec models.PaymentRecord, ev models.Event) (models.PaymentRecord, bool, error) {
	current := rec
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		next, err := models.Transition(current, ev, s.now())
		if errors.Is(err, models.ErrTerminalState) {
			return current, false, nil
		}
		if err != nil {
			return current, false, err
		}

		err = s.store.Save(ctx, next, current.Version)
		if err == nil {
			return next, true, nil
		}
		if !errors.Is(err, models.ErrConcurrentUpdate) {
			return current, false, fmt.Errorf("save payment record: %w", err)
		}

		current, err = s.store.FindByReference(ctx, rec.Reference)
		if err != nil {
			return rec, false, fmt.Errorf("reload payment record: %w", err)
		}
	}
	return current, false, fmt.Errorf("%w: %s", models.ErrConcurrentUpdate, rec.Reference)
}
