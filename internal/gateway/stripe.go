package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"payment-orchestration/internal/models"
)

type StripeConfig struct {
	SecretKey     string        `mapstructure:"secret_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	APIURL        string        `mapstructure:"api_url"`
	SuccessURL    string        `mapstructure:"success_url"`
	CancelURL     string        `mapstructure:"cancel_url"`
	ProductName   string        `mapstructure:"product_name"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// ErrIgnoredNotification marks a well-formed callback that carries no payment
// result, such as a Stripe event type this core does not consume.
var ErrIgnoredNotification = errors.New("notification ignored")

// zeroDecimalCurrencies are charged in whole units by Stripe.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

var stripeEventStatuses = map[string]models.CallbackStatus{
	"checkout.session.async_payment_succeeded": models.CallbackSuccess,
	"checkout.session.async_payment_failed":    models.CallbackFailed,
	"checkout.session.expired":                 models.CallbackFailed,
}

// StripeAdapter creates hosted Checkout Sessions for card payments and reads
// signed checkout webhooks.
type StripeAdapter struct {
	cfg      StripeConfig
	sessions *session.Client
}

func NewStripeAdapter(cfg StripeConfig, client *http.Client) *StripeAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.ProductName == "" {
		cfg.ProductName = "Order payment"
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        client,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	return &StripeAdapter{
		cfg: cfg,
		sessions: &session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
	}
}

func (a *StripeAdapter) Code() string { return CodeStripe }

func (a *StripeAdapter) NormalizePayer(raw string) (string, error) {
	return normalizeEmail(raw)
}

// minorUnits converts an amount to the integer unit Stripe charges in.
func minorUnits(amount decimal.Decimal, currency string) (int64, error) {
	exp := int32(2)
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		exp = 0
	}
	shifted := amount.Shift(exp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, models.NewValidationError("amount", "%s allows at most %d decimal places", strings.ToUpper(currency), exp)
	}
	return shifted.IntPart(), nil
}

func fromMinorUnits(units int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return decimal.NewFromInt(units)
	}
	return decimal.New(units, -2)
}

// ValidateAmount rejects amounts Stripe cannot express in minor units.
func (a *StripeAdapter) ValidateAmount(amount decimal.Decimal, currency string) error {
	_, err := minorUnits(amount, currency)
	return err
}

func (a *StripeAdapter) Initiate(ctx context.Context, attempt Attempt) (Result, error) {
	rec := attempt.Record
	units, err := minorUnits(rec.Amount, rec.Currency)
	if err != nil {
		return Result{}, err
	}
	currency := strings.ToLower(rec.Currency)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(rec.Reference),
		CustomerEmail:     stripe.String(rec.AccountNumber),
		SuccessURL:        stripe.String(a.cfg.SuccessURL),
		CancelURL:         stripe.String(a.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(units),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(a.cfg.ProductName + " " + rec.OrderRef),
				},
			},
		}},
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + rec.Reference)
	params.AddMetadata("reference", rec.Reference)
	params.AddMetadata("order_ref", rec.OrderRef)

	snapshot, _ := json.Marshal(map[string]interface{}{
		"client_reference_id": rec.Reference,
		"customer_email":      rec.AccountNumber,
		"currency":            currency,
		"unit_amount":         units,
		"success_url":         a.cfg.SuccessURL,
		"cancel_url":          a.cfg.CancelURL,
	})
	if err := attempt.snapshot(ctx, models.SnapshotInitRequest, snapshot); err != nil {
		return Result{}, err
	}

	sess, err := a.sessions.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) {
			if serr.LastResponse != nil && len(serr.LastResponse.RawJSON) > 0 {
				_ = attempt.snapshot(ctx, models.SnapshotInitResponse, serr.LastResponse.RawJSON)
			}
			if serr.HTTPStatusCode >= 400 && serr.HTTPStatusCode < 500 && serr.HTTPStatusCode != http.StatusTooManyRequests {
				return rejected(string(serr.Code), serr.Msg, models.InitiationOutcome{}), nil
			}
		}
		return Result{}, &models.CommunicationError{Gateway: CodeStripe, Err: err}
	}
	if sess.LastResponse != nil && len(sess.LastResponse.RawJSON) > 0 {
		if err := attempt.snapshot(ctx, models.SnapshotInitResponse, sess.LastResponse.RawJSON); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Event: models.Event{
			Kind:       models.EventAwaitingInput,
			TrackingID: sess.ID,
		},
		Outcome: models.InitiationOutcome{
			Success:          true,
			ProviderAccepted: true,
			NextAction:       models.NextActionRedirectToPaymentURL,
			PaymentURL:       sess.URL,
			UserInstructions: "Complete the card payment on the Stripe checkout page",
		},
	}, nil
}

// ParseCallback verifies the Stripe-Signature header against the endpoint
// secret before reading the event.
func (a *StripeAdapter) ParseCallback(_ context.Context, req CallbackRequest) (models.Notification, error) {
	evt, err := webhook.ConstructEventWithOptions(req.Body, req.Header.Get("Stripe-Signature"), a.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return models.Notification{}, fmt.Errorf("verify stripe webhook: %w", err)
	}

	eventType := string(evt.Type)
	if !strings.HasPrefix(eventType, "checkout.session.") || evt.Data == nil {
		return models.Notification{}, ErrIgnoredNotification
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
		return models.Notification{}, fmt.Errorf("decode checkout session: %w", err)
	}

	status, ok := stripeEventStatuses[eventType]
	if eventType == "checkout.session.completed" {
		ok = true
		status = models.CallbackInProgress
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			status = models.CallbackSuccess
		}
	}
	if !ok {
		return models.Notification{}, ErrIgnoredNotification
	}

	email := sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		email = sess.CustomerDetails.Email
	}
	payer, err := normalizeEmail(email)
	if err != nil {
		payer = email
	}

	var gatewayRef string
	if sess.PaymentIntent != nil {
		gatewayRef = sess.PaymentIntent.ID
	}
	currency := strings.ToUpper(string(sess.Currency))

	return models.Notification{
		GatewayCode:      CodeStripe,
		Reference:        sess.ClientReferenceID,
		TrackingID:       sess.ID,
		GatewayReference: gatewayRef,
		Amount:           fromMinorUnits(sess.AmountTotal, currency),
		Currency:         currency,
		PayerID:          payer,
		Status:           status,
		ProviderCode:     eventType,
		Raw:              req.Body,
	}, nil
}

func (a *StripeAdapter) Acknowledge(d Disposition) Ack {
	if d.Accepted() {
		return jsonAck(http.StatusOK, map[string]bool{"received": true})
	}
	return jsonAck(http.StatusBadRequest, map[string]bool{"received": false})
}
