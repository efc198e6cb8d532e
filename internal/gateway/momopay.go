package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payment-orchestration/internal/models"
)

type MomoPayConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIUser     string        `mapstructure:"api_user"`
	APIKey      string        `mapstructure:"api_key"`
	CallbackURL string        `mapstructure:"callback_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

const momoPayAccepted = "2001"

// momoPayInitiationMessages maps collection response codes to payer-facing text.
var momoPayInitiationMessages = map[string]string{
	momoPayAccepted: "Approve the payment prompt on your phone",
	"4001":          "Insufficient balance on the mobile money account",
	"4002":          "The mobile money account was not found",
	"4003":          "The amount is outside the allowed range",
	"4009":          "This payment reference was already submitted",
	"5001":          "The mobile money service is temporarily unavailable",
}

var momoPayCallbackStatuses = map[string]models.CallbackStatus{
	"SUCCESSFUL": models.CallbackSuccess,
	"FAILED":     models.CallbackFailed,
	"REJECTED":   models.CallbackFailed,
	"EXPIRED":    models.CallbackFailed,
	"CANCELLED":  models.CallbackFailed,
	"PENDING":    models.CallbackInProgress,
}

// MomoPayAdapter talks to a JSON collection API authenticated by static
// API-user/API-key headers. Results arrive by webhook.
type MomoPayAdapter struct {
	cfg       MomoPayConfig
	transport transport
	rule      PayerRule
}

func NewMomoPayAdapter(cfg MomoPayConfig, client HTTPDoer) *MomoPayAdapter {
	return &MomoPayAdapter{
		cfg:       cfg,
		transport: newTransport(CodeMomoPay, client, cfg.Timeout),
		rule:      payerRuleFor(CodeMomoPay),
	}
}

func (a *MomoPayAdapter) Code() string { return CodeMomoPay }

func (a *MomoPayAdapter) NormalizePayer(raw string) (string, error) {
	return a.rule.Normalize(raw)
}

// ReportsPayer is true: webhooks always carry the payer MSISDN.
func (a *MomoPayAdapter) ReportsPayer() bool { return true }

type momoPayCollectionRequest struct {
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Payer             string `json:"payer"`
	ExternalReference string `json:"externalReference"`
	Description       string `json:"description"`
	CallbackURL       string `json:"callbackUrl,omitempty"`
}

type momoPayCollectionResponse struct {
	ResponseCode    string `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
	TransactionID   string `json:"transactionId"`
}

func (a *MomoPayAdapter) Initiate(ctx context.Context, attempt Attempt) (Result, error) {
	rec := attempt.Record
	payload, err := json.Marshal(momoPayCollectionRequest{
		Amount:            rec.Amount.String(),
		Currency:          rec.Currency,
		Payer:             rec.AccountNumber,
		ExternalReference: rec.Reference,
		Description:       "Order " + rec.OrderRef,
		CallbackURL:       a.cfg.CallbackURL,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal collection request: %w", err)
	}
	if err := attempt.snapshot(ctx, models.SnapshotInitRequest, payload); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+"/v1/collections", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-User", a.cfg.APIUser)
	req.Header.Set("X-Api-Key", a.cfg.APIKey)

	resp, err := a.transport.expectOK(ctx, req)
	if len(resp.Body) > 0 {
		if serr := attempt.snapshot(ctx, models.SnapshotInitResponse, resp.Body); serr != nil && err == nil {
			err = serr
		}
	}
	if err != nil {
		return Result{}, err
	}

	var body momoPayCollectionResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return Result{}, a.transport.commError(fmt.Errorf("decode collection response: %w", err))
	}
	return mapMomoPayInitiation(body), nil
}

func mapMomoPayInitiation(body momoPayCollectionResponse) Result {
	message := body.ResponseMessage
	if known, ok := momoPayInitiationMessages[body.ResponseCode]; ok && message == "" {
		message = known
	}

	if body.ResponseCode != momoPayAccepted {
		if message == "" {
			message = "Payment declined by provider (" + body.ResponseCode + ")"
		}
		return rejected(body.ResponseCode, message, models.InitiationOutcome{})
	}

	return Result{
		Event: models.Event{
			Kind:             models.EventAccepted,
			GatewayReference: body.TransactionID,
			TrackingID:       body.TransactionID,
			Message:          message,
		},
		Outcome: models.InitiationOutcome{
			Success:          true,
			ProviderAccepted: true,
			GatewayReference: body.TransactionID,
			UserInstructions: momoPayInitiationMessages[momoPayAccepted],
		},
	}
}

type momoPayWebhook struct {
	ExternalReference string          `json:"externalReference"`
	TransactionID     string          `json:"transactionId"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Payer             string          `json:"payer"`
	Reason            string          `json:"reason"`
}

func (a *MomoPayAdapter) ParseCallback(_ context.Context, req CallbackRequest) (models.Notification, error) {
	var hook momoPayWebhook
	if err := json.Unmarshal(req.Body, &hook); err != nil {
		return models.Notification{}, fmt.Errorf("decode momopay webhook: %w", err)
	}
	if hook.ExternalReference == "" && hook.TransactionID == "" {
		return models.Notification{}, fmt.Errorf("momopay webhook carries no reference")
	}

	status, ok := momoPayCallbackStatuses[strings.ToUpper(hook.Status)]
	if !ok {
		status = models.CallbackInProgress
	}

	return models.Notification{
		GatewayCode:      CodeMomoPay,
		Reference:        hook.ExternalReference,
		TrackingID:       hook.TransactionID,
		GatewayReference: hook.TransactionID,
		Amount:           hook.Amount,
		Currency:         hook.Currency,
		PayerID:          normalizeOrRaw(a.rule, hook.Payer),
		Status:           status,
		ProviderCode:     hook.Status,
		Message:          hook.Reason,
		Raw:              req.Body,
	}, nil
}

func (a *MomoPayAdapter) Acknowledge(d Disposition) Ack {
	if d.Accepted() {
		return jsonAck(http.StatusOK, map[string]string{"responseCode": "2000", "responseMessage": "RECEIVED"})
	}
	return jsonAck(http.StatusBadRequest, map[string]string{"responseCode": "4000", "responseMessage": "REJECTED"})
}

// normalizeOrRaw returns the provider-normalized payer, or the raw value when
// it does not parse so that the mismatch check reports it.
func normalizeOrRaw(rule PayerRule, raw string) string {
	if normalized, err := rule.Normalize(raw); err == nil {
		return normalized
	}
	return raw
}
