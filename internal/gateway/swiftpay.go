package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payment-orchestration/internal/models"
)

type SwiftPayConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// tokens are refreshed this long before the provider says they expire
const tokenExpiryLeeway = 30 * time.Second

var swiftPayStatuses = map[string]models.CallbackStatus{
	"SUCCESSFUL": models.CallbackSuccess,
	"FAILED":     models.CallbackFailed,
	"PENDING":    models.CallbackInProgress,
}

// SwiftPayAdapter calls a REST API protected by OAuth2 client credentials.
// Payments usually settle in the initiation response; pending ones are
// resolved through Verify.
type SwiftPayAdapter struct {
	cfg       SwiftPayConfig
	transport transport
	tokens    TokenCache
	rule      PayerRule
}

func NewSwiftPayAdapter(cfg SwiftPayConfig, client HTTPDoer, tokens TokenCache) *SwiftPayAdapter {
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	return &SwiftPayAdapter{
		cfg:       cfg,
		transport: newTransport(CodeSwiftPay, client, cfg.Timeout),
		tokens:    tokens,
		rule:      payerRuleFor(CodeSwiftPay),
	}
}

func (a *SwiftPayAdapter) Code() string { return CodeSwiftPay }

func (a *SwiftPayAdapter) NormalizePayer(raw string) (string, error) {
	return a.rule.Normalize(raw)
}

// ReportsPayer is true: status answers always carry the payer.
func (a *SwiftPayAdapter) ReportsPayer() bool { return true }

type swiftPayToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *SwiftPayAdapter) cacheKey() string {
	return CodeSwiftPay + ":" + a.cfg.ClientID
}

func (a *SwiftPayAdapter) accessToken(ctx context.Context) (string, error) {
	if token, ok, err := a.tokens.Get(ctx, a.cacheKey()); err == nil && ok {
		return token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequest(http.MethodPost, a.url("/oauth/token"), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.transport.expectOK(ctx, req)
	if err != nil {
		return "", err
	}

	var tok swiftPayToken
	if err := json.Unmarshal(resp.Body, &tok); err != nil || tok.AccessToken == "" {
		return "", a.transport.commError(fmt.Errorf("token response has no access_token"))
	}

	if ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenExpiryLeeway; ttl > 0 {
		_ = a.tokens.Set(ctx, a.cacheKey(), tok.AccessToken, ttl)
	}
	return tok.AccessToken, nil
}

type swiftPayPaymentRequest struct {
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Payer       string `json:"payer"`
	Description string `json:"description"`
}

type swiftPayPayment struct {
	Reference     string          `json:"reference"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transactionId"`
	Reason        string          `json:"reason"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Payer         string          `json:"payer"`
}

func (a *SwiftPayAdapter) Initiate(ctx context.Context, attempt Attempt) (Result, error) {
	rec := attempt.Record
	token, err := a.accessToken(ctx)
	if err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(swiftPayPaymentRequest{
		Reference:   rec.Reference,
		Amount:      rec.Amount.String(),
		Currency:    rec.Currency,
		Payer:       rec.AccountNumber,
		Description: "Order " + rec.OrderRef,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal payment request: %w", err)
	}
	if err := attempt.snapshot(ctx, models.SnapshotInitRequest, payload); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequest(http.MethodPost, a.url("/v2/payments"), bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.transport.expectOK(ctx, req)
	if resp.StatusCode == http.StatusUnauthorized {
		_ = a.tokens.Delete(ctx, a.cacheKey())
	}
	if len(resp.Body) > 0 {
		if serr := attempt.snapshot(ctx, models.SnapshotInitResponse, resp.Body); serr != nil && err == nil {
			err = serr
		}
	}
	if err != nil {
		return Result{}, err
	}

	var body swiftPayPayment
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return Result{}, a.transport.commError(fmt.Errorf("decode payment response: %w", err))
	}
	return mapSwiftPayInitiation(body), nil
}

func mapSwiftPayInitiation(body swiftPayPayment) Result {
	switch strings.ToUpper(body.Status) {
	case "SUCCESSFUL":
		return Result{
			Event: models.Event{
				Kind:             models.EventSucceeded,
				GatewayReference: body.TransactionID,
				TrackingID:       body.TransactionID,
			},
			Outcome: models.InitiationOutcome{
				Success:          true,
				ProviderAccepted: true,
				GatewayReference: body.TransactionID,
				UserInstructions: "Payment completed",
			},
		}
	case "FAILED":
		message := body.Reason
		if message == "" {
			message = "Payment declined by SwiftPay"
		}
		return rejected("FAILED", message, models.InitiationOutcome{})
	default:
		return Result{
			Event: models.Event{
				Kind:             models.EventAccepted,
				GatewayReference: body.TransactionID,
				TrackingID:       body.TransactionID,
			},
			Outcome: models.InitiationOutcome{
				Success:          true,
				ProviderAccepted: true,
				GatewayReference: body.TransactionID,
				UserInstructions: "Payment is being processed",
			},
		}
	}
}

// Verify fetches the provider's view of a payment.
func (a *SwiftPayAdapter) Verify(ctx context.Context, rec models.PaymentRecord) (models.Notification, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return models.Notification{}, err
	}

	req, err := http.NewRequest(http.MethodGet, a.url("/v2/payments/"+url.PathEscape(rec.Reference)), nil)
	if err != nil {
		return models.Notification{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.transport.expectOK(ctx, req)
	if resp.StatusCode == http.StatusUnauthorized {
		_ = a.tokens.Delete(ctx, a.cacheKey())
	}
	if err != nil {
		return models.Notification{}, err
	}

	var body swiftPayPayment
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return models.Notification{}, a.transport.commError(fmt.Errorf("decode status response: %w", err))
	}

	status, ok := swiftPayStatuses[strings.ToUpper(body.Status)]
	if !ok {
		status = models.CallbackInProgress
	}
	reference := body.Reference
	if reference == "" {
		reference = rec.Reference
	}

	return models.Notification{
		GatewayCode:      CodeSwiftPay,
		Reference:        reference,
		TrackingID:       body.TransactionID,
		GatewayReference: body.TransactionID,
		Amount:           body.Amount,
		Currency:         body.Currency,
		PayerID:          normalizeOrRaw(a.rule, body.Payer),
		Status:           status,
		ProviderCode:     body.Status,
		Message:          body.Reason,
		Raw:              resp.Body,
	}, nil
}

func (a *SwiftPayAdapter) url(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}
