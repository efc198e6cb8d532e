package gateway

import (
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

type PayLinkConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	MerchantID string        `mapstructure:"merchant_id"`
	Signature  string        `mapstructure:"signature"`
	NotifyURL  string        `mapstructure:"notify_url"`
	ReturnURL  string        `mapstructure:"return_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

var payLinkIPNStatuses = map[string]models.CallbackStatus{
	"00": models.CallbackSuccess,
	"01": models.CallbackFailed, // declined
	"02": models.CallbackFailed, // cancelled by payer
	"03": models.CallbackFailed, // expired
	"04": models.CallbackInProgress,
}

// PayLinkAdapter drives a legacy hosted payment page. Initiation is a
// form-encoded POST signed with static merchant headers; the payer finishes on
// the returned URL and the result comes back as a JSON IPN.
type PayLinkAdapter struct {
	cfg       PayLinkConfig
	transport transport
	rule      PayerRule
}

func NewPayLinkAdapter(cfg PayLinkConfig, client HTTPDoer) *PayLinkAdapter {
	return &PayLinkAdapter{
		cfg:       cfg,
		transport: newTransport(CodePayLink, client, cfg.Timeout),
		rule:      payerRuleFor(CodePayLink),
	}
}

func (a *PayLinkAdapter) Code() string { return CodePayLink }

func (a *PayLinkAdapter) NormalizePayer(raw string) (string, error) {
	return a.rule.Normalize(raw)
}

type payLinkInitResponse struct {
	Status     string `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	PaymentURL string `json:"payment_url"`
	Token      string `json:"token"`
}

func (a *PayLinkAdapter) Initiate(ctx context.Context, attempt Attempt) (Result, error) {
	rec := attempt.Record
	form := url.Values{}
	form.Set("merchant_id", a.cfg.MerchantID)
	form.Set("order_ref", rec.Reference)
	form.Set("amount", rec.Amount.String())
	form.Set("currency", rec.Currency)
	form.Set("msisdn", rec.AccountNumber)
	form.Set("description", "Order "+rec.OrderRef)
	form.Set("notify_url", a.cfg.NotifyURL)
	form.Set("return_url", a.cfg.ReturnURL)
	payload := form.Encode()

	if err := attempt.snapshot(ctx, models.SnapshotInitRequest, []byte(payload)); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+"/api/payment/init", strings.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build init request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Merchant-Id", a.cfg.MerchantID)
	req.Header.Set("X-Merchant-Signature", a.cfg.Signature)

	resp, err := a.transport.expectOK(ctx, req)
	if len(resp.Body) > 0 {
		if serr := attempt.snapshot(ctx, models.SnapshotInitResponse, resp.Body); serr != nil && err == nil {
			err = serr
		}
	}
	if err != nil {
		return Result{}, err
	}

	var body payLinkInitResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return Result{}, a.transport.commError(fmt.Errorf("decode init response: %w", err))
	}
	return mapPayLinkInitiation(body), nil
}

func mapPayLinkInitiation(body payLinkInitResponse) Result {
	if !strings.EqualFold(body.Status, "success") || body.PaymentURL == "" {
		message := body.Message
		if message == "" {
			message = "Payment page could not be opened"
		}
		return rejected(body.Code, message, models.InitiationOutcome{})
	}

	return Result{
		Event: models.Event{
			Kind:       models.EventAwaitingInput,
			TrackingID: body.Token,
		},
		Outcome: models.InitiationOutcome{
			Success:          true,
			ProviderAccepted: true,
			NextAction:       models.NextActionRedirectToPaymentURL,
			PaymentURL:       body.PaymentURL,
			UserInstructions: "Complete the payment on the PayLink page",
		},
	}
}

type payLinkIPN struct {
	Token         string          `json:"token"`
	OrderRef      string          `json:"order_ref"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	MSISDN        string          `json:"msisdn"`
	TransactionID string          `json:"transaction_id"`
	Message       string          `json:"message"`
}

func (a *PayLinkAdapter) ParseCallback(_ context.Context, req CallbackRequest) (models.Notification, error) {
	var ipn payLinkIPN
	if err := json.Unmarshal(req.Body, &ipn); err != nil {
		return models.Notification{}, fmt.Errorf("decode paylink ipn: %w", err)
	}
	if ipn.OrderRef == "" && ipn.Token == "" {
		return models.Notification{}, fmt.Errorf("paylink ipn carries neither order_ref nor token")
	}

	status, ok := payLinkIPNStatuses[ipn.Status]
	if !ok {
		status = models.CallbackInProgress
	}

	return models.Notification{
		GatewayCode:      CodePayLink,
		Reference:        ipn.OrderRef,
		TrackingID:       ipn.Token,
		GatewayReference: ipn.TransactionID,
		Amount:           ipn.Amount,
		Currency:         ipn.Currency,
		PayerID:          normalizeOrRaw(a.rule, ipn.MSISDN),
		Status:           status,
		ProviderCode:     ipn.Status,
		Message:          ipn.Message,
		Raw:              req.Body,
	}, nil
}

func (a *PayLinkAdapter) Acknowledge(d Disposition) Ack {
	if d.Accepted() {
		return jsonAck(http.StatusOK, map[string]int{"result": 0})
	}
	return jsonAck(http.StatusOK, map[string]int{"result": 1})
}
