package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"payment-orchestration/internal/models"
)

type SecureWalletConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

const (
	secureWalletOK         = "00001"
	secureWalletSessionTTL = 10 * time.Minute
)

var secureWalletMessages = map[string]string{
	secureWalletOK: "Enter the one-time code sent to your phone",
	"00002":        "The one-time code is incorrect",
	"00003":        "The one-time code has expired",
	"00004":        "Insufficient wallet balance",
	"00005":        "The wallet is blocked",
	"00009":        "The wallet session has expired",
}

// SecureWalletAdapter is a two-step provider: Initiate authorizes and
// triggers an SMS code, Confirm completes the payment with that code. Both
// legs run against the same record, linked by the transaction id the
// authorize leg returns.
type SecureWalletAdapter struct {
	cfg       SecureWalletConfig
	transport transport
	tokens    TokenCache
	rule      PayerRule
}

func NewSecureWalletAdapter(cfg SecureWalletConfig, client HTTPDoer, tokens TokenCache) *SecureWalletAdapter {
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	return &SecureWalletAdapter{
		cfg:       cfg,
		transport: newTransport(CodeSecureWallet, client, cfg.Timeout),
		tokens:    tokens,
		rule:      payerRuleFor(CodeSecureWallet),
	}
}

func (a *SecureWalletAdapter) Code() string { return CodeSecureWallet }

func (a *SecureWalletAdapter) NormalizePayer(raw string) (string, error) {
	return a.rule.Normalize(raw)
}

// secureWalletReply is one element of the provider's array-wrapped responses.
type secureWalletReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Token         string `json:"token"`
		TransactionID string `json:"transactionId"`
		ReceiptNumber string `json:"receiptNumber"`
	} `json:"data"`
}

func decodeSecureWalletReply(body []byte) (secureWalletReply, error) {
	var replies []secureWalletReply
	if err := json.Unmarshal(body, &replies); err != nil {
		return secureWalletReply{}, err
	}
	if len(replies) == 0 {
		return secureWalletReply{}, fmt.Errorf("empty reply array")
	}
	return replies[0], nil
}

func (a *SecureWalletAdapter) cacheKey() string {
	return CodeSecureWallet + ":" + a.cfg.Username
}

func (a *SecureWalletAdapter) session(ctx context.Context) (string, error) {
	if token, ok, err := a.tokens.Get(ctx, a.cacheKey()); err == nil && ok {
		return token, nil
	}

	payload, _ := json.Marshal(map[string]string{"username": a.cfg.Username, "password": a.cfg.Password})
	req, err := http.NewRequest(http.MethodPost, a.url("/auth/login"), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.transport.expectOK(ctx, req)
	if err != nil {
		return "", err
	}
	reply, err := decodeSecureWalletReply(resp.Body)
	if err != nil {
		return "", a.transport.commError(fmt.Errorf("decode login response: %w", err))
	}
	if reply.Code != secureWalletOK || reply.Data.Token == "" {
		return "", a.transport.commError(fmt.Errorf("login refused (%s): %s", reply.Code, reply.Message))
	}

	_ = a.tokens.Set(ctx, a.cacheKey(), reply.Data.Token, secureWalletSessionTTL)
	return reply.Data.Token, nil
}

// Initiate sends the authorize leg. An authorized record is never
// authorized again.
func (a *SecureWalletAdapter) Initiate(ctx context.Context, attempt Attempt) (Result, error) {
	rec := attempt.Record
	if rec.TrackingID != "" {
		return Result{}, fmt.Errorf("%s is already authorized as %s", rec.Reference, rec.TrackingID)
	}
	payload, err := json.Marshal(map[string]string{
		"msisdn":      rec.AccountNumber,
		"amount":      rec.Amount.String(),
		"currency":    rec.Currency,
		"reference":   rec.Reference,
		"description": "Order " + rec.OrderRef,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal authorize request: %w", err)
	}
	if err := attempt.snapshot(ctx, models.SnapshotInitRequest, payload); err != nil {
		return Result{}, err
	}

	reply, err := a.call(ctx, attempt, "/payments/authorize", payload)
	if err != nil {
		return Result{}, err
	}
	if reply.Code == secureWalletOK && reply.Data.TransactionID == "" {
		return Result{}, a.transport.commError(fmt.Errorf("authorize response has no transactionId"))
	}
	return mapSecureWalletAuthorize(reply), nil
}

// Confirm sends the confirm leg with the customer's one-time code.
func (a *SecureWalletAdapter) Confirm(ctx context.Context, attempt Attempt) (Result, error) {
	rec := attempt.Record
	if rec.TrackingID == "" {
		return Result{}, models.NewValidationError("reference", "%s has no authorization waiting for confirmation", rec.Reference)
	}
	if strings.TrimSpace(attempt.OneTimeCode) == "" {
		return Result{}, models.NewValidationError("otp", "a one-time code is required to confirm this payment")
	}

	body := map[string]string{
		"transactionId": rec.TrackingID,
		"reference":     rec.Reference,
		"otp":           attempt.OneTimeCode,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("marshal confirm request: %w", err)
	}
	body["otp"] = "****"
	masked, _ := json.Marshal(body)
	if err := attempt.snapshot(ctx, models.SnapshotInitRequest, masked); err != nil {
		return Result{}, err
	}

	reply, err := a.call(ctx, attempt, "/payments/confirm", payload)
	if err != nil {
		return Result{}, err
	}
	return mapSecureWalletConfirm(reply, rec.TrackingID), nil
}

// call posts payload with the session token. An expired session is renewed
// once; the provider answers 401 before processing anything.
func (a *SecureWalletAdapter) call(ctx context.Context, attempt Attempt, path string, payload []byte) (secureWalletReply, error) {
	var resp response
	for try := 0; try < 2; try++ {
		token, err := a.session(ctx)
		if err != nil {
			return secureWalletReply{}, err
		}

		req, err := http.NewRequest(http.MethodPost, a.url(path), bytes.NewReader(payload))
		if err != nil {
			return secureWalletReply{}, fmt.Errorf("build %s request: %w", path, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Auth-Token", token)

		resp, err = a.transport.do(ctx, req)
		if err != nil {
			return secureWalletReply{}, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			break
		}
		_ = a.tokens.Delete(ctx, a.cacheKey())
	}

	if len(resp.Body) > 0 {
		if err := attempt.snapshot(ctx, models.SnapshotInitResponse, resp.Body); err != nil {
			return secureWalletReply{}, err
		}
	}
	if !resp.ok() {
		return secureWalletReply{}, a.transport.commError(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(resp.Body, 256)))
	}

	reply, err := decodeSecureWalletReply(resp.Body)
	if err != nil {
		return secureWalletReply{}, a.transport.commError(fmt.Errorf("decode %s response: %w", path, err))
	}
	return reply, nil
}

func secureWalletMessage(reply secureWalletReply) string {
	if reply.Message != "" {
		return reply.Message
	}
	if msg, ok := secureWalletMessages[reply.Code]; ok {
		return msg
	}
	return "Payment declined by SecureWallet (" + reply.Code + ")"
}

func mapSecureWalletAuthorize(reply secureWalletReply) Result {
	if reply.Code != secureWalletOK {
		// Success stays true on a declined authorize leg: existing checkout
		// clients read it as "request delivered". ProviderAccepted carries the
		// real answer.
		return rejected(reply.Code, secureWalletMessage(reply), models.InitiationOutcome{Success: true})
	}

	return Result{
		Event: models.Event{
			Kind:       models.EventAwaitingInput,
			TrackingID: reply.Data.TransactionID,
		},
		Outcome: models.InitiationOutcome{
			Success:          true,
			ProviderAccepted: true,
			NextAction:       models.NextActionOpenAdditionalInput,
			UserInstructions: secureWalletMessages[secureWalletOK],
		},
	}
}

func mapSecureWalletConfirm(reply secureWalletReply, trackingID string) Result {
	if reply.Code != secureWalletOK {
		return rejected(reply.Code, secureWalletMessage(reply), models.InitiationOutcome{
			NextAction: models.NextActionOpenAdditionalInput,
		})
	}

	gatewayRef := reply.Data.ReceiptNumber
	if gatewayRef == "" {
		gatewayRef = reply.Data.TransactionID
	}
	if gatewayRef == "" {
		gatewayRef = trackingID
	}

	return Result{
		Event: models.Event{
			Kind:             models.EventSucceeded,
			GatewayReference: gatewayRef,
		},
		Outcome: models.InitiationOutcome{
			Success:          true,
			ProviderAccepted: true,
			GatewayReference: gatewayRef,
			UserInstructions: "Payment completed",
		},
	}
}

func (a *SecureWalletAdapter) url(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}
