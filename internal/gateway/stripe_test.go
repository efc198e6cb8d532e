package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestration/internal/models"
)

const testWebhookSecret = "whsec_test_secret"

func signStripePayload(t *testing.T, secret string, payload []byte) http.Header {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	h := http.Header{}
	h.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func stripeEvent(eventType, paymentStatus string) []byte {
	return []byte(`{
  "id": "evt_1",
  "object": "event",
  "type": "` + eventType + `",
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "client_reference_id": "PAY-1001",
      "payment_status": "` + paymentStatus + `",
      "payment_intent": "pi_123",
      "amount_total": 5000,
      "currency": "xaf",
      "customer_details": {"email": "Jane@Example.com"}
    }
  }
}`)
}

func TestStripeParseCallbackVerifiesSignature(t *testing.T) {
	adapter := NewStripeAdapter(StripeConfig{WebhookSecret: testWebhookSecret}, nil)
	payload := stripeEvent("checkout.session.completed", "paid")

	n, err := adapter.ParseCallback(context.Background(), CallbackRequest{Body: payload, Header: signStripePayload(t, testWebhookSecret, payload)})
	require.NoError(t, err)
	assert.Equal(t, models.CallbackSuccess, n.Status)
	assert.Equal(t, "PAY-1001", n.Reference)
	assert.Equal(t, "cs_test_1", n.TrackingID)
	assert.Equal(t, "pi_123", n.GatewayReference)
	assert.True(t, n.Amount.Equal(decimal.NewFromInt(5000)), "zero-decimal currency amount = %s", n.Amount)
	assert.Equal(t, "XAF", n.Currency)
	assert.Equal(t, "jane@example.com", n.PayerID)

	_, err = adapter.ParseCallback(context.Background(), CallbackRequest{Body: payload, Header: signStripePayload(t, "whsec_other", payload)})
	assert.Error(t, err)
}

func TestStripeParseCallbackEventTypes(t *testing.T) {
	adapter := NewStripeAdapter(StripeConfig{WebhookSecret: testWebhookSecret}, nil)
	tests := []struct {
		eventType     string
		paymentStatus string
		want          models.CallbackStatus
		ignored       bool
	}{
		{"checkout.session.completed", "paid", models.CallbackSuccess, false},
		{"checkout.session.completed", "unpaid", models.CallbackInProgress, false},
		{"checkout.session.async_payment_succeeded", "paid", models.CallbackSuccess, false},
		{"checkout.session.async_payment_failed", "unpaid", models.CallbackFailed, false},
		{"checkout.session.expired", "unpaid", models.CallbackFailed, false},
		{"customer.created", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.eventType+"/"+tt.paymentStatus, func(t *testing.T) {
			payload := stripeEvent(tt.eventType, tt.paymentStatus)
			n, err := adapter.ParseCallback(context.Background(), CallbackRequest{Body: payload, Header: signStripePayload(t, testWebhookSecret, payload)})
			if tt.ignored {
				assert.True(t, errors.Is(err, ErrIgnoredNotification))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Status)
		})
	}
}

func TestStripeInitiateCreatesCheckoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "PAY-1001", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "jane@example.com", r.PostForm.Get("customer_email"))
		assert.Equal(t, "5000", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "checkout-PAY-1001", r.Header.Get("Idempotency-Key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	}))
	defer srv.Close()

	adapter := NewStripeAdapter(StripeConfig{SecretKey: "sk_test_123", APIURL: srv.URL, SuccessURL: "https://shop/ok", CancelURL: "https://shop/cancel"}, srv.Client())
	snaps := &snapshotRecorder{}
	res, err := adapter.Initiate(context.Background(), Attempt{Record: testRecord(CodeStripe, "jane@example.com"), Snapshots: snaps})
	require.NoError(t, err)
	assert.Equal(t, models.EventAwaitingInput, res.Event.Kind)
	assert.Equal(t, "cs_test_1", res.Event.TrackingID)
	assert.Equal(t, models.NextActionRedirectToPaymentURL, res.Outcome.NextAction)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", res.Outcome.PaymentURL)
	assert.Equal(t, []models.SnapshotKind{models.SnapshotInitRequest, models.SnapshotInitResponse}, snaps.kinds())
}

func TestStripeInitiateCardErrorIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	}))
	defer srv.Close()

	adapter := NewStripeAdapter(StripeConfig{SecretKey: "sk_test_123", APIURL: srv.URL}, srv.Client())
	res, err := adapter.Initiate(context.Background(), Attempt{Record: testRecord(CodeStripe, "jane@example.com")})
	require.NoError(t, err)
	assert.Equal(t, models.EventRejected, res.Event.Kind)
	assert.Equal(t, "Your card was declined.", res.Event.Message)
}

func TestStripeInitiateServerErrorIsCommunicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
	}))
	defer srv.Close()

	adapter := NewStripeAdapter(StripeConfig{SecretKey: "sk_test_123", APIURL: srv.URL}, srv.Client())
	_, err := adapter.Initiate(context.Background(), Attempt{Record: testRecord(CodeStripe, "jane@example.com")})
	var cerr *models.CommunicationError
	require.ErrorAs(t, err, &cerr)
}

func TestMinorUnits(t *testing.T) {
	units, err := minorUnits(decimal.RequireFromString("12.34"), "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), units)

	units, err = minorUnits(decimal.NewFromInt(5000), "XAF")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), units)

	_, err = minorUnits(decimal.RequireFromString("10.5"), "XAF")
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestStripeValidateAmountBeforeAnyCall(t *testing.T) {
	adapter := NewStripeAdapter(StripeConfig{SecretKey: "sk_test_123"}, nil)

	err := adapter.ValidateAmount(decimal.RequireFromString("10.001"), "USD")
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)

	assert.NoError(t, adapter.ValidateAmount(decimal.RequireFromString("10.00"), "USD"))
}
