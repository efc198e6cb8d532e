package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestration/internal/models"
)

type secureWalletFake struct {
	logins     int32
	authorizes int32
	confirms   int32
	// expireFirst makes the first authenticated call answer 401.
	expireFirst int32
	authCode    string
	// noTransactionID drops data.transactionId from an approved authorize.
	noTransactionID bool
}

func (f *secureWalletFake) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		if r.URL.Path == "/auth/login" {
			n := atomic.AddInt32(&f.logins, 1)
			_, _ = w.Write([]byte(`[{"code":"00001","message":"ok","data":{"token":"session-` + string(rune('0'+n)) + `"}}]`))
			return
		}
		if atomic.CompareAndSwapInt32(&f.expireFirst, 1, 0) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.Header.Get("X-Auth-Token"), "session-") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch r.URL.Path {
		case "/payments/authorize":
			atomic.AddInt32(&f.authorizes, 1)
			code := f.authCode
			if code == "" {
				code = secureWalletOK
			}
			if f.noTransactionID {
				_, _ = w.Write([]byte(`[{"code":"` + code + `","message":"","data":{}}]`))
				return
			}
			_, _ = w.Write([]byte(`[{"code":"` + code + `","message":"","data":{"transactionId":"SW-TX-1"}}]`))
		case "/payments/confirm":
			atomic.AddInt32(&f.confirms, 1)
			if body["transactionId"] != "SW-TX-1" {
				t.Errorf("confirm transactionId = %q", body["transactionId"])
			}
			if body["otp"] != "123456" {
				_, _ = w.Write([]byte(`[{"code":"00002","message":"Wrong code","data":{}}]`))
				return
			}
			_, _ = w.Write([]byte(`[{"code":"00001","message":"Paid","data":{"transactionId":"SW-TX-1","receiptNumber":"RCPT-42"}}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestSecureWalletTwoStepFlow(t *testing.T) {
	fake := &secureWalletFake{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	adapter := NewSecureWalletAdapter(SecureWalletConfig{BaseURL: srv.URL, Username: "merchant", Password: "pw"}, srv.Client(), nil)
	ctx := context.Background()
	rec := testRecord(CodeSecureWallet, "237670000001")

	// authorize
	res, err := adapter.Initiate(ctx, Attempt{Record: rec})
	require.NoError(t, err)
	assert.Equal(t, models.EventAwaitingInput, res.Event.Kind)
	assert.Equal(t, "SW-TX-1", res.Event.TrackingID)
	assert.True(t, res.Outcome.Success)
	assert.Equal(t, models.NextActionOpenAdditionalInput, res.Outcome.NextAction)

	next, err := models.Transition(rec, res.Event, rec.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, next.Status)

	// wrong code keeps the attempt open
	res, err = adapter.Confirm(ctx, Attempt{Record: next, OneTimeCode: "000000"})
	require.NoError(t, err)
	assert.Equal(t, models.EventRejected, res.Event.Kind)
	assert.Equal(t, "Wrong code", res.Event.Message)
	assert.False(t, res.Outcome.Success)

	// confirm
	res, err = adapter.Confirm(ctx, Attempt{Record: next, OneTimeCode: "123456"})
	require.NoError(t, err)
	assert.Equal(t, models.EventSucceeded, res.Event.Kind)
	assert.Equal(t, "RCPT-42", res.Event.GatewayReference)

	// an authorized record is never authorized twice
	_, err = adapter.Initiate(ctx, Attempt{Record: next})
	require.Error(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.authorizes), "authorize must not be re-sent once a tracking id exists")
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.confirms))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.logins))
}

func TestSecureWalletConfirmRequiresOneTimeCode(t *testing.T) {
	fake := &secureWalletFake{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	adapter := NewSecureWalletAdapter(SecureWalletConfig{BaseURL: srv.URL}, srv.Client(), nil)
	rec := testRecord(CodeSecureWallet, "237670000001")
	rec.TrackingID = "SW-TX-1"

	_, err := adapter.Confirm(context.Background(), Attempt{Record: rec})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "otp", verr.Field)

	rec.TrackingID = ""
	_, err = adapter.Confirm(context.Background(), Attempt{Record: rec, OneTimeCode: "123456"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "reference", verr.Field)
	assert.Zero(t, atomic.LoadInt32(&fake.confirms))
}

func TestSecureWalletAuthorizeDeclineKeepsLegacySuccessFlag(t *testing.T) {
	fake := &secureWalletFake{authCode: "00004"}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	adapter := NewSecureWalletAdapter(SecureWalletConfig{BaseURL: srv.URL}, srv.Client(), nil)
	res, err := adapter.Initiate(context.Background(), Attempt{Record: testRecord(CodeSecureWallet, "237670000001")})
	require.NoError(t, err)
	assert.Equal(t, models.EventRejected, res.Event.Kind)
	assert.Equal(t, secureWalletMessages["00004"], res.Event.Message)
	assert.True(t, res.Outcome.Success)
	assert.False(t, res.Outcome.ProviderAccepted)
}

func TestSecureWalletRenewsExpiredSessionOnce(t *testing.T) {
	fake := &secureWalletFake{expireFirst: 1}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	adapter := NewSecureWalletAdapter(SecureWalletConfig{BaseURL: srv.URL}, srv.Client(), nil)
	res, err := adapter.Initiate(context.Background(), Attempt{Record: testRecord(CodeSecureWallet, "237670000001")})
	require.NoError(t, err)
	assert.Equal(t, models.EventAwaitingInput, res.Event.Kind)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.logins))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.authorizes))
}

func TestSecureWalletMasksOneTimeCodeInSnapshot(t *testing.T) {
	fake := &secureWalletFake{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	adapter := NewSecureWalletAdapter(SecureWalletConfig{BaseURL: srv.URL}, srv.Client(), nil)
	rec := testRecord(CodeSecureWallet, "237670000001")
	rec.TrackingID = "SW-TX-1"
	snaps := &snapshotRecorder{}

	_, err := adapter.Confirm(context.Background(), Attempt{Record: rec, OneTimeCode: "123456", Snapshots: snaps})
	require.NoError(t, err)
	require.NotEmpty(t, snaps.snaps)
	assert.Equal(t, models.SnapshotInitRequest, snaps.snaps[0].kind)
	assert.NotContains(t, snaps.snaps[0].payload, "123456")
}

func TestSecureWalletAuthorizeWithoutTransactionIDIsMalformed(t *testing.T) {
	fake := &secureWalletFake{noTransactionID: true}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	adapter := NewSecureWalletAdapter(SecureWalletConfig{BaseURL: srv.URL}, srv.Client(), nil)
	_, err := adapter.Initiate(context.Background(), Attempt{Record: testRecord(CodeSecureWallet, "237670000001")})
	var cerr *models.CommunicationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.authorizes))
}
