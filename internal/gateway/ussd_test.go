package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payment-orchestration/internal/models"
)

func ussdResponse(code, service string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ns1="http://ussdgw.local/schema/ussd/send/v1_0/local">
  <soapenv:Body>
    <ns1:sendUssdResponse>
      <ns1:result>
        <ResponseCode>` + code + `</ResponseCode>
        <ServiceStatus>` + service + `</ServiceStatus>
        <ResultDesc>Request processed</ResultDesc>
        <TransactionID>USSD-TX-7</TransactionID>
      </ns1:result>
    </ns1:sendUssdResponse>
  </soapenv:Body>
</soapenv:Envelope>`
}

func ussdCallback(code, service, amount string) string {
	return `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:loc="http://ussdgw.local/schema/ussd/notification/v1_0/local">
  <soapenv:Header/>
  <soapenv:Body>
    <loc:notifyUssdResult>
      <loc:ussdResult>
        <TransactionID>USSD-TX-7</TransactionID>
        <Reference>PAY-1001</Reference>
        <ResponseCode>` + code + `</ResponseCode>
        <ServiceStatus>` + service + `</ServiceStatus>
        <ResultDesc>done</ResultDesc>
        <Amount>` + amount + `</Amount>
        <Currency>XAF</Currency>
        <MSISDN>670000001</MSISDN>
      </loc:ussdResult>
    </loc:notifyUssdResult>
  </soapenv:Body>
</soapenv:Envelope>`
}

func TestUSSDEnvelopeCarriesHeaderCredentials(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "text/xml") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		_, _ = w.Write([]byte(ussdResponse("0", "0")))
	}))
	defer srv.Close()

	adapter := NewUSSDAdapter(USSDConfig{BaseURL: srv.URL, SPID: "sp-1", SPSecret: "s3cret"}, srv.Client())
	fixed := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	adapter.now = func() time.Time { return fixed }

	rec := testRecord(CodeUSSD, "237670000001")
	rec.OrderRef = "ORD<&>"
	if _, err := adapter.Initiate(context.Background(), Attempt{Record: rec}); err != nil {
		t.Fatalf("Initiate() unexpected error: %v", err)
	}

	wantPassword := soapPassword("sp-1", "s3cret", "20240301103000")
	for _, want := range []string{
		"<v2:spId>sp-1</v2:spId>",
		"<v2:spPassword>" + wantPassword + "</v2:spPassword>",
		"<v2:timeStamp>20240301103000</v2:timeStamp>",
		"<loc:msIsdn>237670000001</loc:msIsdn>",
		"<loc:reference>PAY-1001</loc:reference>",
		"ORD&lt;&amp;&gt;",
	} {
		if !strings.Contains(received, want) {
			t.Errorf("envelope missing %q:\n%s", want, received)
		}
	}
	if _, err := parseSOAP([]byte(received)); err != nil {
		t.Errorf("request envelope does not parse: %v", err)
	}
}

func TestUSSDInitiationNeedsBothCodesZero(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		service string
		want    models.EventKind
	}{
		{"both zero", "0", "0", models.EventAccepted},
		{"service refused", "0", "1", models.EventRejected},
		{"response refused", "1", "0", models.EventRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(ussdResponse(tt.code, tt.service)))
			}))
			defer srv.Close()

			adapter := NewUSSDAdapter(USSDConfig{BaseURL: srv.URL}, srv.Client())
			res, err := adapter.Initiate(context.Background(), Attempt{Record: testRecord(CodeUSSD, "237670000001")})
			if err != nil {
				t.Fatalf("Initiate() unexpected error: %v", err)
			}
			if res.Event.Kind != tt.want {
				t.Errorf("Event.Kind = %v, want %v", res.Event.Kind, tt.want)
			}
			if tt.want == models.EventAccepted && res.Event.TrackingID != "USSD-TX-7" {
				t.Errorf("TrackingID = %q", res.Event.TrackingID)
			}
		})
	}
}

func TestUSSDFaultIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><soapenv:Fault><faultcode>SVC0001</faultcode><faultstring>Subscriber unreachable</faultstring></soapenv:Fault></soapenv:Body></soapenv:Envelope>`))
	}))
	defer srv.Close()

	adapter := NewUSSDAdapter(USSDConfig{BaseURL: srv.URL}, srv.Client())
	res, err := adapter.Initiate(context.Background(), Attempt{Record: testRecord(CodeUSSD, "237670000001")})
	if err != nil {
		t.Fatalf("Initiate() unexpected error: %v", err)
	}
	if res.Event.Kind != models.EventRejected || res.Event.Message != "Subscriber unreachable" {
		t.Errorf("Event = %+v", res.Event)
	}
}

func TestUSSDServerFaultIsCommunicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><soapenv:Fault><faultcode>soapenv:Server</faultcode><faultstring>Internal gateway error</faultstring></soapenv:Fault></soapenv:Body></soapenv:Envelope>`))
	}))
	defer srv.Close()

	adapter := NewUSSDAdapter(USSDConfig{BaseURL: srv.URL}, srv.Client())
	_, err := adapter.Initiate(context.Background(), Attempt{Record: testRecord(CodeUSSD, "237670000001")})
	if _, ok := err.(*models.CommunicationError); !ok {
		t.Fatalf("Initiate() error = %v, want CommunicationError", err)
	}
}

func TestServerFault(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"soapenv:Server", true},
		{"Server", true},
		{"env:Receiver", true},
		{"soap:Server.Timeout", true},
		{"soapenv:Client", false},
		{"SVC0001", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := serverFault(tt.code); got != tt.want {
			t.Errorf("serverFault(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestUSSDMalformedResponseIsCommunicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"soap"}`))
	}))
	defer srv.Close()

	adapter := NewUSSDAdapter(USSDConfig{BaseURL: srv.URL}, srv.Client())
	_, err := adapter.Initiate(context.Background(), Attempt{Record: testRecord(CodeUSSD, "237670000001")})
	if _, ok := err.(*models.CommunicationError); !ok {
		t.Fatalf("Initiate() error = %v, want CommunicationError", err)
	}
}

func TestUSSDParseCallbackDualCondition(t *testing.T) {
	adapter := NewUSSDAdapter(USSDConfig{}, nil)
	tests := []struct {
		code    string
		service string
		want    models.CallbackStatus
	}{
		{"0", "0", models.CallbackSuccess},
		{"0", "1", models.CallbackFailed},
		{"1", "0", models.CallbackFailed},
		{"9", "9", models.CallbackFailed},
	}
	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.service, func(t *testing.T) {
			n, err := adapter.ParseCallback(context.Background(), CallbackRequest{Body: []byte(ussdCallback(tt.code, tt.service, "5000"))})
			if err != nil {
				t.Fatalf("ParseCallback() unexpected error: %v", err)
			}
			if n.Status != tt.want {
				t.Errorf("Status = %v, want %v", n.Status, tt.want)
			}
			if n.Reference != "PAY-1001" || n.TrackingID != "USSD-TX-7" || n.PayerID != "237670000001" {
				t.Errorf("Notification = %+v", n)
			}
		})
	}
}

func TestUSSDParseCallbackRejectsBadInput(t *testing.T) {
	adapter := NewUSSDAdapter(USSDConfig{}, nil)
	for name, body := range map[string]string{
		"not xml":     "hello",
		"no envelope": "<ussdResult><ResponseCode>0</ResponseCode></ussdResult>",
		"bad amount":  ussdCallback("0", "0", "five"),
	} {
		if _, err := adapter.ParseCallback(context.Background(), CallbackRequest{Body: []byte(body)}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestUSSDAcknowledgeIsPlainText(t *testing.T) {
	adapter := NewUSSDAdapter(USSDConfig{}, nil)

	ack := adapter.Acknowledge(DispositionApplied)
	if ack.Status != http.StatusOK || string(ack.Body) != "0" || !strings.HasPrefix(ack.ContentType, "text/plain") {
		t.Errorf("accepted ack = %+v", ack)
	}
	if ack := adapter.Acknowledge(DispositionMismatch); string(ack.Body) != "1" {
		t.Errorf("rejection ack body = %q", ack.Body)
	}
}
