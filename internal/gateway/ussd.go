package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-orchestration/internal/models"
)

type USSDConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	SPID        string        `mapstructure:"sp_id"`
	SPSecret    string        `mapstructure:"sp_secret"`
	ServiceCode string        `mapstructure:"service_code"`
	CallbackURL string        `mapstructure:"callback_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

const (
	ussdOK              = "0"
	ussdTimestampLayout = "20060102150405"
)

// USSDAdapter pushes a USSD payment menu to the payer's handset through a SOAP
// gateway. The payer's answer arrives later as a SOAP ussdResult callback.
type USSDAdapter struct {
	cfg       USSDConfig
	transport transport
	rule      PayerRule
	now       func() time.Time
}

func NewUSSDAdapter(cfg USSDConfig, client HTTPDoer) *USSDAdapter {
	return &USSDAdapter{
		cfg:       cfg,
		transport: newTransport(CodeUSSD, client, cfg.Timeout),
		rule:      payerRuleFor(CodeUSSD),
		now:       time.Now,
	}
}

func (a *USSDAdapter) Code() string { return CodeUSSD }

func (a *USSDAdapter) NormalizePayer(raw string) (string, error) {
	return a.rule.Normalize(raw)
}

// ReportsPayer is true: ussdResult always carries the MSISDN.
func (a *USSDAdapter) ReportsPayer() bool { return true }

func (a *USSDAdapter) envelope(rec models.PaymentRecord) []byte {
	timestamp := a.now().UTC().Format(ussdTimestampLayout)
	header := []soapElement{
		{"spId", a.cfg.SPID},
		{"spPassword", soapPassword(a.cfg.SPID, a.cfg.SPSecret, timestamp)},
		{"timeStamp", timestamp},
	}
	body := []soapElement{
		{"msIsdn", rec.AccountNumber},
		{"amount", rec.Amount.String()},
		{"currency", rec.Currency},
		{"reference", rec.Reference},
		{"serviceCode", a.cfg.ServiceCode},
		{"correlator", uuid.NewString()},
		{"ussdString", fmt.Sprintf("Pay %s %s for order %s", rec.Amount.String(), rec.Currency, rec.OrderRef)},
		{"callbackUrl", a.cfg.CallbackURL},
	}
	return buildSOAPEnvelope(header, "sendUssd", body)
}

func (a *USSDAdapter) Initiate(ctx context.Context, attempt Attempt) (Result, error) {
	payload := a.envelope(attempt.Record)
	if err := attempt.snapshot(ctx, models.SnapshotInitRequest, payload); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+"/SendUssdService", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build soap request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"sendUssd"`)

	resp, err := a.transport.do(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if len(resp.Body) > 0 {
		if err := attempt.snapshot(ctx, models.SnapshotInitResponse, resp.Body); err != nil {
			return Result{}, err
		}
	}

	msg, perr := parseSOAP(resp.Body)
	if perr == nil && msg.fault {
		code := msg.get("faultcode")
		if serverFault(code) {
			return Result{}, a.transport.commError(fmt.Errorf("soap fault %s: %s", code, msg.get("faultstring")))
		}
		// Client and service faults come back with HTTP 500 but are explicit
		// declines of this request.
		return rejected(code, msg.get("faultstring"), models.InitiationOutcome{}), nil
	}
	if !resp.ok() {
		return Result{}, a.transport.commError(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(resp.Body, 256)))
	}
	if perr != nil {
		return Result{}, a.transport.commError(perr)
	}
	return mapUSSDInitiation(msg), nil
}

// serverFault reports whether a SOAP faultcode blames the gateway itself
// (soapenv:Server, SOAP 1.2 Receiver, or a dotted Server.* subcode).
func serverFault(code string) bool {
	if i := strings.LastIndex(code, ":"); i >= 0 {
		code = code[i+1:]
	}
	code = strings.ToLower(code)
	return code == "server" || code == "receiver" || strings.HasPrefix(code, "server.")
}

func mapUSSDInitiation(msg soapMessage) Result {
	code := msg.get("ResponseCode")
	service := msg.get("ServiceStatus")
	desc := msg.get("ResultDesc", "ResponseDescription")

	if code != ussdOK || service != ussdOK {
		if desc == "" {
			desc = fmt.Sprintf("USSD push refused (ResponseCode=%s, ServiceStatus=%s)", code, service)
		}
		return rejected(code+"/"+service, desc, models.InitiationOutcome{})
	}

	txID := msg.get("TransactionID")
	return Result{
		Event: models.Event{
			Kind:       models.EventAccepted,
			TrackingID: txID,
			Message:    desc,
		},
		Outcome: models.InitiationOutcome{
			Success:          true,
			ProviderAccepted: true,
			UserInstructions: "Answer the USSD menu on your phone to approve the payment",
		},
	}
}

// ParseCallback reads a ussdResult notification. Only ResponseCode "0" together
// with ServiceStatus "0" is a success; every other combination is final failure.
func (a *USSDAdapter) ParseCallback(_ context.Context, req CallbackRequest) (models.Notification, error) {
	msg, err := parseSOAP(req.Body)
	if err != nil {
		return models.Notification{}, err
	}
	if msg.fault {
		return models.Notification{}, fmt.Errorf("ussd callback is a soap fault: %s", msg.get("faultstring"))
	}

	reference := msg.get("Reference", "ExternalReference")
	txID := msg.get("TransactionID")
	if reference == "" && txID == "" {
		return models.Notification{}, fmt.Errorf("ussd callback carries no reference")
	}

	amount, err := decimal.NewFromString(msg.get("Amount"))
	if err != nil {
		return models.Notification{}, fmt.Errorf("ussd callback amount: %w", err)
	}

	code := msg.get("ResponseCode")
	service := msg.get("ServiceStatus")
	status := models.CallbackFailed
	if code == ussdOK && service == ussdOK {
		status = models.CallbackSuccess
	}

	return models.Notification{
		GatewayCode:      CodeUSSD,
		Reference:        reference,
		TrackingID:       txID,
		GatewayReference: txID,
		Amount:           amount,
		Currency:         msg.get("Currency"),
		PayerID:          normalizeOrRaw(a.rule, msg.get("MSISDN", "msIsdn")),
		Status:           status,
		ProviderCode:     code + "/" + service,
		Message:          msg.get("ResultDesc"),
		Raw:              req.Body,
	}, nil
}

// Acknowledge answers with the bare plaintext code the gateway expects.
func (a *USSDAdapter) Acknowledge(d Disposition) Ack {
	body := "0"
	if !d.Accepted() {
		body = "1"
	}
	return Ack{Status: http.StatusOK, ContentType: "text/plain; charset=utf-8", Body: []byte(body)}
}
