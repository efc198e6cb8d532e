// Package gateway holds the provider adapters. Every adapter implements
// Adapter. Providers that push notifications also implement CallbackParser,
// providers that can be polled implement Verifier, and two-step providers
// implement Confirmer.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/shopspring/decimal"

	"payment-orchestration/internal/models"
)

const (
	CodeMomoPay      = "MOMOPAY"
	CodePayLink      = "PAYLINK"
	CodeSwiftPay     = "SWIFTPAY"
	CodeSecureWallet = "SECUREWALLET"
	CodeUSSD         = "USSDGW"
	CodeStripe       = "STRIPE"
)

type Adapter interface {
	Code() string
	// NormalizePayer turns a customer-supplied payer identifier into the
	// shape this provider expects, or returns a *models.ValidationError.
	NormalizePayer(raw string) (string, error)
	// Initiate performs exactly one outbound call for the attempt. Provider
	// declines come back as a Result with an EventRejected event; err is
	// reserved for *models.CommunicationError and local failures.
	Initiate(ctx context.Context, attempt Attempt) (Result, error)
}

type CallbackParser interface {
	Adapter
	ParseCallback(ctx context.Context, req CallbackRequest) (models.Notification, error)
	Acknowledge(d Disposition) Ack
}

type Verifier interface {
	Adapter
	Verify(ctx context.Context, rec models.PaymentRecord) (models.Notification, error)
}

// Confirmer sends the second leg of a two-step payment. Only providers with
// a deliberate authorize-then-confirm flow implement it; for every other
// provider a record gets exactly one outbound charge request.
type Confirmer interface {
	Adapter
	Confirm(ctx context.Context, attempt Attempt) (Result, error)
}

// PayerReporter is implemented by adapters whose notifications name the
// payer. When ReportsPayer is true a notification without a payer does not
// match the record.
type PayerReporter interface {
	ReportsPayer() bool
}

// AmountValidator is implemented by adapters that cannot represent every
// amount, e.g. more decimals than the currency's minor unit. It runs before
// the record is created.
type AmountValidator interface {
	ValidateAmount(amount decimal.Decimal, currency string) error
}

// SnapshotRecorder persists raw audit payloads.
type SnapshotRecorder interface {
	AppendSnapshot(ctx context.Context, reference string, kind models.SnapshotKind, payload []byte) error
}

type Attempt struct {
	Record      models.PaymentRecord
	OneTimeCode string
	Snapshots   SnapshotRecorder
}

// snapshot writes an audit payload. A request snapshot that cannot be stored
// aborts the attempt before anything is sent.
func (a Attempt) snapshot(ctx context.Context, kind models.SnapshotKind, payload []byte) error {
	if a.Snapshots == nil {
		return nil
	}
	if err := a.Snapshots.AppendSnapshot(ctx, a.Record.Reference, kind, payload); err != nil {
		return fmt.Errorf("store %s snapshot: %w", kind, err)
	}
	return nil
}

type Result struct {
	Event   models.Event
	Outcome models.InitiationOutcome
	// ProviderCode is the provider's own code for a rejected call.
	ProviderCode string
}

func rejected(code, message string, outcome models.InitiationOutcome) Result {
	if outcome.NextAction == models.NextActionNone {
		outcome.NextAction = models.NextActionRetryPayment
	}
	if outcome.UserInstructions == "" {
		outcome.UserInstructions = message
	}
	return Result{
		Event:        models.Event{Kind: models.EventRejected, Message: message},
		Outcome:      outcome,
		ProviderCode: code,
	}
}

type CallbackRequest struct {
	Body   []byte
	Header http.Header
}

// Disposition is how the reconciler handled one inbound notification.
type Disposition string

const (
	DispositionApplied          Disposition = "applied"
	DispositionDuplicate        Disposition = "duplicate"
	DispositionUnknownReference Disposition = "unknown_reference"
	DispositionInProgress       Disposition = "in_progress"
	DispositionIgnored          Disposition = "ignored"
	DispositionMismatch         Disposition = "mismatch"
	DispositionInvalid          Disposition = "invalid"
)

// Accepted reports whether the provider should be told to stop redelivering.
func (d Disposition) Accepted() bool {
	return d != DispositionMismatch && d != DispositionInvalid
}

// Ack is the exact HTTP answer a provider expects for a callback.
type Ack struct {
	Status      int
	ContentType string
	Body        []byte
}

func jsonAck(status int, v interface{}) Ack {
	body, _ := json.Marshal(v)
	return Ack{Status: status, ContentType: "application/json", Body: body}
}

// Registry maps gateway codes to adapters.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Code()] = a
}

func (r *Registry) Adapter(code string) (Adapter, bool) {
	a, ok := r.adapters[code]
	return a, ok
}

func (r *Registry) CallbackParser(code string) (CallbackParser, bool) {
	p, ok := r.adapters[code].(CallbackParser)
	return p, ok
}

func (r *Registry) Verifier(code string) (Verifier, bool) {
	v, ok := r.adapters[code].(Verifier)
	return v, ok
}

func (r *Registry) Confirmer(code string) (Confirmer, bool) {
	c, ok := r.adapters[code].(Confirmer)
	return c, ok
}

// ReportsPayer reports whether notifications from code must carry the payer.
func (r *Registry) ReportsPayer(code string) bool {
	p, ok := r.adapters[code].(PayerReporter)
	return ok && p.ReportsPayer()
}

// CallbackCodes lists gateways that accept inbound notifications, sorted.
func (r *Registry) CallbackCodes() []string {
	var codes []string
	for code, a := range r.adapters {
		if _, ok := a.(CallbackParser); ok {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}
