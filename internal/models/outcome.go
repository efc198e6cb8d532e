package models

import "github.com/shopspring/decimal"

type NextAction string

const (
	NextActionNone                 NextAction = ""
	NextActionOpenAdditionalInput  NextAction = "OPEN_ADDITIONAL_INPUT"
	NextActionRedirectToPaymentURL NextAction = "REDIRECT_TO_PAYMENT_URL"
	NextActionRetryPayment         NextAction = "RETRY_PAYMENT"
)

// InitiationOutcome is what the caller of an initiation sees.
//
// Success keeps the historical meaning of "the call went through"; for the
// authorize leg of a two-step flow it stays true even when the provider
// declined. ProviderAccepted always reflects the provider's answer.
type InitiationOutcome struct {
	Success          bool       `json:"success"`
	ProviderAccepted bool       `json:"provider_accepted"`
	GatewayReference string     `json:"gateway_reference,omitempty"`
	UserInstructions string     `json:"user_instructions,omitempty"`
	NextAction       NextAction `json:"next_action,omitempty"`
	PaymentURL       string     `json:"payment_url,omitempty"`
}

// CallbackStatus is a provider notification mapped onto the canonical vocabulary.
type CallbackStatus string

const (
	CallbackSuccess CallbackStatus = "SUCCESS"
	CallbackFailed  CallbackStatus = "FAILED"
	// CallbackInProgress covers intermediate provider codes; it never moves a record.
	CallbackInProgress CallbackStatus = "IN_PROGRESS"
)

// Notification is a parsed provider callback or verification answer.
type Notification struct {
	GatewayCode      string
	Reference        string
	TrackingID       string
	GatewayReference string
	Amount           decimal.Decimal
	Currency         string
	PayerID          string
	Status           CallbackStatus
	ProviderCode     string
	Message          string
	Raw              []byte
}
