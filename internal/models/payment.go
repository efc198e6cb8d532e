package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusSuccess    PaymentStatus = "SUCCESS"
	PaymentStatusFailed     PaymentStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed
}

// PaymentRecord is one payment attempt. Values are never mutated in place:
// Transition returns the next version and the store persists it.
type PaymentRecord struct {
	Reference            string          `json:"reference" db:"reference"`
	OrderRef             string          `json:"order_ref" db:"order_ref"`
	CustomerRef          string          `json:"customer_ref" db:"customer_ref"`
	GatewayCode          string          `json:"gateway_code" db:"gateway_code"`
	GatewayVariantCode   string          `json:"gateway_variant_code,omitempty" db:"gateway_variant_code"`
	AccountNumber        string          `json:"account_number" db:"account_number"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	Currency             string          `json:"currency" db:"currency"`
	Status               PaymentStatus   `json:"status" db:"status"`
	GatewayReference     string          `json:"gateway_reference,omitempty" db:"gateway_reference"`
	TrackingID           string          `json:"tracking_id,omitempty" db:"tracking_id"`
	ProviderFinalMessage string          `json:"provider_final_message,omitempty" db:"provider_final_message"`
	Version              int64           `json:"version" db:"version"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// NewPaymentRecord builds a fresh PENDING attempt. Gateway fields and the
// normalized account number are filled in by the initiation service.
func NewPaymentRecord(reference, orderRef, customerRef, accountNumber string, amount decimal.Decimal, currency string, now time.Time) PaymentRecord {
	return PaymentRecord{
		Reference:     reference,
		OrderRef:      orderRef,
		CustomerRef:   customerRef,
		AccountNumber: accountNumber,
		Amount:        amount,
		Currency:      currency,
		Status:        PaymentStatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Database schema
const PaymentSchema = `
CREATE TABLE IF NOT EXISTS payment_records (
    reference VARCHAR(64) PRIMARY KEY,
    order_ref VARCHAR(64) NOT NULL,
    customer_ref VARCHAR(64) NOT NULL,
    gateway_code VARCHAR(32) NOT NULL,
    gateway_variant_code VARCHAR(32) NOT NULL DEFAULT '',
    account_number VARCHAR(128) NOT NULL,
    amount NUMERIC(19, 4) NOT NULL,
    currency VARCHAR(3) NOT NULL,
    status VARCHAR(16) NOT NULL,
    gateway_reference VARCHAR(128) NOT NULL DEFAULT '',
    tracking_id VARCHAR(128) NOT NULL DEFAULT '',
    provider_final_message TEXT NOT NULL DEFAULT '',
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_payment_records_tracking ON payment_records (gateway_code, tracking_id);
CREATE INDEX IF NOT EXISTS idx_payment_records_order_ref ON payment_records (order_ref);
CREATE INDEX IF NOT EXISTS idx_payment_records_status ON payment_records (status);

CREATE TABLE IF NOT EXISTS payment_snapshots (
    id BIGSERIAL PRIMARY KEY,
    reference VARCHAR(64) NOT NULL REFERENCES payment_records (reference),
    kind VARCHAR(32) NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_payment_snapshots_reference ON payment_snapshots (reference, kind);
`
