package gateway

import (
	"strings"

	"payment-orchestration/internal/models"
)

// PayerRule keeps the last Keep digits of a phone number and prepends Prefix.
type PayerRule struct {
	Keep   int
	Prefix string
}

// payerRules is the per-provider normalization table. MOMOPAY and PAYLINK
// expect different prefixes for the same subscriber number.
var payerRules = map[string]PayerRule{
	CodeMomoPay:      {Keep: 9, Prefix: "237"},
	CodePayLink:      {Keep: 9, Prefix: "00237"},
	CodeSwiftPay:     {Keep: 9, Prefix: "237"},
	CodeSecureWallet: {Keep: 9, Prefix: "237"},
	CodeUSSD:         {Keep: 9, Prefix: "237"},
}

func payerRuleFor(code string) PayerRule {
	return payerRules[code]
}

func (r PayerRule) Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, c := range raw {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == ' ' || c == '-' || c == '+' || c == '(' || c == ')' || c == '.':
		default:
			return "", models.NewValidationError("account_number", "unexpected character %q", c)
		}
	}

	digits := b.String()
	if len(digits) < r.Keep {
		return "", models.NewValidationError("account_number", "expected at least %d digits, got %d", r.Keep, len(digits))
	}
	if len(digits) > 15 {
		return "", models.NewValidationError("account_number", "too many digits")
	}
	return r.Prefix + digits[len(digits)-r.Keep:], nil
}

// normalizeEmail is the payer rule for card checkouts.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return "", models.NewValidationError("account_number", "invalid e-mail address")
	}
	return email, nil
}
