// Package catalog resolves customer-facing payment methods to gateway codes.
package catalog

import (
	"sort"
	"strings"

	"payment-orchestration/internal/models"
)

// Method is a payment option offered at checkout. Variants map a variant code
// (for example "card" and "wallet" under one brand) to the gateway that
// serves it.
type Method struct {
	Code           string            `mapstructure:"code" json:"code"`
	Name           string            `mapstructure:"name" json:"name"`
	Active         bool              `mapstructure:"active" json:"active"`
	Currencies     []string          `mapstructure:"currencies" json:"currencies"`
	Gateway        string            `mapstructure:"gateway" json:"gateway,omitempty"`
	Variants       map[string]string `mapstructure:"variants" json:"variants,omitempty"`
	DefaultVariant string            `mapstructure:"default_variant" json:"default_variant,omitempty"`
}

// VariantCodes lists the method's variant codes, sorted.
func (m Method) VariantCodes() []string {
	codes := make([]string, 0, len(m.Variants))
	for code := range m.Variants {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Selection is the outcome of a catalog lookup.
type Selection struct {
	MethodCode  string
	GatewayCode string
	VariantCode string
}

func (m Method) supports(currency string) bool {
	if len(m.Currencies) == 0 {
		return true
	}
	for _, c := range m.Currencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

// Static is an immutable catalog loaded once from configuration.
type Static struct {
	methods map[string]Method
}

func NewStatic(methods []Method) *Static {
	s := &Static{methods: make(map[string]Method, len(methods))}
	for _, m := range methods {
		s.methods[strings.ToUpper(m.Code)] = m
	}
	return s
}

// Resolve picks the gateway for method/variant and checks that the method
// is active and accepts currency.
func (s *Static) Resolve(methodCode, variantCode, currency string) (Selection, error) {
	m, ok := s.methods[strings.ToUpper(methodCode)]
	if !ok {
		return Selection{}, models.NewValidationError("payment_method", "unknown payment method %q", methodCode)
	}
	if !m.Active {
		return Selection{}, models.NewValidationError("payment_method", "payment method %q is not available", methodCode)
	}
	if !m.supports(currency) {
		return Selection{}, models.NewValidationError("currency", "%s is not accepted by %s", currency, m.Code)
	}

	if len(m.Variants) == 0 {
		if variantCode != "" {
			return Selection{}, models.NewValidationError("payment_variant", "%s has no variant %q", m.Code, variantCode)
		}
		return Selection{MethodCode: m.Code, GatewayCode: strings.ToUpper(m.Gateway)}, nil
	}

	if variantCode == "" {
		variantCode = m.DefaultVariant
	}
	gateway, ok := m.Variants[strings.ToLower(variantCode)]
	if !ok {
		return Selection{}, models.NewValidationError("payment_variant", "%s has no variant %q", m.Code, variantCode)
	}
	return Selection{MethodCode: m.Code, GatewayCode: strings.ToUpper(gateway), VariantCode: strings.ToLower(variantCode)}, nil
}

// Active lists active methods ordered by code.
func (s *Static) Active() []Method {
	var out []Method
	for _, m := range s.methods {
		if m.Active {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
