package budget

import (
	"github.com/shopspring/decimal"
)

// VATSplit is an amount broken into net, VAT and gross. Net + VAT == Gross.
type VATSplit struct {
	Net   decimal.Decimal
	VAT   decimal.Decimal
	Gross decimal.Decimal
}

// ResolveVATRate applies the tenant default to an unset rate. Zero amounts
// never need a rate. A missing rate with no default is ErrMissingVATRate.
func ResolveVATRate(amount decimal.Decimal, rate, defaultRate *decimal.Decimal, field string) (*decimal.Decimal, error) {
	if rate != nil {
		return rate, nil
	}
	if defaultRate != nil {
		r := *defaultRate
		return &r, nil
	}
	if amount.IsZero() {
		return nil, nil
	}
	return nil, &ValidationError{Field: field, Entity: "VAT", Message: "VAT rate is required when no default rate is configured", Err: ErrMissingVATRate}
}

// SplitVAT splits amount into net/vat/gross. When includesVAT is set the
// amount is gross. Both net and gross are rounded; VAT is their difference.
func SplitVAT(amount decimal.Decimal, rate, defaultRate *decimal.Decimal, includesVAT bool) (VATSplit, error) {
	if amount.IsZero() {
		return VATSplit{Net: decimal.Zero, VAT: decimal.Zero, Gross: decimal.Zero}, nil
	}
	r, err := ResolveVATRate(amount, rate, defaultRate, "vat_rate")
	if err != nil {
		return VATSplit{}, err
	}
	if r.IsNegative() {
		return VATSplit{}, &ValidationError{Entity: "VAT", Field: "vat_rate", Message: "VAT rate cannot be negative"}
	}
	factor := decimal.NewFromInt(1).Add(r.Div(hundred))

	var net, gross decimal.Decimal
	if includesVAT {
		gross = Round(amount)
		net = Round(amount.Div(factor))
	} else {
		net = Round(amount)
		gross = Round(amount.Mul(factor))
	}
	return VATSplit{Net: net, VAT: gross.Sub(net), Gross: gross}, nil
}
