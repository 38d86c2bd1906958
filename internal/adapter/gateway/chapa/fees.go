package chapa

import (
	"github.com/shopspring/decimal"

	"checkout-core/internal/core/ports"
)

var (
	etbFlatThreshold = decimal.NewFromInt(100)
	etbFlatFee       = decimal.RequireFromString("3.00")
	etbRate          = decimal.RequireFromString("0.025")
	etbFeeCap        = decimal.RequireFromString("500.00")

	intlRate   = decimal.RequireFromString("0.035")
	intlMinFee = decimal.RequireFromString("5.00")
)

// EstimateFee computes the provider charge for an amount without calling the
// API. ETB uses a flat fee for small amounts and a capped percentage above;
// international currencies use a flat percentage with a minimum.
func (g *Gateway) EstimateFee(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	if !g.SupportsCurrency(currency) {
		return decimal.Zero, ports.ErrUnsupportedCurrency
	}

	if currency == "ETB" {
		if amount.LessThanOrEqual(etbFlatThreshold) {
			return etbFlatFee, nil
		}
		fee := amount.Mul(etbRate).Round(2)
		if fee.GreaterThan(etbFeeCap) {
			return etbFeeCap, nil
		}
		return fee, nil
	}

	fee := amount.Mul(intlRate).Round(2)
	if fee.LessThan(intlMinFee) {
		return intlMinFee, nil
	}
	return fee, nil
}
