// internal/pkg/money/money.go
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the only currency the wallet holds. VND has no sub-unit, so one
// minor unit is one đồng.
const Currency = "VND"

// Format renders minor units the way the app displays them: "1.250.000 ₫".
func Format(minorUnits int64) string {
	d := decimal.NewFromInt(minorUnits)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	return sign + groupThousands(d.StringFixed(0), ".") + " ₫"
}

// FormatSigned is Format with an explicit "+" for credits.
func FormatSigned(minorUnits int64) string {
	if minorUnits > 0 {
		return "+" + Format(minorUnits)
	}
	return Format(minorUnits)
}

func groupThousands(digits, sep string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// ToGatewayUnits scales minor units up for gateways that expect an implied
// fraction, e.g. VNPAY's vnp_Amount is đồng x 100.
func ToGatewayUnits(minorUnits int64, factor int64) string {
	return decimal.NewFromInt(minorUnits).Mul(decimal.NewFromInt(factor)).StringFixed(0)
}

// FromGatewayUnits is the inverse of ToGatewayUnits. It rejects values that
// do not divide evenly.
func FromGatewayUnits(raw string, factor int64) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse gateway amount %q: %w", raw, err)
	}
	scaled := d.Div(decimal.NewFromInt(factor))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("gateway amount %q is not a whole number of %s", raw, Currency)
	}
	return scaled.IntPart(), nil
}

// PointsFor returns the loyalty points earned for a deposit: one point per
// divisor minor units, rounded down.
func PointsFor(minorUnits int64, divisor int64) int64 {
	if divisor <= 0 || minorUnits <= 0 {
		return 0
	}
	return decimal.NewFromInt(minorUnits).Div(decimal.NewFromInt(divisor)).Floor().IntPart()
}
