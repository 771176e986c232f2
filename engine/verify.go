package engine

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cockroachdb/apd/v3"

	"github.com/nomis52/posrunner/scenario"
)

var decimalCtx = apd.BaseContext.WithPrecision(34)

// ExpectedTotal computes sum(unit_price * quantity) - promotion_discount.
// A discount larger than the basket yields zero, as the POS never shows a
// negative total.
func ExpectedTotal(row scenario.ScenarioRow) (apd.Decimal, error) {
	var total apd.Decimal
	for _, item := range row.Items {
		var qty, line apd.Decimal
		qty.SetInt64(item.Quantity)
		if _, err := decimalCtx.Mul(&line, &item.UnitPrice, &qty); err != nil {
			return total, fmt.Errorf("pricing item %s: %w", item.Code, err)
		}
		if _, err := decimalCtx.Add(&total, &total, &line); err != nil {
			return total, fmt.Errorf("summing items: %w", err)
		}
	}
	if _, err := decimalCtx.Sub(&total, &total, &row.PromotionDiscount); err != nil {
		return total, fmt.Errorf("applying discount: %w", err)
	}
	if total.Sign() < 0 {
		total.SetInt64(0)
	}
	return total, nil
}

// ParseDisplayedTotal extracts a decimal from POS display text such as
// "$1,234.50", "EUR 12.00" or "Total: 5.99". Currency symbols, letters and
// whitespace are dropped and commas are read as thousands separators.
func ParseDisplayedTotal(text string) (apd.Decimal, error) {
	var d apd.Decimal
	var b strings.Builder
	for _, r := range text {
		switch {
		case unicode.IsDigit(r), r == '.', r == '-':
			b.WriteRune(r)
		case r == ',', unicode.IsSpace(r), unicode.IsLetter(r), unicode.Is(unicode.Sc, r), r == ':':
		default:
			return d, fmt.Errorf("unexpected character %q in displayed total %q", r, text)
		}
	}
	s := b.String()
	if s == "" {
		return d, fmt.Errorf("no amount in displayed total %q", text)
	}
	if _, _, err := d.SetString(s); err != nil {
		return d, fmt.Errorf("displayed total %q is not a number", text)
	}
	if d.Form != apd.Finite {
		return d, fmt.Errorf("displayed total %q is not a finite number", text)
	}
	return d, nil
}

// withinTolerance reports whether |expected - observed| <= tolerance.
func withinTolerance(expected, observed, tolerance *apd.Decimal) (bool, error) {
	var diff apd.Decimal
	if _, err := decimalCtx.Sub(&diff, expected, observed); err != nil {
		return false, err
	}
	diff.Abs(&diff)
	return diff.Cmp(tolerance) <= 0, nil
}

// formatAmount renders d with two decimal places for reasons and reports.
func formatAmount(d *apd.Decimal) string {
	var q apd.Decimal
	if _, err := decimalCtx.Quantize(&q, d, -2); err != nil {
		return d.Text('f')
	}
	return q.Text('f')
}
