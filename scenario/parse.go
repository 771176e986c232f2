package scenario

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/apd/v3"
)

// Scenario CSV column names.
const (
	ColScenarioName      = "scenario_name"
	ColUserName          = "user_name"
	ColPassword          = "password"
	ColEANCode           = "ean_code"
	ColItemName          = "item_name"
	ColExpectedPrice     = "expected_price"
	ColCashTenderAmount  = "cash_tender_amount"
	ColLoyaltyNumber     = "loyalty_number"
	ColPromotionCode     = "promotion_code"
	ColQuantity          = "quantity"
	ColPromotionDiscount = "promotion_discount"
	ColCurrency          = "currency"
)

// RequiredColumns must be present in the scenario CSV header.
var RequiredColumns = []string{
	ColScenarioName,
	ColUserName,
	ColPassword,
	ColEANCode,
	ColItemName,
	ColExpectedPrice,
	ColCashTenderAmount,
	ColLoyaltyNumber,
	ColPromotionCode,
	ColQuantity,
}

// listSeparator splits multi-item cells: "9300675079686;9300675079687".
const listSeparator = ";"

// ErrNotFound is returned when a scenario name is absent from the store.
var ErrNotFound = errors.New("scenario not found")

// FieldProblem describes one invalid field of a scenario row.
type FieldProblem struct {
	Field  string
	Reason string
}

// ValidationError is returned when a scenario row fails field-level validation.
type ValidationError struct {
	Scenario string
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = fmt.Sprintf("%s: %s", p.Field, p.Reason)
	}
	return fmt.Sprintf("scenario %q is invalid: %s", e.Scenario, strings.Join(parts, "; "))
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// ParseAmount parses a non-negative decimal amount.
func ParseAmount(s string) (apd.Decimal, error) {
	var d apd.Decimal
	s = strings.TrimSpace(s)
	if s == "" {
		return d, errors.New("empty value")
	}
	if _, _, err := d.SetString(s); err != nil {
		return d, fmt.Errorf("not a number: %q", s)
	}
	if d.Form != apd.Finite {
		return d, fmt.Errorf("not a finite number: %q", s)
	}
	if d.Sign() < 0 {
		return d, fmt.Errorf("negative value: %s", s)
	}
	return d, nil
}

// parseRow converts a raw CSV record (keyed by column) into a ScenarioRow.
// All problems are collected so a single run of "scenarios validate" reports every bad field.
// An empty currency is left empty; the engine falls back to the CURRENCY setting.
func parseRow(rec map[string]string) (ScenarioRow, error) {
	name := strings.TrimSpace(rec[ColScenarioName])
	row := ScenarioRow{
		Name: name,
		Credentials: Credentials{
			User:     strings.TrimSpace(rec[ColUserName]),
			Password: rec[ColPassword],
		},
		PromotionCode: strings.TrimSpace(rec[ColPromotionCode]),
		LoyaltyNumber: strings.TrimSpace(rec[ColLoyaltyNumber]),
		Currency:      strings.TrimSpace(rec[ColCurrency]),
	}
	verr := &ValidationError{Scenario: name}

	if name == "" {
		verr.add(ColScenarioName, "required")
	}
	if row.Credentials.User == "" {
		verr.add(ColUserName, "required")
	}
	if row.Credentials.Password == "" {
		verr.add(ColPassword, "required")
	}
	if strings.IndexFunc(row.PromotionCode, unicode.IsSpace) >= 0 {
		verr.add(ColPromotionCode, "must be a single token, got %q", row.PromotionCode)
	}

	tender, err := ParseAmount(rec[ColCashTenderAmount])
	if err != nil {
		verr.add(ColCashTenderAmount, "%v", err)
	}
	row.TenderAmount = tender

	if raw := strings.TrimSpace(rec[ColPromotionDiscount]); raw != "" {
		discount, err := ParseAmount(raw)
		if err != nil {
			verr.add(ColPromotionDiscount, "%v", err)
		}
		row.PromotionDiscount = discount
	}

	row.Items = parseItems(rec, verr)

	if len(verr.Problems) > 0 {
		return row, verr
	}
	return row, nil
}

// parseItems splits the parallel item columns into line items.
// item_name and quantity may hold a single value which is applied to every item.
func parseItems(rec map[string]string, verr *ValidationError) []LineItem {
	codes := splitList(rec[ColEANCode])
	if len(codes) == 0 {
		verr.add(ColEANCode, "required")
		return nil
	}

	prices := splitList(rec[ColExpectedPrice])
	if len(prices) != len(codes) {
		verr.add(ColExpectedPrice, "expected %d value(s), got %d", len(codes), len(prices))
		return nil
	}

	names, ok := broadcast(splitList(rec[ColItemName]), len(codes), "")
	if !ok {
		verr.add(ColItemName, "expected 1 or %d value(s)", len(codes))
	}
	quantities, ok := broadcast(splitList(rec[ColQuantity]), len(codes), "1")
	if !ok {
		verr.add(ColQuantity, "expected 1 or %d value(s)", len(codes))
		return nil
	}

	items := make([]LineItem, len(codes))
	for i, code := range codes {
		items[i].Code = code
		if names != nil {
			items[i].Name = names[i]
		}

		price, err := ParseAmount(prices[i])
		if err != nil {
			verr.add(ColExpectedPrice, "item %d: %v", i+1, err)
		}
		items[i].UnitPrice = price

		qty, err := strconv.ParseInt(quantities[i], 10, 64)
		switch {
		case err != nil:
			verr.add(ColQuantity, "item %d: not an integer: %q", i+1, quantities[i])
		case qty < 0:
			verr.add(ColQuantity, "item %d: negative value: %d", i+1, qty)
		}
		items[i].Quantity = qty
	}
	return items
}

func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, listSeparator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func joinList(values []string) string {
	return strings.Join(values, listSeparator)
}

// broadcast expands an empty or single-valued list to n entries.
func broadcast(values []string, n int, def string) ([]string, bool) {
	switch len(values) {
	case 0:
		out := make([]string, n)
		for i := range out {
			out[i] = def
		}
		return out, true
	case 1:
		out := make([]string, n)
		for i := range out {
			out[i] = values[0]
		}
		return out, true
	case n:
		return values, true
	default:
		return nil, false
	}
}
