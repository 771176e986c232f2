package scenario

import (
	"github.com/cockroachdb/apd/v3"
)

// Credentials holds the POS operator login for a scenario.
type Credentials struct {
	User     string `json:"user" yaml:"user"`
	Password string `json:"-" yaml:"-"`
}

// LineItem is a single product entered during a scenario.
type LineItem struct {
	// Code is the EAN scanned or typed into the item entry field.
	Code string
	// Name is the display name; informational only.
	Name string
	// UnitPrice is the price the POS is expected to charge per unit.
	UnitPrice apd.Decimal
	// Quantity is the number of times the item is entered.
	Quantity int64
}

// ScenarioRow is one named, fully parameterized test case.
// Rows are immutable once loaded; use Clone before handing a row to code that may retain it.
type ScenarioRow struct {
	Name              string
	Credentials       Credentials
	Items             []LineItem
	PromotionCode     string
	PromotionDiscount apd.Decimal
	LoyaltyNumber     string
	TenderAmount      apd.Decimal
	Currency          string
}

// HasPromotion reports whether the promotion step applies to this row.
func (r ScenarioRow) HasPromotion() bool {
	return r.PromotionCode != ""
}

// HasLoyalty reports whether the loyalty step applies to this row.
func (r ScenarioRow) HasLoyalty() bool {
	return r.LoyaltyNumber != ""
}

// Clone returns a deep copy of the row. Decimal coefficients are copied with
// Set so the clone never shares big.Int storage with the cached original.
func (r ScenarioRow) Clone() ScenarioRow {
	c := r
	c.Items = make([]LineItem, len(r.Items))
	for i, item := range r.Items {
		c.Items[i] = LineItem{
			Code:     item.Code,
			Name:     item.Name,
			Quantity: item.Quantity,
		}
		c.Items[i].UnitPrice.Set(&r.Items[i].UnitPrice)
	}
	c.PromotionDiscount = apd.Decimal{}
	c.PromotionDiscount.Set(&r.PromotionDiscount)
	c.TenderAmount = apd.Decimal{}
	c.TenderAmount.Set(&r.TenderAmount)
	return c
}

// Fields flattens the row into a map keyed by CSV column name.
// Used by filter expressions and the scenarios show command.
func (r ScenarioRow) Fields() map[string]any {
	codes := make([]string, len(r.Items))
	names := make([]string, len(r.Items))
	prices := make([]string, len(r.Items))
	var qty int64
	for i, item := range r.Items {
		codes[i] = item.Code
		names[i] = item.Name
		prices[i] = item.UnitPrice.String()
		qty += item.Quantity
	}
	return map[string]any{
		"scenario_name":      r.Name,
		"user_name":          r.Credentials.User,
		"ean_code":           joinList(codes),
		"item_name":          joinList(names),
		"expected_price":     joinList(prices),
		"item_count":         len(r.Items),
		"quantity":           qty,
		"promotion_code":     r.PromotionCode,
		"promotion_discount": r.PromotionDiscount.String(),
		"loyalty_number":     r.LoyaltyNumber,
		"cash_tender_amount": r.TenderAmount.String(),
		"currency":           r.Currency,
	}
}
