package engine

import (
	"fmt"

	"github.com/nomis52/posrunner/driver"
)

// Selector keys used by the step table.
const (
	KeyLoginButton    = "login_button"
	KeyUsernameField  = "username_field"
	KeyPasswordField  = "password_field"
	KeySignInOK       = "signin_ok"
	KeyItemEntry      = "item_entry"
	KeyItemConfirm    = "item_confirm"
	KeyPromotionEntry = "promotion_entry"
	KeyPromotionApply = "promotion_apply"
	KeyLoyaltyEntry   = "loyalty_entry"
	KeyLoyaltyConfirm = "loyalty_confirm"
	KeyCashTender     = "cash_tender"
	KeyTenderAmount   = "tender_amount"
	KeyTenderConfirm  = "tender_confirm"
	KeyTotalDisplay   = "total_display"
)

// SelectorKeys lists every key the step table resolves.
var SelectorKeys = []string{
	KeyLoginButton, KeyUsernameField, KeyPasswordField, KeySignInOK,
	KeyItemEntry, KeyItemConfirm,
	KeyPromotionEntry, KeyPromotionApply,
	KeyLoyaltyEntry, KeyLoyaltyConfirm,
	KeyCashTender, KeyTenderAmount, KeyTenderConfirm,
	KeyTotalDisplay,
}

// Selectors maps step table keys to UI selectors.
type Selectors map[string]driver.Selector

// DefaultSelectors returns the automation IDs of the retail POS client.
func DefaultSelectors() Selectors {
	id := func(autoID string) driver.Selector { return driver.Selector{AutomationID: autoID} }
	return Selectors{
		KeyLoginButton:    id("UCLoginScreenLoginButton"),
		KeyUsernameField:  id("UserName"),
		KeyPasswordField:  id("Password"),
		KeySignInOK:       id("UCSignInOKButton"),
		KeyItemEntry:      id("EANInput"),
		KeyItemConfirm:    id("AddItemButton"),
		KeyPromotionEntry: id("PromotionCodeInput"),
		KeyPromotionApply: id("ApplyPromotionButton"),
		KeyLoyaltyEntry:   id("LoyaltyNumberInput"),
		KeyLoyaltyConfirm: id("LoyaltyConfirmButton"),
		KeyCashTender:     id("TenderButtonsCash"),
		KeyTenderAmount:   id("CashAmount"),
		KeyTenderConfirm:  id("CompleteButton"),
		KeyTotalDisplay:   id("TotalAmountDisplay"),
	}
}

// Merge returns a copy of s with the non-zero entries of overrides applied.
func (s Selectors) Merge(overrides map[string]driver.Selector) Selectors {
	out := make(Selectors, len(s))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range overrides {
		if !v.IsZero() {
			out[k] = v
		}
	}
	return out
}

// Validate checks that every step table key has a selector and that no
// unknown key is configured.
func (s Selectors) Validate() error {
	for _, k := range SelectorKeys {
		if s[k].IsZero() {
			return fmt.Errorf("no selector configured for %q", k)
		}
	}
	for k := range s {
		if !isSelectorKey(k) {
			return fmt.Errorf("unknown selector key %q", k)
		}
	}
	return nil
}

func isSelectorKey(k string) bool {
	for _, key := range SelectorKeys {
		if key == k {
			return true
		}
	}
	return false
}

// Interstitial is a known benign UI state that may cover the POS between
// steps. Anything not listed is treated as a genuine missing control.
type Interstitial struct {
	Name string `yaml:"name" json:"name"`
	// Detector identifies the interstitial when present.
	Detector driver.Selector `yaml:"detector" json:"detector"`
	// Dismiss is clicked to clear it. Empty means click the detector itself.
	Dismiss driver.Selector `yaml:"dismiss,omitempty" json:"dismiss,omitempty"`
}

// DefaultInterstitials returns the interstitials the retail POS is known to show.
func DefaultInterstitials() []Interstitial {
	return []Interstitial{
		{Name: "idle_screen", Detector: driver.Selector{ClassName: "MediaElement"}},
		{Name: "loyalty_prompt", Detector: driver.Selector{AutomationID: "LoyaltyPromptCancelButton"}},
		{Name: "modal_ok", Detector: driver.Selector{AutomationID: "MessageBoxOKButton"}},
	}
}
