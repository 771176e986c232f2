package simdriver

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/nomis52/posrunner/driver"
)

// Automation IDs exposed by the simulated POS. They follow the layout of the
// retail POS client the default engine selectors target.
const (
	IDLoginButton      = "UCLoginScreenLoginButton"
	IDUserName         = "UserName"
	IDPassword         = "Password"
	IDSignInOK         = "UCSignInOKButton"
	IDItemEntry        = "EANInput"
	IDItemConfirm      = "AddItemButton"
	IDPromotionEntry   = "PromotionCodeInput"
	IDPromotionApply   = "ApplyPromotionButton"
	IDLoyaltyEntry     = "LoyaltyNumberInput"
	IDLoyaltyConfirm   = "LoyaltyConfirmButton"
	IDCashTender       = "TenderButtonsCash"
	IDTenderAmount     = "CashAmount"
	IDTenderConfirm    = "CompleteButton"
	IDTotalDisplay     = "TotalAmountDisplay"
	IDChangeDisplay    = "ChangeAmountDisplay"
	IDLoyaltyPromptBtn = "LoyaltyPromptCancelButton"
	IDModalOK          = "MessageBoxOKButton"

	ClassIdleScreen = "MediaElement"
)

// Interstitial is a transient screen that covers the POS until dismissed.
type Interstitial int

const (
	NoInterstitial Interstitial = iota
	IdleScreen
	LoyaltyPrompt
	Modal
)

func (i Interstitial) String() string {
	switch i {
	case IdleScreen:
		return "idle_screen"
	case LoyaltyPrompt:
		return "loyalty_prompt"
	case Modal:
		return "modal"
	default:
		return "none"
	}
}

type screen int

const (
	screenLogin screen = iota
	screenSignIn
	screenSale
	screenTender
	screenComplete
)

func (s screen) String() string {
	return [...]string{"login", "sign_in", "sale", "tender", "complete"}[s]
}

type element struct {
	id        string
	ctype     string
	className string
	title     string
	editable  bool
}

var elements = map[string]element{
	IDLoginButton:      {id: IDLoginButton, ctype: "Button", title: "Log In"},
	IDUserName:         {id: IDUserName, ctype: "Edit", editable: true},
	IDPassword:         {id: IDPassword, ctype: "Edit", editable: true},
	IDSignInOK:         {id: IDSignInOK, ctype: "Button", title: "OK"},
	IDItemEntry:        {id: IDItemEntry, ctype: "Edit", editable: true},
	IDItemConfirm:      {id: IDItemConfirm, ctype: "Button", title: "Add"},
	IDPromotionEntry:   {id: IDPromotionEntry, ctype: "Edit", editable: true},
	IDPromotionApply:   {id: IDPromotionApply, ctype: "Button", title: "Apply"},
	IDLoyaltyEntry:     {id: IDLoyaltyEntry, ctype: "Edit", editable: true},
	IDLoyaltyConfirm:   {id: IDLoyaltyConfirm, ctype: "Button", title: "Confirm"},
	IDCashTender:       {id: IDCashTender, ctype: "Button", title: "Cash"},
	IDTenderAmount:     {id: IDTenderAmount, ctype: "Edit", editable: true},
	IDTenderConfirm:    {id: IDTenderConfirm, ctype: "Button", title: "Complete"},
	IDTotalDisplay:     {id: IDTotalDisplay, ctype: "Text"},
	IDChangeDisplay:    {id: IDChangeDisplay, ctype: "Text"},
	IDLoyaltyPromptBtn: {id: IDLoyaltyPromptBtn, ctype: "Button", title: "Cancel"},
	IDModalOK:          {id: IDModalOK, ctype: "Button", title: "OK"},
	ClassIdleScreen:    {ctype: "Pane", className: ClassIdleScreen},
}

var screens = map[screen][]string{
	screenLogin:  {IDLoginButton},
	screenSignIn: {IDUserName, IDPassword, IDSignInOK},
	screenSale: {
		IDItemEntry, IDItemConfirm,
		IDPromotionEntry, IDPromotionApply,
		IDLoyaltyEntry, IDLoyaltyConfirm,
		IDCashTender, IDTotalDisplay,
	},
	screenTender:   {IDTenderAmount, IDTenderConfirm, IDTotalDisplay},
	screenComplete: {IDTotalDisplay, IDChangeDisplay},
}

var interstitialElement = map[Interstitial]string{
	IdleScreen:    ClassIdleScreen,
	LoyaltyPrompt: IDLoyaltyPromptBtn,
	Modal:         IDModalOK,
}

func (e element) key() string {
	if e.id != "" {
		return e.id
	}
	return e.className
}

func (e element) selector() driver.Selector {
	return driver.Selector{
		AutomationID: e.id,
		ControlType:  e.ctype,
		ClassName:    e.className,
		Title:        e.title,
	}
}

// pos is the simulated application state. Callers hold Driver.mu.
type pos struct {
	screen  screen
	overlay Interstitial
	fields  map[string]string

	user     string
	items    []apd.Decimal
	discount apd.Decimal
	loyalty  string
	tendered apd.Decimal
	message  string
}

func newPOS() *pos {
	return &pos{fields: make(map[string]string)}
}

var decimalCtx = apd.BaseContext.WithPrecision(34)

// visible returns the element keys currently on screen.
func (p *pos) visible() []string {
	if p.overlay != NoInterstitial {
		return []string{interstitialElement[p.overlay]}
	}
	return screens[p.screen]
}

func (p *pos) isVisible(key string) bool {
	for _, k := range p.visible() {
		if k == key {
			return true
		}
	}
	return false
}

func (p *pos) total() (apd.Decimal, error) {
	var sum apd.Decimal
	for i := range p.items {
		if _, err := decimalCtx.Add(&sum, &sum, &p.items[i]); err != nil {
			return sum, err
		}
	}
	if _, err := decimalCtx.Sub(&sum, &sum, &p.discount); err != nil {
		return sum, err
	}
	if sum.Sign() < 0 {
		sum.SetInt64(0)
	}
	return sum, nil
}

func formatMoney(symbol string, d *apd.Decimal) (string, error) {
	var q apd.Decimal
	if _, err := decimalCtx.Quantize(&q, d, -2); err != nil {
		return "", err
	}
	return symbol + q.Text('f'), nil
}

func parseMoney(symbol, s string) (apd.Decimal, error) {
	var d apd.Decimal
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), symbol))
	if _, _, err := d.SetString(s); err != nil {
		return d, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}
