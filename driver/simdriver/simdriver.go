// Package simdriver implements driver.Adapter against an in-memory POS.
//
// The simulated POS walks the same screens as the real client: a login
// screen, a sign-in form, the sale screen with item, promotion and loyalty
// entry, a cash tender form and a completion screen. Every control carries
// the automation ID the default engine selectors use.
//
// Tests and dry runs can script interstitials (idle screen, loyalty prompt,
// modal message box), hide or disable controls, delay their appearance and
// inject adapter errors per operation.
package simdriver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/nomis52/posrunner/driver"
)

// Op names an adapter operation for call counting and fault injection.
type Op string

const (
	OpLaunch   Op = "launch"
	OpFind     Op = "find"
	OpSetText  Op = "set_text"
	OpClick    Op = "click"
	OpText     Op = "text"
	OpWaitFor  Op = "wait_for"
	OpSnapshot Op = "snapshot"
	OpClose    Op = "close"
)

// DefaultTitle is the main window title of the simulated POS.
const DefaultTitle = "Retail POS"

var _ driver.Adapter = (*Driver)(nil)

type application struct {
	id string
}

func (a *application) ID() string { return a.id }

type control struct {
	key string
	sel driver.Selector
}

func (c *control) Selector() driver.Selector { return c.sel }

type fault struct {
	op  Op
	key string
}

// Driver is an in-memory POS application with a driver.Adapter front end.
// It is safe for concurrent use.
type Driver struct {
	mu sync.Mutex

	title        string
	symbol       string
	catalog      map[string]apd.Decimal
	promotions   map[string]apd.Decimal
	users        map[string]string
	pollInterval time.Duration
	logger       *slog.Logger

	app      *application
	launches int
	pos      *pos
	screenAt time.Time

	triggers map[string]Interstitial
	hidden   map[string]bool
	disabled map[string]bool
	delays   map[string]time.Duration
	faults   map[fault]error
	calls    map[Op]int
}

// Option configures a Driver.
type Option func(*Driver) error

// WithTitle sets the main window title.
func WithTitle(title string) Option {
	return func(d *Driver) error {
		d.title = title
		return nil
	}
}

// WithCurrencySymbol sets the prefix of displayed amounts. Defaults to "$".
func WithCurrencySymbol(symbol string) Option {
	return func(d *Driver) error {
		d.symbol = symbol
		return nil
	}
}

// WithItem adds a product to the catalog.
func WithItem(code, price string) Option {
	return func(d *Driver) error {
		p, err := parseMoney("", price)
		if err != nil {
			return fmt.Errorf("item %s: %w", code, err)
		}
		d.catalog[code] = p
		return nil
	}
}

// WithPromotion registers a promotion code and the discount it applies.
func WithPromotion(code, discount string) Option {
	return func(d *Driver) error {
		p, err := parseMoney("", discount)
		if err != nil {
			return fmt.Errorf("promotion %s: %w", code, err)
		}
		d.promotions[code] = p
		return nil
	}
}

// WithUser restricts sign-in to the given credentials. Without any users
// every credential pair is accepted.
func WithUser(name, password string) Option {
	return func(d *Driver) error {
		d.users[name] = password
		return nil
	}
}

// WithPollInterval sets the polling interval for bounded waits.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) error {
		d.pollInterval = interval
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) error {
		d.logger = logger.With("component", "simdriver")
		return nil
	}
}

// New creates a simulated POS. The application is not running until LaunchOrAttach.
func New(opts ...Option) (*Driver, error) {
	d := &Driver{
		title:        DefaultTitle,
		symbol:       "$",
		catalog:      make(map[string]apd.Decimal),
		promotions:   make(map[string]apd.Decimal),
		users:        make(map[string]string),
		pollInterval: 10 * time.Millisecond,
		logger:       slog.Default().With("component", "simdriver"),
		triggers:     make(map[string]Interstitial),
		hidden:       make(map[string]bool),
		disabled:     make(map[string]bool),
		delays:       make(map[string]time.Duration),
		faults:       make(map[fault]error),
		calls:        make(map[Op]int),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ShowInterstitial covers the POS with i immediately.
func (d *Driver) ShowInterstitial(i Interstitial) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos != nil {
		d.pos.overlay = i
	}
}

// TriggerOnFind arranges for i to appear the first time a control with the
// given automation ID (or class name) is looked up.
func (d *Driver) TriggerOnFind(key string, i Interstitial) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.triggers[key] = i
}

// Hide makes a control permanently unresolvable.
func (d *Driver) Hide(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hidden[key] = true
}

// Disable keeps a control visible but never enabled.
func (d *Driver) Disable(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disabled[key] = true
}

// Delay makes a control appear only after the given time on its screen.
func (d *Driver) Delay(key string, after time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delays[key] = after
}

// FailOn makes op return err. An empty key applies to every control.
func (d *Driver) FailOn(op Op, key string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[fault{op: op, key: key}] = err
}

// Calls returns how many times op was invoked.
func (d *Driver) Calls(op Op) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Running reports whether the application is open.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.app != nil
}

// Screen returns the name of the current screen.
func (d *Driver) Screen() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos == nil {
		return ""
	}
	return d.pos.screen.String()
}

// Overlay returns the active interstitial.
func (d *Driver) Overlay() Interstitial {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos == nil {
		return NoInterstitial
	}
	return d.pos.overlay
}

// Loyalty returns the loyalty number attached to the current sale.
func (d *Driver) Loyalty() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos == nil {
		return ""
	}
	return d.pos.loyalty
}

// Message returns the text of the last modal message box.
func (d *Driver) Message() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos == nil {
		return ""
	}
	return d.pos.message
}

// LaunchOrAttach implements driver.Adapter.
func (d *Driver) LaunchOrAttach(ctx context.Context, locator, expectedTitle string, timeout time.Duration) (driver.Application, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[OpLaunch]++

	if err := d.faultLocked(OpLaunch, ""); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(expectedTitle)
	if err != nil {
		return nil, fmt.Errorf("invalid title pattern %q: %w", expectedTitle, err)
	}
	if !re.MatchString(d.title) {
		return nil, fmt.Errorf("%w: no window matching %q within %s", driver.ErrNotFound, expectedTitle, timeout)
	}
	if d.app != nil {
		d.logger.Debug("attached to running application", "app", d.app.id)
		return d.app, nil
	}

	d.launches++
	d.app = &application{id: fmt.Sprintf("sim-%d", d.launches)}
	d.pos = newPOS()
	d.screenAt = time.Now()
	d.logger.Debug("launched application", "app", d.app.id, "locator", locator)
	return d.app, nil
}

// FindControl implements driver.Adapter.
func (d *Driver) FindControl(ctx context.Context, app driver.Application, sel driver.Selector, timeout time.Duration) (driver.Control, bool, error) {
	d.mu.Lock()
	d.calls[OpFind]++
	if err := d.checkAppLocked(app); err != nil {
		d.mu.Unlock()
		return nil, false, err
	}
	d.fireTriggersLocked(sel)
	d.mu.Unlock()

	var found *control
	ok, err := driver.Poll(ctx, timeout, d.pollInterval, func() (bool, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		for _, key := range d.pos.visible() {
			e := elements[key]
			if !sel.Matches(e.selector()) || !d.presentLocked(key) {
				continue
			}
			if err := d.faultLocked(OpFind, key); err != nil {
				return false, err
			}
			found = &control{key: key, sel: sel}
			return true, nil
		}
		return false, nil
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return found, true, nil
}

// SetText implements driver.Adapter.
func (d *Driver) SetText(ctx context.Context, c driver.Control, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[OpSetText]++

	key, err := d.liveControlLocked(OpSetText, c)
	if err != nil {
		return err
	}
	if !elements[key].editable {
		return fmt.Errorf("element %s is not editable", key)
	}
	d.pos.fields[key] = value
	return nil
}

// Click implements driver.Adapter.
func (d *Driver) Click(ctx context.Context, c driver.Control) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[OpClick]++

	key, err := d.liveControlLocked(OpClick, c)
	if err != nil {
		return err
	}
	if d.disabled[key] {
		return fmt.Errorf("element %s is disabled", key)
	}
	return d.clickLocked(key)
}

// Text implements driver.Adapter.
func (d *Driver) Text(ctx context.Context, c driver.Control) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[OpText]++

	key, err := d.liveControlLocked(OpText, c)
	if err != nil {
		return "", err
	}
	switch key {
	case IDTotalDisplay:
		total, err := d.pos.total()
		if err != nil {
			return "", err
		}
		return formatMoney(d.symbol, &total)
	case IDChangeDisplay:
		total, err := d.pos.total()
		if err != nil {
			return "", err
		}
		var change apd.Decimal
		if _, err := decimalCtx.Sub(&change, &d.pos.tendered, &total); err != nil {
			return "", err
		}
		return formatMoney(d.symbol, &change)
	}
	if elements[key].editable {
		return d.pos.fields[key], nil
	}
	return elements[key].title, nil
}

// WaitFor implements driver.Adapter.
func (d *Driver) WaitFor(ctx context.Context, cond driver.Condition, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	d.calls[OpWaitFor]++
	c, ok := cond.Control.(*control)
	if !ok {
		d.mu.Unlock()
		return false, fmt.Errorf("foreign control handle %T", cond.Control)
	}
	if err := d.faultLocked(OpWaitFor, c.key); err != nil {
		d.mu.Unlock()
		return false, err
	}
	d.mu.Unlock()

	return driver.Poll(ctx, timeout, d.pollInterval, func() (bool, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.pos == nil || !d.pos.isVisible(c.key) || !d.presentLocked(c.key) {
			return false, nil
		}
		switch cond.State {
		case driver.StateEnabled, driver.StateReady:
			return !d.disabled[c.key], nil
		default:
			return true, nil
		}
	})
}

// CaptureSnapshot implements driver.Adapter. The image is a solid frame
// whose colour encodes the current screen.
func (d *Driver) CaptureSnapshot(ctx context.Context, app driver.Application) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[OpSnapshot]++

	if err := d.checkAppLocked(app); err != nil {
		return nil, err
	}
	if err := d.faultLocked(OpSnapshot, ""); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	fill := color.RGBA{R: uint8(40 * int(d.pos.screen)), G: 96, B: 160, A: 255}
	if d.pos.overlay != NoInterstitial {
		fill = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	}
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close implements driver.Adapter.
func (d *Driver) Close(ctx context.Context, app driver.Application) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[OpClose]++

	if err := d.checkAppLocked(app); err != nil {
		return err
	}
	if err := d.faultLocked(OpClose, ""); err != nil {
		return err
	}
	d.logger.Debug("closed application", "app", d.app.id)
	d.app = nil
	return nil
}

var errNotRunning = errors.New("application is not running")

func (d *Driver) checkAppLocked(app driver.Application) error {
	if d.app == nil {
		return errNotRunning
	}
	if a, ok := app.(*application); !ok || a != d.app {
		return fmt.Errorf("unknown application handle %v", app)
	}
	return nil
}

func (d *Driver) faultLocked(op Op, key string) error {
	if err, ok := d.faults[fault{op: op, key: key}]; ok {
		return err
	}
	if key != "" {
		if err, ok := d.faults[fault{op: op}]; ok {
			return err
		}
	}
	return nil
}

// liveControlLocked validates a control handle against the current screen.
func (d *Driver) liveControlLocked(op Op, c driver.Control) (string, error) {
	if d.app == nil {
		return "", errNotRunning
	}
	ctl, ok := c.(*control)
	if !ok {
		return "", fmt.Errorf("foreign control handle %T", c)
	}
	if err := d.faultLocked(op, ctl.key); err != nil {
		return "", err
	}
	if !d.pos.isVisible(ctl.key) {
		return "", fmt.Errorf("element %s is no longer available", ctl.key)
	}
	return ctl.key, nil
}

func (d *Driver) presentLocked(key string) bool {
	if d.hidden[key] {
		return false
	}
	if delay, ok := d.delays[key]; ok && time.Since(d.screenAt) < delay {
		return false
	}
	return true
}

func (d *Driver) fireTriggersLocked(sel driver.Selector) {
	for key, i := range d.triggers {
		if !sel.Matches(elements[key].selector()) {
			continue
		}
		delete(d.triggers, key)
		d.pos.overlay = i
		d.logger.Debug("interstitial shown", "interstitial", i.String(), "trigger", key)
	}
}

func (d *Driver) setScreenLocked(s screen) {
	d.pos.screen = s
	d.screenAt = time.Now()
}

func (d *Driver) modalLocked(msg string) {
	d.pos.overlay = Modal
	d.pos.message = msg
}

func (d *Driver) clickLocked(key string) error {
	p := d.pos
	if p.overlay != NoInterstitial && key == interstitialElement[p.overlay] {
		p.overlay = NoInterstitial
		return nil
	}

	switch key {
	case IDLoginButton:
		d.setScreenLocked(screenSignIn)
	case IDSignInOK:
		user, password := p.fields[IDUserName], p.fields[IDPassword]
		if want, ok := d.users[user]; len(d.users) > 0 && (!ok || want != password) {
			d.modalLocked("invalid user name or password")
			return nil
		}
		p.user = user
		delete(p.fields, IDPassword)
		d.setScreenLocked(screenSale)
	case IDItemConfirm:
		code := p.fields[IDItemEntry]
		price, ok := d.catalog[code]
		if !ok {
			d.modalLocked(fmt.Sprintf("item %s not found", code))
			return nil
		}
		var line apd.Decimal
		line.Set(&price)
		p.items = append(p.items, line)
		p.fields[IDItemEntry] = ""
	case IDPromotionApply:
		code := p.fields[IDPromotionEntry]
		discount, ok := d.promotions[code]
		if !ok {
			d.modalLocked(fmt.Sprintf("promotion %s is not valid", code))
			return nil
		}
		if _, err := decimalCtx.Add(&p.discount, &p.discount, &discount); err != nil {
			return err
		}
		p.fields[IDPromotionEntry] = ""
	case IDLoyaltyConfirm:
		p.loyalty = p.fields[IDLoyaltyEntry]
		p.fields[IDLoyaltyEntry] = ""
	case IDCashTender:
		d.setScreenLocked(screenTender)
	case IDTenderConfirm:
		amount, err := parseMoney(d.symbol, p.fields[IDTenderAmount])
		if err != nil {
			d.modalLocked(err.Error())
			return nil
		}
		total, err := p.total()
		if err != nil {
			return err
		}
		if amount.Cmp(&total) < 0 {
			d.modalLocked("tendered amount is less than the total")
			return nil
		}
		p.tendered.Set(&amount)
		d.setScreenLocked(screenComplete)
	}
	return nil
}
