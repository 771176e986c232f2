package simdriver

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/posrunner/driver"
)

func newTestDriver(t *testing.T, opts ...Option) *Driver {
	t.Helper()
	base := []Option{
		WithItem("9300675079686", "5.99"),
		WithItem("111", "2.50"),
		WithPromotion("SAVE1", "1.00"),
		WithPollInterval(time.Millisecond),
	}
	d, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return d
}

func launch(t *testing.T, d *Driver) driver.Application {
	t.Helper()
	app, err := d.LaunchOrAttach(context.Background(), `C:\POS\pos.exe`, "Retail POS", time.Second)
	require.NoError(t, err)
	return app
}

func find(t *testing.T, d *Driver, app driver.Application, id string) driver.Control {
	t.Helper()
	c, ok, err := d.FindControl(context.Background(), app, driver.Selector{AutomationID: id}, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok, "control %s not found on screen %s", id, d.Screen())
	return c
}

func click(t *testing.T, d *Driver, app driver.Application, id string) {
	t.Helper()
	require.NoError(t, d.Click(context.Background(), find(t, d, app, id)))
}

func typeText(t *testing.T, d *Driver, app driver.Application, id, value string) {
	t.Helper()
	require.NoError(t, d.SetText(context.Background(), find(t, d, app, id), value))
}

func login(t *testing.T, d *Driver, app driver.Application) {
	t.Helper()
	click(t, d, app, IDLoginButton)
	typeText(t, d, app, IDUserName, "cashier1")
	typeText(t, d, app, IDPassword, "secret")
	click(t, d, app, IDSignInOK)
}

func TestDriver_FullSale(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	app := launch(t, d)

	login(t, d, app)
	assert.Equal(t, "sale", d.Screen())

	for i := 0; i < 2; i++ {
		typeText(t, d, app, IDItemEntry, "9300675079686")
		click(t, d, app, IDItemConfirm)
	}
	typeText(t, d, app, IDItemEntry, "111")
	click(t, d, app, IDItemConfirm)

	typeText(t, d, app, IDPromotionEntry, "SAVE1")
	click(t, d, app, IDPromotionApply)

	typeText(t, d, app, IDLoyaltyEntry, "LOY42")
	click(t, d, app, IDLoyaltyConfirm)
	assert.Equal(t, "LOY42", d.Loyalty())

	click(t, d, app, IDCashTender)
	typeText(t, d, app, IDTenderAmount, "20.00")
	click(t, d, app, IDTenderConfirm)
	assert.Equal(t, "complete", d.Screen())

	total, err := d.Text(ctx, find(t, d, app, IDTotalDisplay))
	require.NoError(t, err)
	assert.Equal(t, "$13.48", total)

	change, err := d.Text(ctx, find(t, d, app, IDChangeDisplay))
	require.NoError(t, err)
	assert.Equal(t, "$6.52", change)

	require.NoError(t, d.Close(ctx, app))
	assert.False(t, d.Running())
}

func TestDriver_LaunchOrAttach(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	_, err := d.LaunchOrAttach(ctx, "pos.exe", "^Back Office$", time.Second)
	assert.ErrorIs(t, err, driver.ErrNotFound)

	app := launch(t, d)
	again, err := d.LaunchOrAttach(ctx, "pos.exe", "Retail.*", time.Second)
	require.NoError(t, err)
	assert.Equal(t, app.ID(), again.ID())
	assert.Equal(t, 3, d.Calls(OpLaunch))
}

func TestDriver_AbsentControl(t *testing.T) {
	d := newTestDriver(t)
	app := launch(t, d)

	_, ok, err := d.FindControl(context.Background(), app, driver.Selector{AutomationID: IDItemEntry}, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDriver_InterstitialTrigger(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	app := launch(t, d)
	d.TriggerOnFind(IDLoginButton, IdleScreen)

	_, ok, err := d.FindControl(ctx, app, driver.Selector{AutomationID: IDLoginButton}, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, IdleScreen, d.Overlay())

	idle, ok, err := d.FindControl(ctx, app, driver.Selector{ClassName: ClassIdleScreen}, 5*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, d.Click(ctx, idle))
	assert.Equal(t, NoInterstitial, d.Overlay())

	// The trigger fires only once.
	find(t, d, app, IDLoginButton)
}

func TestDriver_ModalOnUnknownItem(t *testing.T) {
	d := newTestDriver(t)
	app := launch(t, d)
	login(t, d, app)

	typeText(t, d, app, IDItemEntry, "000")
	click(t, d, app, IDItemConfirm)
	assert.Equal(t, Modal, d.Overlay())
	assert.Contains(t, d.Message(), "000")

	click(t, d, app, IDModalOK)
	assert.Equal(t, NoInterstitial, d.Overlay())
}

func TestDriver_RejectsWrongCredentials(t *testing.T) {
	d := newTestDriver(t, WithUser("cashier1", "other"))
	app := launch(t, d)
	login(t, d, app)

	assert.Equal(t, "sign_in", d.Screen())
	assert.Equal(t, Modal, d.Overlay())
}

func TestDriver_InsufficientTender(t *testing.T) {
	d := newTestDriver(t)
	app := launch(t, d)
	login(t, d, app)
	typeText(t, d, app, IDItemEntry, "9300675079686")
	click(t, d, app, IDItemConfirm)
	click(t, d, app, IDCashTender)
	typeText(t, d, app, IDTenderAmount, "1")
	click(t, d, app, IDTenderConfirm)

	assert.Equal(t, "tender", d.Screen())
	assert.Equal(t, Modal, d.Overlay())
}

func TestDriver_HiddenAndDisabled(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	app := launch(t, d)

	d.Disable(IDLoginButton)
	c := find(t, d, app, IDLoginButton)
	ok, err := d.WaitFor(ctx, driver.Condition{Control: c, State: driver.StateEnabled}, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = d.WaitFor(ctx, driver.Condition{Control: c, State: driver.StateVisible}, 5*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Error(t, d.Click(ctx, c))

	d.Hide(IDLoginButton)
	_, ok, err = d.FindControl(ctx, app, driver.Selector{AutomationID: IDLoginButton}, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDriver_DelayedControl(t *testing.T) {
	d := newTestDriver(t)
	d.Delay(IDLoginButton, 20*time.Millisecond)
	app := launch(t, d)

	_, ok, err := d.FindControl(context.Background(), app, driver.Selector{AutomationID: IDLoginButton}, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = d.FindControl(context.Background(), app, driver.Selector{AutomationID: IDLoginButton}, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDriver_FaultInjection(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("automation peer crashed")

	d := newTestDriver(t)
	app := launch(t, d)
	d.FailOn(OpClick, IDLoginButton, boom)
	d.FailOn(OpSnapshot, "", boom)

	c := find(t, d, app, IDLoginButton)
	assert.ErrorIs(t, d.Click(ctx, c), boom)

	_, err := d.CaptureSnapshot(ctx, app)
	assert.ErrorIs(t, err, boom)
}

func TestDriver_StaleControl(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	app := launch(t, d)

	c := find(t, d, app, IDLoginButton)
	require.NoError(t, d.Click(ctx, c))

	// The login screen is gone, so the handle no longer resolves.
	assert.Error(t, d.Click(ctx, c))
}

func TestDriver_Snapshot(t *testing.T) {
	d := newTestDriver(t)
	app := launch(t, d)

	data, err := d.CaptureSnapshot(context.Background(), app)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestDriver_CloseTwice(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	app := launch(t, d)

	require.NoError(t, d.Close(ctx, app))
	assert.Error(t, d.Close(ctx, app))
	assert.Equal(t, 2, d.Calls(OpClose))
}

func TestNew_InvalidCatalog(t *testing.T) {
	_, err := New(WithItem("1", "cheap"))
	assert.Error(t, err)
}
