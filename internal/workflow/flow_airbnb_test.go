// File: internal/workflow/flow_airbnb_test.go
package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
)

// scriptedDriver plays back a canned page state: which selectors are
// visible, what the body reads, and records every interaction.
type scriptedDriver struct {
	mu       sync.Mutex
	visible  map[string]bool
	bodyText string

	navigations []string
	fills       map[string]string
	setValues   map[string]string
	clicks      []string
}

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{
		visible:   make(map[string]bool),
		fills:     make(map[string]string),
		setValues: make(map[string]string),
	}
}

func (d *scriptedDriver) setBody(text string) {
	d.mu.Lock()
	d.bodyText = text
	d.mu.Unlock()
}

func (d *scriptedDriver) show(selectors ...string) {
	d.mu.Lock()
	for _, s := range selectors {
		d.visible[s] = true
	}
	d.mu.Unlock()
}

func (d *scriptedDriver) Navigate(ctx context.Context, url string) error {
	d.navigations = append(d.navigations, url)
	return nil
}

func (d *scriptedDriver) Fill(ctx context.Context, sel, val string) error {
	d.mu.Lock()
	d.fills[sel] = val
	d.mu.Unlock()
	return nil
}

func (d *scriptedDriver) SetValue(ctx context.Context, sel, val string) error {
	d.mu.Lock()
	d.setValues[sel] = val
	d.mu.Unlock()
	return nil
}

func (d *scriptedDriver) Click(ctx context.Context, sel string) error {
	d.mu.Lock()
	d.clicks = append(d.clicks, sel)
	d.mu.Unlock()
	return nil
}

func (d *scriptedDriver) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	d.mu.Lock()
	ok := d.visible[sel]
	d.mu.Unlock()
	if ok {
		return nil
	}
	return schemas.Transient(context.DeadlineExceeded)
}

func (d *scriptedDriver) Text(ctx context.Context, sel string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sel == "body" {
		return d.bodyText, nil
	}
	return "", nil
}

func (d *scriptedDriver) Capture(ctx context.Context, label string) (string, error) { return "", nil }
func (d *scriptedDriver) Close(ctx context.Context) error                           { return nil }

func testResource() schemas.Resource {
	return schemas.Resource{Number: "380501234567", CountryCode: "380"}
}

func TestAirbnbEnterPhoneSplitsCountryAndNationalNumber(t *testing.T) {
	drv := newScriptedDriver()
	flow := NewAirbnbFlow(drv, zaptest.NewLogger(t))

	require.NoError(t, flow.EnterPhone(context.Background(), testResource()))

	assert.Equal(t, "380UA", drv.setValues[selCountrySelect])
	assert.Equal(t, "501234567", drv.fills[selPhoneInput])
}

func TestAirbnbSubmitDetectsDispatch(t *testing.T) {
	drv := newScriptedDriver()
	drv.setBody("Enter the code we've sent via SMS to +380 50 123 4567")
	flow := NewAirbnbFlow(drv, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, flow.Submit(ctx))
	assert.Equal(t, []string{selSubmitButton}, drv.clicks)
}

func TestAirbnbSubmitDetectsRejection(t *testing.T) {
	drv := newScriptedDriver()
	drv.setBody("This phone number isn't supported. Sign up using a different method.")
	flow := NewAirbnbFlow(drv, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := flow.Submit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrResourceRejected)
	assert.Equal(t, schemas.FailureFatal, schemas.Classify(err))
}

func TestAirbnbSubmitTimesOutTransiently(t *testing.T) {
	drv := newScriptedDriver()
	drv.setBody("loading...")
	flow := NewAirbnbFlow(drv, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := flow.Submit(ctx)
	require.Error(t, err)
	assert.Equal(t, schemas.FailureTransient, schemas.Classify(err))
}

func TestAirbnbDetectChallenge(t *testing.T) {
	drv := newScriptedDriver()
	flow := NewAirbnbFlow(drv, zaptest.NewLogger(t))

	challenge, err := flow.DetectChallenge(context.Background())
	require.NoError(t, err)
	assert.Nil(t, challenge)

	drv.show(`iframe[src*="arkoselabs"]`)
	challenge, err = flow.DetectChallenge(context.Background())
	require.NoError(t, err)
	require.NotNil(t, challenge)
	assert.Equal(t, "funcaptcha", challenge.Kind)
	assert.Equal(t, schemas.PlatformAirbnb, challenge.Platform)
}

func TestAirbnbSubmitOTP(t *testing.T) {
	drv := newScriptedDriver()
	flow := NewAirbnbFlow(drv, zaptest.NewLogger(t))

	require.NoError(t, flow.SubmitOTP(context.Background(), "123456"))
	assert.Equal(t, "123456", drv.fills[selOTPInput])
	assert.Contains(t, drv.clicks, selVerifyBtn)
}

func TestAirbnbSubmitOTPWrongCode(t *testing.T) {
	drv := newScriptedDriver()
	drv.show(selOTPError)
	flow := NewAirbnbFlow(drv, zaptest.NewLogger(t))

	err := flow.SubmitOTP(context.Background(), "000000")
	assert.Error(t, err)
}

func TestAirbnbFillProfile(t *testing.T) {
	drv := newScriptedDriver()
	drv.show(selFirstName, selPassword)
	flow := NewAirbnbFlow(drv, zaptest.NewLogger(t))

	creds := schemas.Credentials{
		FirstName: "Olena",
		LastName:  "Koval",
		Email:     "olena@example.com",
		Password:  "pw-secret",
		BirthDate: time.Date(1995, 4, 12, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, flow.FillProfile(context.Background(), creds))

	assert.Equal(t, "Olena", drv.fills[selFirstName])
	assert.Equal(t, "Koval", drv.fills[selLastName])
	assert.Equal(t, "04/12/1995", drv.fills[selBirthDate])
	assert.Equal(t, "olena@example.com", drv.fills[selEmail])
	assert.Equal(t, "pw-secret", drv.fills[selPassword])
	assert.Contains(t, drv.clicks, selSubmitButton)
}

func TestAirbnbVerifySuccess(t *testing.T) {
	drv := newScriptedDriver()
	flow := NewAirbnbFlow(drv, zaptest.NewLogger(t))

	err := flow.VerifySuccess(context.Background())
	assert.Error(t, err)

	drv.show(selProfileNav)
	assert.NoError(t, flow.VerifySuccess(context.Background()))
}

func TestFlowFor(t *testing.T) {
	drv := newScriptedDriver()
	flow, err := FlowFor(schemas.PlatformAirbnb, drv, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, schemas.PlatformAirbnb, flow.Platform())

	_, err = FlowFor(schemas.Platform("myspace"), drv, zaptest.NewLogger(t))
	assert.Error(t, err)
}
