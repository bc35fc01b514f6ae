// File: internal/workflow/flow_airbnb.go
// Description: Airbnb platform flow. Translates each workflow stage into
// concrete page interactions against Airbnb's modal signup surface. All page
// knowledge (selectors, error phrasing, the country select value format)
// lives here; the engine never sees a selector.

package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/identity"
)

const airbnbBaseURL = "https://www.airbnb.com"

// Selectors for the signup modal. data-testid attributes are the most stable
// anchors Airbnb exposes; attribute fallbacks cover localized variants.
const (
	selSignupModal   = `[data-testid="login-pane"]`
	selPhoneInput    = `input[data-testid="login-signup-phonenumber"]`
	selCountrySelect = `select[data-testid="login-signup-countrycode"]`
	selSubmitButton  = `button[data-testid="signup-login-submit-btn"]`

	selOTPInput   = `input[autocomplete="one-time-code"]`
	selOTPError   = `[data-testid="otp-error"]`
	selVerifyBtn  = `button[type="submit"]`
	selProfileNav = `button[data-testid="cypress-headernav-profile"]`

	selFirstName = `input[autocomplete="given-name"]`
	selLastName  = `input[autocomplete="family-name"]`
	selEmail     = `input[type="email"]`
	selPassword  = `input[type="password"]`
	selBirthDate = `input[name="birthdate"]`
)

// rejectionPhrases mark the platform refusing the number outright. Matched
// case-insensitively against the page body.
var rejectionPhrases = []string{
	"max confirmation attempts",
	"try again in 24 hours",
	"isn't supported",
	"sign up using a different method",
	"too many attempts",
	"temporarily blocked",
	"couldn't send a code",
	"unable to send",
	"phone number is invalid",
}

// otpDispatchedPhrases confirm the SMS actually went out.
var otpDispatchedPhrases = []string{
	"enter the code we've sent via sms",
	"enter the code we sent over sms",
	"sent via sms to +",
}

// challengeSelectors identify anti-bot frames Airbnb injects.
var challengeSelectors = []struct {
	selector string
	kind     string
}{
	{`iframe[src*="arkoselabs"]`, "funcaptcha"},
	{`iframe[src*="funcaptcha"]`, "funcaptcha"},
	{`iframe[src*="recaptcha"]`, "recaptcha"},
	{`[data-testid="captcha"]`, "captcha"},
}

// AirbnbFlow drives Airbnb's phone-first signup modal.
type AirbnbFlow struct {
	drv    schemas.Driver
	logger *zap.Logger
}

var _ schemas.PlatformFlow = (*AirbnbFlow)(nil)

// NewAirbnbFlow binds a flow to one attempt's driver.
func NewAirbnbFlow(drv schemas.Driver, logger *zap.Logger) *AirbnbFlow {
	return &AirbnbFlow{drv: drv, logger: logger.Named("airbnb")}
}

// Platform implements schemas.PlatformFlow.
func (f *AirbnbFlow) Platform() schemas.Platform { return schemas.PlatformAirbnb }

// OpenSignup implements schemas.PlatformFlow. The signup surface is a modal
// on the home page; recent Airbnb shows the phone form as the default method.
func (f *AirbnbFlow) OpenSignup(ctx context.Context) error {
	if err := f.drv.Navigate(ctx, airbnbBaseURL+"/signup_login"); err != nil {
		return err
	}
	if err := f.drv.WaitVisible(ctx, selSignupModal, 15*time.Second); err != nil {
		return err
	}
	return f.drv.WaitVisible(ctx, selPhoneInput, 10*time.Second)
}

// EnterPhone implements schemas.PlatformFlow. The country select takes values
// of the form "<dialcode><ISO>" (e.g. 380UA); the phone field takes the
// national number without the dial code.
func (f *AirbnbFlow) EnterPhone(ctx context.Context, res schemas.Resource) error {
	iso := identity.ProfileFor(res.CountryCode).CountryISO
	selectValue := res.CountryCode + strings.ToUpper(iso)
	if err := f.drv.SetValue(ctx, selCountrySelect, selectValue); err != nil {
		return err
	}

	national := strings.TrimPrefix(res.Number, res.CountryCode)
	f.logger.Debug("Entering phone number.",
		zap.String("country_value", selectValue),
		zap.Int("national_digits", len(national)),
	)
	return f.drv.Fill(ctx, selPhoneInput, national)
}

// Submit implements schemas.PlatformFlow. After the click it polls the page
// until one of three outcomes shows up: the OTP screen (dispatch confirmed),
// a rejection message (ErrResourceRejected), or a challenge frame (left for
// the challenge stage to resolve).
func (f *AirbnbFlow) Submit(ctx context.Context) error {
	if err := f.drv.Click(ctx, selSubmitButton); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		body, err := f.drv.Text(ctx, "body")
		if err == nil {
			lower := strings.ToLower(body)
			for _, phrase := range rejectionPhrases {
				if strings.Contains(lower, phrase) {
					return fmt.Errorf("%w: %q", schemas.ErrResourceRejected, phrase)
				}
			}
			for _, phrase := range otpDispatchedPhrases {
				if strings.Contains(lower, phrase) {
					f.logger.Debug("OTP dispatch confirmed.")
					return nil
				}
			}
		}
		if f.visible(ctx, selOTPInput) {
			return nil
		}
		for _, c := range challengeSelectors {
			if f.visible(ctx, c.selector) {
				f.logger.Debug("Challenge frame appeared after submit.")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return schemas.Transient(fmt.Errorf("no response to submit: %w", ctx.Err()))
		case <-ticker.C:
		}
	}
}

// DetectChallenge implements schemas.PlatformFlow.
func (f *AirbnbFlow) DetectChallenge(ctx context.Context) (*schemas.ChallengeDescriptor, error) {
	for _, c := range challengeSelectors {
		if f.visible(ctx, c.selector) {
			return &schemas.ChallengeDescriptor{
				Platform: schemas.PlatformAirbnb,
				Kind:     c.kind,
				PageURL:  airbnbBaseURL,
			}, nil
		}
	}
	return nil, nil
}

// SubmitChallengeToken implements schemas.PlatformFlow. The solver token is
// injected into the verification field the challenge frame reads.
func (f *AirbnbFlow) SubmitChallengeToken(ctx context.Context, token string) error {
	if err := f.drv.SetValue(ctx, `input[name="fc-token"]`, token); err != nil {
		return err
	}
	return f.drv.Click(ctx, selSubmitButton)
}

// SubmitOTP implements schemas.PlatformFlow.
func (f *AirbnbFlow) SubmitOTP(ctx context.Context, code string) error {
	if err := f.drv.Fill(ctx, selOTPInput, code); err != nil {
		return err
	}
	if err := f.drv.Click(ctx, selVerifyBtn); err != nil {
		return err
	}

	// A wrong code surfaces inline within a few seconds.
	if f.visible(ctx, selOTPError) {
		msg, _ := f.drv.Text(ctx, selOTPError)
		return fmt.Errorf("verification code rejected: %s", msg)
	}
	return nil
}

// FillProfile implements schemas.PlatformFlow. Completes the post-OTP
// profile form with the generated identity.
func (f *AirbnbFlow) FillProfile(ctx context.Context, id schemas.Credentials) error {
	if err := f.drv.WaitVisible(ctx, selFirstName, 15*time.Second); err != nil {
		return err
	}

	fields := []struct {
		selector string
		value    string
	}{
		{selFirstName, id.FirstName},
		{selLastName, id.LastName},
		{selBirthDate, id.BirthDate.Format("01/02/2006")},
		{selEmail, id.Email},
	}
	for _, field := range fields {
		if err := f.drv.Fill(ctx, field.selector, field.value); err != nil {
			return err
		}
	}
	// Phone signups do not always ask for a password.
	if f.visible(ctx, selPassword) {
		if err := f.drv.Fill(ctx, selPassword, id.Password); err != nil {
			return err
		}
	}

	return f.drv.Click(ctx, selSubmitButton)
}

// VerifySuccess implements schemas.PlatformFlow. Success means the modal is
// gone and the page shows an authenticated navigation header.
func (f *AirbnbFlow) VerifySuccess(ctx context.Context) error {
	if err := f.drv.WaitVisible(ctx, selProfileNav, 20*time.Second); err != nil {
		body, terr := f.drv.Text(ctx, "body")
		if terr == nil && strings.Contains(strings.ToLower(body), "you're all set") {
			return nil
		}
		return fmt.Errorf("account not confirmed: %w", err)
	}
	return nil
}

// visible probes a selector with a short deadline. Absence is not an error.
func (f *AirbnbFlow) visible(ctx context.Context, selector string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return f.drv.WaitVisible(probeCtx, selector, 2*time.Second) == nil
}
