// File: api/schemas/interfaces.go
// Description: Contracts for the external collaborators the engine sequences.
// The engine owns timing, retries and resource safety; the implementations
// behind these interfaces own page logic, provisioning and human interaction.

package schemas

import (
	"context"
	"time"
)

// Driver is the browser-automation collaborator bound to one session. Every
// call returns a classified error on failure; the workflow engine decides
// whether to retry.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	// SetValue assigns an element's value directly, bypassing key events.
	// Used for native selects and hidden token fields.
	SetValue(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// WaitVisible blocks until the selector is visible or the timeout lapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Text extracts the text content of the first node matching selector.
	Text(ctx context.Context, selector string) (string, error)
	// Capture stores a diagnostic screenshot and returns a reference to it.
	// Capture failures are reported but never fail a stage.
	Capture(ctx context.Context, label string) (string, error)
	// Close releases the driver handle. Safe to call more than once.
	Close(ctx context.Context) error
}

// ProfileHandle identifies a remotely provisioned browser profile.
type ProfileHandle struct {
	// ID is the provider-side profile identifier, used to stop the profile.
	ID string
	// Endpoint is the DevTools connection endpoint the driver attaches to.
	Endpoint string
}

// Provisioner is the optional external browser-profile provisioning
// collaborator. Both calls are idempotent-safe to retry on timeout.
type Provisioner interface {
	CreateProfile(ctx context.Context, profile PresentationProfile, egress EgressDescriptor) (ProfileHandle, error)
	// StopProfile must be attempted even if the driver attach that followed
	// CreateProfile failed.
	StopProfile(ctx context.Context, profileID string) error
}

// ChallengeDescriptor carries what a platform flow observed about an
// anti-bot challenge. Solving is out of scope; only the hook contract is.
type ChallengeDescriptor struct {
	Platform Platform
	Kind     string
	PageURL  string
	SiteKey  string
}

// CaptchaSolver is the optional challenge-solving hook.
type CaptchaSolver interface {
	// Solve returns a solution token, or ErrChallengeUnsolvable.
	Solve(ctx context.Context, challenge ChallengeDescriptor) (string, error)
}

// OTPSource supplies the one-time code sent to a resource. Implementations
// are either an interactive prompt or an asynchronous callback; both must
// honor ctx cancellation.
type OTPSource interface {
	// Code blocks until a code is available, the operator skips
	// (ErrOTPSkipped), or ctx expires (ErrOTPTimeout).
	Code(ctx context.Context, resourceNumber string) (string, error)
}

// PlatformFlow is the per-platform capability selected once at attempt
// creation. Implementations translate each stage into concrete driver
// interactions; the workflow engine never re-dispatches on platform.
type PlatformFlow interface {
	Platform() Platform
	// OpenSignup navigates to the signup surface and waits for the form.
	OpenSignup(ctx context.Context) error
	// EnterPhone fills the phone field and the generated identity fields the
	// platform requests up front.
	EnterPhone(ctx context.Context, res Resource) error
	// Submit requests the OTP dispatch. Returns ErrResourceRejected when the
	// platform refuses the number.
	Submit(ctx context.Context) error
	// DetectChallenge reports whether an anti-bot challenge gates progress.
	DetectChallenge(ctx context.Context) (*ChallengeDescriptor, error)
	// SubmitChallengeToken applies a solver token to the page.
	SubmitChallengeToken(ctx context.Context, token string) error
	// SubmitOTP enters and confirms the received code.
	SubmitOTP(ctx context.Context, code string) error
	// FillProfile completes the post-OTP profile form.
	FillProfile(ctx context.Context, id Credentials) error
	// VerifySuccess confirms the account exists before Completed is declared.
	VerifySuccess(ctx context.Context) error
}

// ProfileGenerator produces the fake identity used for one attempt.
// Generation internals are out of scope for the engine; a minimal default
// implementation is provided for the CLI wiring.
type ProfileGenerator interface {
	Generate() Credentials
}
