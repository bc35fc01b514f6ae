// File: api/schemas/schemas.go
// Description: Shared domain types for the signup orchestration engine. These
// are consumed by every internal package and by external integrations, so they
// live outside internal/.

package schemas

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Platform identifies a target signup platform.
type Platform string

const (
	PlatformAirbnb Platform = "airbnb"
)

// String implements fmt.Stringer.
func (p Platform) String() string { return string(p) }

// ParsePlatform validates a platform name supplied by the CLI.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(s)) {
	case PlatformAirbnb:
		return PlatformAirbnb, nil
	default:
		return "", fmt.Errorf("unsupported platform %q", s)
	}
}

// Stage is one ordered step of the signup workflow state machine.
type Stage string

const (
	StageInit           Stage = "init"
	StageNavigate       Stage = "navigate"
	StageFillForm       Stage = "fill_form"
	StageSubmit         Stage = "submit"
	StageChallengeCheck Stage = "challenge_check"
	StageOtpWait        Stage = "otp_wait"
	StageOtpSubmit      Stage = "otp_submit"
	StageFinalize       Stage = "finalize"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// ResourceState is the allocation state of a phone resource.
type ResourceState string

const (
	ResourceAvailable ResourceState = "available"
	ResourceReserved  ResourceState = "reserved"
	ResourceConsumed  ResourceState = "consumed"
)

// Resource is an allocatable phone number. A resource is used at most once
// per successful signup; a Consumed resource never returns to the pool.
type Resource struct {
	// Number is the full phone number including the dial prefix, digits only.
	Number string `json:"number"`
	// CountryCode is the dial prefix derived from the number (e.g. "380").
	CountryCode string        `json:"country_code"`
	State       ResourceState `json:"state"`
	ChangedAt   time.Time     `json:"changed_at"`
	// LastOutcome records the result of the most recent use: "success",
	// "failure" or "" when the resource has never been used.
	LastOutcome string `json:"last_outcome,omitempty"`
}

// Formatted renders the number in E.164 style for display and for the
// remote form.
func (r Resource) Formatted() string { return "+" + r.Number }

// UsageRecord is the persisted ledger projection of a resource's usage.
// The ledger is the durable source of truth read at startup.
type UsageRecord struct {
	Number   string        `json:"number"`
	Platform Platform      `json:"platform"`
	State    ResourceState `json:"state"`
	UsedAt   time.Time     `json:"used_at"`
	Success  bool          `json:"success"`
}

// PresentationProfile describes the locale/timezone/viewport characteristics
// a session presents. It is derived deterministically from a resource's
// country code so the browser identity matches the phone.
type PresentationProfile struct {
	CountryISO     string  `json:"country_iso"`
	Timezone       string  `json:"timezone"`
	Locale         string  `json:"locale"`
	AcceptLanguage string  `json:"accept_language"`
	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	DeviceScale    float64 `json:"device_scale"`
	// UserAgentFamily selects the UA class ("chrome-win", "chrome-mac").
	UserAgentFamily string `json:"user_agent_family"`
}

// EgressDescriptor is a selected network exit point for one session.
type EgressDescriptor struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// URL renders the egress as an http proxy URL without credentials.
func (e EgressDescriptor) URL() string {
	return fmt.Sprintf("http://%s:%d", e.Host, e.Port)
}

// StageTransition is one entry of an attempt's transition log.
type StageTransition struct {
	Stage Stage     `json:"stage"`
	At    time.Time `json:"at"`
	// Retry is the retry index within the stage (0 for the first try).
	Retry int    `json:"retry,omitempty"`
	Note  string `json:"note,omitempty"`
	// CaptureRef references a diagnostic capture (screenshot path) taken at
	// this transition, when the driver supports it.
	CaptureRef string `json:"capture_ref,omitempty"`
}

// Credentials is the generated identity used to register the account.
type Credentials struct {
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	BirthDate time.Time `json:"birth_date"`
}

// FullName returns the display name for profile forms.
func (c Credentials) FullName() string { return c.FirstName + " " + c.LastName }

// Attempt is one execution of the signup workflow for one resource.
// All attempt state is exclusively owned by the executing task.
type Attempt struct {
	ID       string      `json:"id"`
	Platform Platform    `json:"platform"`
	Resource Resource    `json:"resource"`
	Identity Credentials `json:"identity"`

	Stage       Stage             `json:"stage"`
	Transitions []StageTransition `json:"transitions"`
	StartedAt   time.Time         `json:"started_at"`

	Result *Result `json:"result,omitempty"`
}

// NewAttempt creates an attempt in its initial stage.
func NewAttempt(platform Platform, res Resource, id Credentials) *Attempt {
	return &Attempt{
		ID:        uuid.New().String(),
		Platform:  platform,
		Resource:  res,
		Identity:  id,
		Stage:     StageInit,
		StartedAt: time.Now(),
	}
}

// Transition records a stage transition with a timestamp.
func (a *Attempt) Transition(stage Stage, retry int, note, captureRef string) {
	a.Stage = stage
	a.Transitions = append(a.Transitions, StageTransition{
		Stage:      stage,
		At:         time.Now(),
		Retry:      retry,
		Note:       note,
		CaptureRef: captureRef,
	})
}

// RetryCount returns how many retry entries the log holds for a stage.
func (a *Attempt) RetryCount(stage Stage) int {
	n := 0
	for _, t := range a.Transitions {
		if t.Stage == stage && t.Retry > 0 {
			n++
		}
	}
	return n
}

// Account holds the credentials of a successfully created account as
// persisted by the outcome recorder.
type Account struct {
	Platform  Platform  `json:"platform"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is the immutable terminal value of an attempt.
type Result struct {
	Success bool `json:"success"`
	// Account is populated only on success.
	Account *Account `json:"account,omitempty"`

	// FailedStage, Class and Diagnostic describe a failure.
	FailedStage Stage        `json:"failed_stage,omitempty"`
	Class       FailureClass `json:"class,omitempty"`
	Diagnostic  string       `json:"diagnostic,omitempty"`

	// BurnResource reports whether the phone resource must stay Consumed
	// despite the failure (an OTP was dispatched to it, or the remote
	// service rejected the number outright).
	BurnResource bool `json:"burn_resource,omitempty"`

	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Summary renders a one-line human summary for batch reporting.
func (r *Result) Summary() string {
	if r.Success {
		return fmt.Sprintf("success (%s) in %s", r.Account.Email, r.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("failed at %s (%s): %s", r.FailedStage, r.Class, r.Diagnostic)
}
