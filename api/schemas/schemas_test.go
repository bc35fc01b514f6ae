// File: api/schemas/schemas_test.go
package schemas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("airbnb")
	require.NoError(t, err)
	assert.Equal(t, PlatformAirbnb, p)

	p, err = ParsePlatform("AIRBNB")
	require.NoError(t, err)
	assert.Equal(t, PlatformAirbnb, p)

	_, err = ParsePlatform("myspace")
	assert.Error(t, err)
}

func TestResourceFormatted(t *testing.T) {
	res := Resource{Number: "380501234567"}
	assert.Equal(t, "+380501234567", res.Formatted())
}

func TestAttemptTransitions(t *testing.T) {
	res := Resource{Number: "380501234567", CountryCode: "380"}
	attempt := NewAttempt(PlatformAirbnb, res, Credentials{FirstName: "Olena", LastName: "Koval"})

	require.NotEmpty(t, attempt.ID)
	assert.Equal(t, StageInit, attempt.Stage)

	attempt.Transition(StageNavigate, 0, "", "")
	attempt.Transition(StageFillForm, 0, "", "")
	attempt.Transition(StageFillForm, 1, "retry after: timeout", "")
	attempt.Transition(StageFillForm, 2, "retry after: timeout", "/tmp/cap.png")

	assert.Equal(t, StageFillForm, attempt.Stage)
	assert.Len(t, attempt.Transitions, 4)
	assert.Equal(t, 2, attempt.RetryCount(StageFillForm))
	assert.Equal(t, 0, attempt.RetryCount(StageNavigate))
	assert.Equal(t, "/tmp/cap.png", attempt.Transitions[3].CaptureRef)
}

func TestCredentialsFullName(t *testing.T) {
	c := Credentials{FirstName: "Olena", LastName: "Koval"}
	assert.Equal(t, "Olena Koval", c.FullName())
}

func TestResultSummary(t *testing.T) {
	success := &Result{
		Success:  true,
		Account:  &Account{Email: "olena@example.com"},
		Duration: 90 * time.Second,
	}
	assert.Contains(t, success.Summary(), "olena@example.com")

	failure := &Result{
		FailedStage: StageOtpWait,
		Class:       FailureFatal,
		Diagnostic:  "timed out waiting for otp code",
	}
	summary := failure.Summary()
	assert.Contains(t, summary, string(StageOtpWait))
	assert.Contains(t, summary, string(FailureFatal))
}
