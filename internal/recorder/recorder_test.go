// File: internal/recorder/recorder_test.go
package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/ledger"
)

func newFixture(t *testing.T) (*Recorder, *ledger.Ledger, string) {
	t.Helper()
	dir := t.TempDir()

	poolPath := filepath.Join(dir, "pool.txt")
	require.NoError(t, os.WriteFile(poolPath, []byte("380501111111\n380502222222\n"), 0o644))

	store := ledger.NewFileStore(filepath.Join(dir, "ledger.json"), schemas.PlatformAirbnb)
	ldg, err := ledger.New(context.Background(), store, schemas.PlatformAirbnb, poolPath, 30*time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)

	accountsDir := filepath.Join(dir, "accounts")
	return New(accountsDir, ldg, zaptest.NewLogger(t)), ldg, accountsDir
}

func successfulAttempt(t *testing.T, ldg *ledger.Ledger) *schemas.Attempt {
	t.Helper()
	res, err := ldg.Allocate(context.Background())
	require.NoError(t, err)

	attempt := schemas.NewAttempt(schemas.PlatformAirbnb, res, schemas.Credentials{
		FirstName: "Olena", LastName: "Koval",
		Email: "olena@example.com", Password: "pw",
	})
	attempt.Result = &schemas.Result{
		Success: true,
		Account: &schemas.Account{
			Platform:  schemas.PlatformAirbnb,
			Email:     "olena@example.com",
			Password:  "pw",
			FullName:  "Olena Koval",
			Phone:     res.Formatted(),
			CreatedAt: time.Now(),
		},
		CompletedAt: time.Now(),
	}
	return attempt
}

func TestRecordSuccessSavesAccountAndConsumesResource(t *testing.T) {
	rec, ldg, accountsDir := newFixture(t)
	attempt := successfulAttempt(t, ldg)

	require.NoError(t, rec.Record(context.Background(), attempt))

	name := "airbnb_accounts_" + time.Now().Format("2006-01-02") + ".json"
	data, err := os.ReadFile(filepath.Join(accountsDir, name))
	require.NoError(t, err)

	var accounts []schemas.Account
	require.NoError(t, jsoniter.Unmarshal(data, &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "olena@example.com", accounts[0].Email)
	assert.Equal(t, "+380501111111", accounts[0].Phone)

	stats := ldg.Stats()
	assert.Equal(t, 1, stats.Consumed)
	assert.Equal(t, 1, stats.Successes)
}

func TestRecordAppendsToExistingFile(t *testing.T) {
	rec, ldg, accountsDir := newFixture(t)

	require.NoError(t, rec.Record(context.Background(), successfulAttempt(t, ldg)))
	second := successfulAttempt(t, ldg)
	second.Result.Account.Email = "petro@example.com"
	require.NoError(t, rec.Record(context.Background(), second))

	name := "airbnb_accounts_" + time.Now().Format("2006-01-02") + ".json"
	data, err := os.ReadFile(filepath.Join(accountsDir, name))
	require.NoError(t, err)

	var accounts []schemas.Account
	require.NoError(t, jsoniter.Unmarshal(data, &accounts))
	require.Len(t, accounts, 2)
	assert.Equal(t, "petro@example.com", accounts[1].Email)
}

func TestRecordFailureReleasesWithoutSaving(t *testing.T) {
	rec, ldg, accountsDir := newFixture(t)

	res, err := ldg.Allocate(context.Background())
	require.NoError(t, err)

	attempt := schemas.NewAttempt(schemas.PlatformAirbnb, res, schemas.Credentials{})
	attempt.Result = &schemas.Result{
		FailedStage: schemas.StageNavigate,
		Class:       schemas.FailureTransient,
		Diagnostic:  "navigation failed",
	}

	require.NoError(t, rec.Record(context.Background(), attempt))

	entries, _ := os.ReadDir(accountsDir)
	assert.Empty(t, entries)

	stats := ldg.Stats()
	assert.Equal(t, 2, stats.Available, "non-burn failure returns the number to the pool")
}

func TestRecordBurnFailureConsumesResource(t *testing.T) {
	rec, ldg, _ := newFixture(t)

	res, err := ldg.Allocate(context.Background())
	require.NoError(t, err)

	attempt := schemas.NewAttempt(schemas.PlatformAirbnb, res, schemas.Credentials{})
	attempt.Result = &schemas.Result{
		FailedStage:  schemas.StageOtpWait,
		Class:        schemas.FailureFatal,
		Diagnostic:   "timed out waiting for otp code",
		BurnResource: true,
	}

	require.NoError(t, rec.Record(context.Background(), attempt))

	stats := ldg.Stats()
	assert.Equal(t, 1, stats.Consumed)
	assert.Equal(t, 0, stats.Successes)
}

func TestRecordWithoutResultFails(t *testing.T) {
	rec, ldg, _ := newFixture(t)

	res, err := ldg.Allocate(context.Background())
	require.NoError(t, err)

	attempt := schemas.NewAttempt(schemas.PlatformAirbnb, res, schemas.Credentials{})
	assert.Error(t, rec.Record(context.Background(), attempt))
}
