// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/config"
	"github.com/xkilldash9x/enroll-cli/internal/egress"
	"github.com/xkilldash9x/enroll-cli/internal/identity"
	"github.com/xkilldash9x/enroll-cli/internal/ledger"
	"github.com/xkilldash9x/enroll-cli/internal/recorder"
	"github.com/xkilldash9x/enroll-cli/internal/session"
	"github.com/xkilldash9x/enroll-cli/internal/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// failingProvisioner makes every session acquisition fail before a browser
// is ever launched, keeping the orchestrator tests hermetic.
type failingProvisioner struct{}

func (failingProvisioner) CreateProfile(ctx context.Context, p schemas.PresentationProfile, e schemas.EgressDescriptor) (schemas.ProfileHandle, error) {
	return schemas.ProfileHandle{}, fmt.Errorf("%w: launcher unavailable", schemas.ErrProvisioning)
}

func (failingProvisioner) StopProfile(ctx context.Context, id string) error { return nil }

type stubOTP struct{}

func (stubOTP) Code(ctx context.Context, number string) (string, error) { return "123456", nil }

func newFixture(t *testing.T, poolNumbers ...string) (*Orchestrator, *ledger.Ledger) {
	t.Helper()
	dir := t.TempDir()

	content := ""
	for _, n := range poolNumbers {
		content += n + "\n"
	}
	poolPath := filepath.Join(dir, "pool.txt")
	require.NoError(t, os.WriteFile(poolPath, []byte(content), 0o644))

	cfg := config.NewDefaultConfig()
	cfg.Run.Platform = "airbnb"
	cfg.Workflow.AttemptDelay = time.Millisecond
	cfg.Workflow.AttemptTimeout = 5 * time.Second
	cfg.Paths.AccountsDir = filepath.Join(dir, "accounts")

	logger := zaptest.NewLogger(t)
	store := ledger.NewFileStore(filepath.Join(dir, "ledger.json"), schemas.PlatformAirbnb)
	ldg, err := ledger.New(context.Background(), store, schemas.PlatformAirbnb, poolPath, 30*time.Minute, logger)
	require.NoError(t, err)

	sessions := session.NewManager(cfg, egress.NewSelector(cfg.Proxy), failingProvisioner{}, logger)
	engine := workflow.NewEngine(cfg.Workflow, cfg.OTP, stubOTP{}, nil, logger)
	rec := recorder.New(cfg.Paths.AccountsDir, ldg, logger)

	orch, err := New(cfg, ldg, sessions, engine, rec, identity.NewGenerator(1), logger)
	require.NoError(t, err)
	return orch, ldg
}

func TestNewRejectsNilDependencies(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestRunOneEmptyPool(t *testing.T) {
	orch, _ := newFixture(t)

	_, err := orch.RunOne(context.Background())
	assert.ErrorIs(t, err, schemas.ErrNoResource)
}

func TestRunOneSessionFailureReleasesResourceUnburned(t *testing.T) {
	orch, ldg := newFixture(t, "380501111111")

	result, err := orch.RunOne(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.False(t, result.Success)
	assert.Equal(t, schemas.StageInit, result.FailedStage)
	assert.Equal(t, schemas.FailureProvisioning, result.Class)

	// The number went back to the pool: no OTP was ever dispatched.
	stats := ldg.Stats()
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, 0, stats.Consumed)
}

func TestRunBatchStopsOnExhaustion(t *testing.T) {
	orch, _ := newFixture(t)

	summary, err := orch.RunBatch(context.Background(), 5)
	require.NoError(t, err)

	assert.True(t, summary.Exhausted)
	assert.Equal(t, 5, summary.Requested)
	assert.Equal(t, 0, summary.Attempted)
}

func TestRunBatchCountsFailures(t *testing.T) {
	orch, ldg := newFixture(t, "380501111111", "380502222222")

	summary, err := orch.RunBatch(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.False(t, summary.Exhausted)

	// Every failed attempt resolved its reservation.
	stats := ldg.Stats()
	assert.Equal(t, 0, stats.Reserved)
	assert.Equal(t, 2, stats.Available)
}

func TestRunBatchHonorsCancellation(t *testing.T) {
	orch, _ := newFixture(t, "380501111111", "380502222222")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := orch.RunBatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Attempted)
}
