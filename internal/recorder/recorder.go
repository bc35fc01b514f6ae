// File: internal/recorder/recorder.go
// Description: Outcome recorder. Persists the terminal result of an attempt
// and resolves the resource reservation in one place, so the burn policy is
// applied identically no matter which stage the attempt died in.

package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/ledger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Recorder writes successful account credentials to per-platform, per-day
// JSON files and releases ledger reservations according to the result.
type Recorder struct {
	accountsDir string
	ledger      *ledger.Ledger
	logger      *zap.Logger

	// mu serializes the read-modify-write of the accounts file within this
	// process.
	mu sync.Mutex
}

// New builds a recorder over the accounts directory and the ledger.
func New(accountsDir string, ldg *ledger.Ledger, logger *zap.Logger) *Recorder {
	return &Recorder{
		accountsDir: accountsDir,
		ledger:      ldg,
		logger:      logger.Named("recorder"),
	}
}

// Record persists the attempt's result and releases its resource. The
// ledger release happens even when persisting the account fails; losing a
// credential line must not corrupt resource accounting.
func (r *Recorder) Record(ctx context.Context, attempt *schemas.Attempt) error {
	result := attempt.Result
	if result == nil {
		return fmt.Errorf("attempt %s has no result to record", attempt.ID)
	}

	var saveErr error
	if result.Success && result.Account != nil {
		saveErr = r.saveAccount(*result.Account)
		if saveErr != nil {
			r.logger.Error("Failed to persist account credentials.",
				zap.String("attempt_id", attempt.ID),
				zap.Error(saveErr),
			)
		}
	}

	outcome := ledger.Outcome{
		Success: result.Success,
		Burn:    result.BurnResource,
	}
	if err := r.ledger.Release(ctx, attempt.Resource.Number, outcome); err != nil {
		return fmt.Errorf("failed to release resource %s: %w", attempt.Resource.Number, err)
	}

	return saveErr
}

// saveAccount appends one account to the day's export file. The file is a
// JSON array; the write goes through a temp file and rename.
func (r *Recorder) saveAccount(account schemas.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.accountsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create accounts directory: %w", err)
	}

	path := r.outputFile(account.Platform)
	accounts, err := r.loadExisting(path)
	if err != nil {
		return err
	}
	accounts = append(accounts, account)

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write accounts temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace accounts file: %w", err)
	}

	r.logger.Info("Account saved.",
		zap.String("platform", string(account.Platform)),
		zap.String("email", account.Email),
		zap.String("file", path),
	)
	return nil
}

// outputFile names the per-platform, per-day export file.
func (r *Recorder) outputFile(platform schemas.Platform) string {
	name := fmt.Sprintf("%s_accounts_%s.json", platform, time.Now().Format("2006-01-02"))
	return filepath.Join(r.accountsDir, name)
}

func (r *Recorder) loadExisting(path string) ([]schemas.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var accounts []schemas.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		// Never clobber a file we cannot parse.
		return nil, fmt.Errorf("accounts file %s is corrupted: %w", path, err)
	}
	return accounts, nil
}
