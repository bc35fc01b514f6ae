// File: internal/ledger/ledger.go
// Description: The resource ledger is the single source of truth for phone
// allocation. Allocation is an atomic check-and-mark: the in-process mutex
// serializes concurrent attempts, and the durable store write completes
// before a resource is handed out, so no two attempts can ever hold the same
// reservation.

package ledger

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/identity"
)

// Outcome describes how an attempt released its resource.
type Outcome struct {
	Success bool
	// Burn keeps the resource Consumed on failure (OTP already dispatched,
	// or the platform rejected the number).
	Burn bool
}

// Stats summarizes pool usage for reporting.
type Stats struct {
	Platform  schemas.Platform
	Total     int
	Available int
	Reserved  int
	Consumed  int
	Successes int
}

// SuccessRate returns the share of consumed resources that succeeded.
func (s Stats) SuccessRate() float64 {
	if s.Consumed == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Consumed) * 100
}

// Ledger tracks the allocation state of every resource in the pool.
type Ledger struct {
	platform schemas.Platform
	store    Store
	logger   *zap.Logger

	mu sync.Mutex
	// pool preserves file order; Allocate scans it front to back.
	pool []*schemas.Resource
	// byNumber indexes pool entries.
	byNumber map[string]*schemas.Resource
}

// New builds a ledger from the pool file and the durable store, reconciling
// persisted usage state and reclaiming stale reservations older than
// staleAge (crash recovery: a Reserved entry with no matching release).
func New(ctx context.Context, store Store, platform schemas.Platform, poolPath string, staleAge time.Duration, logger *zap.Logger) (*Ledger, error) {
	numbers, err := loadPool(poolPath)
	if err != nil {
		return nil, err
	}

	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger store: %w", err)
	}

	l := &Ledger{
		platform: platform,
		store:    store,
		logger:   logger.Named("ledger"),
		byNumber: make(map[string]*schemas.Resource, len(numbers)),
	}

	now := time.Now()
	reclaimed := 0
	for _, number := range numbers {
		res := &schemas.Resource{
			Number:      number,
			CountryCode: identity.CountryCodeOf(number),
			State:       schemas.ResourceAvailable,
			ChangedAt:   now,
		}
		if rec, ok := records[number]; ok {
			res.State = rec.State
			res.ChangedAt = rec.UsedAt
			if rec.State == schemas.ResourceConsumed {
				if rec.Success {
					res.LastOutcome = "success"
				} else {
					res.LastOutcome = "failure"
				}
			}
			// Crash recovery: a reservation that never resolved is returned
			// to the pool once it is older than the staleness threshold.
			if rec.State == schemas.ResourceReserved && now.Sub(rec.UsedAt) > staleAge {
				res.State = schemas.ResourceAvailable
				res.ChangedAt = now
				reclaimed++
			}
		}
		l.pool = append(l.pool, res)
		l.byNumber[number] = res
	}

	l.logger.Info("Ledger loaded.",
		zap.String("platform", string(platform)),
		zap.Int("pool_size", len(l.pool)),
		zap.Int("stale_reclaimed", reclaimed),
	)
	return l, nil
}

// loadPool reads the ordered resource pool, one number per line. Blank lines
// and '#' comments are skipped; order is preserved.
func loadPool(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool file %s: %w", path, err)
	}
	defer f.Close()

	var numbers []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		number := strings.TrimPrefix(line, "+")
		if _, dup := seen[number]; dup {
			continue
		}
		seen[number] = struct{}{}
		numbers = append(numbers, number)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pool file: %w", err)
	}
	return numbers, nil
}

// Allocate returns the first Available resource in pool order, marking it
// Reserved before it is handed out. The check-and-mark is a single critical
// section and the reservation is durable before return. Returns
// schemas.ErrNoResource when the pool is exhausted; callers treat that as
// terminal for the batch, not as a retriable error.
func (l *Ledger) Allocate(ctx context.Context) (schemas.Resource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, res := range l.pool {
		if res.State != schemas.ResourceAvailable {
			continue
		}

		res.State = schemas.ResourceReserved
		res.ChangedAt = time.Now()
		if err := l.persistLocked(ctx, res, false); err != nil {
			// Roll the in-memory mark back so the resource is not lost to
			// this process lifetime.
			res.State = schemas.ResourceAvailable
			return schemas.Resource{}, fmt.Errorf("failed to persist reservation for %s: %w", res.Number, err)
		}

		l.logger.Info("Resource reserved.",
			zap.String("number", res.Formatted()),
			zap.String("country_code", res.CountryCode),
		)
		return *res, nil
	}

	l.logger.Warn("Resource pool exhausted.", zap.String("platform", string(l.platform)))
	return schemas.Resource{}, schemas.ErrNoResource
}

// Release resolves a reservation. It is idempotent per resource-outcome
// pair: releasing twice with the same outcome is a no-op, and a Consumed
// resource never transitions back to Available.
func (l *Ledger) Release(ctx context.Context, number string, outcome Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.byNumber[number]
	if !ok {
		return fmt.Errorf("resource %s is not part of the pool", number)
	}

	var target schemas.ResourceState
	switch {
	case outcome.Success, outcome.Burn:
		target = schemas.ResourceConsumed
	default:
		target = schemas.ResourceAvailable
	}

	// Monotonicity: Consumed is absorbing. A repeat release (same outcome)
	// and a late non-burn release against a consumed resource both land here.
	if res.State == schemas.ResourceConsumed {
		return nil
	}
	// Repeat of an identical non-burn failure release.
	if res.State == schemas.ResourceAvailable && target == schemas.ResourceAvailable {
		return nil
	}

	res.State = target
	res.ChangedAt = time.Now()
	if outcome.Success {
		res.LastOutcome = "success"
	} else {
		res.LastOutcome = "failure"
	}

	if err := l.persistLocked(ctx, res, outcome.Success); err != nil {
		return fmt.Errorf("failed to persist release for %s: %w", number, err)
	}

	l.logger.Info("Resource released.",
		zap.String("number", res.Formatted()),
		zap.String("state", string(res.State)),
		zap.Bool("success", outcome.Success),
	)
	return nil
}

// persistLocked writes the resource's current state through the store.
// Callers hold l.mu, which serializes ledger writes per process; the store
// serializes across processes.
func (l *Ledger) persistLocked(ctx context.Context, res *schemas.Resource, success bool) error {
	return l.store.Save(ctx, schemas.UsageRecord{
		Number:   res.Number,
		Platform: l.platform,
		State:    res.State,
		UsedAt:   res.ChangedAt,
		Success:  success,
	})
}

// Stats reports current pool usage.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Stats{Platform: l.platform, Total: len(l.pool)}
	for _, res := range l.pool {
		switch res.State {
		case schemas.ResourceAvailable:
			st.Available++
		case schemas.ResourceReserved:
			st.Reserved++
		case schemas.ResourceConsumed:
			st.Consumed++
			if res.LastOutcome == "success" {
				st.Successes++
			}
		}
	}
	return st
}

// Close releases the underlying store.
func (l *Ledger) Close() { l.store.Close() }
