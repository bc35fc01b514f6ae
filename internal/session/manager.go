// File: internal/session/manager.go
// Description: Session lifecycle management. A session binds one attempt's
// presentation profile, egress and browser driver, and guarantees exactly one
// release that always attempts every teardown step it owns.

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/config"
	"github.com/xkilldash9x/enroll-cli/internal/driver"
	"github.com/xkilldash9x/enroll-cli/internal/egress"
	"github.com/xkilldash9x/enroll-cli/internal/identity"
)

// State tracks where a session is in its lifecycle.
type State string

const (
	StateUnacquired State = "unacquired"
	StateAcquiring  State = "acquiring"
	StateReady      State = "ready"
	StateInUse      State = "in_use"
	StateReleasing  State = "releasing"
	StateReleased   State = "released"
	StateFailed     State = "failed"
)

// Session is one acquired browser environment. Driver calls are only valid
// between a successful Acquire and the matching Release.
type Session struct {
	ID      string
	Profile schemas.PresentationProfile
	Egress  schemas.EgressDescriptor
	Driver  schemas.Driver

	handle  schemas.ProfileHandle
	manager *Manager
	logger  *zap.Logger

	mu    sync.Mutex
	state State

	releaseOnce sync.Once
	releaseErr  error
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// MarkInUse transitions a Ready session to InUse when the workflow starts.
func (s *Session) MarkInUse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady {
		s.state = StateInUse
	}
}

// Release tears the session down: the driver is closed and, when the profile
// was provisioned externally, the profile is stopped. Both steps are always
// attempted and their errors aggregated. Subsequent calls return the first
// call's result.
func (s *Session) Release(ctx context.Context) error {
	s.releaseOnce.Do(func() {
		s.setState(StateReleasing)
		s.releaseErr = s.teardown(ctx)
		if s.releaseErr != nil {
			s.setState(StateFailed)
		} else {
			s.setState(StateReleased)
		}
		s.manager.forget(s.ID)
		s.logger.Info("Session released.", zap.String("state", string(s.State())))
	})
	return s.releaseErr
}

func (s *Session) teardown(ctx context.Context) error {
	// Teardown must make progress even when the attempt context is already
	// cancelled.
	tdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var errs error
	if s.Driver != nil {
		if err := s.Driver.Close(tdCtx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("driver close: %w", err))
		}
	}
	if s.handle.ID != "" && s.manager.provisioner != nil {
		if err := s.manager.provisioner.StopProfile(tdCtx, s.handle.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop profile: %w", err))
		}
	}
	return errs
}

// Manager acquires and tracks sessions. When a provisioner is configured the
// browser environment comes from it; otherwise a local browser is launched
// behind the selected egress.
type Manager struct {
	cfg         *config.Config
	selector    *egress.Selector
	provisioner schemas.Provisioner
	logger      *zap.Logger

	mu     sync.Mutex
	active map[string]*Session
	wg     sync.WaitGroup
}

// NewManager builds a session manager. provisioner may be nil.
func NewManager(cfg *config.Config, selector *egress.Selector, provisioner schemas.Provisioner, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		selector:    selector,
		provisioner: provisioner,
		logger:      logger.Named("session"),
		active:      make(map[string]*Session),
	}
}

// Acquire builds a session for the given resource: presentation profile
// derived from the resource's country, country-targeted egress, then the
// browser environment. A partial acquisition is torn down before the error
// is returned, so a failed Acquire never leaks a profile or a driver.
func (m *Manager) Acquire(ctx context.Context, res schemas.Resource) (*Session, error) {
	profile := identity.ProfileFor(res.CountryCode)
	eg := m.selector.NextFor(profile.CountryISO)

	s := &Session{
		ID:      uuid.New().String(),
		Profile: profile,
		Egress:  eg,
		manager: m,
		state:   StateAcquiring,
	}
	s.logger = m.logger.With(zap.String("session_id", s.ID))

	s.logger.Info("Acquiring session.",
		zap.String("country", profile.CountryISO),
		zap.String("egress", fmt.Sprintf("%s:%d", eg.Host, eg.Port)),
	)

	if err := m.attach(ctx, s); err != nil {
		// Teardown whatever was acquired before the failure.
		if terr := s.Release(ctx); terr != nil {
			s.logger.Warn("Partial session teardown reported errors.", zap.Error(terr))
		}
		return nil, err
	}

	s.setState(StateReady)
	m.mu.Lock()
	m.active[s.ID] = s
	m.mu.Unlock()
	m.wg.Add(1)

	s.logger.Info("Session ready.")
	return s, nil
}

// attach provisions (or launches) the browser and binds the driver.
// Provisioning failures are retried up to the configured budget; the last
// error is returned once the budget is spent.
func (m *Manager) attach(ctx context.Context, s *Session) error {
	budget := m.cfg.Provisioner.RetryBudget
	var lastErr error
	for try := 0; try <= budget; try++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := m.attachOnce(ctx, s)
		if err == nil {
			return nil
		}
		lastErr = err
		if schemas.Classify(err) != schemas.FailureProvisioning || try == budget {
			break
		}
		m.dropPartialProfile(ctx, s)
		s.logger.Warn("Provisioning failed, retrying.",
			zap.Int("try", try+1),
			zap.Int("budget", budget),
			zap.Error(err),
		)
	}
	return lastErr
}

// dropPartialProfile stops a profile left over from a failed try so the next
// try starts clean.
func (m *Manager) dropPartialProfile(ctx context.Context, s *Session) {
	if s.handle.ID == "" || m.provisioner == nil {
		return
	}
	if err := m.provisioner.StopProfile(ctx, s.handle.ID); err != nil {
		s.logger.Warn("Failed to stop leftover profile.", zap.Error(err))
	}
	s.handle = schemas.ProfileHandle{}
}

func (m *Manager) attachOnce(ctx context.Context, s *Session) error {
	if m.provisioner != nil {
		handle, err := m.provisioner.CreateProfile(ctx, s.Profile, s.Egress)
		if err != nil {
			return fmt.Errorf("failed to provision browser profile: %w", err)
		}
		// Record the handle before attaching so Release stops the profile
		// even when the attach below fails.
		s.handle = handle

		d, err := driver.NewRemote(ctx, handle.Endpoint, m.cfg.Browser, s.logger)
		if err != nil {
			return fmt.Errorf("failed to attach driver: %w", err)
		}
		s.Driver = d
		return nil
	}

	d, err := driver.NewLocal(ctx, m.cfg.Browser, s.Egress, s.logger)
	if err != nil {
		return fmt.Errorf("failed to launch local browser: %w", err)
	}
	s.Driver = d
	return nil
}

// forget drops a released session from the registry.
func (m *Manager) forget(id string) {
	m.mu.Lock()
	if _, ok := m.active[id]; ok {
		delete(m.active, id)
		m.wg.Done()
	}
	m.mu.Unlock()
}

// ActiveCount reports how many sessions are currently held.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown releases every active session and waits for the registry to
// drain. Called once on process exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs error
	for _, s := range sessions {
		if err := s.Release(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	m.wg.Wait()
	return errs
}
