// File: internal/workflow/engine.go
// Description: The workflow state machine. The engine drives one attempt
// through the stage sequence, owning timeouts, the per-stage retry budget and
// the burn decision; the platform flow owns what each stage actually does on
// the page.

package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/config"
)

// Engine executes signup attempts. One engine serves all attempts; all
// per-attempt state lives in the Attempt and the local frame of Run.
type Engine struct {
	cfg    config.WorkflowConfig
	otpCfg config.OTPConfig
	otp    schemas.OTPSource
	solver schemas.CaptchaSolver
	logger *zap.Logger
}

// NewEngine builds a workflow engine. solver may be nil, in which case any
// detected challenge fails the attempt as unsolvable.
func NewEngine(cfg config.WorkflowConfig, otpCfg config.OTPConfig, otp schemas.OTPSource, solver schemas.CaptchaSolver, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		otpCfg: otpCfg,
		otp:    otp,
		solver: solver,
		logger: logger.Named("workflow"),
	}
}

// stage binds a stage name to its work function.
type stage struct {
	name schemas.Stage
	run  func(ctx context.Context) error
	// noRetry marks stages whose work must not be repeated on transient
	// failure (the OTP has a single submission window).
	noRetry bool
}

// Run drives the attempt from Init to a terminal Result. It always returns a
// non-nil Result; the caller persists it and releases the resource
// accordingly. drv is used for diagnostic captures only.
func (e *Engine) Run(ctx context.Context, attempt *schemas.Attempt, drv schemas.Driver, flow schemas.PlatformFlow) *schemas.Result {
	log := e.logger.With(
		zap.String("attempt_id", attempt.ID),
		zap.String("platform", string(attempt.Platform)),
		zap.String("resource", attempt.Resource.Formatted()),
	)

	// otpCode crosses from OtpWait to OtpSubmit; otpDispatched flips once
	// Submit succeeds and governs the burn decision from then on.
	var (
		otpCode       string
		otpDispatched bool
	)

	stages := []stage{
		{name: schemas.StageNavigate, run: flow.OpenSignup},
		{name: schemas.StageFillForm, run: func(ctx context.Context) error {
			return flow.EnterPhone(ctx, attempt.Resource)
		}},
		{name: schemas.StageSubmit, run: func(ctx context.Context) error {
			if err := flow.Submit(ctx); err != nil {
				return err
			}
			otpDispatched = true
			return nil
		}},
		{name: schemas.StageChallengeCheck, run: func(ctx context.Context) error {
			return e.resolveChallenge(ctx, flow, log)
		}},
		{name: schemas.StageOtpWait, run: func(ctx context.Context) error {
			code, err := e.waitForOTP(ctx, attempt.Resource.Formatted())
			if err != nil {
				return err
			}
			otpCode = code
			return nil
		}, noRetry: true},
		{name: schemas.StageOtpSubmit, run: func(ctx context.Context) error {
			return flow.SubmitOTP(ctx, otpCode)
		}, noRetry: true},
		{name: schemas.StageFinalize, run: func(ctx context.Context) error {
			if err := flow.FillProfile(ctx, attempt.Identity); err != nil {
				return err
			}
			return flow.VerifySuccess(ctx)
		}},
	}

	log.Info("Attempt started.")
	for _, st := range stages {
		if err := e.runStage(ctx, attempt, drv, st, log); err != nil {
			return e.fail(attempt, drv, st.name, err, otpDispatched, log)
		}
	}

	attempt.Transition(schemas.StageCompleted, 0, "", "")
	result := &schemas.Result{
		Success: true,
		Account: &schemas.Account{
			Platform:  attempt.Platform,
			Email:     attempt.Identity.Email,
			Password:  attempt.Identity.Password,
			FullName:  attempt.Identity.FullName(),
			Phone:     attempt.Resource.Formatted(),
			CreatedAt: time.Now(),
		},
		CompletedAt: time.Now(),
		Duration:    time.Since(attempt.StartedAt),
	}
	attempt.Result = result
	log.Info("Attempt completed.", zap.Duration("duration", result.Duration))
	return result
}

// runStage executes one stage under its timeout and retry budget. Only
// transient failures are retried; exhausting the budget converts the last
// transient error into a fatal one.
func (e *Engine) runStage(ctx context.Context, attempt *schemas.Attempt, drv schemas.Driver, st stage, log *zap.Logger) error {
	budget := e.cfg.StageRetries
	if st.noRetry {
		budget = 0
	}

	var lastErr error
	for try := 0; ; try++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		note := ""
		if try > 0 {
			note = fmt.Sprintf("retry after: %v", lastErr)
		}
		attempt.Transition(st.name, try, note, "")

		stageCtx, cancel := context.WithTimeout(ctx, e.stageTimeout(st.name))
		err := st.run(stageCtx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s after %s", schemas.ErrStageTimeout, st.name, e.stageTimeout(st.name))
		}
		lastErr = err

		class := schemas.Classify(err)
		if class != schemas.FailureTransient || try >= budget {
			if class == schemas.FailureTransient {
				// Dropping the wrap downgrades the exhausted transient
				// failure to fatal for classification.
				return fmt.Errorf("retry budget exhausted at %s: %s", st.name, err)
			}
			return err
		}

		delay := e.backoff(try)
		log.Warn("Stage failed, retrying.",
			zap.String("stage", string(st.name)),
			zap.Int("try", try+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// stageTimeout returns the deadline for one try of a stage. The OTP wait has
// its own, longer window.
func (e *Engine) stageTimeout(name schemas.Stage) time.Duration {
	if name == schemas.StageOtpWait {
		return e.otpCfg.Timeout
	}
	return e.cfg.StageTimeout
}

// backoff computes the delay before retry number try+1.
func (e *Engine) backoff(try int) time.Duration {
	d := e.cfg.RetryBackoff
	if e.cfg.BackoffPolicy == "exponential" {
		for i := 0; i < try; i++ {
			d *= 2
		}
	}
	return d
}

// resolveChallenge checks for an anti-bot challenge and runs the solver hook
// when one gates progress. Without a solver a detected challenge is fatal.
func (e *Engine) resolveChallenge(ctx context.Context, flow schemas.PlatformFlow, log *zap.Logger) error {
	challenge, err := flow.DetectChallenge(ctx)
	if err != nil {
		return err
	}
	if challenge == nil {
		return nil
	}

	log.Warn("Anti-bot challenge detected.",
		zap.String("kind", challenge.Kind),
		zap.String("page_url", challenge.PageURL),
	)
	if e.solver == nil {
		return fmt.Errorf("%w: no solver configured for %s challenge", schemas.ErrChallengeUnsolvable, challenge.Kind)
	}

	token, err := e.solver.Solve(ctx, *challenge)
	if err != nil {
		return fmt.Errorf("challenge solve failed: %w", err)
	}
	return flow.SubmitChallengeToken(ctx, token)
}

// waitForOTP blocks on the OTP source under the configured window.
func (e *Engine) waitForOTP(ctx context.Context, resourceNumber string) (string, error) {
	code, err := e.otp.Code(ctx, resourceNumber)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", schemas.ErrOTPTimeout
		}
		return "", err
	}
	if code == "" {
		return "", schemas.ErrOTPSkipped
	}
	return code, nil
}

// fail records the terminal failure, captures a diagnostic screenshot and
// decides whether the resource burns.
func (e *Engine) fail(attempt *schemas.Attempt, drv schemas.Driver, failedStage schemas.Stage, err error, otpDispatched bool, log *zap.Logger) *schemas.Result {
	captureRef := ""
	if drv != nil {
		// Best effort under a fresh context: the attempt context may
		// already be dead.
		capCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ref, capErr := drv.Capture(capCtx, fmt.Sprintf("failed_%s", failedStage))
		cancel()
		if capErr != nil {
			log.Debug("Diagnostic capture failed.", zap.Error(capErr))
		} else {
			captureRef = ref
		}
	}

	attempt.Transition(schemas.StageFailed, 0, err.Error(), captureRef)
	result := &schemas.Result{
		FailedStage: failedStage,
		Class:       schemas.Classify(err),
		Diagnostic:  err.Error(),
		// A number with an OTP already dispatched, or one the platform
		// refused, cannot be reused.
		BurnResource: otpDispatched || errors.Is(err, schemas.ErrResourceRejected),
		CompletedAt:  time.Now(),
		Duration:     time.Since(attempt.StartedAt),
	}
	attempt.Result = result
	log.Warn("Attempt failed.",
		zap.String("stage", string(failedStage)),
		zap.String("class", string(result.Class)),
		zap.Bool("burn", result.BurnResource),
		zap.Error(err),
	)
	return result
}
