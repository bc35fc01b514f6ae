// File: internal/orchestrator/orchestrator.go
// Description: Manages the high-level lifecycle of a signup run. It is
// injected with fully configured components and owns attempt scheduling:
// resource allocation, session binding, workflow execution and outcome
// recording, one attempt at a time or as a bounded concurrent batch.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/config"
	"github.com/xkilldash9x/enroll-cli/internal/ledger"
	"github.com/xkilldash9x/enroll-cli/internal/recorder"
	"github.com/xkilldash9x/enroll-cli/internal/session"
	"github.com/xkilldash9x/enroll-cli/internal/workflow"
)

// Orchestrator sequences signup attempts over a shared resource ledger.
type Orchestrator struct {
	cfg        *config.Config
	ledger     *ledger.Ledger
	sessions   *session.Manager
	engine     *workflow.Engine
	recorder   *recorder.Recorder
	identities schemas.ProfileGenerator
	logger     *zap.Logger
}

// New creates an Orchestrator with its dependencies injected.
func New(
	cfg *config.Config,
	ldg *ledger.Ledger,
	sessions *session.Manager,
	engine *workflow.Engine,
	rec *recorder.Recorder,
	identities schemas.ProfileGenerator,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if cfg == nil || ldg == nil || sessions == nil || engine == nil || rec == nil || identities == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:        cfg,
		ledger:     ldg,
		sessions:   sessions,
		engine:     engine,
		recorder:   rec,
		identities: identities,
		logger:     logger.Named("orchestrator"),
	}, nil
}

// BatchSummary aggregates the outcomes of one batch run.
type BatchSummary struct {
	Requested int
	Attempted int
	Succeeded int
	Failed    int
	// Exhausted reports that the batch stopped early because the resource
	// pool ran out.
	Exhausted bool
	Duration  time.Duration
}

// RunOne executes a single signup attempt end to end. The resource is always
// resolved before return: recorded through the recorder when an attempt was
// made, or released unburned when the session could not even be acquired.
// Returns schemas.ErrNoResource when the pool is empty.
func (o *Orchestrator) RunOne(ctx context.Context) (*schemas.Result, error) {
	res, err := o.ledger.Allocate(ctx)
	if err != nil {
		return nil, err
	}

	platform := schemas.Platform(o.cfg.Run.Platform)
	attempt := schemas.NewAttempt(platform, res, o.identities.Generate())
	log := o.logger.With(
		zap.String("attempt_id", attempt.ID),
		zap.String("resource", res.Formatted()),
	)

	attemptCtx := ctx
	if o.cfg.Workflow.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, o.cfg.Workflow.AttemptTimeout)
		defer cancel()
	}

	sess, err := o.sessions.Acquire(attemptCtx, res)
	if err != nil {
		return o.failBeforeWorkflow(ctx, attempt, err, log)
	}
	defer func() {
		// Release runs against the parent context: teardown must proceed
		// even when the attempt deadline has passed.
		if rerr := sess.Release(ctx); rerr != nil {
			log.Warn("Session release reported errors.", zap.Error(rerr))
		}
	}()

	flow, err := workflow.FlowFor(platform, sess.Driver, log)
	if err != nil {
		return o.failBeforeWorkflow(ctx, attempt, err, log)
	}

	sess.MarkInUse()
	result := o.engine.Run(attemptCtx, attempt, sess.Driver, flow)

	if err := o.recorder.Record(ctx, attempt); err != nil {
		log.Error("Failed to record attempt outcome.", zap.Error(err))
	}
	return result, nil
}

// failBeforeWorkflow terminates an attempt that never reached its first
// stage. The resource is released unburned via the recorder so accounting
// stays in one place.
func (o *Orchestrator) failBeforeWorkflow(ctx context.Context, attempt *schemas.Attempt, cause error, log *zap.Logger) (*schemas.Result, error) {
	attempt.Transition(schemas.StageFailed, 0, cause.Error(), "")
	attempt.Result = &schemas.Result{
		FailedStage: schemas.StageInit,
		Class:       schemas.Classify(cause),
		Diagnostic:  cause.Error(),
		CompletedAt: time.Now(),
		Duration:    time.Since(attempt.StartedAt),
	}

	log.Warn("Attempt failed before the workflow started.", zap.Error(cause))
	if err := o.recorder.Record(ctx, attempt); err != nil {
		log.Error("Failed to record attempt outcome.", zap.Error(err))
	}
	return attempt.Result, nil
}

// RunBatch executes up to count attempts, bounded by the configured
// concurrency and paced by the configured attempt delay. Scheduling stops at
// pool exhaustion or context cancellation; attempts already in flight run to
// completion so their resources resolve cleanly.
func (o *Orchestrator) RunBatch(ctx context.Context, count int) (*BatchSummary, error) {
	start := time.Now()
	summary := &BatchSummary{Requested: count}

	conc := int64(o.cfg.Workflow.Concurrency)
	if conc < 1 {
		conc = 1
	}
	sem := semaphore.NewWeighted(conc)
	limiter := rate.NewLimiter(rate.Every(o.cfg.Workflow.AttemptDelay), 1)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)

	o.logger.Info("Batch started.",
		zap.Int("count", count),
		zap.Int64("concurrency", conc),
		zap.Duration("attempt_delay", o.cfg.Workflow.AttemptDelay),
	)

scheduling:
	for i := 0; i < count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		mu.Lock()
		stop := summary.Exhausted
		mu.Unlock()
		if stop {
			sem.Release(1)
			break scheduling
		}

		n := i
		g.Go(func() error {
			defer sem.Release(1)

			result, err := o.RunOne(ctx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, schemas.ErrNoResource):
				summary.Exhausted = true
			case err != nil:
				summary.Attempted++
				summary.Failed++
				o.logger.Error("Attempt aborted.", zap.Int("attempt", n+1), zap.Error(err))
			case result.Success:
				summary.Attempted++
				summary.Succeeded++
			default:
				summary.Attempted++
				summary.Failed++
			}
			if result != nil {
				o.logger.Info("Attempt finished.", zap.Int("attempt", n+1), zap.String("summary", result.Summary()))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	summary.Duration = time.Since(start)

	o.logger.Info("Batch finished.",
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Bool("pool_exhausted", summary.Exhausted),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}
