package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"stoflow/internal/marketplace"
	"stoflow/internal/models"
	"stoflow/internal/repository"
)

// Dispatcher owns the claim/execute/finalize algorithm. It is the only
// component that moves jobs between states; handlers report outcomes and
// never touch the store.
type Dispatcher struct {
	jobs     *repository.JobRepository
	batches  *repository.BatchRepository
	registry *marketplace.Registry
	pauser   Pauser
	logger   *zap.Logger

	retryBase time.Duration
	retryMax  time.Duration
}

func NewDispatcher(
	jobs *repository.JobRepository,
	batches *repository.BatchRepository,
	registry *marketplace.Registry,
	pauser Pauser,
	retryBase, retryMax time.Duration,
	logger *zap.Logger,
) *Dispatcher {
	if retryBase <= 0 {
		retryBase = 30 * time.Second
	}
	if retryMax <= 0 {
		retryMax = 30 * time.Minute
	}
	return &Dispatcher{
		jobs:      jobs,
		batches:   batches,
		registry:  registry,
		pauser:    pauser,
		logger:    logger,
		retryBase: retryBase,
		retryMax:  retryMax,
	}
}

// RunCycle claims and processes at most one eligible job for a
// marketplace. Returns false when the queue had nothing claimable.
// Safe to call from concurrent workers: the claim is an atomic
// conditional update, so no two cycles ever process the same job.
func (d *Dispatcher) RunCycle(ctx context.Context, marketplaceName string) (bool, error) {
	skip, err := d.pauser.PausedTenants(ctx, marketplaceName)
	if err != nil {
		d.logger.Warn("Could not read pause flags, dispatching without skip list", zap.Error(err))
		skip = nil
	}

	job, err := d.jobs.ClaimNext(marketplaceName, skip)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// The pause may have landed between reading the skip list and the
	// claim; put the job back untouched.
	if paused, _ := d.pauser.Paused(ctx, job.TenantID, job.Marketplace); paused {
		_ = d.jobs.Requeue(job.ID, "tenant paused", time.Now().Add(d.retryBase), false)
		return false, nil
	}

	if job.BatchID != "" && job.StartedAt != nil {
		if err := d.batches.MarkStarted(job.BatchID, *job.StartedAt); err != nil {
			d.logger.Warn("Failed to mark batch started",
				zap.String("batch_id", job.BatchID), zap.Error(err))
		}
	}

	d.execute(ctx, job)
	return true, nil
}

func (d *Dispatcher) execute(ctx context.Context, job *models.Job) {
	logger := d.logger.With(
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID),
		zap.String("marketplace", job.Marketplace),
		zap.String("action", job.Action),
		zap.Int("attempt", job.AttemptCount+1),
	)

	handler, ok := d.registry.Lookup(job.Marketplace, job.Action)
	if !ok {
		// Configuration error: permanent, no attempt consumed, no retry.
		logger.Error("No handler registered for job")
		d.finalize(job, models.JobStatusFailed, "",
			"no handler registered for "+job.Marketplace+":"+job.Action,
			string(marketplace.FailurePermanent), false)
		return
	}

	result, err := handler.Execute(ctx, job)
	if err == nil {
		var resultJSON string
		if result != nil {
			if raw, merr := json.Marshal(result); merr == nil {
				resultJSON = string(raw)
			}
		}
		logger.Info("Job completed")
		d.finalize(job, models.JobStatusCompleted, resultJSON, "", "", true)
		return
	}

	kind := marketplace.Classify(err)
	switch kind {
	case marketplace.FailureChallenge:
		// The job never executed; requeue without consuming an attempt
		// and pause the tenant until the challenge is cleared.
		logger.Warn("Job hit an anti-bot challenge, pausing tenant")
		if perr := d.pauser.Pause(ctx, job.TenantID, job.Marketplace); perr != nil {
			logger.Error("Failed to pause tenant", zap.Error(perr))
		}
		if rerr := d.jobs.Requeue(job.ID, err.Error(), time.Now(), false); rerr != nil {
			logger.Error("Failed to requeue challenged job", zap.Error(rerr))
		}

	case marketplace.FailureAuth, marketplace.FailurePermanent:
		logger.Warn("Job failed permanently", zap.String("kind", string(kind)), zap.Error(err))
		d.finalize(job, models.JobStatusFailed, "", err.Error(), string(kind), true)

	default:
		if job.AttemptCount+1 >= job.MaxAttempts {
			logger.Warn("Job exhausted its attempts", zap.Error(err))
			d.finalize(job, models.JobStatusFailed, "", err.Error(), string(marketplace.FailureRetryable), true)
			return
		}
		delay := d.retryDelay(job.AttemptCount + 1)
		logger.Info("Job failed, retrying", zap.Duration("delay", delay), zap.Error(err))
		if rerr := d.jobs.Requeue(job.ID, err.Error(), time.Now().Add(delay), true); rerr != nil {
			logger.Error("Failed to requeue job", zap.Error(rerr))
		}
	}
}

// finalize records a terminal job state and rolls it up into the owning
// batch.
func (d *Dispatcher) finalize(job *models.Job, status, result, errMsg, errKind string, consumeAttempt bool) {
	if err := d.jobs.Finalize(job.ID, status, result, errMsg, errKind, consumeAttempt); err != nil {
		d.logger.Error("Failed to finalize job",
			zap.String("job_id", job.ID), zap.String("status", status), zap.Error(err))
		return
	}
	d.propagateTerminal(job.BatchID, job.ID, status)
}

// propagateTerminal updates batch counters after any terminal transition,
// whether it came from the dispatcher, the TTL sweep or the watchdog.
func (d *Dispatcher) propagateTerminal(batchID, jobID, status string) {
	if batchID == "" {
		return
	}
	if err := d.batches.OnJobTerminal(batchID, status); err != nil {
		d.logger.Error("Failed to update batch counters",
			zap.String("batch_id", batchID),
			zap.String("job_id", jobID),
			zap.Error(err))
	}
}

// retryDelay is a bounded exponential backoff with jitter: base doubles
// per attempt up to the cap, plus up to 20% random spread so retries from
// a burst do not land together.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	delay := d.retryBase
	for i := 1; i < attempt && delay < d.retryMax; i++ {
		delay *= 2
	}
	if delay > d.retryMax {
		delay = d.retryMax
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
	return delay + jitter
}
