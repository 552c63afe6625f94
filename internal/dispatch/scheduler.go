package dispatch

import (
	"context"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"stoflow/internal/marketplace"
	"stoflow/internal/models"
)

// sweepBatchSize bounds how many stale jobs one sweep pass touches.
const sweepBatchSize = 100

// Options tunes the polling loops and sweeps.
type Options struct {
	// PollInterval paces the eBay/Etsy dispatch loops.
	PollInterval time.Duration
	// DrainPerCycle caps jobs processed per direct-API cycle.
	DrainPerCycle int
	// VintedInterval paces the Vinted loop. Vinted runs one job per
	// cycle with an extra randomized delay: the marketplace budget is
	// tens of requests per multi-hour window and bursts trip the
	// anti-bot detection.
	VintedInterval time.Duration
	// VintedJitter is the upper bound of the random extra delay.
	VintedJitter time.Duration
	// PendingTTL expires jobs nobody claimed.
	PendingTTL time.Duration
	// RunningTimeout requeues jobs a crashed worker left in running.
	RunningTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.DrainPerCycle <= 0 {
		o.DrainPerCycle = 10
	}
	if o.VintedInterval <= 0 {
		o.VintedInterval = 2 * time.Minute
	}
	if o.VintedJitter <= 0 {
		o.VintedJitter = time.Minute
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = 24 * time.Hour
	}
	if o.RunningTimeout <= 0 {
		o.RunningTimeout = 10 * time.Minute
	}
}

// Scheduler drives the dispatcher from cron loops: one polling loop per
// marketplace plus the expiry sweep and the stuck-running watchdog.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	opts       Options
	logger     *zap.Logger
}

func NewScheduler(dispatcher *Dispatcher, opts Options, logger *zap.Logger) *Scheduler {
	opts.withDefaults()
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
	}
}

// Start registers and starts all dispatch loops.
func (s *Scheduler) Start() {
	s.logger.Info("Starting dispatch scheduler")

	s.cron.AddFunc("@every "+s.opts.PollInterval.String(), func() {
		s.drainMarketplace(marketplace.Ebay)
	})
	s.cron.AddFunc("@every "+s.opts.PollInterval.String(), func() {
		s.drainMarketplace(marketplace.Etsy)
	})

	s.cron.AddFunc("@every "+s.opts.VintedInterval.String(), func() {
		s.dispatchVinted()
	})

	// Watchdog for jobs a crashed worker left in running - every minute
	s.cron.AddFunc("0 * * * * *", func() {
		s.requeueStuck()
	})

	// TTL sweep for jobs nobody ever claimed - every 5 minutes
	s.cron.AddFunc("0 */5 * * * *", func() {
		s.expireUnclaimed()
	})

	s.cron.Start()
}

// Stop halts the cron loops; the returned context closes when running
// entries finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// drainMarketplace processes direct-API jobs back to back until the queue
// is empty or the per-cycle cap is reached.
func (s *Scheduler) drainMarketplace(marketplaceName string) {
	defer s.recoverFromPanic("drain:" + marketplaceName)

	ctx := context.Background()
	for i := 0; i < s.opts.DrainPerCycle; i++ {
		processed, err := s.dispatcher.RunCycle(ctx, marketplaceName)
		if err != nil {
			s.logger.Error("Dispatch cycle failed",
				zap.String("marketplace", marketplaceName), zap.Error(err))
			return
		}
		if !processed {
			return
		}
	}
}

// dispatchVinted runs a single job per cycle behind a randomized delay.
func (s *Scheduler) dispatchVinted() {
	defer s.recoverFromPanic("dispatch:vinted")

	if s.opts.VintedJitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(s.opts.VintedJitter))))
	}

	if _, err := s.dispatcher.RunCycle(context.Background(), marketplace.Vinted); err != nil {
		s.logger.Error("Vinted dispatch cycle failed", zap.Error(err))
	}
}

// requeueStuck detects jobs stuck in running past the timeout and loops
// them back to pending with an attempt consumed, or fails them when the
// attempts are exhausted.
func (s *Scheduler) requeueStuck() {
	defer s.recoverFromPanic("requeueStuck")

	d := s.dispatcher
	cutoff := time.Now().Add(-s.opts.RunningTimeout)
	stuck, err := d.jobs.ListRunningBefore(cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error("Watchdog query failed", zap.Error(err))
		return
	}

	for _, job := range stuck {
		if job.AttemptCount+1 >= job.MaxAttempts {
			s.logger.Warn("Stuck job exhausted its attempts",
				zap.String("job_id", job.ID))
			if err := d.jobs.Finalize(job.ID, models.JobStatusFailed, "",
				"worker timed out while running the job",
				string(marketplace.FailureRetryable), true); err != nil {
				continue
			}
			d.propagateTerminal(job.BatchID, job.ID, models.JobStatusFailed)
			continue
		}

		s.logger.Warn("Requeueing stuck job", zap.String("job_id", job.ID))
		if err := d.jobs.Requeue(job.ID, "worker timed out while running the job",
			time.Now(), true); err != nil {
			s.logger.Error("Failed to requeue stuck job",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// expireUnclaimed marks pending jobs nobody claimed within the TTL as
// expired instead of leaving them live forever.
func (s *Scheduler) expireUnclaimed() {
	defer s.recoverFromPanic("expireUnclaimed")

	d := s.dispatcher
	cutoff := time.Now().Add(-s.opts.PendingTTL)
	stale, err := d.jobs.ListUnclaimedBefore(cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error("Expiry sweep query failed", zap.Error(err))
		return
	}

	for _, job := range stale {
		if err := d.jobs.Expire(job.ID, "job expired before any worker claimed it"); err != nil {
			// Claimed or cancelled in the meantime.
			continue
		}
		s.logger.Info("Expired unclaimed job", zap.String("job_id", job.ID))
		d.propagateTerminal(job.BatchID, job.ID, models.JobStatusExpired)
	}
}

func (s *Scheduler) recoverFromPanic(name string) {
	if r := recover(); r != nil {
		s.logger.Error("Dispatch loop panicked", zap.String("loop", name), zap.Any("error", r))
	}
}
