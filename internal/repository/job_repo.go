package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"stoflow/internal/models"
)

// ErrNotClaimable is returned when a conditional status transition matched
// no row, meaning another worker got there first or the job left the
// expected state.
var ErrNotClaimable = errors.New("job is not in the expected state")

// JobRepository handles durable marketplace job records.
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) DB() *gorm.DB {
	return r.db
}

// Create persists a new pending job. ID and queue fields are filled in if
// the caller left them empty.
func (r *JobRepository) Create(job *models.Job) error {
	prepareJob(job)
	return r.db.Create(job).Error
}

// CreateAll persists a set of jobs in one transaction, used for batch
// enqueue so a batch never ends up partially inserted.
func (r *JobRepository) CreateAll(jobs []*models.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	for _, job := range jobs {
		prepareJob(job)
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(jobs).Error
	})
}

func prepareJob(job *models.Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = time.Now()
	}
}

func (r *JobRepository) FindByID(id string) (*models.Job, error) {
	var job models.Job
	if err := r.db.Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// claimAttempts bounds how many candidates a single claim call races for
// before reporting the queue as empty.
const claimAttempts = 5

// ClaimNext atomically claims the next eligible pending job for a
// marketplace: highest priority first, FIFO within a priority tier.
// The pending -> running transition is a conditional update guarded on the
// current status, so two concurrent workers can never claim the same job.
// Returns gorm.ErrRecordNotFound when nothing is claimable.
func (r *JobRepository) ClaimNext(marketplace string, skipTenants []string) (*models.Job, error) {
	now := time.Now()
	for i := 0; i < claimAttempts; i++ {
		var candidate models.Job
		q := r.db.Where("marketplace = ? AND status = ? AND next_attempt_at <= ?",
			marketplace, models.JobStatusPending, now)
		if len(skipTenants) > 0 {
			q = q.Where("tenant_id NOT IN ?", skipTenants)
		}
		err := q.Order("priority DESC, created_at ASC, id ASC").
			Offset(i).
			First(&candidate).Error
		if err != nil {
			return nil, err
		}

		res := r.db.Model(&models.Job{}).
			Where("id = ? AND status = ?", candidate.ID, models.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     models.JobStatusRunning,
				"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race for this candidate, try the next one.
			continue
		}
		return r.FindByID(candidate.ID)
	}
	return nil, gorm.ErrRecordNotFound
}

// Finalize moves a running job to a terminal status and records its
// outcome. completed_at is set exactly once.
func (r *JobRepository) Finalize(jobID, status, result, errMsg, errKind string, consumeAttempt bool) error {
	updates := map[string]interface{}{
		"status":       status,
		"result":       result,
		"error":        errMsg,
		"error_kind":   errKind,
		"completed_at": gorm.Expr("COALESCE(completed_at, ?)", time.Now()),
	}
	if consumeAttempt {
		updates["attempt_count"] = gorm.Expr("attempt_count + 1")
	}
	res := r.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

// Requeue loops a running job back to pending for a later retry.
// consumeAttempt is false for challenge requeues, where the job never
// reached the marketplace.
func (r *JobRepository) Requeue(jobID, reason string, nextAttemptAt time.Time, consumeAttempt bool) error {
	updates := map[string]interface{}{
		"status":          models.JobStatusPending,
		"error":           reason,
		"next_attempt_at": nextAttemptAt,
	}
	if consumeAttempt {
		updates["attempt_count"] = gorm.Expr("attempt_count + 1")
	}
	res := r.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

// Cancel marks a pending job cancelled. Running jobs cannot be cancelled;
// their in-flight transport call is never clawed back.
func (r *JobRepository) Cancel(jobID string) error {
	res := r.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCancelled,
			"completed_at": gorm.Expr("COALESCE(completed_at, ?)", time.Now()),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

// ListUnclaimedBefore returns pending jobs created before the cutoff, for
// the TTL expiry sweep.
func (r *JobRepository) ListUnclaimedBefore(cutoff time.Time, limit int) ([]models.Job, error) {
	var jobs []models.Job
	q := r.db.Where("status = ? AND created_at < ?", models.JobStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

// Expire marks one unclaimed pending job expired. Returns ErrNotClaimable
// if the job was claimed or cancelled in the meantime.
func (r *JobRepository) Expire(jobID, reason string) error {
	res := r.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":       models.JobStatusExpired,
			"error":        reason,
			"completed_at": gorm.Expr("COALESCE(completed_at, ?)", time.Now()),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

// ListRunningBefore returns jobs stuck in running with no activity since
// the cutoff, for the crashed-worker watchdog. updated_at rather than
// started_at, because started_at keeps its first value across retries.
func (r *JobRepository) ListRunningBefore(cutoff time.Time, limit int) ([]models.Job, error) {
	var jobs []models.Job
	q := r.db.Where("status = ? AND updated_at < ?", models.JobStatusRunning, cutoff).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}
