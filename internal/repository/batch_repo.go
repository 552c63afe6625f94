package repository

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"stoflow/internal/models"
)

// BatchRepository handles batch progress aggregation. Counter updates are
// atomic increments, never read-modify-write, because terminal outcomes
// arrive concurrently from parallel dispatcher workers.
type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create persists a new batch with all counters at zero.
func (r *BatchRepository) Create(batch *models.Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = models.BatchStatusPending
	}
	return r.db.Create(batch).Error
}

func (r *BatchRepository) FindByID(id string) (*models.Batch, error) {
	var batch models.Batch
	if err := r.db.Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// MarkStarted records the first child claim. started_at is set exactly
// once; later claims are no-ops.
func (r *BatchRepository) MarkStarted(batchID string, at time.Time) error {
	return r.db.Model(&models.Batch{}).
		Where("id = ? AND started_at IS NULL", batchID).
		Updates(map[string]interface{}{
			"started_at": at,
			"status":     models.BatchStatusRunning,
		}).Error
}

// OnJobTerminal rolls one child job's terminal status into the batch:
// atomic counter increment, then status derivation from the fresh
// counters, all in one transaction. completed_at is set the first time
// the batch reaches a terminal status and never overwritten.
func (r *BatchRepository) OnJobTerminal(batchID, jobStatus string) error {
	column, err := counterColumn(jobStatus)
	if err != nil {
		return err
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Batch{}).
			Where("id = ?", batchID).
			Update(column, gorm.Expr(column+" + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var batch models.Batch
		if err := tx.Where("id = ?", batchID).First(&batch).Error; err != nil {
			return err
		}

		status := batch.DeriveStatus()
		updates := map[string]interface{}{
			"status": status,
		}
		if models.BatchStatusTerminal(status) {
			updates["completed_at"] = gorm.Expr("COALESCE(completed_at, ?)", time.Now())
		}
		return tx.Model(&models.Batch{}).Where("id = ?", batchID).Updates(updates).Error
	})
}

func counterColumn(jobStatus string) (string, error) {
	switch jobStatus {
	case models.JobStatusCompleted:
		return "completed_count", nil
	case models.JobStatusFailed, models.JobStatusExpired:
		// Expired children count as failures for batch progress.
		return "failed_count", nil
	case models.JobStatusCancelled:
		return "cancelled_count", nil
	default:
		return "", fmt.Errorf("job status %q is not terminal", jobStatus)
	}
}
