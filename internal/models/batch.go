package models

import "time"

// Batch statuses. Status is derived from the counters, never set directly
// by callers.
const (
	BatchStatusPending         = "pending"
	BatchStatusRunning         = "running"
	BatchStatusCompleted       = "completed"
	BatchStatusFailed          = "failed"
	BatchStatusCancelled       = "cancelled"
	BatchStatusPartiallyFailed = "partially_failed"
)

// BatchStatusTerminal reports whether a batch status is terminal.
func BatchStatusTerminal(status string) bool {
	switch status {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled, BatchStatusPartiallyFailed:
		return true
	}
	return false
}

// Batch groups jobs issued together and rolls their terminal outcomes up
// into progress counters. All jobs in a batch share tenant, marketplace
// and action.
type Batch struct {
	ID             string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	TenantID       string     `gorm:"column:tenant_id;size:64;index:idx_batches_tenant" json:"tenant_id"`
	Marketplace    string     `gorm:"column:marketplace;size:20" json:"marketplace"`
	Action         string     `gorm:"column:action;size:40" json:"action"`
	Status         string     `gorm:"column:status;size:20" json:"status"`
	TotalCount     int        `gorm:"column:total_count;default:0" json:"total_count"`
	CompletedCount int        `gorm:"column:completed_count;default:0" json:"completed_count"`
	FailedCount    int        `gorm:"column:failed_count;default:0" json:"failed_count"`
	CancelledCount int        `gorm:"column:cancelled_count;default:0" json:"cancelled_count"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	StartedAt      *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Batch) TableName() string {
	return "marketplace_batches"
}

// PendingCount derives the number of children not yet in a terminal state.
func (b *Batch) PendingCount() int {
	n := b.TotalCount - b.CompletedCount - b.FailedCount - b.CancelledCount
	if n < 0 {
		return 0
	}
	return n
}

// DeriveStatus computes the batch status from its counters. A batch that
// has started but is not yet terminal reports running.
func (b *Batch) DeriveStatus() string {
	terminal := b.CompletedCount + b.FailedCount + b.CancelledCount
	if b.TotalCount > 0 && terminal >= b.TotalCount {
		switch {
		case b.CompletedCount == b.TotalCount:
			return BatchStatusCompleted
		case b.FailedCount == b.TotalCount:
			return BatchStatusFailed
		case b.CancelledCount == b.TotalCount:
			return BatchStatusCancelled
		case b.FailedCount > 0:
			return BatchStatusPartiallyFailed
		default:
			// Mix of completed and cancelled children.
			return BatchStatusCompleted
		}
	}
	if b.StartedAt != nil || terminal > 0 {
		return BatchStatusRunning
	}
	return BatchStatusPending
}
