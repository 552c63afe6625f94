package models

import "time"

// Job statuses. Transitions are monotonic except the retry loop-back
// running -> pending; see dispatch.Dispatcher.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
	JobStatusExpired   = "expired"
)

// JobStatusTerminal reports whether a status is terminal.
func JobStatusTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusExpired:
		return true
	}
	return false
}

// Job stores a single requested marketplace operation and its tracked lifecycle.
// Terminal jobs are retained for history, never deleted.
type Job struct {
	ID            string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	TenantID      string     `gorm:"column:tenant_id;size:64;index:idx_jobs_tenant" json:"tenant_id"`
	Marketplace   string     `gorm:"column:marketplace;size:20;index:idx_jobs_claim,priority:1" json:"marketplace"`
	Action        string     `gorm:"column:action;size:40" json:"action"`
	SubjectID     string     `gorm:"column:subject_id;size:64" json:"subject_id,omitempty"`
	BatchID       string     `gorm:"column:batch_id;size:36;index:idx_jobs_batch" json:"batch_id,omitempty"`
	Priority      int        `gorm:"column:priority;default:0;index:idx_jobs_claim,priority:3" json:"priority"`
	Status        string     `gorm:"column:status;size:20;index:idx_jobs_claim,priority:2" json:"status"`
	AttemptCount  int        `gorm:"column:attempt_count;default:0" json:"attempt_count"`
	MaxAttempts   int        `gorm:"column:max_attempts;default:3" json:"max_attempts"`
	Payload       string     `gorm:"column:payload;type:longtext" json:"payload,omitempty"`
	Result        string     `gorm:"column:result;type:text" json:"result,omitempty"`
	Error         string     `gorm:"column:error;type:text" json:"error,omitempty"`
	ErrorKind     string     `gorm:"column:error_kind;size:20" json:"error_kind,omitempty"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at" json:"next_attempt_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	StartedAt     *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Job) TableName() string {
	return "marketplace_jobs"
}
