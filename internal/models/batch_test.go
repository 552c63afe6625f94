package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchDeriveStatus(t *testing.T) {
	started := time.Now()

	tests := []struct {
		name      string
		batch     Batch
		expected  string
	}{
		{
			name:     "empty batch is pending",
			batch:    Batch{TotalCount: 0},
			expected: BatchStatusPending,
		},
		{
			name:     "untouched batch is pending",
			batch:    Batch{TotalCount: 3},
			expected: BatchStatusPending,
		},
		{
			name:     "started batch is running",
			batch:    Batch{TotalCount: 3, StartedAt: &started},
			expected: BatchStatusRunning,
		},
		{
			name:     "partial progress is running",
			batch:    Batch{TotalCount: 3, CompletedCount: 1},
			expected: BatchStatusRunning,
		},
		{
			name:     "all completed",
			batch:    Batch{TotalCount: 3, CompletedCount: 3},
			expected: BatchStatusCompleted,
		},
		{
			name:     "all failed",
			batch:    Batch{TotalCount: 3, FailedCount: 3},
			expected: BatchStatusFailed,
		},
		{
			name:     "all cancelled",
			batch:    Batch{TotalCount: 3, CancelledCount: 3},
			expected: BatchStatusCancelled,
		},
		{
			name:     "mixed completed and failed",
			batch:    Batch{TotalCount: 3, CompletedCount: 2, FailedCount: 1},
			expected: BatchStatusPartiallyFailed,
		},
		{
			name:     "mixed with cancellations and a failure",
			batch:    Batch{TotalCount: 3, CompletedCount: 1, FailedCount: 1, CancelledCount: 1},
			expected: BatchStatusPartiallyFailed,
		},
		{
			name:     "mixed completed and cancelled without failures",
			batch:    Batch{TotalCount: 3, CompletedCount: 2, CancelledCount: 1},
			expected: BatchStatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.batch.DeriveStatus())
		})
	}
}

func TestBatchDeriveStatusDeterministic(t *testing.T) {
	b := Batch{TotalCount: 5, CompletedCount: 3, FailedCount: 2}
	first := b.DeriveStatus()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, b.DeriveStatus())
	}
}

func TestBatchPendingCount(t *testing.T) {
	b := Batch{TotalCount: 5, CompletedCount: 2, FailedCount: 1}
	assert.Equal(t, 2, b.PendingCount())

	b = Batch{TotalCount: 2, CompletedCount: 2, FailedCount: 1}
	assert.Equal(t, 0, b.PendingCount())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobStatusTerminal(JobStatusCompleted))
	assert.True(t, JobStatusTerminal(JobStatusFailed))
	assert.True(t, JobStatusTerminal(JobStatusCancelled))
	assert.True(t, JobStatusTerminal(JobStatusExpired))
	assert.False(t, JobStatusTerminal(JobStatusPending))
	assert.False(t, JobStatusTerminal(JobStatusRunning))
}
