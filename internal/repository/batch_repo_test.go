package repository

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stoflow/internal/models"
)

func newBatch(t *testing.T, repo *BatchRepository, total int) *models.Batch {
	t.Helper()
	batch := &models.Batch{
		TenantID:    "tenant-1",
		Marketplace: "vinted",
		Action:      "publish",
		TotalCount:  total,
	}
	require.NoError(t, repo.Create(batch))
	return batch
}

func TestOnJobTerminalRollsUpCounters(t *testing.T) {
	repo := NewBatchRepository(newTestDB(t))
	batch := newBatch(t, repo, 3)

	require.NoError(t, repo.OnJobTerminal(batch.ID, models.JobStatusCompleted))
	require.NoError(t, repo.OnJobTerminal(batch.ID, models.JobStatusCompleted))

	mid, err := repo.FindByID(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, mid.CompletedCount)
	assert.Equal(t, models.BatchStatusRunning, mid.Status)
	assert.Nil(t, mid.CompletedAt)

	require.NoError(t, repo.OnJobTerminal(batch.ID, models.JobStatusFailed))

	final, err := repo.FindByID(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, final.CompletedCount)
	assert.Equal(t, 1, final.FailedCount)
	assert.Equal(t, models.BatchStatusPartiallyFailed, final.Status)
	require.NotNil(t, final.CompletedAt)
}

func TestOnJobTerminalAllCompleted(t *testing.T) {
	repo := NewBatchRepository(newTestDB(t))
	batch := newBatch(t, repo, 2)

	require.NoError(t, repo.OnJobTerminal(batch.ID, models.JobStatusCompleted))
	require.NoError(t, repo.OnJobTerminal(batch.ID, models.JobStatusCompleted))

	final, err := repo.FindByID(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, final.Status)
}

func TestOnJobTerminalExpiredCountsAsFailed(t *testing.T) {
	repo := NewBatchRepository(newTestDB(t))
	batch := newBatch(t, repo, 1)

	require.NoError(t, repo.OnJobTerminal(batch.ID, models.JobStatusExpired))

	final, err := repo.FindByID(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.FailedCount)
	assert.Equal(t, models.BatchStatusFailed, final.Status)
}

func TestOnJobTerminalRejectsNonTerminalStatus(t *testing.T) {
	repo := NewBatchRepository(newTestDB(t))
	batch := newBatch(t, repo, 1)

	assert.Error(t, repo.OnJobTerminal(batch.ID, models.JobStatusRunning))
}

func TestOnJobTerminalConcurrentCountersNeverExceedTotal(t *testing.T) {
	repo := NewBatchRepository(newTestDB(t))
	const total = 20
	batch := newBatch(t, repo, total)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		status := models.JobStatusCompleted
		if i%4 == 0 {
			status = models.JobStatusFailed
		}
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			assert.NoError(t, repo.OnJobTerminal(batch.ID, s))
		}(status)
	}
	wg.Wait()

	final, err := repo.FindByID(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, total, final.CompletedCount+final.FailedCount+final.CancelledCount)
	assert.Equal(t, models.BatchStatusPartiallyFailed, final.Status)
	assert.Equal(t, 0, final.PendingCount())
}

func TestBatchCompletedAtSetOnce(t *testing.T) {
	repo := NewBatchRepository(newTestDB(t))
	batch := newBatch(t, repo, 1)

	require.NoError(t, repo.OnJobTerminal(batch.ID, models.JobStatusCompleted))
	first, err := repo.FindByID(batch.ID)
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)

	// A straggler rollup after the batch turned terminal must not move
	// completed_at.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.OnJobTerminal(batch.ID, models.JobStatusFailed))

	second, err := repo.FindByID(batch.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, *first.CompletedAt, *second.CompletedAt, time.Millisecond)
}

func TestMarkStartedIdempotent(t *testing.T) {
	repo := NewBatchRepository(newTestDB(t))
	batch := newBatch(t, repo, 2)

	first := time.Now().Add(-time.Minute)
	require.NoError(t, repo.MarkStarted(batch.ID, first))
	require.NoError(t, repo.MarkStarted(batch.ID, time.Now()))

	got, err := repo.FindByID(batch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	assert.WithinDuration(t, first, *got.StartedAt, time.Millisecond)
	assert.Equal(t, models.BatchStatusRunning, got.Status)
}
