package repository

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"stoflow/internal/models"
)

func pendingJob(marketplace string, priority int) *models.Job {
	return &models.Job{
		TenantID:    "tenant-1",
		Marketplace: marketplace,
		Action:      "publish",
		Priority:    priority,
		MaxAttempts: 3,
	}
}

func TestClaimNextExclusivity(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	require.NoError(t, repo.Create(pendingJob("vinted", 0)))

	const workers = 10
	var claimed int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := repo.ClaimNext("vinted", nil)
			if err == nil && job != nil {
				atomic.AddInt64(&claimed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), claimed, "exactly one worker may claim the job")
}

func TestClaimNextPriorityThenFIFO(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))

	low := pendingJob("ebay", 0)
	require.NoError(t, repo.Create(low))
	time.Sleep(5 * time.Millisecond)
	highFirst := pendingJob("ebay", 5)
	require.NoError(t, repo.Create(highFirst))
	time.Sleep(5 * time.Millisecond)
	highSecond := pendingJob("ebay", 5)
	require.NoError(t, repo.Create(highSecond))

	first, err := repo.ClaimNext("ebay", nil)
	require.NoError(t, err)
	assert.Equal(t, highFirst.ID, first.ID, "highest priority, earliest created wins")

	second, err := repo.ClaimNext("ebay", nil)
	require.NoError(t, err)
	assert.Equal(t, highSecond.ID, second.ID)

	third, err := repo.ClaimNext("ebay", nil)
	require.NoError(t, err)
	assert.Equal(t, low.ID, third.ID)

	_, err = repo.ClaimNext("ebay", nil)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestClaimNextSkipsOtherMarketplaces(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	require.NoError(t, repo.Create(pendingJob("etsy", 0)))

	_, err := repo.ClaimNext("ebay", nil)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestClaimNextSkipsPausedTenants(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	require.NoError(t, repo.Create(pendingJob("vinted", 0)))

	_, err := repo.ClaimNext("vinted", []string{"tenant-1"})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	job, err := repo.ClaimNext("vinted", []string{"tenant-2"})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
}

func TestClaimNextHonorsNextAttemptAt(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	job := pendingJob("vinted", 0)
	job.NextAttemptAt = time.Now().Add(time.Hour)
	require.NoError(t, repo.Create(job))

	_, err := repo.ClaimNext("vinted", nil)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound, "backoff window keeps the job unclaimable")
}

func TestClaimSetsStartedAtOnce(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	job := pendingJob("vinted", 0)
	require.NoError(t, repo.Create(job))

	claimed, err := repo.ClaimNext("vinted", nil)
	require.NoError(t, err)
	require.NotNil(t, claimed.StartedAt)
	firstStart := *claimed.StartedAt

	require.NoError(t, repo.Requeue(job.ID, "transient", time.Now(), true))
	time.Sleep(10 * time.Millisecond)

	reclaimed, err := repo.ClaimNext("vinted", nil)
	require.NoError(t, err)
	require.NotNil(t, reclaimed.StartedAt)
	assert.WithinDuration(t, firstStart, *reclaimed.StartedAt, time.Millisecond,
		"started_at must keep its first value across retries")
	assert.Equal(t, 1, reclaimed.AttemptCount)
}

func TestFinalizeOnlyRunningJobs(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	job := pendingJob("ebay", 0)
	require.NoError(t, repo.Create(job))

	err := repo.Finalize(job.ID, models.JobStatusCompleted, `{"ok":true}`, "", "", true)
	assert.ErrorIs(t, err, ErrNotClaimable, "a pending job cannot be finalized")

	_, err = repo.ClaimNext("ebay", nil)
	require.NoError(t, err)
	require.NoError(t, repo.Finalize(job.ID, models.JobStatusCompleted, `{"ok":true}`, "", "", true))

	final, err := repo.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 1, final.AttemptCount)
	require.NotNil(t, final.CompletedAt)

	// A second finalize is a no-op: the job already left running.
	err = repo.Finalize(job.ID, models.JobStatusFailed, "", "late failure", "retryable", true)
	assert.ErrorIs(t, err, ErrNotClaimable)

	unchanged, err := repo.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, unchanged.Status)
}

func TestCancelOnlyPending(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	job := pendingJob("etsy", 0)
	require.NoError(t, repo.Create(job))

	require.NoError(t, repo.Cancel(job.ID))
	cancelled, err := repo.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	running := pendingJob("etsy", 0)
	require.NoError(t, repo.Create(running))
	_, err = repo.ClaimNext("etsy", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Cancel(running.ID), ErrNotClaimable)
}

func TestExpireOnlyUnclaimed(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	job := pendingJob("vinted", 0)
	require.NoError(t, repo.Create(job))

	stale, err := repo.ListUnclaimedBefore(time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	require.NoError(t, repo.Expire(job.ID, "job expired before any worker claimed it"))
	expired, err := repo.FindByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusExpired, expired.Status)

	// Expiring again is a no-op.
	assert.ErrorIs(t, repo.Expire(job.ID, "again"), ErrNotClaimable)
}

func TestListRunningBefore(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	job := pendingJob("ebay", 0)
	require.NoError(t, repo.Create(job))
	_, err := repo.ClaimNext("ebay", nil)
	require.NoError(t, err)

	none, err := repo.ListRunningBefore(time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	stuck, err := repo.ListRunningBefore(time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, job.ID, stuck[0].ID)
}
