package jobs

import (
	"context"
	"testing"
	"time"

	"leadhub/internal/tenant"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupJobStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewGormStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func newStoredJob(id string, createdAt time.Time) *Job {
	return &Job{
		ID:          id,
		Type:        "test:noop",
		Payload:     []byte(`{"n":1}`),
		Snapshot:    tenant.Snapshot{TenantID: "T1", ActorID: "U1"},
		Status:      StatusPending,
		MaxAttempts: 3,
		ProcessAt:   createdAt,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestGormStoreClaimDue(t *testing.T) {
	store := setupJobStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newStoredJob("job-b", testEpoch.Add(time.Second))))
	require.NoError(t, store.Insert(ctx, newStoredJob("job-a", testEpoch)))
	future := newStoredJob("job-c", testEpoch)
	future.ProcessAt = testEpoch.Add(time.Hour)
	require.NoError(t, store.Insert(ctx, future))

	now := testEpoch.Add(time.Minute)
	claimed, err := store.ClaimDue(ctx, now, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "job-a", claimed[0].ID)
	assert.Equal(t, "job-b", claimed[1].ID)
	assert.Equal(t, StatusProcessing, claimed[0].Status)
	assert.Equal(t, tenant.Snapshot{TenantID: "T1", ActorID: "U1"}, claimed[0].Snapshot)

	again, err := store.ClaimDue(ctx, now, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed jobs must not be handed out twice")

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts[StatusProcessing])
	assert.EqualValues(t, 1, counts[StatusPending])
}

func TestGormStoreUpdateAndReap(t *testing.T) {
	store := setupJobStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newStoredJob("job-a", testEpoch)))
	job, err := store.Get(ctx, "job-a")
	require.NoError(t, err)

	finished := testEpoch.Add(time.Minute)
	job.Status = StatusFailed
	job.Attempts = 3
	job.LastError = "boom"
	job.FinishedAt = &finished
	require.NoError(t, store.Update(ctx, job))

	got, err := store.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "boom", got.LastError)
	require.NotNil(t, got.FinishedAt)

	n, err := store.DeleteFinishedBefore(ctx, finished)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = store.DeleteFinishedBefore(ctx, finished.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = store.Get(ctx, "job-a")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, store.Update(ctx, job), ErrJobNotFound)
}

func TestQueueOverGormStore(t *testing.T) {
	q, clk := newTestQueue(t, setupJobStore(t), Config{BaseDelay: time.Second, MaxAttempts: 2})
	ctx := context.Background()

	var seen []string
	fail := true
	q.RegisterProcessor("EMAIL_FETCH", func(ctx context.Context, job *Job) error {
		seen = append(seen, tenant.MustFromContext(ctx).TenantID)
		if fail {
			fail = false
			return assert.AnError
		}
		return nil
	})

	id, err := q.Enqueue(tenantCtx("T1", "U1"), "EMAIL_FETCH", map[string]string{"mailbox": "INBOX"}, EnqueueOptions{})
	require.NoError(t, err)

	_, err = q.Tick(ctx)
	require.NoError(t, err)
	clk.Add(time.Second)
	_, err = q.Tick(ctx)
	require.NoError(t, err)

	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, []string{"T1", "T1"}, seen)

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Completed: 1}, stats)
}

func TestStoresReclaimExpiredLease(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"gorm":   func(t *testing.T) Store { return setupJobStore(t) },
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()
			lease := 10 * time.Minute
			require.NoError(t, store.Insert(ctx, newStoredJob("job-a", testEpoch)))

			claimed, err := store.ClaimDue(ctx, testEpoch, testEpoch.Add(-lease), 10)
			require.NoError(t, err)
			require.Len(t, claimed, 1)

			// the runner died without recording an outcome
			now := testEpoch.Add(5 * time.Minute)
			claimed, err = store.ClaimDue(ctx, now, now.Add(-lease), 10)
			require.NoError(t, err)
			assert.Empty(t, claimed, "lease still held")

			now = testEpoch.Add(lease + time.Second)
			claimed, err = store.ClaimDue(ctx, now, now.Add(-lease), 10)
			require.NoError(t, err)
			require.Len(t, claimed, 1)
			assert.Equal(t, "job-a", claimed[0].ID)
			assert.Equal(t, StatusProcessing, claimed[0].Status)

			again, err := store.ClaimDue(ctx, now, now.Add(-lease), 10)
			require.NoError(t, err)
			assert.Empty(t, again, "a reclaimed job is handed to one runner only")
		})
	}
}

func TestQueueRecordsOutcomeWhenStoppedMidRun(t *testing.T) {
	q, _ := newTestQueue(t, setupJobStore(t), Config{})
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	calls := 0
	q.RegisterProcessor("EMAIL_FETCH", func(ctx context.Context, job *Job) error {
		calls++
		if calls == 1 {
			stop()
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	id, err := q.Enqueue(tenantCtx("T1", "U1"), "EMAIL_FETCH", nil, EnqueueOptions{})
	require.NoError(t, err)

	n, err := q.Tick(runCtx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := q.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status, "interrupted job goes back to the queue")
	assert.Zero(t, job.Attempts)
	assert.Contains(t, job.LastError, "context canceled")

	_, err = q.Tick(context.Background())
	require.NoError(t, err)
	job, err = q.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 2, calls)
}

func TestQueueReclaimsJobAbandonedInProcessing(t *testing.T) {
	store := setupJobStore(t)
	q, clk := newTestQueue(t, store, Config{VisibilityTimeout: time.Minute})
	ctx := context.Background()

	ran := 0
	q.RegisterProcessor("EMAIL_FETCH", func(ctx context.Context, job *Job) error {
		ran++
		return nil
	})
	id, err := q.Enqueue(tenantCtx("T1", "U1"), "EMAIL_FETCH", nil, EnqueueOptions{})
	require.NoError(t, err)

	// a previous process claimed the job and exited before recording anything
	claimed, err := store.ClaimDue(ctx, clk.Now(), clk.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := q.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Add(time.Minute)
	n, err = q.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, ran)

	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
}
