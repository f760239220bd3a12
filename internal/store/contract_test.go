package store_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sitepulse/internal/store"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every Store implementation must share.
// open must return an empty, migrated store.
func runStoreContract(t *testing.T, open func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"APIKeyCreateAndGet", testAPIKeyCreateAndGet},
		{"APIKeyDuplicateID", testAPIKeyDuplicateID},
		{"JobCreateAndGet", testJobCreateAndGet},
		{"JobGetNotFound", testJobGetNotFound},
		{"JobTenantScoped", testJobTenantScoped},
		{"OneActiveJobPerTenantAndType", testOneActiveJobPerTenantAndType},
		{"ClaimOrdersByPriorityThenAge", testClaimOrder},
		{"ClaimRespectsRunAfter", testClaimRespectsRunAfter},
		{"ClaimEmptyQueue", testClaimEmptyQueue},
		{"ConcurrentClaimsAreExclusive", testConcurrentClaims},
		{"CompleteRequiresOwner", testCompleteRequiresOwner},
		{"FailRequeuesThenTerminates", testFailRequeuesThenTerminates},
		{"FailGuardsAttempts", testFailGuardsAttempts},
		{"ReleaseKeepsAttempts", testReleaseKeepsAttempts},
		{"RetryOnlyFromFailed", testRetryOnlyFromFailed},
		{"CancelActiveJob", testCancelActiveJob},
		{"ProgressAndHeartbeat", testProgressAndHeartbeat},
		{"RequeueStaleJobs", testRequeueStaleJobs},
		{"TenantRecordUpsert", testTenantRecordUpsert},
		{"AdoptSession", testAdoptSession},
		{"AdoptSessionCollision", testAdoptSessionCollision},
		{"Ping", func(t *testing.T, s store.Store) { assert.NoError(t, s.Ping(context.Background())) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func baseTime() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newJob(tenant models.Tenant, jobType models.JobType, at time.Time) *models.Job {
	return &models.Job{
		ID:          uuid.New(),
		Type:        jobType,
		Tenant:      tenant,
		Status:      models.JobStatusPending,
		MaxAttempts: 3,
		Payload:     json.RawMessage(`{"url":"https://example.com"}`),
		RunAfter:    at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func createJob(t *testing.T, s store.Store, job *models.Job) *models.Job {
	t.Helper()
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func testAPIKeyCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    "42",
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "sp_abcd",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "sp_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "42", keys[0].UserID)
	assert.Nil(t, keys[0].LastUsedAt)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "sp_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func testAPIKeyDuplicateID(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	key := &models.APIKey{ID: uuid.New(), UserID: "1", Name: "a", KeyHash: "h", KeyPrefix: "sp_dup", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	err := s.CreateAPIKey(ctx, key)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func testJobCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := createJob(t, s, newJob(models.UserTenant("42"), models.JobTypeWebsiteAnalysis, baseTime()))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, models.UserTenant("42"), got.Tenant)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(got.Payload))
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.WorkerID)
}

func testJobGetNotFound(t *testing.T, s store.Store) {
	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testJobTenantScoped(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := createJob(t, s, newJob(models.SessionTenant("s1"), models.JobTypeWebsiteAnalysis, baseTime()))

	got, err := s.GetTenantJob(ctx, job.ID, models.SessionTenant("s1"))
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = s.GetTenantJob(ctx, job.ID, models.SessionTenant("s2"))
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetTenantJob(ctx, job.ID, models.UserTenant("s1"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testOneActiveJobPerTenantAndType(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenant := models.UserTenant("42")
	first := createJob(t, s, newJob(tenant, models.JobTypeWebsiteAnalysis, baseTime()))

	err := s.CreateJob(ctx, newJob(tenant, models.JobTypeWebsiteAnalysis, baseTime()))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	// Other types and other tenants are unaffected.
	createJob(t, s, newJob(tenant, models.JobTypeContentGeneration, baseTime()))
	createJob(t, s, newJob(models.UserTenant("43"), models.JobTypeWebsiteAnalysis, baseTime()))

	active, err := s.GetActiveJob(ctx, tenant, models.JobTypeWebsiteAnalysis)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	// Once terminal, a new job of the same type is admitted.
	_, err = s.CancelJob(ctx, first.ID, tenant, baseTime())
	require.NoError(t, err)
	createJob(t, s, newJob(tenant, models.JobTypeWebsiteAnalysis, baseTime()))
}

func testClaimOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()

	older := newJob(models.UserTenant("1"), models.JobTypeWebsiteAnalysis, now.Add(-2*time.Minute))
	newer := newJob(models.UserTenant("2"), models.JobTypeWebsiteAnalysis, now.Add(-1*time.Minute))
	urgent := newJob(models.UserTenant("3"), models.JobTypeWebsiteAnalysis, now)
	urgent.Priority = 10
	for _, j := range []*models.Job{newer, urgent, older} {
		createJob(t, s, j)
	}

	var order []uuid.UUID
	for i := 0; i < 3; i++ {
		j, err := s.ClaimNextJob(ctx, "w1", now)
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, models.JobStatusProcessing, j.Status)
		assert.True(t, j.ClaimedBy("w1"))
		assert.NotNil(t, j.StartedAt)
		order = append(order, j.ID)
	}
	assert.Equal(t, []uuid.UUID{urgent.ID, older.ID, newer.ID}, order)
}

func testClaimRespectsRunAfter(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	job := newJob(models.UserTenant("1"), models.JobTypeWebsiteAnalysis, now)
	job.RunAfter = now.Add(time.Minute)
	createJob(t, s, job)

	got, err := s.ClaimNextJob(ctx, "w1", now)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.ClaimNextJob(ctx, "w1", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
}

func testClaimEmptyQueue(t *testing.T, s store.Store) {
	got, err := s.ClaimNextJob(context.Background(), "w1", baseTime())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testConcurrentClaims(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	const jobs = 10
	for i := 0; i < jobs; i++ {
		createJob(t, s, newJob(models.UserTenant(uuid.NewString()), models.JobTypeWebsiteAnalysis, now))
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		claimed = map[uuid.UUID]string{}
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				j, err := s.ClaimNextJob(ctx, workerID, now)
				if err != nil || j == nil {
					return
				}
				mu.Lock()
				_, dup := claimed[j.ID]
				assert.False(t, dup, "job %s claimed twice", j.ID)
				claimed[j.ID] = workerID
				mu.Unlock()
			}
		}(uuid.NewString())
	}
	wg.Wait()
	assert.Len(t, claimed, jobs)
}

func testCompleteRequiresOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	job := createJob(t, s, newJob(models.UserTenant("1"), models.JobTypeWebsiteAnalysis, now))

	// Not yet claimed.
	err := s.CompleteJob(ctx, job.ID, "w1", json.RawMessage(`{}`), now)
	assert.ErrorIs(t, err, store.ErrStaleState)

	_, err = s.ClaimNextJob(ctx, "w1", now)
	require.NoError(t, err)

	err = s.CompleteJob(ctx, job.ID, "w2", json.RawMessage(`{}`), now)
	assert.ErrorIs(t, err, store.ErrStaleState)

	require.NoError(t, s.CompleteJob(ctx, job.ID, "w1", json.RawMessage(`{"ok":true}`), now))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	assert.NotNil(t, got.CompletedAt)

	// Terminal jobs never move again.
	err = s.CompleteJob(ctx, job.ID, "w1", json.RawMessage(`{}`), now)
	assert.ErrorIs(t, err, store.ErrStaleState)
}

func testFailRequeuesThenTerminates(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	job := createJob(t, s, newJob(models.UserTenant("1"), models.JobTypeWebsiteAnalysis, now))

	claimed, err := s.ClaimNextJob(ctx, "w1", now)
	require.NoError(t, err)
	require.NoError(t, s.FailJob(ctx, store.JobFailure{
		ID: job.ID, WorkerID: "w1", PrevAttempts: claimed.Attempts,
		ErrorMessage: "boom", RunAfter: now.Add(time.Minute), At: now,
	}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "boom", *got.ErrorMessage)
	assert.Nil(t, got.WorkerID)

	claimed, err = s.ClaimNextJob(ctx, "w2", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, s.FailJob(ctx, store.JobFailure{
		ID: job.ID, WorkerID: "w2", PrevAttempts: claimed.Attempts, Terminal: true,
		ErrorMessage: "boom again", RunAfter: now, At: now,
	}))

	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.NotNil(t, got.CompletedAt)
}

func testFailGuardsAttempts(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	job := createJob(t, s, newJob(models.UserTenant("1"), models.JobTypeWebsiteAnalysis, now))
	_, err := s.ClaimNextJob(ctx, "w1", now)
	require.NoError(t, err)

	err = s.FailJob(ctx, store.JobFailure{ID: job.ID, WorkerID: "w1", PrevAttempts: 5, ErrorMessage: "x", RunAfter: now, At: now})
	assert.ErrorIs(t, err, store.ErrStaleState)
}

func testReleaseKeepsAttempts(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	job := createJob(t, s, newJob(models.UserTenant("1"), models.JobTypeWebsiteAnalysis, now))

	// Not yet claimed.
	assert.ErrorIs(t, s.ReleaseJob(ctx, job.ID, "w1", now), store.ErrStaleState)

	_, err := s.ClaimNextJob(ctx, "w1", now)
	require.NoError(t, err)
	require.NoError(t, s.UpdateJobProgress(ctx, job.ID, "w1", models.Progress{Step: 1, Total: 4, Label: "Analyzing website"}, now))

	assert.ErrorIs(t, s.ReleaseJob(ctx, job.ID, "w2", now), store.ErrStaleState)
	require.NoError(t, s.ReleaseJob(ctx, job.ID, "w1", now.Add(time.Second)))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Nil(t, got.WorkerID)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, 0, got.ProgressStep)

	claimed, err := s.ClaimNextJob(ctx, "w2", now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
}

func testRetryOnlyFromFailed(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	tenant := models.UserTenant("1")
	job := createJob(t, s, newJob(tenant, models.JobTypeWebsiteAnalysis, now))

	_, err := s.RetryJob(ctx, job.ID, tenant, now)
	assert.ErrorIs(t, err, store.ErrStaleState)

	_, err = s.RetryJob(ctx, uuid.New(), tenant, now)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.ClaimNextJob(ctx, "w1", now)
	require.NoError(t, err)
	require.NoError(t, s.FailJob(ctx, store.JobFailure{
		ID: job.ID, WorkerID: "w1", Terminal: true, ErrorMessage: "fatal", RunAfter: now, At: now,
	}))

	_, err = s.RetryJob(ctx, job.ID, models.UserTenant("2"), now)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.RetryJob(ctx, job.ID, tenant, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.WorkerID)
}

func testCancelActiveJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	tenant := models.SessionTenant("s1")
	job := createJob(t, s, newJob(tenant, models.JobTypeWebsiteAnalysis, now))
	_, err := s.ClaimNextJob(ctx, "w1", now)
	require.NoError(t, err)

	got, err := s.CancelJob(ctx, job.ID, tenant, now)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)

	// The worker that still holds the job can no longer finish it.
	err = s.CompleteJob(ctx, job.ID, "w1", json.RawMessage(`{}`), now)
	assert.ErrorIs(t, err, store.ErrStaleState)

	_, err = s.CancelJob(ctx, job.ID, tenant, now)
	assert.ErrorIs(t, err, store.ErrStaleState)
}

func testProgressAndHeartbeat(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	job := createJob(t, s, newJob(models.UserTenant("1"), models.JobTypeWebsiteAnalysis, now))

	err := s.UpdateJobProgress(ctx, job.ID, "w1", models.Progress{Step: 1, Total: 4, Label: "x"}, now)
	assert.ErrorIs(t, err, store.ErrStaleState)

	_, err = s.ClaimNextJob(ctx, "w1", now)
	require.NoError(t, err)

	p := models.Progress{Step: 2, Total: 4, Label: "Generating audiences"}
	require.NoError(t, s.UpdateJobProgress(ctx, job.ID, "w1", p, now.Add(time.Second)))
	require.NoError(t, s.HeartbeatJob(ctx, job.ID, "w1", now.Add(2*time.Second)))
	assert.ErrorIs(t, s.HeartbeatJob(ctx, job.ID, "w2", now), store.ErrStaleState)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got.Progress())
	require.NotNil(t, got.HeartbeatAt)
	assert.True(t, got.HeartbeatAt.Equal(now.Add(2*time.Second)))
}

func testRequeueStaleJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()

	fresh := createJob(t, s, newJob(models.UserTenant("1"), models.JobTypeWebsiteAnalysis, now))
	stale := createJob(t, s, newJob(models.UserTenant("2"), models.JobTypeWebsiteAnalysis, now))
	exhausted := newJob(models.UserTenant("3"), models.JobTypeWebsiteAnalysis, now)
	exhausted.MaxAttempts = 1
	createJob(t, s, exhausted)

	for i := 0; i < 3; i++ {
		_, err := s.ClaimNextJob(ctx, "w1", now)
		require.NoError(t, err)
	}
	require.NoError(t, s.HeartbeatJob(ctx, fresh.ID, "w1", now.Add(10*time.Minute)))

	res, err := s.RequeueStaleJobs(ctx, now.Add(5*time.Minute), now.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Requeued)
	assert.Equal(t, int64(1), res.Failed)

	got, err := s.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	got, err = s.GetJob(ctx, exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)

	got, err = s.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
}

func testTenantRecordUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	tenant := models.UserTenant("42")

	_, err := s.GetTenantRecord(ctx, tenant)
	assert.ErrorIs(t, err, store.ErrNotFound)

	first, err := s.UpsertTenantRecord(ctx, &models.TenantRecord{
		ID: uuid.New(), Tenant: tenant, WebsiteURL: "https://a.example",
		BusinessName: "Acme", Analysis: models.Analysis{BusinessName: "Acme", Keywords: []string{"tools"}},
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	second, err := s.UpsertTenantRecord(ctx, &models.TenantRecord{
		ID: uuid.New(), Tenant: tenant, WebsiteURL: "https://b.example",
		BusinessName: "Acme Two", CreatedAt: now, UpdatedAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := s.GetTenantRecord(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "https://b.example", got.WebsiteURL)
	assert.Equal(t, "Acme Two", got.BusinessName)
	assert.Equal(t, tenant, got.Tenant)
}

func testAdoptSession(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	session := models.SessionTenant("s1")
	user := models.UserTenant("42")

	job := createJob(t, s, newJob(session, models.JobTypeWebsiteAnalysis, now))
	_, err := s.UpsertTenantRecord(ctx, &models.TenantRecord{
		ID: uuid.New(), Tenant: session, BusinessName: "Acme", CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	res, err := s.AdoptSession(ctx, "s1", "42", now)
	require.NoError(t, err)
	assert.Equal(t, models.AdoptionResult{JobsMoved: 1, RecordsMoved: 1}, res)

	got, err := s.GetTenantJob(ctx, job.ID, user)
	require.NoError(t, err)
	assert.Equal(t, user, got.Tenant)
	_, err = s.GetTenantJob(ctx, job.ID, session)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec, err := s.GetTenantRecord(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec.BusinessName)

	// Adopting again finds nothing to move.
	res, err = s.AdoptSession(ctx, "s1", "42", now)
	require.NoError(t, err)
	assert.True(t, res.Noop())
}

func testAdoptSessionCollision(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := baseTime()
	session := models.SessionTenant("s1")
	user := models.UserTenant("42")

	userJob := createJob(t, s, newJob(user, models.JobTypeWebsiteAnalysis, now))
	sessionJob := createJob(t, s, newJob(session, models.JobTypeWebsiteAnalysis, now))
	otherJob := createJob(t, s, newJob(session, models.JobTypeNarrativeGeneration, now))

	for _, tenant := range []models.Tenant{user, session} {
		_, err := s.UpsertTenantRecord(ctx, &models.TenantRecord{
			ID: uuid.New(), Tenant: tenant, BusinessName: tenant.Key(), CreatedAt: now, UpdatedAt: now,
		})
		require.NoError(t, err)
	}

	res, err := s.AdoptSession(ctx, "s1", "42", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.JobsCancelled)
	assert.Equal(t, int64(2), res.JobsMoved)
	assert.Equal(t, int64(1), res.RecordsDropped)
	assert.Equal(t, int64(0), res.RecordsMoved)

	got, err := s.GetJob(ctx, sessionJob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Equal(t, user, got.Tenant)

	got, err = s.GetJob(ctx, otherJob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)

	active, err := s.GetActiveJob(ctx, user, models.JobTypeWebsiteAnalysis)
	require.NoError(t, err)
	assert.Equal(t, userJob.ID, active.ID)

	rec, err := s.GetTenantRecord(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "user:42", rec.BusinessName)
}
