package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sitepulse/internal/notify"
	"github.com/kiranshivaraju/sitepulse/internal/queue"
	"github.com/kiranshivaraju/sitepulse/internal/store"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fakes ---

type fakeCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]models.JobStatus
	failSet  bool
	gates    map[models.JobStatus]chan struct{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		statuses: map[uuid.UUID]models.JobStatus{},
		gates:    map[models.JobStatus]chan struct{}{},
	}
}

// hold delays every write of status until the returned func is called.
func (c *fakeCache) hold(status models.JobStatus) (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gates[status] = gate
	c.mu.Unlock()
	return func() { close(gate) }
}

func (c *fakeCache) DeleteJobStatus(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, id)
	return nil
}

func (c *fakeCache) SetJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus, _ time.Duration) error {
	c.mu.Lock()
	gate := c.gates[status]
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet {
		return errors.New("cache down")
	}
	c.statuses[id] = status
	return nil
}

func (c *fakeCache) GetJobStatus(_ context.Context, id uuid.UUID) (models.JobStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[id]
	return s, ok, nil
}

type recordingNotifier struct {
	notify.Noop
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Publish(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Setup ---

type harness struct {
	q        *queue.Queue
	store    store.Store
	cache    *fakeCache
	notifier *recordingNotifier
	clock    *clock
}

func setup(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "queue.db"))
	st, err := store.OpenSQLite(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store:    st,
		cache:    newFakeCache(),
		notifier: &recordingNotifier{},
		clock:    &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.q = queue.New(st, h.cache, h.notifier, queue.Options{
		MaxAttempts:    3,
		BackoffInitial: 5 * time.Second,
		BackoffMax:     time.Minute,
	}).WithClock(h.clock.Now)
	return h
}

func websiteRequest(tenant models.Tenant) queue.SubmitRequest {
	return queue.SubmitRequest{
		Type:    models.JobTypeWebsiteAnalysis,
		Payload: json.RawMessage(`{"url":"https://example.com"}`),
		Tenant:  tenant,
	}
}

// --- Submit ---

func TestSubmit_CreatesPendingJob(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	job, err := h.q.Submit(ctx, websiteRequest(models.SessionTenant("s1")))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, 1, h.notifier.count())

	status, found, _ := h.cache.GetJobStatus(ctx, job.ID)
	assert.True(t, found)
	assert.Equal(t, models.JobStatusPending, status)
}

func TestSubmit_DuplicateReturnsExistingJob(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	tenant := models.SessionTenant("s1")

	first, err := h.q.Submit(ctx, websiteRequest(tenant))
	require.NoError(t, err)

	second, err := h.q.Submit(ctx, websiteRequest(tenant))
	require.Error(t, err)
	assert.True(t, errors.Is(err, queue.ErrDuplicateActive))
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	var dup *queue.DuplicateActiveError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.Job.ID)
}

func TestSubmit_ConcurrentSubmissionsCreateOneJob(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	tenant := models.UserTenant("42")

	const callers = 8
	ids := make(chan uuid.UUID, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := h.q.Submit(ctx, websiteRequest(tenant))
			if err != nil && !errors.Is(err, queue.ErrDuplicateActive) {
				t.Errorf("unexpected submit error: %v", err)
				return
			}
			ids <- job.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uuid.UUID]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestSubmit_ActiveProcessingJobBlocksAdmission(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	tenant := models.UserTenant("42")

	first, err := h.q.Submit(ctx, websiteRequest(tenant))
	require.NoError(t, err)
	_, err = h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	existing, err := h.q.Submit(ctx, websiteRequest(tenant))
	assert.ErrorIs(t, err, queue.ErrDuplicateActive)
	assert.Equal(t, first.ID, existing.ID)
	assert.Equal(t, models.JobStatusProcessing, existing.Status)
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   queue.SubmitRequest
		field string
	}{
		{
			name:  "missing tenant",
			req:   websiteRequest(models.Tenant{}),
			field: "tenant",
		},
		{
			name:  "both user and session",
			req:   websiteRequest(models.Tenant{UserID: "1", SessionID: "s1"}),
			field: "tenant",
		},
		{
			name: "invalid url",
			req: queue.SubmitRequest{
				Type: models.JobTypeWebsiteAnalysis, Payload: json.RawMessage(`{"url":"not-a-url"}`),
				Tenant: models.SessionTenant("s1"),
			},
			field: "url",
		},
		{
			name: "unknown type",
			req: queue.SubmitRequest{
				Type: "mining", Payload: json.RawMessage(`{}`), Tenant: models.SessionTenant("s1"),
			},
			field: "type",
		},
		{
			name: "missing payload",
			req: queue.SubmitRequest{
				Type: models.JobTypeContentGeneration, Tenant: models.SessionTenant("s1"),
			},
			field: "payload",
		},
		{
			name: "missing topic",
			req: queue.SubmitRequest{
				Type: models.JobTypeContentGeneration, Payload: json.RawMessage(`{"tone":"warm"}`),
				Tenant: models.SessionTenant("s1"),
			},
			field: "topic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			ctx := context.Background()

			job, err := h.q.Submit(ctx, tt.req)
			require.Error(t, err)
			assert.Nil(t, job)
			assert.ErrorIs(t, err, queue.ErrValidation)

			var ve *queue.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)

			claimed, err := h.q.ClaimNext(ctx, "w1")
			require.NoError(t, err)
			assert.Nil(t, claimed, "no job may be created for a rejected submission")
		})
	}
}

func TestSubmit_StoresCanonicalPayload(t *testing.T) {
	h := setup(t)
	job, err := h.q.Submit(context.Background(), queue.SubmitRequest{
		Type:    models.JobTypeNarrativeGeneration,
		Payload: json.RawMessage(`{ "audience" : "founders" }`),
		Tenant:  models.UserTenant(" 42 "),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"audience":"founders"}`, string(job.Payload))
	assert.Equal(t, models.UserTenant("42"), job.Tenant)
}

// --- Claim ---

func TestClaimNext_ConcurrentWorkersSingleJob(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	_, err := h.q.Submit(ctx, websiteRequest(models.SessionTenant("s1")))
	require.NoError(t, err)

	const workers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			job, err := h.q.ClaimNext(ctx, workerID)
			assert.NoError(t, err)
			if job != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", i))
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

// --- Complete ---

func TestComplete(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	_, err := h.q.Submit(ctx, websiteRequest(models.SessionTenant("s1")))
	require.NoError(t, err)
	job, err := h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	err = h.q.Complete(ctx, job, "w2", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, queue.ErrNotOwned)

	require.NoError(t, h.q.Complete(ctx, job, "w1", json.RawMessage(`{"scenarios":[]}`)))

	got, err := h.q.Status(ctx, job.ID, models.SessionTenant("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)

	err = h.q.Complete(ctx, job, "w1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, queue.ErrInvalidState)
}

// --- Fail / Retry ---

func TestFail_BacksOffThenExhausts(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	_, err := h.q.Submit(ctx, websiteRequest(models.SessionTenant("s1")))
	require.NoError(t, err)

	job, err := h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	status, err := h.q.Fail(ctx, job, "w1", errors.New("fetch failed"), true)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, status)

	// Not runnable until the backoff elapses.
	none, err := h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, none)

	h.clock.Advance(5 * time.Second)
	job, err = h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)

	status, err = h.q.Fail(ctx, job, "w1", errors.New("fetch failed"), true)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, status)

	h.clock.Advance(10 * time.Second)
	job, err = h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)

	status, err = h.q.Fail(ctx, job, "w1", errors.New("fetch failed again"), true)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, status)

	got, err := h.q.Status(ctx, job.ID, models.SessionTenant("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "fetch failed again", *got.ErrorMessage)
	assert.NotNil(t, got.LastErrorAt)
}

func TestFail_NonRetryableIsTerminal(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	_, err := h.q.Submit(ctx, websiteRequest(models.SessionTenant("s1")))
	require.NoError(t, err)
	job, err := h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	status, err := h.q.Fail(ctx, job, "w1", errors.New("undecodable payload"), false)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, status)
}

func TestRelease_ReturnsClaimWithoutChargingAttempt(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	_, err := h.q.Submit(ctx, websiteRequest(models.UserTenant("42")))
	require.NoError(t, err)
	job, err := h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	announced := h.notifier.count()

	assert.ErrorIs(t, h.q.Release(ctx, job, "w2"), queue.ErrNotOwned)
	require.NoError(t, h.q.Release(ctx, job, "w1"))

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	status, _, _ := h.cache.GetJobStatus(ctx, job.ID)
	assert.Equal(t, models.JobStatusPending, status)
	assert.Equal(t, announced+1, h.notifier.count())

	var stateErr *queue.InvalidStateError
	require.ErrorAs(t, h.q.Release(ctx, job, "w1"), &stateErr)
	assert.Equal(t, models.JobStatusPending, stateErr.Status)
}

func TestRetry_AfterExhaustionAllowsFourthAttempt(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	tenant := models.SessionTenant("s1")
	submitted, err := h.q.Submit(ctx, websiteRequest(tenant))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Hour)
		job, err := h.q.ClaimNext(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d should be claimable", i+1)
		_, err = h.q.Fail(ctx, job, "w1", errors.New("boom"), true)
		require.NoError(t, err)
	}

	got, err := h.q.Status(ctx, submitted.ID, tenant)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, got.Status)
	require.Equal(t, 3, got.Attempts)

	retried, err := h.q.Retry(ctx, submitted.ID, tenant)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, retried.Status)
	assert.Equal(t, 3, retried.Attempts, "explicit retry keeps the attempt history")

	job, err := h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, submitted.ID, job.ID)

	// The budget is already spent, so the fourth run's failure is terminal.
	status, err := h.q.Fail(ctx, job, "w1", errors.New("boom"), true)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, status)
}

func TestRetry_InvalidStates(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	tenant := models.SessionTenant("s1")
	job, err := h.q.Submit(ctx, websiteRequest(tenant))
	require.NoError(t, err)

	_, err = h.q.Retry(ctx, job.ID, tenant)
	assert.ErrorIs(t, err, queue.ErrInvalidState)

	var ise *queue.InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, models.JobStatusPending, ise.Status)

	_, err = h.q.Retry(ctx, job.ID, models.SessionTenant("other"))
	assert.ErrorIs(t, err, queue.ErrNotFound)

	_, err = h.q.Retry(ctx, uuid.New(), tenant)
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestRetry_BlockedByNewerActiveJob(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	tenant := models.SessionTenant("s1")
	failed, err := h.q.Submit(ctx, websiteRequest(tenant))
	require.NoError(t, err)
	job, err := h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	_, err = h.q.Fail(ctx, job, "w1", errors.New("fatal"), false)
	require.NoError(t, err)

	newer, err := h.q.Submit(ctx, websiteRequest(tenant))
	require.NoError(t, err)

	existing, err := h.q.Retry(ctx, failed.ID, tenant)
	assert.ErrorIs(t, err, queue.ErrDuplicateActive)
	require.NotNil(t, existing)
	assert.Equal(t, newer.ID, existing.ID)
}

// --- Cancel ---

func TestCancel_ProcessingJob(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	tenant := models.UserTenant("42")
	_, err := h.q.Submit(ctx, websiteRequest(tenant))
	require.NoError(t, err)
	job, err := h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	cancelled, err := h.q.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	got, err := h.q.Cancel(ctx, job.ID, tenant)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)

	cancelled, err = h.q.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// The worker can no longer finish it.
	err = h.q.Complete(ctx, job, "w1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, queue.ErrInvalidState)

	_, err = h.q.Cancel(ctx, job.ID, tenant)
	assert.ErrorIs(t, err, queue.ErrInvalidState)
	_, err = h.q.Cancel(ctx, job.ID, models.UserTenant("43"))
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestIsCancelled_FallsBackToStoreWithoutSnapshot(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	tenant := models.UserTenant("42")
	job, err := h.q.Submit(ctx, websiteRequest(tenant))
	require.NoError(t, err)

	h.cache.failSet = true
	_, err = h.q.Cancel(ctx, job.ID, tenant)
	require.NoError(t, err)

	_, found, _ := h.cache.GetJobStatus(ctx, job.ID)
	assert.False(t, found, "a failed snapshot write must drop the old snapshot")

	cancelled, err := h.q.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestIsCancelled_IgnoresStaleSnapshot(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	tenant := models.UserTenant("42")
	job, err := h.q.Submit(ctx, websiteRequest(tenant))
	require.NoError(t, err)

	release := h.cache.hold(models.JobStatusProcessing)
	claimed := make(chan *models.Job, 1)
	go func() {
		j, err := h.q.ClaimNext(ctx, "w1")
		assert.NoError(t, err)
		claimed <- j
	}()

	require.Eventually(t, func() bool {
		stored, err := h.store.GetJob(ctx, job.ID)
		return err == nil && stored.Status == models.JobStatusProcessing
	}, 5*time.Second, 10*time.Millisecond)

	_, err = h.q.Cancel(ctx, job.ID, tenant)
	require.NoError(t, err)

	// The claim's snapshot lands after the cancel's.
	release()
	require.NotNil(t, <-claimed)
	status, found, _ := h.cache.GetJobStatus(ctx, job.ID)
	require.True(t, found)
	require.Equal(t, models.JobStatusProcessing, status)

	cancelled, err := h.q.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

// --- Status / Progress ---

func TestStatus_TenantScoped(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	job, err := h.q.Submit(ctx, websiteRequest(models.SessionTenant("s1")))
	require.NoError(t, err)

	_, err = h.q.Status(ctx, job.ID, models.SessionTenant("s2"))
	assert.ErrorIs(t, err, queue.ErrNotFound)
	_, err = h.q.Status(ctx, uuid.New(), models.SessionTenant("s1"))
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestReportProgress(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	tenant := models.SessionTenant("s1")
	_, err := h.q.Submit(ctx, websiteRequest(tenant))
	require.NoError(t, err)
	job, err := h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	p := models.Progress{Step: 1, Total: 4, Label: "Analyzing website"}
	require.NoError(t, h.q.ReportProgress(ctx, job.ID, "w1", p))
	assert.ErrorIs(t, h.q.ReportProgress(ctx, job.ID, "w2", p), queue.ErrNotOwned)
	require.NoError(t, h.q.Heartbeat(ctx, job.ID, "w1"))

	got, err := h.q.Status(ctx, job.ID, tenant)
	require.NoError(t, err)
	assert.Equal(t, p, got.Progress())
}

// --- Backoff ---

func TestBackoff(t *testing.T) {
	q := queue.New(nil, nil, nil, queue.Options{
		MaxAttempts: 5, BackoffInitial: 5 * time.Second, BackoffMax: time.Minute,
	})
	assert.Equal(t, time.Duration(0), q.Backoff(0))
	assert.Equal(t, 5*time.Second, q.Backoff(1))
	assert.Equal(t, 10*time.Second, q.Backoff(2))
	assert.Equal(t, 20*time.Second, q.Backoff(3))
	assert.Equal(t, 40*time.Second, q.Backoff(4))
	assert.Equal(t, time.Minute, q.Backoff(5))
	assert.Equal(t, time.Minute, q.Backoff(50))
}

// --- Adoption / Reaper ---

func TestAdopt(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	job, err := h.q.Submit(ctx, websiteRequest(models.SessionTenant("s1")))
	require.NoError(t, err)

	res, err := h.q.Adopt(ctx, "s1", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.JobsMoved)

	_, err = h.q.Status(ctx, job.ID, models.SessionTenant("s1"))
	assert.ErrorIs(t, err, queue.ErrNotFound)
	got, err := h.q.Status(ctx, job.ID, models.UserTenant("42"))
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	res, err = h.q.Adopt(ctx, "s1", "42")
	require.NoError(t, err)
	assert.True(t, res.Noop())

	_, err = h.q.Adopt(ctx, "", "42")
	assert.ErrorIs(t, err, queue.ErrValidation)
}

func TestReapStale(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	_, err := h.q.Submit(ctx, websiteRequest(models.SessionTenant("s1")))
	require.NoError(t, err)
	job, err := h.q.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	res, err := h.q.ReapStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, store.StaleJobsResult{}, res)

	h.clock.Advance(11 * time.Minute)
	before := h.notifier.count()
	res, err = h.q.ReapStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Requeued)
	assert.Equal(t, before+1, h.notifier.count())

	// The original worker lost its claim.
	err = h.q.Complete(ctx, job, "w1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, queue.ErrInvalidState)

	again, err := h.q.ClaimNext(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 1, again.Attempts)
}
