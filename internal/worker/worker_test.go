package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasland/landscraper/internal/captcha"
	"github.com/atlasland/landscraper/internal/scrape"
)

// fakeStore is an in-memory scrape.Store good enough for loop tests.
type fakeStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*scrape.Job
	records map[uuid.UUID]scrape.ScrapedRecord
	owners  map[uuid.UUID][]scrape.ScrapedOwner
	logs    []scrape.LogEntry

	fetchErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:    make(map[uuid.UUID]*scrape.Job),
		records: make(map[uuid.UUID]scrape.ScrapedRecord),
		owners:  make(map[uuid.UUID][]scrape.ScrapedOwner),
	}
}

func (s *fakeStore) addJob(job scrape.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := job
	if j.Status == "" {
		j.Status = scrape.JobStatusPending
	}
	s.jobs[j.ID] = &j
}

func (s *fakeStore) job(id uuid.UUID) scrape.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *fakeStore) CreateJob(_ context.Context, job scrape.Job) error {
	s.addJob(job)
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return scrape.Job{}, &scrape.NotFoundError{Message: "job not found"}
	}
	return *j, nil
}

func (s *fakeStore) ListJobs(_ context.Context, status scrape.JobStatus, limit int) ([]scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scrape.Job
	for _, j := range s.jobs {
		if status == "" || j.Status == status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *fakeStore) FetchPending(_ context.Context, limit int) ([]scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []scrape.Job
	for _, j := range s.jobs {
		if j.Status == scrape.JobStatusPending && len(out) < limit {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *fakeStore) ClaimPending(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != scrape.JobStatusPending {
		return false, nil
	}
	j.Status = scrape.JobStatusRunning
	j.Attempts++
	return true, nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, id, recordID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status = scrape.JobStatusCompleted
	j.ResultRecordID = &recordID
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status = scrape.JobStatusFailed
	j.ErrorMessage = errText
	return nil
}

func (s *fakeStore) MarkCaptchaRequired(_ context.Context, id uuid.UUID, imageBase64 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status = scrape.JobStatusCaptchaRequired
	j.CaptchaImageBase64 = imageBase64
	return nil
}

func (s *fakeStore) Requeue(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != scrape.JobStatusCaptchaRequired {
		return false, nil
	}
	j.Status = scrape.JobStatusPending
	j.CaptchaImageBase64 = ""
	return true, nil
}

func (s *fakeStore) CancelJob(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || (j.Status != scrape.JobStatusPending && j.Status != scrape.JobStatusCaptchaRequired) {
		return false, nil
	}
	j.Status = scrape.JobStatusFailed
	j.ErrorMessage = "cancelled by operator"
	return true, nil
}

func (s *fakeStore) InsertRecord(_ context.Context, _ string, rec scrape.ScrapedRecord) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.records[id] = rec
	return id, nil
}

func (s *fakeStore) ReplaceOwners(_ context.Context, recordID uuid.UUID, owners []scrape.ScrapedOwner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[recordID] = owners
	return nil
}

func (s *fakeStore) AppendLog(_ context.Context, jobID *uuid.UUID, level, message string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, scrape.LogEntry{JobID: jobID, Level: level, Message: message, Metadata: metadata})
	return nil
}

func (s *fakeStore) ListLogs(context.Context, *uuid.UUID, int) ([]scrape.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scrape.LogEntry(nil), s.logs...), nil
}

func (s *fakeStore) Stats(context.Context) (scrape.Stats, error) { return scrape.Stats{}, nil }

func (s *fakeStore) logMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.logs {
		out = append(out, l.Message)
	}
	return out
}

// fakeBrowser counts launches and hands out inert pages.
type fakeBrowser struct {
	mu       sync.Mutex
	launches int
	pages    int
	closed   bool

	launchErr error
}

func (b *fakeBrowser) Launch(context.Context) (scrape.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.launchErr != nil {
		return nil, b.launchErr
	}
	b.launches++
	return b, nil
}

func (b *fakeBrowser) NewPage(context.Context) (scrape.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages++
	return inertPage{}, nil
}

func (b *fakeBrowser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *fakeBrowser) launchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.launches
}

type inertPage struct{}

func (inertPage) Navigate(context.Context, string) error { return nil }
func (inertPage) WaitForSelector(context.Context, string, time.Duration) error {
	return nil
}
func (inertPage) SelectOption(context.Context, string, string) error { return nil }
func (inertPage) TypeText(context.Context, string, string) error     { return nil }
func (inertPage) Click(context.Context, string) error                { return nil }
func (inertPage) HTML(context.Context) (string, error)               { return "", nil }
func (inertPage) Screenshot(context.Context, bool) ([]byte, error)   { return nil, nil }
func (inertPage) ElementScreenshot(context.Context, string) ([]byte, error) {
	return nil, nil
}

// fakeStrategy returns a scripted outcome and records received solutions.
type fakeStrategy struct {
	mu        sync.Mutex
	record    *scrape.ScrapedRecord
	err       error
	solutions []string
}

func (s *fakeStrategy) Run(_ context.Context, _ scrape.Page, _ scrape.Job, solution string) (*scrape.ScrapedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solutions = append(s.solutions, solution)
	return s.record, s.err
}

type fixedResolver struct {
	strategies map[scrape.JobType]scrape.Strategy
}

func (r fixedResolver) Lookup(t scrape.JobType) (scrape.Strategy, bool) {
	s, ok := r.strategies[t]
	return s, ok
}

func newTestWorker(store *fakeStore, browser *fakeBrowser, strat scrape.Strategy) (*Worker, *captcha.SolutionStore) {
	solutions := captcha.NewSolutionStore()
	resolver := fixedResolver{strategies: map[scrape.JobType]scrape.Strategy{
		scrape.JobTypeMeebhoomi1B: strat,
	}}
	w := New(Config{PollInterval: 10 * time.Millisecond, BatchSize: 10},
		store, browser, resolver, solutions, zap.NewNop())
	return w, solutions
}

func pendingJob() scrape.Job {
	return scrape.Job{
		ID:           uuid.New(),
		JobType:      scrape.JobTypeMeebhoomi1B,
		StateCode:    "AP",
		DistrictCode: "VSK",
		MandalCode:   "VSK04",
		VillageCode:  "VSK04R01",
		SurveyNumber: "123/2A",
		MaxAttempts:  3,
	}
}

func TestProcessBatchCompletesJob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	job := pendingJob()
	store.addJob(job)

	record := &scrape.ScrapedRecord{
		SurveyNumber: "123/2A",
		Owners:       []scrape.ScrapedOwner{{Name: "K Ramana"}},
	}
	browser := &fakeBrowser{}
	w, _ := newTestWorker(store, browser, &fakeStrategy{record: record})

	w.processBatch(context.Background())

	got := store.job(job.ID)
	require.Equal(t, scrape.JobStatusCompleted, got.Status)
	require.NotNil(t, got.ResultRecordID)
	require.Len(t, store.owners[*got.ResultRecordID], 1)
	require.Contains(t, store.logMessages(), "job started")
	require.Contains(t, store.logMessages(), "job completed")
	require.True(t, browser.closed)
}

func TestUnknownJobTypeFailsWithoutBrowser(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	job := pendingJob()
	job.JobType = "karnataka_bhoomi"
	store.addJob(job)

	browser := &fakeBrowser{}
	w, _ := newTestWorker(store, browser, &fakeStrategy{})

	w.processBatch(context.Background())

	got := store.job(job.ID)
	require.Equal(t, scrape.JobStatusFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "unknown job type")
	require.Zero(t, browser.launchCount())
}

func TestBrowserLaunchFailureKeepsJobsPending(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	job := pendingJob()
	store.addJob(job)

	browser := &fakeBrowser{launchErr: errors.New("chrome not found")}
	w, _ := newTestWorker(store, browser, &fakeStrategy{})

	w.processBatch(context.Background())

	got := store.job(job.ID)
	require.Equal(t, scrape.JobStatusPending, got.Status)
	require.Zero(t, got.Attempts)
	require.Contains(t, store.logMessages(), "browser launch failed: chrome not found")
}

func TestCaptchaRequiredPausesJob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	job := pendingJob()
	store.addJob(job)

	strat := &fakeStrategy{err: &scrape.CaptchaRequiredError{ImageBase64: "aW1hZ2U="}}
	w, _ := newTestWorker(store, &fakeBrowser{}, strat)

	w.processBatch(context.Background())

	got := store.job(job.ID)
	require.Equal(t, scrape.JobStatusCaptchaRequired, got.Status)
	require.Equal(t, "aW1hZ2U=", got.CaptchaImageBase64)
	require.Contains(t, store.logMessages(), "job paused for manual captcha")
}

func TestCaptchaAttemptsExhaustedFailsJob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	job := pendingJob()
	job.Attempts = 2 // this claim is the third and final attempt
	store.addJob(job)

	strat := &fakeStrategy{err: &scrape.CaptchaRequiredError{ImageBase64: "aW1hZ2U="}}
	w, _ := newTestWorker(store, &fakeBrowser{}, strat)

	w.processBatch(context.Background())

	got := store.job(job.ID)
	require.Equal(t, scrape.JobStatusFailed, got.Status)
	require.Equal(t, "captcha attempts exhausted", got.ErrorMessage)
}

func TestNotFoundFailsJob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	job := pendingJob()
	store.addJob(job)

	strat := &fakeStrategy{err: &scrape.NotFoundError{Message: "no land records found"}}
	w, _ := newTestWorker(store, &fakeBrowser{}, strat)

	w.processBatch(context.Background())

	got := store.job(job.ID)
	require.Equal(t, scrape.JobStatusFailed, got.Status)
	require.Equal(t, "no land records found", got.ErrorMessage)
}

func TestOperatorSolutionIsTakenOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	job := pendingJob()
	store.addJob(job)

	record := &scrape.ScrapedRecord{Owners: []scrape.ScrapedOwner{{Name: "K Ramana"}}}
	strat := &fakeStrategy{record: record}
	w, solutions := newTestWorker(store, &fakeBrowser{}, strat)

	solutions.Put(job.ID, "XK7M2")
	w.processBatch(context.Background())

	require.Equal(t, []string{"XK7M2"}, strat.solutions)
	require.False(t, solutions.Has(job.ID))
}

func TestClaimLostSkipsJob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	job := pendingJob()
	store.addJob(job)

	strat := &fakeStrategy{}
	w, _ := newTestWorker(store, &fakeBrowser{}, strat)

	// Another claimant takes the job between fetch and claim.
	jobs, err := store.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	claimed, err := store.ClaimPending(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	w.processJob(context.Background(), &fakeBrowser{}, jobs[0], strat)
	require.Empty(t, strat.solutions)
	require.Equal(t, scrape.JobStatusRunning, store.job(job.ID).Status)
}

func TestRunLoopDrainsQueue(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	first := pendingJob()
	second := pendingJob()
	store.addJob(first)
	store.addJob(second)

	record := &scrape.ScrapedRecord{Owners: []scrape.ScrapedOwner{{Name: "K Ramana"}}}
	w, _ := newTestWorker(store, &fakeBrowser{}, &fakeStrategy{record: record})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return store.job(first.ID).Status == scrape.JobStatusCompleted &&
			store.job(second.ID).Status == scrape.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}
