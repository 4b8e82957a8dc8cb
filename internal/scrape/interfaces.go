package scrape

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists jobs, scraped records, and logs. It is the single source of
// truth shared by the worker loop and the HTTP API; concurrent status
// updates are serialized by the store's row-level guards.
type Store interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id uuid.UUID) (Job, error)
	ListJobs(ctx context.Context, status JobStatus, limit int) ([]Job, error)
	FetchPending(ctx context.Context, limit int) ([]Job, error)

	// ClaimPending flips pending -> running and bumps the attempt counter.
	// It returns false when the job was no longer pending, which the worker
	// treats as "taken elsewhere", not an error.
	ClaimPending(ctx context.Context, id uuid.UUID) (bool, error)

	MarkCompleted(ctx context.Context, id, recordID uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errText string) error
	MarkCaptchaRequired(ctx context.Context, id uuid.UUID, imageBase64 string) error

	// Requeue flips captcha_required -> pending, preserving every other job
	// field. Returns false when the job was not awaiting a captcha.
	Requeue(ctx context.Context, id uuid.UUID) (bool, error)

	// CancelJob terminalizes a job that has not yet been dispatched.
	CancelJob(ctx context.Context, id uuid.UUID) (bool, error)

	InsertRecord(ctx context.Context, stateCode string, rec ScrapedRecord) (uuid.UUID, error)
	ReplaceOwners(ctx context.Context, recordID uuid.UUID, owners []ScrapedOwner) error

	AppendLog(ctx context.Context, jobID *uuid.UUID, level, message string, metadata map[string]any) error
	ListLogs(ctx context.Context, jobID *uuid.UUID, limit int) ([]LogEntry, error)
	Stats(ctx context.Context) (Stats, error)
}

// Page abstracts a single automated browser page. Operations block the
// calling goroutine, carry explicit timeouts, and fail with *BrowserError.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	SelectOption(ctx context.Context, selector, value string) error
	TypeText(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	ElementScreenshot(ctx context.Context, selector string) ([]byte, error)
}

// Browser owns one launched browser process and hands out pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close()
}

// BrowserLauncher starts a browser instance. The worker launches one per
// batch to amortize startup cost.
type BrowserLauncher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Strategy is a site-specific scraping procedure. A non-nil error is one of
// the typed outcomes in errors.go; captchaSolution is non-empty when an
// operator already supplied a manual answer for this job.
type Strategy interface {
	Run(ctx context.Context, page Page, job Job, captchaSolution string) (*ScrapedRecord, error)
}

// Solver decodes a captcha image into text.
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}
