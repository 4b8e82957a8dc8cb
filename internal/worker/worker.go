// Package worker runs the scrape scheduling loop: it drains the pending job
// queue in batches, drives one browser per batch, and records every job
// state transition in the store.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlasland/landscraper/internal/captcha"
	"github.com/atlasland/landscraper/internal/metrics"
	"github.com/atlasland/landscraper/internal/scrape"
)

const defaultMaxAttempts = 3

// StrategyResolver maps a job type to its portal strategy.
type StrategyResolver interface {
	Lookup(t scrape.JobType) (scrape.Strategy, bool)
}

// Config governs the scheduling loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	return c
}

// Worker owns the polling loop. One Worker runs per process; within a batch
// jobs execute sequentially against a single browser.
type Worker struct {
	cfg        Config
	store      scrape.Store
	launcher   scrape.BrowserLauncher
	strategies StrategyResolver
	solutions  *captcha.SolutionStore
	logger     *zap.Logger
}

// New builds a Worker.
func New(cfg Config, store scrape.Store, launcher scrape.BrowserLauncher, strategies StrategyResolver, solutions *captcha.SolutionStore, logger *zap.Logger) *Worker {
	return &Worker{
		cfg:        cfg.withDefaults(),
		store:      store,
		launcher:   launcher,
		strategies: strategies,
		solutions:  solutions,
		logger:     logger,
	}
}

// Run polls until ctx is cancelled. The first batch runs immediately.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize),
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.processBatch(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// processBatch fetches and runs one batch of pending jobs. Jobs with no
// registered strategy fail immediately; the browser only launches when at
// least one runnable job exists.
func (w *Worker) processBatch(ctx context.Context) {
	jobs, err := w.store.FetchPending(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("fetch pending jobs", zap.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	type runnable struct {
		job      scrape.Job
		strategy scrape.Strategy
	}
	var batch []runnable
	for _, job := range jobs {
		strat, ok := w.strategies.Lookup(job.JobType)
		if !ok {
			w.failUnknownType(ctx, job)
			continue
		}
		batch = append(batch, runnable{job: job, strategy: strat})
	}
	if len(batch) == 0 {
		return
	}

	browser, err := w.launcher.Launch(ctx)
	if err != nil {
		// The whole batch stays pending and is retried next tick.
		w.logger.Error("launch browser", zap.Error(err))
		w.appendLog(ctx, nil, "error", "browser launch failed: "+err.Error(), nil)
		return
	}
	defer browser.Close()

	metrics.IncActiveBatches()
	defer metrics.DecActiveBatches()

	for _, r := range batch {
		if ctx.Err() != nil {
			return
		}
		w.processJob(ctx, browser, r.job, r.strategy)
	}
}

func (w *Worker) failUnknownType(ctx context.Context, job scrape.Job) {
	claimed, err := w.store.ClaimPending(ctx, job.ID)
	if err != nil {
		w.logger.Error("claim job", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	if !claimed {
		return
	}
	msg := "unknown job type: " + string(job.JobType)
	if err := w.store.MarkFailed(ctx, job.ID, msg); err != nil {
		w.logger.Error("mark job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	w.appendLog(ctx, &job.ID, "error", msg, nil)
	metrics.ObserveJob(string(job.JobType), "failed", 0)
}

func (w *Worker) processJob(ctx context.Context, browser scrape.Browser, job scrape.Job, strat scrape.Strategy) {
	claimed, err := w.store.ClaimPending(ctx, job.ID)
	if err != nil {
		w.logger.Error("claim job", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	if !claimed {
		// Taken elsewhere between fetch and claim, or cancelled.
		w.logger.Debug("job no longer pending", zap.String("job_id", job.ID.String()))
		return
	}
	attempt := job.Attempts + 1
	w.appendLog(ctx, &job.ID, "info", "job started", map[string]any{"attempt": attempt})

	logger := w.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.JobType)),
		zap.Int("attempt", attempt),
	)

	solution, hadSolution := w.solutions.Take(job.ID)
	if hadSolution {
		logger.Info("using operator captcha solution")
	}

	page, err := browser.NewPage(ctx)
	if err != nil {
		logger.Error("open page", zap.Error(err))
		w.fail(ctx, job, "open page: "+err.Error())
		return
	}

	start := time.Now()
	record, err := strat.Run(ctx, page, job, solution)
	duration := time.Since(start)

	switch {
	case err == nil:
		w.complete(ctx, job, record, logger)
		metrics.ObserveJob(string(job.JobType), "completed", duration)

	case isCaptchaRequired(err):
		w.pauseForCaptcha(ctx, job, err, attempt, logger)
		metrics.ObserveJob(string(job.JobType), "captcha_required", duration)

	default:
		logger.Warn("job failed", zap.Error(err))
		w.fail(ctx, job, err.Error())
		metrics.ObserveJob(string(job.JobType), "failed", duration)
	}
}

func (w *Worker) complete(ctx context.Context, job scrape.Job, record *scrape.ScrapedRecord, logger *zap.Logger) {
	recordID, err := w.store.InsertRecord(ctx, job.StateCode, *record)
	if err != nil {
		logger.Error("insert record", zap.Error(err))
		w.fail(ctx, job, "persist record: "+err.Error())
		return
	}
	if err := w.store.ReplaceOwners(ctx, recordID, record.Owners); err != nil {
		logger.Error("replace owners", zap.Error(err))
		w.fail(ctx, job, "persist owners: "+err.Error())
		return
	}
	if err := w.store.MarkCompleted(ctx, job.ID, recordID); err != nil {
		logger.Error("mark job completed", zap.Error(err))
		return
	}
	w.appendLog(ctx, &job.ID, "info", "job completed", map[string]any{
		"record_id": recordID.String(),
		"owners":    len(record.Owners),
	})
	logger.Info("job completed", zap.String("record_id", recordID.String()))
}

// pauseForCaptcha parks the job for an operator, unless this attempt already
// exhausted the budget, in which case it terminalizes instead of waiting for
// a solution that would never be used.
func (w *Worker) pauseForCaptcha(ctx context.Context, job scrape.Job, err error, attempt int, logger *zap.Logger) {
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if attempt >= maxAttempts {
		logger.Warn("captcha attempts exhausted", zap.Int("max_attempts", maxAttempts))
		w.fail(ctx, job, "captcha attempts exhausted")
		return
	}

	var captchaErr *scrape.CaptchaRequiredError
	errors.As(err, &captchaErr)
	if err := w.store.MarkCaptchaRequired(ctx, job.ID, captchaErr.ImageBase64); err != nil {
		logger.Error("mark job captcha_required", zap.Error(err))
		return
	}
	w.appendLog(ctx, &job.ID, "warn", "job paused for manual captcha", map[string]any{"attempt": attempt})
	logger.Info("job paused for manual captcha")
}

func (w *Worker) fail(ctx context.Context, job scrape.Job, msg string) {
	if err := w.store.MarkFailed(ctx, job.ID, msg); err != nil {
		w.logger.Error("mark job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	w.appendLog(ctx, &job.ID, "error", msg, nil)
}

func (w *Worker) appendLog(ctx context.Context, jobID *uuid.UUID, level, message string, metadata map[string]any) {
	if err := w.store.AppendLog(ctx, jobID, level, message, metadata); err != nil {
		w.logger.Error("append scrape log", zap.Error(err))
	}
}

func isCaptchaRequired(err error) bool {
	var captchaErr *scrape.CaptchaRequiredError
	return errors.As(err, &captchaErr)
}
