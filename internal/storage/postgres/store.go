// Package postgres provides the Postgres-backed job and record store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlasland/landscraper/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Owner and log rows live in fixed companion tables.
const (
	ownersTable = "land_owners"
	logsTable   = "scrape_logs"
)

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	JobsTable       string
	RecordsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements scrape.Store on Postgres.
type Store struct {
	pool    dbtx
	jobs    string
	records string
}

// NewStore connects a pool and returns a Store.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newStore(pool, cfg.JobsTable, cfg.RecordsTable)
}

// NewStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool dbtx, jobsTable, recordsTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newStore(pool, jobsTable, recordsTable)
}

func newStore(pool dbtx, jobsTable, recordsTable string) (*Store, error) {
	if jobsTable == "" {
		jobsTable = "scrape_jobs"
	}
	if recordsTable == "" {
		recordsTable = "land_records"
	}
	for _, table := range []string{jobsTable, recordsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: pool, jobs: jobsTable, records: recordsTable}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, job_type, status, state_code, district_code, mandal_code,
	village_code, survey_number, COALESCE(search_value, ''), priority, attempts,
	max_attempts, COALESCE(error_message, ''), COALESCE(captcha_image, ''),
	result_record_id, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (scrape.Job, error) {
	var job scrape.Job
	err := row.Scan(
		&job.ID, &job.JobType, &job.Status, &job.StateCode, &job.DistrictCode,
		&job.MandalCode, &job.VillageCode, &job.SurveyNumber, &job.SearchValue,
		&job.Priority, &job.Attempts, &job.MaxAttempts, &job.ErrorMessage,
		&job.CaptchaImageBase64, &job.ResultRecordID, &job.CreatedAt,
		&job.StartedAt, &job.CompletedAt,
	)
	return job, err
}

// CreateJob inserts a new pending job.
func (s *Store) CreateJob(ctx context.Context, job scrape.Job) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, job_type, status, state_code, district_code, mandal_code,
	village_code, survey_number, search_value, priority, attempts,
	max_attempts, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, s.jobs)

	_, err := s.pool.Exec(ctx, query,
		job.ID, job.JobType, scrape.JobStatusPending, job.StateCode,
		job.DistrictCode, job.MandalCode, job.VillageCode, job.SurveyNumber,
		job.SearchValue, job.Priority, 0, job.MaxAttempts, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (scrape.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.jobs)
	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.Job{}, &scrape.NotFoundError{Message: fmt.Sprintf("job %s not found", id)}
		}
		return scrape.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns recent jobs, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status scrape.JobStatus, limit int) ([]scrape.Job, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC LIMIT $1`, jobColumns, s.jobs)
		rows, err = s.pool.Query(ctx, query, limit)
	} else {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, jobColumns, s.jobs)
		rows, err = s.pool.Query(ctx, query, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// FetchPending returns the next dispatchable jobs in priority order.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]scrape.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE status = 'pending'
ORDER BY priority DESC, created_at ASC
LIMIT $1`, jobColumns, s.jobs)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending jobs: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]scrape.Job, error) {
	defer rows.Close()
	var jobs []scrape.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// ClaimPending flips pending -> running and bumps the attempt counter. The
// status guard in the WHERE clause is what serializes racing claimants.
func (s *Store) ClaimPending(ctx context.Context, id uuid.UUID) (bool, error) {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'running', attempts = attempts + 1, started_at = now()
WHERE id = $1 AND status = 'pending'`, s.jobs)

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted terminalizes a job with a link to its scraped record.
func (s *Store) MarkCompleted(ctx context.Context, id, recordID uuid.UUID) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'completed', result_record_id = $2, completed_at = now()
WHERE id = $1`, s.jobs)

	if _, err := s.pool.Exec(ctx, query, id, recordID); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

// MarkFailed terminalizes a job with an error message.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errText string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'failed', error_message = $2, completed_at = now()
WHERE id = $1`, s.jobs)

	if _, err := s.pool.Exec(ctx, query, id, errText); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// MarkCaptchaRequired pauses a job and stores the challenge image for the
// operator dashboard.
func (s *Store) MarkCaptchaRequired(ctx context.Context, id uuid.UUID, imageBase64 string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'captcha_required', captcha_image = $2
WHERE id = $1`, s.jobs)

	if _, err := s.pool.Exec(ctx, query, id, imageBase64); err != nil {
		return fmt.Errorf("mark job captcha_required: %w", err)
	}
	return nil
}

// Requeue returns a paused job to the pending queue once an operator has
// supplied a captcha solution.
func (s *Store) Requeue(ctx context.Context, id uuid.UUID) (bool, error) {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'pending', captcha_image = NULL
WHERE id = $1 AND status = 'captcha_required'`, s.jobs)

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("requeue job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelJob terminalizes a job that is not currently running.
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) (bool, error) {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'failed', error_message = 'cancelled by operator', completed_at = now()
WHERE id = $1 AND status IN ('pending', 'captcha_required')`, s.jobs)

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertRecord persists a scraped land record and returns its id.
func (s *Store) InsertRecord(ctx context.Context, stateCode string, rec scrape.ScrapedRecord) (uuid.UUID, error) {
	id := uuid.New()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, state_code, survey_number, sub_division, district_code, mandal_code,
	village_code, khata_number, patta_number, extent_acres, extent_guntas,
	extent_cents, land_classification, land_nature, water_source, raw_html,
	source_url, scraped_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now())`, s.records)

	_, err := s.pool.Exec(ctx, query,
		id, stateCode, rec.SurveyNumber, rec.SubDivision, rec.DistrictCode,
		rec.MandalCode, rec.VillageCode, rec.KhataNumber, rec.PattaNumber,
		rec.ExtentAcres, rec.ExtentGuntas, rec.ExtentCents, rec.Classification,
		rec.LandNature, rec.WaterSource, rec.RawHTML, rec.SourceURL,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// ReplaceOwners swaps the owner rows for a record inside one transaction, so
// a re-scrape never leaves a partial owner list.
func (s *Store) ReplaceOwners(ctx context.Context, recordID uuid.UUID, owners []scrape.ScrapedOwner) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace owners: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE record_id = $1`, ownersTable), recordID,
	); err != nil {
		return fmt.Errorf("delete owners: %w", err)
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (id, record_id, owner_name, owner_name_telugu, father_name, share_percentage)
VALUES ($1,$2,$3,$4,$5,$6)`, ownersTable)
	for _, owner := range owners {
		if _, err := tx.Exec(ctx, insert,
			uuid.New(), recordID, owner.Name, owner.NameTelugu,
			owner.FatherName, owner.SharePercentage,
		); err != nil {
			return fmt.Errorf("insert owner: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace owners: %w", err)
	}
	return nil
}

// AppendLog writes one scrape log row. jobID may be nil for system events.
func (s *Store) AppendLog(ctx context.Context, jobID *uuid.UUID, level, message string, metadata map[string]any) error {
	var metaJSON []byte
	if len(metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal log metadata: %w", err)
		}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, job_id, level, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,now())`, logsTable)

	if _, err := s.pool.Exec(ctx, query, uuid.New(), jobID, level, message, metaJSON); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLogs returns recent log rows, optionally scoped to one job.
func (s *Store) ListLogs(ctx context.Context, jobID *uuid.UUID, limit int) ([]scrape.LogEntry, error) {
	query := fmt.Sprintf(`
SELECT id, job_id, level, message, metadata, created_at
FROM %s
WHERE $1::uuid IS NULL OR job_id = $1
ORDER BY created_at DESC
LIMIT $2`, logsTable)

	rows, err := s.pool.Query(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var entries []scrape.LogEntry
	for rows.Next() {
		var (
			entry    scrape.LogEntry
			metaJSON []byte
		)
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Level, &entry.Message, &metaJSON, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal log metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return entries, nil
}

// Stats aggregates job counts and the record total in one round trip.
func (s *Store) Stats(ctx context.Context) (scrape.Stats, error) {
	query := fmt.Sprintf(`
SELECT
	count(*),
	count(*) FILTER (WHERE status = 'pending'),
	count(*) FILTER (WHERE status = 'running'),
	count(*) FILTER (WHERE status = 'completed'),
	count(*) FILTER (WHERE status = 'failed'),
	count(*) FILTER (WHERE status = 'captcha_required'),
	(SELECT count(*) FROM %s)
FROM %s`, s.records, s.jobs)

	var stats scrape.Stats
	err := s.pool.QueryRow(ctx, query).Scan(
		&stats.TotalJobs, &stats.PendingJobs, &stats.RunningJobs,
		&stats.CompletedJobs, &stats.FailedJobs, &stats.CaptchaWaitingJobs,
		&stats.TotalRecords,
	)
	if err != nil {
		return scrape.Stats{}, fmt.Errorf("query stats: %w", err)
	}

	if finished := stats.CompletedJobs + stats.FailedJobs; finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished)
	}
	return stats, nil
}
