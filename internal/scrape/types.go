// Package scrape defines core types shared across subsystems.
package scrape

import (
	"time"

	"github.com/google/uuid"
)

// JobType identifies which portal strategy handles a job.
type JobType string

// Job types persisted in the job store.
const (
	JobTypeMeebhoomi1B      JobType = "meebhoomi_1b"
	JobTypeMeebhoomiAdangal JobType = "meebhoomi_adangal"
	JobTypeTelanganaStatus  JobType = "telangana_land_status"
)

// KnownJobTypes lists every job type a strategy exists for.
var KnownJobTypes = []JobType{
	JobTypeMeebhoomi1B,
	JobTypeMeebhoomiAdangal,
	JobTypeTelanganaStatus,
}

// ValidJobType reports whether t names a registered portal strategy.
func ValidJobType(t JobType) bool {
	for _, known := range KnownJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
//
// pending is the sole entry state. captcha_required is a pause, not a
// failure: the operator submits a solution and the job re-enters pending.
// completed and failed are terminal.
const (
	JobStatusPending         JobStatus = "pending"
	JobStatusRunning         JobStatus = "running"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusFailed          JobStatus = "failed"
	JobStatusCaptchaRequired JobStatus = "captcha_required"
)

// Job is the unit of work persisted in the job store.
type Job struct {
	ID                 uuid.UUID  `json:"id"`
	JobType            JobType    `json:"job_type"`
	Status             JobStatus  `json:"status"`
	StateCode          string     `json:"state_code"`
	DistrictCode       string     `json:"district_code"`
	MandalCode         string     `json:"mandal_code"`
	VillageCode        string     `json:"village_code"`
	SurveyNumber       string     `json:"survey_number"`
	SearchValue        string     `json:"search_value,omitempty"`
	Priority           int        `json:"priority"`
	Attempts           int        `json:"attempts"`
	MaxAttempts        int        `json:"max_attempts"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	CaptchaImageBase64 string     `json:"captcha_image_base64,omitempty"`
	ResultRecordID     *uuid.UUID `json:"result_record_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// Target returns the key the strategy searches for, preferring the survey
// number over a free-text search value.
func (j Job) Target() string {
	if j.SurveyNumber != "" {
		return j.SurveyNumber
	}
	return j.SearchValue
}

// ScrapedOwner is one owner row extracted from a portal result table.
type ScrapedOwner struct {
	Name            string
	NameTelugu      string
	FatherName      string
	SharePercentage float64
}

// ScrapedRecord is the in-memory output of a successful scrape. It is
// persisted as a land record plus owner rows and then discarded.
type ScrapedRecord struct {
	SurveyNumber   string
	SubDivision    string
	DistrictCode   string
	MandalCode     string
	VillageCode    string
	KhataNumber    string
	PattaNumber    string
	ExtentAcres    float64
	ExtentGuntas   float64
	ExtentCents    float64
	Classification string
	LandNature     string
	WaterSource    string
	Owners         []ScrapedOwner
	RawHTML        string
	SourceURL      string
}

// LogEntry is one append-only scrape log row.
type LogEntry struct {
	ID        uuid.UUID      `json:"id"`
	JobID     *uuid.UUID     `json:"job_id,omitempty"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Stats aggregates job and record counts for operators.
type Stats struct {
	TotalRecords       int64   `json:"total_records"`
	TotalJobs          int64   `json:"total_jobs"`
	PendingJobs        int64   `json:"pending_jobs"`
	RunningJobs        int64   `json:"running_jobs"`
	CompletedJobs      int64   `json:"completed_jobs"`
	FailedJobs         int64   `json:"failed_jobs"`
	CaptchaWaitingJobs int64   `json:"captcha_waiting_jobs"`
	SuccessRate        float64 `json:"success_rate"`
}
