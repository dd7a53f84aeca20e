package discovery

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
	JobTimeout    JobStatus = "timeout"
)

// Terminal reports whether no further transition is allowed for this status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError || s == JobTimeout
}

// JobTimeoutCeiling is applied once at creation; TimeoutAt is never extended.
const JobTimeoutCeiling = 60 * time.Minute

type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID     uint64  `gorm:"index;not null"`
	CampaignID *string `gorm:"size:26;index"`

	Platform      string         `gorm:"type:varchar(32);index;not null"`
	Keywords      []string       `gorm:"type:text;serializer:json"`
	SeedHandle    *string        `gorm:"type:varchar(128)"`
	TargetResults int            `gorm:"not null"`
	Settings      map[string]any `gorm:"type:text;serializer:json"`

	// Progress
	Cursor           string        `gorm:"type:varchar(512)"`
	ProcessedRuns    int           `gorm:"not null;default:0"`
	ProcessedResults int           `gorm:"not null;default:0"`
	Progress         int           `gorm:"not null;default:0"`
	Pipeline         PipelineState `gorm:"type:text;serializer:json"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when the job ends in error or timeout
	Error *string `gorm:"type:text"`

	// Set when the provider was exhausted before the target was reached
	PartialReason *string `gorm:"type:varchar(255)"`

	// Concurrency lease: a runner may only work the job while it holds
	// an unexpired lease (see Repo.ClaimJob).
	LeaseUntil     *time.Time
	LastActivityAt time.Time `gorm:"index"`

	TimeoutAt   time.Time `gorm:"not null"`
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (Job) TableName() string { return "scraping_jobs" }

// NewJobID returns a fresh ULID string.
func NewJobID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
