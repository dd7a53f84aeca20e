package discovery

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrJobBusy means another invocation currently holds the job's lease.
	ErrJobBusy = errors.New("job is claimed by another invocation")
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}

// ClaimJob atomically claims the job for one invocation: it flips a
// pending/processing row whose lease is absent or expired into processing
// with a fresh lease. Exactly one of two concurrent claims can win, which is
// what makes duplicate queue delivery safe while an invocation is mid-flight.
func (r *Repo) ClaimJob(ctx context.Context, id string, leaseFor time.Duration) error {
	now := time.Now()
	until := now.Add(leaseFor)

	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobPending, JobProcessing}).
		Where("lease_until IS NULL OR lease_until < ?", now).
		Updates(map[string]any{
			"status":           JobProcessing,
			"lease_until":      until,
			"last_activity_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either terminal (caller's idempotency guard already ran, but the
		// row may have changed since), gone, or leased by someone else.
		j, err := r.GetJobByID(ctx, id)
		if err != nil {
			return err
		}
		if j.Status.Terminal() {
			return nil
		}
		return ErrJobBusy
	}

	// StartedAt is set once, on the first successful claim.
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND started_at IS NULL", id).
		Update("started_at", now).Error
}

// SaveProgress persists the cursor, counters and pipeline state after one
// unit of work, advancing the activity timestamp the stale detector watches.
func (r *Repo) SaveProgress(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", job.ID).
		Select("cursor", "processed_runs", "processed_results", "progress", "pipeline", "last_activity_at").
		Updates(&Job{
			Cursor:           job.Cursor,
			ProcessedRuns:    job.ProcessedRuns,
			ProcessedResults: job.ProcessedResults,
			Progress:         job.Progress,
			Pipeline:         job.Pipeline,
			LastActivityAt:   time.Now(),
		}).Error
}

// MarkCompleted transitions to the terminal completed status. partialReason
// is set when the provider was exhausted before the target was reached.
func (r *Repo) MarkCompleted(ctx context.Context, id string, partialReason *string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses()).
		Updates(map[string]any{
			"status":         JobCompleted,
			"partial_reason": partialReason,
			"progress":       100,
			"completed_at":   now,
			"lease_until":    nil,
		}).Error
}

// MarkError transitions to the terminal error status. Accumulated results are
// preserved; only the job row records the failure.
func (r *Repo) MarkError(ctx context.Context, id string, errMsg string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses()).
		Updates(map[string]any{
			"status":       JobError,
			"error":        errMsg,
			"completed_at": now,
			"lease_until":  nil,
		}).Error
}

func (r *Repo) MarkTimeout(ctx context.Context, id string, errMsg string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses()).
		Updates(map[string]any{
			"status":       JobTimeout,
			"error":        errMsg,
			"completed_at": now,
			"lease_until":  nil,
		}).Error
}

// ReleaseLease frees the job for its next invocation without touching
// status. Called before a continuation is enqueued; terminal transitions
// clear the lease themselves.
func (r *Repo) ReleaseLease(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Update("lease_until", nil).Error
}

func terminalStatuses() []JobStatus {
	return []JobStatus{JobCompleted, JobError, JobTimeout}
}

// GetResult returns the job's result bucket, or an empty bucket if none was
// written yet.
func (r *Repo) GetResult(ctx context.Context, jobID string) (*Result, error) {
	var res Result
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Result{JobID: jobID, Creators: []Creator{}}, nil
		}
		return nil, err
	}
	return &res, nil
}

// SaveResult upserts the merged creator set for the job. Writes are
// idempotent: rewriting the same merged set leaves the bucket unchanged.
func (r *Repo) SaveResult(ctx context.Context, res *Result) error {
	res.TotalCreators = len(res.Creators)
	if res.ID != 0 {
		return r.db.WithContext(ctx).Model(&Result{}).
			Where("id = ?", res.ID).
			Select("creators", "total_creators").
			Updates(&Result{Creators: res.Creators, TotalCreators: res.TotalCreators}).Error
	}
	return r.db.WithContext(ctx).Create(res).Error
}

// Dead-letter sink

func (r *Repo) RecordDeadLetter(ctx context.Context, dl *DeadLetter) error {
	return r.db.WithContext(ctx).Create(dl).Error
}

func (r *Repo) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []DeadLetter
	if err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
