package discovery

import (
	"context"
	"log"
	"time"
)

// ClientStatus is the status vocabulary exposed to the polling client, mapped
// from the persisted job status by the table in statusFor.
type ClientStatus string

const (
	StatusDispatching ClientStatus = "dispatching"
	StatusSearching   ClientStatus = "searching"
	StatusEnriching   ClientStatus = "enriching"
	StatusCompleted   ClientStatus = "completed"
	StatusPartial     ClientStatus = "partial"
	StatusFailed      ClientStatus = "error"
)

// statusFor is the DB-status x sub-flag mapping, exhaustive over JobStatus.
func statusFor(job *Job) ClientStatus {
	switch job.Status {
	case JobPending:
		return StatusDispatching
	case JobProcessing:
		if job.Pipeline.Enriching() {
			return StatusEnriching
		}
		return StatusSearching
	case JobCompleted:
		if job.PartialReason != nil || job.Error != nil {
			return StatusPartial
		}
		return StatusCompleted
	case JobError, JobTimeout:
		return StatusFailed
	default:
		return StatusFailed
	}
}

// progressEstimate weighs the two independent completion axes: up to 50
// points for keyword dispatch completion, up to 50 for enrichment. A plain
// found/target fraction would overstate progress during the fetch phase.
func progressEstimate(job *Job) int {
	if job.Status == JobCompleted {
		return 100
	}

	switch job.Pipeline.Kind {
	case PipelineKeyword:
		ks := job.Pipeline.Keyword
		if ks == nil {
			return 0
		}
		p := 0.0
		if ks.KeywordsDispatched > 0 {
			p += 50 * float64(ks.KeywordsCompleted) / float64(ks.KeywordsDispatched)
		}
		if ks.CreatorsFound > 0 {
			p += 50 * float64(ks.CreatorsEnriched) / float64(ks.CreatorsFound)
		}
		if p > 100 {
			p = 100
		}
		return int(p)

	case PipelineHandleQueue:
		hq := job.Pipeline.HandleQueue
		if hq == nil || hq.TotalHandles == 0 {
			return 0
		}
		p := 100 * hq.CompletedHandles / hq.TotalHandles
		if p > 100 {
			p = 100
		}
		return p
	}
	return 0
}

const (
	defaultStaleWindow = 10 * time.Minute
	defaultPageLimit   = 20
	maxPageLimit       = 100

	staleWithResults = "job stalled; returning results collected so far"
	staleNoResults   = "job stalled with no progress"
)

type Progress struct {
	Percentage         int  `json:"percentage"`
	KeywordsDispatched int  `json:"keywords_dispatched,omitempty"`
	KeywordsCompleted  int  `json:"keywords_completed,omitempty"`
	CreatorsFound      int  `json:"creators_found"`
	CreatorsEnriched   int  `json:"creators_enriched,omitempty"`
	TotalHandles       int  `json:"total_handles,omitempty"`
	CompletedHandles   int  `json:"completed_handles,omitempty"`
	ProcessedRuns      int  `json:"processed_runs"`
	Enriching          bool `json:"enriching,omitempty"`
}

type Pagination struct {
	Offset     int  `json:"offset"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	NextOffset *int `json:"next_offset"`
}

type ResultSlice struct {
	ID       uint64    `json:"id"`
	Creators []Creator `json:"creators"`
}

// StatusReport is the full polling payload for one job.
type StatusReport struct {
	JobID         string        `json:"job_id"`
	Status        ClientStatus  `json:"status"`
	Progress      Progress      `json:"progress"`
	Results       []ResultSlice `json:"results"`
	Pagination    Pagination    `json:"pagination"`
	TotalCreators int           `json:"total_creators"`
	TargetResults int           `json:"target_results"`
	Platform      string        `json:"platform"`
	Keywords      []string      `json:"keywords"`
	Error         *string       `json:"error,omitempty"`
}

// Aggregator serves job status to polling clients. It is read-only except for
// stale-job force-completion, the one sanctioned side effect on the read path.
type Aggregator struct {
	repo        *Repo
	staleWindow time.Duration
}

func NewAggregator(repo *Repo) *Aggregator {
	return &Aggregator{repo: repo, staleWindow: defaultStaleWindow}
}

// Status returns the job's client status, progress estimate and one page of
// its accumulated creator set.
func (a *Aggregator) Status(ctx context.Context, jobID string, offset, limit int) (*StatusReport, error) {
	job, err := a.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job, err = a.forceCompleteIfStale(ctx, job)
	if err != nil {
		return nil, err
	}

	result, err := a.repo.GetResult(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}

	total := len(result.Creators)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	var nextOffset *int
	if offset+limit < total {
		n := offset + limit
		nextOffset = &n
	}

	report := &StatusReport{
		JobID:         job.ID,
		Status:        statusFor(job),
		Progress:      progressFields(job),
		Results:       []ResultSlice{{ID: result.ID, Creators: result.Creators[start:end]}},
		Pagination:    Pagination{Offset: offset, Limit: limit, Total: total, NextOffset: nextOffset},
		TotalCreators: total,
		TargetResults: job.TargetResults,
		Platform:      job.Platform,
		Keywords:      job.Keywords,
		Error:         job.Error,
	}
	return report, nil
}

// forceCompleteIfStale transitions a job that stopped advancing to a terminal
// state so a crashed worker cannot leave the client polling forever. Jobs
// with accumulated results end as completed (partial); jobs with nothing end
// as error.
func (a *Aggregator) forceCompleteIfStale(ctx context.Context, job *Job) (*Job, error) {
	if job.Status != JobProcessing {
		return job, nil
	}
	if time.Since(job.LastActivityAt) < a.staleWindow {
		return job, nil
	}

	log.Printf("aggregator job=%s stale since=%s forcing terminal", job.ID, job.LastActivityAt.Format(time.RFC3339))
	if job.ProcessedResults > 0 {
		reason := staleWithResults
		if err := a.repo.MarkCompleted(ctx, job.ID, &reason); err != nil {
			return nil, err
		}
	} else {
		if err := a.repo.MarkError(ctx, job.ID, staleNoResults); err != nil {
			return nil, err
		}
	}
	return a.repo.GetJobByID(ctx, job.ID)
}

func progressFields(job *Job) Progress {
	p := Progress{
		Percentage:    progressEstimate(job),
		ProcessedRuns: job.ProcessedRuns,
		CreatorsFound: job.ProcessedResults,
	}
	switch job.Pipeline.Kind {
	case PipelineKeyword:
		if ks := job.Pipeline.Keyword; ks != nil {
			p.KeywordsDispatched = ks.KeywordsDispatched
			p.KeywordsCompleted = ks.KeywordsCompleted
			p.CreatorsFound = ks.CreatorsFound
			p.CreatorsEnriched = ks.CreatorsEnriched
			p.Enriching = ks.Enriching
		}
	case PipelineHandleQueue:
		if hq := job.Pipeline.HandleQueue; hq != nil {
			p.TotalHandles = hq.TotalHandles
			p.CompletedHandles = hq.CompletedHandles
		}
	}
	return p
}
