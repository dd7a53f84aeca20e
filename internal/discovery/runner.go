package discovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/scoutline/discovery/internal/provider"
)

// Dispatcher re-enqueues a continuation message for a job. Implemented by the
// rabbitmq dispatcher in production and by recording fakes in tests.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string, delay time.Duration, maxRetries int) (string, error)
}

type Outcome string

const (
	// OutcomeSkipped: the job was already terminal; duplicate delivery no-op.
	OutcomeSkipped   Outcome = "skipped"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCompleted Outcome = "completed"
	// OutcomePartial: provider exhausted before the target was reached.
	OutcomePartial  Outcome = "completed_partial"
	OutcomeErrored  Outcome = "error"
	OutcomeContinue Outcome = "continue"
)

// Decision is what one bounded unit of work resolved to.
type Decision struct {
	Outcome Outcome
	Delay   time.Duration
}

const (
	defaultContinueDelay = 2 * time.Second
	defaultMaxRetries    = 3
	defaultLease         = 5 * time.Minute

	timeoutMessage = "job exceeded its processing time limit"
)

type Runner struct {
	repo       *Repo
	registry   *provider.Registry
	dispatcher Dispatcher

	continueDelay time.Duration
	maxRetries    int
	leaseFor      time.Duration
}

func NewRunner(repo *Repo, registry *provider.Registry, dispatcher Dispatcher) *Runner {
	return &Runner{
		repo:          repo,
		registry:      registry,
		dispatcher:    dispatcher,
		continueDelay: defaultContinueDelay,
		maxRetries:    defaultMaxRetries,
		leaseFor:      defaultLease,
	}
}

// Run performs one bounded unit of work for the job. Guard order is fixed:
// idempotency, then timeout, then the lease claim, all before any provider
// call, so a dead or duplicate job never does paid work.
func (r *Runner) Run(ctx context.Context, jobID string) (Decision, error) {
	job, err := r.repo.GetJobByID(ctx, jobID)
	if err != nil {
		// Includes ErrJobNotFound: fatal, nothing to retry against.
		return Decision{}, err
	}

	if job.Status.Terminal() {
		log.Printf("runner job=%s skipped status=%s", job.ID, job.Status)
		return Decision{Outcome: OutcomeSkipped}, nil
	}

	if time.Now().After(job.TimeoutAt) {
		if err := r.repo.MarkTimeout(ctx, job.ID, timeoutMessage); err != nil {
			return Decision{}, err
		}
		log.Printf("runner job=%s timed out", job.ID)
		return Decision{Outcome: OutcomeTimedOut}, nil
	}

	if err := r.repo.ClaimJob(ctx, job.ID, r.leaseFor); err != nil {
		// ErrJobBusy propagates so the transport retries later; the holder
		// of the lease is already doing this unit of work.
		return Decision{}, err
	}
	// The claim may have observed a terminal row written after our load.
	job, err = r.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return Decision{}, err
	}
	if job.Status.Terminal() {
		return Decision{Outcome: OutcomeSkipped}, nil
	}

	dec, err := r.work(ctx, job)
	if err != nil {
		// Never leave the job stuck in processing: best-effort terminal
		// write before the failure propagates to the transport.
		if mErr := r.repo.MarkError(ctx, job.ID, err.Error()); mErr != nil {
			log.Printf("runner job=%s mark error failed: %v", job.ID, mErr)
		}
		return Decision{Outcome: OutcomeErrored}, err
	}
	return dec, nil
}

func (r *Runner) work(ctx context.Context, job *Job) (dec Decision, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("runner panic: %v", p)
		}
	}()

	prov, err := r.registry.Get(ctx, job.Platform)
	if err != nil {
		return Decision{}, err
	}

	req := r.pageRequest(job)

	start := time.Now()
	page, fetchErr := prov.FetchPage(ctx, req)
	if fetchErr != nil {
		// Transient page failure: the cursor is retried on the next
		// delivery; the job itself stays processing.
		log.Printf("runner job=%s page fetch failed cursor=%q cost=%s err=%v",
			job.ID, job.Cursor, time.Since(start), fetchErr)
		if rlErr := r.repo.ReleaseLease(ctx, job.ID); rlErr != nil {
			return Decision{}, rlErr
		}
		if _, qErr := r.dispatcher.Enqueue(ctx, job.ID, r.continueDelay, r.maxRetries); qErr != nil {
			return Decision{}, fmt.Errorf("re-enqueue after fetch failure: %w", qErr)
		}
		return Decision{Outcome: OutcomeContinue, Delay: r.continueDelay}, nil
	}

	result, err := r.repo.GetResult(ctx, job.ID)
	if err != nil {
		return Decision{}, err
	}

	merged := Merge(result.Creators, page.Candidates)
	result.Creators = merged
	if err := r.repo.SaveResult(ctx, result); err != nil {
		return Decision{}, err
	}

	job.Cursor = page.NextCursor
	job.ProcessedRuns++
	job.ProcessedResults = len(merged)
	r.advancePipeline(job, page, merged)
	job.Progress = progressEstimate(job)
	if err := r.repo.SaveProgress(ctx, job); err != nil {
		return Decision{}, err
	}

	return r.decide(ctx, job, page, len(merged))
}

// decide maps provider signals to a job decision. An explicit failure always
// wins over "no more pages": checking exhaustion first would silently promote
// a failed run to completed. This ordering is load-bearing.
func (r *Runner) decide(ctx context.Context, job *Job, page *provider.Page, total int) (Decision, error) {
	switch {
	case page.Failed:
		reason := page.FailReason
		if reason == "" {
			reason = "provider rejected the job"
		}
		if err := r.repo.MarkError(ctx, job.ID, reason); err != nil {
			return Decision{}, err
		}
		log.Printf("runner job=%s provider terminal failure: %s", job.ID, reason)
		return Decision{Outcome: OutcomeErrored}, nil

	case page.Done, total >= job.TargetResults:
		if err := r.repo.MarkCompleted(ctx, job.ID, nil); err != nil {
			return Decision{}, err
		}
		log.Printf("runner job=%s completed runs=%d results=%d", job.ID, job.ProcessedRuns, total)
		return Decision{Outcome: OutcomeCompleted}, nil

	case !page.HasMore && !r.hasPendingWork(job):
		// Exhausting the provider before the target is not an error.
		reason := fmt.Sprintf("provider exhausted at %d of %d results", total, job.TargetResults)
		if err := r.repo.MarkCompleted(ctx, job.ID, &reason); err != nil {
			return Decision{}, err
		}
		log.Printf("runner job=%s completed partial: %s", job.ID, reason)
		return Decision{Outcome: OutcomePartial}, nil

	default:
		if err := r.repo.ReleaseLease(ctx, job.ID); err != nil {
			return Decision{}, err
		}
		if _, err := r.dispatcher.Enqueue(ctx, job.ID, r.continueDelay, r.maxRetries); err != nil {
			return Decision{}, fmt.Errorf("enqueue continuation: %w", err)
		}
		return Decision{Outcome: OutcomeContinue, Delay: r.continueDelay}, nil
	}
}

// pageRequest selects the job's next unit of work. Keyword pipelines page
// through the keyword search; handle-queue pipelines work one handle at a
// time.
func (r *Runner) pageRequest(job *Job) provider.PageRequest {
	req := provider.PageRequest{
		Platform: job.Platform,
		Keywords: job.Keywords,
		Cursor:   job.Cursor,
		Settings: job.Settings,
	}
	if job.SeedHandle != nil {
		req.Handle = *job.SeedHandle
	}
	if hq := job.Pipeline.HandleQueue; job.Pipeline.Kind == PipelineHandleQueue && hq != nil {
		if hq.ActiveHandle == "" && len(hq.RemainingHandles) > 0 {
			hq.ActiveHandle = hq.RemainingHandles[0]
			hq.RemainingHandles = hq.RemainingHandles[1:]
		}
		req.Handle = hq.ActiveHandle
	}
	return req
}

// advancePipeline updates the embedded pipeline sub-state after a page.
func (r *Runner) advancePipeline(job *Job, page *provider.Page, merged []Creator) {
	switch job.Pipeline.Kind {
	case PipelineKeyword:
		ks := job.Pipeline.Keyword
		if ks == nil {
			ks = &KeywordState{KeywordsDispatched: len(job.Keywords)}
			job.Pipeline.Keyword = ks
		}
		ks.CreatorsFound = len(merged)
		ks.CreatorsEnriched = countEnriched(job, merged)
		if page.Done || page.Failed || !page.HasMore {
			ks.KeywordsCompleted = ks.KeywordsDispatched
		}
		if v, ok := job.Settings["enrich"].(bool); ok && v {
			ks.Enriching = ks.CreatorsEnriched < ks.CreatorsFound
		}

	case PipelineHandleQueue:
		hq := job.Pipeline.HandleQueue
		if hq == nil {
			return
		}
		if hq.PerHandle == nil {
			hq.PerHandle = make(map[string]HandleMetrics)
		}
		m := hq.PerHandle[hq.ActiveHandle]
		m.PagesFetched++
		m.CreatorsFound += len(page.Candidates)
		hq.PerHandle[hq.ActiveHandle] = m
		if !page.HasMore || page.Done {
			hq.CompletedHandles++
			hq.ActiveHandle = ""
			job.Cursor = ""
		}
		hq.UpdatedAt = time.Now()
	}
}

// hasPendingWork reports whether a handle-queue pipeline still has handles
// left after the current page said HasMore == false.
func (r *Runner) hasPendingWork(job *Job) bool {
	hq := job.Pipeline.HandleQueue
	if job.Pipeline.Kind != PipelineHandleQueue || hq == nil {
		return false
	}
	return hq.ActiveHandle != "" || len(hq.RemainingHandles) > 0
}

// countEnriched measures the enrichment axis. When the job did not ask for
// enrichment the axis is trivially complete; otherwise a creator counts as
// enriched once it carries contact or engagement data.
func countEnriched(job *Job, merged []Creator) int {
	if v, ok := job.Settings["enrich"].(bool); !ok || !v {
		return len(merged)
	}
	n := 0
	for _, c := range merged {
		if len(c.Emails) > 0 || c.EngagementRate > 0 {
			n++
		}
	}
	return n
}
