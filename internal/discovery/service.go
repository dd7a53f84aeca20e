package discovery

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrInvalidJobRequest = errors.New("invalid job request")

// JobRequest is the client's intent for a new discovery job.
type JobRequest struct {
	UserID        uint64
	CampaignID    *string
	Platform      string
	Keywords      []string
	SeedHandles   []string
	TargetResults int
	Settings      map[string]any
}

type Service struct {
	repo       *Repo
	dispatcher Dispatcher
}

func NewService(repo *Repo, dispatcher Dispatcher) *Service {
	return &Service{repo: repo, dispatcher: dispatcher}
}

// CreateJob persists a pending job with its timeout ceiling fixed at creation
// time and publishes the first queue message.
func (s *Service) CreateJob(ctx context.Context, req JobRequest) (*Job, error) {
	if strings.TrimSpace(req.Platform) == "" {
		return nil, ErrInvalidJobRequest
	}
	if len(req.Keywords) == 0 && len(req.SeedHandles) == 0 {
		return nil, ErrInvalidJobRequest
	}
	if req.TargetResults <= 0 {
		req.TargetResults = 100
	}

	id, err := NewJobID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &Job{
		ID:             id,
		UserID:         req.UserID,
		CampaignID:     req.CampaignID,
		Platform:       strings.ToLower(req.Platform),
		Keywords:       req.Keywords,
		TargetResults:  req.TargetResults,
		Settings:       req.Settings,
		Status:         JobPending,
		LastActivityAt: now,
		TimeoutAt:      now.Add(JobTimeoutCeiling),
	}
	if len(req.SeedHandles) > 0 {
		job.Pipeline = NewHandleQueuePipeline(req.SeedHandles)
		h := req.SeedHandles[0]
		job.SeedHandle = &h
	} else {
		job.Pipeline = NewKeywordPipeline(len(req.Keywords))
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if _, err := s.dispatcher.Enqueue(ctx, job.ID, 0, defaultMaxRetries); err != nil {
		// The job row exists but nothing will drive it; surface the failure
		// so the client can retry creation.
		_ = s.repo.MarkError(ctx, job.ID, "failed to dispatch job: "+err.Error())
		return nil, err
	}
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}
