package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/scoutline/discovery/internal/common"
	"github.com/scoutline/discovery/internal/discovery"
	"github.com/scoutline/discovery/internal/httpapi/middleware"
)

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

type createJobReq struct {
	Platform      string         `json:"platform" binding:"required"`
	Keywords      []string       `json:"keywords"`
	SeedHandles   []string       `json:"seed_handles"`
	TargetResults int            `json:"target_results"`
	CampaignID    *string        `json:"campaign_id"`
	Settings      map[string]any `json:"settings"`
}

func (h *Handler) CreateJob(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	job, err := h.Svc.CreateJob(c.Request.Context(), discovery.JobRequest{
		UserID:        uid,
		CampaignID:    req.CampaignID,
		Platform:      req.Platform,
		Keywords:      req.Keywords,
		SeedHandles:   req.SeedHandles,
		TargetResults: req.TargetResults,
		Settings:      req.Settings,
	})
	if err != nil {
		if errors.Is(err, discovery.ErrInvalidJobRequest) {
			common.Fail(c, http.StatusBadRequest, 10002, "platform and keywords or seed handles required")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create job")
		return
	}

	common.OK(c, gin.H{
		"job_id":         job.ID,
		"status":         job.Status,
		"target_results": job.TargetResults,
		"timeout_at":     job.TimeoutAt,
	})
}

func (h *Handler) Status(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	jobID := c.Query("jobId")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10003, "jobId required")
		return
	}

	job, err := h.Svc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, discovery.ErrJobNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to load job")
		return
	}
	if job.UserID != uid {
		common.Fail(c, http.StatusNotFound, 40004, "job not found")
		return
	}

	offset := intQuery(c, "offset", 0)
	limit := intQuery(c, "limit", 0)

	report, err := h.Aggregator.Status(c.Request.Context(), jobID, offset, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to aggregate status")
		return
	}
	common.OK(c, report)
}

func intQuery(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
