package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scoutline/discovery/internal/common"
	"github.com/scoutline/discovery/internal/discovery"
)

type processReq struct {
	JobID string `json:"job_id" binding:"required"`
}

// ProcessWebhook is the worker entry point: the queue transport delivers one
// "process this job" message per call. The signature middleware has already
// verified the payload by the time this runs.
func (h *Handler) ProcessWebhook(c *gin.Context) {
	var req processReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	dec, err := h.Runner.Run(c.Request.Context(), req.JobID)
	if err != nil {
		if errors.Is(err, discovery.ErrJobNotFound) {
			// Nothing to update and nothing to retry against: acknowledge
			// so the transport drops the message.
			log.Printf("webhook job=%s not found, acking", req.JobID)
			common.OK(c, gin.H{"outcome": "not_found"})
			return
		}
		if errors.Is(err, discovery.ErrJobBusy) {
			// Another invocation holds the lease; let the transport retry.
			common.Fail(c, http.StatusConflict, 40900, "job is being processed")
			return
		}
		// Runner already wrote the terminal error; the transport's retry
		// will hit the idempotency guard and no-op.
		common.Fail(c, http.StatusInternalServerError, 50010, "processing failed")
		return
	}

	common.OK(c, gin.H{
		"outcome":  dec.Outcome,
		"delay_ms": dec.Delay.Milliseconds(),
	})
}

// DeadLetterWebhook records messages that exhausted the transport's retry
// budget. It must never re-raise; a dead-letter delivery that itself errors
// out would loop between two retry mechanisms.
func (h *Handler) DeadLetterWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		body = nil
	}

	retryCount, _ := strconv.Atoi(c.GetHeader("X-Retry-Count"))
	dl := &discovery.DeadLetter{
		MessageID:  c.GetHeader("X-Message-ID"),
		JobID:      c.GetHeader("X-Job-ID"),
		RetryCount: retryCount,
		SourceURL:  c.GetHeader("X-Original-URL"),
		Body:       string(body),
		ReceivedAt: time.Now(),
	}

	if err := h.Repo.RecordDeadLetter(c.Request.Context(), dl); err != nil {
		log.Printf("dead letter record failed msg=%s job=%s err=%v", dl.MessageID, dl.JobID, err)
	} else if h.Redis != nil && dl.JobID != "" {
		if n, err := h.Redis.BumpDeadLetterAlert(c.Request.Context(), dl.JobID); err == nil {
			log.Printf("dead letter job=%s msg=%s retries=%d alerts=%d", dl.JobID, dl.MessageID, dl.RetryCount, n)
		}
	}

	// Always acknowledge receipt.
	common.OK(c, gin.H{"recorded": true})
}
