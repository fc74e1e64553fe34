package job

import (
	"errors"
	"io"
	"net/http"

	"github.com/agentforge/deployq/common"
	"github.com/agentforge/deployq/internal/dto"
	"github.com/agentforge/deployq/internal/models"
	"github.com/agentforge/deployq/internal/watch"
	"github.com/agentforge/deployq/middleware"
	"github.com/gin-gonic/gin"
)

type JobHandler struct {
	service JobServiceInterface
	watcher watch.Watcher
}

func NewJobHandler(s JobServiceInterface, w watch.Watcher) *JobHandler {
	return &JobHandler{service: s, watcher: w}
}

var _ JobHandlerInterface = (*JobHandler)(nil)

// Submit handles deployment requests. It binds and validates the body,
// delegates to the service, and returns 201 with the new job id.
func (h *JobHandler) Submit(c *gin.Context) {
	var req dto.SubmitJobDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.SubmitJob(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Get returns the full job record for an id.
func (h *JobHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, common.Errf(http.StatusBadRequest, common.CodeInvalidConfig, "job id is required"))
		return
	}

	resp, err := h.service.GetJobByID(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Cancel requests cooperative cancellation. Returns 202: the processor acts
// on the flag at the next step boundary, not immediately.
func (h *JobHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, common.Errf(http.StatusBadRequest, common.CodeInvalidConfig, "job id is required"))
		return
	}

	if err := h.service.CancelJob(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusAccepted)
}

// List returns jobs filtered by optional status and target_id query params.
func (h *JobHandler) List(c *gin.Context) {
	jobs, err := h.service.ListJobs(c.Request.Context(), c.Query("status"), c.Query("target_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, jobs)
}

// Stats returns queue-depth counts by status.
func (h *JobHandler) Stats(c *gin.Context) {
	stats, err := h.service.QueueStats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Events streams job record snapshots for one job as server-sent events.
// The stream carries the current state immediately, then every change, and
// ends after a terminal status.
func (h *JobHandler) Events(c *gin.Context) {
	id := c.Param("id")
	stream, err := h.watcher.WatchJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, common.Errf(http.StatusNotFound, common.CodeNotFound, "job not found"))
			return
		}
		c.Error(common.Errf(http.StatusInternalServerError, common.CodeInternal, "failed to open job stream"))
		return
	}

	h.streamEvents(c, stream)
}

// TargetEvents streams snapshots of a target's jobs, keyed by target_id.
func (h *JobHandler) TargetEvents(c *gin.Context) {
	targetID := c.Query("target_id")
	if targetID == "" {
		c.JSON(http.StatusBadRequest, common.Errf(http.StatusBadRequest, common.CodeInvalidConfig, "target_id is required"))
		return
	}

	stream, err := h.watcher.WatchTarget(c.Request.Context(), targetID)
	if err != nil {
		c.Error(common.Errf(http.StatusInternalServerError, common.CodeInternal, "failed to open target stream"))
		return
	}

	h.streamEvents(c, stream)
}

func (h *JobHandler) streamEvents(c *gin.Context, stream <-chan models.DeployJob) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		j, open := <-stream
		if !open {
			return false
		}
		c.SSEvent("job", toResponseDTO(&j))
		return true
	})
}
