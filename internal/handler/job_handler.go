package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"invoice-sync-go/internal/scheduler"
)

// StartJob starts the background schedule
func (h *Handlers) StartJob(c *gin.Context) {
	status, err := h.jobs.Start()
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		c.JSON(http.StatusOK, JobResponse{Message: "Job is already running", Job: status})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start job",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, JobResponse{Message: "Job started", Job: status})
}

// StopJob stops the background schedule
func (h *Handlers) StopJob(c *gin.Context) {
	c.JSON(http.StatusOK, JobResponse{Message: "Job stopped", Job: h.jobs.Stop()})
}

// GetJobStatus returns the current job status
func (h *Handlers) GetJobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.Status())
}
