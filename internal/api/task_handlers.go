package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/justyntemme/calibrewebui/internal/models"
)

// ListTasks returns every job record, newest first
func (h *Handler) ListTasks(c *gin.Context) {
	jobs, err := h.jobs.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// CountTasks returns the number of jobs per status
func (h *Handler) CountTasks(c *gin.Context) {
	counts, err := h.jobs.CountByStatus(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		string(models.JobRunning):   counts[models.JobRunning],
		string(models.JobCompleted): counts[models.JobCompleted],
		string(models.JobCanceled):  counts[models.JobCanceled],
	})
}

// ClearTasks empties the job ledger
func (h *Handler) ClearTasks(c *gin.Context) {
	if err := h.jobs.Clear(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Tasks cleared"})
}
