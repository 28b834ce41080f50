package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dtbui/signpush/internal/api/domain"
	"github.com/dtbui/signpush/internal/api/dto"
	"github.com/dtbui/signpush/internal/api/model"
	"github.com/dtbui/signpush/internal/api/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateJob handles POST /api/v1/jobs
// Creates a new upload job in the QUEUED state.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	rawImages, err := json.Marshal(req.Images)
	if err != nil {
		h.logger.Error("Failed to encode images", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	now := time.Now()
	job := model.Job{
		JobID:           uuid.New().String(),
		UserID:          req.UserID,
		PortalUsername:  req.PortalUsername,
		PortalPassword:  req.PortalPassword,
		Images:          rawImages,
		DisplayTarget:   req.DisplayTarget,
		IntervalMinutes: req.IntervalMinutes,
		Cycle:           req.Cycle,
		Status:          domain.JobStatusQueued,
		Progress:        "Queued",
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.storage.CreateJob(c.Request.Context(), &job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	h.publishJobCreated(c, &job)

	c.JSON(http.StatusCreated, toJobDTO(&job))
}

// publishJobCreated emits a job.created event. Best-effort: a broker
// failure is logged and the request still succeeds.
func (h *JobHandler) publishJobCreated(c *gin.Context, job *model.Job) {
	if h.publisher == nil {
		return
	}

	event := map[string]string{
		"event":   "job.created",
		"job_id":  job.JobID,
		"user_id": job.UserID,
	}
	body, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode job.created event", slog.String("error", err.Error()))
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to publish job.created event",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// LatestJobForUser handles GET /api/v1/users/:user_id/jobs/latest
// Returns status, progress, and logs of the user's most recent job.
func (h *JobHandler) LatestJobForUser(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	job, err := h.storage.LatestJobByUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No jobs found for user",
			})
			return
		}
		h.logger.Error("Failed to get latest job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get latest job",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":   job.JobID,
		"status":   job.Status,
		"progress": job.Progress,
		"logs":     job.Logs,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a queued or running job. A running worker stops at its next
// status checkpoint.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	err := h.storage.CancelJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotCancellable) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found or already finished",
			})
			return
		}
		h.logger.Error("Failed to cancel job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel job",
		})
		return
	}

	h.logger.Info("Job cancelled", slog.String("job_id", jobID))
	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": domain.JobStatusCancelled,
	})
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		UserID:   req.UserID,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.storage.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = *toJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// toJobDTO converts a stored job to its API shape. Credentials never
// leave the storage layer.
func toJobDTO(job *model.Job) *dto.JobDTO {
	var images []dto.ImageDTO
	_ = json.Unmarshal(job.Images, &images)

	return &dto.JobDTO{
		JobID:           job.JobID,
		UserID:          job.UserID,
		DisplayTarget:   job.DisplayTarget,
		IntervalMinutes: job.IntervalMinutes,
		Cycle:           job.Cycle,
		ImageCount:      len(images),
		Status:          job.Status,
		Progress:        job.Progress,
		Logs:            job.Logs,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
}
