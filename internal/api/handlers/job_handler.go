package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Matheus2505060/multpost-ai/internal/adapter"
	"github.com/Matheus2505060/multpost-ai/internal/models"
	"github.com/Matheus2505060/multpost-ai/internal/repository"
	"github.com/Matheus2505060/multpost-ai/internal/service"
	"github.com/Matheus2505060/multpost-ai/internal/transfer"
	"github.com/gofiber/fiber/v2"
)

// JobEnqueuer schedules an immediate trigger for a job at its schedule time.
type JobEnqueuer interface {
	EnqueueJob(jobID string, scheduleAt *time.Time, now time.Time) error
}

type JobHandler struct {
	s        service.PublisherService
	ur       repository.UploadRepository
	enqueuer JobEnqueuer
}

// NewJobHandler builds the job routes. enqueuer may be nil when no queue is configured.
func NewJobHandler(s service.PublisherService, ur repository.UploadRepository, enqueuer JobEnqueuer) *JobHandler {
	return &JobHandler{s: s, ur: ur, enqueuer: enqueuer}
}

func publishOptions(opts transfer.JobOptions) adapter.PublishOptions {
	return adapter.PublishOptions{
		Title:       opts.Title,
		Description: opts.Description,
		Tags:        opts.Tags,
		ScheduleAt:  opts.ScheduleAt,
		Privacy:     adapter.Privacy(opts.Privacy),
	}
}

// ownedUpload returns nil when the upload does not exist or belongs to someone else.
func (h *JobHandler) ownedUpload(c *fiber.Ctx, userID int64, uploadID string) (*models.Upload, error) {
	upload, err := h.ur.GetByID(c.Context(), uploadID)
	if err != nil {
		return nil, err
	}
	if upload == nil || upload.UserID != userID {
		return nil, nil
	}
	return upload, nil
}

// ownedJob returns nil when the job does not exist or belongs to someone else.
func (h *JobHandler) ownedJob(c *fiber.Ctx, userID int64) (*models.Job, error) {
	job, err := h.s.GetJob(c.Context(), c.Params("id"))
	if errors.Is(err, service.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, nil
	}
	return job, nil
}

func (h *JobHandler) ValidateJobs(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var req transfer.ValidateJobsRequest
	if body, ok := parseBody(c, &req); !ok {
		return c.Status(fiber.StatusBadRequest).JSON(body)
	}

	var meta adapter.VideoMetadata
	if req.UploadID != "" {
		upload, err := h.ownedUpload(c, userID, req.UploadID)
		if err != nil {
			slog.Error(err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Unable to load upload",
			})
		}
		if upload == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Upload not found",
			})
		}
		meta = upload.Metadata()
	} else {
		meta = adapter.NewVideoMetadata(req.Video.Duration, req.Video.Width, req.Video.Height, req.Video.Size)
	}

	results := h.s.ValidateForPlatforms(c.Context(), userID, req.Platforms, meta, publishOptions(req.JobOptions))

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"results": results,
	})
}

func (h *JobHandler) CreateJobs(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var req transfer.CreateJobsRequest
	if body, ok := parseBody(c, &req); !ok {
		return c.Status(fiber.StatusBadRequest).JSON(body)
	}

	upload, err := h.ownedUpload(c, userID, req.UploadID)
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load upload",
		})
	}
	if upload == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Upload not found",
		})
	}

	jobIDs, err := h.s.CreatePublishJobs(c.Context(), userID, upload.ID, req.Platforms, publishOptions(req.JobOptions))
	if errors.Is(err, service.ErrInvalidInput) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to create jobs",
		})
	}

	if h.enqueuer != nil {
		now := time.Now()
		for _, id := range jobIDs {
			if err := h.enqueuer.EnqueueJob(id, req.ScheduleAt, now); err != nil {
				slog.Warn("unable to enqueue job, the worker will pick it up", "job_id", id, "error", err)
			}
		}
	}

	return c.Status(fiber.StatusCreated).JSON(transfer.CreateJobsResponse{JobIDs: jobIDs})
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	userID := GetUserID(c)

	jobs, err := h.s.GetUserJobs(c.Context(), userID, c.Query("status"))
	if errors.Is(err, service.ErrInvalidStatus) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list jobs",
		})
	}

	return c.Status(fiber.StatusOK).JSON(jobs)
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.ownedJob(c, GetUserID(c))
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load job",
		})
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}

	return c.Status(fiber.StatusOK).JSON(job)
}

func (h *JobHandler) GetJobStatus(c *fiber.Ctx) error {
	job, err := h.ownedJob(c, GetUserID(c))
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load job",
		})
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}

	status, err := h.s.ReconcileJob(c.Context(), job.ID)
	if err != nil {
		slog.Warn("unable to reconcile job", "job_id", job.ID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Unable to reach platform",
		})
	}

	return c.Status(fiber.StatusOK).JSON(status)
}

func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	job, err := h.ownedJob(c, GetUserID(c))
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load job",
		})
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}

	cancelled, err := h.s.CancelJob(c.Context(), job.ID)
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to cancel job",
		})
	}
	if !cancelled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Job can no longer be cancelled",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Job cancelled",
	})
}
