package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"stoflow/internal/marketplace"
	"stoflow/internal/models"
	"stoflow/internal/repository"
)

// JobHandler exposes the enqueue/status/cancel surface of the
// orchestration core.
type JobHandler struct {
	repos    *Repos
	registry *marketplace.Registry
	logger   *zap.Logger
}

func NewJobHandler(repos *Repos, registry *marketplace.Registry, logger *zap.Logger) *JobHandler {
	return &JobHandler{repos: repos, registry: registry, logger: logger}
}

// Enqueue handles POST /api/jobs.
func (h *JobHandler) Enqueue(c echo.Context) error {
	var req models.EnqueueJobRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}

	job, err := h.buildJob(&req, "", req.SubjectID, req.Payload)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	if err := h.repos.Job.Create(job); err != nil {
		h.logger.Error("Failed to enqueue job", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to enqueue job")
	}
	return successResponse(c, "job enqueued", map[string]string{"job_id": job.ID})
}

// EnqueueBatch handles POST /api/batches: one batch row plus one job per
// item, inserted together.
func (h *JobHandler) EnqueueBatch(c echo.Context) error {
	var req models.EnqueueBatchRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}
	if len(req.Items) == 0 {
		return errorResponse(c, http.StatusBadRequest, "items must not be empty")
	}

	batch := &models.Batch{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		Marketplace: req.Marketplace,
		Action:      req.Action,
		TotalCount:  len(req.Items),
	}

	jobs := make([]*models.Job, 0, len(req.Items))
	for _, item := range req.Items {
		job, err := h.buildJob(&models.EnqueueJobRequest{
			TenantID:    req.TenantID,
			Marketplace: req.Marketplace,
			Action:      req.Action,
			Priority:    req.Priority,
			MaxAttempts: req.MaxAttempts,
		}, batch.ID, item.SubjectID, item.Payload)
		if err != nil {
			return errorResponse(c, http.StatusBadRequest, err.Error())
		}
		jobs = append(jobs, job)
	}

	if err := h.repos.Batch.Create(batch); err != nil {
		h.logger.Error("Failed to create batch", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to create batch")
	}
	if err := h.repos.Job.CreateAll(jobs); err != nil {
		h.logger.Error("Failed to enqueue batch jobs",
			zap.String("batch_id", batch.ID), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to enqueue batch jobs")
	}

	return successResponse(c, "batch enqueued", map[string]interface{}{
		"batch_id":    batch.ID,
		"total_count": batch.TotalCount,
	})
}

func (h *JobHandler) buildJob(req *models.EnqueueJobRequest, batchID, subjectID string, payload interface{}) (*models.Job, error) {
	if req.TenantID == "" {
		return nil, errors.New("tenant_id is required")
	}
	if !marketplace.ValidMarketplace(req.Marketplace) {
		return nil, errors.New("unknown marketplace: " + req.Marketplace)
	}
	if _, ok := h.registry.Lookup(req.Marketplace, req.Action); !ok {
		return nil, errors.New("unsupported action " + req.Action + " for " + req.Marketplace)
	}

	var payloadJSON string
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.New("payload is not serializable")
		}
		payloadJSON = string(raw)
	}

	return &models.Job{
		TenantID:    req.TenantID,
		Marketplace: req.Marketplace,
		Action:      req.Action,
		SubjectID:   subjectID,
		BatchID:     batchID,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		Payload:     payloadJSON,
	}, nil
}

// Get handles GET /api/jobs/:id.
func (h *JobHandler) Get(c echo.Context) error {
	job, err := h.repos.Job.FindByID(c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, http.StatusNotFound, "job not found")
	}
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "failed to load job")
	}
	return successResponse(c, "", job)
}

// Cancel handles POST /api/jobs/:id/cancel. Only pending jobs can be
// cancelled; a running job finishes its in-flight call and is finalized
// normally.
func (h *JobHandler) Cancel(c echo.Context) error {
	jobID := c.Param("id")
	job, err := h.repos.Job.FindByID(jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, http.StatusNotFound, "job not found")
	}
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "failed to load job")
	}

	if err := h.repos.Job.Cancel(jobID); err != nil {
		if errors.Is(err, repository.ErrNotClaimable) {
			return errorResponse(c, http.StatusConflict, "only pending jobs can be cancelled")
		}
		return errorResponse(c, http.StatusInternalServerError, "failed to cancel job")
	}

	if job.BatchID != "" {
		if err := h.repos.Batch.OnJobTerminal(job.BatchID, models.JobStatusCancelled); err != nil {
			h.logger.Error("Failed to update batch after cancel",
				zap.String("batch_id", job.BatchID), zap.Error(err))
		}
	}
	return successResponse(c, "job cancelled", nil)
}

// GetBatch handles GET /api/batches/:id.
func (h *JobHandler) GetBatch(c echo.Context) error {
	batch, err := h.repos.Batch.FindByID(c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, http.StatusNotFound, "batch not found")
	}
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "failed to load batch")
	}
	return successResponse(c, "", batch)
}
