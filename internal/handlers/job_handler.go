package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/jobs"
	"github.com/inaiurai/credits/internal/middleware"
	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/pricing"
)

// JobService is the orchestrator surface exposed over HTTP.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*models.GenerationJob, error)
	Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.GenerationJob, error)
	List(ctx context.Context, accountID uuid.UUID) ([]*models.GenerationJob, error)
	Poll(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error)
	Cancel(ctx context.Context, accountID, jobID uuid.UUID) (*models.GenerationJob, error)
}

// JobHandler serves /api/v1/jobs endpoints.
type JobHandler struct {
	Jobs   JobService
	Quoter Quoter
	Logger *slog.Logger
}

// jobView adds the user-facing outcome to a job.
type jobView struct {
	*models.GenerationJob
	Message string `json:"message"`
	Outcome string `json:"outcome,omitempty"`
}

func viewOf(j *models.GenerationJob) jobView {
	msg, err := jobs.Outcome(j)
	v := jobView{GenerationJob: j, Message: msg}
	if err != nil {
		v.Outcome = err.Error()
	}
	return v
}

type createJobRequest struct {
	ToolType    string          `json:"tool_type"`
	InputParams json.RawMessage `json:"input_params"`
}

type createJobResponse struct {
	Job   jobView            `json:"job"`
	Quote pricing.PriceQuote `json:"quote"`
}

// Create handles POST /api/v1/jobs: validate, quote server-side, submit -> 202.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ToolType == "" {
		writeError(w, http.StatusBadRequest, "tool_type is required")
		return
	}
	if len(req.InputParams) == 0 {
		req.InputParams = json.RawMessage(`{}`)
	}

	log := logger(h.Logger)
	usage, err := h.Quoter.Catalog().Validate(req.ToolType, req.InputParams)
	if err != nil {
		fail(w, log, "validate job params", err)
		return
	}
	quote, err := h.Quoter.QuoteTool(r.Context(), req.ToolType, usage)
	if err != nil {
		fail(w, log, "quote job", err)
		return
	}
	job, err := h.Jobs.Submit(r.Context(), jobs.SubmitRequest{
		AccountID:   acc.ID,
		ToolType:    req.ToolType,
		InputParams: req.InputParams,
		CostQuote:   quote.FinalCost,
	})
	if err != nil {
		fail(w, log, "submit job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, createJobResponse{Job: viewOf(job), Quote: quote})
}

// List handles GET /api/v1/jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.Jobs.List(r.Context(), acc.ID)
	if err != nil {
		fail(w, logger(h.Logger), "list jobs", err)
		return
	}
	out := make([]jobView, 0, len(list))
	for _, j := range list {
		out = append(out, viewOf(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /api/v1/jobs/{id}. A processing job is polled once so the
// caller sees the freshest state; a failed poll still returns the stored job.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	log := logger(h.Logger)
	job, err := h.Jobs.Get(r.Context(), acc.ID, jobID)
	if err != nil {
		fail(w, log, "get job", err)
		return
	}
	if !job.Status.Terminal() {
		polled, err := h.Jobs.Poll(r.Context(), jobID)
		if err != nil {
			log.Warn("poll on read failed", "job_id", jobID, "error", err)
		} else {
			job = polled
		}
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}

// Cancel handles POST /api/v1/jobs/{id}/cancel.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := h.Jobs.Cancel(r.Context(), acc.ID, jobID)
	if err != nil {
		fail(w, logger(h.Logger), "cancel job", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}
