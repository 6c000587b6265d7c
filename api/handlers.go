/*
handlers.go - HTTP API handlers for the payroll batch engine

PURPOSE:
  Exposes batch runs and their audit trail via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the orchestrator.

ENDPOINTS:
  Batches:
    POST   /api/batches                 Run (create or resume) a batch
    GET    /api/batches?company=        List batches of a company
    GET    /api/batches/{id}            Batch details
    GET    /api/batches/{id}/objects    Checkpoints in write order
    GET    /api/batches/{id}/export     XLSX of the batch outputs

  Audit:
    GET    /api/action-logs?limit=      Newest action-log entries

REQUEST FLOW:
  A run is synchronous: the response is sent once the batch is Completed or
  the run failed. A failed run leaves the batch resumable; POST again with
  the same range.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, bad dates, end not after start
  - 404: Batch not found
  - 409: Company locked, batch in progress over another range, several
         batches in progress
  - 422: Shift configuration or payroll attributes need fixing
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// BatchRunner runs the batch of a company over a date range.
type BatchRunner interface {
	Run(ctx context.Context, company payroll.CompanyID, start, end payroll.TimePoint) (*payroll.Batch, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  payroll.Store
	Runner BatchRunner
	Log    logrus.FieldLogger
}

func NewHandler(store payroll.Store, runner BatchRunner, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{Store: store, Runner: runner, Log: log}
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// RunBatch creates or resumes a batch and processes it.
// POST /api/batches
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req RunBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Company == "" {
		writeError(w, http.StatusBadRequest, "company is required", nil)
		return
	}
	start, err := payroll.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	end, err := payroll.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date", err)
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "end_date must be after start_date", payroll.ErrInvalidPeriod)
		return
	}

	b, err := h.Runner.Run(r.Context(), payroll.CompanyID(req.Company), start, end)
	if err != nil {
		h.Log.WithError(err).WithField("company", req.Company).Error("batch run failed")
		writeError(w, statusFor(err), "Batch run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(*b))
}

// ListBatches returns the batches of a company, oldest first.
// GET /api/batches?company=
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	company := r.URL.Query().Get("company")
	if company == "" {
		writeError(w, http.StatusBadRequest, "company is required", nil)
		return
	}
	filter := payroll.BatchFilter{
		Company: payroll.CompanyID(company),
		Status:  payroll.BatchStatus(r.URL.Query().Get("status")),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeError(w, http.StatusBadRequest, "Invalid status", nil)
		return
	}

	batches, err := h.Store.ListBatches(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}
	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": dtos})
}

// GetBatch returns one batch.
// GET /api/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.Store.GetBatch(r.Context(), payroll.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Failed to get batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(*b))
}

// ListBatchObjects returns the checkpoints of a batch in write order.
// GET /api/batches/{id}/objects
func (h *Handler) ListBatchObjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := payroll.BatchID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetBatch(ctx, id); err != nil {
		writeError(w, statusFor(err), "Failed to get batch", err)
		return
	}

	checkpoints, err := h.Store.ListCheckpoints(ctx, payroll.CheckpointFilter{
		BatchID:    id,
		ObjectType: payroll.ObjectType(r.URL.Query().Get("object_type")),
		EmployeeID: payroll.EmployeeID(r.URL.Query().Get("employee")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batch objects", err)
		return
	}
	dtos := make([]CheckpointDTO, len(checkpoints))
	for i, c := range checkpoints {
		dtos[i] = toCheckpointDTO(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": dtos})
}

// ExportBatch streams the batch outputs as an XLSX workbook.
// GET /api/batches/{id}/export
func (h *Handler) ExportBatch(w http.ResponseWriter, r *http.Request) {
	id := payroll.BatchID(chi.URLParam(r, "id"))
	f, err := report.Build(r.Context(), h.Store, id)
	if err != nil {
		writeError(w, statusFor(err), "Failed to export batch", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=batch-"+string(id)+".xlsx")
	if err := f.Write(w); err != nil {
		h.Log.WithError(err).WithField("batch", id).Error("failed to write export")
	}
}

// =============================================================================
// ACTION LOG
// =============================================================================

// ListActionLogs returns the newest action-log entries.
// GET /api/action-logs?limit=
func (h *Handler) ListActionLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	logs, err := h.Store.ListActionLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list action logs", err)
		return
	}
	dtos := make([]ActionLogDTO, len(logs))
	for i, l := range logs {
		dtos[i] = toActionLogDTO(l)
	}
	writeJSON(w, http.StatusOK, map[string]any{"action_logs": dtos})
}

// =============================================================================
// HELPERS
// =============================================================================

func statusFor(err error) int {
	switch {
	case payroll.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, payroll.ErrInvalidPeriod):
		return http.StatusBadRequest
	case payroll.IsDataError(err):
		return http.StatusUnprocessableEntity
	case payroll.IsNotFound(err):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
