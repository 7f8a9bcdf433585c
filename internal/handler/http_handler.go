package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/atlasfm/be-am-workflows/internal/apperr"
	"github.com/atlasfm/be-am-workflows/internal/service"
)

// HTTPHandler exposes the workflow engine over JSON endpoints.
type HTTPHandler struct {
	approvals  *service.ApprovalService
	scheduling *service.SchedulingService
	log        zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(approvals *service.ApprovalService, scheduling *service.SchedulingService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		approvals:  approvals,
		scheduling: scheduling,
		log:        log,
	}
}

// ScheduleWorkflow handles POST /api/v1/workflows.
func (h *HTTPHandler) ScheduleWorkflow(w http.ResponseWriter, r *http.Request) {
	var req service.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wf, steps, err := h.scheduling.ScheduleWorkflow(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"workflow": wf,
		"steps":    steps,
	})
}

// GetWorkflow handles GET /api/v1/workflows/get?id=.
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Workflow ID is required", http.StatusBadRequest)
		return
	}

	wf, err := h.approvals.GetWorkflow(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// GetWorkflowSteps handles GET /api/v1/workflows/steps?id=.
func (h *HTTPHandler) GetWorkflowSteps(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Workflow ID is required", http.StatusBadRequest)
		return
	}

	steps, err := h.approvals.WorkflowSteps(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

// ApproveStep handles POST /api/v1/workflows/approve.
func (h *HTTPHandler) ApproveStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID   string  `json:"workflow_id"`
		ActingUserID string  `json:"acting_user_id"`
		Notes        *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.approvals.Approve(r.Context(), req.WorkflowID, req.ActingUserID, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow":  res.Workflow,
		"step":      res.Step,
		"completed": res.Completed,
	})
}

// RejectStep handles POST /api/v1/workflows/reject.
func (h *HTTPHandler) RejectStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID   string `json:"workflow_id"`
		ActingUserID string `json:"acting_user_id"`
		Reason       string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.approvals.Reject(r.Context(), req.WorkflowID, req.ActingUserID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow":  res.Workflow,
		"step":      res.Step,
		"cancelled": res.Cancelled,
	})
}

// EscalateStep handles POST /api/v1/workflows/escalate.
func (h *HTTPHandler) EscalateStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID   string `json:"workflow_id"`
		ActingUserID string `json:"acting_user_id"`
		Reason       string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.approvals.Escalate(r.Context(), req.WorkflowID, req.ActingUserID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"step": res.Step})
}

// MigrateWorkflow handles POST /api/v1/workflows/migrate.
func (h *HTTPHandler) MigrateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID  string `json:"workflow_id"`
		PerformedBy string `json:"performed_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.approvals.MigrateToRoleBased(r.Context(), req.WorkflowID, req.PerformedBy); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "role_bound"})
}

// PendingApprovals handles GET /api/v1/approvals/pending?entity_id=&user_id=.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	userID := r.URL.Query().Get("user_id")
	if entityID == "" || userID == "" {
		http.Error(w, "Entity ID and User ID are required", http.StatusBadRequest)
		return
	}

	steps, err := h.approvals.PendingForUser(r.Context(), entityID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

// WorkflowHistory handles GET /api/v1/workflows/history?id=.
func (h *HTTPHandler) WorkflowHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Workflow ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.approvals.History(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// ── response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)

	var status int
	switch code {
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeForbidden:
		status = http.StatusForbidden
	case apperr.CodeNoPendingStep, apperr.CodeConflict:
		status = http.StatusConflict
	case apperr.CodeInvalidInput:
		status = http.StatusBadRequest
	case apperr.CodeUnavailable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}
