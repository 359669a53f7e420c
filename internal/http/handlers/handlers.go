package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/seen"
	"github.com/campusfix/backend/internal/service"
	"github.com/campusfix/backend/internal/store"
)

type Handler struct {
	Store     store.Store
	Assigner  *service.AssignmentService
	Processor *service.ProcessingService
	Delayed   *service.DelayedService
	Workload  *service.WorkloadService
	Seen      seen.Store
	Validator *validator.Validate
	Logger    zerolog.Logger
	AdminKey  string
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Store unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary List technicians
// @Tags technicians
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/technicians [get]
func (h *Handler) TechniciansList(c *gin.Context) {
	items, err := h.Store.ListTechnicians(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list technicians", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Technicians available right now, best candidate first
// @Tags technicians
// @Produce json
// @Param debug query string false "include per-stage candidate ids"
// @Success 200 {object} map[string]any
// @Router /api/technicians/available [get]
func (h *Handler) TechniciansAvailable(c *gin.Context) {
	if isTruthy(c.Query("debug")) {
		res, err := h.Assigner.Eligibility(c.Request.Context())
		if err != nil {
			h.writeServiceError(c, err, "Failed to evaluate availability")
			return
		}
		stageIDs := map[string][]string{}
		for _, stage := range res.Stages {
			ids := []string{}
			for _, t := range stage.Candidates {
				ids = append(ids, t.ID)
			}
			stageIDs[stage.Name] = ids
		}
		c.JSON(http.StatusOK, gin.H{"items": service.RankCandidates(res.Available), "stages": stageIDs})
		return
	}

	items, err := h.Assigner.Available(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err, "Failed to list available technicians")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Technician of the week
// @Tags technicians
// @Produce json
// @Param refresh query string false "recompute instead of returning the cached result"
// @Success 200 {object} service.WorkloadSummary
// @Router /api/technicians/of-the-week [get]
func (h *Handler) TechnicianOfTheWeek(c *gin.Context) {
	var (
		sum service.WorkloadSummary
		err error
	)
	if isTruthy(c.Query("refresh")) {
		sum, err = h.Workload.Refresh(c.Request.Context())
	} else {
		sum, err = h.Workload.Current(c.Request.Context())
	}
	if err != nil {
		h.writeServiceError(c, err, "Failed to compute technician of the week")
		return
	}
	c.JSON(http.StatusOK, sum)
}

// @Summary List requests of one kind
// @Tags requests
// @Produce json
// @Param kind path string true "maintenance, inventory or general"
// @Param status query string false "comma separated statuses"
// @Success 200 {object} map[string]any
// @Router /api/requests/{kind} [get]
func (h *Handler) RequestsList(c *gin.Context) {
	kind, ok := requestKind(c)
	if !ok {
		return
	}
	var filter store.RequestFilter
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			filter.Statuses = append(filter.Statuses, models.ParseStatus(raw))
		}
	}
	items, err := h.Store.ListRequests(c.Request.Context(), kind, filter)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list requests", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Auto-assign a pending request to the best available technician
// @Tags requests
// @Produce json
// @Param kind path string true "request kind"
// @Param id path string true "request id"
// @Success 200 {object} service.AssignResult
// @Failure 409 {object} map[string]any
// @Router /api/requests/{kind}/{id}/auto-assign [post]
func (h *Handler) AutoAssign(c *gin.Context) {
	kind, ok := requestKind(c)
	if !ok {
		return
	}
	res, err := h.Assigner.AutoAssign(c.Request.Context(), kind, c.Param("id"))
	h.writeAssignResult(c, res, err)
}

type AssignRequest struct {
	TechnicianID string `json:"technician_id" validate:"required"`
}

// @Summary Assign a request to a named technician
// @Tags requests
// @Accept json
// @Produce json
// @Param kind path string true "request kind"
// @Param id path string true "request id"
// @Param body body AssignRequest true "technician"
// @Success 200 {object} service.AssignResult
// @Router /api/requests/{kind}/{id}/assign [post]
func (h *Handler) Assign(c *gin.Context) {
	kind, ok := requestKind(c)
	if !ok {
		return
	}
	var req AssignRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.Assigner.AssignTo(c.Request.Context(), kind, c.Param("id"), req.TechnicianID)
	h.writeAssignResult(c, res, err)
}

// @Summary Mark an in-progress request completed
// @Tags requests
// @Produce json
// @Param kind path string true "request kind"
// @Param id path string true "request id"
// @Success 200 {object} models.Request
// @Router /api/requests/{kind}/{id}/complete [post]
func (h *Handler) Complete(c *gin.Context) {
	kind, ok := requestKind(c)
	if !ok {
		return
	}
	req, err := h.Assigner.Complete(c.Request.Context(), kind, c.Param("id"))
	var partial *service.PartialCommitError
	if err != nil && !errors.As(err, &partial) {
		h.writeServiceError(c, err, "Failed to complete request")
		return
	}
	resp := gin.H{"request": req}
	if partial != nil {
		resp["warning"] = partialWarning(partial)
	}
	c.JSON(http.StatusOK, resp)
}

type DeclineRequest struct {
	TechnicianID string `json:"technician_id" validate:"required"`
}

// @Summary Technician declines an assigned request
// @Tags requests
// @Accept json
// @Produce json
// @Param kind path string true "request kind"
// @Param id path string true "request id"
// @Param body body DeclineRequest true "declining technician"
// @Success 200 {object} service.DeclineResult
// @Router /api/requests/{kind}/{id}/decline [post]
func (h *Handler) Decline(c *gin.Context) {
	kind, ok := requestKind(c)
	if !ok {
		return
	}
	var req DeclineRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.Assigner.Decline(c.Request.Context(), kind, c.Param("id"), req.TechnicianID)
	var partial *service.PartialCommitError
	if err != nil && !errors.As(err, &partial) {
		h.writeServiceError(c, err, "Failed to decline request")
		return
	}
	resp := gin.H{"result": res}
	if partial != nil {
		resp["warning"] = partialWarning(partial)
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Auto-assign every pending request
// @Tags process
// @Produce json
// @Param debug query string false "include no-candidate samples"
// @Success 200 {object} service.RunSummary
// @Router /api/process [post]
func (h *Handler) Process(c *gin.Context) {
	summary, err := h.Processor.ProcessPending(c.Request.Context(), isTruthy(c.Query("debug")))
	if err != nil {
		h.Logger.Error().Err(err).Msg("processing failed")
		h.writeServiceError(c, err, "Processing failed")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Scan for delayed and rejected requests now
// @Tags delayed
// @Produce json
// @Success 200 {object} service.ScanReport
// @Router /api/delayed/scan [post]
func (h *Handler) DelayedScan(c *gin.Context) {
	report, err := h.Delayed.Scan(c.Request.Context())
	if err != nil && len(report.Events) == 0 {
		h.writeServiceError(c, err, "Delayed scan failed")
		return
	}
	resp := gin.H{"report": report}
	if err != nil {
		resp["warning"] = gin.H{"code": "PARTIAL_COMMIT", "message": "Some notifications failed", "details": err.Error()}
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Forget which requests were already reported
// @Tags delayed
// @Success 204
// @Router /api/delayed/seen [delete]
func (h *Handler) DelayedSeenClear(c *gin.Context) {
	if err := h.Seen.Clear(c.Request.Context()); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to clear seen set", err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return false
	}
	if err := h.Validator.Struct(dst); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) writeAssignResult(c *gin.Context, res service.AssignResult, err error) {
	var partial *service.PartialCommitError
	if err != nil && !errors.As(err, &partial) {
		h.writeServiceError(c, err, "Assignment failed")
		return
	}
	resp := gin.H{"result": res}
	if partial != nil {
		resp["warning"] = partialWarning(partial)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) writeServiceError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		writeError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Store unavailable", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", err.Error())
	case errors.Is(err, service.ErrNoCandidate):
		writeError(c, http.StatusConflict, "NO_CANDIDATE", "No technician available", nil)
	case errors.Is(err, store.ErrInvalidState):
		writeError(c, http.StatusConflict, "INVALID_STATE", "Request is not in a valid state for this action", err.Error())
	default:
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg(message)
		writeError(c, http.StatusInternalServerError, "DB_ERROR", message, err.Error())
	}
}

func partialWarning(p *service.PartialCommitError) gin.H {
	return gin.H{
		"code":    "PARTIAL_COMMIT",
		"message": "Request updated but " + p.Step + " failed",
		"details": p.Err.Error(),
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func requestKind(c *gin.Context) (models.RequestKind, bool) {
	kind := models.RequestKind(strings.ToLower(strings.TrimSpace(c.Param("kind"))))
	if !kind.Valid() {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown request kind", c.Param("kind"))
		return "", false
	}
	return kind, true
}

func isTruthy(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}
