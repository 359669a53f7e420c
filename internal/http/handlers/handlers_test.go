package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/campusfix/backend/internal/memstore"
	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/notify"
	"github.com/campusfix/backend/internal/seen"
	"github.com/campusfix/backend/internal/service"
)

var fixedNow = time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)

func newTestHandler(mem *memstore.Store) *Handler {
	now := func() time.Time { return fixedNow }
	dispatcher := &notify.Dispatcher{Store: mem, Logger: zerolog.Nop(), Now: now}
	assigner := &service.AssignmentService{
		Store:        mem,
		Notifier:     dispatcher,
		Logger:       zerolog.Nop(),
		Location:     time.UTC,
		StoreTimeout: time.Second,
		Now:          now,
	}
	tracked := seen.NewMemory()
	return &Handler{
		Store:     mem,
		Assigner:  assigner,
		Processor: &service.ProcessingService{Assigner: assigner, Logger: zerolog.Nop()},
		Delayed:   &service.DelayedService{Store: mem, Seen: tracked, Notifier: dispatcher, Logger: zerolog.Nop(), ThresholdDays: 3, Now: now},
		Workload:  &service.WorkloadService{Store: mem, Logger: zerolog.Nop(), Now: now},
		Seen:      tracked,
		Validator: validator.New(),
		Logger:    zerolog.Nop(),
	}
}

func newTestEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", h.Healthz)
	r.GET("/api/technicians", h.TechniciansList)
	r.GET("/api/technicians/available", h.TechniciansAvailable)
	r.GET("/api/technicians/of-the-week", h.TechnicianOfTheWeek)
	r.GET("/api/requests/:kind", h.RequestsList)
	r.POST("/api/requests/:kind/:id/auto-assign", h.AutoAssign)
	r.POST("/api/requests/:kind/:id/assign", h.Assign)
	r.POST("/api/requests/:kind/:id/complete", h.Complete)
	r.POST("/api/requests/:kind/:id/decline", h.Decline)
	r.POST("/api/process", h.Process)
	r.POST("/api/delayed/scan", h.DelayedScan)
	r.DELETE("/api/delayed/seen", h.DelayedSeenClear)
	return r
}

func seededStore() *memstore.Store {
	mem := memstore.New()
	mem.PutTechnician(models.Technician{ID: "t1", Name: "Ana", RawHours: "08:00-16:00", Availability: models.Available, ActiveTaskCount: 2})
	mem.PutTechnician(models.Technician{ID: "t2", Name: "Ben", RawHours: "08:00-16:00", Availability: models.Available, ActiveTaskCount: 0})
	mem.PutTechnician(models.Technician{ID: "t3", Name: "Cy", RawHours: "18:00-22:00", Availability: models.Available})
	mem.PutRequest(models.Request{ID: "r1", Kind: models.KindMaintenance, Status: models.StatusPending, Location: "Lab 2", Category: "electrical", Urgency: models.UrgencyHigh, RequesterID: "u1", CreatedAt: fixedNow.Add(-time.Hour)})
	return mem
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return resp.Error.Code
}

func TestHealthz(t *testing.T) {
	r := newTestEngine(newTestHandler(memstore.New()))
	if w := do(r, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAutoAssignPicksLeastLoaded(t *testing.T) {
	mem := seededStore()
	r := newTestEngine(newTestHandler(mem))

	w := do(r, http.MethodPost, "/api/requests/maintenance/r1/auto-assign", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got, _ := mem.GetRequest(context.Background(), models.KindMaintenance, "r1")
	if got.AssigneeID() != "t2" || got.Status != models.StatusInProgress {
		t.Fatalf("expected r1 in progress with t2, got %+v", got)
	}
	notes := mem.Notifications()
	if len(notes) != 1 || notes[0].UserID != "t2" || notes[0].Type != models.NotificationError {
		t.Fatalf("expected urgent notification to t2, got %+v", notes)
	}

	w = do(r, http.MethodPost, "/api/requests/maintenance/r1/auto-assign", nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "INVALID_STATE" {
		t.Fatalf("expected 409 INVALID_STATE on second auto-assign, got %d %s", w.Code, w.Body.String())
	}
}

func TestAutoAssignNoCandidate(t *testing.T) {
	mem := memstore.New()
	mem.PutTechnician(models.Technician{ID: "t3", Name: "Cy", RawHours: "18:00-22:00", Availability: models.Available})
	mem.PutRequest(models.Request{ID: "r1", Kind: models.KindGeneral, Status: models.StatusPending})
	r := newTestEngine(newTestHandler(mem))

	w := do(r, http.MethodPost, "/api/requests/general/r1/auto-assign", nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "NO_CANDIDATE" {
		t.Fatalf("expected 409 NO_CANDIDATE, got %d %s", w.Code, w.Body.String())
	}
	got, _ := mem.GetRequest(context.Background(), models.KindGeneral, "r1")
	if got.Status != models.StatusPending || got.AssigneeID() != "" {
		t.Fatalf("request must stay untouched, got %+v", got)
	}
}

func TestRequestKindValidation(t *testing.T) {
	r := newTestEngine(newTestHandler(seededStore()))
	w := do(r, http.MethodGet, "/api/requests/plumbing", nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
		t.Fatalf("expected 400 VALIDATION_ERROR, got %d", w.Code)
	}
}

func TestAssignValidatesPayload(t *testing.T) {
	r := newTestEngine(newTestHandler(seededStore()))

	w := do(r, http.MethodPost, "/api/requests/maintenance/r1/assign", map[string]string{})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
		t.Fatalf("expected 400 VALIDATION_ERROR, got %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/api/requests/maintenance/r1/assign", map[string]string{"technician_id": "ghost"})
	if w.Code != http.StatusNotFound || errorCode(t, w) != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/api/requests/maintenance/missing/assign", map[string]string{"technician_id": "t1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing request, got %d", w.Code)
	}
}

func TestAssignBypassesAvailability(t *testing.T) {
	mem := seededStore()
	r := newTestEngine(newTestHandler(mem))
	w := do(r, http.MethodPost, "/api/requests/maintenance/r1/assign", map[string]string{"technician_id": "t3"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	tech, _ := mem.GetTechnician(context.Background(), "t3")
	if tech.ActiveTaskCount != 1 {
		t.Fatalf("expected t3 active count 1, got %d", tech.ActiveTaskCount)
	}
}

func TestCompleteFlow(t *testing.T) {
	mem := seededStore()
	r := newTestEngine(newTestHandler(mem))

	w := do(r, http.MethodPost, "/api/requests/maintenance/r1/complete", nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "INVALID_STATE" {
		t.Fatalf("expected 409 completing a pending request, got %d %s", w.Code, w.Body.String())
	}

	do(r, http.MethodPost, "/api/requests/maintenance/r1/auto-assign", nil)
	mem.FailNotifications = errors.New("notifications down")
	w = do(r, http.MethodPost, "/api/requests/maintenance/r1/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with warning, got %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Request models.Request `json:"request"`
		Warning struct {
			Code string `json:"code"`
		} `json:"warning"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Request.Status != models.StatusCompleted || resp.Warning.Code != "PARTIAL_COMMIT" {
		t.Fatalf("unexpected response %+v", resp)
	}

	tech, _ := mem.GetTechnician(context.Background(), "t2")
	if tech.ActiveTaskCount != 0 || tech.SolvedTaskCount != 1 {
		t.Fatalf("expected counters released, got %+v", tech)
	}
}

func TestDeclineReassigns(t *testing.T) {
	mem := seededStore()
	r := newTestEngine(newTestHandler(mem))
	do(r, http.MethodPost, "/api/requests/maintenance/r1/auto-assign", nil)

	w := do(r, http.MethodPost, "/api/requests/maintenance/r1/decline", map[string]string{"technician_id": "t2"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	got, _ := mem.GetRequest(context.Background(), models.KindMaintenance, "r1")
	if got.AssigneeID() != "t1" || got.DeclineCount != 1 {
		t.Fatalf("expected reassignment to t1, got %+v", got)
	}

	w = do(r, http.MethodPost, "/api/requests/maintenance/r1/decline", map[string]string{"technician_id": "t2"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a decline by a non-assignee, got %d", w.Code)
	}
}

func TestAvailableDebugStages(t *testing.T) {
	r := newTestEngine(newTestHandler(seededStore()))
	w := do(r, http.MethodGet, "/api/technicians/available?debug=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Items  []models.Technician  `json:"items"`
		Stages map[string][]string `json:"stages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[0].ID != "t2" {
		t.Fatalf("expected t2 ranked first of two, got %+v", resp.Items)
	}
	if len(resp.Stages["all"]) != 3 || len(resp.Stages["in_working_hours"]) != 2 {
		t.Fatalf("unexpected stages %+v", resp.Stages)
	}
}

func TestTechnicianOfTheWeekPlaceholder(t *testing.T) {
	r := newTestEngine(newTestHandler(seededStore()))
	w := do(r, http.MethodGet, "/api/technicians/of-the-week?refresh=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sum service.WorkloadSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Winner != nil || sum.Display != service.NoWinnerPlaceholder {
		t.Fatalf("expected placeholder, got %+v", sum)
	}
}

func TestProcessAssignsPending(t *testing.T) {
	mem := seededStore()
	r := newTestEngine(newTestHandler(mem))
	w := do(r, http.MethodPost, "/api/process", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var sum service.RunSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Counts["assigned"] != float64(1) {
		t.Fatalf("expected one assignment, got %+v", sum.Counts)
	}
}

func TestDelayedScanAndReset(t *testing.T) {
	mem := seededStore()
	mem.PutUser(models.User{ID: "a1", Role: models.RoleAdmin})
	mem.PutRequest(models.Request{ID: "old", Kind: models.KindInventory, Status: models.StatusPending, RequesterID: "u9", CreatedAt: fixedNow.Add(-5 * 24 * time.Hour)})
	r := newTestEngine(newTestHandler(mem))

	scan := func() service.ScanReport {
		w := do(r, http.MethodPost, "/api/delayed/scan", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
		}
		var resp struct {
			Report service.ScanReport `json:"report"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp.Report
	}

	if rep := scan(); len(rep.Events) != 1 || rep.Notifications != 2 {
		t.Fatalf("expected one event with two notifications, got %+v", rep)
	}
	if rep := scan(); len(rep.Events) != 0 {
		t.Fatalf("expected no repeat, got %+v", rep)
	}
	if w := do(r, http.MethodDelete, "/api/delayed/seen", nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if rep := scan(); len(rep.Events) != 1 {
		t.Fatalf("expected event again after reset, got %+v", rep)
	}
}
