package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusfix/backend/internal/memstore"
	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/notify"
	"github.com/campusfix/backend/internal/store"
)

type failingCommitStore struct {
	*memstore.Store
	commitErr error
}

func (f failingCommitStore) CommitAssignment(ctx context.Context, c store.AssignmentCommit) (store.AssignmentOutcome, error) {
	if f.commitErr != nil {
		return store.AssignmentOutcome{}, f.commitErr
	}
	return f.Store.CommitAssignment(ctx, c)
}

func newAssigner(st store.Store, mem *memstore.Store, now time.Time) *AssignmentService {
	return &AssignmentService{
		Store:        st,
		Notifier:     &notify.Dispatcher{Store: mem, Logger: zerolog.Nop(), Now: func() time.Time { return now }},
		Logger:       zerolog.Nop(),
		Location:     time.UTC,
		StoreTimeout: time.Second,
		Now:          func() time.Time { return now },
	}
}

func scenarioStore() *memstore.Store {
	mem := memstore.New()
	mem.PutTechnician(models.Technician{ID: "t1", Name: "Ana", RawHours: "08:00-16:00", Availability: models.Available, ActiveTaskCount: 3, SolvedTaskCount: 20})
	mem.PutTechnician(models.Technician{ID: "t2", Name: "Ben", RawHours: "08:00-16:00", Availability: models.Available, ActiveTaskCount: 1, SolvedTaskCount: 5})
	mem.PutRequest(models.Request{
		ID:          "r1",
		Kind:        models.KindMaintenance,
		RequestName: "Leaking tap",
		Category:    "Plumbing",
		Location:    "Hall B 101",
		Urgency:     models.UrgencyHigh,
		Status:      models.StatusPending,
		RequesterID: "u1",
		CreatedAt:   at(9, 0),
	})
	return mem
}

func TestAutoAssignEndToEnd(t *testing.T) {
	mem := scenarioStore()
	svc := newAssigner(mem, mem, at(10, 0))

	res, err := svc.AutoAssign(context.Background(), models.KindMaintenance, "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Technician.ID != "t2" {
		t.Fatalf("expected t2 selected, got %s", res.Technician.ID)
	}
	if res.Request.Status != models.StatusInProgress || res.Request.AssigneeID() != "t2" {
		t.Fatalf("expected r1 in progress with t2, got %+v", res.Request)
	}
	if res.Request.AssignedAt == nil || !res.Request.AssignedAt.Equal(at(10, 0)) {
		t.Fatalf("expected assignedAt stamped")
	}

	notes := mem.Notifications()
	if len(notes) != 1 || notes[0].UserID != "t2" {
		t.Fatalf("expected one notification to t2, got %+v", notes)
	}
	if notes[0].ActionURL != "/technician/requests/r1" || notes[0].Type != models.NotificationError {
		t.Fatalf("unexpected notification %+v", notes[0])
	}

	t2, _ := mem.GetTechnician(context.Background(), "t2")
	if t2.ActiveTaskCount != 2 {
		t.Fatalf("expected t2 active count 2, got %d", t2.ActiveTaskCount)
	}
}

func TestAutoAssignNoCandidate(t *testing.T) {
	mem := scenarioStore()
	svc := newAssigner(mem, mem, at(20, 0))

	_, err := svc.AutoAssign(context.Background(), models.KindMaintenance, "r1")
	if !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}
	if len(mem.Notifications()) != 0 {
		t.Fatalf("expected no notifications")
	}
}

func TestAssignTwiceConvergesButNotifiesTwice(t *testing.T) {
	mem := scenarioStore()
	svc := newAssigner(mem, mem, at(10, 0))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.AssignTo(ctx, models.KindMaintenance, "r1", "t2"); err != nil {
			t.Fatalf("assign %d: %v", i, err)
		}
	}
	if n := len(mem.Notifications()); n != 2 {
		t.Fatalf("expected 2 notifications, got %d", n)
	}
	t2, _ := mem.GetTechnician(ctx, "t2")
	if t2.ActiveTaskCount != 2 {
		t.Fatalf("expected counter bumped once, got %d", t2.ActiveTaskCount)
	}
}

func TestAssignStoreFailureAbortsBeforeNotification(t *testing.T) {
	mem := scenarioStore()
	st := failingCommitStore{Store: mem, commitErr: errors.New("disk full")}
	svc := newAssigner(st, mem, at(10, 0))

	_, err := svc.AutoAssign(context.Background(), models.KindMaintenance, "r1")
	var werr *StoreWriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected StoreWriteError, got %v", err)
	}
	if len(mem.Notifications()) != 0 {
		t.Fatalf("expected no notification after failed write")
	}
}

func TestAssignNotificationFailureIsPartial(t *testing.T) {
	mem := scenarioStore()
	mem.FailNotifications = errors.New("quota exceeded")
	svc := newAssigner(mem, mem, at(10, 0))

	res, err := svc.AutoAssign(context.Background(), models.KindMaintenance, "r1")
	var perr *PartialCommitError
	if !errors.As(err, &perr) || perr.Step != "notification" {
		t.Fatalf("expected PartialCommitError, got %v", err)
	}
	if res.Request.Status != models.StatusInProgress {
		t.Fatalf("expected request to stay assigned")
	}
}

func TestAssignRejectsTerminalRequest(t *testing.T) {
	mem := scenarioStore()
	mem.PutRequest(models.Request{ID: "r2", Kind: models.KindMaintenance, Status: models.StatusCompleted})
	svc := newAssigner(mem, mem, at(10, 0))

	_, err := svc.AssignTo(context.Background(), models.KindMaintenance, "r2", "t1")
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCompleteReleasesTechnicianAndNotifiesRequester(t *testing.T) {
	mem := scenarioStore()
	svc := newAssigner(mem, mem, at(10, 0))
	ctx := context.Background()

	if _, err := svc.AutoAssign(ctx, models.KindMaintenance, "r1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	req, err := svc.Complete(ctx, models.KindMaintenance, "r1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if req.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", req.Status)
	}
	t2, _ := mem.GetTechnician(ctx, "t2")
	if t2.ActiveTaskCount != 1 || t2.SolvedTaskCount != 6 {
		t.Fatalf("expected active 1 solved 6, got %d/%d", t2.ActiveTaskCount, t2.SolvedTaskCount)
	}
	notes := mem.Notifications()
	if last := notes[len(notes)-1]; last.UserID != "u1" || last.Type != models.NotificationSuccess {
		t.Fatalf("expected success notification to requester, got %+v", last)
	}
}

func TestDeclineReassignsThenRejects(t *testing.T) {
	mem := scenarioStore()
	mem.PutTechnician(models.Technician{ID: "t3", Name: "Cal", RawHours: "08:00-16:00", Availability: models.Available, ActiveTaskCount: 4})
	svc := newAssigner(mem, mem, at(10, 0))
	ctx := context.Background()

	if _, err := svc.AutoAssign(ctx, models.KindMaintenance, "r1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	res, err := svc.Decline(ctx, models.KindMaintenance, "r1", "t2")
	if err != nil {
		t.Fatalf("decline 1: %v", err)
	}
	if res.Reassigned == nil || res.Reassigned.Technician.ID != "t1" {
		t.Fatalf("expected reassignment to t1, got %+v", res.Reassigned)
	}

	res, err = svc.Decline(ctx, models.KindMaintenance, "r1", "t1")
	if err != nil {
		t.Fatalf("decline 2: %v", err)
	}
	if res.Reassigned == nil || res.Reassigned.Technician.ID != "t3" {
		t.Fatalf("expected reassignment to t3, got %+v", res.Reassigned)
	}

	res, err = svc.Decline(ctx, models.KindMaintenance, "r1", "t3")
	if err != nil {
		t.Fatalf("decline 3: %v", err)
	}
	if !res.Rejected || res.Request.Status != models.StatusRejected {
		t.Fatalf("expected rejected after 3 declines, got %+v", res.Request)
	}
	if res.Request.AssignedTechnicianID != nil {
		t.Fatalf("expected rejected request to be unassigned")
	}
}

func TestDeclineByNonAssigneeFails(t *testing.T) {
	mem := scenarioStore()
	svc := newAssigner(mem, mem, at(10, 0))
	_, err := svc.Decline(context.Background(), models.KindMaintenance, "r1", "t1")
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAvailableIsRanked(t *testing.T) {
	mem := scenarioStore()
	svc := newAssigner(mem, mem, at(10, 0))
	got, err := svc.Available(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "t2" {
		t.Fatalf("expected [t2 t1], got %+v", got)
	}
}
