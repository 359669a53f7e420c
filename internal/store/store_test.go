package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campusfix/backend/internal/models"
)

func TestRequestFilterMatch(t *testing.T) {
	f := RequestFilter{Statuses: []models.RequestStatus{models.StatusPending}, OrRejected: true}
	if !f.Match(models.Request{Status: models.StatusPending}) {
		t.Fatalf("expected pending to match")
	}
	if !f.Match(models.Request{Status: models.StatusInProgress, Rejected: true}) {
		t.Fatalf("expected rejected flag to match")
	}
	if f.Match(models.Request{Status: models.StatusCompleted}) {
		t.Fatalf("expected completed not to match")
	}

	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	before := since.Add(-time.Hour)
	f = RequestFilter{Statuses: []models.RequestStatus{models.StatusCompleted}, CompletedSince: since}
	if f.Match(models.Request{Status: models.StatusCompleted, CompletedAt: &before}) {
		t.Fatalf("expected completion before window to be excluded")
	}
}

func TestApplyDeclineReachesLimit(t *testing.T) {
	tech := "t1"
	at := time.Now()
	r := models.Request{Status: models.StatusInProgress, AssignedTechnicianID: &tech, DeclineCount: 1}
	if ApplyDecline(&r, "t1", 3, at) {
		t.Fatalf("expected request to stay open after second decline")
	}
	if r.Status != models.StatusPending || r.AssignedTechnicianID != nil {
		t.Fatalf("expected pending and unassigned, got %+v", r)
	}
	r.AssignedTechnicianID = &tech
	r.Status = models.StatusInProgress
	if !ApplyDecline(&r, "t1", 3, at) {
		t.Fatalf("expected third decline to reject")
	}
	if r.Status != models.StatusRejected || !r.Rejected {
		t.Fatalf("expected rejected, got %+v", r)
	}
	if len(r.DeclinedBy) != 1 {
		t.Fatalf("expected decliner recorded once, got %v", r.DeclinedBy)
	}
}

func TestWithTimeoutMapsDeadline(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	err = WithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected plain ErrNotFound, got %v", err)
	}
}
