// Package store defines the document store the assignment core reads and writes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/campusfix/backend/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid request state")
	ErrUnavailable  = errors.New("store unavailable")
)

type RequestFilter struct {
	Statuses []models.RequestStatus
	// OrRejected also matches requests carrying the rejected flag regardless of status.
	OrRejected     bool
	CompletedSince time.Time
}

func (f RequestFilter) Match(r models.Request) bool {
	if !f.CompletedSince.IsZero() && (r.CompletedAt == nil || r.CompletedAt.Before(f.CompletedSince)) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	if f.OrRejected && r.Rejected {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

type AssignmentCommit struct {
	Kind           models.RequestKind
	RequestID      string
	TechnicianID   string
	TechnicianName string
	At             time.Time
}

type AssignmentOutcome struct {
	Request models.Request
	// PreviousTechnicianID is set when the request moved from another technician.
	PreviousTechnicianID string
	CounterIncremented   bool
}

type DeclineOutcome struct {
	Request  models.Request
	Rejected bool
}

type Store interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	ListTechnicians(ctx context.Context) ([]models.Technician, error)
	GetTechnician(ctx context.Context, id string) (models.Technician, error)
	ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)

	GetRequest(ctx context.Context, kind models.RequestKind, id string) (models.Request, error)
	ListRequests(ctx context.Context, kind models.RequestKind, filter RequestFilter) ([]models.Request, error)

	// CommitAssignment updates the request and the technician counters atomically.
	CommitAssignment(ctx context.Context, c AssignmentCommit) (AssignmentOutcome, error)
	CompleteRequest(ctx context.Context, kind models.RequestKind, id string, at time.Time) (models.Request, error)
	DeclineRequest(ctx context.Context, kind models.RequestKind, id string, technicianID string, limit int, at time.Time) (DeclineOutcome, error)

	InsertNotification(ctx context.Context, n models.Notification) (string, error)

	// Subscribe delivers request changes of kind to fn until ctx is done.
	// fn is never invoked concurrently for one subscription.
	Subscribe(ctx context.Context, kind models.RequestKind, fn func(models.RequestChange)) error
}

// CheckAssignable rejects assignments to completed or rejected requests.
func CheckAssignable(r models.Request) error {
	if r.Status.Terminal() || r.Rejected {
		return ErrInvalidState
	}
	return nil
}

// CheckDeclinable validates that technicianID currently holds the request.
func CheckDeclinable(r models.Request, technicianID string) error {
	if r.Status != models.StatusInProgress || r.AssigneeID() != technicianID {
		return ErrInvalidState
	}
	return nil
}

// ApplyDecline mutates r for a decline by technicianID and reports whether the limit was reached.
func ApplyDecline(r *models.Request, technicianID string, limit int, at time.Time) bool {
	r.DeclineCount++
	if !r.DeclinedByTechnician(technicianID) {
		r.DeclinedBy = append(r.DeclinedBy, technicianID)
	}
	r.AssignedTechnicianID = nil
	r.AssignedTechnicianName = nil
	r.AssignedAt = nil
	r.UpdatedAt = at
	if limit > 0 && r.DeclineCount >= limit {
		r.Status = models.StatusRejected
		r.Rejected = true
		return true
	}
	r.Status = models.StatusPending
	return false
}

// WithTimeout bounds a store call and maps a deadline to ErrUnavailable.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := fn(cctx)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}
