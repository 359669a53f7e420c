package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/notify"
	"github.com/campusfix/backend/internal/store"
)

const DefaultDeclineLimit = 3

type Sender interface {
	Send(ctx context.Context, n models.Notification) (models.Notification, error)
}

type AssignmentService struct {
	Store        store.Store
	Notifier     Sender
	Logger       zerolog.Logger
	Location     *time.Location
	StoreTimeout time.Duration
	DeclineLimit int
	Now          func() time.Time
}

type AssignInput struct {
	Kind       models.RequestKind
	RequestID  string
	Technician models.Technician
	Location   string
	Urgency    models.Urgency
	Category   string
}

type AssignResult struct {
	Request            models.Request       `json:"request"`
	Technician         models.Technician    `json:"technician"`
	Notification       *models.Notification `json:"notification,omitempty"`
	CounterIncremented bool                 `json:"counter_incremented"`
}

type DeclineResult struct {
	Request    models.Request `json:"request"`
	Rejected   bool           `json:"rejected"`
	Reassigned *AssignResult  `json:"reassigned,omitempty"`
}

// Assign commits the assignment and notifies the technician.
// A second call with the same technician converges the request but sends another notification.
func (s *AssignmentService) Assign(ctx context.Context, in AssignInput) (AssignResult, error) {
	now := s.now()
	var outcome store.AssignmentOutcome
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = s.Store.CommitAssignment(ctx, store.AssignmentCommit{
			Kind:           in.Kind,
			RequestID:      in.RequestID,
			TechnicianID:   in.Technician.ID,
			TechnicianName: in.Technician.Name,
			At:             now,
		})
		return err
	})
	if err != nil {
		s.Logger.Error().Err(err).Str("request_id", in.RequestID).Str("technician_id", in.Technician.ID).Msg("assignment write failed")
		return AssignResult{}, &StoreWriteError{Op: "commit assignment", Err: err}
	}

	result := AssignResult{
		Request:            outcome.Request,
		Technician:         in.Technician,
		CounterIncremented: outcome.CounterIncremented,
	}
	if outcome.CounterIncremented {
		result.Technician.ActiveTaskCount++
	}
	s.Logger.Info().
		Str("request_id", in.RequestID).
		Str("kind", string(in.Kind)).
		Str("technician_id", in.Technician.ID).
		Str("previous_technician_id", outcome.PreviousTechnicianID).
		Msg("request assigned")

	n, err := s.send(ctx, notify.Assignment(in.Technician.ID, in.RequestID, in.Location, in.Category, in.Urgency))
	if err != nil {
		s.Logger.Error().Err(err).Str("request_id", in.RequestID).Msg("assignment notification failed")
		return result, &PartialCommitError{RequestID: in.RequestID, Step: "notification", Err: err}
	}
	result.Notification = &n
	return result, nil
}

// AutoAssign picks the best available technician for a pending request.
func (s *AssignmentService) AutoAssign(ctx context.Context, kind models.RequestKind, requestID string) (AssignResult, error) {
	req, err := s.getRequest(ctx, kind, requestID)
	if err != nil {
		return AssignResult{}, err
	}
	if req.Status != models.StatusPending || req.Rejected {
		return AssignResult{}, fmt.Errorf("auto-assign %s in status %s: %w", requestID, req.Status, store.ErrInvalidState)
	}

	technicians, err := s.listTechnicians(ctx)
	if err != nil {
		return AssignResult{}, err
	}
	candidates := FilterAvailable(s.now(), s.Location, excludeTechnicians(technicians, req))
	best, ok := SelectBest(candidates)
	if !ok {
		s.Logger.Info().Str("request_id", requestID).Str("kind", string(kind)).Msg("no technician available right now")
		return AssignResult{}, ErrNoCandidate
	}
	return s.Assign(ctx, inputFor(req, best))
}

// AssignTo assigns a specific technician, bypassing availability.
func (s *AssignmentService) AssignTo(ctx context.Context, kind models.RequestKind, requestID, technicianID string) (AssignResult, error) {
	req, err := s.getRequest(ctx, kind, requestID)
	if err != nil {
		return AssignResult{}, err
	}
	var tech models.Technician
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		tech, err = s.Store.GetTechnician(ctx, technicianID)
		return err
	})
	if err != nil {
		return AssignResult{}, fmt.Errorf("get technician %s: %w", technicianID, err)
	}
	return s.Assign(ctx, inputFor(req, tech))
}

// Complete closes an in-progress request and releases the technician's active slot.
func (s *AssignmentService) Complete(ctx context.Context, kind models.RequestKind, requestID string) (models.Request, error) {
	var req models.Request
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.Store.CompleteRequest(ctx, kind, requestID, s.now())
		return err
	})
	if err != nil {
		return models.Request{}, &StoreWriteError{Op: "complete request", Err: err}
	}
	s.Logger.Info().Str("request_id", requestID).Str("technician_id", req.AssigneeID()).Msg("request completed")

	if req.RequesterID == "" {
		return req, nil
	}
	if _, err := s.send(ctx, notify.Completed(req)); err != nil {
		return req, &PartialCommitError{RequestID: requestID, Step: "notification", Err: err}
	}
	return req, nil
}

// Decline hands the request back. Past the decline limit it is rejected, otherwise it is re-offered.
func (s *AssignmentService) Decline(ctx context.Context, kind models.RequestKind, requestID, technicianID string) (DeclineResult, error) {
	limit := s.DeclineLimit
	if limit <= 0 {
		limit = DefaultDeclineLimit
	}
	var outcome store.DeclineOutcome
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = s.Store.DeclineRequest(ctx, kind, requestID, technicianID, limit, s.now())
		return err
	})
	if err != nil {
		return DeclineResult{}, &StoreWriteError{Op: "decline request", Err: err}
	}

	result := DeclineResult{Request: outcome.Request, Rejected: outcome.Rejected}
	log := s.Logger.Info().Str("request_id", requestID).Str("technician_id", technicianID).Int("decline_count", outcome.Request.DeclineCount)
	if outcome.Rejected {
		log.Msg("request rejected after repeated declines")
		return result, nil
	}
	log.Msg("request declined")

	reassigned, err := s.AutoAssign(ctx, kind, requestID)
	switch {
	case err == nil:
		result.Reassigned = &reassigned
		result.Request = reassigned.Request
	case errors.Is(err, ErrNoCandidate):
	default:
		return result, err
	}
	return result, nil
}

// Available lists technicians that could take work right now, best first.
func (s *AssignmentService) Available(ctx context.Context) ([]models.Technician, error) {
	technicians, err := s.listTechnicians(ctx)
	if err != nil {
		return nil, err
	}
	return RankCandidates(FilterAvailable(s.now(), s.Location, technicians)), nil
}

// Eligibility reports how the current roster narrows at each availability stage.
func (s *AssignmentService) Eligibility(ctx context.Context) (AvailabilityResult, error) {
	technicians, err := s.listTechnicians(ctx)
	if err != nil {
		return AvailabilityResult{}, err
	}
	return EvaluateAvailability(s.now(), s.Location, technicians), nil
}

func inputFor(req models.Request, tech models.Technician) AssignInput {
	return AssignInput{
		Kind:       req.Kind,
		RequestID:  req.ID,
		Technician: tech,
		Location:   req.Location,
		Urgency:    req.Urgency,
		Category:   req.Category,
	}
}

func (s *AssignmentService) getRequest(ctx context.Context, kind models.RequestKind, id string) (models.Request, error) {
	var req models.Request
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.Store.GetRequest(ctx, kind, id)
		return err
	})
	if err != nil {
		return models.Request{}, fmt.Errorf("get request %s: %w", id, err)
	}
	if req.Kind == "" {
		req.Kind = kind
	}
	return req, nil
}

func (s *AssignmentService) listTechnicians(ctx context.Context) ([]models.Technician, error) {
	var technicians []models.Technician
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		technicians, err = s.Store.ListTechnicians(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list technicians: %w", err)
	}
	return technicians, nil
}

func (s *AssignmentService) send(ctx context.Context, n models.Notification) (models.Notification, error) {
	var sent models.Notification
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		sent, err = s.Notifier.Send(ctx, n)
		return err
	})
	return sent, err
}

func (s *AssignmentService) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return store.WithTimeout(ctx, s.StoreTimeout, fn)
}

func (s *AssignmentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
