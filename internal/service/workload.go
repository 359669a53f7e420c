package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/store"
)

const NoWinnerPlaceholder = "No technician of the week yet"

type Winner struct {
	TechnicianID string `json:"technician_id"`
	Completions  int    `json:"completions"`
}

// TechnicianOfTheWeek counts completions per technician and returns the maximum.
// Equal counts go to the lexicographically smallest technician id.
func TechnicianOfTheWeek(completed []models.Request) (Winner, bool) {
	counts := map[string]int{}
	for _, r := range completed {
		id := r.AssigneeID()
		if id == "" {
			continue
		}
		counts[id]++
	}

	var best Winner
	found := false
	for id, n := range counts {
		if !found || n > best.Completions || (n == best.Completions && id < best.TechnicianID) {
			best = Winner{TechnicianID: id, Completions: n}
			found = true
		}
	}
	return best, found
}

type WorkloadSummary struct {
	Winner         *Winner   `json:"winner"`
	TechnicianName string    `json:"technician_name,omitempty"`
	Display        string    `json:"display"`
	Since          time.Time `json:"since,omitempty"`
	ComputedAt     time.Time `json:"computed_at"`
}

// WorkloadService computes the technician of the week from completed requests of every kind.
// Window zero means all time.
type WorkloadService struct {
	Store        store.Store
	Logger       zerolog.Logger
	Window       time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time

	mu     sync.RWMutex
	latest *WorkloadSummary
}

func (s *WorkloadService) Refresh(ctx context.Context) (WorkloadSummary, error) {
	now := s.now()
	filter := store.RequestFilter{Statuses: []models.RequestStatus{models.StatusCompleted}}
	if s.Window > 0 {
		filter.CompletedSince = now.Add(-s.Window)
	}

	var completed []models.Request
	for _, kind := range models.RequestKinds {
		var batch []models.Request
		err := store.WithTimeout(ctx, s.StoreTimeout, func(ctx context.Context) error {
			var err error
			batch, err = s.Store.ListRequests(ctx, kind, filter)
			return err
		})
		if err != nil {
			return WorkloadSummary{}, fmt.Errorf("list completed %s requests: %w", kind, err)
		}
		completed = append(completed, batch...)
	}

	summary := WorkloadSummary{Since: filter.CompletedSince, ComputedAt: now, Display: NoWinnerPlaceholder}
	if w, ok := TechnicianOfTheWeek(completed); ok {
		summary.Winner = &w
		summary.Display = w.TechnicianID
		err := store.WithTimeout(ctx, s.StoreTimeout, func(ctx context.Context) error {
			tech, err := s.Store.GetTechnician(ctx, w.TechnicianID)
			if err != nil {
				return err
			}
			summary.TechnicianName = tech.Name
			summary.Display = tech.Name
			return nil
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.Logger.Warn().Err(err).Str("technician_id", w.TechnicianID).Msg("technician lookup failed")
		}
	}

	s.mu.Lock()
	s.latest = &summary
	s.mu.Unlock()
	return summary, nil
}

// Current returns the last computed summary, computing one if none exists.
func (s *WorkloadService) Current(ctx context.Context) (WorkloadSummary, error) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest != nil {
		return *latest, nil
	}
	return s.Refresh(ctx)
}

func (s *WorkloadService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
