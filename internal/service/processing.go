package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/store"
)

// ProcessingService assigns every pending request in one pass.
type ProcessingService struct {
	Assigner *AssignmentService
	Logger   zerolog.Logger
}

type RunSummary struct {
	Events  []map[string]any `json:"events"`
	Counts  map[string]any   `json:"counts"`
	Samples []map[string]any `json:"samples,omitempty"`
}

func (s *ProcessingService) ProcessPending(ctx context.Context, debug bool) (RunSummary, error) {
	a := s.Assigner
	start := time.Now()

	var pending []models.Request
	for _, kind := range models.RequestKinds {
		var batch []models.Request
		err := a.call(ctx, func(ctx context.Context) error {
			var err error
			batch, err = a.Store.ListRequests(ctx, kind, store.RequestFilter{Statuses: []models.RequestStatus{models.StatusPending}})
			return err
		})
		if err != nil {
			return RunSummary{}, err
		}
		for _, r := range batch {
			if r.Kind == "" {
				r.Kind = kind
			}
			if !r.Rejected {
				pending = append(pending, r)
			}
		}
	}

	technicians, err := a.listTechnicians(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	loadMap := map[string]int{}
	for _, t := range technicians {
		loadMap[t.ID] = t.ActiveTaskCount
	}

	summary := RunSummary{Counts: map[string]any{}}
	summary.Events = append(summary.Events, map[string]any{
		"type":    "load_summary",
		"message": "Pending requests loaded",
		"count":   len(pending),
		"time":    time.Now().UTC(),
	})

	var (
		assignedCount    int
		noCandidateCount int
		partialCount     int
		errorCount       int
		byKind           = map[string]int{}
	)

	for _, r := range pending {
		candidates := FilterAvailable(a.now(), a.Location, excludeTechnicians(applyLoads(technicians, loadMap), r))
		best, ok := SelectBest(candidates)
		if !ok {
			noCandidateCount++
			if debug && len(summary.Samples) < 5 {
				summary.Samples = append(summary.Samples, map[string]any{
					"request_id": r.ID,
					"kind":       r.Kind,
					"reason":     "NO_CANDIDATE",
				})
			}
			continue
		}

		res, err := a.Assign(ctx, inputFor(r, best))
		var partial *PartialCommitError
		switch {
		case err == nil:
		case errors.As(err, &partial):
			partialCount++
		default:
			errorCount++
			s.Logger.Error().Err(err).Str("request_id", r.ID).Msg("batch assignment failed")
			continue
		}
		assignedCount++
		byKind[string(r.Kind)]++
		if res.CounterIncremented {
			loadMap[best.ID] = loadMap[best.ID] + 1
		}
	}

	summary.Events = append(summary.Events, map[string]any{
		"type":         "assignment",
		"assigned":     assignedCount,
		"no_candidate": noCandidateCount,
		"partial":      partialCount,
		"errors":       errorCount,
		"time":         time.Now().UTC(),
	})
	summary.Events = append(summary.Events, map[string]any{
		"type":       "done",
		"message":    "Processing finished",
		"elapsed_ms": time.Since(start).Milliseconds(),
		"time":       time.Now().UTC(),
	})

	summary.Counts["requests_processed"] = len(pending)
	summary.Counts["assigned"] = assignedCount
	summary.Counts["assigned_by_kind"] = byKind
	summary.Counts["no_candidate"] = noCandidateCount
	summary.Counts["partial"] = partialCount
	summary.Counts["errors"] = errorCount
	return summary, nil
}

func applyLoads(technicians []models.Technician, loadMap map[string]int) []models.Technician {
	out := make([]models.Technician, 0, len(technicians))
	for _, t := range technicians {
		if load, ok := loadMap[t.ID]; ok {
			t.ActiveTaskCount = load
		}
		out = append(out, t)
	}
	return out
}
