package service

import (
	"sort"
	"time"

	"github.com/campusfix/backend/internal/models"
)

type AvailabilityResult struct {
	Available []models.Technician
	Stages    []AvailabilityStage
}

type AvailabilityStage struct {
	Name       string
	Candidates []models.Technician
}

// FilterAvailable returns technicians marked available whose working hours contain now.
// Technicians without parsable hours are dropped silently.
func FilterAvailable(now time.Time, loc *time.Location, technicians []models.Technician) []models.Technician {
	return EvaluateAvailability(now, loc, technicians).Available
}

// EvaluateAvailability is FilterAvailable with the per-stage candidate lists kept for debugging.
func EvaluateAvailability(now time.Time, loc *time.Location, technicians []models.Technician) AvailabilityResult {
	minute := models.MinuteOfDay(now, loc)
	result := AvailabilityResult{}
	result.Stages = append(result.Stages, AvailabilityStage{Name: "all", Candidates: technicians})

	parsed := filterTechnicians(technicians, func(t models.Technician) bool {
		return t.WorkingHours != nil
	})
	result.Stages = append(result.Stages, AvailabilityStage{Name: "hours_parsed", Candidates: parsed})

	flagged := filterTechnicians(parsed, func(t models.Technician) bool {
		return t.Availability == models.Available
	})
	result.Stages = append(result.Stages, AvailabilityStage{Name: "marked_available", Candidates: flagged})

	inWindow := filterTechnicians(flagged, func(t models.Technician) bool {
		return t.WorkingHours.Contains(minute)
	})
	result.Stages = append(result.Stages, AvailabilityStage{Name: "in_working_hours", Candidates: inWindow})

	result.Available = inWindow
	return result
}

// RankCandidates returns a sorted copy: fewest active tasks, then most solved, then name.
func RankCandidates(candidates []models.Technician) []models.Technician {
	ranked := make([]models.Technician, len(candidates))
	copy(ranked, candidates)
	sort.Slice(ranked, func(i, j int) bool {
		return rankLess(ranked[i], ranked[j])
	})
	return ranked
}

// SelectBest returns the top ranked candidate, or false when there is none.
func SelectBest(candidates []models.Technician) (models.Technician, bool) {
	if len(candidates) == 0 {
		return models.Technician{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if rankLess(c, best) {
			best = c
		}
	}
	return best, true
}

func rankLess(a, b models.Technician) bool {
	if a.ActiveTaskCount != b.ActiveTaskCount {
		return a.ActiveTaskCount < b.ActiveTaskCount
	}
	if a.SolvedTaskCount != b.SolvedTaskCount {
		return a.SolvedTaskCount > b.SolvedTaskCount
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

func excludeTechnicians(technicians []models.Technician, r models.Request) []models.Technician {
	if len(r.DeclinedBy) == 0 {
		return technicians
	}
	return filterTechnicians(technicians, func(t models.Technician) bool {
		return !r.DeclinedByTechnician(t.ID)
	})
}

func filterTechnicians(technicians []models.Technician, keep func(models.Technician) bool) []models.Technician {
	out := make([]models.Technician, 0, len(technicians))
	for _, t := range technicians {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}
