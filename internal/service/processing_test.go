package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/campusfix/backend/internal/memstore"
	"github.com/campusfix/backend/internal/models"
)

func TestProcessPendingSpreadsLoad(t *testing.T) {
	mem := memstore.New()
	mem.PutTechnician(models.Technician{ID: "t1", Name: "Ana", RawHours: "08:00-16:00", Availability: models.Available, ActiveTaskCount: 0, SolvedTaskCount: 9})
	mem.PutTechnician(models.Technician{ID: "t2", Name: "Ben", RawHours: "08:00-16:00", Availability: models.Available, ActiveTaskCount: 0, SolvedTaskCount: 1})
	mem.PutRequest(models.Request{ID: "r1", Kind: models.KindMaintenance, Status: models.StatusPending, CreatedAt: at(8, 0)})
	mem.PutRequest(models.Request{ID: "r2", Kind: models.KindInventory, Status: models.StatusPending, CreatedAt: at(8, 5)})
	mem.PutRequest(models.Request{ID: "r3", Kind: models.KindGeneral, Status: models.StatusPending, Rejected: true, CreatedAt: at(8, 10)})
	mem.PutRequest(models.Request{ID: "r4", Kind: models.KindGeneral, Status: models.StatusCompleted, CreatedAt: at(8, 15)})

	proc := &ProcessingService{Assigner: newAssigner(mem, mem, at(10, 0)), Logger: zerolog.Nop()}
	summary, err := proc.ProcessPending(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Counts["requests_processed"] != 2 || summary.Counts["assigned"] != 2 {
		t.Fatalf("expected 2 processed and assigned, got %+v", summary.Counts)
	}

	r1, _ := mem.GetRequest(context.Background(), models.KindMaintenance, "r1")
	r2, _ := mem.GetRequest(context.Background(), models.KindInventory, "r2")
	if r1.AssigneeID() != "t1" || r2.AssigneeID() != "t2" {
		t.Fatalf("expected r1->t1 and r2->t2, got %s and %s", r1.AssigneeID(), r2.AssigneeID())
	}
}

func TestProcessPendingRecordsNoCandidate(t *testing.T) {
	mem := memstore.New()
	mem.PutRequest(models.Request{ID: "r1", Kind: models.KindMaintenance, Status: models.StatusPending})

	proc := &ProcessingService{Assigner: newAssigner(mem, mem, at(10, 0)), Logger: zerolog.Nop()}
	summary, err := proc.ProcessPending(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Counts["no_candidate"] != 1 || len(summary.Samples) != 1 {
		t.Fatalf("expected one no-candidate sample, got %+v", summary)
	}
}
