package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/store"
)

const resubscribeDelay = 5 * time.Second

// Watcher drives the assignment core from store change feeds.
// Each request kind has its own consumer goroutine; the periodic delayed scan runs alongside.
type Watcher struct {
	Store        store.Store
	Assigner     *AssignmentService
	Delayed      *DelayedService
	Workload     *WorkloadService
	Logger       zerolog.Logger
	AutoAssign   bool
	ScanInterval time.Duration
}

func (w *Watcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range models.RequestKinds {
		kind := kind
		g.Go(func() error {
			return w.watch(ctx, kind)
		})
	}
	if w.ScanInterval > 0 {
		g.Go(func() error {
			return w.tick(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Watcher) watch(ctx context.Context, kind models.RequestKind) error {
	for {
		w.Logger.Info().Str("kind", string(kind)).Msg("subscribing to request changes")
		err := w.Store.Subscribe(ctx, kind, func(change models.RequestChange) {
			w.HandleChange(ctx, change)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.Logger.Error().Err(err).Str("kind", string(kind)).Msg("subscription ended, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resubscribeDelay):
		}
	}
}

func (w *Watcher) tick(ctx context.Context) error {
	ticker := time.NewTicker(w.ScanInterval)
	defer ticker.Stop()
	w.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	if w.Delayed == nil {
		return
	}
	report, err := w.Delayed.Scan(ctx)
	if err != nil {
		w.Logger.Error().Err(err).Msg("delayed scan failed")
	}
	w.Logger.Debug().Int("events", len(report.Events)).Int("notifications", report.Notifications).Msg("delayed scan finished")
}

// HandleChange reacts to one request change.
func (w *Watcher) HandleChange(ctx context.Context, change models.RequestChange) {
	r := change.Request
	if r.Kind == "" {
		r.Kind = change.Kind
	}
	logger := w.Logger.With().Str("request_id", r.ID).Str("kind", string(r.Kind)).Logger()

	if w.AutoAssign && w.Assigner != nil && change.Op == models.ChangeInsert &&
		r.Status == models.StatusPending && !r.Rejected && r.AssigneeID() == "" {
		_, err := w.Assigner.AutoAssign(ctx, r.Kind, r.ID)
		switch {
		case err == nil:
			return
		case errors.Is(err, ErrNoCandidate):
		default:
			logger.Error().Err(err).Msg("auto-assign failed")
		}
	}

	switch {
	case r.Status == models.StatusCompleted:
		if w.Workload != nil {
			if _, err := w.Workload.Refresh(ctx); err != nil {
				logger.Error().Err(err).Msg("technician of the week refresh failed")
			}
		}
	case r.Status == models.StatusPending || r.Status == models.StatusRejected || r.Rejected:
		if w.Delayed != nil {
			if _, err := w.Delayed.Process(ctx, []models.Request{r}); err != nil {
				logger.Error().Err(err).Msg("delayed check failed")
			}
		}
	}
}
