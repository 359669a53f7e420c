package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/notify"
	"github.com/campusfix/backend/internal/seen"
	"github.com/campusfix/backend/internal/store"
)

const DefaultThresholdDays = 3

type Bucket string

const (
	BucketDelayed  Bucket = "delayed"
	BucketRejected Bucket = "rejected"
)

type DelayedRequestEvent struct {
	Bucket      Bucket             `json:"bucket"`
	Kind        models.RequestKind `json:"kind"`
	RequestID   string             `json:"request_id"`
	RequestName string             `json:"request_name"`
	Location    string             `json:"location"`
	RequesterID string             `json:"requester_id"`
	DaysDelayed int                `json:"days_delayed"`
}

func (e DelayedRequestEvent) seenKey() string {
	return string(e.Bucket) + ":" + string(e.Kind) + ":" + e.RequestID
}

func (e DelayedRequestEvent) notice() notify.Delay {
	return notify.Delay{
		RequestID:   e.RequestID,
		RequestName: e.RequestName,
		Location:    e.Location,
		DaysDelayed: e.DaysDelayed,
		Rejected:    e.Bucket == BucketRejected,
	}
}

// DaysDelayed is the number of whole days between createdAt and now.
func DaysDelayed(now, createdAt time.Time) int {
	d := now.Sub(createdAt)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// ScanDelayed returns one event per request that newly crossed the threshold or was rejected.
// Keys already in tracked produce nothing; emitted keys are added to it.
func ScanDelayed(ctx context.Context, now time.Time, requests []models.Request, thresholdDays int, tracked seen.Store) ([]DelayedRequestEvent, error) {
	var events []DelayedRequestEvent
	for _, r := range requests {
		ev := DelayedRequestEvent{
			Kind:        r.Kind,
			RequestID:   r.ID,
			RequestName: r.RequestName,
			Location:    r.Location,
			RequesterID: r.RequesterID,
			DaysDelayed: DaysDelayed(now, r.CreatedAt),
		}
		switch {
		case r.Status == models.StatusRejected || r.Rejected:
			ev.Bucket = BucketRejected
		case r.Status == models.StatusPending && ev.DaysDelayed >= thresholdDays:
			ev.Bucket = BucketDelayed
		default:
			continue
		}

		added, err := tracked.Add(ctx, ev.seenKey())
		if err != nil {
			return events, fmt.Errorf("track %s: %w", ev.RequestID, err)
		}
		if added {
			events = append(events, ev)
		}
	}
	return events, nil
}

type DelayedService struct {
	Store         store.Store
	Seen          seen.Store
	Notifier      Sender
	Logger        zerolog.Logger
	ThresholdDays int
	StoreTimeout  time.Duration
	Now           func() time.Time
}

type ScanReport struct {
	Events        []DelayedRequestEvent `json:"events"`
	Notifications int                   `json:"notifications"`
	Failures      int                   `json:"failures"`
}

// Scan loads open and rejected requests of every kind and notifies requester and admins per new event.
func (s *DelayedService) Scan(ctx context.Context) (ScanReport, error) {
	var open []models.Request
	filter := store.RequestFilter{
		Statuses:   []models.RequestStatus{models.StatusPending, models.StatusRejected},
		OrRejected: true,
	}
	for _, kind := range models.RequestKinds {
		var batch []models.Request
		err := store.WithTimeout(ctx, s.StoreTimeout, func(ctx context.Context) error {
			var err error
			batch, err = s.Store.ListRequests(ctx, kind, filter)
			return err
		})
		if err != nil {
			return ScanReport{}, fmt.Errorf("list open %s requests: %w", kind, err)
		}
		for i := range batch {
			if batch[i].Kind == "" {
				batch[i].Kind = kind
			}
		}
		open = append(open, batch...)
	}
	return s.Process(ctx, open)
}

// Process runs detection over the given requests and emits notifications.
func (s *DelayedService) Process(ctx context.Context, requests []models.Request) (ScanReport, error) {
	threshold := s.ThresholdDays
	if threshold <= 0 {
		threshold = DefaultThresholdDays
	}
	events, err := ScanDelayed(ctx, s.now(), requests, threshold, s.Seen)
	report := ScanReport{Events: events}
	if err != nil {
		return report, err
	}
	if len(events) == 0 {
		return report, nil
	}

	var admins []models.User
	err = store.WithTimeout(ctx, s.StoreTimeout, func(ctx context.Context) error {
		var err error
		admins, err = s.Store.ListUsersByRole(ctx, models.RoleAdmin)
		return err
	})
	if err != nil {
		s.Logger.Error().Err(err).Msg("list admins failed, admin fan-out skipped")
	}

	var errs []error
	for _, ev := range events {
		sent, failed := s.emit(ctx, ev, admins)
		report.Notifications += sent
		report.Failures += len(failed)
		errs = append(errs, failed...)
		if len(failed) > 0 || err != nil {
			// Forget the event so the next scan retries the targets still missing.
			if rerr := s.Seen.Remove(ctx, ev.seenKey()); rerr != nil {
				errs = append(errs, fmt.Errorf("untrack %s: %w", ev.RequestID, rerr))
			}
		}
		s.Logger.Info().
			Str("request_id", ev.RequestID).
			Str("bucket", string(ev.Bucket)).
			Int("days_delayed", ev.DaysDelayed).
			Int("notifications", sent).
			Int("failures", len(failed)).
			Msg("delayed request reported")
	}
	if err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

// emit delivers the notice to the requester and each admin. Every target has its
// own seen key, so a retried event only reaches the targets that missed it.
func (s *DelayedService) emit(ctx context.Context, ev DelayedRequestEvent, admins []models.User) (int, []error) {
	var (
		sent   int
		failed []error
	)
	deliver := func(targetKey string, n models.Notification) {
		key := ev.seenKey() + ":" + targetKey
		done, err := s.Seen.Has(ctx, key)
		if err != nil {
			failed = append(failed, fmt.Errorf("check %s: %w", key, err))
			return
		}
		if done {
			return
		}
		err = store.WithTimeout(ctx, s.StoreTimeout, func(ctx context.Context) error {
			_, err := s.Notifier.Send(ctx, n)
			return err
		})
		if err != nil {
			s.Logger.Error().Err(err).Str("request_id", ev.RequestID).Str("user_id", n.UserID).Msg("delayed notification failed")
			failed = append(failed, fmt.Errorf("notify %s about %s: %w", n.UserID, ev.RequestID, err))
			return
		}
		sent++
		if _, err := s.Seen.Add(ctx, key); err != nil {
			s.Logger.Warn().Err(err).Str("key", key).Msg("delivered notice not tracked")
		}
	}

	notice := ev.notice()
	if ev.RequesterID != "" {
		deliver("requester", notify.DelayToRequester(ev.RequesterID, notice))
	}
	for _, a := range admins {
		deliver("admin:"+a.ID, notify.DelayToAdmin(a.ID, notice))
	}
	return sent, failed
}

func (s *DelayedService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
