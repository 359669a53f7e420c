// Package memstore is an in-process store.Store used for local runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/store"
)

type requestKey struct {
	kind models.RequestKind
	id   string
}

// subscriber queues changes without bound so publish never waits on a
// consumer, including one that writes to the store from its own callback.
type subscriber struct {
	kind  models.RequestKind
	mu    sync.Mutex
	queue []models.RequestChange
	wake  chan struct{}
}

func (sub *subscriber) push(change models.RequestChange) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, change)
	sub.mu.Unlock()
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscriber) drain() []models.RequestChange {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	out := sub.queue
	sub.queue = nil
	return out
}

type Store struct {
	mu            sync.Mutex
	technicians   map[string]models.Technician
	requests      map[requestKey]models.Request
	users         map[string]models.User
	notifications []models.Notification
	subs          map[*subscriber]struct{}

	// FailNotifications makes InsertNotification fail with the given error.
	FailNotifications error
}

func New() *Store {
	return &Store{
		technicians: map[string]models.Technician{},
		requests:    map[requestKey]models.Request{},
		users:       map[string]models.User{},
		subs:        map[*subscriber]struct{}{},
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close(ctx context.Context) error { return nil }

// PutTechnician stores t, parsing RawHours when WorkingHours is unset.
func (s *Store) PutTechnician(t models.Technician) {
	if t.WorkingHours == nil && t.RawHours != "" {
		t.WorkingHours = models.DecodeHours(t.RawHours)
	}
	s.mu.Lock()
	s.technicians[t.ID] = t
	s.mu.Unlock()
}

func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

// PutRequest inserts or replaces r and publishes the change.
func (s *Store) PutRequest(r models.Request) {
	if r.Kind == "" {
		r.Kind = models.KindGeneral
	}
	s.mu.Lock()
	key := requestKey{r.Kind, r.ID}
	_, existed := s.requests[key]
	s.requests[key] = cloneRequest(r)
	s.mu.Unlock()

	op := models.ChangeInsert
	if existed {
		op = models.ChangeUpdate
	}
	s.publish(models.RequestChange{Kind: r.Kind, Op: op, Request: cloneRequest(r)})
}

func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func (s *Store) ListTechnicians(ctx context.Context) ([]models.Technician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Technician, 0, len(s.technicians))
	for _, t := range s.technicians {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetTechnician(ctx context.Context, id string) (models.Technician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.technicians[id]
	if !ok {
		return models.Technician{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetRequest(ctx context.Context, kind models.RequestKind, id string) (models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestKey{kind, id}]
	if !ok {
		return models.Request{}, store.ErrNotFound
	}
	return cloneRequest(r), nil
}

func (s *Store) ListRequests(ctx context.Context, kind models.RequestKind, filter store.RequestFilter) ([]models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Request
	for key, r := range s.requests {
		if key.kind != kind || !filter.Match(r) {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CommitAssignment(ctx context.Context, c store.AssignmentCommit) (store.AssignmentOutcome, error) {
	s.mu.Lock()
	key := requestKey{c.Kind, c.RequestID}
	r, ok := s.requests[key]
	if !ok {
		s.mu.Unlock()
		return store.AssignmentOutcome{}, store.ErrNotFound
	}
	tech, ok := s.technicians[c.TechnicianID]
	if !ok {
		s.mu.Unlock()
		return store.AssignmentOutcome{}, store.ErrNotFound
	}
	if err := store.CheckAssignable(r); err != nil {
		s.mu.Unlock()
		return store.AssignmentOutcome{}, err
	}

	out := store.AssignmentOutcome{}
	prev := r.AssigneeID()
	if prev != c.TechnicianID {
		if prev != "" {
			if p, ok := s.technicians[prev]; ok {
				p.ActiveTaskCount = max(p.ActiveTaskCount-1, 0)
				s.technicians[prev] = p
			}
			out.PreviousTechnicianID = prev
		}
		tech.ActiveTaskCount++
		tech.UpdatedAt = c.At
		s.technicians[c.TechnicianID] = tech
		out.CounterIncremented = true
	}

	id, name, at := c.TechnicianID, c.TechnicianName, c.At
	r.AssignedTechnicianID = &id
	r.AssignedTechnicianName = &name
	r.Status = models.StatusInProgress
	r.AssignedAt = &at
	r.UpdatedAt = at
	s.requests[key] = r
	out.Request = cloneRequest(r)
	s.mu.Unlock()

	s.publish(models.RequestChange{Kind: c.Kind, Op: models.ChangeUpdate, Request: cloneRequest(r)})
	return out, nil
}

func (s *Store) CompleteRequest(ctx context.Context, kind models.RequestKind, id string, at time.Time) (models.Request, error) {
	s.mu.Lock()
	key := requestKey{kind, id}
	r, ok := s.requests[key]
	if !ok {
		s.mu.Unlock()
		return models.Request{}, store.ErrNotFound
	}
	if r.Status != models.StatusInProgress {
		s.mu.Unlock()
		return models.Request{}, store.ErrInvalidState
	}
	if tech, ok := s.technicians[r.AssigneeID()]; ok {
		tech.ActiveTaskCount = max(tech.ActiveTaskCount-1, 0)
		tech.SolvedTaskCount++
		tech.UpdatedAt = at
		s.technicians[tech.ID] = tech
	}
	r.Status = models.StatusCompleted
	r.CompletedAt = &at
	r.UpdatedAt = at
	s.requests[key] = r
	s.mu.Unlock()

	s.publish(models.RequestChange{Kind: kind, Op: models.ChangeUpdate, Request: cloneRequest(r)})
	return cloneRequest(r), nil
}

func (s *Store) DeclineRequest(ctx context.Context, kind models.RequestKind, id string, technicianID string, limit int, at time.Time) (store.DeclineOutcome, error) {
	s.mu.Lock()
	key := requestKey{kind, id}
	r, ok := s.requests[key]
	if !ok {
		s.mu.Unlock()
		return store.DeclineOutcome{}, store.ErrNotFound
	}
	if err := store.CheckDeclinable(r, technicianID); err != nil {
		s.mu.Unlock()
		return store.DeclineOutcome{}, err
	}
	if tech, ok := s.technicians[technicianID]; ok {
		tech.ActiveTaskCount = max(tech.ActiveTaskCount-1, 0)
		tech.UpdatedAt = at
		s.technicians[technicianID] = tech
	}
	rejected := store.ApplyDecline(&r, technicianID, limit, at)
	s.requests[key] = r
	s.mu.Unlock()

	s.publish(models.RequestChange{Kind: kind, Op: models.ChangeUpdate, Request: cloneRequest(r)})
	return store.DeclineOutcome{Request: cloneRequest(r), Rejected: rejected}, nil
}

func (s *Store) InsertNotification(ctx context.Context, n models.Notification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNotifications != nil {
		return "", s.FailNotifications
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	s.notifications = append(s.notifications, n)
	return n.ID, nil
}

func (s *Store) Subscribe(ctx context.Context, kind models.RequestKind, fn func(models.RequestChange)) error {
	sub := &subscriber{kind: kind, wake: make(chan struct{}, 1)}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.wake:
			for _, change := range sub.drain() {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				fn(change)
			}
		}
	}
}

func (s *Store) publish(change models.RequestChange) {
	s.mu.Lock()
	targets := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		if sub.kind == change.Kind {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.push(change)
	}
}

func cloneRequest(r models.Request) models.Request {
	if r.DeclinedBy != nil {
		r.DeclinedBy = append([]string(nil), r.DeclinedBy...)
	}
	return r
}
