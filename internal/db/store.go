package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/store"
)

//go:embed schema.sql
var schema string

const changeChannel = "request_changes"

type Store struct {
	Pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close(ctx context.Context) error {
	s.Pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Migrate creates the tables and the change trigger if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const technicianColumns = `id, name, working_hours, availability, active_task_count, solved_task_count, updated_at`

func scanTechnician(row pgx.Row) (models.Technician, error) {
	var (
		t     models.Technician
		avail string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.RawHours, &avail, &t.ActiveTaskCount, &t.SolvedTaskCount, &t.UpdatedAt); err != nil {
		return models.Technician{}, err
	}
	t.Availability = models.ParseAvailability(avail)
	t.WorkingHours = models.DecodeHours(t.RawHours)
	return t, nil
}

func (s *Store) ListTechnicians(ctx context.Context) ([]models.Technician, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+technicianColumns+` FROM technicians ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Technician
	for rows.Next() {
		t, err := scanTechnician(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTechnician(ctx context.Context, id string) (models.Technician, error) {
	t, err := scanTechnician(s.Pool.QueryRow(ctx, `SELECT `+technicianColumns+` FROM technicians WHERE id = $1`, id))
	return t, mapNoRows(err)
}

// UpsertTechnician is used by seeding and tests.
func (s *Store) UpsertTechnician(ctx context.Context, t models.Technician) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO technicians (id, name, working_hours, availability, active_task_count, solved_task_count, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			working_hours = EXCLUDED.working_hours,
			availability = EXCLUDED.availability,
			active_task_count = EXCLUDED.active_task_count,
			solved_task_count = EXCLUDED.solved_task_count,
			updated_at = NOW()
	`, t.ID, t.Name, t.RawHours, string(t.Availability), t.ActiveTaskCount, t.SolvedTaskCount)
	return err
}

func (s *Store) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO users (id, name, email, role) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role
	`, u.ID, u.Name, u.Email, string(u.Role))
	return err
}

func (s *Store) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, email, role FROM users WHERE role = $1 ORDER BY id ASC`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var (
			u       models.User
			roleStr string
		)
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &roleStr); err != nil {
			return nil, err
		}
		u.Role = models.Role(roleStr)
		out = append(out, u)
	}
	return out, rows.Err()
}

const requestColumns = `kind, id, request_name, category, location, urgency, status, requester_id,
	assigned_technician_id, assigned_technician_name, created_at, updated_at, assigned_at, completed_at,
	rejected, decline_count, declined_by`

func scanRequest(row pgx.Row) (models.Request, error) {
	var r models.Request
	var kind, urgency, status string
	if err := row.Scan(
		&kind, &r.ID, &r.RequestName, &r.Category, &r.Location, &urgency, &status, &r.RequesterID,
		&r.AssignedTechnicianID, &r.AssignedTechnicianName, &r.CreatedAt, &r.UpdatedAt, &r.AssignedAt, &r.CompletedAt,
		&r.Rejected, &r.DeclineCount, &r.DeclinedBy,
	); err != nil {
		return models.Request{}, err
	}
	r.Kind = models.RequestKind(kind)
	r.Urgency = models.ParseUrgency(urgency)
	r.Status = models.ParseStatus(status)
	return r, nil
}

// InsertRequest is used by seeding and tests; the trigger publishes the insert.
func (s *Store) InsertRequest(ctx context.Context, r models.Request) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.DeclinedBy == nil {
		r.DeclinedBy = []string{}
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO requests (kind, id, request_name, category, location, urgency, status, requester_id,
			assigned_technician_id, assigned_technician_name, created_at, updated_at, assigned_at, completed_at,
			rejected, decline_count, declined_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11,$12,$13,$14,$15,$16)
	`, string(r.Kind), r.ID, r.RequestName, r.Category, r.Location, string(r.Urgency), string(r.Status), r.RequesterID,
		r.AssignedTechnicianID, r.AssignedTechnicianName, r.CreatedAt, r.AssignedAt, r.CompletedAt,
		r.Rejected, r.DeclineCount, r.DeclinedBy)
	return err
}

func (s *Store) GetRequest(ctx context.Context, kind models.RequestKind, id string) (models.Request, error) {
	r, err := scanRequest(s.Pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE kind = $1 AND id = $2`, string(kind), id))
	return r, mapNoRows(err)
}

func (s *Store) ListRequests(ctx context.Context, kind models.RequestKind, filter store.RequestFilter) ([]models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`
	args := []any{string(kind)}
	wheres := []string{"kind = $1"}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		clause := fmt.Sprintf("status = ANY($%d)", len(args))
		if filter.OrRejected {
			clause = "(" + clause + " OR rejected)"
		}
		wheres = append(wheres, clause)
	}
	if !filter.CompletedSince.IsZero() {
		args = append(args, filter.CompletedSince)
		wheres = append(wheres, fmt.Sprintf("completed_at >= $%d", len(args)))
	}
	query += " WHERE " + strings.Join(wheres, " AND ")
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) lockRequest(ctx context.Context, tx pgx.Tx, kind models.RequestKind, id string) (models.Request, error) {
	r, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE kind = $1 AND id = $2 FOR UPDATE`, string(kind), id))
	return r, mapNoRows(err)
}

// UpdateTechnicianLoad shifts the active counter, never below zero.
func (s *Store) UpdateTechnicianLoad(ctx context.Context, tx pgx.Tx, technicianID string, delta int) error {
	_, err := tx.Exec(ctx, `UPDATE technicians SET active_task_count = GREATEST(active_task_count + $1, 0), updated_at = NOW() WHERE id = $2`, delta, technicianID)
	return err
}

func (s *Store) CommitAssignment(ctx context.Context, c store.AssignmentCommit) (store.AssignmentOutcome, error) {
	var out store.AssignmentOutcome
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		r, err := s.lockRequest(ctx, tx, c.Kind, c.RequestID)
		if err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM technicians WHERE id = $1)`, c.TechnicianID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		if err := store.CheckAssignable(r); err != nil {
			return err
		}

		prev := r.AssigneeID()
		if prev != c.TechnicianID {
			if prev != "" {
				if err := s.UpdateTechnicianLoad(ctx, tx, prev, -1); err != nil {
					return err
				}
				out.PreviousTechnicianID = prev
			}
			if err := s.UpdateTechnicianLoad(ctx, tx, c.TechnicianID, 1); err != nil {
				return err
			}
			out.CounterIncremented = true
		}

		out.Request, err = scanRequest(tx.QueryRow(ctx, `
			UPDATE requests
			SET assigned_technician_id = $1, assigned_technician_name = $2, status = $3, assigned_at = $4, updated_at = $4
			WHERE kind = $5 AND id = $6
			RETURNING `+requestColumns,
			c.TechnicianID, c.TechnicianName, string(models.StatusInProgress), c.At, string(c.Kind), c.RequestID))
		return err
	})
	if err != nil {
		return store.AssignmentOutcome{}, err
	}
	return out, nil
}

func (s *Store) CompleteRequest(ctx context.Context, kind models.RequestKind, id string, at time.Time) (models.Request, error) {
	var out models.Request
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		r, err := s.lockRequest(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if r.Status != models.StatusInProgress {
			return store.ErrInvalidState
		}
		if tid := r.AssigneeID(); tid != "" {
			if _, err := tx.Exec(ctx, `
				UPDATE technicians
				SET active_task_count = GREATEST(active_task_count - 1, 0), solved_task_count = solved_task_count + 1, updated_at = NOW()
				WHERE id = $1
			`, tid); err != nil {
				return err
			}
		}
		out, err = scanRequest(tx.QueryRow(ctx, `
			UPDATE requests SET status = $1, completed_at = $2, updated_at = $2
			WHERE kind = $3 AND id = $4
			RETURNING `+requestColumns,
			string(models.StatusCompleted), at, string(kind), id))
		return err
	})
	return out, err
}

func (s *Store) DeclineRequest(ctx context.Context, kind models.RequestKind, id string, technicianID string, limit int, at time.Time) (store.DeclineOutcome, error) {
	var out store.DeclineOutcome
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		r, err := s.lockRequest(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if err := store.CheckDeclinable(r, technicianID); err != nil {
			return err
		}
		if err := s.UpdateTechnicianLoad(ctx, tx, technicianID, -1); err != nil {
			return err
		}
		out.Rejected = store.ApplyDecline(&r, technicianID, limit, at)
		if _, err := tx.Exec(ctx, `
			UPDATE requests
			SET status = $1, rejected = $2, decline_count = $3, declined_by = $4,
				assigned_technician_id = NULL, assigned_technician_name = NULL, assigned_at = NULL, updated_at = $5
			WHERE kind = $6 AND id = $7
		`, string(r.Status), r.Rejected, r.DeclineCount, r.DeclinedBy, at, string(kind), id); err != nil {
			return err
		}
		out.Request = r
		return nil
	})
	if err != nil {
		return store.DeclineOutcome{}, err
	}
	return out, nil
}

func (s *Store) InsertNotification(ctx context.Context, n models.Notification) (string, error) {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, timestamp, is_read, action_url, room, request_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, n.ID, n.UserID, n.Title, n.Message, string(n.Type), n.Timestamp, n.IsRead, n.ActionURL, n.Room, n.RequestID)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

type changePayload struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Op   string `json:"op"`
}

// Subscribe holds a dedicated connection on LISTEN and re-reads each changed row.
func (s *Store) Subscribe(ctx context.Context, kind models.RequestKind, fn func(models.RequestChange)) error {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer releaseListener(conn)

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return err
	}
	for {
		note, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var p changePayload
		if err := json.Unmarshal([]byte(note.Payload), &p); err != nil || models.RequestKind(p.Kind) != kind {
			continue
		}
		r, err := s.GetRequest(ctx, kind, p.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
		op := models.ChangeUpdate
		if p.Op == "insert" {
			op = models.ChangeInsert
		}
		fn(models.RequestChange{Kind: kind, Op: op, Request: r})
	}
}

// releaseListener drops the LISTEN before the connection goes back to the pool.
// A connection that cannot be cleaned up is closed instead of reused.
func releaseListener(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = conn.Hijack().Close(ctx)
		return
	}
	conn.Release()
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
