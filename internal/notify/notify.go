// Package notify builds notification documents and hands them to the store and event bus.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusfix/backend/internal/models"
)

type Inserter interface {
	InsertNotification(ctx context.Context, n models.Notification) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, n models.Notification) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, n models.Notification) error { return nil }
func (NopPublisher) Close() error                                              { return nil }

// Dispatcher writes the notification document, then publishes it.
// Only the document write can fail a Send; publish errors are logged.
type Dispatcher struct {
	Store     Inserter
	Publisher Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
}

func (d *Dispatcher) Send(ctx context.Context, n models.Notification) (models.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = d.now()
	}
	n.IsRead = false

	id, err := d.Store.InsertNotification(ctx, n)
	if err != nil {
		return n, err
	}
	if id != "" {
		n.ID = id
	}

	if d.Publisher != nil {
		if err := d.Publisher.Publish(ctx, n); err != nil {
			d.Logger.Warn().Err(err).Str("notification_id", n.ID).Str("user_id", n.UserID).Msg("notification publish failed")
		}
	}
	d.Logger.Debug().Str("notification_id", n.ID).Str("user_id", n.UserID).Str("type", string(n.Type)).Msg("notification sent")
	return n, nil
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
