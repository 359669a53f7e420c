package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/campusfix/backend/internal/models"
	"github.com/campusfix/backend/internal/store"
)

// Field names follow the mobile app's camelCase documents.
type technicianDoc struct {
	ID              string    `bson:"_id"`
	Name            string    `bson:"name"`
	WorkingHours    string    `bson:"workingHours"`
	Availability    string    `bson:"availability"`
	ActiveTaskCount int       `bson:"activeTaskCount"`
	SolvedTaskCount int       `bson:"solvedTaskCount"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

func (d technicianDoc) model() models.Technician {
	return models.Technician{
		ID:              d.ID,
		Name:            d.Name,
		RawHours:        d.WorkingHours,
		WorkingHours:    models.DecodeHours(d.WorkingHours),
		Availability:    models.ParseAvailability(d.Availability),
		ActiveTaskCount: d.ActiveTaskCount,
		SolvedTaskCount: d.SolvedTaskCount,
		UpdatedAt:       d.UpdatedAt,
	}
}

func technicianFromModel(t models.Technician) technicianDoc {
	return technicianDoc{
		ID:              t.ID,
		Name:            t.Name,
		WorkingHours:    t.RawHours,
		Availability:    string(t.Availability),
		ActiveTaskCount: t.ActiveTaskCount,
		SolvedTaskCount: t.SolvedTaskCount,
		UpdatedAt:       t.UpdatedAt,
	}
}

type requestDoc struct {
	ID                     string     `bson:"_id"`
	RequestName            string     `bson:"requestName"`
	Category               string     `bson:"category"`
	Location               string     `bson:"location"`
	Urgency                string     `bson:"urgency"`
	Status                 string     `bson:"status"`
	RequesterID            string     `bson:"requesterId"`
	AssignedTechnicianID   *string    `bson:"assignedTechnicianId"`
	AssignedTechnicianName *string    `bson:"assignedTechnicianName"`
	CreatedAt              time.Time  `bson:"createdAt"`
	UpdatedAt              time.Time  `bson:"updatedAt"`
	AssignedAt             *time.Time `bson:"assignedAt,omitempty"`
	CompletedAt            *time.Time `bson:"completedAt,omitempty"`
	Rejected               bool       `bson:"rejected"`
	DeclineCount           int        `bson:"declineCount"`
	DeclinedBy             []string   `bson:"declinedBy"`
}

func (d requestDoc) model(kind models.RequestKind) models.Request {
	return models.Request{
		ID:                     d.ID,
		Kind:                   kind,
		RequestName:            d.RequestName,
		Category:               d.Category,
		Location:               d.Location,
		Urgency:                models.ParseUrgency(d.Urgency),
		Status:                 models.ParseStatus(d.Status),
		RequesterID:            d.RequesterID,
		AssignedTechnicianID:   d.AssignedTechnicianID,
		AssignedTechnicianName: d.AssignedTechnicianName,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
		AssignedAt:             d.AssignedAt,
		CompletedAt:            d.CompletedAt,
		Rejected:               d.Rejected,
		DeclineCount:           d.DeclineCount,
		DeclinedBy:             d.DeclinedBy,
	}
}

func requestFromModel(r models.Request) requestDoc {
	declined := r.DeclinedBy
	if declined == nil {
		declined = []string{}
	}
	return requestDoc{
		ID:                     r.ID,
		RequestName:            r.RequestName,
		Category:               r.Category,
		Location:               r.Location,
		Urgency:                string(r.Urgency),
		Status:                 string(r.Status),
		RequesterID:            r.RequesterID,
		AssignedTechnicianID:   r.AssignedTechnicianID,
		AssignedTechnicianName: r.AssignedTechnicianName,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
		AssignedAt:             r.AssignedAt,
		CompletedAt:            r.CompletedAt,
		Rejected:               r.Rejected,
		DeclineCount:           r.DeclineCount,
		DeclinedBy:             declined,
	}
}

type userDoc struct {
	ID    string `bson:"_id"`
	Name  string `bson:"name"`
	Email string `bson:"email"`
	Role  string `bson:"role"`
}

type notificationDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"userId"`
	Title     string    `bson:"title"`
	Message   string    `bson:"message"`
	Type      string    `bson:"type"`
	Timestamp time.Time `bson:"timestamp"`
	IsRead    bool      `bson:"isRead"`
	ActionURL string    `bson:"actionUrl,omitempty"`
	Room      string    `bson:"room,omitempty"`
	RequestID string    `bson:"requestId,omitempty"`
}

func notificationFromModel(n models.Notification) notificationDoc {
	return notificationDoc{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Timestamp: n.Timestamp,
		IsRead:    n.IsRead,
		ActionURL: n.ActionURL,
		Room:      n.Room,
		RequestID: n.RequestID,
	}
}

// requestQuery translates a filter into a find document.
func requestQuery(f store.RequestFilter) bson.M {
	q := bson.M{}
	if len(f.Statuses) > 0 {
		statuses := make(bson.A, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		in := bson.M{"$in": statuses}
		if f.OrRejected {
			q["$or"] = bson.A{bson.M{"status": in}, bson.M{"rejected": true}}
		} else {
			q["status"] = in
		}
	}
	if !f.CompletedSince.IsZero() {
		q["completedAt"] = bson.M{"$gte": f.CompletedSince}
	}
	return q
}
