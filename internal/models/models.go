package models

import (
	"strings"
	"time"
)

type Availability string

const (
	Available   Availability = "available"
	Busy        Availability = "busy"
	Unavailable Availability = "unavailable"
)

// ParseAvailability maps free-form store values onto the known set.
// Anything unrecognised is treated as unavailable.
func ParseAvailability(value string) Availability {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "available":
		return Available
	case "busy":
		return Busy
	default:
		return Unavailable
	}
}

type Technician struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	RawHours        string        `json:"working_hours_raw"`
	WorkingHours    *WorkingHours `json:"working_hours"`
	Availability    Availability  `json:"availability"`
	ActiveTaskCount int           `json:"active_task_count"`
	SolvedTaskCount int           `json:"solved_task_count"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type RequestKind string

const (
	KindMaintenance RequestKind = "maintenance"
	KindInventory   RequestKind = "inventory"
	KindGeneral     RequestKind = "general"
)

var RequestKinds = []RequestKind{KindMaintenance, KindInventory, KindGeneral}

func (k RequestKind) Valid() bool {
	switch k {
	case KindMaintenance, KindInventory, KindGeneral:
		return true
	}
	return false
}

// Collection is the name the mobile app uses for the kind's collection.
func (k RequestKind) Collection() string {
	switch k {
	case KindMaintenance:
		return "maintenanceRequest"
	case KindInventory:
		return "inventoryRequest"
	default:
		return "requests"
	}
}

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusRejected   RequestStatus = "rejected"
)

func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// ParseStatus accepts the spellings found in app documents ("In Progress", "in-progress").
func ParseStatus(value string) RequestStatus {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	switch v {
	case "in_progress", "inprogress":
		return StatusInProgress
	case "completed", "complete", "done":
		return StatusCompleted
	case "rejected":
		return StatusRejected
	default:
		return StatusPending
	}
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

func ParseUrgency(value string) Urgency {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high", "urgent":
		return UrgencyHigh
	case "medium", "normal":
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

type Request struct {
	ID                     string        `json:"id"`
	Kind                   RequestKind   `json:"kind"`
	RequestName            string        `json:"request_name"`
	Category               string        `json:"category"`
	Location               string        `json:"location"`
	Urgency                Urgency       `json:"urgency"`
	Status                 RequestStatus `json:"status"`
	RequesterID            string        `json:"requester_id"`
	AssignedTechnicianID   *string       `json:"assigned_technician_id"`
	AssignedTechnicianName *string       `json:"assigned_technician_name"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
	AssignedAt             *time.Time    `json:"assigned_at"`
	CompletedAt            *time.Time    `json:"completed_at"`
	Rejected               bool          `json:"rejected"`
	DeclineCount           int           `json:"decline_count"`
	DeclinedBy             []string      `json:"declined_by"`
}

// AssigneeID returns the assigned technician id or "" when unassigned.
func (r Request) AssigneeID() string {
	if r.AssignedTechnicianID == nil {
		return ""
	}
	return *r.AssignedTechnicianID
}

func (r Request) DeclinedByTechnician(technicianID string) bool {
	for _, id := range r.DeclinedBy {
		if id == technicianID {
			return true
		}
	}
	return false
}

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationWarning NotificationType = "warning"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	IsRead    bool             `json:"is_read"`
	ActionURL string           `json:"action_url"`
	Room      string           `json:"room"`
	RequestID string           `json:"request_id,omitempty"`
}

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
	RoleRequester  Role = "requester"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
)

// RequestChange is one item of a request change feed.
type RequestChange struct {
	Kind    RequestKind `json:"kind"`
	Op      ChangeOp    `json:"op"`
	Request Request     `json:"request"`
}
