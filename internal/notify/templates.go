package notify

import (
	"fmt"
	"strings"

	"github.com/campusfix/backend/internal/models"
)

func TechnicianRequestURL(requestID string) string {
	return "/technician/requests/" + requestID
}

// Assignment is the notice sent to a technician for a new assignment.
func Assignment(technicianID, requestID, location, category string, urgency models.Urgency) models.Notification {
	what := describe(category)
	n := models.Notification{
		UserID:    technicianID,
		ActionURL: TechnicianRequestURL(requestID),
		Room:      location,
		RequestID: requestID,
	}
	switch urgency {
	case models.UrgencyHigh:
		n.Title = "Urgent Request Assigned"
		n.Message = fmt.Sprintf("URGENT: You have been assigned a high-priority %s at %s. Please attend to it immediately.", what, location)
		n.Type = models.NotificationError
	case models.UrgencyMedium:
		n.Title = "New Request Assigned"
		n.Message = fmt.Sprintf("You have been assigned a %s at %s. Please attend to it soon.", what, location)
		n.Type = models.NotificationInfo
	default:
		n.Title = "New Request Assigned"
		n.Message = fmt.Sprintf("You have been assigned a %s at %s.", what, location)
		n.Type = models.NotificationInfo
	}
	return n
}

// Completed is the notice sent to the requester when work is done.
func Completed(r models.Request) models.Notification {
	name := "A technician"
	if r.AssignedTechnicianName != nil && *r.AssignedTechnicianName != "" {
		name = *r.AssignedTechnicianName
	}
	return models.Notification{
		UserID:    r.RequesterID,
		Title:     "Request Completed",
		Message:   fmt.Sprintf("%s has completed your request %q at %s.", name, r.RequestName, r.Location),
		Type:      models.NotificationSuccess,
		ActionURL: "/requests/" + r.ID,
		Room:      r.Location,
		RequestID: r.ID,
	}
}

type Delay struct {
	RequestID   string
	RequestName string
	Location    string
	DaysDelayed int
	Rejected    bool
}

// DelayToRequester apologises to the person who filed the request.
func DelayToRequester(requesterID string, d Delay) models.Notification {
	n := models.Notification{
		UserID:    requesterID,
		ActionURL: "/requests/" + d.RequestID,
		Room:      d.Location,
		RequestID: d.RequestID,
	}
	if d.Rejected {
		n.Title = "Request Could Not Be Assigned"
		n.Message = fmt.Sprintf("We're sorry, your request %q at %s could not be taken by our technicians. An administrator will follow up with you.", d.RequestName, d.Location)
		n.Type = models.NotificationError
		return n
	}
	n.Title = "Request Delayed"
	n.Message = fmt.Sprintf("We're sorry, your request %q at %s has been waiting for %s. We are working to get it assigned as soon as possible.", d.RequestName, d.Location, days(d.DaysDelayed))
	n.Type = models.NotificationWarning
	return n
}

// DelayToAdmin asks an administrator to act on the request.
func DelayToAdmin(adminID string, d Delay) models.Notification {
	n := models.Notification{
		UserID:    adminID,
		ActionURL: "/admin/requests/" + d.RequestID,
		Room:      d.Location,
		RequestID: d.RequestID,
	}
	if d.Rejected {
		n.Title = "Action Required: Request Rejected"
		n.Message = fmt.Sprintf("Request %q at %s was declined by technicians and needs manual assignment.", d.RequestName, d.Location)
		n.Type = models.NotificationError
		return n
	}
	n.Title = "Action Required: Delayed Request"
	n.Message = fmt.Sprintf("Request %q at %s has been pending for %s and needs attention.", d.RequestName, d.Location, days(d.DaysDelayed))
	n.Type = models.NotificationWarning
	return n
}

func describe(category string) string {
	c := strings.TrimSpace(category)
	if c == "" {
		return "request"
	}
	return strings.ToLower(c) + " request"
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
