package model

import "time"

// RequestStatus is the moderation state of an EntityRequest.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	return s == RequestPending || s == RequestApproved || s == RequestRejected
}

// EntityRequest is a member's proposal for a new club or event. An admin
// approves it, which creates the entity with the requester seated, or
// rejects it with a reason. Only pending requests can be processed.
type EntityRequest struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	Kind            EntityKind    `json:"kind"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Capacity        int           `json:"capacity"`
	ScheduledStart  time.Time     `json:"scheduled_start"`
	Format          Format        `json:"format"`
	OnlineLink      string        `json:"online_link,omitempty"`
	Address         string        `json:"address,omitempty"`
	Status          RequestStatus `json:"status"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	EntityID        string        `json:"entity_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsOpen reports whether the request blocks another one with the same title
// from the same user.
func (r *EntityRequest) IsOpen() bool {
	return r.Status == RequestPending || r.Status == RequestApproved
}

// EntityDraft converts the request into the payload that creates its entity,
// with the requester as creator.
func (r *EntityRequest) EntityDraft() CreateEntityRequest {
	return CreateEntityRequest{
		Kind:           r.Kind,
		Title:          r.Title,
		Description:    r.Description,
		Capacity:       r.Capacity,
		ScheduledStart: r.ScheduledStart,
		Format:         r.Format,
		OnlineLink:     r.OnlineLink,
		Address:        r.Address,
		CreatorID:      r.UserID,
	}
}

// SubmitRequest is the payload a member sends to propose a club or event.
type SubmitRequest struct {
	Kind           EntityKind `json:"kind"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Capacity       int        `json:"capacity"`
	ScheduledStart time.Time  `json:"scheduled_start"`
	Format         Format     `json:"format"`
	OnlineLink     string     `json:"online_link,omitempty"`
	Address        string     `json:"address,omitempty"`
}

// RejectRequest is the payload an admin sends to reject a request.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// Approval is the outcome of approving a request.
type Approval struct {
	Request *EntityRequest `json:"request"`
	Entity  *Entity        `json:"entity"`
}
