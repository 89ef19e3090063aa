// Package model defines the core domain types for club and event registration.
package model

import (
	"slices"
	"time"
)

// EntityKind distinguishes reading clubs from events. Both share the same
// registration semantics.
type EntityKind string

const (
	KindClub  EntityKind = "club"
	KindEvent EntityKind = "event"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == KindClub || k == KindEvent
}

// Noun is the human-readable name used in messages.
func (k EntityKind) Noun() string {
	if k == KindClub {
		return "reading club"
	}
	return "event"
}

// Format is how an entity meets.
type Format string

const (
	FormatOnline  Format = "online"
	FormatOffline Format = "offline"
)

// EntityRef identifies exactly one club or event.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

// ClubRef is a shorthand for a club reference.
func ClubRef(id string) EntityRef { return EntityRef{Kind: KindClub, ID: id} }

// EventRef is a shorthand for an event reference.
func EventRef(id string) EntityRef { return EntityRef{Kind: KindEvent, ID: id} }

func (r EntityRef) String() string { return string(r.Kind) + ":" + r.ID }

// Entity is a reading club or an event with a fixed capacity.
//
// Invariants:
//   - Capacity is positive and never changes after creation
//   - len(Roster) <= Capacity
//   - Roster holds exactly the users with an active Registration
type Entity struct {
	ID             string     `json:"id"`
	Kind           EntityKind `json:"kind"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Capacity       int        `json:"capacity"`
	Roster         []string   `json:"roster"`
	ScheduledStart time.Time  `json:"scheduled_start"`
	IsActive       bool       `json:"is_active"`
	Format         Format     `json:"format"`
	OnlineLink     string     `json:"online_link,omitempty"`
	Address        string     `json:"address,omitempty"`
	CreatorID      string     `json:"creator_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Ref returns the reference that identifies e.
func (e *Entity) Ref() EntityRef {
	return EntityRef{Kind: e.Kind, ID: e.ID}
}

// Remaining returns the number of available seats.
func (e *Entity) Remaining() int {
	return e.Capacity - len(e.Roster)
}

// IsFull returns true when no seats remain.
func (e *Entity) IsFull() bool {
	return len(e.Roster) >= e.Capacity
}

// HasMember reports whether userID is on the roster.
func (e *Entity) HasMember(userID string) bool {
	return slices.Contains(e.Roster, userID)
}

// Clone returns a copy that does not share the roster slice.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Roster = slices.Clone(e.Roster)
	if c.Roster == nil {
		c.Roster = []string{}
	}
	return &c
}

// RegistrationStatus is the lifecycle state of a Registration.
type RegistrationStatus string

const (
	StatusActive    RegistrationStatus = "active"
	StatusCancelled RegistrationStatus = "cancelled"
)

// Registration links one user to one club or event.
// Exactly one of ClubID and EventID is set. Cancelled is terminal.
type Registration struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	ClubID             string             `json:"club_id,omitempty"`
	EventID            string             `json:"event_id,omitempty"`
	Status             RegistrationStatus `json:"status"`
	RegisteredAt       time.Time          `json:"registered_at"`
	CancelledAt        *time.Time         `json:"cancelled_at"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	Entity             *Entity            `json:"entity,omitempty"`
}

// NewRegistration builds an active registration for ref.
func NewRegistration(id, userID string, ref EntityRef, at time.Time) *Registration {
	reg := &Registration{
		ID:           id,
		UserID:       userID,
		Status:       StatusActive,
		RegisteredAt: at,
	}
	reg.SetRef(ref)
	return reg
}

// Ref returns the entity this registration points at.
func (r *Registration) Ref() EntityRef {
	if r.ClubID != "" {
		return ClubRef(r.ClubID)
	}
	return EventRef(r.EventID)
}

// SetRef fills ClubID or EventID from ref, clearing the other.
func (r *Registration) SetRef(ref EntityRef) {
	r.ClubID, r.EventID = "", ""
	if ref.Kind == KindClub {
		r.ClubID = ref.ID
	} else {
		r.EventID = ref.ID
	}
}

// IsActive reports whether the registration currently holds a seat.
func (r *Registration) IsActive() bool {
	return r.Status == StatusActive
}

// Identity is the authenticated caller as supplied by the auth layer.
type Identity struct {
	UserID        string
	Email         string
	Name          string
	Role          string
	Locale        string // preferred language tag, e.g. "fr"
	Authenticated bool
}

// IsAdmin reports whether the caller may use moderation endpoints.
func (i Identity) IsAdmin() bool {
	return i.Authenticated && i.Role == "admin"
}

// CreateEntityRequest is the payload the moderation flow sends when a club or
// event request is approved.
type CreateEntityRequest struct {
	Kind           EntityKind `json:"kind"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Capacity       int        `json:"capacity"`
	ScheduledStart time.Time  `json:"scheduled_start"`
	Format         Format     `json:"format"`
	OnlineLink     string     `json:"online_link,omitempty"`
	Address        string     `json:"address,omitempty"`
	CreatorID      string     `json:"creator_id,omitempty"`
}

// RegisterRequest is the payload for registering. Exactly one id is set.
type RegisterRequest struct {
	ClubID  string `json:"club_id,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// RegistrationResult is the JSON envelope for register and cancel.
type RegistrationResult struct {
	Success      bool          `json:"success"`
	Registration *Registration `json:"registration,omitempty"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty"`
	Message      string        `json:"message"`
}

// ActiveCheck answers whether a user currently holds a seat.
type ActiveCheck struct {
	IsRegistered   bool   `json:"is_registered"`
	RegistrationID string `json:"registration_id,omitempty"`
}

// CancelDecision is the outcome of a can-cancel evaluation.
type CancelDecision struct {
	CanCancel      bool      `json:"can_cancel"`
	Reason         ErrorKind `json:"reason,omitempty"`
	Message        string    `json:"message,omitempty"`
	HoursRemaining *int      `json:"hours_remaining,omitempty"`
}

// RosterDrift describes an entity whose roster disagrees with its active
// registrations.
type RosterDrift struct {
	EntityID     string   `json:"entity_id"`
	RosterOnly   []string `json:"roster_only"`
	LedgerOnly   []string `json:"ledger_only"`
	OverCapacity bool     `json:"over_capacity"`
	ActiveCount  int      `json:"active_count"`
	RosterSize   int      `json:"roster_size"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Success   bool      `json:"success"`
	ErrorKind ErrorKind `json:"error_kind"`
	Message   string    `json:"message"`
}
