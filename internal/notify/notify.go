// Package notify delivers registration lifecycle notifications. Delivery is
// fire-and-forget: the service enqueues a Message after its store commit and
// a Dispatcher hands it to a Sink on a worker goroutine. A failed or dropped
// notification never affects the registration outcome.
package notify

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
)

//go:generate mockgen -source=notify.go -destination=mocks/mocks.go -package=mocks

// Type identifies what happened.
type Type string

const (
	TypeRegistrationConfirmed Type = "registration_confirmed"
	TypeRegistrationCancelled Type = "registration_cancelled"
)

// Message carries everything a sink needs to render a notification without
// reading the store again.
type Message struct {
	ID             string           `json:"id"`
	Type           Type             `json:"type"`
	RegistrationID string           `json:"registration_id"`
	UserID         string           `json:"user_id"`
	Email          string           `json:"email,omitempty"`
	Name           string           `json:"name,omitempty"`
	Locale         string           `json:"locale,omitempty"`
	EntityKind     model.EntityKind `json:"entity_kind"`
	EntityID       string           `json:"entity_id"`
	Title          string           `json:"title"`
	ScheduledStart time.Time        `json:"scheduled_start"`
	Format         model.Format     `json:"format"`
	OnlineLink     string           `json:"online_link,omitempty"`
	Address        string           `json:"address,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// NewMessage builds a message for reg, which must carry its entity snapshot.
func NewMessage(id string, typ Type, who model.Identity, reg *model.Registration, at time.Time) Message {
	msg := Message{
		ID:             id,
		Type:           typ,
		RegistrationID: reg.ID,
		UserID:         reg.UserID,
		Email:          who.Email,
		Name:           who.Name,
		Locale:         who.Locale,
		Reason:         reg.CancellationReason,
		OccurredAt:     at,
	}
	ref := reg.Ref()
	msg.EntityKind, msg.EntityID = ref.Kind, ref.ID
	if e := reg.Entity; e != nil {
		msg.Title = e.Title
		msg.ScheduledStart = e.ScheduledStart
		msg.Format = e.Format
		msg.OnlineLink = e.OnlineLink
		msg.Address = e.Address
	}
	return msg
}

// Notifier accepts messages for asynchronous delivery. Notify must not block
// on delivery and has no failure mode visible to the caller.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Sink delivers one message synchronously. The dispatcher retries on error.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Email is a rendered message ready for a Mailer.
type Email struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Mailer sends one rendered email.
type Mailer interface {
	SendEmail(ctx context.Context, email Email) error
}

// Discard is a Notifier that drops everything.
type Discard struct{}

func (Discard) Notify(context.Context, Message) {}
