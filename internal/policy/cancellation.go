package policy

import (
	"math"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
)

// DefaultWindow is how long before the scheduled start cancellations close.
const DefaultWindow = 24 * time.Hour

// Cancellation is the time-based rule deciding whether an active registration
// may still be cancelled. Window is the period before the scheduled start
// during which cancellation is refused.
type Cancellation struct {
	Window time.Duration
}

// NewCancellation returns a policy with the given window; a negative window
// falls back to DefaultWindow.
func NewCancellation(window time.Duration) Cancellation {
	if window < 0 {
		window = DefaultWindow
	}
	return Cancellation{Window: window}
}

// Evaluate reports whether reg can be cancelled at now. Ownership is not part
// of the decision; see Authorize.
func (p Cancellation) Evaluate(reg *model.Registration, entity *model.Entity, now time.Time) model.CancelDecision {
	if reg.Status == model.StatusCancelled {
		return model.CancelDecision{
			Reason:  model.KindAlreadyCancelled,
			Message: "registration is already cancelled",
		}
	}
	if entity == nil {
		return model.CancelDecision{CanCancel: true}
	}

	until := entity.ScheduledStart.Sub(now)
	switch {
	case until <= 0:
		return model.CancelDecision{
			Reason:  model.KindAlreadyStarted,
			Message: "this " + entity.Kind.Noun() + " has already started",
		}
	case until < p.Window:
		hours := int(math.Floor(until.Hours()))
		return model.CancelDecision{
			Reason:         model.KindWithinDeadline,
			Message:        "cannot cancel within " + formatWindow(p.Window) + " of the start time, please contact the organizer directly",
			HoursRemaining: &hours,
		}
	}
	return model.CancelDecision{CanCancel: true}
}

// Authorize runs the full cancellation check for callerID and converts a
// negative decision into a kinded error. Stores call it inside the same
// critical section that applies the cancellation.
func (p Cancellation) Authorize(reg *model.Registration, entity *model.Entity, callerID string, now time.Time) error {
	if reg == nil {
		return model.NewError(model.KindNotFound, "registration not found")
	}
	if reg.UserID != callerID {
		return model.ErrUnauthorized
	}
	d := p.Evaluate(reg, entity, now)
	if d.CanCancel {
		return nil
	}
	return &model.Error{Kind: d.Reason, Message: d.Message}
}

func formatWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return strconv.Itoa(h) + " hours"
	}
	return d.String()
}
