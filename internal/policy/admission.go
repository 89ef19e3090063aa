// Package policy holds the registration rules shared by every store backend:
// the admission predicate run inside a store's per-entity critical section,
// and the time-based cancellation window.
package policy

import (
	"time"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
)

// Admit decides whether a registration may be created. Stores call it while
// holding exclusive access to the entity, so entity and hasActive must be read
// inside that same critical section. Checks run in a fixed order and each
// failure carries its own kind.
func Admit(entity *model.Entity, hasActive bool, now time.Time) error {
	if entity == nil {
		return model.NewError(model.KindNotFound, "%s not found", "club or event")
	}
	noun := entity.Kind.Noun()
	if !entity.IsActive {
		return model.NewError(model.KindInactive, "this %s is no longer active", noun)
	}
	if !entity.ScheduledStart.After(now) {
		return model.NewError(model.KindAlreadyStarted, "this %s has already started", noun)
	}
	if hasActive {
		return model.NewError(model.KindDuplicateRegistration, "you are already registered for this %s", noun)
	}
	if entity.IsFull() {
		return model.NewError(model.KindCapacityExceeded, "this %s is full", noun)
	}
	return nil
}

// NotFound is the error stores return for a missing entity of a given kind.
func NotFound(kind model.EntityKind) error {
	return model.NewError(model.KindNotFound, "%s not found", kind.Noun())
}
