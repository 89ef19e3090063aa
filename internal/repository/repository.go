// Package repository persists clubs, events and the registration ledger.
//
// Every backend keeps the roster and the ledger in one atomic unit and runs
// the admission check inside a critical section keyed by entity id:
//
//   - MemoryStore: an in-process lock per entity (KeyedMutex)
//   - PostgresStore: SELECT … FOR UPDATE on the entity row inside a transaction
//   - SQLiteStore: an atomic conditional update on the roster counter
//
// Naive read-then-write is not safe here. Two requests reading roster size
// capacity-1 before either writes would both be admitted.
package repository

import (
	"context"
	"slices"
	"time"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/policy"
)

// EntityStore handles persistence for clubs and events.
type EntityStore interface {
	// CreateEntity inserts e. When seed is non-nil it is inserted as an
	// active registration in the same atomic unit; e.Roster must already
	// contain seed.UserID.
	CreateEntity(ctx context.Context, e *model.Entity, seed *model.Registration) error
	GetEntity(ctx context.Context, ref model.EntityRef) (*model.Entity, error)
	ListEntities(ctx context.Context, kind model.EntityKind) ([]model.Entity, error)
	SetActive(ctx context.Context, ref model.EntityRef, active bool, now time.Time) (*model.Entity, error)
}

// RequestStore handles persistence for moderation requests.
type RequestStore interface {
	// CreateRequest inserts req. Another open (pending or approved) request
	// with the same title from the same user is a duplicate_request.
	CreateRequest(ctx context.Context, req *model.EntityRequest) error
	GetRequest(ctx context.Context, id string) (*model.EntityRequest, error)
	// ListRequestsByUser returns a user's requests, newest first.
	ListRequestsByUser(ctx context.Context, userID string) ([]model.EntityRequest, error)
	// ListRequestsByStatus returns requests in status, newest first.
	ListRequestsByStatus(ctx context.Context, status model.RequestStatus) ([]model.EntityRequest, error)
	// ApproveRequest flips a pending request to approved and creates e, with
	// its optional seed registration, in the same atomic unit. A request that
	// is no longer pending is already_processed and nothing is written.
	ApproveRequest(ctx context.Context, id string, e *model.Entity, seed *model.Registration, now time.Time) (*model.EntityRequest, error)
	// RejectRequest flips a pending request to rejected with reason.
	RejectRequest(ctx context.Context, id, reason string, now time.Time) (*model.EntityRequest, error)
}

// Catalog is what entity administration needs: entities and the moderation
// requests that create them.
type Catalog interface {
	EntityStore
	RequestStore
}

// Ledger handles persistence for registrations.
type Ledger interface {
	// Book admits and records a registration atomically with the roster
	// append. It returns the new registration with its entity snapshot.
	Book(ctx context.Context, req BookRequest) (*model.Registration, error)
	// Cancel re-validates and cancels atomically with the roster removal.
	Cancel(ctx context.Context, req CancelRequest) (*model.Registration, error)
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	// ListByUser returns every registration of a user, newest first.
	ListByUser(ctx context.Context, userID string) ([]model.Registration, error)
	// FindActive returns the active registration for (user, entity), or nil.
	// Book uses the same predicate for its duplicate check.
	FindActive(ctx context.Context, userID string, ref model.EntityRef) (*model.Registration, error)
	// RosterDrift lists entities whose roster disagrees with the ledger.
	RosterDrift(ctx context.Context) ([]model.RosterDrift, error)
}

// Store is a complete backend.
type Store interface {
	Catalog
	Ledger
}

// BookRequest carries one registration attempt.
type BookRequest struct {
	RegistrationID string
	UserID         string
	Ref            model.EntityRef
	Now            time.Time
}

// CancelRequest carries one cancellation attempt.
type CancelRequest struct {
	RegistrationID string
	UserID         string
	Reason         string
	Now            time.Time
	Policy         policy.Cancellation
}

func registrationNotFound() error {
	return model.NewError(model.KindNotFound, "registration not found")
}

func requestNotFound() error {
	return model.NewError(model.KindNotFound, "request not found")
}

// computeDrift compares a roster against the active registrations of the
// same entity. It returns nil when they agree.
func computeDrift(entityID string, capacity int, roster, active []string) *model.RosterDrift {
	d := model.RosterDrift{
		EntityID:     entityID,
		RosterOnly:   []string{},
		LedgerOnly:   []string{},
		ActiveCount:  len(active),
		RosterSize:   len(roster),
		OverCapacity: len(roster) > capacity || len(active) > capacity,
	}
	for _, u := range roster {
		if !slices.Contains(active, u) {
			d.RosterOnly = append(d.RosterOnly, u)
		}
	}
	for _, u := range active {
		if !slices.Contains(roster, u) {
			d.LedgerOnly = append(d.LedgerOnly, u)
		}
	}
	if len(d.RosterOnly) == 0 && len(d.LedgerOnly) == 0 && !d.OverCapacity && len(roster) == len(active) {
		return nil
	}
	return &d
}

func sortNewestFirst(regs []model.Registration) {
	slices.SortStableFunc(regs, func(a, b model.Registration) int {
		return b.RegisteredAt.Compare(a.RegisteredAt)
	})
}
