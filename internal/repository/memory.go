package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/policy"
)

var _ Store = (*MemoryStore)(nil)

type activeKey struct {
	userID   string
	entityID string
}

// MemoryStore is a single-process Store. Mutations of an entity's roster and
// ledger rows happen while holding that entity's lock from locks; mu only
// protects the maps themselves and is never held while waiting on an entity.
type MemoryStore struct {
	locks *KeyedMutex

	mu            sync.RWMutex
	entities      map[string]*model.Entity
	registrations map[string]*model.Registration
	byUser        map[string][]string
	active        map[activeKey]string
	requests      map[string]*model.EntityRequest
	requestOrder  []string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:         NewKeyedMutex(),
		entities:      make(map[string]*model.Entity),
		registrations: make(map[string]*model.Registration),
		byUser:        make(map[string][]string),
		active:        make(map[activeKey]string),
		requests:      make(map[string]*model.EntityRequest),
	}
}

func (s *MemoryStore) CreateEntity(_ context.Context, e *model.Entity, seed *model.Registration) error {
	unlock := s.locks.Lock(e.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[e.ID]; exists {
		return model.NewError(model.KindInvalid, "entity %s already exists", e.ID)
	}
	s.entities[e.ID] = e.Clone()
	if seed != nil {
		s.insertLocked(seed)
	}
	return nil
}

func (s *MemoryStore) GetEntity(_ context.Context, ref model.EntityRef) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entityLocked(ref)
	if e == nil {
		return nil, policy.NotFound(ref.Kind)
	}
	return e.Clone(), nil
}

// ListEntities returns entities of kind ordered by creation time descending.
func (s *MemoryStore) ListEntities(_ context.Context, kind model.EntityKind) ([]model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if e.Kind == kind {
			out = append(out, *e.Clone())
		}
	}
	slices.SortFunc(out, func(a, b model.Entity) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SetActive(_ context.Context, ref model.EntityRef, active bool, now time.Time) (*model.Entity, error) {
	unlock := s.locks.Lock(ref.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entityLocked(ref)
	if e == nil {
		return nil, policy.NotFound(ref.Kind)
	}
	e.IsActive = active
	e.UpdatedAt = now
	return e.Clone(), nil
}

// Book runs the admission check and the write under the entity's lock, so a
// concurrent attempt for the same entity observes the appended roster.
func (s *MemoryStore) Book(_ context.Context, req BookRequest) (*model.Registration, error) {
	unlock := s.locks.Lock(req.Ref.ID)
	defer unlock()

	s.mu.RLock()
	e := s.entityLocked(req.Ref)
	_, hasActive := s.active[activeKey{req.UserID, req.Ref.ID}]
	s.mu.RUnlock()

	if e == nil {
		return nil, policy.NotFound(req.Ref.Kind)
	}
	if err := policy.Admit(e, hasActive, req.Now); err != nil {
		return nil, err
	}

	reg := model.NewRegistration(req.RegistrationID, req.UserID, req.Ref, req.Now)

	s.mu.Lock()
	defer s.mu.Unlock()
	e.Roster = append(e.Roster, req.UserID)
	e.UpdatedAt = req.Now
	s.insertLocked(reg)
	return s.resolveLocked(reg), nil
}

func (s *MemoryStore) Cancel(_ context.Context, req CancelRequest) (*model.Registration, error) {
	s.mu.RLock()
	reg, ok := s.registrations[req.RegistrationID]
	var ref model.EntityRef
	if ok {
		ref = reg.Ref()
	}
	s.mu.RUnlock()
	if !ok {
		return nil, registrationNotFound()
	}

	unlock := s.locks.Lock(ref.ID)
	defer unlock()

	s.mu.RLock()
	snapshot := *reg
	e := s.entities[ref.ID]
	s.mu.RUnlock()

	if err := req.Policy.Authorize(&snapshot, e, req.UserID, req.Now); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cancelledAt := req.Now
	reg.Status = model.StatusCancelled
	reg.CancelledAt = &cancelledAt
	reg.CancellationReason = req.Reason
	delete(s.active, activeKey{reg.UserID, ref.ID})
	if e != nil {
		e.Roster = slices.DeleteFunc(slices.Clone(e.Roster), func(u string) bool { return u == reg.UserID })
		e.UpdatedAt = req.Now
	}
	return s.resolveLocked(reg), nil
}

func (s *MemoryStore) GetRegistration(_ context.Context, id string) (*model.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.registrations[id]
	if !ok {
		return nil, registrationNotFound()
	}
	return s.resolveLocked(reg), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]model.Registration, error) {
	s.mu.RLock()
	ids := s.byUser[userID]
	out := make([]model.Registration, 0, len(ids))
	// Walk backwards so equal timestamps keep newest-inserted first.
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, *s.resolveLocked(s.registrations[ids[i]]))
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) FindActive(_ context.Context, userID string, ref model.EntityRef) (*model.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[activeKey{userID, ref.ID}]
	if !ok {
		return nil, nil
	}
	reg := s.registrations[id]
	if reg.Ref() != ref {
		return nil, nil
	}
	return s.resolveLocked(reg), nil
}

func (s *MemoryStore) RosterDrift(_ context.Context) ([]model.RosterDrift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	activeByEntity := make(map[string][]string)
	for k := range s.active {
		activeByEntity[k.entityID] = append(activeByEntity[k.entityID], k.userID)
	}
	var drifts []model.RosterDrift
	for id, e := range s.entities {
		if d := computeDrift(id, e.Capacity, e.Roster, activeByEntity[id]); d != nil {
			drifts = append(drifts, *d)
		}
	}
	return drifts, nil
}

// CreateRequest checks for an open request with the same title and inserts
// under one write lock, so two identical submissions cannot both land.
func (s *MemoryStore) CreateRequest(_ context.Context, req *model.EntityRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return model.NewError(model.KindInvalid, "request %s already exists", req.ID)
	}
	for _, r := range s.requests {
		if r.UserID == req.UserID && r.Title == req.Title && r.IsOpen() {
			return model.ErrDuplicateRequest
		}
	}
	stored := *req
	s.requests[req.ID] = &stored
	s.requestOrder = append(s.requestOrder, req.ID)
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (*model.EntityRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, requestNotFound()
	}
	out := *r
	return &out, nil
}

func (s *MemoryStore) ListRequestsByUser(_ context.Context, userID string) ([]model.EntityRequest, error) {
	return s.listRequests(func(r *model.EntityRequest) bool { return r.UserID == userID }), nil
}

func (s *MemoryStore) ListRequestsByStatus(_ context.Context, status model.RequestStatus) ([]model.EntityRequest, error) {
	return s.listRequests(func(r *model.EntityRequest) bool { return r.Status == status }), nil
}

func (s *MemoryStore) ApproveRequest(_ context.Context, id string, e *model.Entity, seed *model.Registration, now time.Time) (*model.EntityRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.pendingLocked(id)
	if err != nil {
		return nil, err
	}
	if _, exists := s.entities[e.ID]; exists {
		return nil, model.NewError(model.KindInvalid, "entity %s already exists", e.ID)
	}
	s.entities[e.ID] = e.Clone()
	if seed != nil {
		s.insertLocked(seed)
	}
	r.Status = model.RequestApproved
	r.EntityID = e.ID
	r.UpdatedAt = now
	out := *r
	return &out, nil
}

func (s *MemoryStore) RejectRequest(_ context.Context, id, reason string, now time.Time) (*model.EntityRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.pendingLocked(id)
	if err != nil {
		return nil, err
	}
	r.Status = model.RequestRejected
	r.RejectionReason = reason
	r.UpdatedAt = now
	out := *r
	return &out, nil
}

// pendingLocked returns the live request id if it is still pending; the
// caller holds mu for writing.
func (s *MemoryStore) pendingLocked(id string) (*model.EntityRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, requestNotFound()
	}
	if r.Status != model.RequestPending {
		return nil, model.ErrAlreadyProcessed
	}
	return r, nil
}

// listRequests returns matching requests newest first; ties keep the most
// recently inserted first.
func (s *MemoryStore) listRequests(match func(*model.EntityRequest) bool) []model.EntityRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.EntityRequest{}
	for i := len(s.requestOrder) - 1; i >= 0; i-- {
		if r := s.requests[s.requestOrder[i]]; match(r) {
			out = append(out, *r)
		}
	}
	slices.SortStableFunc(out, func(a, b model.EntityRequest) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// entityLocked returns the live entity for ref; the caller holds mu.
func (s *MemoryStore) entityLocked(ref model.EntityRef) *model.Entity {
	e, ok := s.entities[ref.ID]
	if !ok || e.Kind != ref.Kind {
		return nil
	}
	return e
}

// insertLocked records reg in every index; the caller holds mu for writing.
func (s *MemoryStore) insertLocked(reg *model.Registration) {
	stored := *reg
	stored.Entity = nil
	s.registrations[reg.ID] = &stored
	s.byUser[reg.UserID] = append(s.byUser[reg.UserID], reg.ID)
	if reg.IsActive() {
		s.active[activeKey{reg.UserID, reg.Ref().ID}] = reg.ID
	}
}

// resolveLocked returns a detached copy of reg with its entity snapshot.
func (s *MemoryStore) resolveLocked(reg *model.Registration) *model.Registration {
	out := *reg
	if reg.CancelledAt != nil {
		at := *reg.CancelledAt
		out.CancelledAt = &at
	}
	if e, ok := s.entities[reg.Ref().ID]; ok {
		out.Entity = e.Clone()
	}
	return &out
}
