package repository

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
)

func (s *storeSuite) newRequest(userID, title string) *model.EntityRequest {
	return &model.EntityRequest{
		ID:             uuid.NewString(),
		UserID:         userID,
		Kind:           model.KindEvent,
		Title:          title,
		Capacity:       3,
		ScheduledStart: s.now.Add(72 * time.Hour),
		Format:         model.FormatOffline,
		Address:        "Library, room 2",
		Status:         model.RequestPending,
		CreatedAt:      s.now,
		UpdatedAt:      s.now,
	}
}

// entityFor builds the entity an approval of req would create.
func (s *storeSuite) entityFor(req *model.EntityRequest) (*model.Entity, *model.Registration) {
	e := &model.Entity{
		ID:             uuid.NewString(),
		Kind:           req.Kind,
		Title:          req.Title,
		Capacity:       req.Capacity,
		Roster:         []string{req.UserID},
		ScheduledStart: req.ScheduledStart,
		IsActive:       true,
		Format:         req.Format,
		Address:        req.Address,
		CreatorID:      req.UserID,
		CreatedAt:      s.now,
		UpdatedAt:      s.now,
	}
	return e, model.NewRegistration(uuid.NewString(), req.UserID, e.Ref(), s.now)
}

func (s *storeSuite) TestCreateRequest() {
	s.Run("stores a pending request", func() {
		req := s.newRequest("alice", "Poetry night")
		s.Require().NoError(s.store.CreateRequest(s.ctx, req))

		got, err := s.store.GetRequest(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(model.RequestPending, got.Status)
		s.Equal("Poetry night", got.Title)
		s.Equal("Library, room 2", got.Address)
		s.True(got.ScheduledStart.Equal(req.ScheduledStart))
		s.Empty(got.EntityID)
	})

	s.Run("same title while pending is a duplicate", func() {
		s.Require().NoError(s.store.CreateRequest(s.ctx, s.newRequest("bob", "Film club")))
		err := s.store.CreateRequest(s.ctx, s.newRequest("bob", "Film club"))
		s.ErrorIs(err, model.ErrDuplicateRequest)

		s.NoError(s.store.CreateRequest(s.ctx, s.newRequest("carol", "Film club")), "other users may reuse a title")
	})

	s.Run("same title after rejection is allowed", func() {
		first := s.newRequest("dave", "Choir")
		s.Require().NoError(s.store.CreateRequest(s.ctx, first))
		_, err := s.store.RejectRequest(s.ctx, first.ID, "no rehearsal room", s.now)
		s.Require().NoError(err)

		s.NoError(s.store.CreateRequest(s.ctx, s.newRequest("dave", "Choir")))
	})

	s.Run("same title after approval is a duplicate", func() {
		first := s.newRequest("erin", "Hiking")
		s.Require().NoError(s.store.CreateRequest(s.ctx, first))
		e, seed := s.entityFor(first)
		_, err := s.store.ApproveRequest(s.ctx, first.ID, e, seed, s.now)
		s.Require().NoError(err)

		err = s.store.CreateRequest(s.ctx, s.newRequest("erin", "Hiking"))
		s.ErrorIs(err, model.ErrDuplicateRequest)
	})

	s.Run("unknown request is not_found", func() {
		_, err := s.store.GetRequest(s.ctx, uuid.NewString())
		s.ErrorIs(err, model.ErrNotFound)
	})
}

func (s *storeSuite) TestListRequests() {
	older := s.newRequest("alice", "Older")
	newer := s.newRequest("alice", "Newer")
	newer.CreatedAt = s.now.Add(time.Minute)
	other := s.newRequest("bob", "Bob's")
	for _, r := range []*model.EntityRequest{older, newer, other} {
		s.Require().NoError(s.store.CreateRequest(s.ctx, r))
	}
	_, err := s.store.RejectRequest(s.ctx, other.ID, "off topic", s.now)
	s.Require().NoError(err)

	mine, err := s.store.ListRequestsByUser(s.ctx, "alice")
	s.Require().NoError(err)
	s.Require().Len(mine, 2)
	s.Equal(newer.ID, mine[0].ID)
	s.Equal(older.ID, mine[1].ID)

	pending, err := s.store.ListRequestsByStatus(s.ctx, model.RequestPending)
	s.Require().NoError(err)
	s.Len(pending, 2)

	rejected, err := s.store.ListRequestsByStatus(s.ctx, model.RequestRejected)
	s.Require().NoError(err)
	s.Require().Len(rejected, 1)
	s.Equal("off topic", rejected[0].RejectionReason)

	none, err := s.store.ListRequestsByUser(s.ctx, "ghost")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *storeSuite) TestApproveRequest() {
	s.Run("creates the entity with the requester seated", func() {
		req := s.newRequest("alice", "Book swap")
		s.Require().NoError(s.store.CreateRequest(s.ctx, req))
		e, seed := s.entityFor(req)

		approved, err := s.store.ApproveRequest(s.ctx, req.ID, e, seed, s.now.Add(time.Hour))
		s.Require().NoError(err)
		s.Equal(model.RequestApproved, approved.Status)
		s.Equal(e.ID, approved.EntityID)
		s.True(approved.UpdatedAt.Equal(s.now.Add(time.Hour)))

		got, err := s.store.GetEntity(s.ctx, e.Ref())
		s.Require().NoError(err)
		s.Equal([]string{"alice"}, got.Roster)

		active, err := s.store.FindActive(s.ctx, "alice", e.Ref())
		s.Require().NoError(err)
		s.Require().NotNil(active)
		s.Equal(seed.ID, active.ID)
	})

	s.Run("second approval is already_processed and creates nothing", func() {
		req := s.newRequest("bob", "Quiz")
		s.Require().NoError(s.store.CreateRequest(s.ctx, req))
		e, seed := s.entityFor(req)
		_, err := s.store.ApproveRequest(s.ctx, req.ID, e, seed, s.now)
		s.Require().NoError(err)

		again, seedAgain := s.entityFor(req)
		_, err = s.store.ApproveRequest(s.ctx, req.ID, again, seedAgain, s.now)
		s.ErrorIs(err, model.ErrAlreadyProcessed)

		_, err = s.store.GetEntity(s.ctx, again.Ref())
		s.ErrorIs(err, model.ErrNotFound)
	})

	s.Run("rejected request cannot be approved", func() {
		req := s.newRequest("carol", "Karaoke")
		s.Require().NoError(s.store.CreateRequest(s.ctx, req))
		_, err := s.store.RejectRequest(s.ctx, req.ID, "noise", s.now)
		s.Require().NoError(err)

		e, seed := s.entityFor(req)
		_, err = s.store.ApproveRequest(s.ctx, req.ID, e, seed, s.now)
		s.ErrorIs(err, model.ErrAlreadyProcessed)
	})

	s.Run("unknown request is not_found", func() {
		req := s.newRequest("dave", "Ghost")
		e, seed := s.entityFor(req)
		_, err := s.store.ApproveRequest(s.ctx, req.ID, e, seed, s.now)
		s.ErrorIs(err, model.ErrNotFound)

		_, err = s.store.GetEntity(s.ctx, e.Ref())
		s.ErrorIs(err, model.ErrNotFound)
	})
}

func (s *storeSuite) TestConcurrentApprovalSucceedsOnce() {
	req := s.newRequest("alice", "Astronomy")
	s.Require().NoError(s.store.CreateRequest(s.ctx, req))

	var wg sync.WaitGroup
	var ok, processed atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, seed := s.entityFor(req)
			_, err := s.store.ApproveRequest(s.ctx, req.ID, e, seed, s.now)
			switch {
			case err == nil:
				ok.Add(1)
			case model.KindOf(err) == model.KindAlreadyProcessed:
				processed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), ok.Load())
	s.Equal(int32(7), processed.Load())

	events, err := s.store.ListEntities(s.ctx, model.KindEvent)
	s.Require().NoError(err)
	count := 0
	for _, e := range events {
		if e.Title == "Astronomy" {
			count++
		}
	}
	s.Equal(1, count)
}

func (s *storeSuite) TestRejectRequest() {
	req := s.newRequest("alice", "Debate")
	s.Require().NoError(s.store.CreateRequest(s.ctx, req))

	rejected, err := s.store.RejectRequest(s.ctx, req.ID, "already exists", s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(model.RequestRejected, rejected.Status)
	s.Equal("already exists", rejected.RejectionReason)
	s.True(rejected.UpdatedAt.Equal(s.now.Add(time.Minute)))

	_, err = s.store.RejectRequest(s.ctx, req.ID, "again", s.now)
	s.ErrorIs(err, model.ErrAlreadyProcessed)

	_, err = s.store.RejectRequest(s.ctx, uuid.NewString(), "nope", s.now)
	s.ErrorIs(err, model.ErrNotFound)
}
