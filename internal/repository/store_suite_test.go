package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/policy"
)

// storeSuite is run against every backend. newStore returns a fresh, empty
// store for each test.
type storeSuite struct {
	suite.Suite
	newStore func() Store
	store    Store
	ctx      context.Context
	now      time.Time
	cancel   policy.Cancellation
}

func (s *storeSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.cancel = policy.NewCancellation(policy.DefaultWindow)
}

func (s *storeSuite) seedEntity(kind model.EntityKind, capacity int, startIn time.Duration) *model.Entity {
	e := &model.Entity{
		ID:             uuid.NewString(),
		Kind:           kind,
		Title:          "Dune, part one",
		Capacity:       capacity,
		Roster:         []string{},
		ScheduledStart: s.now.Add(startIn),
		IsActive:       true,
		Format:         model.FormatOnline,
		OnlineLink:     "https://meet.example.com/dune",
		CreatedAt:      s.now,
		UpdatedAt:      s.now,
	}
	s.Require().NoError(s.store.CreateEntity(s.ctx, e, nil))
	return e
}

func (s *storeSuite) book(userID string, ref model.EntityRef) (*model.Registration, error) {
	return s.store.Book(s.ctx, BookRequest{
		RegistrationID: uuid.NewString(),
		UserID:         userID,
		Ref:            ref,
		Now:            s.now,
	})
}

func (s *storeSuite) cancelReg(regID, userID string, at time.Time) (*model.Registration, error) {
	return s.store.Cancel(s.ctx, CancelRequest{
		RegistrationID: regID,
		UserID:         userID,
		Reason:         "schedule conflict",
		Now:            at,
		Policy:         s.cancel,
	})
}

func (s *storeSuite) TestBook() {
	s.Run("admits and appends to roster", func() {
		club := s.seedEntity(model.KindClub, 3, 48*time.Hour)

		reg, err := s.book("alice", club.Ref())
		s.Require().NoError(err)
		s.Equal(model.StatusActive, reg.Status)
		s.Equal(club.ID, reg.ClubID)
		s.Empty(reg.EventID)
		s.Require().NotNil(reg.Entity)
		s.Equal([]string{"alice"}, reg.Entity.Roster)

		got, err := s.store.GetEntity(s.ctx, club.Ref())
		s.Require().NoError(err)
		s.Equal([]string{"alice"}, got.Roster)
		s.Equal(2, got.Remaining())
	})

	s.Run("unknown entity is not_found", func() {
		_, err := s.book("alice", model.EventRef(uuid.NewString()))
		s.ErrorIs(err, model.ErrNotFound)
	})

	s.Run("kind mismatch is not_found", func() {
		club := s.seedEntity(model.KindClub, 3, 48*time.Hour)
		_, err := s.book("alice", model.EventRef(club.ID))
		s.ErrorIs(err, model.ErrNotFound)
	})

	s.Run("inactive entity is rejected", func() {
		ev := s.seedEntity(model.KindEvent, 3, 48*time.Hour)
		_, err := s.store.SetActive(s.ctx, ev.Ref(), false, s.now)
		s.Require().NoError(err)

		_, err = s.book("alice", ev.Ref())
		s.ErrorIs(err, model.ErrInactive)
	})

	s.Run("started entity is rejected", func() {
		ev := s.seedEntity(model.KindEvent, 3, -time.Minute)
		_, err := s.book("alice", ev.Ref())
		s.ErrorIs(err, model.ErrAlreadyStarted)
	})

	s.Run("second booking by same user is a duplicate", func() {
		club := s.seedEntity(model.KindClub, 3, 48*time.Hour)
		_, err := s.book("alice", club.Ref())
		s.Require().NoError(err)

		_, err = s.book("alice", club.Ref())
		s.ErrorIs(err, model.ErrDuplicateRegistration)
	})

	s.Run("full entity is rejected", func() {
		club := s.seedEntity(model.KindClub, 1, 48*time.Hour)
		_, err := s.book("alice", club.Ref())
		s.Require().NoError(err)

		_, err = s.book("bob", club.Ref())
		s.ErrorIs(err, model.ErrCapacityExceeded)
		s.Contains(err.Error(), "reading club is full")
	})
}

func (s *storeSuite) TestConcurrentBookingNeverOverbooks() {
	const capacity = 5
	const attempts = 40
	ev := s.seedEntity(model.KindEvent, capacity, 48*time.Hour)

	var wg sync.WaitGroup
	var admitted, full, other atomic.Int32
	for i := range attempts {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.book(fmt.Sprintf("user-%d", n), ev.Ref())
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, model.ErrCapacityExceeded):
				full.Add(1)
			default:
				other.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(capacity), admitted.Load())
	s.Equal(int32(attempts-capacity), full.Load())
	s.Zero(other.Load())

	got, err := s.store.GetEntity(s.ctx, ev.Ref())
	s.Require().NoError(err)
	s.Len(got.Roster, capacity)

	drift, err := s.store.RosterDrift(s.ctx)
	s.Require().NoError(err)
	s.Empty(drift)
}

func (s *storeSuite) TestConcurrentDuplicateBooking() {
	club := s.seedEntity(model.KindClub, 10, 48*time.Hour)

	var wg sync.WaitGroup
	var admitted, dup atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.book("alice", club.Ref())
			if err == nil {
				admitted.Add(1)
			} else if errors.Is(err, model.ErrDuplicateRegistration) {
				dup.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), admitted.Load())
	s.Equal(int32(19), dup.Load())

	got, err := s.store.GetEntity(s.ctx, club.Ref())
	s.Require().NoError(err)
	s.Equal([]string{"alice"}, got.Roster)
}

func (s *storeSuite) TestCancel() {
	s.Run("frees the seat and records the reason", func() {
		club := s.seedEntity(model.KindClub, 1, 72*time.Hour)
		reg, err := s.book("alice", club.Ref())
		s.Require().NoError(err)

		cancelled, err := s.cancelReg(reg.ID, "alice", s.now.Add(time.Hour))
		s.Require().NoError(err)
		s.Equal(model.StatusCancelled, cancelled.Status)
		s.Require().NotNil(cancelled.CancelledAt)
		s.True(cancelled.CancelledAt.Equal(s.now.Add(time.Hour)))
		s.Equal("schedule conflict", cancelled.CancellationReason)
		s.Require().NotNil(cancelled.Entity)
		s.Empty(cancelled.Entity.Roster)

		_, err = s.book("bob", club.Ref())
		s.NoError(err, "freed seat should be available")
	})

	s.Run("user may re-register after cancelling", func() {
		club := s.seedEntity(model.KindClub, 2, 72*time.Hour)
		reg, err := s.book("alice", club.Ref())
		s.Require().NoError(err)
		_, err = s.cancelReg(reg.ID, "alice", s.now)
		s.Require().NoError(err)

		again, err := s.book("alice", club.Ref())
		s.Require().NoError(err)
		s.NotEqual(reg.ID, again.ID)

		active, err := s.store.FindActive(s.ctx, "alice", club.Ref())
		s.Require().NoError(err)
		s.Require().NotNil(active)
		s.Equal(again.ID, active.ID)
	})

	s.Run("second cancel is already_cancelled", func() {
		club := s.seedEntity(model.KindClub, 2, 72*time.Hour)
		reg, err := s.book("alice", club.Ref())
		s.Require().NoError(err)
		_, err = s.cancelReg(reg.ID, "alice", s.now)
		s.Require().NoError(err)

		_, err = s.cancelReg(reg.ID, "alice", s.now)
		s.ErrorIs(err, model.ErrAlreadyCancelled)
	})

	s.Run("other user is unauthorized", func() {
		club := s.seedEntity(model.KindClub, 2, 72*time.Hour)
		reg, err := s.book("alice", club.Ref())
		s.Require().NoError(err)

		_, err = s.cancelReg(reg.ID, "mallory", s.now)
		s.ErrorIs(err, model.ErrUnauthorized)

		got, err := s.store.GetRegistration(s.ctx, reg.ID)
		s.Require().NoError(err)
		s.True(got.IsActive())
	})

	s.Run("within the window is refused", func() {
		ev := s.seedEntity(model.KindEvent, 2, 2*time.Hour)
		reg, err := s.book("alice", ev.Ref())
		s.Require().NoError(err)

		_, err = s.cancelReg(reg.ID, "alice", s.now)
		s.ErrorIs(err, model.ErrWithinDeadline)

		got, err := s.store.GetEntity(s.ctx, ev.Ref())
		s.Require().NoError(err)
		s.Equal([]string{"alice"}, got.Roster)
	})

	s.Run("unknown registration is not_found", func() {
		_, err := s.cancelReg(uuid.NewString(), "alice", s.now)
		s.ErrorIs(err, model.ErrNotFound)
	})
}

func (s *storeSuite) TestConcurrentCancelSucceedsOnce() {
	club := s.seedEntity(model.KindClub, 2, 72*time.Hour)
	reg, err := s.book("alice", club.Ref())
	s.Require().NoError(err)

	var wg sync.WaitGroup
	var ok, already atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.cancelReg(reg.ID, "alice", s.now)
			if err == nil {
				ok.Add(1)
			} else if errors.Is(err, model.ErrAlreadyCancelled) {
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), ok.Load())
	s.Equal(int32(9), already.Load())
}

func (s *storeSuite) TestCreateEntityWithSeed() {
	e := &model.Entity{
		ID:             uuid.NewString(),
		Kind:           model.KindEvent,
		Title:          "Poetry night",
		Capacity:       4,
		Roster:         []string{"host"},
		ScheduledStart: s.now.Add(96 * time.Hour),
		IsActive:       true,
		Format:         model.FormatOffline,
		Address:        "12 Library Lane",
		CreatorID:      "host",
		CreatedAt:      s.now,
		UpdatedAt:      s.now,
	}
	seed := model.NewRegistration(uuid.NewString(), "host", e.Ref(), s.now)
	s.Require().NoError(s.store.CreateEntity(s.ctx, e, seed))

	got, err := s.store.GetEntity(s.ctx, e.Ref())
	s.Require().NoError(err)
	s.Equal([]string{"host"}, got.Roster)
	s.Equal("12 Library Lane", got.Address)
	s.True(got.ScheduledStart.Equal(e.ScheduledStart))

	active, err := s.store.FindActive(s.ctx, "host", e.Ref())
	s.Require().NoError(err)
	s.Require().NotNil(active)
	s.Equal(seed.ID, active.ID)

	_, err = s.book("host", e.Ref())
	s.ErrorIs(err, model.ErrDuplicateRegistration)

	drift, err := s.store.RosterDrift(s.ctx)
	s.Require().NoError(err)
	s.Empty(drift)
}

func (s *storeSuite) TestReads() {
	s.Run("FindActive returns nil when absent", func() {
		club := s.seedEntity(model.KindClub, 2, 48*time.Hour)
		reg, err := s.store.FindActive(s.ctx, "nobody", club.Ref())
		s.NoError(err)
		s.Nil(reg)
	})

	s.Run("ListByUser is newest first with entity snapshots", func() {
		first := s.seedEntity(model.KindClub, 2, 48*time.Hour)
		second := s.seedEntity(model.KindEvent, 2, 48*time.Hour)

		_, err := s.book("carol", first.Ref())
		s.Require().NoError(err)
		later := s.now.Add(time.Minute)
		_, err = s.store.Book(s.ctx, BookRequest{
			RegistrationID: uuid.NewString(), UserID: "carol", Ref: second.Ref(), Now: later,
		})
		s.Require().NoError(err)

		regs, err := s.store.ListByUser(s.ctx, "carol")
		s.Require().NoError(err)
		s.Require().Len(regs, 2)
		s.Equal(second.ID, regs[0].EventID)
		s.Equal(first.ID, regs[1].ClubID)
		s.Require().NotNil(regs[0].Entity)
		s.Equal(second.Title, regs[0].Entity.Title)
	})

	s.Run("ListByUser for unknown user is empty", func() {
		regs, err := s.store.ListByUser(s.ctx, "ghost")
		s.NoError(err)
		s.Empty(regs)
	})

	s.Run("ListEntities filters by kind", func() {
		club := s.seedEntity(model.KindClub, 2, 48*time.Hour)
		clubs, err := s.store.ListEntities(s.ctx, model.KindClub)
		s.Require().NoError(err)
		var found bool
		for _, c := range clubs {
			s.Equal(model.KindClub, c.Kind)
			found = found || c.ID == club.ID
		}
		s.True(found)
	})

	s.Run("SetActive on unknown entity is not_found", func() {
		_, err := s.store.SetActive(s.ctx, model.ClubRef(uuid.NewString()), false, s.now)
		s.ErrorIs(err, model.ErrNotFound)
	})
}

func (s *storeSuite) TestConcurrentMixedBookAndCancel() {
	const capacity = 3
	const workers = 16
	const opsPerWorker = 40
	ev := s.seedEntity(model.KindEvent, capacity, 30*24*time.Hour)
	users := []string{"u0", "u1", "u2", "u3", "u4"}

	var wg sync.WaitGroup
	var unexpected atomic.Int32
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for op := range opsPerWorker {
				user := users[(w+op)%len(users)]
				var err error
				if (w+op)%2 == 0 {
					_, err = s.book(user, ev.Ref())
				} else {
					var active *model.Registration
					active, err = s.store.FindActive(s.ctx, user, ev.Ref())
					if err == nil && active != nil {
						_, err = s.cancelReg(active.ID, user, s.now)
					}
				}
				switch {
				case err == nil,
					errors.Is(err, model.ErrDuplicateRegistration),
					errors.Is(err, model.ErrCapacityExceeded),
					errors.Is(err, model.ErrAlreadyCancelled),
					errors.Is(err, model.ErrNotFound):
				default:
					unexpected.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()
	s.Zero(unexpected.Load())

	got, err := s.store.GetEntity(s.ctx, ev.Ref())
	s.Require().NoError(err)
	s.LessOrEqual(len(got.Roster), capacity)

	drift, err := s.store.RosterDrift(s.ctx)
	s.Require().NoError(err)
	s.Empty(drift)

	var activeUsers []string
	for _, u := range users {
		regs, err := s.store.ListByUser(s.ctx, u)
		s.Require().NoError(err)
		active := 0
		for _, r := range regs {
			if r.IsActive() {
				active++
			}
		}
		s.LessOrEqual(active, 1, "user %s holds more than one active registration", u)
		if active == 1 {
			activeUsers = append(activeUsers, u)
		}
	}
	s.ElementsMatch(activeUsers, got.Roster)
}

func (s *storeSuite) TestConcurrentCancelThenRegisterSameUser() {
	club := s.seedEntity(model.KindClub, 4, 30*24*time.Hour)
	_, err := s.book("alice", club.Ref())
	s.Require().NoError(err)

	var wg sync.WaitGroup
	var unexpected atomic.Int32
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			active, err := s.store.FindActive(s.ctx, "alice", club.Ref())
			if err != nil {
				unexpected.Add(1)
				return
			}
			if active != nil {
				if _, err := s.cancelReg(active.ID, "alice", s.now); err != nil && !errors.Is(err, model.ErrAlreadyCancelled) {
					unexpected.Add(1)
				}
			}
			if _, err := s.book("alice", club.Ref()); err != nil && !errors.Is(err, model.ErrDuplicateRegistration) {
				unexpected.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Zero(unexpected.Load())

	regs, err := s.store.ListByUser(s.ctx, "alice")
	s.Require().NoError(err)
	active := 0
	for _, r := range regs {
		if r.IsActive() {
			active++
		}
	}
	s.Equal(1, active)

	got, err := s.store.GetEntity(s.ctx, club.Ref())
	s.Require().NoError(err)
	s.Equal([]string{"alice"}, got.Roster)

	drift, err := s.store.RosterDrift(s.ctx)
	s.Require().NoError(err)
	s.Empty(drift)
}
