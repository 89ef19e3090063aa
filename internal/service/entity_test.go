package service

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/club-registration/internal/logger"
	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/repository"
)

func newEntityService(t *testing.T, now time.Time) (*EntityService, *repository.MemoryStore) {
	t.Helper()
	return newEntityServiceOn(t, repository.NewMemoryStore(), now)
}

func newEntityServiceOn(t *testing.T, store *repository.MemoryStore, now time.Time) (*EntityService, *repository.MemoryStore) {
	t.Helper()
	var n atomic.Int64
	svc := NewEntityService(store,
		WithClock(func() time.Time { return now }),
		WithLogger(logger.Discard()),
		WithIDGenerator(func() string {
			return "id-" + strconv.FormatInt(n.Add(1), 10)
		}),
	)
	return svc, store
}

func TestCreateEntityValidation(t *testing.T) {
	now := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	valid := func() model.CreateEntityRequest {
		return model.CreateEntityRequest{
			Kind:           model.KindEvent,
			Title:          "Poetry night",
			Capacity:       30,
			ScheduledStart: now.Add(7 * 24 * time.Hour),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*model.CreateEntityRequest)
		wantMsg string
	}{
		{"unknown kind", func(r *model.CreateEntityRequest) { r.Kind = "meetup" }, "kind must be club or event"},
		{"blank title", func(r *model.CreateEntityRequest) { r.Title = "   " }, "title is required"},
		{"zero capacity", func(r *model.CreateEntityRequest) { r.Capacity = 0 }, "capacity must be a positive integer"},
		{"huge capacity", func(r *model.CreateEntityRequest) { r.Capacity = 100_001 }, "capacity cannot exceed"},
		{"missing start", func(r *model.CreateEntityRequest) { r.ScheduledStart = time.Time{} }, "scheduled_start is required"},
		{"past start", func(r *model.CreateEntityRequest) { r.ScheduledStart = now.Add(-time.Hour) }, "must be in the future"},
		{"bad format", func(r *model.CreateEntityRequest) { r.Format = "hybrid" }, "format must be online or offline"},
		{"bad link", func(r *model.CreateEntityRequest) { r.OnlineLink = "zoom meeting" }, "online_link is not a valid URL"},
		{"long title", func(r *model.CreateEntityRequest) { r.Title = strings.Repeat("a", 201) }, "title cannot exceed 200 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newEntityService(t, now)
			req := valid()
			tt.mutate(&req)
			_, err := svc.CreateEntity(context.Background(), req)
			require.ErrorIs(t, err, model.ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCreateEntity(t *testing.T) {
	now := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("defaults and trims", func(t *testing.T) {
		svc, _ := newEntityService(t, now)
		e, err := svc.CreateEntity(ctx, model.CreateEntityRequest{
			Kind:           model.KindClub,
			Title:          "  Slow readers  ",
			Capacity:       12,
			ScheduledStart: now.Add(48 * time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, "id-1", e.ID)
		assert.Equal(t, "Slow readers", e.Title)
		assert.Equal(t, model.FormatOffline, e.Format)
		assert.True(t, e.IsActive)
		assert.Empty(t, e.Roster)
		assert.Equal(t, now, e.CreatedAt)
	})

	t.Run("seeds the creator", func(t *testing.T) {
		svc, store := newEntityService(t, now)
		e, err := svc.CreateEntity(ctx, model.CreateEntityRequest{
			Kind:           model.KindEvent,
			Title:          "Author talk",
			Capacity:       2,
			ScheduledStart: now.Add(48 * time.Hour),
			Format:         model.FormatOnline,
			OnlineLink:     "https://meet.example.com/talk",
			CreatorID:      "organizer",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"organizer"}, e.Roster)
		assert.Equal(t, 1, e.Remaining())

		reg, err := store.FindActive(ctx, "organizer", e.Ref())
		require.NoError(t, err)
		require.NotNil(t, reg)
		assert.Equal(t, "id-2", reg.ID)
		assert.Equal(t, e.ID, reg.EventID)

		drift, err := store.RosterDrift(ctx)
		require.NoError(t, err)
		assert.Empty(t, drift)
	})
}

func TestEntityActivation(t *testing.T) {
	now := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	ctx := context.Background()
	svc, _ := newEntityService(t, now)

	e, err := svc.CreateEntity(ctx, model.CreateEntityRequest{
		Kind:           model.KindClub,
		Title:          "Sci-fi circle",
		Capacity:       8,
		ScheduledStart: now.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	got, err := svc.Deactivate(ctx, e.Ref())
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	got, err = svc.Reactivate(ctx, e.Ref())
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	_, err = svc.Deactivate(ctx, model.EventRef(e.ID))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = svc.Get(ctx, model.ClubRef(" "))
	assert.ErrorIs(t, err, model.ErrInvalid)

	clubs, err := svc.List(ctx, model.KindClub)
	require.NoError(t, err)
	assert.Len(t, clubs, 1)

	events, err := svc.List(ctx, model.KindEvent)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = svc.List(ctx, "workshop")
	assert.ErrorIs(t, err, model.ErrInvalid)
}

func TestIsValidLink(t *testing.T) {
	tests := []struct {
		link string
		want bool
	}{
		{"https://meet.example.com/dune", true},
		{"http://zoom.us/j/123?pwd=abc", true},
		{"https://example.com:8443/room", true},
		{"https://10.0.0.5/stream", true},
		{"https://..", false},
		{"http://a_b!c", false},
		{"https://example.com:99999/x", false},
		{"https://-/", false},
		{"https://example.com:/x", false},
		{"ftp://files.example.com/a", false},
		{"meet.example.com/dune", false},
		{"zoom meeting", false},
	}
	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			assert.Equal(t, tt.want, isValidLink(tt.link))
		})
	}
}

func TestTitleLengthCountsCharacters(t *testing.T) {
	now := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	svc, _ := newEntityService(t, now)

	// 200 two-byte runes is 400 bytes but within the limit.
	e, err := svc.CreateEntity(context.Background(), model.CreateEntityRequest{
		Kind:           model.KindClub,
		Title:          strings.Repeat("é", 200),
		Capacity:       5,
		ScheduledStart: now.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 200, len([]rune(e.Title)))
}
