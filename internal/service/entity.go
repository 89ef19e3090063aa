package service

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/repository"
)

const (
	maxCapacity    = 100_000
	maxTitleLength = 200
)

// EntityService manages clubs and events and the moderation requests that
// create them.
type EntityService struct {
	store repository.Catalog
	opts  options
}

// NewEntityService constructs an EntityService.
func NewEntityService(store repository.Catalog, opts ...Option) *EntityService {
	return &EntityService{store: store, opts: buildOptions(opts)}
}

// CreateEntity validates req and persists a new club or event. When
// req.CreatorID is set the creator is seeded as the first active
// registration, occupying one seat.
func (s *EntityService) CreateEntity(ctx context.Context, req model.CreateEntityRequest) (e *model.Entity, err error) {
	ctx, span := startSpan(ctx, s.opts, "EntityService.CreateEntity",
		attribute.String("entity.kind", string(req.Kind)))
	defer func() { endSpan(span, err) }()

	now := s.opts.now()
	if err := validateCreate(&req, now); err != nil {
		return nil, err
	}

	e, seed := s.buildEntity(req, now)
	if err := s.store.CreateEntity(ctx, e, seed); err != nil {
		if model.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create %s: %w", req.Kind, err)
	}

	s.opts.log.InfoContext(ctx, "entity created",
		"entity", e.Ref().String(), "capacity", e.Capacity, "creator_id", e.CreatorID)
	return e, nil
}

// buildEntity turns a validated request into a new entity and, when it names
// a creator, the creator's seed registration.
func (s *EntityService) buildEntity(req model.CreateEntityRequest, now time.Time) (*model.Entity, *model.Registration) {
	e := &model.Entity{
		ID:             s.opts.newID(),
		Kind:           req.Kind,
		Title:          req.Title,
		Description:    req.Description,
		Capacity:       req.Capacity,
		Roster:         []string{},
		ScheduledStart: req.ScheduledStart,
		IsActive:       true,
		Format:         req.Format,
		OnlineLink:     req.OnlineLink,
		Address:        req.Address,
		CreatorID:      req.CreatorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	var seed *model.Registration
	if req.CreatorID != "" {
		e.Roster = append(e.Roster, req.CreatorID)
		seed = model.NewRegistration(s.opts.newID(), req.CreatorID, e.Ref(), now)
	}
	return e, seed
}

// Deactivate hides an entity from new registrations. Existing registrations
// are untouched.
func (s *EntityService) Deactivate(ctx context.Context, ref model.EntityRef) (*model.Entity, error) {
	return s.setActive(ctx, ref, false)
}

// Reactivate reopens a deactivated entity for registration.
func (s *EntityService) Reactivate(ctx context.Context, ref model.EntityRef) (*model.Entity, error) {
	return s.setActive(ctx, ref, true)
}

func (s *EntityService) setActive(ctx context.Context, ref model.EntityRef, active bool) (*model.Entity, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	e, err := s.store.SetActive(ctx, ref, active, s.opts.now())
	if err != nil {
		if model.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("set %s active=%t: %w", ref, active, err)
	}
	s.opts.log.InfoContext(ctx, "entity activation changed", "entity", ref.String(), "is_active", active)
	return e, nil
}

// Get returns a single club or event.
func (s *EntityService) Get(ctx context.Context, ref model.EntityRef) (*model.Entity, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	e, err := s.store.GetEntity(ctx, ref)
	if err != nil {
		if model.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	return e, nil
}

// List returns every entity of kind, newest first.
func (s *EntityService) List(ctx context.Context, kind model.EntityKind) ([]model.Entity, error) {
	if !kind.Valid() {
		return nil, model.NewError(model.KindInvalid, "unknown entity kind %q", kind)
	}
	entities, err := s.store.ListEntities(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", kind, err)
	}
	return entities, nil
}

func validateCreate(req *model.CreateEntityRequest, now time.Time) error {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.CreatorID = strings.TrimSpace(req.CreatorID)
	req.OnlineLink = strings.TrimSpace(req.OnlineLink)
	req.Address = strings.TrimSpace(req.Address)

	if !req.Kind.Valid() {
		return model.NewError(model.KindInvalid, "kind must be club or event")
	}
	if req.Title == "" {
		return model.NewError(model.KindInvalid, "title is required")
	}
	if !govalidator.StringLength(req.Title, "1", strconv.Itoa(maxTitleLength)) {
		return model.NewError(model.KindInvalid, "title cannot exceed %d characters", maxTitleLength)
	}
	if req.Capacity <= 0 {
		return model.NewError(model.KindInvalid, "capacity must be a positive integer")
	}
	if req.Capacity > maxCapacity {
		return model.NewError(model.KindInvalid, "capacity cannot exceed 100,000")
	}
	if req.ScheduledStart.IsZero() {
		return model.NewError(model.KindInvalid, "scheduled_start is required")
	}
	if !req.ScheduledStart.After(now) {
		return model.NewError(model.KindInvalid, "scheduled_start must be in the future")
	}

	switch req.Format {
	case "":
		req.Format = model.FormatOffline
	case model.FormatOnline, model.FormatOffline:
	default:
		return model.NewError(model.KindInvalid, "format must be online or offline")
	}
	if req.OnlineLink != "" && !isValidLink(req.OnlineLink) {
		return model.NewError(model.KindInvalid, "online_link is not a valid URL")
	}
	return nil
}

// isValidLink accepts absolute http(s) URLs whose host is a DNS name or an IP
// and whose port, if any, is in range.
func isValidLink(raw string) bool {
	if !govalidator.IsURL(raw) || !govalidator.IsRequestURL(raw) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if !govalidator.IsDNSName(host) && !govalidator.IsIP(host) {
		return false
	}
	if p := u.Port(); p != "" && !govalidator.IsPort(p) {
		return false
	}
	// url.Parse keeps a trailing colon with an empty port.
	if _, port, err := net.SplitHostPort(u.Host); err == nil && port == "" {
		return false
	}
	return true
}

// validReason reports whether reason fits within max characters.
func validReason(reason string, max int) bool {
	return govalidator.StringLength(reason, "0", strconv.Itoa(max))
}
