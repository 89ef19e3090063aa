package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
)

// Submit records a member's proposal for a new club or event. A user cannot
// hold two pending or approved requests with the same title.
func (s *EntityService) Submit(ctx context.Context, who model.Identity, sub model.SubmitRequest) (req *model.EntityRequest, err error) {
	ctx, span := startSpan(ctx, s.opts, "EntityService.Submit",
		attribute.String("entity.kind", string(sub.Kind)))
	defer func() { endSpan(span, err) }()

	if err := requireIdentity(who); err != nil {
		return nil, err
	}

	now := s.opts.now()
	draft := model.CreateEntityRequest{
		Kind:           sub.Kind,
		Title:          sub.Title,
		Description:    sub.Description,
		Capacity:       sub.Capacity,
		ScheduledStart: sub.ScheduledStart,
		Format:         sub.Format,
		OnlineLink:     sub.OnlineLink,
		Address:        sub.Address,
		CreatorID:      who.UserID,
	}
	if err := validateCreate(&draft, now); err != nil {
		return nil, err
	}

	req = &model.EntityRequest{
		ID:             s.opts.newID(),
		UserID:         who.UserID,
		Kind:           draft.Kind,
		Title:          draft.Title,
		Description:    draft.Description,
		Capacity:       draft.Capacity,
		ScheduledStart: draft.ScheduledStart,
		Format:         draft.Format,
		OnlineLink:     draft.OnlineLink,
		Address:        draft.Address,
		Status:         model.RequestPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		if model.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("submit request: %w", err)
	}

	s.opts.log.InfoContext(ctx, "request submitted",
		"request_id", req.ID, "user_id", who.UserID, "kind", req.Kind, "title", req.Title)
	return req, nil
}

// MyRequests lists the caller's requests, newest first.
func (s *EntityService) MyRequests(ctx context.Context, who model.Identity) ([]model.EntityRequest, error) {
	if err := requireIdentity(who); err != nil {
		return nil, err
	}
	reqs, err := s.store.ListRequestsByUser(ctx, who.UserID)
	if err != nil {
		return nil, fmt.Errorf("list requests for %s: %w", who.UserID, err)
	}
	return reqs, nil
}

// GetRequest returns one request. Members only see their own; another
// member's request reads as not found.
func (s *EntityService) GetRequest(ctx context.Context, who model.Identity, id string) (*model.EntityRequest, error) {
	if err := requireIdentity(who); err != nil {
		return nil, err
	}
	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != who.UserID && !who.IsAdmin() {
		return nil, model.NewError(model.KindNotFound, "request not found")
	}
	return req, nil
}

// Requests lists requests in status for moderators, newest first.
func (s *EntityService) Requests(ctx context.Context, status model.RequestStatus) ([]model.EntityRequest, error) {
	if !status.Valid() {
		return nil, model.NewError(model.KindInvalid, "status must be pending, approved or rejected")
	}
	reqs, err := s.store.ListRequestsByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list %s requests: %w", status, err)
	}
	return reqs, nil
}

// PendingRequests lists requests awaiting moderation.
func (s *EntityService) PendingRequests(ctx context.Context) ([]model.EntityRequest, error) {
	return s.Requests(ctx, model.RequestPending)
}

// Approve creates the requested entity with the requester seated and marks
// the request approved, in one store transaction. A request that is no
// longer pending fails with already_processed.
func (s *EntityService) Approve(ctx context.Context, id string) (a *model.Approval, err error) {
	ctx, span := startSpan(ctx, s.opts, "EntityService.Approve", attribute.String("request.id", id))
	defer func() { endSpan(span, err) }()

	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != model.RequestPending {
		return nil, model.ErrAlreadyProcessed
	}

	now := s.opts.now()
	draft := req.EntityDraft()
	if err := validateCreate(&draft, now); err != nil {
		return nil, err
	}
	e, seed := s.buildEntity(draft, now)

	approved, err := s.store.ApproveRequest(ctx, id, e, seed, now)
	if err != nil {
		if model.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("approve request %s: %w", id, err)
	}

	s.opts.log.InfoContext(ctx, "request approved",
		"request_id", id, "entity", e.Ref().String(), "creator_id", e.CreatorID)
	return &model.Approval{Request: approved, Entity: e}, nil
}

// Reject closes a pending request with a reason shown to the requester.
func (s *EntityService) Reject(ctx context.Context, id, reason string) (req *model.EntityRequest, err error) {
	ctx, span := startSpan(ctx, s.opts, "EntityService.Reject", attribute.String("request.id", id))
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, model.NewError(model.KindInvalid, "rejection reason is required")
	}
	if !validReason(reason, maxReasonLength) {
		return nil, model.NewError(model.KindInvalid, "reason cannot exceed %d characters", maxReasonLength)
	}
	if strings.TrimSpace(id) == "" {
		return nil, model.NewError(model.KindInvalid, "request id is required")
	}

	req, err = s.store.RejectRequest(ctx, id, reason, s.opts.now())
	if err != nil {
		if model.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("reject request %s: %w", id, err)
	}

	s.opts.log.InfoContext(ctx, "request rejected", "request_id", id)
	return req, nil
}

func (s *EntityService) loadRequest(ctx context.Context, id string) (*model.EntityRequest, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.NewError(model.KindInvalid, "request id is required")
	}
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		if model.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return req, nil
}
