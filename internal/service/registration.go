package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/notify"
	"github.com/Shivanand-hulikatti/club-registration/internal/policy"
	"github.com/Shivanand-hulikatti/club-registration/internal/repository"
)

const maxReasonLength = 500

// RegistrationService orchestrates registering, cancelling and the ledger
// queries. The capacity guard itself lives in the store; this layer
// authenticates, validates, records outcomes and notifies after commit.
type RegistrationService struct {
	store    repository.Store
	policy   policy.Cancellation
	notifier notify.Notifier
	opts     options
}

// NewRegistrationService constructs a RegistrationService. A nil notifier
// disables notifications.
func NewRegistrationService(store repository.Store, cancellation policy.Cancellation, notifier notify.Notifier, opts ...Option) *RegistrationService {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &RegistrationService{
		store:    store,
		policy:   cancellation,
		notifier: notifier,
		opts:     buildOptions(opts),
	}
}

// Register reserves a seat for the caller on ref. On success the roster and
// the ledger both reflect the registration; on any failure neither changed.
func (s *RegistrationService) Register(ctx context.Context, who model.Identity, ref model.EntityRef) (reg *model.Registration, err error) {
	ctx, span := startSpan(ctx, s.opts, "RegistrationService.Register",
		attribute.String("entity.kind", string(ref.Kind)),
		attribute.String("entity.id", ref.ID),
	)
	defer func() {
		s.opts.metrics.ObserveRegistration(string(ref.Kind), outcome(err))
		endSpan(span, err)
	}()

	if err := requireIdentity(who); err != nil {
		return nil, err
	}
	if err := validateRef(ref); err != nil {
		return nil, err
	}

	now, began := s.opts.now(), time.Now()
	reg, err = s.store.Book(ctx, repository.BookRequest{
		RegistrationID: s.opts.newID(),
		UserID:         who.UserID,
		Ref:            ref,
		Now:            now,
	})
	s.opts.metrics.ObserveGuarded("book", began)
	if err != nil {
		if model.IsDomain(err) {
			s.opts.log.InfoContext(ctx, "registration rejected",
				"user_id", who.UserID, "entity", ref.String(), "error_kind", model.KindOf(err))
			return nil, err
		}
		s.opts.log.ErrorContext(ctx, "registration failed", "user_id", who.UserID, "entity", ref.String(), "error", err)
		return nil, fmt.Errorf("register for %s: %w", ref, err)
	}

	s.opts.log.InfoContext(ctx, "registration created",
		"registration_id", reg.ID, "user_id", who.UserID, "entity", ref.String())
	s.notifier.Notify(ctx, notify.NewMessage(s.opts.newID(), notify.TypeRegistrationConfirmed, who, reg, now))
	return reg, nil
}

// CanCancel reports whether the caller could cancel registrationID right now.
// A missing registration or one owned by somebody else is an error; every
// other refusal is a decision with a reason.
func (s *RegistrationService) CanCancel(ctx context.Context, who model.Identity, registrationID string) (model.CancelDecision, error) {
	ctx, span := startSpan(ctx, s.opts, "RegistrationService.CanCancel",
		attribute.String("registration.id", registrationID))
	var err error
	defer func() { endSpan(span, err) }()

	if err = requireIdentity(who); err != nil {
		return model.CancelDecision{}, err
	}
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		if !model.IsDomain(err) {
			err = fmt.Errorf("get registration: %w", err)
		}
		return model.CancelDecision{}, err
	}
	if reg.UserID != who.UserID {
		err = model.ErrUnauthorized
		return model.CancelDecision{}, err
	}
	return s.policy.Evaluate(reg, reg.Entity, s.opts.now()), nil
}

// Cancel cancels registrationID for its owner. The same checks CanCancel
// evaluates are re-run inside the store's critical section.
func (s *RegistrationService) Cancel(ctx context.Context, who model.Identity, registrationID, reason string) (reg *model.Registration, err error) {
	ctx, span := startSpan(ctx, s.opts, "RegistrationService.Cancel",
		attribute.String("registration.id", registrationID))
	defer func() {
		s.opts.metrics.ObserveCancellation(outcome(err))
		endSpan(span, err)
	}()

	if err := requireIdentity(who); err != nil {
		return nil, err
	}
	if strings.TrimSpace(registrationID) == "" {
		return nil, model.NewError(model.KindInvalid, "registration id is required")
	}
	reason = strings.TrimSpace(reason)
	if !validReason(reason, maxReasonLength) {
		return nil, model.NewError(model.KindInvalid, "reason cannot exceed %d characters", maxReasonLength)
	}

	now, began := s.opts.now(), time.Now()
	reg, err = s.store.Cancel(ctx, repository.CancelRequest{
		RegistrationID: registrationID,
		UserID:         who.UserID,
		Reason:         reason,
		Now:            now,
		Policy:         s.policy,
	})
	s.opts.metrics.ObserveGuarded("cancel", began)
	if err != nil {
		if model.IsDomain(err) {
			s.opts.log.InfoContext(ctx, "cancellation rejected",
				"registration_id", registrationID, "user_id", who.UserID, "error_kind", model.KindOf(err))
			return nil, err
		}
		s.opts.log.ErrorContext(ctx, "cancellation failed", "registration_id", registrationID, "error", err)
		return nil, fmt.Errorf("cancel registration: %w", err)
	}

	s.opts.log.InfoContext(ctx, "registration cancelled",
		"registration_id", reg.ID, "user_id", who.UserID, "entity", reg.Ref().String(), "reason", reason)
	s.notifier.Notify(ctx, notify.NewMessage(s.opts.newID(), notify.TypeRegistrationCancelled, who, reg, now))
	return reg, nil
}

// ListForUser returns the caller's registrations, newest first, each with its
// entity snapshot.
func (s *RegistrationService) ListForUser(ctx context.Context, who model.Identity) ([]model.Registration, error) {
	if err := requireIdentity(who); err != nil {
		return nil, err
	}
	regs, err := s.store.ListByUser(ctx, who.UserID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// CheckActive reports whether the caller holds an active registration on ref.
// Anonymous callers are simply not registered.
func (s *RegistrationService) CheckActive(ctx context.Context, who model.Identity, ref model.EntityRef) (model.ActiveCheck, error) {
	if !who.Authenticated || who.UserID == "" {
		return model.ActiveCheck{}, nil
	}
	if err := validateRef(ref); err != nil {
		return model.ActiveCheck{}, err
	}
	reg, err := s.store.FindActive(ctx, who.UserID, ref)
	if err != nil {
		return model.ActiveCheck{}, fmt.Errorf("check registration: %w", err)
	}
	if reg == nil {
		return model.ActiveCheck{}, nil
	}
	return model.ActiveCheck{IsRegistered: true, RegistrationID: reg.ID}, nil
}
