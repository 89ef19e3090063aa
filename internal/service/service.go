// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shivanand-hulikatti/club-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/club-registration/internal/model"
)

const tracerName = "github.com/Shivanand-hulikatti/club-registration/internal/service"

// Option configures a service.
type Option func(*options)

type options struct {
	now     func() time.Time
	newID   func() string
	log     *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func defaultOptions() options {
	return options{
		now:    time.Now,
		newID:  uuid.NewString,
		log:    slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides uuid.NewString for registration, entity and
// notification ids.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// ParseRef turns a request naming exactly one of club_id and event_id into an
// entity reference.
func ParseRef(req model.RegisterRequest) (model.EntityRef, error) {
	club := strings.TrimSpace(req.ClubID)
	event := strings.TrimSpace(req.EventID)
	switch {
	case club != "" && event != "":
		return model.EntityRef{}, model.NewError(model.KindInvalid, "provide either club_id or event_id, not both")
	case club != "":
		return model.ClubRef(club), nil
	case event != "":
		return model.EventRef(event), nil
	default:
		return model.EntityRef{}, model.NewError(model.KindInvalid, "club_id or event_id is required")
	}
}

func validateRef(ref model.EntityRef) error {
	if !ref.Kind.Valid() {
		return model.NewError(model.KindInvalid, "unknown entity kind %q", ref.Kind)
	}
	if strings.TrimSpace(ref.ID) == "" {
		return model.NewError(model.KindInvalid, "%s id is required", ref.Kind)
	}
	return nil
}

func requireIdentity(who model.Identity) error {
	if !who.Authenticated || who.UserID == "" {
		return model.ErrUnauthenticated
	}
	return nil
}

// outcome labels a metric with "ok" or the error kind.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(model.KindOf(err))
}

// endSpan records err on span. Expected domain outcomes are attributes, not
// span errors.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("error_kind", string(model.KindOf(err))))
		if !model.IsDomain(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func startSpan(ctx context.Context, o options, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
