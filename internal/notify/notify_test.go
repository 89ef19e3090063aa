package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/mock/gomock"

	"github.com/Shivanand-hulikatti/club-registration/internal/logger"
	"github.com/Shivanand-hulikatti/club-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/notify"
	"github.com/Shivanand-hulikatti/club-registration/internal/notify/mocks"
)

var start = time.Date(2026, 5, 9, 18, 30, 0, 0, time.UTC)

func confirmed(locale string) notify.Message {
	entity := &model.Entity{
		ID: "ev-1", Kind: model.KindEvent, Title: "Author talk",
		ScheduledStart: start, Format: model.FormatOnline, OnlineLink: "https://meet.example.com/talk",
	}
	reg := model.NewRegistration("reg-1", "u1", entity.Ref(), start.Add(-72*time.Hour))
	reg.Entity = entity
	return notify.NewMessage("n-1", notify.TypeRegistrationConfirmed,
		model.Identity{UserID: "u1", Email: "ada@example.com", Name: "Ada", Locale: locale}, reg, start.Add(-72*time.Hour))
}

func TestNewMessageCopiesEntitySnapshot(t *testing.T) {
	msg := confirmed("")
	assert.Equal(t, "reg-1", msg.RegistrationID)
	assert.Equal(t, model.KindEvent, msg.EntityKind)
	assert.Equal(t, "ev-1", msg.EntityID)
	assert.Equal(t, "Author talk", msg.Title)
	assert.Equal(t, "ada@example.com", msg.Email)
	assert.True(t, msg.ScheduledStart.Equal(start))
}

func TestNewMessageTakesCallerLocale(t *testing.T) {
	assert.Equal(t, "fr", confirmed("fr").Locale)
	assert.Empty(t, confirmed("").Locale)
}

// ─── Dispatcher ──────────────────────────────────────────────────────────────

func newDispatcher(t *testing.T, sink notify.Sink, opts notify.Options) (*notify.Dispatcher, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return notify.NewDispatcher(sink, opts, logger.Discard(), m), m
}

func TestDispatcherDelivers(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("mock").AnyTimes()

	msg := confirmed("en")
	sink.EXPECT().Send(gomock.Any(), msg).Return(nil)

	d, m := newDispatcher(t, sink, notify.Options{Workers: 2, QueueSize: 4})
	d.Start()
	d.Notify(context.Background(), msg)
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("mock")))
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("mock").AnyTimes()

	boom := errors.New("smtp unavailable")
	gomock.InOrder(
		sink.EXPECT().Send(gomock.Any(), gomock.Any()).Return(boom),
		sink.EXPECT().Send(gomock.Any(), gomock.Any()).Return(boom),
		sink.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil),
	)

	d, m := newDispatcher(t, sink, notify.Options{Workers: 1, QueueSize: 1, MaxRetries: 3, RetryDelay: time.Millisecond})
	d.Start()
	d.Notify(context.Background(), confirmed("en"))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("mock")))
	assert.Zero(t, testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("mock")))
}

func TestDispatcherAbandonsAfterRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("mock").AnyTimes()
	sink.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("down")).Times(3)

	d, m := newDispatcher(t, sink, notify.Options{Workers: 1, QueueSize: 1, MaxRetries: 2, RetryDelay: time.Millisecond})
	d.Start()
	d.Notify(context.Background(), confirmed("en"))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("mock")))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("mock").AnyTimes()
	// Only the queued message is delivered, once Close starts the workers.
	sink.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	d, m := newDispatcher(t, sink, notify.Options{Workers: 1, QueueSize: 1})
	d.Notify(context.Background(), confirmed("en"))
	d.Notify(context.Background(), confirmed("en"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDrop))

	require.NoError(t, d.Close(context.Background()))

	d.Notify(context.Background(), confirmed("en"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsDrop), "notify after close is dropped")
}

func TestDispatcherRunDrainsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("mock").AnyTimes()

	var mu sync.Mutex
	var delivered []string
	sink.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg notify.Message) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, msg.ID)
		return nil
	}).Times(5)

	d, _ := newDispatcher(t, sink, notify.Options{Workers: 2, QueueSize: 8})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := range 5 {
		msg := confirmed("en")
		msg.ID = string(rune('a' + i))
		d.Notify(context.Background(), msg)
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, delivered)
}

func TestDispatcherRunToleratesDrainTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("mock").AnyTimes()
	sink.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ notify.Message) error {
		<-ctx.Done()
		return ctx.Err()
	}).AnyTimes()

	d, m := newDispatcher(t, sink, notify.Options{
		Workers: 1, QueueSize: 2, MaxRetries: 3, RetryDelay: time.Hour,
		SendTimeout: time.Hour, DrainTimeout: 20 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Notify(context.Background(), confirmed("en"))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "a slow drain is not a shutdown failure")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the drain timeout")
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("mock")) == 1
	}, 5*time.Second, 10*time.Millisecond, "in-flight delivery gives up once the drain is abandoned")
}

func TestDispatcherCloseInterruptsRetryBackoff(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("mock").AnyTimes()
	sink.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("down")).Times(1)

	d, m := newDispatcher(t, sink, notify.Options{Workers: 1, QueueSize: 1, MaxRetries: 5, RetryDelay: time.Hour})
	d.Start()
	d.Notify(context.Background(), confirmed("en"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("mock")) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

// ─── Rendering ───────────────────────────────────────────────────────────────

func TestRenderConfirmation(t *testing.T) {
	r := notify.NewRenderer("en", 24*time.Hour, logger.Discard())

	subject, body, err := r.Render(confirmed("en"))
	require.NoError(t, err)
	assert.Equal(t, "Registration Confirmed: Author talk", subject)
	assert.Contains(t, body, "Hi Ada,")
	assert.Contains(t, body, `the event "Author talk"`)
	assert.Contains(t, body, "Saturday, May 9, 2026")
	assert.Contains(t, body, "- Format: Online")
	assert.Contains(t, body, "- Link: https://meet.example.com/talk")
	assert.Contains(t, body, "up to 24 hours before")
	assert.NotContains(t, body, "Address")
}

func TestRenderLocales(t *testing.T) {
	r := notify.NewRenderer("en", 24*time.Hour, logger.Discard())

	subject, body, err := r.Render(confirmed("fr"))
	require.NoError(t, err)
	assert.Equal(t, "Inscription confirmée : Author talk", subject)
	assert.Contains(t, body, "Bonjour Ada,")
	assert.Contains(t, body, "En ligne")

	subject, _, err = r.Render(confirmed("de"))
	require.NoError(t, err)
	assert.Equal(t, "Registration Confirmed: Author talk", subject, "unknown locale falls back to default")
}

func TestRenderCancellationOffline(t *testing.T) {
	r := notify.NewRenderer("en", 24*time.Hour, logger.Discard())
	msg := confirmed("en")
	msg.Type = notify.TypeRegistrationCancelled
	msg.EntityKind = model.KindClub
	msg.Format = model.FormatOffline
	msg.Name = ""

	subject, body, err := r.Render(msg)
	require.NoError(t, err)
	assert.Equal(t, "Registration Cancelled: Author talk", subject)
	assert.Contains(t, body, "Hi there,")
	assert.Contains(t, body, `the reading club "Author talk" has been cancelled`)
	assert.Contains(t, body, "from the club page")
}

func TestRenderUnknownType(t *testing.T) {
	r := notify.NewRenderer("en", 24*time.Hour, logger.Discard())
	msg := confirmed("en")
	msg.Type = "waitlisted"
	_, _, err := r.Render(msg)
	assert.Error(t, err)
}

// ─── Sinks ───────────────────────────────────────────────────────────────────

func TestEmailSink(t *testing.T) {
	r := notify.NewRenderer("en", 24*time.Hour, logger.Discard())

	t.Run("renders and mails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mailer := mocks.NewMockMailer(ctrl)
		mailer.EXPECT().SendEmail(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e notify.Email) error {
			assert.Equal(t, "ada@example.com", e.To)
			assert.Equal(t, "Ada", e.ToName)
			assert.Equal(t, "Registration Confirmed: Author talk", e.Subject)
			assert.NotEmpty(t, e.Text)
			return nil
		})

		sink := notify.NewEmailSink(r, mailer, logger.Discard())
		require.NoError(t, sink.Send(context.Background(), confirmed("en")))
	})

	t.Run("skips messages without address", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mailer := mocks.NewMockMailer(ctrl)

		msg := confirmed("en")
		msg.Email = ""
		sink := notify.NewEmailSink(r, mailer, logger.Discard())
		assert.NoError(t, sink.Send(context.Background(), msg))
	})

	t.Run("propagates mailer errors for retry", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mailer := mocks.NewMockMailer(ctrl)
		mailer.EXPECT().SendEmail(gomock.Any(), gomock.Any()).Return(errors.New("429"))

		sink := notify.NewEmailSink(r, mailer, logger.Discard())
		assert.Error(t, sink.Send(context.Background(), confirmed("en")))
	})
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, rs...)
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		out = append(out, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return out
}

func TestKafkaSink(t *testing.T) {
	p := &fakeProducer{}
	sink := notify.NewKafkaSink(p, "registration-events")

	require.NoError(t, sink.Send(context.Background(), confirmed("en")))
	require.Len(t, p.records, 1)

	rec := p.records[0]
	assert.Equal(t, "registration-events", rec.Topic)
	assert.Equal(t, []byte("ev-1"), rec.Key)
	assert.Equal(t, []kgo.RecordHeader{{Key: "type", Value: []byte("registration_confirmed")}}, rec.Headers)

	var decoded notify.Message
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, "reg-1", decoded.RegistrationID)

	p.err = errors.New("not leader")
	assert.Error(t, sink.Send(context.Background(), confirmed("en")))
}

func TestLogSink(t *testing.T) {
	sink := notify.NewLogSink(logger.Discard())
	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Send(context.Background(), confirmed("en")))
}
