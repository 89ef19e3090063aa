package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/asaskevich/govalidator"
	"github.com/redis/go-redis/v9"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ─── Log ─────────────────────────────────────────────────────────────────────

// LogSink writes notifications to the structured log. It is the development
// default.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, msg Message) error {
	s.log.InfoContext(ctx, "notification",
		"notification_id", msg.ID,
		"type", msg.Type,
		"user_id", msg.UserID,
		"email", msg.Email,
		"entity_kind", msg.EntityKind,
		"entity_id", msg.EntityID,
		"title", msg.Title,
		"scheduled_start", msg.ScheduledStart,
	)
	return nil
}

// ─── Email ───────────────────────────────────────────────────────────────────

// ErrNoRecipient means the caller identity carried no usable email address.
var ErrNoRecipient = errors.New("notification has no recipient email")

// EmailSink renders a Message with a Renderer and hands it to a Mailer.
type EmailSink struct {
	renderer *Renderer
	mailer   Mailer
	log      *slog.Logger
}

func NewEmailSink(renderer *Renderer, mailer Mailer, log *slog.Logger) *EmailSink {
	return &EmailSink{renderer: renderer, mailer: mailer, log: log}
}

func (s *EmailSink) Name() string { return "email" }

// Send skips messages without an address instead of failing them, so they
// are not retried.
func (s *EmailSink) Send(ctx context.Context, msg Message) error {
	if !isValidEmail(msg.Email) {
		s.log.WarnContext(ctx, "skipping email notification",
			"notification_id", msg.ID, "email", msg.Email, "error", ErrNoRecipient)
		return nil
	}
	subject, body, err := s.renderer.Render(msg)
	if err != nil {
		return err
	}
	return s.mailer.SendEmail(ctx, Email{
		To:      msg.Email,
		ToName:  msg.Name,
		Subject: subject,
		Text:    body,
	})
}

func isValidEmail(email string) bool {
	return govalidator.StringLength(email, "3", "254") && govalidator.IsEmail(email)
}

// SendGridMailer sends email through the SendGrid v3 API.
type SendGridMailer struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

func NewSendGridMailer(apiKey, fromEmail, fromName string) *SendGridMailer {
	return &SendGridMailer{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (m *SendGridMailer) SendEmail(ctx context.Context, e Email) error {
	from := mail.NewEmail(m.fromName, m.fromEmail)
	to := mail.NewEmail(e.ToName, e.To)
	message := mail.NewSingleEmail(from, e.Subject, to, e.Text, e.HTML)

	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}

// LogMailer logs rendered emails instead of sending them.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer { return &LogMailer{log: log} }

func (m *LogMailer) SendEmail(ctx context.Context, e Email) error {
	m.log.InfoContext(ctx, "email", "to", e.To, "subject", e.Subject, "body", e.Text)
	return nil
}

// ─── Redis ───────────────────────────────────────────────────────────────────

// RedisSink pushes JSON-encoded messages onto a list for an external mail
// worker to consume with BRPOP.
type RedisSink struct {
	client redis.Cmdable
	list   string
}

func NewRedisSink(client redis.Cmdable, list string) *RedisSink {
	return &RedisSink{client: client, list: list}
}

// NewRedisClient parses url and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := s.client.LPush(ctx, s.list, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", s.list, err)
	}
	return nil
}

// ─── Kafka ───────────────────────────────────────────────────────────────────

// Producer is the subset of *kgo.Client the kafka sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaSink publishes lifecycle events keyed by entity id, so all events for
// one club or event land on the same partition in order.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// NewKafkaClient builds a franz-go client for brokers.
func NewKafkaClient(brokers []string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(msg.EntityID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(msg.Type)},
		},
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", s.topic, err)
	}
	return nil
}
