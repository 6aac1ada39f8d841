package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/registry"
)

func TestDrainRetriesOneRowAndPublishesTheNext(t *testing.T) {
	first, second := orderEvent(t, 0), orderEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []error{errors.New("transient"), nil}}
	svc := newTestService(t, repo, pub, &fakeRegistry{topic: "settlement-topic"}, nil)

	summary, err := svc.drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, drainSummary{published: 1, retried: 1}, summary)
	require.Equal(t, []uuid.UUID{first.ID}, repo.failed)
	require.Equal(t, []uuid.UUID{second.ID}, repo.published)
	require.Empty(t, repo.deadLetters)
}

func TestDrainRoutesByDescriptorTopic(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventInvoiceIssued,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Payload:       envelopePayload(t),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []error{nil}}
	svc := newTestService(t, repo, pub, &fakeRegistry{topic: "notification-topic"}, nil)
	var topics []string
	svc.publisherFactory = func(topic string) publisher {
		topics = append(topics, topic)
		return pub
	}

	_, err := svc.drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"notification-topic"}, topics)
	require.Len(t, pub.sent, 1)

	attrs := pub.sent[0].Attributes
	require.Equal(t, string(enums.EventInvoiceIssued), attrs["event_type"])
	require.Equal(t, event.AggregateID.String(), attrs["aggregate_id"])
	require.Equal(t, event.ID.String(), attrs["event_id"])
	require.NotContains(t, attrs, "order_id")
	require.Equal(t, []uuid.UUID{event.ID}, repo.published)
}

func TestDrainDeadLetters(t *testing.T) {
	cases := []struct {
		name     string
		attempts int
		registry *fakeRegistry
		publish  []error
		reason   enums.DeadLetterReason
	}{
		{
			name:     "undecodable row",
			registry: &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))},
			reason:   enums.DeadLetterRejected,
		},
		{
			name:     "publisher rejects",
			registry: &fakeRegistry{topic: "settlement-topic"},
			publish:  []error{registry.NewNonRetryableError(errors.New("topic gone"))},
			reason:   enums.DeadLetterRejected,
		},
		{
			name:     "last attempt fails",
			attempts: 1,
			registry: &fakeRegistry{topic: "settlement-topic"},
			publish:  []error{errors.New("transient")},
			reason:   enums.DeadLetterExhausted,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := orderEvent(t, tc.attempts)
			repo := &fakeRepo{events: []models.OutboxEvent{event}}
			svc := newTestService(t, repo, &fakePublisher{results: tc.publish}, tc.registry, &config.OutboxConfig{
				BatchSize:   1,
				MaxAttempts: 2,
			})

			summary, err := svc.drain(context.Background())
			require.NoError(t, err)
			require.Equal(t, drainSummary{deadLettered: 1}, summary)
			require.Len(t, repo.deadLetters, 1)
			require.Equal(t, event.ID, repo.deadLetters[0].event.ID)
			require.Equal(t, tc.reason, repo.deadLetters[0].reason)
			require.Equal(t, 2, repo.deadLetters[0].terminal)
			require.Empty(t, repo.published)
		})
	}
}

func TestDrainEmptyBatch(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, nil)
	summary, err := svc.drain(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.total())
}

func TestMessageAttributesTagOrderEvents(t *testing.T) {
	orderID := uuid.New()
	occurred := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	attrs := messageAttributes(models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderReleased,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
	}, &registry.ResolvedEvent{Envelope: outbox.Envelope{EventID: "evt-1", OccurredAt: occurred}})

	require.Equal(t, orderID.String(), attrs["order_id"])
	require.Equal(t, "evt-1", attrs["event_id"])
	require.Equal(t, "2026-03-01T10:00:00Z", attrs["occurred_at"])
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{Config: &config.Config{}})
	require.Error(t, err)
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, reg registryResolver, override *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}
	if override != nil {
		outboxCfg = *override
	}
	svc, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               fakeDB{},
		PubSub:           fakePubSubClient{},
		Repository:       repo,
		Registry:         reg,
		PublisherFactory: func(string) publisher { return pub },
	})
	require.NoError(t, err)
	return svc
}

func orderEvent(t *testing.T, attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       envelopePayload(t),
		AttemptCount:  attempts,
	}
}

func envelopePayload(t *testing.T) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(outbox.Envelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return payload
}

type deadLetterCall struct {
	event    models.OutboxEvent
	reason   enums.DeadLetterReason
	terminal int
}

type fakeRepo struct {
	events      []models.OutboxEvent
	published   []uuid.UUID
	failed      []uuid.UUID
	deadLetters []deadLetterCall
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) DeadLetterTx(_ *gorm.DB, event models.OutboxEvent, reason enums.DeadLetterReason, _ error, terminal int) error {
	f.deadLetters = append(f.deadLetters, deadLetterCall{event: event, reason: reason, terminal: terminal})
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }

func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

// fakePublisher answers each Publish with the next queued error.
type fakePublisher struct {
	results []error
	sent    []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	var err error
	if len(f.results) > 0 {
		err, f.results = f.results[0], f.results[1:]
	}
	return fakePublishResult{err: err}
}

type fakePublishResult struct{ err error }

func (f fakePublishResult) Get(context.Context) (string, error) { return "server-id", f.err }

// fakeRegistry resolves every row onto topic, echoing the row id as event id.
type fakeRegistry struct {
	topic string
	err   error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: f.topic, EventType: event.EventType, AggregateType: event.AggregateType},
		Envelope:   outbox.Envelope{EventID: event.ID.String(), OccurredAt: time.Now()},
		Payload:    &payloads.OrderSettlementEvent{},
	}, nil
}
