package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/registry"
	"github.com/angelmondragon/lackmarkt-backend/pkg/sendgrid"
)

type memoryKeys struct {
	keys map[string]bool
}

func (m *memoryKeys) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryKeys) IdempotencyKey(scope, id string) string { return "lm:idempotency:" + scope + ":" + id }

func (m *memoryKeys) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

type recordingRepo struct {
	created []models.Notification
	err     error
}

func (r *recordingRepo) Create(_ context.Context, n *models.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, *n)
	return nil
}

type recordingMailer struct {
	sent []sendgrid.Mail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, mail sendgrid.Mail) error {
	m.sent = append(m.sent, mail)
	return m.err
}

type consumerFixture struct {
	consumer *Consumer
	repo     *recordingRepo
	mailer   *recordingMailer
	keys     *memoryKeys
}

func newConsumerFixture(t *testing.T) *consumerFixture {
	t.Helper()
	keys := &memoryKeys{keys: map[string]bool{}}
	guard, err := idempotency.New(keys, IdempotencyScope, time.Hour)
	if err != nil {
		t.Fatalf("idempotency.New: %v", err)
	}
	reg, err := registry.NewEventRegistry(config.PubSubConfig{NotificationTopic: "lm-notification-events"})
	if err != nil {
		t.Fatalf("NewEventRegistry: %v", err)
	}
	f := &consumerFixture{repo: &recordingRepo{}, mailer: &recordingMailer{}, keys: keys}
	f.consumer = &Consumer{
		repo:        f.repo,
		idempotency: guard,
		registry:    reg,
		mailer:      f.mailer,
		logg:        logger.New(logger.Options{ServiceName: "notifications-test"}),
	}
	return f
}

func eventMessage(t *testing.T, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, aggregateID uuid.UUID, eventID uuid.UUID, data any) *pubsub.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.Envelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		ID:   "msg-" + eventID.String(),
		Data: envelope,
		Attributes: map[string]string{
			"event_id":       eventID.String(),
			"event_type":     string(eventType),
			"aggregate_type": string(aggregate),
			"aggregate_id":   aggregateID.String(),
		},
	}
}

func paidOrderEvent() payloads.OrderSettlementEvent {
	return payloads.OrderSettlementEvent{
		OrderID:          uuid.New(),
		Title:            "Kitchen fronts",
		BuyerID:          uuid.New(),
		BuyerEmail:       "buyer@example.com",
		SellerID:         uuid.New(),
		SellerEmail:      "seller@example.com",
		GrossAmountCents: 8500,
		PlatformFeeCents: 595,
		NetAmountCents:   7905,
		Currency:         "eur",
	}
}

func TestConsumerNotifiesBothPartiesOnce(t *testing.T) {
	f := newConsumerFixture(t)
	payload := paidOrderEvent()
	msg := eventMessage(t, enums.EventOrderPaid, enums.AggregateOrder, payload.OrderID, uuid.New(), payload)

	if res := f.consumer.process(context.Background(), msg); !res.ack {
		t.Fatalf("expected ack, got %+v", res)
	}
	if len(f.repo.created) != 2 {
		t.Fatalf("expected buyer and seller notifications, got %d", len(f.repo.created))
	}
	if f.repo.created[0].UserID != payload.BuyerID || f.repo.created[1].UserID != payload.SellerID {
		t.Fatalf("unexpected recipients %+v", f.repo.created)
	}
	if !strings.Contains(f.repo.created[0].Message, "85.00 EUR") {
		t.Fatalf("expected gross amount in buyer message, got %q", f.repo.created[0].Message)
	}
	if len(f.mailer.sent) != 2 || f.mailer.sent[1].To != "seller@example.com" {
		t.Fatalf("unexpected mails %+v", f.mailer.sent)
	}

	if res := f.consumer.process(context.Background(), msg); !res.ack {
		t.Fatalf("expected redelivery ack, got %+v", res)
	}
	if len(f.repo.created) != 2 || len(f.mailer.sent) != 2 {
		t.Fatalf("redelivery must not notify again, rows=%d mails=%d", len(f.repo.created), len(f.mailer.sent))
	}
}

func TestConsumerMailFailureStillAcks(t *testing.T) {
	f := newConsumerFixture(t)
	f.mailer.err = errors.New("sendgrid down")
	payload := paidOrderEvent()
	payload.Automatic = true
	msg := eventMessage(t, enums.EventOrderReleased, enums.AggregateOrder, payload.OrderID, uuid.New(), payload)

	if res := f.consumer.process(context.Background(), msg); !res.ack {
		t.Fatalf("mail failure must not nack, got %+v", res)
	}
	if len(f.repo.created) != 1 {
		t.Fatalf("expected seller payout notification, got %d", len(f.repo.created))
	}
	got := f.repo.created[0]
	if got.Type != enums.NotificationTypePayout || !strings.Contains(got.Message, "79.05 EUR") {
		t.Fatalf("unexpected payout notification %+v", got)
	}
	if !strings.Contains(got.Message, "confirmation window passed") {
		t.Fatalf("expected automatic release wording, got %q", got.Message)
	}
}

func TestConsumerNacksAndClearsKeyOnWriteFailure(t *testing.T) {
	f := newConsumerFixture(t)
	f.repo.err = errors.New("db down")
	payload := paidOrderEvent()
	eventID := uuid.New()
	msg := eventMessage(t, enums.EventOrderConfirmed, enums.AggregateOrder, payload.OrderID, eventID, payload)

	if res := f.consumer.process(context.Background(), msg); !res.nack {
		t.Fatalf("expected nack, got %+v", res)
	}
	key := fmt.Sprintf("lm:idempotency:evt:processed:%s:%s", settlementNotificationConsumer, eventID)
	if f.keys.keys[key] {
		t.Fatal("expected idempotency key to be cleared for redelivery")
	}
	if len(f.mailer.sent) != 0 {
		t.Fatal("expected no email before the notification is stored")
	}
}

func TestConsumerAcksUnknownEvents(t *testing.T) {
	f := newConsumerFixture(t)
	msg := eventMessage(t, enums.OutboxEventType("listing_archived"), enums.AggregateOrder, uuid.New(), uuid.New(), map[string]any{"x": 1})

	if res := f.consumer.process(context.Background(), msg); !res.ack {
		t.Fatalf("expected ack, got %+v", res)
	}
	if len(f.repo.created) != 0 {
		t.Fatal("expected unknown event to be skipped")
	}
}

func TestConsumerDisputeCarriesReason(t *testing.T) {
	f := newConsumerFixture(t)
	payload := paidOrderEvent()
	reason := "  wrong colour  "
	payload.DisputeReason = &reason
	msg := eventMessage(t, enums.EventOrderDisputed, enums.AggregateOrder, payload.OrderID, uuid.New(), payload)

	f.consumer.process(context.Background(), msg)
	if len(f.repo.created) != 1 || f.repo.created[0].UserID != payload.SellerID {
		t.Fatalf("expected seller notification, got %+v", f.repo.created)
	}
	if !strings.HasSuffix(f.repo.created[0].Message, ": wrong colour") {
		t.Fatalf("unexpected dispute message %q", f.repo.created[0].Message)
	}
}

func TestFormatMoney(t *testing.T) {
	cases := map[int64]string{0: "0.00 EUR", 5: "0.05 EUR", 8500: "85.00 EUR", -1999: "-19.99 EUR"}
	for cents, want := range cases {
		if got := formatMoney(cents, "eur"); got != want {
			t.Errorf("formatMoney(%d) = %q, want %q", cents, got, want)
		}
	}
}
