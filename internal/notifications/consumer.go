package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/registry"
	"github.com/angelmondragon/lackmarkt-backend/pkg/sendgrid"
)

const settlementNotificationConsumer = "settlement-notifications"

// IdempotencyScope namespaces the consumer's processed-event claims.
const IdempotencyScope = "evt:processed:" + settlementNotificationConsumer

type repository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type mailer interface {
	Send(ctx context.Context, mail sendgrid.Mail) error
}

// ConsumerParams configure the notification consumer. Mailer is optional;
// without it only in-app notifications are written.
type ConsumerParams struct {
	Repo         repository
	Subscription *pubsub.Subscriber
	Idempotency  *idempotency.Guard
	Registry     eventResolver
	Mailer       mailer
	Logger       *logger.Logger
}

// Consumer turns settlement events into in-app notifications and emails.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Guard
	registry     eventResolver
	mailer       mailer
	logg         *logger.Logger
}

// NewConsumer builds a settlement notification consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.Subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("event registry required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         params.Repo,
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		registry:     params.Registry,
		mailer:       params.Mailer,
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id":   msg.ID,
		"event_type":   eventType,
		"aggregate_id": msg.Attributes["aggregate_id"],
	})

	aggregateID, err := uuid.Parse(msg.Attributes["aggregate_id"])
	if err != nil {
		c.logg.Error(logCtx, "invalid aggregate id", err)
		return processResult{ack: true}
	}
	resolved, err := c.registry.Resolve(models.OutboxEvent{
		EventType:     enums.OutboxEventType(eventType),
		AggregateType: enums.OutboxAggregateType(msg.Attributes["aggregate_type"]),
		AggregateID:   aggregateID,
		Payload:       msg.Data,
	})
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "reason", err.Error()), "skipping undecodable event")
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(resolved.Envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	messages := compose(resolved.Descriptor.EventType, resolved.Payload)
	if len(messages) == 0 {
		c.logg.Info(logCtx, "event has no recipients")
		return processResult{ack: true}
	}

	ran, err := c.idempotency.Once(ctx, eventID.String(), func(ctx context.Context) error {
		for _, m := range messages {
			if err := c.store(ctx, eventID, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logg.Error(logCtx, "notification write failed", err)
		return processResult{nack: true}
	}
	if !ran {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}
	for _, m := range messages {
		c.email(logCtx, m)
	}
	return processResult{ack: true}
}

func (c *Consumer) store(ctx context.Context, eventID uuid.UUID, m message) error {
	if m.UserID == uuid.Nil {
		return nil
	}
	notification := &models.Notification{
		UserID:    m.UserID,
		EventID:   eventID,
		Type:      m.Type,
		Title:     m.Title,
		Message:   m.Body,
		CreatedAt: time.Now().UTC(),
	}
	if m.Link != "" {
		link := m.Link
		notification.Link = &link
	}
	return c.repo.Create(ctx, notification)
}

// email is best effort. A failed send is logged and never redelivers the event.
func (c *Consumer) email(ctx context.Context, m message) {
	if c.mailer == nil || m.Email == "" {
		return
	}
	mailCtx := c.logg.WithField(ctx, "recipient_id", m.UserID.String())
	err := c.mailer.Send(ctx, sendgrid.Mail{To: m.Email, Subject: m.Title, Text: m.Body})
	switch {
	case err == nil:
		c.logg.Info(mailCtx, "notification email sent")
	case errors.Is(err, sendgrid.ErrRejected):
		c.logg.Warn(c.logg.WithField(mailCtx, "reason", err.Error()), "notification email rejected")
	default:
		c.logg.Error(mailCtx, "notification email failed", err)
	}
}
