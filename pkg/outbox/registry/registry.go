// Package registry knows every event type the outbox may carry: its
// aggregate, the topic it is published to and the payload it decodes into.
// The relay and the consumers both resolve rows through it.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/enums"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox"
	"github.com/angelmondragon/lackmarkt-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// ResolvedEvent is an outbox row whose envelope and payload decoded cleanly.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.Envelope
	Payload    any
}

type EventRegistry struct {
	byType map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never be delivered as stored.
// The relay dead-letters it at once instead of burning retries.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError { return NonRetryableError{Err: err} }

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// IsNonRetryable reports whether err or anything it wraps is a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

func rejectf(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

func payloadOf[T any]() func() any { return func() any { return new(T) } }

// orderEvents share one payload shape; only the status inside differs.
var orderEvents = []enums.OutboxEventType{
	enums.EventOrderPaid,
	enums.EventOrderReported,
	enums.EventOrderConfirmed,
	enums.EventOrderDisputed,
	enums.EventOrderReleased,
	enums.EventOrderRefunded,
	enums.EventOrderCanceled,
}

// NewEventRegistry routes every settlement event to the notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := cfg.NotificationTopic
	if topic == "" {
		return nil, errors.New("notification topic is required")
	}

	descriptors := []EventDescriptor{
		{EventType: enums.EventOfferSubmitted, AggregateType: enums.AggregateOffer, newPayload: payloadOf[payloads.OfferSubmittedEvent]()},
		{EventType: enums.EventOfferSelected, AggregateType: enums.AggregateOffer, newPayload: payloadOf[payloads.OfferSelectedEvent]()},
		{EventType: enums.EventInvoiceIssued, AggregateType: enums.AggregateInvoice, newPayload: payloadOf[payloads.InvoiceIssuedEvent]()},
	}
	for _, t := range orderEvents {
		descriptors = append(descriptors, EventDescriptor{EventType: t, AggregateType: enums.AggregateOrder, newPayload: payloadOf[payloads.OrderSettlementEvent]()})
	}

	reg := &EventRegistry{byType: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, d := range descriptors {
		d.Topic = topic
		reg.byType[d.EventType] = d
	}
	return reg, nil
}

// Types lists the registered event types in a stable order.
func (r *EventRegistry) Types() []enums.OutboxEventType {
	types := make([]enums.OutboxEventType, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Resolve validates the row against its descriptor and decodes the payload.
// Every failure is non-retryable: the stored row will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.byType[event.EventType]
	switch {
	case !ok:
		return nil, rejectf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, rejectf("%s belongs to %s aggregates, row says %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, rejectf("%s row has no aggregate id", event.EventType)
	}

	env, err := outbox.OpenEnvelope(event.Payload)
	if err != nil {
		return nil, rejectf("%s: %w", event.EventType, err)
	}
	payload := desc.newPayload()
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, rejectf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
