package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateJob     OutboxAggregateType = "job"
	AggregateOffer   OutboxAggregateType = "offer"
	AggregateOrder   OutboxAggregateType = "order"
	AggregateInvoice OutboxAggregateType = "invoice"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateJob,
	AggregateOffer,
	AggregateOrder,
	AggregateInvoice,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOfferSubmitted OutboxEventType = "offer_submitted"
	EventOfferSelected  OutboxEventType = "offer_selected"
	EventOrderPaid      OutboxEventType = "order_paid"
	EventOrderReported  OutboxEventType = "order_reported"
	EventOrderConfirmed OutboxEventType = "order_confirmed"
	EventOrderDisputed  OutboxEventType = "order_disputed"
	EventOrderReleased  OutboxEventType = "order_released"
	EventOrderRefunded  OutboxEventType = "order_refunded"
	EventOrderCanceled  OutboxEventType = "order_canceled"
	EventInvoiceIssued  OutboxEventType = "invoice_issued"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOfferSubmitted,
	EventOfferSelected,
	EventOrderPaid,
	EventOrderReported,
	EventOrderConfirmed,
	EventOrderDisputed,
	EventOrderReleased,
	EventOrderRefunded,
	EventOrderCanceled,
	EventInvoiceIssued,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// DeadLetterReason records why the publisher gave up on a row.
type DeadLetterReason string

const (
	// DeadLetterExhausted means every publish attempt failed transiently.
	DeadLetterExhausted DeadLetterReason = "max_attempts"
	// DeadLetterRejected means the row can never be published as stored.
	DeadLetterRejected DeadLetterReason = "non_retryable"
)

func (r DeadLetterReason) IsValid() bool {
	return r == DeadLetterExhausted || r == DeadLetterRejected
}
