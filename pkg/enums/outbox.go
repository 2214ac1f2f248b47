package enums

import "fmt"

// OutboxAggregateType identifies the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateNotification OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateNotification,
}

// IsValid reports whether the value matches the canonical aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType identifies the domain event carried by an outbox row.
type OutboxEventType string

const (
	EventOrderCreated OutboxEventType = "order_created"
	EventOrderPaid    OutboxEventType = "order_paid"
	EventStockShort   OutboxEventType = "stock_commit_short"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventStockShort,
}

// IsValid reports whether the value matches the canonical event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// OutboxDLQErrorReason records why an outbox row was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
}

// IsValid reports whether the value matches a known dead-letter reason.
func (r OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validOutboxDLQErrorReasons {
		if candidate == r {
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
