package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/selimbenhamida/revend-backend/pkg/config"
	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	"github.com/selimbenhamida/revend-backend/pkg/enums"
	"github.com/selimbenhamida/revend-backend/pkg/outbox"
	"github.com/selimbenhamida/revend-backend/pkg/outbox/payloads"
)

func newRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{OrdersTopic: "revend-order-events"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func encodeEnvelope(t *testing.T, data interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       raw,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

func TestResolveDecodesOrderPaidPayload(t *testing.T) {
	reg := newRegistry(t)
	orderID := uuid.New()

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload: encodeEnvelope(t, payloads.OrderPaidEvent{
			OrderID:     orderID,
			PaymentID:   "pi_1",
			AmountCents: 1999,
		}),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "revend-order-events" {
		t.Fatalf("unexpected topic %s", resolved.Descriptor.Topic)
	}
	paid, ok := resolved.Payload.(*payloads.OrderPaidEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if paid.AmountCents != 1999 {
		t.Fatalf("expected amount 1999, got %d", paid.AmountCents)
	}
}

func TestResolveRejectsUnknownEventType(t *testing.T) {
	reg := newRegistry(t)

	_, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.OutboxEventType("mystery"),
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	})
	var nonRetryable NonRetryableError
	if !errors.As(err, &nonRetryable) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestResolveRejectsAggregateMismatch(t *testing.T) {
	reg := newRegistry(t)

	_, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateNotification,
		AggregateID:   uuid.New(),
	})
	var nonRetryable NonRetryableError
	if !errors.As(err, &nonRetryable) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestResolveRejectsEmptyPayload(t *testing.T) {
	reg := newRegistry(t)

	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version: 1,
		EventID: uuid.NewString(),
		Data:    json.RawMessage("null"),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	_, err = reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventStockShort,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       envelope,
	})
	var nonRetryable NonRetryableError
	if !errors.As(err, &nonRetryable) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}
