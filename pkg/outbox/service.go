package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	"github.com/selimbenhamida/revend-backend/pkg/enums"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

// DomainEvent describes one event to record inside the caller's transaction.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          interface{}
	Version       int
	OccurredAt    time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit records the event in the outbox table using the caller's transaction, so
// the event is persisted if and only if the surrounding write commits.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	envelope, payloadJSON, err := sealEnvelope(event)
	if err != nil {
		return err
	}
	row := models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payloadJSON,
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		fields := map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_id":   event.AggregateID.String(),
			"aggregate_type": event.AggregateType,
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event queued")
	}
	return nil
}

func sealEnvelope(event DomainEvent) (PayloadEnvelope, json.RawMessage, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, nil, err
	}

	version := event.Version
	if version == 0 {
		version = 1
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	envelope := PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt,
		Actor:      event.Actor,
		Data:       data,
	}
	payloadJSON, err := json.Marshal(envelope)
	if err != nil {
		return PayloadEnvelope{}, nil, err
	}
	return envelope, json.RawMessage(payloadJSON), nil
}
