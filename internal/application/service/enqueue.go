package service

import (
	"encoding/json"
	"fmt"

	"coordinator/internal/application/entity"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// Enqueuer - API для бизнес-кода: постановка исходящих команд и событий
// через активную стратегию. Какой стратегией уйдёт сообщение - решается
// на месте композиции.
type Enqueuer struct {
	strategy Strategy
	logger   *zap.SugaredLogger
}

func NewEnqueuer(s Strategy, logger *zap.SugaredLogger) *Enqueuer {
	return &Enqueuer{strategy: s, logger: logger}
}

// EnqueueCommand ставит исходящую команду. streamID опционален: nil -
// сообщение без упорядочивания.
func (e *Enqueuer) EnqueueCommand(destination, messageType string, payload, metadata json.RawMessage, streamID *string) (uuid.UUID, error) {
	return e.enqueue(destination, messageType, payload, metadata, streamID, false)
}

// EnqueueEvent ставит доменное событие: непустой streamID обязателен,
// claim-транзакция допишет его в event log.
func (e *Enqueuer) EnqueueEvent(destination, messageType string, payload, metadata json.RawMessage, streamID string) (uuid.UUID, error) {
	if streamID == "" {
		return uuid.Nil, fmt.Errorf("enqueue event %s: empty stream id", messageType)
	}
	return e.enqueue(destination, messageType, payload, metadata, &streamID, true)
}

func (e *Enqueuer) enqueue(destination, messageType string, payload, metadata json.RawMessage, streamID *string, isEvent bool) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate message id: %w", err)
	}

	e.strategy.QueueMessage(&entity.Message{
		MessageID:   id,
		Direction:   entity.DirectionOutbound,
		Destination: destination,
		MessageType: messageType,
		Payload:     payload,
		Metadata:    metadata,
		StreamID:    streamID,
		IsEvent:     isEvent,
	})
	e.logger.Debugf("[message %s] enqueued: type=%s destination=%s event=%v", id, messageType, destination, isEvent)
	return id, nil
}
