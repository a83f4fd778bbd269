package listener

import (
	"encoding/json"
	"fmt"
	"time"

	"coordinator/internal/application/entity"
	"coordinator/internal/application/service"
	"coordinator/pkg/metrics"

	"github.com/IBM/sarama"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

const (
	headerMessageID   = "message_id"
	headerMessageType = "message_type"
	headerIsEvent     = "is_event"
)

type KafkaBrokerConsumer struct {
	worker *service.ConsumerWorker
	logger *zap.SugaredLogger
	m      *metrics.Metrics
}

func NewKafkaBrokerConsumer(worker *service.ConsumerWorker, logger *zap.SugaredLogger, m *metrics.Metrics) *KafkaBrokerConsumer {
	return &KafkaBrokerConsumer{
		worker: worker,
		logger: logger,
		m:      m,
	}
}

func (k *KafkaBrokerConsumer) Setup(session sarama.ConsumerGroupSession) error {
	k.logger.Info("Kafka setup success")
	if k.m != nil {
		k.m.Kafka.ConsumerRebalancesTotal.WithLabelValues("setup").Inc()
	}
	return nil
}

func (k *KafkaBrokerConsumer) Cleanup(session sarama.ConsumerGroupSession) error {
	k.logger.Info("Kafka cleanup success")
	if k.m != nil {
		k.m.Kafka.ConsumerRebalancesTotal.WithLabelValues("cleanup").Inc()
	}
	return nil
}

func (k *KafkaBrokerConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	topic := claim.Topic()

	for msg := range claim.Messages() {
		if k.m != nil {
			k.m.Kafka.ConsumerInFlight.WithLabelValues(topic).Inc()
		}
		start := time.Now()
		k.logger.Debugf("Message topic:%q partition:%d offset:%d", msg.Topic, msg.Partition, msg.Offset)

		entityMsg, err := k.toEntity(msg)
		if err != nil {
			// Нечитаемая доставка: подтверждаем offset, иначе партиция встанет
			k.logger.Errorf("malformed delivery topic:%q offset:%d: %v", msg.Topic, msg.Offset, err)
		} else if err := k.worker.HandleDelivery(session.Context(), entityMsg); err != nil {
			// Транзитный сбой claim-вызова: offset не подтверждаем,
			// брокер перепредъявит доставку после рестарта сессии
			k.logger.Errorw("handle delivery failed", "message_id", entityMsg.MessageID, "err", err)
			if k.m != nil {
				k.m.Kafka.ConsumerInFlight.WithLabelValues(topic).Dec()
			}
			return err
		}

		if k.m != nil {
			k.m.Kafka.ConsumerMessagesTotal.WithLabelValues(topic).Inc()
			k.m.Kafka.ConsumerProcessDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
			k.m.Kafka.ConsumerInFlight.WithLabelValues(topic).Dec()
		}

		session.MarkMessage(msg, "")
	}

	return nil
}

// toEntity собирает inbound сообщение из Kafka записи. message_id,
// message_type и is_event приходят в заголовках, ключ записи - stream id.
// Запись без пометки события в журнал потока не попадает.
func (k *KafkaBrokerConsumer) toEntity(msg *sarama.ConsumerMessage) (*entity.Message, error) {
	var (
		idRaw   string
		msgType string
		isEvent bool
	)
	for _, h := range msg.Headers {
		switch string(h.Key) {
		case headerMessageID:
			idRaw = string(h.Value)
		case headerMessageType:
			msgType = string(h.Value)
		case headerIsEvent:
			isEvent = string(h.Value) == "true"
		}
	}

	var id uuid.UUID
	if idRaw != "" {
		parsed, err := uuid.FromString(idRaw)
		if err != nil {
			return nil, err
		}
		id = parsed
	} else {
		// Производитель без заголовков: детерминированный id из координат
		// записи, чтобы повторная доставка оставалась дубликатом
		coord := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
		id = uuid.NewV5(uuid.NamespaceOID, coord)
	}

	if msgType == "" {
		var envelope struct {
			Type    string `json:"type"`
			IsEvent bool   `json:"is_event"`
		}
		_ = json.Unmarshal(msg.Value, &envelope)
		msgType = envelope.Type
		isEvent = isEvent || envelope.IsEvent
	}

	var streamID *string
	if len(msg.Key) > 0 {
		s := string(msg.Key)
		streamID = &s
	}

	return &entity.Message{
		MessageID:   id,
		Direction:   entity.DirectionInbound,
		MessageType: msgType,
		Payload:     msg.Value,
		StreamID:    streamID,
		IsEvent:     isEvent,
	}, nil
}
