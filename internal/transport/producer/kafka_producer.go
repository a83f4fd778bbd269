package producer

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"coordinator/internal/application/common"
	"coordinator/internal/application/entity"
	"coordinator/internal/transport"
	"coordinator/pkg/broker"
	"coordinator/pkg/metrics"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// DestinationPrefix - схема destination, обслуживаемая этим транспортом:
// "kafka:<topic>".
const DestinationPrefix = "kafka:"

// KafkaTransport публикует claimed outbound сообщения в Kafka и
// классифицирует исход в Success / Retryable / Permanent.
type KafkaTransport struct {
	broker      *broker.KafkaBroker
	logger      *zap.SugaredLogger
	maxAttempts int
	m           *metrics.Metrics
}

func NewKafkaTransport(broker *broker.KafkaBroker, logger *zap.SugaredLogger, maxAttempts int, m *metrics.Metrics) *KafkaTransport {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &KafkaTransport{
		broker:      broker,
		logger:      logger,
		maxAttempts: maxAttempts,
		m:           m,
	}
}

func (p *KafkaTransport) IsReady(ctx context.Context) bool {
	if p.broker == nil {
		return false
	}
	return p.broker.HealthCheck(ctx) == nil
}

func (p *KafkaTransport) Publish(ctx context.Context, msg *entity.Message) transport.Result {
	topic := strings.TrimPrefix(msg.Destination, DestinationPrefix)
	if topic == "" {
		topic = p.broker.ProducerTopic
	}

	// ключ партиционирования Kafka = ключ потока: сообщения одного потока
	// попадают в одну партицию топика и сохраняют порядок у потребителя
	key := msg.StreamKey()

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return transport.Result{Outcome: transport.RetryableFailure, Err: err}
		}

		pm := &sarama.ProducerMessage{
			Topic:     topic,
			Key:       sarama.StringEncoder(key),
			Value:     sarama.ByteEncoder(msg.Payload),
			Timestamp: time.Now(),
			Headers: []sarama.RecordHeader{
				{Key: []byte("message_id"), Value: []byte(msg.MessageID.String())},
				{Key: []byte("message_type"), Value: []byte(msg.MessageType)},
				{Key: []byte("is_event"), Value: []byte(strconv.FormatBool(msg.IsEvent))},
			},
		}

		t0 := time.Now()
		part, off, err := p.broker.SyncProducer.SendMessage(pm)
		rt := time.Since(t0)

		if p.m != nil {
			res := "ok"
			if err != nil {
				res = "error"
			}
			p.m.Kafka.ProducerAttemptLatencySeconds.WithLabelValues(topic, res).Observe(rt.Seconds())
		}

		if err == nil {
			if p.m != nil {
				p.m.Kafka.ProducerOperationsTotal.WithLabelValues(topic, "success").Inc()
				p.m.Kafka.ProducerSuccessAttempts.WithLabelValues(topic).Observe(float64(attempt))
			}
			p.logger.Infof("[message %s] sent topic=%s partition=%d offset=%d attempt=%d rt=%s",
				msg.MessageID, topic, part, off, attempt, rt)
			return transport.Result{Outcome: transport.Success}
		}

		lastErr = err

		if kerr, ok := err.(sarama.KError); ok {
			if isPermanent(kerr) {
				if p.m != nil {
					p.m.Kafka.ProducerOperationsTotal.WithLabelValues(topic, "permanent").Inc()
				}
				p.logger.Errorf("[message %s] permanent kafka error attempt=%d rt=%s kafka_error=%s code=%d",
					msg.MessageID, attempt, rt, kerr.Error(), int16(kerr))
				return transport.Result{Outcome: transport.PermanentFailure, Err: kerr}
			}
			p.logger.Warnf("[message %s] retryable kafka error attempt=%d rt=%s kafka_error=%s code=%d",
				msg.MessageID, attempt, rt, kerr.Error(), int16(kerr))
		} else {
			p.logger.Warnf("[message %s] retryable non-kafka error attempt=%d rt=%s err=%v",
				msg.MessageID, attempt, rt, err)
		}

		if attempt == p.maxAttempts {
			break
		}

		if err := common.SleepCtx(ctx, common.NextBackoffWithJitter(attempt-1)); err != nil {
			if p.m != nil {
				p.m.Kafka.ProducerOperationsTotal.WithLabelValues(topic, "canceled").Inc()
			}
			return transport.Result{Outcome: transport.RetryableFailure, Err: err}
		}
	}

	if p.m != nil {
		p.m.Kafka.ProducerOperationsTotal.WithLabelValues(topic, "failed").Inc()
	}
	p.logger.Errorf("[message %s] produce failed after %d attempts: %v", msg.MessageID, p.maxAttempts, lastErr)
	return transport.Result{Outcome: transport.RetryableFailure, Err: lastErr}
}

func isPermanent(k sarama.KError) bool {
	switch k {
	case sarama.ErrTopicAuthorizationFailed,
		sarama.ErrClusterAuthorizationFailed,
		sarama.ErrInvalidRequest,
		sarama.ErrInvalidMessage,
		sarama.ErrMessageSizeTooLarge,
		sarama.ErrSASLAuthenticationFailed:
		return true
	default:
		return false
	}
}

// ClassifyRetry - метка причины повтора для логов и метрик.
func ClassifyRetry(err error) string {
	if k, ok := err.(sarama.KError); ok {
		switch k {
		case sarama.ErrLeaderNotAvailable:
			return "leader_not_available"
		case sarama.ErrRequestTimedOut:
			return "broker_timeout"
		case sarama.ErrNotEnoughReplicas, sarama.ErrNotEnoughReplicasAfterAppend:
			return "not_enough_replicas"
		default:
			return k.Error()
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return "net_timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "client_deadline"
	}
	return "other"
}
