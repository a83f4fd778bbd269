package listener

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

func newTestConsumer() *KafkaBrokerConsumer {
	return NewKafkaBrokerConsumer(nil, zap.NewNop().Sugar(), nil)
}

func record(headers map[string]string, key, value []byte) *sarama.ConsumerMessage {
	msg := &sarama.ConsumerMessage{
		Topic:     "orders",
		Partition: 3,
		Offset:    42,
		Key:       key,
		Value:     value,
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, &sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}
	return msg
}

func TestToEntityReadsHeaders(t *testing.T) {
	k := newTestConsumer()
	id := "0190a6e4-0000-7000-8000-000000000001"

	m, err := k.toEntity(record(map[string]string{
		headerMessageID:   id,
		headerMessageType: "order.placed",
		headerIsEvent:     "true",
	}, []byte("order-7"), []byte(`{"total":10}`)))
	if err != nil {
		t.Fatalf("toEntity: %v", err)
	}

	if m.MessageID.String() != id {
		t.Fatalf("message id = %s", m.MessageID)
	}
	if m.MessageType != "order.placed" {
		t.Fatalf("message type = %q", m.MessageType)
	}
	if !m.IsEvent {
		t.Fatal("is_event header must mark the message as event")
	}
	if m.StreamID == nil || *m.StreamID != "order-7" {
		t.Fatalf("stream id = %v", m.StreamID)
	}
}

// Запись без пометки события - команда: в журнал потока она попадать не должна.
func TestToEntityDefaultsToNonEvent(t *testing.T) {
	k := newTestConsumer()

	m, err := k.toEntity(record(map[string]string{
		headerMessageType: "order.cancel",
	}, nil, []byte(`{}`)))
	if err != nil {
		t.Fatalf("toEntity: %v", err)
	}
	if m.IsEvent {
		t.Fatal("record without is_event marker must not become an event")
	}
}

func TestToEntityEnvelopeFallback(t *testing.T) {
	k := newTestConsumer()

	m, err := k.toEntity(record(nil, nil, []byte(`{"type":"order.placed","is_event":true}`)))
	if err != nil {
		t.Fatalf("toEntity: %v", err)
	}
	if m.MessageType != "order.placed" {
		t.Fatalf("message type = %q", m.MessageType)
	}
	if !m.IsEvent {
		t.Fatal("envelope is_event must mark the message as event")
	}
}

// Без заголовка message_id id детерминирован координатами записи: повторная
// доставка того же offset остаётся дубликатом для идемпотентной вставки.
func TestToEntityHeaderlessIDIsDeterministic(t *testing.T) {
	k := newTestConsumer()

	first, err := k.toEntity(record(nil, nil, []byte(`{}`)))
	if err != nil {
		t.Fatalf("toEntity: %v", err)
	}
	second, err := k.toEntity(record(nil, nil, []byte(`{}`)))
	if err != nil {
		t.Fatalf("toEntity: %v", err)
	}
	if first.MessageID != second.MessageID {
		t.Fatalf("redelivery produced a new id: %s vs %s", first.MessageID, second.MessageID)
	}
	if first.MessageID == uuid.Nil {
		t.Fatal("derived id must not be nil")
	}
}

func TestToEntityRejectsBadHeaderID(t *testing.T) {
	k := newTestConsumer()

	if _, err := k.toEntity(record(map[string]string{
		headerMessageID: "not-a-uuid",
	}, nil, []byte(`{}`))); err == nil {
		t.Fatal("malformed message_id header must be rejected")
	}
}
