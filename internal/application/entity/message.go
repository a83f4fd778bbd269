package entity

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status - накопительная битовая маска стадий обработки сообщения.
// Биты только добавляются, никогда не сбрасываются.
type Status int32

const (
	StatusStored Status = 1 << iota
	StatusAppendedToLog
	StatusHandlerInvoked
	StatusProjectionApplied
	StatusPublished
	StatusFailed
)

const (
	// DoneInbound / DoneOutbound - терминальные маски по направлению.
	// AppendedToLog ставится самой claim-транзакцией и в маску не входит.
	DoneInbound  = StatusStored | StatusHandlerInvoked | StatusProjectionApplied
	DoneOutbound = StatusStored | StatusPublished
)

func DoneMask(d Direction) Status {
	if d == DirectionInbound {
		return DoneInbound
	}
	return DoneOutbound
}

func (s Status) Has(bits Status) bool {
	return s&bits == bits
}

func (s Status) Done(d Direction) bool {
	return s.Has(DoneMask(d))
}

// BatchFlags - транзитные флаги результата одного claim-вызова,
// в БД не сохраняются.
type BatchFlags int32

const (
	FlagNewlyStored BatchFlags = 1 << iota
	FlagAlreadyExisted
	FlagOrphaned
)

func (f BatchFlags) Has(flag BatchFlags) bool {
	return f&flag == flag
}

type FailureReason string

const (
	FailureRetryable FailureReason = "retryable"
	FailurePermanent FailureReason = "permanent"
)

type Message struct {
	MessageID       uuid.UUID       `db:"message_id"` // UUIDv7, глобально уникальный
	Direction       Direction       `db:"-"`
	Destination     string          `db:"destination"` // "kafka:topic" | "https://..." | имя хендлера
	MessageType     string          `db:"message_type"`
	Payload         json.RawMessage `db:"payload"`
	Metadata        json.RawMessage `db:"metadata"`
	StreamID        *string         `db:"stream_id"` // NULL = без упорядочивания
	PartitionNumber int             `db:"partition_number"`
	IsEvent         bool            `db:"is_event"`
	Status          Status          `db:"status"`
	Flags           BatchFlags      `db:"-"`
	SequenceOrder   int64           `db:"sequence_order"`
	InstanceID      *uuid.UUID      `db:"instance_id"` // текущий владелец lease
	LeaseExpiry     *time.Time      `db:"lease_expiry"`
	Attempts        int             `db:"attempts"`
	ScheduledFor    *time.Time      `db:"scheduled_for"` // NULL = припарковано (poison)
	Error           string          `db:"error"`
	CreatedAt       time.Time       `db:"created_at"`
}

// StreamKey - ключ для хеширования партиции: stream_id, либо message_id
// для неупорядоченных сообщений.
func (m *Message) StreamKey() string {
	if m.StreamID != nil && *m.StreamID != "" {
		return *m.StreamID
	}
	return m.MessageID.String()
}

type Completion struct {
	Direction Direction
	MessageID uuid.UUID
	Bits      Status
}

type Failure struct {
	Direction Direction
	MessageID uuid.UUID
	Bits      Status
	Error     string
	Reason    FailureReason
}

// ClaimInput - полный набор операций одного атомарного вызова ClaimWorkBatch.
type ClaimInput struct {
	InstanceID    uuid.UUID
	NewInbound    []*Message
	NewOutbound   []*Message
	Completions   []Completion
	Failures      []Failure
	Lease         time.Duration
	LiveInstances []uuid.UUID
}

type ClaimedBatch struct {
	Inbound  []*Message
	Outbound []*Message
}

func (b *ClaimedBatch) Empty() bool {
	return b == nil || (len(b.Inbound) == 0 && len(b.Outbound) == 0)
}

// FindInbound возвращает claimed inbound сообщение по id, либо nil.
func (b *ClaimedBatch) FindInbound(id uuid.UUID) *Message {
	if b == nil {
		return nil
	}
	for _, m := range b.Inbound {
		if m.MessageID == id {
			return m
		}
	}
	return nil
}
