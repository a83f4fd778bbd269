package entity

import (
	"encoding/json"
	"time"
)

// EventLogRecord - запись журнала доменных событий. Пишется только для
// сообщений с is_event = true и непустым stream_id. Пара (stream_id, version)
// уникальна: коллизия версии при гонке означает, что поток уже продвинул
// конкурирующий писатель, и вставка тихо пропускается.
type EventLogRecord struct {
	Sequence  int64           `db:"sequence"` // глобальный порядок для cross-stream replay
	StreamID  string          `db:"stream_id"`
	Version   int64           `db:"version"` // строго возрастающая внутри потока
	EventType string          `db:"event_type"`
	Payload   json.RawMessage `db:"payload"`
	CreatedAt time.Time       `db:"created_at"`
}
