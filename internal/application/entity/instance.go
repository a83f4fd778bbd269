package entity

import (
	"time"

	"github.com/gofrs/uuid"
)

// ServiceInstance - запись о живом процессе сервиса. Создаётся при старте,
// heartbeat обновляется фоновой задачей; запись принадлежит только своему
// процессу, остальные её лишь читают для вычисления владения партициями.
type ServiceInstance struct {
	InstanceID uuid.UUID `db:"instance_id"` // UUIDv7, один на жизнь процесса
	Active     bool      `db:"active"`
	Heartbeat  time.Time `db:"heartbeat"`
}
